// Command smoke runs an end-to-end lending cycle against an in-memory book
// and verifies the fund pool balances out. Useful as a quick sanity check in
// CI and after refactors.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"pintrolley.app/internal/ledger"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	book := ledger.NewBook(nil)

	if _, err := book.AddFunds(ctx, 1_000_000, "capital inicial"); err != nil {
		log.Fatalf("add funds: %v", err)
	}

	client, err := book.RegisterClient(ctx, ledger.Client{
		NationalID: "SMOKE-1",
		Username:   "smoke",
		Name:       "Cliente de Prueba",
	})
	if err != nil {
		log.Fatalf("register client: %v", err)
	}

	loan, err := book.DisburseLoan(ctx, ledger.Loan{ClientID: client.ID, Amount: 400_000})
	if err != nil {
		log.Fatalf("disburse: %v", err)
	}
	if book.AvailableFunds() != 600_000 {
		log.Fatalf("pool after disbursement: %d", book.AvailableFunds())
	}

	for _, amt := range []int64{150_000, 250_000} {
		if _, err := book.RecordPayment(ctx, ledger.Payment{LoanID: loan.ID, Amount: amt}); err != nil {
			log.Fatalf("payment %d: %v", amt, err)
		}
	}

	settled, err := book.FindLoan(loan.ID)
	if err != nil {
		log.Fatalf("find loan: %v", err)
	}
	if settled.Status != ledger.LoanPaid || settled.TotalOwed != 0 {
		log.Fatalf("loan not settled: %+v", settled)
	}
	if book.AvailableFunds() != 1_000_000 {
		log.Fatalf("pool conservation failed: %d", book.AvailableFunds())
	}

	if err := book.DeleteClient(ctx, client.ID, true); err != nil {
		log.Fatalf("delete client: %v", err)
	}
	if len(book.Loans()) != 0 || len(book.Payments()) != 0 {
		log.Fatal("cascade delete left orphans")
	}

	fmt.Println("smoke ok: disburse -> collect -> settle -> cascade delete")
}
