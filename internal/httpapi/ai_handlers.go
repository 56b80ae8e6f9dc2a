package httpapi

import (
	"net/http"
	"strings"
	"time"
)

type collectionMessageRequest struct {
	LoanID   string `json:"loan_id"`
	DueLabel string `json:"due_label"`
}

// handleCollectionMessage drafts a payment reminder for the client owning the
// loan. Always answers 200: the generator degrades to a template internally.
func (a *API) handleCollectionMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	var req collectionMessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.LoanID) == "" {
		writeError(w, r, http.StatusBadRequest, "loan_id is required")
		return
	}

	loan, err := a.book.FindLoan(req.LoanID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	client, err := a.book.FindClient(loan.ClientID)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	due := strings.TrimSpace(req.DueLabel)
	if due == "" {
		due = "próximamente"
	}

	msg := a.gen.CollectionMessage(r.Context(), client.Name, loan.TotalOwed, due)
	writeJSON(w, http.StatusOK, map[string]any{
		"message":      msg,
		"generated_at": time.Now().UTC(),
	})
}

func (a *API) handleInsights(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	stats := a.book.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"insights":     a.gen.PortfolioInsights(r.Context(), stats),
		"stats":        stats,
		"generated_at": time.Now().UTC(),
	})
}
