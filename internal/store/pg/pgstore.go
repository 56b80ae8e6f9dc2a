// Package pg implements the ledger persistence gateway on PostgreSQL.
package pg

import (
	"context"
	"database/sql"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"pintrolley.app/internal/ledger"
)

type Store struct {
	db *sql.DB
}

var _ ledger.Gateway = (*Store)(nil)

func Open(dsn string) (*Store, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	// Tuned pool defaults; adjust under load tests
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return &Store{db: db}, nil
}

// NewStore wraps an existing handle (used by tests and the migrator).
func NewStore(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Close() error { return s.db.Close() }

func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

func (s *Store) UpsertClient(ctx context.Context, c ledger.Client) error {
	_, err := s.db.ExecContext(ctx, `
		insert into clients(id, national_id, username, name, email, phone, address, registration_date, status)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		on conflict (id) do update set
			national_id = excluded.national_id,
			username = excluded.username,
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			address = excluded.address,
			status = excluded.status
	`, c.ID, c.NationalID, c.Username, c.Name, c.Email, c.Phone, c.Address, c.RegistrationDate, string(c.Status))
	return err
}

func (s *Store) InsertLoan(ctx context.Context, l ledger.Loan) error {
	_, err := s.db.ExecContext(ctx, `
		insert into loans(id, client_id, amount, interest_rate, term, frequency, start_date, status, total_paid, total_owed)
		values ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
	`, l.ID, l.ClientID, l.Amount, l.InterestRate, l.Term, string(l.Frequency), l.StartDate, string(l.Status), l.TotalPaid, l.TotalOwed)
	return err
}

func (s *Store) UpdateLoanStatus(ctx context.Context, loanID string, totalOwed, totalPaid int64, status ledger.LoanStatus) error {
	_, err := s.db.ExecContext(ctx, `
		update loans set total_owed=$2, total_paid=$3, status=$4 where id=$1
	`, loanID, totalOwed, totalPaid, string(status))
	return err
}

func (s *Store) InsertPayment(ctx context.Context, p ledger.Payment) error {
	_, err := s.db.ExecContext(ctx, `
		insert into payments(id, loan_id, amount, date, method, notes)
		values ($1,$2,$3,$4,$5,$6)
	`, p.ID, p.LoanID, p.Amount, p.Date, string(p.Method), p.Notes)
	return err
}

func (s *Store) UpdateAvailableFunds(ctx context.Context, amount int64) error {
	_, err := s.db.ExecContext(ctx, `
		update system_funds set available=$1, updated_at=now() where id=1
	`, amount)
	return err
}

// DeleteClient removes the client row; loans and payments cascade via foreign
// keys, matching the in-memory cascade.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	_, err := s.db.ExecContext(ctx, `delete from clients where id=$1`, clientID)
	return err
}

// LoadAll pulls the full bookkeeping state in one pass. An unreachable
// database yields nil, nil so the caller falls back to the local snapshot.
func (s *Store) LoadAll(ctx context.Context) (*ledger.RemoteState, error) {
	if err := s.db.PingContext(ctx); err != nil {
		return nil, nil
	}

	out := &ledger.RemoteState{}

	rows, err := s.db.QueryContext(ctx, `
		select id, national_id, username, name, email, phone, address, registration_date, status
		from clients order by registration_date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var c ledger.Client
		var status string
		if err := rows.Scan(&c.ID, &c.NationalID, &c.Username, &c.Name, &c.Email, &c.Phone, &c.Address, &c.RegistrationDate, &status); err != nil {
			return nil, err
		}
		c.Status = ledger.ClientStatus(status)
		out.Clients = append(out.Clients, c)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		select id, client_id, amount, interest_rate, term, frequency, start_date, status, total_paid, total_owed
		from loans order by start_date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var l ledger.Loan
		var freq, status string
		if err := rows.Scan(&l.ID, &l.ClientID, &l.Amount, &l.InterestRate, &l.Term, &freq, &l.StartDate, &status, &l.TotalPaid, &l.TotalOwed); err != nil {
			return nil, err
		}
		l.Frequency = ledger.LoanFrequency(freq)
		l.Status = ledger.LoanStatus(status)
		out.Loans = append(out.Loans, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		select id, loan_id, amount, date, method, coalesce(notes,'')
		from payments order by date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var p ledger.Payment
		var method string
		if err := rows.Scan(&p.ID, &p.LoanID, &p.Amount, &p.Date, &method, &p.Notes); err != nil {
			return nil, err
		}
		p.Method = ledger.PaymentMethod(method)
		out.Payments = append(out.Payments, p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = s.db.QueryContext(ctx, `
		select id, national_id, name, coalesce(email,''), coalesce(phone,''), amount, date, status
		from loan_requests order by date
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var r ledger.LoanRequest
		var status string
		if err := rows.Scan(&r.ID, &r.NationalID, &r.Name, &r.Email, &r.Phone, &r.Amount, &r.Date, &status); err != nil {
			return nil, err
		}
		r.Status = ledger.RequestStatus(status)
		out.LoanRequests = append(out.LoanRequests, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	err = s.db.QueryRowContext(ctx, `select available from system_funds where id=1`).Scan(&out.AvailableFunds)
	if err != nil && err != sql.ErrNoRows {
		return nil, err
	}
	return out, nil
}
