package ledger

// Read accessors return copies; callers never observe the book mid-mutation.

// Snapshot returns a deep copy of the full state tree.
func (b *Book) Snapshot() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.cloneLocked()
}

// AvailableFunds returns the fund pool balance in minor units.
func (b *Book) AvailableFunds() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state.AvailableFunds
}

// Clients lists registered clients in registration order.
func (b *Book) Clients() []Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Client(nil), b.state.Clients...)
}

// Loans lists loans in disbursement order.
func (b *Book) Loans() []Loan {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Loan(nil), b.state.Loans...)
}

// Payments lists recorded payments in collection order.
func (b *Book) Payments() []Payment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]Payment(nil), b.state.Payments...)
}

// Requests lists loan requests in submission order.
func (b *Book) Requests() []LoanRequest {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]LoanRequest(nil), b.state.LoanRequests...)
}

// Timeline lists audit events newest-first.
func (b *Book) Timeline() []TimelineEvent {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]TimelineEvent(nil), b.state.Timeline...)
}

// FundsHistory lists manual capital injections in order of entry.
func (b *Book) FundsHistory() []FundAdjustment {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]FundAdjustment(nil), b.state.FundsHistory...)
}

// Admins lists back-office users.
func (b *Book) Admins() []AdminUser {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]AdminUser(nil), b.state.Admins...)
}

// FindClient resolves a client by id.
func (b *Book) FindClient(id string) (Client, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, c := range b.state.Clients {
		if c.ID == id {
			return c, nil
		}
	}
	return Client{}, ErrNotFound
}

// FindLoan resolves a loan by id.
func (b *Book) FindLoan(id string) (Loan, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, l := range b.state.Loans {
		if l.ID == id {
			return l, nil
		}
	}
	return Loan{}, ErrNotFound
}

// PortfolioStats summarizes the lending portfolio for dashboards and the
// insight generator.
type PortfolioStats struct {
	TotalLent      int64   `json:"total_lent"`
	TotalRecovered int64   `json:"total_recovered"`
	Outstanding    int64   `json:"outstanding"`
	ArrearsRate    float64 `json:"arrears_rate"` // percent of lent capital still owed
	ActiveLoans    int     `json:"active_loans"`
}

// Stats derives portfolio totals from the loan collection.
func (b *Book) Stats() PortfolioStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var s PortfolioStats
	for _, l := range b.state.Loans {
		s.TotalLent += l.Amount
		s.TotalRecovered += l.TotalPaid
		s.Outstanding += l.TotalOwed
		if l.Status == LoanActive {
			s.ActiveLoans++
		}
	}
	if s.TotalLent > 0 {
		s.ArrearsRate = float64(s.Outstanding) / float64(s.TotalLent) * 100
	}
	return s
}
