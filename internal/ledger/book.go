package ledger

import (
	"context"
	"fmt"
	"sync"
	"time"

	"pintrolley.app/internal/audit"
	"pintrolley.app/internal/format"
	"pintrolley.app/internal/ids"
	"pintrolley.app/internal/obs"
)

// Book is the single owned state container for the loan ledger. Operations
// validate, mirror a best-effort write to the remote gateway, then apply the
// in-memory transition and prepend the matching timeline event. The remote
// store may lag behind local state until the next full reload; that trade-off
// is deliberate.
type Book struct {
	mu    sync.RWMutex
	state State
	gw    Gateway
	snap  SnapshotStore
	now   func() time.Time
	newID func() string
}

// Option configures a Book.
type Option func(*Book)

// WithSnapshotStore enables the local fallback mirror.
func WithSnapshotStore(s SnapshotStore) Option {
	return func(b *Book) { b.snap = s }
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) Option {
	return func(b *Book) {
		if fn != nil {
			b.now = fn
		}
	}
}

// WithIDFunc overrides identifier generation (useful for tests).
func WithIDFunc(fn func() string) Option {
	return func(b *Book) {
		if fn != nil {
			b.newID = fn
		}
	}
}

// NewBook creates an empty book backed by the given gateway. A nil gateway
// degrades to the no-op remote.
func NewBook(gw Gateway, opts ...Option) *Book {
	if gw == nil {
		gw = NoopGateway{}
	}
	b := &Book{
		gw:    gw,
		now:   time.Now,
		newID: ids.New,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Init loads state from the remote store, falling back to the local snapshot
// when the remote is unreachable or unconfigured. Seeded admins survive both
// paths.
func (b *Book) Init(ctx context.Context) error {
	remote, err := b.gw.LoadAll(ctx)
	if err != nil {
		_ = audit.LogEvent(ctx, "ledger.bootstrap.remote_failed", map[string]any{"error": err.Error()})
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if remote != nil {
		admins := b.state.Admins
		b.state = State{
			Clients:        remote.Clients,
			Loans:          remote.Loans,
			Payments:       remote.Payments,
			LoanRequests:   remote.LoanRequests,
			AvailableFunds: remote.AvailableFunds,
			Admins:         admins,
		}
		obs.SetAvailableFunds(b.state.AvailableFunds)
		return nil
	}

	if b.snap != nil {
		saved, err := b.snap.Load(ctx)
		if err != nil {
			_ = audit.LogEvent(ctx, "ledger.bootstrap.snapshot_failed", map[string]any{"error": err.Error()})
		}
		if saved != nil {
			admins := b.state.Admins
			b.state = *saved
			if len(b.state.Admins) == 0 {
				b.state.Admins = admins
			}
			obs.SetAvailableFunds(b.state.AvailableFunds)
		}
	}
	return nil
}

// SeedAdmin registers a back-office user unless the username is taken.
func (b *Book) SeedAdmin(a AdminUser) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, existing := range b.state.Admins {
		if existing.Username == a.Username {
			return
		}
	}
	if a.ID == "" {
		a.ID = b.newID()
	}
	b.state.Admins = append(b.state.Admins, a)
}

// RegisterClient persists and records a new client, prepending a
// CLIENT_REGISTERED timeline event.
func (b *Book) RegisterClient(ctx context.Context, c Client) (Client, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	registered, err := b.registerLocked(ctx, c)
	if err != nil {
		obs.ObserveLedgerOp("register_client", "rejected")
		return Client{}, err
	}
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("register_client", "ok")
	return registered, nil
}

func (b *Book) registerLocked(ctx context.Context, c Client) (Client, error) {
	for _, existing := range b.state.Clients {
		if existing.NationalID == c.NationalID ||
			existing.Username == c.Username ||
			(c.Email != "" && existing.Email == c.Email) {
			return Client{}, ErrDuplicateCredentials
		}
	}
	if c.ID == "" {
		c.ID = b.newID()
	}
	if c.RegistrationDate.IsZero() {
		c.RegistrationDate = b.now().UTC()
	}
	if c.Status == "" {
		c.Status = ClientActive
	}

	b.bestEffort(ctx, "client.upsert", func() error { return b.gw.UpsertClient(ctx, c) })

	b.state.Clients = append(b.state.Clients, c)
	b.prependEvent(TimelineEvent{
		ClientID:    c.ID,
		Kind:        EventClientRegistered,
		Description: fmt.Sprintf("Nuevo cliente registrado: %s.", c.Name),
	})
	return c, nil
}

// DeleteClient removes a client together with all loans, payments, requests
// and timeline events transitively owned by it. The confirm flag is the
// destructive-action guard; without it nothing happens. The fund pool is not
// reconciled: outstanding debt on deleted loans vanishes from the books.
func (b *Book) DeleteClient(ctx context.Context, clientID string, confirm bool) error {
	if !confirm {
		return ErrNotConfirmed
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, c := range b.state.Clients {
		if c.ID == clientID {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	nationalID := b.state.Clients[idx].NationalID

	b.bestEffort(ctx, "client.delete", func() error { return b.gw.DeleteClient(ctx, clientID) })

	removedLoans := map[string]bool{}
	loans := b.state.Loans[:0]
	for _, l := range b.state.Loans {
		if l.ClientID == clientID {
			removedLoans[l.ID] = true
			continue
		}
		loans = append(loans, l)
	}
	b.state.Loans = loans

	payments := b.state.Payments[:0]
	for _, p := range b.state.Payments {
		if removedLoans[p.LoanID] {
			continue
		}
		payments = append(payments, p)
	}
	b.state.Payments = payments

	requests := b.state.LoanRequests[:0]
	for _, r := range b.state.LoanRequests {
		if r.NationalID == nationalID {
			continue
		}
		requests = append(requests, r)
	}
	b.state.LoanRequests = requests

	timeline := b.state.Timeline[:0]
	for _, e := range b.state.Timeline {
		if e.ClientID == clientID {
			continue
		}
		timeline = append(timeline, e)
	}
	b.state.Timeline = timeline

	b.state.Clients = append(b.state.Clients[:idx], b.state.Clients[idx+1:]...)

	b.persistLocal(ctx)
	obs.ObserveLedgerOp("delete_client", "ok")
	return nil
}

// DisburseLoan creates a loan and decrements the fund pool by its principal.
// Aborts without any mutation or persistence call when the pool cannot cover
// the amount.
func (b *Book) DisburseLoan(ctx context.Context, loan Loan) (Loan, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	created, err := b.disburseLocked(ctx, loan)
	if err != nil {
		obs.ObserveLedgerOp("disburse_loan", "rejected")
		return Loan{}, err
	}
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("disburse_loan", "ok")
	return created, nil
}

func (b *Book) disburseLocked(ctx context.Context, loan Loan) (Loan, error) {
	if loan.Amount <= 0 {
		return Loan{}, ErrInvalidAmount
	}
	if b.state.AvailableFunds < loan.Amount {
		return Loan{}, ErrInsufficientFunds
	}
	if loan.ID == "" {
		loan.ID = b.newID()
	}
	if loan.StartDate.IsZero() {
		loan.StartDate = b.now().UTC()
	}
	if loan.Status == "" {
		loan.Status = LoanActive
	}
	if loan.Frequency == "" {
		loan.Frequency = FrequencyMonthly
	}
	if loan.Term <= 0 {
		loan.Term = 1
	}
	loan.TotalOwed = loan.Amount
	loan.TotalPaid = 0

	newFunds := b.state.AvailableFunds - loan.Amount
	b.bestEffort(ctx, "loan.insert", func() error { return b.gw.InsertLoan(ctx, loan) })
	b.bestEffort(ctx, "funds.update", func() error { return b.gw.UpdateAvailableFunds(ctx, newFunds) })

	b.state.AvailableFunds = newFunds
	b.state.Loans = append(b.state.Loans, loan)
	b.prependEvent(TimelineEvent{
		ClientID:    loan.ClientID,
		Kind:        EventLoanCreated,
		Description: fmt.Sprintf("Préstamo desembolsado por %s.", format.Currency(loan.Amount)),
		Amount:      loan.Amount,
	})
	obs.SetAvailableFunds(newFunds)
	return loan, nil
}

// RecordPayment applies a collection to its loan and returns capital to the
// fund pool. Any excess beyond the remaining balance is absorbed by the pool;
// the payment record keeps its full amount. A payment against an unknown loan
// is mirrored remotely but applies no local mutation.
func (b *Book) RecordPayment(ctx context.Context, p Payment) (Payment, error) {
	if p.Amount <= 0 {
		return Payment{}, ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if p.ID == "" {
		p.ID = b.newID()
	}
	if p.Date.IsZero() {
		p.Date = b.now().UTC()
	}
	if p.Method == "" {
		p.Method = MethodCash
	}

	b.bestEffort(ctx, "payment.insert", func() error { return b.gw.InsertPayment(ctx, p) })

	idx := -1
	for i, l := range b.state.Loans {
		if l.ID == p.LoanID {
			idx = i
			break
		}
	}
	if idx < 0 {
		// Dangling reference: tolerated, no loan or fund mutation.
		_ = audit.LogEvent(ctx, "ledger.payment.dangling", map[string]any{
			"payment_id": p.ID,
			"loan_id":    p.LoanID,
		})
		obs.ObserveLedgerOp("record_payment", "dangling")
		return p, nil
	}

	loan := b.state.Loans[idx]
	newTotalOwed := max(int64(0), loan.TotalOwed-p.Amount)
	newTotalPaid := loan.TotalPaid + p.Amount
	newStatus := loan.Status
	if newTotalOwed == 0 {
		newStatus = LoanPaid
	}
	newFunds := b.state.AvailableFunds + p.Amount

	b.bestEffort(ctx, "loan.update", func() error {
		return b.gw.UpdateLoanStatus(ctx, loan.ID, newTotalOwed, newTotalPaid, newStatus)
	})
	b.bestEffort(ctx, "funds.update", func() error { return b.gw.UpdateAvailableFunds(ctx, newFunds) })

	b.state.AvailableFunds = newFunds
	b.state.Payments = append(b.state.Payments, p)
	loan.TotalOwed = newTotalOwed
	loan.TotalPaid = newTotalPaid
	loan.Status = newStatus
	b.state.Loans[idx] = loan

	b.prependEvent(TimelineEvent{
		ClientID:    loan.ClientID,
		Kind:        EventPaymentReceived,
		Date:        p.Date,
		Description: fmt.Sprintf("Pago recibido: %s.", format.Currency(p.Amount)),
		Amount:      p.Amount,
	})
	obs.SetAvailableFunds(newFunds)
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("record_payment", "ok")
	return p, nil
}

// SubmitRequest records a public loan request. Unknown national ids register
// a client first, with the username defaulting to the national id. The
// LOAN_REQUEST event is keyed by national id since the request may precede
// the client record in the data.
func (b *Book) SubmitRequest(ctx context.Context, req LoanRequest) (LoanRequest, error) {
	if req.Amount <= 0 {
		return LoanRequest{}, ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	known := false
	for _, c := range b.state.Clients {
		if c.NationalID == req.NationalID {
			known = true
			break
		}
	}
	if !known {
		username := req.NationalID
		if _, err := b.registerLocked(ctx, Client{
			NationalID: req.NationalID,
			Username:   username,
			Name:       req.Name,
			Email:      req.Email,
			Phone:      req.Phone,
		}); err != nil {
			obs.ObserveLedgerOp("submit_request", "rejected")
			return LoanRequest{}, err
		}
	}

	if req.ID == "" {
		req.ID = b.newID()
	}
	if req.Date.IsZero() {
		req.Date = b.now().UTC()
	}
	req.Status = RequestPending
	b.state.LoanRequests = append(b.state.LoanRequests, req)

	b.prependEvent(TimelineEvent{
		ClientID:    req.NationalID,
		Kind:        EventLoanRequest,
		Description: fmt.Sprintf("Solicitud de préstamo por %s.", format.Currency(req.Amount)),
		Amount:      req.Amount,
	})
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("submit_request", "ok")
	return req, nil
}

// ApproveRequest turns a pending request into an active loan for the client
// matching its national id. Approval requires a pre-existing client record;
// the request alone never creates one. The synthesized loan is zero-interest,
// single-installment, monthly.
func (b *Book) ApproveRequest(ctx context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	idx := -1
	for i, r := range b.state.LoanRequests {
		if r.ID == requestID {
			idx = i
			break
		}
	}
	if idx < 0 || b.state.LoanRequests[idx].Status != RequestPending {
		return nil
	}
	req := b.state.LoanRequests[idx]

	var client *Client
	for i := range b.state.Clients {
		if b.state.Clients[i].NationalID == req.NationalID {
			client = &b.state.Clients[i]
			break
		}
	}
	if client == nil {
		obs.ObserveLedgerOp("approve_request", "rejected")
		return ErrClientNotFound
	}
	if b.state.AvailableFunds < req.Amount {
		obs.ObserveLedgerOp("approve_request", "rejected")
		return ErrInsufficientFunds
	}

	if _, err := b.disburseLocked(ctx, Loan{
		ClientID:     client.ID,
		Amount:       req.Amount,
		InterestRate: 0,
		Term:         1,
		Frequency:    FrequencyMonthly,
		StartDate:    b.now().UTC(),
		Status:       LoanActive,
	}); err != nil {
		obs.ObserveLedgerOp("approve_request", "rejected")
		return err
	}

	b.state.LoanRequests[idx].Status = RequestApproved
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("approve_request", "ok")
	return nil
}

// RejectRequest flips a pending request to REJECTED. No other side effect.
func (b *Book) RejectRequest(ctx context.Context, requestID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, r := range b.state.LoanRequests {
		if r.ID == requestID {
			if r.Status != RequestPending {
				return nil
			}
			b.state.LoanRequests[i].Status = RequestRejected
			b.persistLocal(ctx)
			obs.ObserveLedgerOp("reject_request", "ok")
			return nil
		}
	}
	return nil
}

// AddFunds records a manual capital injection into the fund pool.
func (b *Book) AddFunds(ctx context.Context, amount int64, notes string) (FundAdjustment, error) {
	if amount <= 0 {
		return FundAdjustment{}, ErrInvalidAmount
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	newFunds := b.state.AvailableFunds + amount
	b.bestEffort(ctx, "funds.update", func() error { return b.gw.UpdateAvailableFunds(ctx, newFunds) })

	adj := FundAdjustment{
		ID:     b.newID(),
		Amount: amount,
		Date:   b.now().UTC(),
		Notes:  notes,
	}
	b.state.AvailableFunds = newFunds
	b.state.FundsHistory = append(b.state.FundsHistory, adj)
	b.prependEvent(TimelineEvent{
		ClientID:    SystemClientID,
		Kind:        EventFundsAdded,
		Description: fmt.Sprintf("Capital inyectado: %s.", format.Currency(amount)),
		Amount:      amount,
	})
	obs.SetAvailableFunds(newFunds)
	b.persistLocal(ctx)
	obs.ObserveLedgerOp("add_funds", "ok")
	return adj, nil
}

// AddAdmin registers a back-office user.
func (b *Book) AddAdmin(ctx context.Context, a AdminUser) (AdminUser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, existing := range b.state.Admins {
		if existing.Username == a.Username || (a.Email != "" && existing.Email == a.Email) {
			return AdminUser{}, ErrDuplicateCredentials
		}
	}
	if a.ID == "" {
		a.ID = b.newID()
	}
	if a.Role == "" {
		a.Role = RoleViewer
	}
	b.state.Admins = append(b.state.Admins, a)
	b.persistLocal(ctx)
	return a, nil
}

// DeleteAdmin removes a back-office user. Unknown ids are a no-op.
func (b *Book) DeleteAdmin(ctx context.Context, id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, a := range b.state.Admins {
		if a.ID == id {
			b.state.Admins = append(b.state.Admins[:i], b.state.Admins[i+1:]...)
			b.persistLocal(ctx)
			return
		}
	}
}

// AdminByUsername resolves a back-office user for login.
func (b *Book) AdminByUsername(username string) (AdminUser, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, a := range b.state.Admins {
		if a.Username == username {
			return a, true
		}
	}
	return AdminUser{}, false
}

func (b *Book) prependEvent(e TimelineEvent) {
	if e.ID == "" {
		e.ID = b.newID()
	}
	if e.Date.IsZero() {
		e.Date = b.now().UTC()
	}
	b.state.Timeline = append([]TimelineEvent{e}, b.state.Timeline...)
}

// bestEffort issues a remote mirror write. Failures are audited, never
// propagated: local availability wins over cross-store consistency.
func (b *Book) bestEffort(ctx context.Context, op string, fn func() error) {
	if err := fn(); err != nil {
		_ = audit.LogEvent(ctx, "gateway.write_failed", map[string]any{
			"op":    op,
			"error": err.Error(),
		})
	}
}

func (b *Book) persistLocal(ctx context.Context) {
	if b.snap == nil {
		return
	}
	if err := b.snap.Save(ctx, b.cloneLocked()); err != nil {
		_ = audit.LogEvent(ctx, "snapshot.save_failed", map[string]any{"error": err.Error()})
	}
}

func (b *Book) cloneLocked() State {
	out := State{AvailableFunds: b.state.AvailableFunds}
	out.Clients = append([]Client(nil), b.state.Clients...)
	out.Loans = append([]Loan(nil), b.state.Loans...)
	out.Payments = append([]Payment(nil), b.state.Payments...)
	out.LoanRequests = append([]LoanRequest(nil), b.state.LoanRequests...)
	out.Timeline = append([]TimelineEvent(nil), b.state.Timeline...)
	out.FundsHistory = append([]FundAdjustment(nil), b.state.FundsHistory...)
	out.Admins = append([]AdminUser(nil), b.state.Admins...)
	return out
}
