package ledger

import "context"

// RemoteState is the bulk snapshot shape returned by Gateway.LoadAll.
type RemoteState struct {
	Clients        []Client
	Loans          []Loan
	Payments       []Payment
	LoanRequests   []LoanRequest
	AvailableFunds int64
}

// Gateway is the persistence boundary towards the hosted relational store.
// Writes issued by the book are best-effort mirrors: a failing gateway call is
// audited and the in-memory mutation proceeds regardless.
type Gateway interface {
	UpsertClient(ctx context.Context, c Client) error
	InsertLoan(ctx context.Context, l Loan) error
	UpdateLoanStatus(ctx context.Context, loanID string, totalOwed, totalPaid int64, status LoanStatus) error
	InsertPayment(ctx context.Context, p Payment) error
	UpdateAvailableFunds(ctx context.Context, amount int64) error
	DeleteClient(ctx context.Context, clientID string) error
	// LoadAll returns nil, nil when the remote store is unreachable or
	// unconfigured; callers fall back to the local snapshot.
	LoadAll(ctx context.Context) (*RemoteState, error)
}

// SnapshotStore mirrors the full state to a local fallback store after every
// confirmed mutation.
type SnapshotStore interface {
	Save(ctx context.Context, state State) error
	Load(ctx context.Context) (*State, error)
}

// NoopGateway is used when no remote store is configured. Every write
// succeeds without effect and LoadAll reports the store as absent.
type NoopGateway struct{}

var _ Gateway = NoopGateway{}

func (NoopGateway) UpsertClient(context.Context, Client) error   { return nil }
func (NoopGateway) InsertLoan(context.Context, Loan) error       { return nil }
func (NoopGateway) InsertPayment(context.Context, Payment) error { return nil }
func (NoopGateway) DeleteClient(context.Context, string) error   { return nil }

func (NoopGateway) UpdateLoanStatus(context.Context, string, int64, int64, LoanStatus) error {
	return nil
}

func (NoopGateway) UpdateAvailableFunds(context.Context, int64) error { return nil }

func (NoopGateway) LoadAll(context.Context) (*RemoteState, error) { return nil, nil }
