package ledger

import (
	"errors"
	"time"
)

// Money is carried in minor units (centavos). No floats.

// ClientStatus enumerates client lifecycle states.
type ClientStatus string

const (
	ClientActive   ClientStatus = "ACTIVE"
	ClientInactive ClientStatus = "INACTIVE"
)

// RequestStatus enumerates loan request states. APPROVED and REJECTED are terminal.
type RequestStatus string

const (
	RequestPending  RequestStatus = "PENDING"
	RequestApproved RequestStatus = "APPROVED"
	RequestRejected RequestStatus = "REJECTED"
)

// LoanStatus enumerates loan states. A loan becomes PAID exactly when its
// remaining balance reaches zero.
type LoanStatus string

const (
	LoanPending LoanStatus = "PENDING"
	LoanActive  LoanStatus = "ACTIVE"
	LoanPaid    LoanStatus = "PAID"
	LoanDefault LoanStatus = "DEFAULT"
)

// LoanFrequency enumerates installment cadences.
type LoanFrequency string

const (
	FrequencyDaily    LoanFrequency = "DAILY"
	FrequencyWeekly   LoanFrequency = "WEEKLY"
	FrequencyBiweekly LoanFrequency = "BIWEEKLY"
	FrequencyMonthly  LoanFrequency = "MONTHLY"
)

// PaymentMethod enumerates collection channels.
type PaymentMethod string

const (
	MethodCash     PaymentMethod = "CASH"
	MethodTransfer PaymentMethod = "TRANSFER"
	MethodCard     PaymentMethod = "CARD"
)

// EventKind enumerates timeline audit entries.
type EventKind string

const (
	EventLoanCreated      EventKind = "LOAN_CREATED"
	EventPaymentReceived  EventKind = "PAYMENT_RECEIVED"
	EventLateWarning      EventKind = "LATE_WARNING"
	EventClientRegistered EventKind = "CLIENT_REGISTERED"
	EventFundsAdded       EventKind = "FUNDS_ADDED"
	EventLoanRequest      EventKind = "LOAN_REQUEST"
)

// SystemClientID marks timeline events that are not attributable to a client.
const SystemClientID = "SYSTEM"

// Role enumerates back-office user roles.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleCollector Role = "COBRADOR"
	RoleViewer    Role = "CONSULTOR"
)

// Client is a registered borrower. The national identifier and username are
// unique within the book.
type Client struct {
	ID               string       `json:"id"`
	NationalID       string       `json:"national_id"`
	Username         string       `json:"username"`
	Name             string       `json:"name"`
	Email            string       `json:"email"`
	Phone            string       `json:"phone"`
	Address          string       `json:"address"`
	RegistrationDate time.Time    `json:"registration_date"`
	Status           ClientStatus `json:"status"`
}

// LoanRequest is a public portal submission. It references a client by
// national identifier value, not by owning id: a request may precede the
// client record in the data.
type LoanRequest struct {
	ID         string        `json:"id"`
	NationalID string        `json:"national_id"`
	Name       string        `json:"name"`
	Email      string        `json:"email"`
	Phone      string        `json:"phone"`
	Amount     int64         `json:"amount"`
	Date       time.Time     `json:"date"`
	Status     RequestStatus `json:"status"`
}

// Loan is a disbursed principal owned by a client.
// Invariant: TotalOwed == Amount - TotalPaid, floored at zero.
type Loan struct {
	ID           string        `json:"id"`
	ClientID     string        `json:"client_id"`
	Amount       int64         `json:"amount"`
	InterestRate float64       `json:"interest_rate"` // percent
	Term         int           `json:"term"`          // number of installments
	Frequency    LoanFrequency `json:"frequency"`
	StartDate    time.Time     `json:"start_date"`
	Status       LoanStatus    `json:"status"`
	TotalPaid    int64         `json:"total_paid"`
	TotalOwed    int64         `json:"total_owed"`
}

// Payment is an immutable collection record owned by a loan.
type Payment struct {
	ID     string        `json:"id"`
	LoanID string        `json:"loan_id"`
	Amount int64         `json:"amount"`
	Date   time.Time     `json:"date"`
	Method PaymentMethod `json:"method"`
	Notes  string        `json:"notes,omitempty"`
}

// FundAdjustment is an append-only record of a manual capital injection.
type FundAdjustment struct {
	ID     string    `json:"id"`
	Amount int64     `json:"amount"`
	Date   time.Time `json:"date"`
	Notes  string    `json:"notes"`
}

// TimelineEvent is an append-only audit entry, kept newest-first.
type TimelineEvent struct {
	ID          string    `json:"id"`
	ClientID    string    `json:"client_id"`
	Kind        EventKind `json:"type"`
	Date        time.Time `json:"date"`
	Description string    `json:"description"`
	Amount      int64     `json:"amount,omitempty"`
}

// AdminUser is a back-office operator. Credentials are stored and compared
// as plain values; hardening is out of scope here.
type AdminUser struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Role     Role   `json:"role"`
}

// State is the full application state tree. It round-trips losslessly through
// the local snapshot store.
type State struct {
	Clients        []Client         `json:"clients"`
	Loans          []Loan           `json:"loans"`
	Payments       []Payment        `json:"payments"`
	LoanRequests   []LoanRequest    `json:"loan_requests"`
	Timeline       []TimelineEvent  `json:"timeline"`
	FundsHistory   []FundAdjustment `json:"funds_history"`
	Admins         []AdminUser      `json:"admins"`
	AvailableFunds int64            `json:"available_funds"`
}

var (
	ErrNotFound             = errors.New("not found")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInvalidAmount        = errors.New("invalid amount (must be > 0)")
	ErrClientNotFound       = errors.New("no client matches the request national id")
	ErrDuplicateCredentials = errors.New("national id, username or email already registered")
	ErrNotConfirmed         = errors.New("destructive action requires confirmation")
)
