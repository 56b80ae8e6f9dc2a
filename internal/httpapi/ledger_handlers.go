package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"pintrolley.app/internal/audit"
	"pintrolley.app/internal/ledger"
)

type registerClientRequest struct {
	NationalID string `json:"national_id"`
	Username   string `json:"username"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Address    string `json:"address"`
}

type disburseLoanRequest struct {
	ClientID     string  `json:"client_id"`
	Amount       int64   `json:"amount"`
	InterestRate float64 `json:"interest_rate"`
	Term         int     `json:"term"`
	Frequency    string  `json:"frequency"`
}

type recordPaymentRequest struct {
	LoanID string `json:"loan_id"`
	Amount int64  `json:"amount"`
	Method string `json:"method"`
	Notes  string `json:"notes"`
}

type submitRequestRequest struct {
	NationalID string `json:"national_id"`
	Name       string `json:"name"`
	Email      string `json:"email"`
	Phone      string `json:"phone"`
	Amount     int64  `json:"amount"`
}

type addFundsRequest struct {
	Amount int64  `json:"amount"`
	Notes  string `json:"notes"`
}

type addAdminRequest struct {
	Name     string `json:"name"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
	Role     string `json:"role"`
}

func (a *API) handleClientsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.book.Clients()})
	case http.MethodPost:
		a.registerClient(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleClientResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/clients/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}

	switch r.Method {
	case http.MethodGet:
		c, err := a.book.FindClient(id)
		if err != nil {
			handleLedgerError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, c)
	case http.MethodDelete:
		a.deleteClient(w, r, id)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodDelete)
	}
}

func (a *API) registerClient(w http.ResponseWriter, r *http.Request) {
	var req registerClientRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.NationalID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "national_id and name are required")
		return
	}
	if strings.TrimSpace(req.Username) == "" {
		writeError(w, r, http.StatusBadRequest, "username is required")
		return
	}

	c, err := a.book.RegisterClient(r.Context(), ledger.Client{
		NationalID: strings.TrimSpace(req.NationalID),
		Username:   strings.TrimSpace(req.Username),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Phone:      strings.TrimSpace(req.Phone),
		Address:    strings.TrimSpace(req.Address),
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	_ = audit.LogEvent(r.Context(), "client.register", map[string]any{"client_id": c.ID})
	w.Header().Set("Location", "/v1/clients/"+c.ID)
	writeJSON(w, http.StatusCreated, c)
}

// deleteClient requires ?confirm=true; without it the cascade is refused with
// 428 Precondition Required.
func (a *API) deleteClient(w http.ResponseWriter, r *http.Request, id string) {
	confirm := r.URL.Query().Get("confirm") == "true"
	if err := a.book.DeleteClient(r.Context(), id, confirm); err != nil {
		handleLedgerError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), "client.delete", map[string]any{"client_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleLoansCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.book.Loans()})
	case http.MethodPost:
		a.disburseLoan(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleLoanResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/loans/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	l, err := a.book.FindLoan(id)
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (a *API) disburseLoan(w http.ResponseWriter, r *http.Request) {
	var req disburseLoanRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.ClientID) == "" {
		writeError(w, r, http.StatusBadRequest, "client_id is required")
		return
	}
	if _, err := a.book.FindClient(req.ClientID); err != nil {
		handleLedgerError(w, r, err)
		return
	}

	loan, err := a.book.DisburseLoan(r.Context(), ledger.Loan{
		ClientID:     req.ClientID,
		Amount:       req.Amount,
		InterestRate: req.InterestRate,
		Term:         req.Term,
		Frequency:    ledger.LoanFrequency(req.Frequency),
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publishLatest()
	_ = audit.LogEvent(r.Context(), "loan.disburse", map[string]any{
		"loan_id": loan.ID,
		"amount":  loan.Amount,
	})
	w.Header().Set("Location", "/v1/loans/"+loan.ID)
	writeJSON(w, http.StatusCreated, loan)
}

func (a *API) handlePayments(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.book.Payments()})
	case http.MethodPost:
		a.recordPayment(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) recordPayment(w http.ResponseWriter, r *http.Request) {
	var req recordPaymentRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.LoanID) == "" {
		writeError(w, r, http.StatusBadRequest, "loan_id is required")
		return
	}

	p, err := a.book.RecordPayment(r.Context(), ledger.Payment{
		LoanID: req.LoanID,
		Amount: req.Amount,
		Method: ledger.PaymentMethod(req.Method),
		Notes:  req.Notes,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publishLatest()
	_ = audit.LogEvent(r.Context(), "payment.record", map[string]any{
		"payment_id": p.ID,
		"loan_id":    p.LoanID,
		"amount":     p.Amount,
	})
	writeJSON(w, http.StatusCreated, p)
}

func (a *API) handleRequestsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{"items": a.book.Requests()})
	case http.MethodPost:
		a.submitRequest(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

// submitRequest is the public portal entry point: no session required.
func (a *API) submitRequest(w http.ResponseWriter, r *http.Request) {
	var req submitRequestRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.NationalID) == "" || strings.TrimSpace(req.Name) == "" {
		writeError(w, r, http.StatusBadRequest, "national_id and name are required")
		return
	}

	created, err := a.book.SubmitRequest(r.Context(), ledger.LoanRequest{
		NationalID: strings.TrimSpace(req.NationalID),
		Name:       strings.TrimSpace(req.Name),
		Email:      strings.TrimSpace(req.Email),
		Phone:      strings.TrimSpace(req.Phone),
		Amount:     req.Amount,
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publishLatest()
	_ = audit.LogEvent(r.Context(), "request.submit", map[string]any{
		"request_id": created.ID,
		"amount":     created.Amount,
	})
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) handleRequestAction(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/requests/")
	parts := strings.Split(rest, "/")
	if len(parts) != 2 || parts[0] == "" {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodPost {
		methodNotAllowed(w, r, http.MethodPost)
		return
	}

	id, action := parts[0], parts[1]
	var err error
	switch action {
	case "approve":
		err = a.book.ApproveRequest(r.Context(), id)
	case "reject":
		err = a.book.RejectRequest(r.Context(), id)
	default:
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publishLatest()
	_ = audit.LogEvent(r.Context(), "request."+action, map[string]any{"request_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleFunds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"available": a.book.AvailableFunds(),
			"history":   a.book.FundsHistory(),
		})
	case http.MethodPost:
		a.addFunds(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) addFunds(w http.ResponseWriter, r *http.Request) {
	var req addFundsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	adj, err := a.book.AddFunds(r.Context(), req.Amount, strings.TrimSpace(req.Notes))
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}

	a.publishLatest()
	_ = audit.LogEvent(r.Context(), "funds.add", map[string]any{"amount": adj.Amount})
	writeJSON(w, http.StatusCreated, adj)
}

func (a *API) handleTimeline(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items": a.book.Timeline(),
		"as_of": time.Now().UTC(),
	})
}

func (a *API) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		methodNotAllowed(w, r, http.MethodGet)
		return
	}
	writeJSON(w, http.StatusOK, a.book.Stats())
}

func (a *API) handleAdminsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		admins := a.book.Admins()
		for i := range admins {
			admins[i].Password = ""
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": admins})
	case http.MethodPost:
		a.addAdmin(w, r)
	default:
		methodNotAllowed(w, r, http.MethodGet, http.MethodPost)
	}
}

func (a *API) handleAdminResource(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/v1/admins/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, r, http.StatusNotFound, "resource not found")
		return
	}
	if r.Method != http.MethodDelete {
		methodNotAllowed(w, r, http.MethodDelete)
		return
	}
	a.book.DeleteAdmin(r.Context(), id)
	_ = audit.LogEvent(r.Context(), "admin.delete", map[string]any{"admin_id": id})
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) addAdmin(w http.ResponseWriter, r *http.Request) {
	var req addAdminRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Username) == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, "username and password are required")
		return
	}

	admin, err := a.book.AddAdmin(r.Context(), ledger.AdminUser{
		Name:     strings.TrimSpace(req.Name),
		Username: strings.TrimSpace(req.Username),
		Email:    strings.TrimSpace(req.Email),
		Password: req.Password,
		Role:     ledger.Role(req.Role),
	})
	if err != nil {
		handleLedgerError(w, r, err)
		return
	}
	admin.Password = ""
	_ = audit.LogEvent(r.Context(), "admin.add", map[string]any{"admin_id": admin.ID})
	writeJSON(w, http.StatusCreated, admin)
}

// publishLatest pushes the newest timeline entry to live subscribers.
func (a *API) publishLatest() {
	if a.stream == nil {
		return
	}
	if tl := a.book.Timeline(); len(tl) > 0 {
		a.stream.Publish(tl[0])
	}
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}

func handleLedgerError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ledger.ErrInvalidAmount):
		writeError(w, r, http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds), errors.Is(err, ledger.ErrDuplicateCredentials):
		writeError(w, r, http.StatusConflict, err.Error())
	case errors.Is(err, ledger.ErrNotConfirmed):
		writeError(w, r, http.StatusPreconditionRequired, err.Error())
	case errors.Is(err, ledger.ErrNotFound), errors.Is(err, ledger.ErrClientNotFound):
		writeError(w, r, http.StatusNotFound, err.Error())
	default:
		writeError(w, r, http.StatusInternalServerError, "internal error")
	}
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func methodNotAllowed(w http.ResponseWriter, r *http.Request, allowed ...string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeError(w, r, http.StatusMethodNotAllowed, "method not allowed")
}
