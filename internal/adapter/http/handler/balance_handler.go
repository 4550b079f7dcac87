package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// BalanceView is the read side of the balance materializer.
type BalanceView interface {
	Balance(accountID string) int64
	History(accountID string, limit int) []domain.Entry
	// Ready reports whether the initial catch-up with the ledger has finished.
	Ready() bool
}

// BalanceHandler serves materialized balances.
type BalanceHandler struct {
	view          BalanceView
	successStatus int
	historyLimit  int
}

// NewBalanceHandler creates a new BalanceHandler. legacyStatus answers balance
// queries with 201 for clients that depend on it.
func NewBalanceHandler(view BalanceView, legacyStatus bool, historyLimit int) *BalanceHandler {
	status := http.StatusOK
	if legacyStatus {
		status = http.StatusCreated
	}
	if historyLimit <= 0 {
		historyLimit = usecase.DefaultHistoryLimit
	}

	return &BalanceHandler{
		view:          view,
		successStatus: status,
		historyLimit:  historyLimit,
	}
}

// resolveAccount picks the queried account. An authenticated caller may only
// read its own account and defaults to it.
func resolveAccount(r *http.Request, requested string) (string, int, string) {
	authenticated := usecase.AuthenticatedAccountFromContext(r.Context())

	switch {
	case requested == "" && authenticated == "":
		return "", http.StatusInternalServerError, "account_id is required"
	case requested == "":
		return authenticated, 0, ""
	case authenticated != "" && requested != authenticated:
		return "", http.StatusUnauthorized, "not authorized for account"
	default:
		return requested, 0, ""
	}
}

// notReady answers 503 while the view is still catching up, so no caller
// sees a balance computed from a partial log.
func (h *BalanceHandler) notReady(w http.ResponseWriter) bool {
	if h.view.Ready() {
		return false
	}
	w.Header().Set("Retry-After", "1")
	writeJSON(w, http.StatusServiceUnavailable, dto.ErrorResponse{Error: "not ready"})
	return true
}

// GetBalance handles GET /get_balance?account_id=.
func (h *BalanceHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	if h.notReady(w) {
		return
	}

	account, status, msg := resolveAccount(r, r.URL.Query().Get("account_id"))
	if status != 0 {
		writeJSON(w, status, dto.ErrorResponse{Error: msg})
		return
	}

	writeJSON(w, h.successStatus, dto.BalanceResponse{Balance: h.view.Balance(account)})
}

// History handles GET /transactions/{accountID}.
func (h *BalanceHandler) History(w http.ResponseWriter, r *http.Request) {
	if h.notReady(w) {
		return
	}

	account, status, msg := resolveAccount(r, chi.URLParam(r, "accountID"))
	if status != 0 {
		writeJSON(w, status, dto.ErrorResponse{Error: msg})
		return
	}

	limit := parseIntQuery(r, "limit", h.historyLimit)
	if limit <= 0 || limit > h.historyLimit {
		limit = h.historyLimit
	}

	entries := h.view.History(account, limit)
	resp := dto.HistoryResponse{
		AccountID:    account,
		Transactions: make([]dto.HistoryEntryResponse, len(entries)),
	}
	for i, e := range entries {
		resp.Transactions[i] = dto.HistoryEntryFromDomain(e)
	}

	writeJSON(w, http.StatusOK, resp)
}
