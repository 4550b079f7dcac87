package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/domain"
)

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// writeError writes an error response.
func writeError(w http.ResponseWriter, status int, message, details string) {
	writeJSON(w, status, dto.ErrorResponse{
		Error:   message,
		Message: details,
	})
}

// mapDomainError maps domain errors to HTTP status codes.
func mapDomainError(err error) int {
	switch {
	case domain.IsValidationError(err):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientBalance):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrInvalidToken), errors.Is(err, domain.ErrExpiredToken):
		return http.StatusUnauthorized
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return http.StatusConflict
	case errors.Is(err, domain.ErrBalanceRejected):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrStoreUnavailable),
		errors.Is(err, domain.ErrBalanceUnavailable),
		errors.Is(err, domain.ErrCircuitOpen):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// errorLabel returns the short error string for err's status.
func errorLabel(err error) string {
	switch {
	case domain.IsValidationError(err):
		return "invalid transaction"
	case errors.Is(err, domain.ErrInsufficientBalance):
		return domain.ErrInsufficientBalance.Error()
	case errors.Is(err, domain.ErrNotAuthorized):
		return domain.ErrNotAuthorized.Error()
	case errors.Is(err, domain.ErrDuplicateTransaction):
		return domain.ErrDuplicateTransaction.Error()
	case errors.Is(err, domain.ErrBalanceUnavailable), errors.Is(err, domain.ErrBalanceRejected):
		return domain.ErrBalanceUnavailable.Error()
	case errors.Is(err, domain.ErrStoreUnavailable), errors.Is(err, domain.ErrCircuitOpen):
		return domain.ErrStoreUnavailable.Error()
	default:
		return "internal error"
	}
}

// parseIntQuery parses an integer query parameter with a default value.
func parseIntQuery(r *http.Request, key string, defaultValue int) int {
	val := r.URL.Query().Get(key)
	if val == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(val)
	if err != nil {
		return defaultValue
	}
	return i
}
