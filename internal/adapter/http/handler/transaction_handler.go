package handler

import (
	"encoding/json"
	"mime"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/adapter/http/dto"
	"github.com/GoogleCloudPlatform/bank-of-anthos-sub000/internal/usecase"
)

// EntryIDHeader carries the ledger entry id of an accepted transaction.
const EntryIDHeader = "X-Ledger-Entry-Id"

const maxBodyBytes = 1 << 16

// TransactionHandler accepts new transactions.
type TransactionHandler struct {
	submitter usecase.TransactionSubmitter
	logger    zerolog.Logger
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(submitter usecase.TransactionSubmitter, logger zerolog.Logger) *TransactionHandler {
	return &TransactionHandler{
		submitter: submitter,
		logger:    logger,
	}
}

// Create handles POST /new_transaction.
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req dto.NewTransactionRequest
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if mediaType == "application/json" {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
			return
		}
	} else {
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "invalid form", err.Error())
			return
		}
		req = dto.NewTransactionRequestFromForm(r.PostForm)
	}

	input, err := req.ToUseCaseInput(usecase.AuthenticatedAccountFromContext(r.Context()))
	if err != nil {
		writeError(w, mapDomainError(err), errorLabel(err), err.Error())
		return
	}

	entry, err := h.submitter.Submit(r.Context(), input)
	if err != nil {
		status := mapDomainError(err)
		if status >= http.StatusInternalServerError {
			h.logger.Error().Err(err).Str("transaction_id", input.TransactionID).Msg("transaction not recorded")
		}
		writeError(w, status, errorLabel(err), err.Error())
		return
	}

	w.Header().Set(EntryIDHeader, entry.ID.String())
	writeJSON(w, http.StatusCreated, dto.NewTransactionResponse{})
}
