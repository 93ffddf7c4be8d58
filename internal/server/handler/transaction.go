package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// TransactionEngine is the atomic engine surface the API exposes.
type TransactionEngine interface {
	CreateTransaction(ctx context.Context, specs []domain.LegSpec) (string, error)
	Execute(ctx context.Context, id string) (*domain.Transaction, error)
	Get(ctx context.Context, id string) (*domain.Transaction, error)
	Cancel(ctx context.Context, id string) (*domain.Transaction, error)
	Active() []*domain.Transaction
}

// TransactionHandler serves /api/transactions.
type TransactionHandler struct {
	engine TransactionEngine
	logger *slog.Logger
}

// NewTransactionHandler creates a TransactionHandler.
func NewTransactionHandler(engine TransactionEngine, logger *slog.Logger) *TransactionHandler {
	return &TransactionHandler{engine: engine, logger: logger}
}

type createTransactionRequest struct {
	Legs []domain.LegSpec `json:"legs"`
	// Execute runs the transaction right after creating it.
	Execute bool `json:"execute,omitempty"`
}

type createTransactionResponse struct {
	ID          string              `json:"id"`
	Transaction *domain.Transaction `json:"transaction,omitempty"`
}

// Create validates and stores a transaction, optionally executing it.
// POST /api/transactions
func (h *TransactionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createTransactionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	id, err := h.engine.CreateTransaction(r.Context(), req.Legs)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	if !req.Execute {
		tx, err := h.engine.Get(r.Context(), id)
		if err != nil {
			writeJSON(w, http.StatusCreated, createTransactionResponse{ID: id})
			return
		}
		writeJSON(w, http.StatusCreated, createTransactionResponse{ID: id, Transaction: tx})
		return
	}

	tx, err := h.engine.Execute(r.Context(), id)
	if err != nil {
		h.logTxError(r, id, "execute", err)
		writeDomainError(w, err, tx)
		return
	}
	writeJSON(w, http.StatusCreated, createTransactionResponse{ID: id, Transaction: tx})
}

// List returns the transactions still held by the engine.
// GET /api/transactions
func (h *TransactionHandler) List(w http.ResponseWriter, r *http.Request) {
	active := h.engine.Active()
	if active == nil {
		active = []*domain.Transaction{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": active})
}

// Execute runs a stored transaction. A rolled-back transaction is a
// successful call; inspect its status.
// POST /api/transactions/{id}/execute
func (h *TransactionHandler) Execute(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tx, err := h.engine.Execute(r.Context(), id)
	if err != nil {
		h.logTxError(r, id, "execute", err)
		writeDomainError(w, err, tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Get returns a transaction snapshot.
// GET /api/transactions/{id}
func (h *TransactionHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.engine.Get(r.Context(), pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Cancel cancels a transaction, compensating any filled legs.
// DELETE /api/transactions/{id}
func (h *TransactionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	tx, err := h.engine.Cancel(r.Context(), id)
	if err != nil {
		h.logTxError(r, id, "cancel", err)
		writeDomainError(w, err, tx)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (h *TransactionHandler) logTxError(r *http.Request, id, op string, err error) {
	h.logger.ErrorContext(r.Context(), "handler: transaction "+op+" failed",
		slog.String("transaction_id", id),
		slog.String("error", err.Error()),
	)
}
