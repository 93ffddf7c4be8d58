package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Executor runs single-symbol execution requests.
type Executor interface {
	Execute(ctx context.Context, req domain.ExecutionRequest) (domain.ExecutionResult, error)
}

// ExecuteHandler serves POST /api/execute.
type ExecuteHandler struct {
	exec   Executor
	logger *slog.Logger
}

// NewExecuteHandler creates an ExecuteHandler.
func NewExecuteHandler(exec Executor, logger *slog.Logger) *ExecuteHandler {
	return &ExecuteHandler{exec: exec, logger: logger}
}

// Execute runs one request synchronously and returns the aggregated result.
// A request that ran but filled nothing still carries its result in the
// error body.
// POST /api/execute
func (h *ExecuteHandler) Execute(w http.ResponseWriter, r *http.Request) {
	var req domain.ExecutionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.exec.Execute(r.Context(), req)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: execute failed",
			slog.String("request_id", req.ID),
			slog.String("symbol", req.Symbol),
			slog.String("error", err.Error()),
		)
		var partial any
		if len(res.OrderIDs) > 0 || len(res.Errors) > 0 {
			partial = res
		}
		writeDomainError(w, err, partial)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
