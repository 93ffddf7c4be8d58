package handler

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// ProtectionRegistry is the slippage protector surface the API exposes.
type ProtectionRegistry interface {
	CreateProtection(ctx context.Context, symbol string, side domain.Side, size float64, cfg domain.ProtectionConfig) (domain.Protection, error)
	Get(id string) (domain.Protection, error)
	List() []domain.Protection
	Cancel(ctx context.Context, id string) (domain.Protection, error)
}

// ProtectionHandler serves /api/protections.
type ProtectionHandler struct {
	protector ProtectionRegistry
	logger    *slog.Logger
}

// NewProtectionHandler creates a ProtectionHandler.
func NewProtectionHandler(p ProtectionRegistry, logger *slog.Logger) *ProtectionHandler {
	return &ProtectionHandler{protector: p, logger: logger}
}

type createProtectionRequest struct {
	Symbol      string      `json:"symbol"`
	Side        domain.Side `json:"side"`
	Size        float64     `json:"size"`
	MaxSlippage float64     `json:"max_slippage,omitempty"`
	MaxImpact   float64     `json:"max_impact,omitempty"`
	// ExpiresAfter is a Go duration string such as "15m".
	ExpiresAfter string `json:"expires_after,omitempty"`
}

func (req createProtectionRequest) config() (domain.ProtectionConfig, error) {
	cfg := domain.ProtectionConfig{MaxSlippage: req.MaxSlippage, MaxImpact: req.MaxImpact}
	if req.ExpiresAfter != "" {
		d, err := time.ParseDuration(req.ExpiresAfter)
		if err != nil {
			return cfg, fmt.Errorf("expires_after: %w", err)
		}
		cfg.ExpiresAfter = d
	}
	return cfg, nil
}

// Create registers a protection and returns its initial analysis.
// POST /api/protections
func (h *ProtectionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createProtectionRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	cfg, err := req.config()
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	p, err := h.protector.CreateProtection(r.Context(), req.Symbol, req.Side, req.Size, cfg)
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

// List returns every registered protection.
// GET /api/protections
func (h *ProtectionHandler) List(w http.ResponseWriter, r *http.Request) {
	list := h.protector.List()
	if list == nil {
		list = []domain.Protection{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"protections": list})
}

// Get returns one protection.
// GET /api/protections/{id}
func (h *ProtectionHandler) Get(w http.ResponseWriter, r *http.Request) {
	p, err := h.protector.Get(pathParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

// Cancel stops monitoring a protection.
// DELETE /api/protections/{id}
func (h *ProtectionHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	p, err := h.protector.Cancel(r.Context(), id)
	if err != nil {
		h.logger.WarnContext(r.Context(), "handler: cancel protection failed",
			slog.String("protection_id", id),
			slog.String("error", err.Error()),
		)
		writeDomainError(w, err, nil)
		return
	}
	writeJSON(w, http.StatusOK, p)
}
