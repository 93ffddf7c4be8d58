package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

// writeJSON marshals v as JSON and writes it with the given status. If
// marshaling fails it falls back to a plain 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error      string   `json:"error"`
	Violations []string `json:"violations,omitempty"`
	Result     any      `json:"result,omitempty"`
}

// writeError sends a JSON error with a message only.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps err onto a status code and writes it. result, when
// non-nil, is attached so partial outcomes are not lost.
func writeDomainError(w http.ResponseWriter, err error, result any) {
	body := errorResponse{Error: err.Error(), Result: result}
	var verr *domain.ValidationError
	if errors.As(err, &verr) {
		body.Violations = verr.Violations
	}
	writeJSON(w, statusFor(err), body)
}

// statusFor maps the domain fault taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidOrder), errors.Is(err, domain.ErrCircularDependency):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicate), errors.Is(err, domain.ErrLockHeld),
		errors.Is(err, domain.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, domain.ErrRiskVeto):
		return http.StatusUnprocessableEntity
	case errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrVenueRejected), errors.Is(err, domain.ErrRollbackPartial):
		return http.StatusBadGateway
	case errors.Is(err, domain.ErrDataUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// decodeJSON reads a bounded JSON body into v, rejecting unknown fields.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("invalid request body: %w", err)
	}
	return nil
}

// pathParam extracts a named path parameter (Go 1.22 routing).
func pathParam(r *http.Request, name string) string {
	return r.PathValue(name)
}
