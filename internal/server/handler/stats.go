package handler

import (
	"log/slog"
	"net/http"
	"sort"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// StatsSource aggregates the learned state of the execution core.
type StatsSource interface {
	Stats() domain.ExecutionStats
}

// VenueLister enumerates configured venues and their markets.
type VenueLister interface {
	Names() []string
	Symbols() []string
	VenuesFor(symbol string) []string
}

// StatsHandler serves /api/stats.
type StatsHandler struct {
	stats  StatsSource
	venues VenueLister
	extra  func() map[string]any
	logger *slog.Logger
}

// NewStatsHandler creates a StatsHandler. extra, if set, contributes
// additional top-level sections (engine counters, outbox depth).
func NewStatsHandler(stats StatsSource, venues VenueLister, extra func() map[string]any, logger *slog.Logger) *StatsHandler {
	return &StatsHandler{stats: stats, venues: venues, extra: extra, logger: logger}
}

// Stats returns the full aggregate.
// GET /api/stats
func (h *StatsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	body := map[string]any{"execution": h.stats.Stats()}
	if h.extra != nil {
		for k, v := range h.extra() {
			body[k] = v
		}
	}
	writeJSON(w, http.StatusOK, body)
}

type venueView struct {
	Name        string                    `json:"name"`
	Symbols     []string                  `json:"symbols"`
	Performance []domain.VenuePerformance `json:"performance"`
}

// Venues lists each venue with its symbols and learned performance.
// GET /api/stats/venues
func (h *StatsHandler) Venues(w http.ResponseWriter, r *http.Request) {
	perf := h.stats.Stats().Venues
	views := make(map[string]*venueView)
	for _, name := range h.venues.Names() {
		views[name] = &venueView{Name: name, Symbols: []string{}, Performance: []domain.VenuePerformance{}}
	}
	for _, sym := range h.venues.Symbols() {
		for _, v := range h.venues.VenuesFor(sym) {
			if view, ok := views[v]; ok {
				view.Symbols = append(view.Symbols, sym)
			}
		}
	}
	for _, p := range perf {
		if view, ok := views[p.Venue]; ok {
			view.Performance = append(view.Performance, p)
		}
	}

	out := make([]venueView, 0, len(views))
	for _, v := range views {
		out = append(out, *v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	writeJSON(w, http.StatusOK, map[string]any{"venues": out})
}

// Policy returns the RL summary.
// GET /api/stats/policy
func (h *StatsHandler) Policy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats().Policy)
}

// TCA returns the cost analyzer summary.
// GET /api/stats/tca
func (h *StatsHandler) TCA(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.stats.Stats().TCA)
}
