// Package venue holds venue connectivity: the registry of clients, the paper
// venue, consolidated market data and cross-venue price validation.
package venue

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// Registry maps venue names to clients and caches their market metadata.
type Registry struct {
	mu      sync.RWMutex
	clients map[string]domain.VenueClient
	markets map[string]map[string]domain.Market
	order   []string
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		clients: make(map[string]domain.VenueClient),
		markets: make(map[string]map[string]domain.Market),
	}
}

// Register loads the client's markets and adds it.
func (r *Registry) Register(ctx context.Context, c domain.VenueClient) error {
	markets, err := c.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("venue: register %s: load markets: %w", c.Name(), err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.clients[c.Name()]; ok {
		return fmt.Errorf("venue: register %s: %w", c.Name(), domain.ErrAlreadyExists)
	}
	r.clients[c.Name()] = c
	r.markets[c.Name()] = markets
	r.order = append(r.order, c.Name())
	return nil
}

// Get returns the client for name.
func (r *Registry) Get(name string) (domain.VenueClient, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[name]
	if !ok {
		return nil, fmt.Errorf("venue: %s: %w", name, domain.ErrNotFound)
	}
	return c, nil
}

// Names returns venue names in registration order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// Market returns the metadata of symbol on venue.
func (r *Registry) Market(venue, symbol string) (domain.Market, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.markets[venue][symbol]
	return m, ok
}

// VenuesFor returns the venues listing an active symbol, in registration
// order.
func (r *Registry) VenuesFor(symbol string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []string
	for _, name := range r.order {
		if m, ok := r.markets[name][symbol]; ok && m.Active {
			out = append(out, name)
		}
	}
	return out
}

// Symbols returns every symbol listed on at least one venue, sorted.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := make(map[string]struct{})
	for _, ms := range r.markets {
		for sym := range ms {
			seen[sym] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for sym := range seen {
		out = append(out, sym)
	}
	sort.Strings(out)
	return out
}
