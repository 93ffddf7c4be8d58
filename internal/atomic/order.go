package atomic

import (
	"fmt"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

type visitState uint8

const (
	unvisited visitState = iota
	visiting
	visited
)

// TopologicalOrder returns the leg ids of tx so that every dependency
// precedes its dependents. Roots keep their declaration order.
func TopologicalOrder(tx *domain.Transaction) ([]string, error) {
	state := make(map[string]visitState, len(tx.Legs))
	order := make([]string, 0, len(tx.Legs))
	var stack []string

	var visit func(id string) error
	visit = func(id string) error {
		switch state[id] {
		case visited:
			return nil
		case visiting:
			start := 0
			for i, s := range stack {
				if s == id {
					start = i
					break
				}
			}
			cycle := append(append([]string(nil), stack[start:]...), id)
			return &domain.CircularDependencyError{TransactionID: tx.ID, Cycle: cycle}
		}

		leg := tx.Leg(id)
		if leg == nil {
			return fmt.Errorf("atomic: unknown leg %q: %w", id, domain.ErrInvalidOrder)
		}
		state[id] = visiting
		stack = append(stack, id)
		for _, dep := range leg.DependsOn {
			if err := visit(dep); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[id] = visited
		order = append(order, id)
		return nil
	}

	for _, l := range tx.Legs {
		if err := visit(l.ID); err != nil {
			return nil, err
		}
	}
	return order, nil
}
