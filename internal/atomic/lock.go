package atomic

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

// localLocks is the in-process LockManager used when no distributed lock
// manager is configured.
type localLocks struct {
	mu   sync.Mutex
	held map[string]struct{}
}

func newLocalLocks() *localLocks {
	return &localLocks{held: make(map[string]struct{})}
}

func (l *localLocks) Acquire(_ context.Context, key string, _ time.Duration) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, fmt.Errorf("atomic: lock %s: %w", key, domain.ErrLockHeld)
	}
	l.held[key] = struct{}{}
	return func() {
		l.mu.Lock()
		delete(l.held, key)
		l.mu.Unlock()
	}, nil
}

var _ domain.LockManager = (*localLocks)(nil)
