package executor

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestDedupWindow(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	d := NewDedup(time.Minute)
	d.now = func() time.Time { return now }

	assert.False(t, d.IsDuplicate("req-1"))
	assert.True(t, d.IsDuplicate("req-1"))
	assert.False(t, d.IsDuplicate("req-2"))

	now = now.Add(2 * time.Minute)
	assert.False(t, d.IsDuplicate("req-1"), "expired ids are accepted again")

	d.Cleanup()
	assert.Equal(t, 1, d.Len())

	d.Forget("req-1")
	assert.Equal(t, 0, d.Len())
}
