package bolt

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

func openTemp(t *testing.T) (*LearningStore, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "learning.db")
	s, err := Open(path)
	require.NoError(t, err)
	return s, path
}

func TestEmptyStore(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	entries, eps, err := s.LoadQTable()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, eps)

	perf, err := s.LoadVenuePerformance()
	require.NoError(t, err)
	assert.Empty(t, perf)

	_, ok := s.SavedAt()
	assert.False(t, ok)
}

func TestQTableSurvivesReopen(t *testing.T) {
	s, path := openTemp(t)
	at := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, s.SaveQTable([]domain.QEntry{
		{Key: "a#DIRECT:alpha", Value: 0.4, Visits: 3, UpdatedAt: at},
		{Key: "a#DIRECT:beta", Value: -0.1, Visits: 1, UpdatedAt: at},
	}, 0.12))
	require.NoError(t, s.Close())

	s, err := Open(path)
	require.NoError(t, err)
	defer s.Close()

	entries, eps, err := s.LoadQTable()
	require.NoError(t, err)
	assert.InDelta(t, 0.12, eps, 1e-12)
	require.Len(t, entries, 2)
	assert.Equal(t, "a#DIRECT:alpha", entries[0].Key)
	assert.InDelta(t, 0.4, entries[0].Value, 1e-12)
	assert.Equal(t, 3, entries[0].Visits)
	assert.True(t, at.Equal(entries[0].UpdatedAt))

	_, ok := s.SavedAt()
	assert.True(t, ok)
}

func TestSaveReplacesPreviousSnapshot(t *testing.T) {
	s, _ := openTemp(t)
	defer s.Close()

	require.NoError(t, s.SaveVenuePerformance([]domain.VenuePerformance{
		{Venue: "alpha", Symbol: "BTC/USDT", Samples: 5},
		{Venue: "beta", Symbol: "BTC/USDT", Samples: 2},
	}))
	require.NoError(t, s.SaveVenuePerformance([]domain.VenuePerformance{
		{Venue: "beta", Symbol: "BTC/USDT", Samples: 9, SuccessRate: 0.9},
	}))

	perf, err := s.LoadVenuePerformance()
	require.NoError(t, err)
	require.Len(t, perf, 1)
	assert.Equal(t, "beta", perf[0].Venue)
	assert.Equal(t, 9, perf[0].Samples)

	require.NoError(t, s.SaveQTable([]domain.QEntry{{Key: "x"}}, 0.3))
	require.NoError(t, s.SaveQTable(nil, 0.2))
	entries, eps, err := s.LoadQTable()
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.InDelta(t, 0.2, eps, 1e-12)
}
