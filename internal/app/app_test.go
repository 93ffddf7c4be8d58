package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/config"
	"github.com/alanyoungcy/smartexec/internal/domain"
	"github.com/alanyoungcy/smartexec/internal/store/bolt"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type streamBus struct {
	messages []domain.StreamMessage
	lastIDs  []string
}

func (b *streamBus) Publish(context.Context, string, []byte) error { return nil }
func (b *streamBus) Subscribe(context.Context, string) (<-chan []byte, error) {
	return nil, errors.New("not supported")
}
func (b *streamBus) StreamAppend(context.Context, string, []byte) error { return nil }

// StreamRead returns the entries after lastID, assuming ids sort as strings.
func (b *streamBus) StreamRead(_ context.Context, _ string, lastID string, count int) ([]domain.StreamMessage, error) {
	b.lastIDs = append(b.lastIDs, lastID)
	var out []domain.StreamMessage
	for _, m := range b.messages {
		if m.ID > lastID && len(out) < count {
			out = append(out, m)
		}
	}
	return out, nil
}

type queue struct {
	capacity int
	got      []domain.ExecutionRequest
}

func (q *queue) Enqueue(req domain.ExecutionRequest) bool {
	if len(q.got) >= q.capacity {
		return false
	}
	q.got = append(q.got, req)
	return true
}

func TestRequestIntakeEnqueuesAndSkipsMalformed(t *testing.T) {
	bus := &streamBus{messages: []domain.StreamMessage{
		{ID: "100-0", Payload: []byte(`{"id":"r1","symbol":"BTC/USDT","side":"buy","amount":1}`)},
		{ID: "100-1", Payload: []byte(`not json`)},
		{ID: "100-2", Payload: []byte(`{"symbol":"ETH/USDT","side":"sell","amount":2}`)},
	}}
	q := &queue{capacity: 10}
	in := NewRequestIntake(bus, q, 0, testLogger())
	in.lastID = "0"

	n, err := in.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, q.got, 2)
	assert.Equal(t, "r1", q.got[0].ID)
	assert.Equal(t, "100-2", q.got[1].ID, "entry id stands in for a missing request id")
	assert.Equal(t, "100-2", in.lastID)

	n, err = in.Poll(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestRequestIntakeRetriesWhenQueueFull(t *testing.T) {
	bus := &streamBus{messages: []domain.StreamMessage{
		{ID: "200-0", Payload: []byte(`{"id":"a","symbol":"BTC/USDT","side":"buy","amount":1}`)},
		{ID: "200-1", Payload: []byte(`{"id":"b","symbol":"BTC/USDT","side":"buy","amount":1}`)},
	}}
	q := &queue{capacity: 1}
	in := NewRequestIntake(bus, q, 0, testLogger())
	in.lastID = "0"

	n, err := in.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, "200-0", in.lastID)

	q.capacity = 2
	n, err = in.Poll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"0", "200-0"}, bus.lastIDs)
	assert.Equal(t, "b", q.got[1].ID)
}

type stubQ struct {
	entries  []domain.QEntry
	epsilon  float64
	restored bool
	fail     bool
}

func (s *stubQ) Snapshot() ([]domain.QEntry, float64) { return s.entries, s.epsilon }
func (s *stubQ) Restore(entries []domain.QEntry, epsilon float64) error {
	if s.fail {
		return errors.New("bad snapshot")
	}
	s.entries, s.epsilon, s.restored = entries, epsilon, true
	return nil
}

type stubPerf struct {
	perf []domain.VenuePerformance
}

func (s *stubPerf) Snapshot() []domain.VenuePerformance { return s.perf }
func (s *stubPerf) Restore(perf []domain.VenuePerformance) {
	s.perf = perf
}

func TestLearningSnapshotRoundTrip(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	defer store.Close()

	src := &stubQ{entries: []domain.QEntry{{Key: "s#DIRECT:alpha", Value: 0.5, Visits: 2}}, epsilon: 0.2}
	srcPerf := &stubPerf{perf: []domain.VenuePerformance{{Venue: "alpha", Symbol: "BTC/USDT", Samples: 4}}}
	require.NoError(t, saveLearning(store, src, srcPerf))

	dst := &stubQ{}
	dstPerf := &stubPerf{}
	restoreLearning(store, dst, dstPerf, testLogger())
	assert.True(t, dst.restored)
	assert.InDelta(t, 0.2, dst.epsilon, 1e-12)
	require.Len(t, dst.entries, 1)
	assert.Equal(t, "s#DIRECT:alpha", dst.entries[0].Key)
	require.Len(t, dstPerf.perf, 1)
	assert.Equal(t, 4, dstPerf.perf[0].Samples)
}

func TestRestoreLearningKeepsFreshStateOnBadSnapshot(t *testing.T) {
	store, err := bolt.Open(filepath.Join(t.TempDir(), "learning.db"))
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.SaveQTable([]domain.QEntry{{Key: "x#y"}}, 0.1))

	dst := &stubQ{fail: true}
	restoreLearning(store, dst, &stubPerf{}, testLogger())
	assert.False(t, dst.restored)
}

func TestBuildVenuesFromDefaults(t *testing.T) {
	registry, err := buildVenues(context.Background(), config.Defaults().Venues, testLogger())
	require.NoError(t, err)
	assert.Equal(t, []string{"alpha", "beta"}, registry.Names())
	assert.ElementsMatch(t, []string{"alpha", "beta"}, registry.VenuesFor("BTC/USDT"))

	m, ok := registry.Market("alpha", "ETH/USDT")
	require.True(t, ok)
	assert.Equal(t, "ETH", m.Base)
	assert.Equal(t, "USDT", m.Quote)
}

func TestBuildVenuesRejectsUnknownKind(t *testing.T) {
	_, err := buildVenues(context.Background(), []config.VenueConfig{{Name: "x", Kind: "ccxt"}}, testLogger())
	assert.ErrorContains(t, err, `unsupported kind "ccxt"`)
}

func TestWireWithoutExternalServices(t *testing.T) {
	cfg := config.Defaults()
	cfg.Learning.BoltPath = filepath.Join(t.TempDir(), "learning.db")

	deps, cleanup, err := Wire(context.Background(), &cfg, testLogger())
	require.NoError(t, err)
	defer cleanup()

	assert.Nil(t, deps.Postgres)
	assert.Nil(t, deps.Redis)
	assert.Nil(t, deps.Archiver)
	assert.Nil(t, deps.SignalBus)
	assert.NotNil(t, deps.Learning)
	assert.NotNil(t, deps.Executor)
	assert.NotNil(t, deps.Engine)
	assert.Equal(t, []string{"alpha", "beta"}, deps.Venues.Names())

	checks := healthChecks(deps)
	require.Contains(t, checks, "venues")
	assert.NotContains(t, checks, "postgres")
	assert.NoError(t, checks["venues"](context.Background()))
}

func TestArchiveModeNeedsArchiver(t *testing.T) {
	cfg := config.Defaults()
	a := New(&cfg, testLogger())
	err := a.ArchiveMode(context.Background(), &Dependencies{})
	assert.ErrorContains(t, err, "archiver unavailable")
}

func TestIgnoreCanceled(t *testing.T) {
	assert.NoError(t, ignoreCanceled(context.Canceled))
	assert.NoError(t, ignoreCanceled(fmt.Errorf("loop: %w", context.Canceled)))
	assert.NoError(t, ignoreCanceled(nil))
	assert.Error(t, ignoreCanceled(errors.New("boom")))
}
