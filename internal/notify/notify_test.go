package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/smartexec/internal/domain"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

type recorder struct {
	mu     sync.Mutex
	name   string
	err    error
	titles []string
}

func (r *recorder) Send(_ context.Context, title, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.titles = append(r.titles, title)
	return r.err
}

func (r *recorder) Name() string { return r.name }

func (r *recorder) sent() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.titles...)
}

type busLog struct {
	mu        sync.Mutex
	published []string
	streamed  []string
}

func (b *busLog) Publish(_ context.Context, channel string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.published = append(b.published, channel)
	return nil
}
func (b *busLog) Subscribe(context.Context, string) (<-chan []byte, error) { return nil, nil }
func (b *busLog) StreamAppend(_ context.Context, stream string, _ []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.streamed = append(b.streamed, stream)
	return nil
}
func (b *busLog) StreamRead(context.Context, string, string, int) ([]domain.StreamMessage, error) {
	return nil, nil
}

func TestNotifierFilters(t *testing.T) {
	rec := &recorder{name: "rec"}
	n := NewNotifier([]Sender{rec}, []string{domain.EventEmergencyStop, " "}, domain.SeverityWarning, quiet())

	ctx := context.Background()
	require.NoError(t, n.Notify(ctx, domain.Alert{Event: domain.EventExecution, Severity: domain.SeverityCritical, Title: "skip"}))
	require.NoError(t, n.Notify(ctx, domain.Alert{Event: domain.EventEmergencyStop, Severity: domain.SeverityInfo, Title: "low"}))
	require.NoError(t, n.Notify(ctx, domain.Alert{Event: domain.EventEmergencyStop, Severity: domain.SeverityCritical, Title: "stop"}))

	assert.Equal(t, []string{"[CRITICAL] stop"}, rec.sent())
}

func TestNotifierCollectsSenderErrors(t *testing.T) {
	good := &recorder{name: "good"}
	bad := &recorder{name: "bad", err: errors.New("503")}
	n := NewNotifier([]Sender{bad, good}, nil, "", quiet())

	err := n.Notify(context.Background(), domain.Alert{Event: "x", Severity: domain.SeverityInfo, Title: "t"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad: 503")
	assert.Len(t, good.sent(), 1)
	assert.Equal(t, []string{"bad", "good"}, n.Senders())
}

func TestBodyListsSortedFields(t *testing.T) {
	body := Body(domain.Alert{Message: "slippage high", Fields: map[string]any{"symbol": "BTC/USDT", "score": 0.9}})
	assert.Equal(t, "slippage high\nscore: 0.9\nsymbol: BTC/USDT", body)
	assert.Equal(t, "[WARNING] risk_veto", Title(domain.Alert{Event: domain.EventRiskVeto, Severity: domain.SeverityWarning}))
}

func TestOutboxDropsWhenFull(t *testing.T) {
	o := NewOutbox(1, nil, nil, quiet())
	assert.True(t, o.Emit(domain.Alert{Event: "a"}))
	assert.False(t, o.Emit(domain.Alert{Event: "b"}))
	assert.Equal(t, 1, o.Pending())
	assert.Equal(t, int64(1), o.Dropped())
}

func TestOutboxRunDeliversAndPublishes(t *testing.T) {
	rec := &recorder{name: "rec"}
	bus := &busLog{}
	o := NewOutbox(8, NewNotifier([]Sender{rec}, nil, "", quiet()), bus, quiet())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = o.Run(ctx)
		close(done)
	}()

	require.True(t, o.Emit(domain.Alert{Event: domain.EventRollbackManual, Severity: domain.SeverityCritical, Title: "review"}))
	assert.Eventually(t, func() bool { return o.Delivered() == 1 }, time.Second, 10*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"[CRITICAL] review"}, rec.sent())
	assert.Equal(t, []string{domain.ChannelAlerts}, bus.published)
	assert.Equal(t, []string{domain.StreamAlerts}, bus.streamed)
}

func TestOutboxFlushesOnShutdown(t *testing.T) {
	rec := &recorder{name: "rec"}
	o := NewOutbox(8, NewNotifier([]Sender{rec}, nil, "", quiet()), nil, quiet())
	o.Emit(domain.Alert{Title: "one"})
	o.Emit(domain.Alert{Title: "two"})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, o.Run(ctx))
	assert.Len(t, rec.sent(), 2)
	assert.Zero(t, o.Pending())
}

func TestTelegramSender(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	s := NewTelegramSender(srv.URL+"/", "TOKEN", "42")
	require.NoError(t, s.Send(context.Background(), "title", "body"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Contains(t, got["text"], "*title*")
}

func TestDiscordSenderErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte("slow down"))
	}))
	defer srv.Close()

	err := NewDiscordSender(srv.URL).Send(context.Background(), "t", "m")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
	assert.Contains(t, err.Error(), "slow down")
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "abc", truncate("abc", 5))
	assert.Equal(t, "ab…", truncate("abcdef", 3))
}
