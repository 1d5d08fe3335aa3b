package notification

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/config"
	"taskforge/internal/directory"
)

// outcomeSink records delivery outcomes handed to the metrics hook
type outcomeSink struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

type recordedOutcome struct {
	channel string
	success bool
}

func (s *outcomeSink) RecordNotification(channel string, success bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.outcomes = append(s.outcomes, recordedOutcome{channel: channel, success: success})
}

func (s *outcomeSink) all() []recordedOutcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]recordedOutcome(nil), s.outcomes...)
}

func notificationTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func notificationTestConfig() config.NotificationsConfig {
	return config.NotificationsConfig{
		QueueSize:   8,
		WorkerCount: 1,
		Webhook: config.WebhookConfig{
			Enabled:    true,
			MaxRetries: 1,
			Timeout:    5 * time.Second,
		},
	}
}

func TestDeliver_RecordsOutcomePerChannel(t *testing.T) {
	var received atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		received.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	cfg := notificationTestConfig()
	cfg.Webhook.DefaultURL = server.URL

	sink := &outcomeSink{}
	m := NewManager(cfg, directory.NewInMemoryDirectory(), sink, notificationTestLogger())

	m.deliver(context.Background(), &Notification{
		ID:      "n-1",
		Channel: ChannelWebhook,
		Subject: "Task overdue",
		Body:    "Invoice INV-1 is overdue",
	})

	assert.Equal(t, int32(1), received.Load())
	outcomes := sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, ChannelWebhook, outcomes[0].channel)
	assert.True(t, outcomes[0].success)
	assert.Equal(t, 0, m.DrainRetries(context.Background()))
}

func TestDeliver_FailureQueuesRetryUntilBudgetExhausted(t *testing.T) {
	// Email stays disabled, so every send on that channel fails.
	sink := &outcomeSink{}
	m := NewManager(notificationTestConfig(), directory.NewInMemoryDirectory(), sink, notificationTestLogger())

	n := &Notification{
		ID:         "n-2",
		Channel:    ChannelEmail,
		Recipient:  "emp-1",
		Subject:    "Task assigned",
		MaxRetries: 1,
	}

	m.deliver(context.Background(), n)

	outcomes := sink.all()
	require.Len(t, outcomes, 1)
	assert.Equal(t, ChannelEmail, outcomes[0].channel)
	assert.False(t, outcomes[0].success)
	assert.NotEmpty(t, n.LastError)

	// First failure fits the retry budget and gets re-queued.
	assert.Equal(t, 1, m.DrainRetries(context.Background()))

	// Second failure exhausts the budget; nothing left to drain.
	m.deliver(context.Background(), n)
	assert.Equal(t, 2, n.Attempts)
	assert.Equal(t, 0, m.DrainRetries(context.Background()))
}

func TestDeliver_WebhookRejectionCountsAsFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	cfg := notificationTestConfig()
	cfg.Webhook.DefaultURL = server.URL

	sink := &outcomeSink{}
	m := NewManager(cfg, directory.NewInMemoryDirectory(), sink, notificationTestLogger())

	m.deliver(context.Background(), &Notification{
		ID:         "n-3",
		Channel:    ChannelWebhook,
		Subject:    "Grey area escalated",
		MaxRetries: 1,
	})

	outcomes := sink.all()
	require.Len(t, outcomes, 1)
	assert.False(t, outcomes[0].success)
	assert.Equal(t, 1, m.DrainRetries(context.Background()))
}

func TestDeliver_NilMetricsSink(t *testing.T) {
	m := NewManager(notificationTestConfig(), directory.NewInMemoryDirectory(), nil, notificationTestLogger())

	m.deliver(context.Background(), &Notification{
		ID:      "n-4",
		Channel: ChannelEmail,
	})
	// Disabled channel fails the send; a nil sink must not panic.
}

func TestResolveEmail(t *testing.T) {
	dir := directory.NewInMemoryDirectory()
	dir.AddEmployee(&directory.Employee{
		ID:     "emp-1",
		Email:  "pat@corp.example",
		Status: directory.StatusActive,
	})
	dir.AddEmployee(&directory.Employee{
		ID:     "emp-no-mail",
		Status: directory.StatusActive,
	})

	m := NewManager(notificationTestConfig(), dir, nil, notificationTestLogger())

	t.Run("employee id resolves through the directory", func(t *testing.T) {
		address, err := m.resolveEmail(context.Background(), "emp-1")
		require.NoError(t, err)
		assert.Equal(t, "pat@corp.example", address)
	})

	t.Run("raw address passes through", func(t *testing.T) {
		address, err := m.resolveEmail(context.Background(), "ops@corp.example")
		require.NoError(t, err)
		assert.Equal(t, "ops@corp.example", address)
	})

	t.Run("unknown employee fails", func(t *testing.T) {
		_, err := m.resolveEmail(context.Background(), "emp-missing")
		assert.Error(t, err)
	})

	t.Run("employee without email fails", func(t *testing.T) {
		_, err := m.resolveEmail(context.Background(), "emp-no-mail")
		assert.Error(t, err)
	})
}
