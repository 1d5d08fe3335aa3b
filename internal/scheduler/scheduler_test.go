package scheduler

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/config"
)

// stubHandler fails on demand and counts executions
type stubHandler struct {
	name     string
	failNext bool
	runs     int
}

func (h *stubHandler) Execute(_ context.Context) error {
	h.runs++
	if h.failNext {
		return errors.New("sweep backend unavailable")
	}
	return nil
}

func (h *stubHandler) GetName() string { return h.name }

func newTestScheduler() *Scheduler {
	return &Scheduler{
		config:       &config.Config{},
		logger:       slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
		cron:         cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		tasks:        make(map[string]*ScheduledTask),
		shutdownChan: make(chan struct{}),
	}
}

func TestScheduler_ExecuteTaskAccounting(t *testing.T) {
	s := newTestScheduler()
	handler := &stubHandler{name: "Test Sweep"}
	task := &ScheduledTask{
		ID:       "test_sweep",
		Name:     "Test Sweep",
		Schedule: "0 0 * * * *",
		Handler:  handler,
		Enabled:  true,
	}
	require.NoError(t, s.AddTask(task))

	s.executeTask(task)
	handler.failNext = true
	s.executeTask(task)

	snapshot := s.GetTasks()
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(2), snapshot[0].RunCount)
	assert.Equal(t, int64(1), snapshot[0].ErrorCount)
	assert.False(t, snapshot[0].LastRun.IsZero())
	assert.Equal(t, 2, handler.runs)
}

func TestScheduler_AddTaskRejectsDuplicates(t *testing.T) {
	s := newTestScheduler()
	task := &ScheduledTask{ID: "sweep", Schedule: "0 0 * * * *", Handler: &stubHandler{}, Enabled: true}
	require.NoError(t, s.AddTask(task))

	err := s.AddTask(&ScheduledTask{ID: "sweep", Schedule: "0 0 * * * *", Handler: &stubHandler{}, Enabled: true})
	assert.Error(t, err)
}

func TestScheduler_AddTaskRejectsBadSchedule(t *testing.T) {
	s := newTestScheduler()
	err := s.AddTask(&ScheduledTask{ID: "broken", Schedule: "not-a-cron-spec", Handler: &stubHandler{}, Enabled: true})
	assert.Error(t, err)
}

// Status reads must be safe while jobs are running and updating their
// statistics.
func TestScheduler_ConcurrentStatsAccess(t *testing.T) {
	s := newTestScheduler()
	task := &ScheduledTask{
		ID:       "busy_sweep",
		Schedule: "0 0 * * * *",
		Handler:  &stubHandler{name: "Busy Sweep"},
		Enabled:  true,
	}
	require.NoError(t, s.AddTask(task))

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			s.executeTask(task)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 100; i++ {
			for _, snap := range s.GetTasks() {
				_ = snap.RunCount
				_ = snap.LastRun
			}
		}
	}()
	wg.Wait()

	snapshot := s.GetTasks()
	require.Len(t, snapshot, 1)
	assert.Equal(t, int64(100), snapshot[0].RunCount)
}
