package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"taskforge/internal/config"
)

// TaskHandler is one scheduled maintenance job
type TaskHandler interface {
	Execute(ctx context.Context) error
	GetName() string
}

// ScheduledTask tracks one registered cron job and its run statistics
type ScheduledTask struct {
	ID          string
	Name        string
	Schedule    string
	Handler     TaskHandler
	LastRun     time.Time
	NextRun     time.Time
	RunCount    int64
	ErrorCount  int64
	Enabled     bool
	cronEntryID cron.EntryID
}

// Scheduler runs the engine's periodic sweeps on cron schedules with second
// precision.
type Scheduler struct {
	config       *config.Config
	logger       *slog.Logger
	cron         *cron.Cron
	tasks        map[string]*ScheduledTask
	tasksMutex   sync.RWMutex
	shutdownChan chan struct{}
	wg           sync.WaitGroup
}

// NewScheduler creates a scheduler and registers the standard sweeps:
// overdue grey-area escalation, catalog reload, notification retry drain
// and retention cleanup.
func NewScheduler(
	cfg *config.Config,
	logger *slog.Logger,
	escalation *EscalationSweepHandler,
	catalogReload *CatalogReloadHandler,
	notificationDrain *NotificationDrainHandler,
	cleanup *RetentionCleanupHandler,
) (*Scheduler, error) {
	s := &Scheduler{
		config:       cfg,
		logger:       logger,
		cron:         cron.New(cron.WithSeconds(), cron.WithLocation(time.UTC)),
		tasks:        make(map[string]*ScheduledTask),
		shutdownChan: make(chan struct{}),
	}

	defaults := []*ScheduledTask{
		{
			ID:       "escalation_sweep",
			Name:     "Grey Area Escalation Sweep",
			Schedule: cfg.Scheduler.EscalationSweepSchedule,
			Handler:  escalation,
			Enabled:  true,
		},
		{
			ID:       "catalog_reload",
			Name:     "Rule Catalog Reload",
			Schedule: cfg.Scheduler.CatalogReloadSchedule,
			Handler:  catalogReload,
			Enabled:  true,
		},
		{
			ID:       "notification_drain",
			Name:     "Notification Retry Drain",
			Schedule: cfg.Scheduler.NotificationDrainSchedule,
			Handler:  notificationDrain,
			Enabled:  true,
		},
		{
			ID:       "retention_cleanup",
			Name:     "Retention Cleanup",
			Schedule: cfg.Scheduler.CleanupSchedule,
			Handler:  cleanup,
			Enabled:  true,
		},
	}

	for _, task := range defaults {
		if err := s.AddTask(task); err != nil {
			return nil, fmt.Errorf("failed to register task %s: %w", task.ID, err)
		}
	}

	return s, nil
}

// Start starts the cron loop
func (s *Scheduler) Start(ctx context.Context) error {
	s.logger.Info("Starting scheduler", "tasks", len(s.tasks))
	s.cron.Start()

	s.wg.Add(1)
	go s.monitoringRoutine(ctx)
	return nil
}

// Stop stops the scheduler and waits for running jobs
func (s *Scheduler) Stop() {
	s.logger.Info("Stopping scheduler")

	stopCtx := s.cron.Stop()
	<-stopCtx.Done()

	close(s.shutdownChan)
	s.wg.Wait()

	s.logger.Info("Scheduler stopped")
}

// AddTask registers a scheduled task
func (s *Scheduler) AddTask(task *ScheduledTask) error {
	s.tasksMutex.Lock()
	defer s.tasksMutex.Unlock()

	if _, exists := s.tasks[task.ID]; exists {
		return fmt.Errorf("task with ID %s already exists", task.ID)
	}
	s.tasks[task.ID] = task

	if task.Enabled {
		return s.scheduleTask(task)
	}
	return nil
}

// GetTasks returns a snapshot of every registered task. Copies, not the live
// records: run statistics keep changing under the mutex.
func (s *Scheduler) GetTasks() []ScheduledTask {
	s.tasksMutex.RLock()
	defer s.tasksMutex.RUnlock()

	tasks := make([]ScheduledTask, 0, len(s.tasks))
	for _, task := range s.tasks {
		tasks = append(tasks, *task)
	}
	return tasks
}

func (s *Scheduler) scheduleTask(task *ScheduledTask) error {
	entryID, err := s.cron.AddFunc(task.Schedule, func() {
		s.executeTask(task)
	})
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %w", task.ID, err)
	}

	task.cronEntryID = entryID
	s.refreshNextRunLocked(task)

	s.logger.Debug("Task scheduled",
		"task_id", task.ID,
		"schedule", task.Schedule,
		"next_run", task.NextRun)
	return nil
}

func (s *Scheduler) executeTask(task *ScheduledTask) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
	defer cancel()

	startTime := time.Now()
	s.tasksMutex.Lock()
	task.LastRun = startTime
	task.RunCount++
	s.tasksMutex.Unlock()

	// The handler runs outside the mutex; sweeps can take a while and must
	// not block status reads.
	err := task.Handler.Execute(ctx)

	s.tasksMutex.Lock()
	if err != nil {
		task.ErrorCount++
	}
	s.refreshNextRunLocked(task)
	s.tasksMutex.Unlock()

	if err != nil {
		s.logger.Error("Scheduled task failed",
			"task_id", task.ID,
			"task_name", task.Name,
			"error", err,
			"execution_time", time.Since(startTime))
	} else {
		s.logger.Debug("Scheduled task completed",
			"task_id", task.ID,
			"execution_time", time.Since(startTime))
	}
}

// refreshNextRunLocked requires the caller to hold tasksMutex
func (s *Scheduler) refreshNextRunLocked(task *ScheduledTask) {
	for _, entry := range s.cron.Entries() {
		if entry.ID == task.cronEntryID {
			task.NextRun = entry.Next
			break
		}
	}
}

// monitoringRoutine periodically logs scheduler health
func (s *Scheduler) monitoringRoutine(ctx context.Context) {
	defer s.wg.Done()

	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownChan:
			return
		case <-ticker.C:
			s.tasksMutex.RLock()
			for _, task := range s.tasks {
				s.logger.Debug("Scheduled task status",
					"task_id", task.ID,
					"run_count", task.RunCount,
					"error_count", task.ErrorCount,
					"last_run", task.LastRun,
					"next_run", task.NextRun)
			}
			s.tasksMutex.RUnlock()
		}
	}
}
