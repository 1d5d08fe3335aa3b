package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/greyarea"
	"taskforge/internal/notification"
	"taskforge/internal/rules"
)

// overdueSweepBatchSize bounds one escalation sweep so a large backlog is
// worked off across runs instead of one unbounded pass.
const overdueSweepBatchSize = 200

// EscalationSweepHandler auto-escalates grey areas whose resolution deadline
// has passed while they sit in a non-terminal status.
type EscalationSweepHandler struct {
	greyAreaRepo *database.GreyAreaRepository
	lifecycle    *greyarea.Lifecycle
	logger       *slog.Logger
}

// NewEscalationSweepHandler creates the overdue grey-area sweep
func NewEscalationSweepHandler(greyAreaRepo *database.GreyAreaRepository, lifecycle *greyarea.Lifecycle, logger *slog.Logger) *EscalationSweepHandler {
	return &EscalationSweepHandler{
		greyAreaRepo: greyAreaRepo,
		lifecycle:    lifecycle,
		logger:       logger,
	}
}

// Execute escalates every overdue grey area that still has escalation
// headroom. Areas at the ceiling are logged and left for human attention.
func (h *EscalationSweepHandler) Execute(ctx context.Context) error {
	overdue, err := h.greyAreaRepo.ListOverdue(ctx, time.Now(), overdueSweepBatchSize)
	if err != nil {
		return fmt.Errorf("failed to list overdue grey areas: %w", err)
	}
	if len(overdue) == 0 {
		return nil
	}

	escalated := 0
	atCeiling := 0
	for _, ga := range overdue {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		_, err := h.lifecycle.AutoEscalate(ctx, ga)
		if errors.Is(err, greyarea.ErrEscalationCeiling) {
			atCeiling++
			continue
		}
		if err != nil {
			h.logger.Error("Failed to auto-escalate overdue grey area",
				"grey_area_id", ga.ID,
				"error", err)
			continue
		}
		escalated++
	}

	h.logger.Info("Escalation sweep completed",
		"overdue", len(overdue),
		"escalated", escalated,
		"at_ceiling", atCeiling)
	return nil
}

// GetName returns the handler name
func (h *EscalationSweepHandler) GetName() string {
	return "Grey Area Escalation Sweep"
}

// CatalogReloadHandler re-reads the rule catalog from disk so edited rule
// documents take effect without a restart.
type CatalogReloadHandler struct {
	catalog *rules.Catalog
	logger  *slog.Logger
}

// NewCatalogReloadHandler creates the catalog reload job
func NewCatalogReloadHandler(catalog *rules.Catalog, logger *slog.Logger) *CatalogReloadHandler {
	return &CatalogReloadHandler{catalog: catalog, logger: logger}
}

// Execute reloads the catalog. A failed reload keeps the previous snapshot.
func (h *CatalogReloadHandler) Execute(ctx context.Context) error {
	if err := h.catalog.Load(); err != nil {
		return fmt.Errorf("failed to reload rule catalog: %w", err)
	}
	return nil
}

// GetName returns the handler name
func (h *CatalogReloadHandler) GetName() string {
	return "Rule Catalog Reload"
}

// NotificationDrainHandler re-queues failed notification deliveries that
// still have retry budget.
type NotificationDrainHandler struct {
	manager *notification.Manager
	logger  *slog.Logger
}

// NewNotificationDrainHandler creates the notification drain job
func NewNotificationDrainHandler(manager *notification.Manager, logger *slog.Logger) *NotificationDrainHandler {
	return &NotificationDrainHandler{manager: manager, logger: logger}
}

// Execute drains the retry backlog back into the delivery queue
func (h *NotificationDrainHandler) Execute(ctx context.Context) error {
	h.manager.DrainRetries(ctx)
	return nil
}

// GetName returns the handler name
func (h *NotificationDrainHandler) GetName() string {
	return "Notification Retry Drain"
}

// RetentionCleanupHandler purges terminal tasks and grey areas past their
// retention windows.
type RetentionCleanupHandler struct {
	taskRepo     *database.TaskRepository
	greyAreaRepo *database.GreyAreaRepository
	config       *config.Config
	logger       *slog.Logger
}

// NewRetentionCleanupHandler creates the retention cleanup job
func NewRetentionCleanupHandler(
	taskRepo *database.TaskRepository,
	greyAreaRepo *database.GreyAreaRepository,
	cfg *config.Config,
	logger *slog.Logger,
) *RetentionCleanupHandler {
	return &RetentionCleanupHandler{
		taskRepo:     taskRepo,
		greyAreaRepo: greyAreaRepo,
		config:       cfg,
		logger:       logger,
	}
}

// Execute soft deletes terminal records older than the retention windows
func (h *RetentionCleanupHandler) Execute(ctx context.Context) error {
	taskCutoff := time.Now().AddDate(0, 0, -h.config.Scheduler.TaskRetentionDays)
	tasksCleaned, err := h.taskRepo.DeleteTerminalOlderThan(ctx, taskCutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up old tasks: %w", err)
	}

	greyCutoff := time.Now().AddDate(0, 0, -h.config.Scheduler.GreyAreaRetentionDays)
	greyCleaned, err := h.greyAreaRepo.DeleteTerminalOlderThan(ctx, greyCutoff)
	if err != nil {
		return fmt.Errorf("failed to clean up old grey areas: %w", err)
	}

	h.logger.Info("Retention cleanup completed",
		"tasks_cleaned", tasksCleaned,
		"grey_areas_cleaned", greyCleaned,
		"task_retention_days", h.config.Scheduler.TaskRetentionDays,
		"grey_area_retention_days", h.config.Scheduler.GreyAreaRetentionDays)
	return nil
}

// GetName returns the handler name
func (h *RetentionCleanupHandler) GetName() string {
	return "Retention Cleanup"
}
