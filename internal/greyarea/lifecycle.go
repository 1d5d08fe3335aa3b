package greyarea

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
	"taskforge/internal/engine"
)

// Lifecycle operation errors. ErrInvalidTransition and ErrEscalationCeiling
// are rejected before anything is persisted.
var (
	ErrInvalidTransition = errors.New("invalid grey area transition")
	ErrEscalationCeiling = errors.New("escalation level ceiling reached")
	ErrAssigneeRequired  = errors.New("assignee is required")
	ErrNoInputsRequested = errors.New("no input slots requested")
	ErrInputSlotNotFound = errors.New("input slot not found")
)

// transitions maps each lifecycle operation to the statuses it may run from.
// Terminal statuses (resolved, dismissed) accept nothing.
var transitions = map[string][]string{
	"assign":        {database.GreyAreaDetected, database.GreyAreaUnderReview, database.GreyAreaEscalated},
	"escalate":      {database.GreyAreaDetected, database.GreyAreaUnderReview, database.GreyAreaPendingInput, database.GreyAreaEscalated},
	"request_input": {database.GreyAreaUnderReview, database.GreyAreaDetected, database.GreyAreaEscalated},
	"provide_input": {database.GreyAreaPendingInput},
	"resolve":       {database.GreyAreaUnderReview, database.GreyAreaEscalated},
	"dismiss":       {database.GreyAreaDetected, database.GreyAreaUnderReview, database.GreyAreaPendingInput, database.GreyAreaEscalated},
}

func allowed(op, status string) bool {
	for _, s := range transitions[op] {
		if s == status {
			return true
		}
	}
	return false
}

// InputRequest is one question asked of a human reviewer
type InputRequest struct {
	Question string `json:"question" binding:"required"`
	Required bool   `json:"required"`
}

// InputResponse answers one previously requested input slot by index
type InputResponse struct {
	Slot     int    `json:"slot"`
	Response string `json:"response" binding:"required"`
}

// FollowUpTask describes a task to spawn from a resolution
type FollowUpTask struct {
	Title       string `json:"title" binding:"required"`
	Description string `json:"description"`
	Type        string `json:"type" binding:"required"`
	Priority    string `json:"priority"`
	AssigneeID  string `json:"assignee_id,omitempty"`
	DueInDays   int    `json:"due_in_days,omitempty"`
}

// Resolution is the recorded outcome of a resolved grey area
type Resolution struct {
	Outcome       string         `json:"outcome" binding:"required"`
	Notes         string         `json:"notes,omitempty"`
	FollowUpTasks []FollowUpTask `json:"follow_up_tasks,omitempty"`
}

// Lifecycle runs the grey-area review state machine. Every operation
// validates the transition, appends exactly one activity log entry and
// persists the status and log in one write.
type Lifecycle struct {
	cfg      *config.Config
	logger   *slog.Logger
	repo     GreyAreaStore
	taskRepo TaskStore
	dir      directory.Directory
	workload directory.WorkloadCounter
	notifier Notifier
	producer Publisher
}

// NewLifecycle creates a grey-area lifecycle service
func NewLifecycle(
	cfg *config.Config,
	logger *slog.Logger,
	repo GreyAreaStore,
	taskRepo TaskStore,
	dir directory.Directory,
	workload directory.WorkloadCounter,
	notifier Notifier,
	producer Publisher,
) *Lifecycle {
	return &Lifecycle{
		cfg:      cfg,
		logger:   logger,
		repo:     repo,
		taskRepo: taskRepo,
		dir:      dir,
		workload: workload,
		notifier: notifier,
		producer: producer,
	}
}

// Assign hands the grey area to a named reviewer and moves it under review.
// Unlike task assignment, a reviewer is mandatory here: an unknown or
// inactive assignee fails the operation.
func (l *Lifecycle) Assign(ctx context.Context, id, assigneeID, actor string) (*database.GreyArea, error) {
	if assigneeID == "" {
		return nil, ErrAssigneeRequired
	}

	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("assign", ga.Status) {
		return nil, fmt.Errorf("%w: cannot assign from status %s", ErrInvalidTransition, ga.Status)
	}

	emp, err := l.dir.GetByID(ctx, assigneeID)
	if errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("assignee %s not found in directory", assigneeID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify assignee: %w", err)
	}
	if !emp.Active() {
		return nil, fmt.Errorf("assignee %s is not active (status %s)", assigneeID, emp.Status)
	}

	ga.AssignedTo = &assigneeID
	ga.Status = database.GreyAreaUnderReview
	l.logEntry(ga, "assigned", actor, fmt.Sprintf("assigned to %s", emp.Name))

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}

	if l.notifier != nil {
		l.notifier.NotifyGreyAreaAssigned(ctx, ga)
	}
	return ga, nil
}

// Escalate raises the escalation level, records the hop and reassigns the
// grey area to the escalation target. The level is capped by configuration;
// escalating past the ceiling is rejected.
func (l *Lifecycle) Escalate(ctx context.Context, id, to, reason, actor string) (*database.GreyArea, error) {
	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("escalate", ga.Status) {
		return nil, fmt.Errorf("%w: cannot escalate from status %s", ErrInvalidTransition, ga.Status)
	}
	if ga.CurrentEscalationLevel >= l.cfg.GreyArea.MaxEscalationLevel {
		return nil, fmt.Errorf("%w: level %d", ErrEscalationCeiling, ga.CurrentEscalationLevel)
	}

	from := ""
	if ga.AssignedTo != nil {
		from = *ga.AssignedTo
	}

	record := database.EscalationRecord{
		Level:       ga.CurrentEscalationLevel + 1,
		From:        from,
		To:          to,
		Reason:      reason,
		EscalatedAt: time.Now(),
	}

	ga.CurrentEscalationLevel = record.Level
	ga.Escalations = append(ga.Escalations, record)
	if to != "" {
		ga.AssignedTo = &to
	}
	ga.Status = database.GreyAreaEscalated
	l.logEntry(ga, "escalated", actor,
		fmt.Sprintf("escalated to level %d: %s", record.Level, reason))

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}

	l.logger.Warn("Grey area escalated",
		"grey_area_id", ga.ID,
		"level", record.Level,
		"to", to,
		"reason", reason)

	if l.cfg.GreyArea.NotifyOnEscalation && l.notifier != nil {
		l.notifier.NotifyGreyAreaEscalated(ctx, ga, record)
	}
	if l.producer != nil {
		if err := l.producer.PublishGreyAreaEscalated(ctx, ga, record); err != nil {
			l.logger.Error("Failed to publish grey area escalated message",
				"grey_area_id", ga.ID, "error", err)
		}
	}
	return ga, nil
}

// AutoEscalate is the scheduler's deadline sweep escalation: target the
// department head when one exists, otherwise keep the current assignee and
// only raise the level. Ceiling-reached areas are left alone.
func (l *Lifecycle) AutoEscalate(ctx context.Context, ga *database.GreyArea) (*database.GreyArea, error) {
	if ga.CurrentEscalationLevel >= l.cfg.GreyArea.MaxEscalationLevel {
		return nil, fmt.Errorf("%w: level %d", ErrEscalationCeiling, ga.CurrentEscalationLevel)
	}

	target := ""
	head, err := l.dir.DepartmentHead(ctx, ga.Subsidiary, ga.Department)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return nil, fmt.Errorf("failed to look up escalation target: %w", err)
	}
	if head != nil && head.Active() {
		target = head.ID
	}

	return l.Escalate(ctx, ga.ID, target, "resolution deadline exceeded", "system")
}

// RequestInput appends input slots and parks the grey area pending input
func (l *Lifecycle) RequestInput(ctx context.Context, id string, requests []InputRequest, actor string) (*database.GreyArea, error) {
	if len(requests) == 0 {
		return nil, ErrNoInputsRequested
	}

	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("request_input", ga.Status) {
		return nil, fmt.Errorf("%w: cannot request input from status %s", ErrInvalidTransition, ga.Status)
	}

	now := time.Now()
	for _, req := range requests {
		ga.InputsRequired = append(ga.InputsRequired, database.InputSlot{
			Question:    req.Question,
			Required:    req.Required,
			RequestedAt: now,
		})
	}
	ga.Status = database.GreyAreaPendingInput
	l.logEntry(ga, "input_requested", actor, fmt.Sprintf("%d input slot(s) requested", len(requests)))

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}
	return ga, nil
}

// ProvideInput records responses into requested slots. The grey area returns
// to under_review only once every required slot holds a response; otherwise
// it stays pending_input waiting for the rest.
func (l *Lifecycle) ProvideInput(ctx context.Context, id string, responses []InputResponse, actor string) (*database.GreyArea, error) {
	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("provide_input", ga.Status) {
		return nil, fmt.Errorf("%w: cannot provide input from status %s", ErrInvalidTransition, ga.Status)
	}

	now := time.Now()
	for _, resp := range responses {
		if resp.Slot < 0 || resp.Slot >= len(ga.InputsRequired) {
			return nil, fmt.Errorf("%w: slot %d", ErrInputSlotNotFound, resp.Slot)
		}
		response := resp.Response
		ga.InputsRequired[resp.Slot].Response = &response
		ga.InputsRequired[resp.Slot].RespondedAt = &now
	}

	action := "input_provided"
	details := fmt.Sprintf("%d response(s) recorded", len(responses))
	if requiredInputsComplete(ga.InputsRequired) {
		ga.Status = database.GreyAreaUnderReview
		details += "; all required inputs complete, back under review"
	}
	l.logEntry(ga, action, actor, details)

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}
	return ga, nil
}

// Resolve closes the grey area with a recorded outcome and spawns any
// follow-up tasks the resolution calls for.
func (l *Lifecycle) Resolve(ctx context.Context, id string, resolution Resolution, actor string) (*database.GreyArea, error) {
	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("resolve", ga.Status) {
		return nil, fmt.Errorf("%w: cannot resolve from status %s", ErrInvalidTransition, ga.Status)
	}

	var followUpIDs []string
	for _, ft := range resolution.FollowUpTasks {
		task, err := l.spawnFollowUp(ctx, ga, ft)
		if err != nil {
			return nil, fmt.Errorf("failed to create follow-up task: %w", err)
		}
		followUpIDs = append(followUpIDs, task.ID)
	}

	now := time.Now()
	ga.Status = database.GreyAreaResolved
	ga.Resolution = database.JSONMap{
		"outcome": resolution.Outcome,
		"notes":   resolution.Notes,
	}
	if len(followUpIDs) > 0 {
		ga.Resolution["follow_up_tasks"] = followUpIDs
	}
	ga.ResolvedAt = &now
	ga.ResolvedBy = &actor
	l.logEntry(ga, "resolved", actor, fmt.Sprintf("outcome: %s", resolution.Outcome))

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}

	l.logger.Info("Grey area resolved",
		"grey_area_id", ga.ID,
		"outcome", resolution.Outcome,
		"follow_up_tasks", len(followUpIDs))
	return ga, nil
}

// Dismiss closes the grey area as not actionable, recording a synthetic
// no-action resolution so terminal records always explain themselves.
func (l *Lifecycle) Dismiss(ctx context.Context, id, reason, actor string) (*database.GreyArea, error) {
	ga, err := l.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !allowed("dismiss", ga.Status) {
		return nil, fmt.Errorf("%w: cannot dismiss from status %s", ErrInvalidTransition, ga.Status)
	}

	now := time.Now()
	ga.Status = database.GreyAreaDismissed
	ga.Resolution = database.JSONMap{
		"outcome": "no_action",
		"notes":   reason,
	}
	ga.ResolvedAt = &now
	ga.ResolvedBy = &actor
	l.logEntry(ga, "dismissed", actor, reason)

	if err := l.repo.Update(ctx, ga); err != nil {
		return nil, err
	}
	return ga, nil
}

// spawnFollowUp creates one follow-up task carrying the grey area's context
func (l *Lifecycle) spawnFollowUp(ctx context.Context, ga *database.GreyArea, ft FollowUpTask) (*database.Task, error) {
	priority := ft.Priority
	if priority == "" {
		priority = ga.Severity
	}

	slaHours := l.cfg.Engine.SLAHoursForTier(priority)
	if ft.DueInDays > 0 {
		slaHours = float64(ft.DueInDays) * 24
	}
	dueDate := engine.CalculateDeadline(time.Now(), slaHours, priority,
		l.cfg.Engine.BusinessHoursOnly, l.cfg.Engine.ExcludeWeekends, l.cfg.Engine)

	sourceRef := ga.ID
	task := &database.Task{
		ID:          uuid.NewString(),
		Subsidiary:  ga.Subsidiary,
		Department:  ga.Department,
		Title:       ft.Title,
		Description: ft.Description,
		Type:        ft.Type,
		SourceType:  "grey_area_resolution",
		SourceRef:   &sourceRef,
		ContextPayload: database.JSONMap{
			"grey_area_id":   ga.ID,
			"grey_area_type": ga.Type,
			"entity_type":    ga.EntityType,
			"entity_id":      ga.EntityID,
		},
		Status:   database.TaskStatusPending,
		Stage:    database.StagePendingAssignment,
		Priority: priority,
		DueDate:  &dueDate,
	}

	if ft.AssigneeID != "" {
		emp, err := l.dir.GetByID(ctx, ft.AssigneeID)
		if err != nil {
			return nil, fmt.Errorf("follow-up assignee %s: %w", ft.AssigneeID, err)
		}
		if !emp.Active() {
			return nil, fmt.Errorf("follow-up assignee %s is not active", ft.AssigneeID)
		}
		now := time.Now()
		method := "manual"
		task.Stage = database.StageAssigned
		task.AssigneeID = &ft.AssigneeID
		task.AssignmentMethod = &method
		task.AssignedAt = &now
	}

	if err := l.taskRepo.Create(ctx, task); err != nil {
		return nil, err
	}

	if task.AssigneeID != nil {
		if _, err := l.workload.Increment(ctx, *task.AssigneeID); err != nil {
			l.logger.Error("Failed to increment assignee workload",
				"task_id", task.ID,
				"assignee_id", *task.AssigneeID,
				"error", err)
		}
	}
	return task, nil
}

func (l *Lifecycle) logEntry(ga *database.GreyArea, action, actor, details string) {
	ga.ActivityLog = append(ga.ActivityLog, database.ActivityEntry{
		Timestamp: time.Now(),
		Action:    action,
		Actor:     actor,
		Details:   details,
	})
}

// requiredInputsComplete reports whether every required slot has a response
func requiredInputsComplete(slots database.InputSlots) bool {
	for _, slot := range slots {
		if slot.Required && slot.Response == nil {
			return false
		}
	}
	return true
}
