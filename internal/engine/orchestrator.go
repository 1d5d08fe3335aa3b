package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskforge/internal/assignment"
	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
	"taskforge/internal/rules"
)

// Configuration errors: the event is not processable at all, which is a
// short-circuit outcome, not a batch failure.
var (
	ErrUnknownEventType = errors.New("unknown event type")
	ErrEventDisabled    = errors.New("event definition disabled")
)

// Rule outcome values inside a batch result
const (
	OutcomeGenerated = "generated"
	OutcomeSkipped   = "skipped"
	OutcomeFailed    = "failed"
)

// Notifier delivers fire-and-forget notifications. Implemented by the
// notification manager; the orchestrator never blocks on delivery.
type Notifier interface {
	NotifyTaskAssigned(ctx context.Context, task *database.Task)
	Notify(ctx context.Context, channel, recipient, subject, body string)
}

// TaskStore persists generated tasks. Satisfied by database.TaskRepository.
type TaskStore interface {
	Create(ctx context.Context, task *database.Task) error
}

// EventStore records batch outcomes on source events. Satisfied by
// database.EventRepository.
type EventStore interface {
	UpdateProcessingStatus(ctx context.Context, id, status string, taskIDs []string) error
}

// RuleResult is the outcome of one task rule within an event's batch
type RuleResult struct {
	TaskType     string `json:"task_type"`
	Outcome      string `json:"outcome"`
	TaskID       string `json:"task_id,omitempty"`
	AssigneeID   string `json:"assignee_id,omitempty"`
	FallbackUsed bool   `json:"fallback_used,omitempty"`
	Reason       string `json:"reason,omitempty"`
	Error        string `json:"error,omitempty"`
}

// BatchResult summarizes one orchestrator run over a business event.
// Errors is the authoritative failure list; a failure in one rule never
// aborts its siblings.
type BatchResult struct {
	EventID        string        `json:"event_id"`
	TasksGenerated int           `json:"tasks_generated"`
	TasksSkipped   int           `json:"tasks_skipped"`
	Results        []RuleResult  `json:"results"`
	Errors         []string      `json:"errors"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// Orchestrator drives task generation for business events: catalog lookup,
// condition evaluation, assignment, priority/deadline computation,
// persistence and notification.
type Orchestrator struct {
	cfg       *config.Config
	logger    *slog.Logger
	catalog   *rules.Catalog
	resolver  *assignment.Resolver
	taskRepo  TaskStore
	eventRepo EventStore
	workload  directory.WorkloadCounter
	notifier  Notifier
}

// NewOrchestrator creates a task generation orchestrator
func NewOrchestrator(
	cfg *config.Config,
	logger *slog.Logger,
	catalog *rules.Catalog,
	resolver *assignment.Resolver,
	taskRepo TaskStore,
	eventRepo EventStore,
	workload directory.WorkloadCounter,
	notifier Notifier,
) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		logger:    logger,
		catalog:   catalog,
		resolver:  resolver,
		taskRepo:  taskRepo,
		eventRepo: eventRepo,
		workload:  workload,
		notifier:  notifier,
	}
}

// ProcessBusinessEvent runs every task rule of the event's catalog entry.
// Rules are evaluated concurrently, each under the per-rule timeout, and
// the event's processing status is updated exactly once afterwards. The
// engine never auto-retries; the caller may resubmit the event for replay.
func (o *Orchestrator) ProcessBusinessEvent(ctx context.Context, event *database.BusinessEvent) (*BatchResult, error) {
	started := time.Now()
	result := &BatchResult{EventID: event.ID}

	def, ok := o.catalog.EventDefinition(event.EventType)
	if !ok {
		o.logger.Warn("No catalog entry for event type", "event_id", event.ID, "event_type", event.EventType)
		o.finishEvent(ctx, event, database.EventSkipped, nil)
		result.ProcessingTime = time.Since(started)
		return result, ErrUnknownEventType
	}
	if !def.Enabled {
		o.logger.Info("Event definition disabled, skipping", "event_id", event.ID, "event_type", event.EventType)
		o.finishEvent(ctx, event, database.EventSkipped, nil)
		result.ProcessingTime = time.Since(started)
		return result, ErrEventDisabled
	}

	evalContext := o.buildContext(event)

	if missing := missingRequiredFields(def, event.Payload); len(missing) > 0 {
		err := fmt.Errorf("event payload missing required fields: %v", missing)
		result.Errors = append(result.Errors, err.Error())
		o.finishEvent(ctx, event, database.EventFailed, nil)
		result.ProcessingTime = time.Since(started)
		return result, err
	}

	// Task rules are independent and side-effect-isolated apart from the
	// workload counter, which increments atomically; evaluate them
	// concurrently and collect per-rule outcomes.
	resultChan := make(chan RuleResult, len(def.TaskRules))
	for _, rule := range def.TaskRules {
		go func(rule rules.TaskRule) {
			ruleCtx, cancel := context.WithTimeout(ctx, o.cfg.Engine.RuleEvaluationTimeout)
			defer cancel()
			resultChan <- o.processRule(ruleCtx, rule, event, evalContext)
		}(rule)
	}

	var taskIDs []string
	for range def.TaskRules {
		rr := <-resultChan
		result.Results = append(result.Results, rr)
		switch rr.Outcome {
		case OutcomeGenerated:
			result.TasksGenerated++
			taskIDs = append(taskIDs, rr.TaskID)
		case OutcomeSkipped:
			result.TasksSkipped++
		case OutcomeFailed:
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %s", rr.TaskType, rr.Error))
		}
	}

	o.emitNotifications(ctx, def, evalContext)

	status := database.EventCompleted
	if len(result.Errors) > 0 && result.TasksGenerated == 0 && result.TasksSkipped == 0 {
		status = database.EventFailed
	}
	o.finishEvent(ctx, event, status, taskIDs)

	result.ProcessingTime = time.Since(started)
	o.logger.Info("Business event processed",
		"event_id", event.ID,
		"event_type", event.EventType,
		"tasks_generated", result.TasksGenerated,
		"tasks_skipped", result.TasksSkipped,
		"errors", len(result.Errors),
		"duration", result.ProcessingTime)

	return result, nil
}

// processRule runs one task rule in isolation. Any failure is captured in
// the returned result, never propagated to sibling rules.
func (o *Orchestrator) processRule(ctx context.Context, rule rules.TaskRule, event *database.BusinessEvent, evalContext map[string]any) RuleResult {
	rr := RuleResult{TaskType: rule.TaskType}

	// A nil condition list is an unconditional rule; a present list must
	// match (an empty one never does).
	if rule.Conditions != nil && !rules.Evaluate(rule.Conditions, rule.ConditionLogic, evalContext) {
		rr.Outcome = OutcomeSkipped
		rr.Reason = "conditions not met"
		return rr
	}

	department := ""
	if event.Department != nil {
		department = *event.Department
	}
	actx := assignment.Context{
		Subsidiary:    event.Subsidiary,
		Department:    department,
		TriggerUserID: event.TriggerID,
		Entity:        evalContext,
	}
	assignResult := o.resolver.Resolve(ctx, rule.AssignTo, actx)

	priority := CalculatePriority(PriorityFactors{
		BaseTier:        TierFromRule(rule.Tier),
		EventPriority:   event.Priority,
		CustomerTier:    stringField(evalContext, "customerTier"),
		FinancialImpact: extractFinancialSignal(event.Payload),
	}, o.cfg.Engine)

	slaHours := o.cfg.Engine.SLAHoursForTier(priority)
	if rule.DueInDays != nil {
		slaHours = float64(*rule.DueInDays) * 24
	}
	// The SLA clock starts at the event's creation time, not at processing
	// time, so a replayed event reproduces its original deadline.
	base := event.CreatedAt
	if base.IsZero() {
		base = time.Now()
	}
	dueDate := CalculateDeadline(base, slaHours, priority,
		o.cfg.Engine.BusinessHoursOnly, o.cfg.Engine.ExcludeWeekends, o.cfg.Engine)

	task := &database.Task{
		ID:               uuid.NewString(),
		Subsidiary:       event.Subsidiary,
		Department:       department,
		Title:            rules.Interpolate(rule.TitleTemplate, evalContext),
		Description:      rules.Interpolate(rule.DescriptionTemplate, evalContext),
		Type:             rule.TaskType,
		SourceType:       "event_rule",
		ContextEventID:   &event.ID,
		ContextEventType: &event.EventType,
		ContextPayload:   event.Payload,
		Status:           database.TaskStatusPending,
		Stage:            database.StagePendingAssignment,
		Priority:         priority,
		DueDate:          &dueDate,
	}

	if assignResult.Resolved {
		now := time.Now()
		task.Stage = database.StageAssigned
		task.AssigneeID = &assignResult.AssigneeID
		task.AssignmentMethod = &assignResult.Method
		task.AssignedAt = &now
		task.FallbackUsed = assignResult.FallbackUsed
	} else {
		// Assignment exhaustion is not fatal: the task is created
		// unassigned and surfaces in the pending_assignment queue.
		o.logger.Warn("Assignment chain exhausted, task left unassigned",
			"event_id", event.ID,
			"task_type", rule.TaskType,
			"error", assignResult.Err)
	}

	if err := o.taskRepo.Create(ctx, task); err != nil {
		rr.Outcome = OutcomeFailed
		rr.Error = err.Error()
		return rr
	}

	// Workload accounting happens only after the task is durably
	// persisted, so failed attempts never inflate anyone's load.
	if task.AssigneeID != nil {
		if _, err := o.workload.Increment(ctx, *task.AssigneeID); err != nil {
			o.logger.Error("Failed to increment assignee workload",
				"task_id", task.ID,
				"assignee_id", *task.AssigneeID,
				"error", err)
		}
		if o.cfg.Engine.NotifyOnAssignment {
			o.notifier.NotifyTaskAssigned(ctx, task)
		}
	}

	rr.Outcome = OutcomeGenerated
	rr.TaskID = task.ID
	if task.AssigneeID != nil {
		rr.AssigneeID = *task.AssigneeID
	}
	rr.FallbackUsed = task.FallbackUsed
	return rr
}

// finishEvent records the batch outcome on the source event, exactly once
func (o *Orchestrator) finishEvent(ctx context.Context, event *database.BusinessEvent, status string, taskIDs []string) {
	if err := o.eventRepo.UpdateProcessingStatus(ctx, event.ID, status, taskIDs); err != nil {
		o.logger.Error("Failed to update event processing status",
			"event_id", event.ID,
			"status", status,
			"error", err)
	}
}

// buildContext assembles the evaluation/interpolation context: payload
// attributes at the top level plus the event envelope under "event".
func (o *Orchestrator) buildContext(event *database.BusinessEvent) map[string]any {
	context := make(map[string]any, len(event.Payload)+1)
	for k, v := range event.Payload {
		context[k] = v
	}
	context["event"] = map[string]any{
		"id":         event.ID,
		"type":       event.EventType,
		"category":   event.Category,
		"subsidiary": event.Subsidiary,
		"priority":   event.Priority,
		"source":     event.SourceName,
	}
	return context
}

// emitNotifications sends the catalog's extra notification rules for this
// event. Failures are delivery concerns, not batch failures.
func (o *Orchestrator) emitNotifications(ctx context.Context, def rules.EventDefinition, evalContext map[string]any) {
	for _, nr := range def.NotificationRules {
		if nr.Conditions != nil && !rules.Evaluate(nr.Conditions, nr.ConditionLogic, evalContext) {
			continue
		}
		recipient := rules.Interpolate(nr.Recipient, evalContext)
		subject := rules.Interpolate(nr.SubjectTemplate, evalContext)
		body := rules.Interpolate(nr.BodyTemplate, evalContext)
		o.notifier.Notify(ctx, nr.Channel, recipient, subject, body)
	}
}

func missingRequiredFields(def rules.EventDefinition, payload map[string]any) []string {
	var missing []string
	for _, field := range def.RequiredFields {
		if _, found := rules.ResolvePath(payload, field); !found {
			missing = append(missing, field)
		}
	}
	return missing
}

func stringField(attrs map[string]any, path string) string {
	value, found := rules.ResolvePath(attrs, path)
	if !found {
		return ""
	}
	s, _ := value.(string)
	return s
}

// financialSignalFields are checked in order for a numeric financial impact
var financialSignalFields = []string{"amount", "totalAmount", "value", "invoiceAmount", "financialImpact"}

func extractFinancialSignal(payload map[string]any) float64 {
	for _, field := range financialSignalFields {
		value, found := rules.ResolvePath(payload, field)
		if !found {
			continue
		}
		switch n := value.(type) {
		case float64:
			return n
		case int:
			return float64(n)
		case int64:
			return float64(n)
		}
	}
	return 0
}
