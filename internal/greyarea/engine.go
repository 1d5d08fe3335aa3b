package greyarea

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"taskforge/internal/assignment"
	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/engine"
	"taskforge/internal/rules"
)

// Notifier delivers fire-and-forget notifications for grey-area events
type Notifier interface {
	NotifyGreyAreaAssigned(ctx context.Context, ga *database.GreyArea)
	NotifyGreyAreaEscalated(ctx context.Context, ga *database.GreyArea, record database.EscalationRecord)
}

// Publisher emits grey-area domain messages to the event bus
type Publisher interface {
	PublishGreyAreaDetected(ctx context.Context, ga *database.GreyArea) error
	PublishGreyAreaEscalated(ctx context.Context, ga *database.GreyArea, record database.EscalationRecord) error
}

// GreyAreaStore persists grey areas. Satisfied by database.GreyAreaRepository.
type GreyAreaStore interface {
	Create(ctx context.Context, ga *database.GreyArea) error
	GetByID(ctx context.Context, id string) (*database.GreyArea, error)
	Update(ctx context.Context, ga *database.GreyArea) error
}

// TaskStore persists follow-up tasks spawned during resolution. Satisfied by
// database.TaskRepository.
type TaskStore interface {
	Create(ctx context.Context, task *database.Task) error
}

// ScanInput describes the entity being screened for grey areas
type ScanInput struct {
	EntityType string         `json:"entity_type"`
	EntityID   string         `json:"entity_id"`
	EventType  string         `json:"event_type,omitempty"`
	Subsidiary string         `json:"subsidiary"`
	Department string         `json:"department,omitempty"`
	Attributes map[string]any `json:"attributes"`
}

// Engine detects grey areas by screening entities against the catalog's
// detection rules.
type Engine struct {
	cfg      *config.Config
	logger   *slog.Logger
	catalog  *rules.Catalog
	resolver *assignment.Resolver
	repo     GreyAreaStore
	notifier Notifier
	producer Publisher
}

// NewEngine creates a grey-area detection engine
func NewEngine(
	cfg *config.Config,
	logger *slog.Logger,
	catalog *rules.Catalog,
	resolver *assignment.Resolver,
	repo GreyAreaStore,
	notifier Notifier,
	producer Publisher,
) *Engine {
	return &Engine{
		cfg:      cfg,
		logger:   logger,
		catalog:  catalog,
		resolver: resolver,
		repo:     repo,
		notifier: notifier,
		producer: producer,
	}
}

// ScanEntity evaluates every enabled detection rule against the entity, in
// descending rule priority, and raises one grey area per matching rule.
// Rules whose applicability filters reject the entity are never evaluated.
func (e *Engine) ScanEntity(ctx context.Context, input ScanInput) ([]*database.GreyArea, error) {
	var detected []*database.GreyArea

	for _, rule := range e.catalog.DetectionRules() {
		if !rule.AppliesTo(input.EntityType, input.EventType, input.Subsidiary) {
			continue
		}
		if !rules.Evaluate(rule.Conditions, rule.ConditionLogic, input.Attributes) {
			continue
		}

		ga, err := e.raise(ctx, rule, input)
		if err != nil {
			return detected, fmt.Errorf("failed to raise grey area for rule %s: %w", rule.ID, err)
		}
		detected = append(detected, ga)
	}

	if len(detected) > 0 {
		e.logger.Info("Entity scan detected grey areas",
			"entity_type", input.EntityType,
			"entity_id", input.EntityID,
			"detected", len(detected))
	}
	return detected, nil
}

// raise materializes one grey area from a matched detection rule
func (e *Engine) raise(ctx context.Context, rule rules.DetectionRule, input ScanInput) (*database.GreyArea, error) {
	now := time.Now()

	slaHours := e.cfg.GreyArea.SLAHoursForSeverity(rule.Severity)
	if rule.SLAHours != nil {
		slaHours = *rule.SLAHours
	}
	deadline := engine.CalculateDeadline(now, slaHours, rule.Severity,
		e.cfg.Engine.BusinessHoursOnly, e.cfg.Engine.ExcludeWeekends, e.cfg.Engine)

	ruleID := rule.ID
	ga := &database.GreyArea{
		ID:                 uuid.NewString(),
		Subsidiary:         input.Subsidiary,
		Department:         input.Department,
		Type:               rule.GreyAreaType,
		Severity:           rule.Severity,
		Status:             database.GreyAreaDetected,
		Title:              rules.Interpolate(rule.TitleTemplate, input.Attributes),
		Description:        rules.Interpolate(rule.DescriptionTemplate, input.Attributes),
		EntityType:         input.EntityType,
		EntityID:           input.EntityID,
		DetectedAt:         now,
		DetectionMethod:    "rule",
		RuleID:             &ruleID,
		ResolutionDeadline: deadline,
		ActivityLog: database.ActivityLog{{
			Timestamp: now,
			Action:    "detected",
			Actor:     "system",
			Details:   fmt.Sprintf("matched detection rule %s (%s)", rule.ID, rule.Name),
		}},
	}

	e.assignInitial(ctx, ga, rule, input)

	if err := e.repo.Create(ctx, ga); err != nil {
		return nil, err
	}

	if ga.AssignedTo != nil && e.notifier != nil {
		e.notifier.NotifyGreyAreaAssigned(ctx, ga)
	}
	if e.producer != nil {
		if err := e.producer.PublishGreyAreaDetected(ctx, ga); err != nil {
			e.logger.Error("Failed to publish grey area detected message",
				"grey_area_id", ga.ID, "error", err)
		}
	}

	return ga, nil
}

// assignInitial tries each candidate role in order and takes the first that
// resolves. Detection proceeds unassigned when no role resolves; a reviewer
// picks it up from the detected queue.
func (e *Engine) assignInitial(ctx context.Context, ga *database.GreyArea, rule rules.DetectionRule, input ScanInput) {
	actx := assignment.Context{
		Subsidiary: input.Subsidiary,
		Department: input.Department,
		Entity:     input.Attributes,
	}

	for _, role := range rule.AssignToRoles {
		result := e.resolver.Resolve(ctx, rules.AssignmentRule{Type: rules.AssignRole, Value: role}, actx)
		if !result.Resolved {
			continue
		}

		ga.AssignedTo = &result.AssigneeID
		ga.ActivityLog = append(ga.ActivityLog, database.ActivityEntry{
			Timestamp: time.Now(),
			Action:    "assigned",
			Actor:     "system",
			Details:   fmt.Sprintf("assigned to %s via role %s", result.AssigneeName, role),
		})
		return
	}

	if len(rule.AssignToRoles) > 0 {
		e.logger.Warn("No reviewer role resolved for grey area, leaving unassigned",
			"grey_area_id", ga.ID,
			"roles", rule.AssignToRoles)
	}
}
