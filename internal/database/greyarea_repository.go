package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// GreyAreaRepository handles grey area data operations
type GreyAreaRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewGreyAreaRepository creates a new grey area repository
func NewGreyAreaRepository(db *sqlx.DB, logger *slog.Logger) *GreyAreaRepository {
	return &GreyAreaRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create persists a new grey area
func (r *GreyAreaRepository) Create(ctx context.Context, ga *GreyArea) error {
	query := `
		INSERT INTO grey_areas (
			id, subsidiary, department, type, severity, status, title,
			description, entity_type, entity_id, detected_at, detection_method,
			rule_id, assigned_to, current_escalation_level, resolution_deadline,
			inputs_required, escalations, activity_log, resolution,
			resolved_at, resolved_by, created_at, updated_at
		) VALUES (
			:id, :subsidiary, :department, :type, :severity, :status, :title,
			:description, :entity_type, :entity_id, :detected_at, :detection_method,
			:rule_id, :assigned_to, :current_escalation_level, :resolution_deadline,
			:inputs_required, :escalations, :activity_log, :resolution,
			:resolved_at, :resolved_by, :created_at, :updated_at
		)`

	ga.CreatedAt = time.Now()
	ga.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, ga)
	if err != nil {
		r.logger.Error("Failed to create grey area",
			"grey_area_id", ga.ID,
			"type", ga.Type,
			"severity", ga.Severity,
			"error", err)
		return fmt.Errorf("failed to create grey area: %w", err)
	}

	r.logger.Info("Grey area created",
		"grey_area_id", ga.ID,
		"type", ga.Type,
		"severity", ga.Severity,
		"entity_type", ga.EntityType,
		"entity_id", ga.EntityID)
	return nil
}

// GetByID retrieves a grey area by ID
func (r *GreyAreaRepository) GetByID(ctx context.Context, id string) (*GreyArea, error) {
	query := `SELECT * FROM grey_areas WHERE id = $1 AND deleted_at IS NULL`

	var ga GreyArea
	err := r.db.GetContext(ctx, &ga, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get grey area by ID: %w", err)
	}

	return &ga, nil
}

// Update persists a lifecycle transition. Status, escalation state, input
// slots and the activity log are written together so the projected status and
// the authoritative log cannot diverge.
func (r *GreyAreaRepository) Update(ctx context.Context, ga *GreyArea) error {
	query := `
		UPDATE grey_areas SET
			status = :status,
			severity = :severity,
			assigned_to = :assigned_to,
			current_escalation_level = :current_escalation_level,
			inputs_required = :inputs_required,
			escalations = :escalations,
			activity_log = :activity_log,
			resolution = :resolution,
			resolved_at = :resolved_at,
			resolved_by = :resolved_by,
			updated_at = :updated_at
		WHERE id = :id AND deleted_at IS NULL`

	ga.UpdatedAt = time.Now()

	result, err := r.db.NamedExecContext(ctx, query, ga)
	if err != nil {
		r.logger.Error("Failed to update grey area", "grey_area_id", ga.ID, "error", err)
		return fmt.Errorf("failed to update grey area: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("grey area not found: %s", ga.ID)
	}

	return nil
}

// greyAreaSortColumns are the columns a caller may sort grey area lists by
var greyAreaSortColumns = map[string]bool{
	"detected_at":              true,
	"created_at":               true,
	"updated_at":               true,
	"resolution_deadline":      true,
	"severity":                 true,
	"status":                   true,
	"type":                     true,
	"subsidiary":               true,
	"department":               true,
	"current_escalation_level": true,
}

// List retrieves grey areas with filtering and pagination
func (r *GreyAreaRepository) List(ctx context.Context, filter Filter) ([]*GreyArea, int, error) {
	whereClause, args, argIndex := r.buildWhereClause(filter)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM grey_areas %s", whereClause)
	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count grey areas: %w", err)
	}

	orderClause := buildOrderClause(filter, greyAreaSortColumns, "detected_at", "DESC")
	limitClause := buildLimitClause(filter, &argIndex, &args)

	dataQuery := fmt.Sprintf("SELECT * FROM grey_areas %s %s %s", whereClause, orderClause, limitClause)

	var areas []*GreyArea
	err = r.db.SelectContext(ctx, &areas, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list grey areas: %w", err)
	}

	return areas, total, nil
}

// ListOverdue retrieves non-terminal grey areas whose resolution deadline has
// passed, oldest deadline first.
func (r *GreyAreaRepository) ListOverdue(ctx context.Context, asOf time.Time, limit int) ([]*GreyArea, error) {
	query := `
		SELECT * FROM grey_areas
		WHERE status NOT IN ('resolved', 'dismissed')
		AND resolution_deadline < $1
		AND deleted_at IS NULL
		ORDER BY resolution_deadline ASC
		LIMIT $2`

	var areas []*GreyArea
	err := r.db.SelectContext(ctx, &areas, query, asOf, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list overdue grey areas: %w", err)
	}

	return areas, nil
}

// DeleteTerminalOlderThan soft deletes resolved and dismissed grey areas past
// their retention window. Returns the number of rows affected.
func (r *GreyAreaRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE grey_areas SET
			deleted_at = NOW(),
			updated_at = NOW()
		WHERE status IN ('resolved', 'dismissed')
		AND updated_at < $1
		AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old grey areas: %w", err)
	}

	return result.RowsAffected()
}

func (r *GreyAreaRepository) buildWhereClause(filter Filter) (string, []any, int) {
	var conditions []string
	var args []any
	argIndex := 0

	conditions = append(conditions, "deleted_at IS NULL")

	for _, field := range []string{"status", "severity", "subsidiary", "department", "type", "entity_type", "entity_id", "assigned_to"} {
		if value, ok := filter.Filters[field].(string); ok && value != "" {
			argIndex++
			conditions = append(conditions, fmt.Sprintf("%s = $%d", field, argIndex))
			args = append(args, value)
		}
	}

	if filter.DateFrom != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("detected_at >= $%d", argIndex))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("detected_at <= $%d", argIndex))
		args = append(args, *filter.DateTo)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args, argIndex
}
