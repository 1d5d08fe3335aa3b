package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
)

// TaskRepository handles task data operations
type TaskRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewTaskRepository creates a new task repository
func NewTaskRepository(db *sqlx.DB, logger *slog.Logger) *TaskRepository {
	return &TaskRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create persists a new task
func (r *TaskRepository) Create(ctx context.Context, task *Task) error {
	query := `
		INSERT INTO tasks (
			id, subsidiary, department, title, description, type,
			source_type, source_ref, context_event_id, context_event_type,
			context_payload, parent_task_id, status, stage, priority,
			assignee_id, assignment_method, assigned_at, previous_assignees,
			fallback_used, due_date, dependencies, completed_at,
			completion_notes, escalations, created_at, updated_at
		) VALUES (
			:id, :subsidiary, :department, :title, :description, :type,
			:source_type, :source_ref, :context_event_id, :context_event_type,
			:context_payload, :parent_task_id, :status, :stage, :priority,
			:assignee_id, :assignment_method, :assigned_at, :previous_assignees,
			:fallback_used, :due_date, :dependencies, :completed_at,
			:completion_notes, :escalations, :created_at, :updated_at
		)`

	task.CreatedAt = time.Now()
	task.UpdatedAt = time.Now()

	_, err := r.db.NamedExecContext(ctx, query, task)
	if err != nil {
		r.logger.Error("Failed to create task",
			"task_id", task.ID,
			"task_type", task.Type,
			"error", err)
		return fmt.Errorf("failed to create task: %w", err)
	}

	r.logger.Info("Task created",
		"task_id", task.ID,
		"task_type", task.Type,
		"priority", task.Priority,
		"stage", task.Stage)
	return nil
}

// GetByID retrieves a task by ID
func (r *TaskRepository) GetByID(ctx context.Context, id string) (*Task, error) {
	query := `SELECT * FROM tasks WHERE id = $1 AND deleted_at IS NULL`

	var task Task
	err := r.db.GetContext(ctx, &task, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get task by ID: %w", err)
	}

	return &task, nil
}

// List retrieves tasks with filtering and pagination
func (r *TaskRepository) List(ctx context.Context, filter Filter) ([]*Task, int, error) {
	whereClause, args, argIndex := r.buildWhereClause(filter)

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM tasks %s", whereClause)
	var total int
	err := r.db.GetContext(ctx, &total, countQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to count tasks: %w", err)
	}

	orderClause := buildOrderClause(filter, taskSortColumns, "created_at", "DESC")
	limitClause := buildLimitClause(filter, &argIndex, &args)

	dataQuery := fmt.Sprintf("SELECT * FROM tasks %s %s %s", whereClause, orderClause, limitClause)

	var tasks []*Task
	err = r.db.SelectContext(ctx, &tasks, dataQuery, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list tasks: %w", err)
	}

	return tasks, total, nil
}

// UpdateStage moves a task to a new status/stage pair
func (r *TaskRepository) UpdateStage(ctx context.Context, id, status, stage string) error {
	query := `
		UPDATE tasks SET
			status = $2,
			stage = $3,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, status, stage)
	if err != nil {
		return fmt.Errorf("failed to update task stage: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	r.logger.Info("Task stage updated", "task_id", id, "status", status, "stage", stage)
	return nil
}

// UpdateAssignment records a (re)assignment on a task
func (r *TaskRepository) UpdateAssignment(ctx context.Context, id, assigneeID, method string, fallbackUsed bool) error {
	query := `
		UPDATE tasks SET
			previous_assignees = CASE
				WHEN assignee_id IS NOT NULL THEN array_append(previous_assignees, assignee_id)
				ELSE previous_assignees
			END,
			assignee_id = $2,
			assignment_method = $3,
			fallback_used = $4,
			assigned_at = NOW(),
			stage = CASE WHEN stage = 'pending_assignment' THEN 'assigned' ELSE stage END,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, assigneeID, method, fallbackUsed)
	if err != nil {
		return fmt.Errorf("failed to update task assignment: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("task not found: %s", id)
	}

	return nil
}

// DeleteTerminalOlderThan soft deletes completed and cancelled tasks past
// their retention window. Returns the number of rows affected.
func (r *TaskRepository) DeleteTerminalOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE tasks SET
			deleted_at = NOW(),
			updated_at = NOW()
		WHERE status IN ('completed', 'cancelled')
		AND updated_at < $1
		AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old tasks: %w", err)
	}

	return result.RowsAffected()
}

func (r *TaskRepository) buildWhereClause(filter Filter) (string, []any, int) {
	var conditions []string
	var args []any
	argIndex := 0

	conditions = append(conditions, "deleted_at IS NULL")

	for _, field := range []string{"status", "stage", "priority", "subsidiary", "department", "assignee_id", "context_event_id", "type"} {
		if value, ok := filter.Filters[field].(string); ok && value != "" {
			argIndex++
			conditions = append(conditions, fmt.Sprintf("%s = $%d", field, argIndex))
			args = append(args, value)
		}
	}

	if filter.DateFrom != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at >= $%d", argIndex))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		argIndex++
		conditions = append(conditions, fmt.Sprintf("created_at <= $%d", argIndex))
		args = append(args, *filter.DateTo)
	}

	whereClause := ""
	if len(conditions) > 0 {
		whereClause = "WHERE " + strings.Join(conditions, " AND ")
	}

	return whereClause, args, argIndex
}

// Shared clause builders

// taskSortColumns are the columns a caller may sort task lists by. Sort input
// comes from query strings, so anything outside the whitelist falls back to
// the default instead of reaching the SQL text.
var taskSortColumns = map[string]bool{
	"created_at": true,
	"updated_at": true,
	"due_date":   true,
	"priority":   true,
	"status":     true,
	"stage":      true,
	"type":       true,
	"subsidiary": true,
	"department": true,
}

func buildOrderClause(filter Filter, allowed map[string]bool, defaultSortBy, defaultOrder string) string {
	sortBy := defaultSortBy
	if allowed[filter.SortBy] {
		sortBy = filter.SortBy
	}

	sortOrder := defaultOrder
	switch strings.ToUpper(filter.SortOrder) {
	case "ASC":
		sortOrder = "ASC"
	case "DESC":
		sortOrder = "DESC"
	}

	return fmt.Sprintf("ORDER BY %s %s", sortBy, sortOrder)
}

func buildLimitClause(filter Filter, argIndex *int, args *[]any) string {
	if filter.Limit <= 0 {
		return ""
	}

	*argIndex++
	limitClause := fmt.Sprintf("LIMIT $%d", *argIndex)
	*args = append(*args, filter.Limit)

	if filter.Offset > 0 {
		*argIndex++
		limitClause += fmt.Sprintf(" OFFSET $%d", *argIndex)
		*args = append(*args, filter.Offset)
	}

	return limitClause
}
