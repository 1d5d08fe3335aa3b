package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

// EventRepository handles business event data operations
type EventRepository struct {
	BaseRepository
	logger *slog.Logger
}

// NewEventRepository creates a new event repository
func NewEventRepository(db *sqlx.DB, logger *slog.Logger) *EventRepository {
	return &EventRepository{
		BaseRepository: BaseRepository{db: db},
		logger:         logger,
	}
}

// Create persists a new business event
func (r *EventRepository) Create(ctx context.Context, event *BusinessEvent) error {
	query := `
		INSERT INTO business_events (
			id, event_type, category, source_type, source_id, source_name,
			trigger_type, trigger_id, payload, subsidiary, department,
			correlation_id, causation_id, priority, tags, is_internal,
			processing_status, tasks_generated, retry_count, created_at, updated_at
		) VALUES (
			:id, :event_type, :category, :source_type, :source_id, :source_name,
			:trigger_type, :trigger_id, :payload, :subsidiary, :department,
			:correlation_id, :causation_id, :priority, :tags, :is_internal,
			:processing_status, :tasks_generated, :retry_count, :created_at, :updated_at
		)`

	event.CreatedAt = time.Now()
	event.UpdatedAt = time.Now()
	if event.ProcessingStatus == "" {
		event.ProcessingStatus = EventPending
	}

	_, err := r.db.NamedExecContext(ctx, query, event)
	if err != nil {
		r.logger.Error("Failed to create business event",
			"event_id", event.ID,
			"event_type", event.EventType,
			"error", err)
		return fmt.Errorf("failed to create business event: %w", err)
	}

	return nil
}

// GetByID retrieves a business event by ID
func (r *EventRepository) GetByID(ctx context.Context, id string) (*BusinessEvent, error) {
	query := `SELECT * FROM business_events WHERE id = $1 AND deleted_at IS NULL`

	var event BusinessEvent
	err := r.db.GetContext(ctx, &event, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get business event by ID: %w", err)
	}

	return &event, nil
}

// UpdateProcessingStatus records the outcome of one orchestrator run. Called
// exactly once per run; the event is otherwise immutable.
func (r *EventRepository) UpdateProcessingStatus(ctx context.Context, id, status string, taskIDs []string) error {
	query := `
		UPDATE business_events SET
			processing_status = $2,
			tasks_generated = $3,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	result, err := r.db.ExecContext(ctx, query, id, status, pq.Array(taskIDs))
	if err != nil {
		r.logger.Error("Failed to update event processing status",
			"event_id", id,
			"status", status,
			"error", err)
		return fmt.Errorf("failed to update event processing status: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("business event not found: %s", id)
	}

	return nil
}

// IncrementRetryCount bumps the retry counter on a replayed event
func (r *EventRepository) IncrementRetryCount(ctx context.Context, id string) error {
	query := `
		UPDATE business_events SET
			retry_count = retry_count + 1,
			updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	_, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to increment event retry count: %w", err)
	}
	return nil
}

// ListByStatus retrieves events in a processing status, oldest first
func (r *EventRepository) ListByStatus(ctx context.Context, status string, limit int) ([]*BusinessEvent, error) {
	query := `
		SELECT * FROM business_events
		WHERE processing_status = $1 AND deleted_at IS NULL
		ORDER BY created_at ASC
		LIMIT $2`

	var events []*BusinessEvent
	err := r.db.SelectContext(ctx, &events, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list events by status: %w", err)
	}

	return events, nil
}
