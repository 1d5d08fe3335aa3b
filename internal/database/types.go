package database

import (
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"taskforge/internal/config"
)

// Task status values (coarse lifecycle)
const (
	TaskStatusPending    = "pending"
	TaskStatusInProgress = "in_progress"
	TaskStatusBlocked    = "blocked"
	TaskStatusCompleted  = "completed"
	TaskStatusCancelled  = "cancelled"
)

// Task stage values (fine lifecycle)
const (
	StagePendingAssignment = "pending_assignment"
	StageAssigned          = "assigned"
	StageInProgress        = "in_progress"
	StagePendingReview     = "pending_review"
	StageCompleted         = "completed"
	StageCancelled         = "cancelled"
	StageBlocked           = "blocked"
	StageEscalated         = "escalated"
)

// Priority tiers
const (
	PriorityCritical = "critical"
	PriorityHigh     = "high"
	PriorityMedium   = "medium"
	PriorityLow      = "low"
)

// Grey area status values
const (
	GreyAreaDetected     = "detected"
	GreyAreaUnderReview  = "under_review"
	GreyAreaPendingInput = "pending_input"
	GreyAreaEscalated    = "escalated"
	GreyAreaResolved     = "resolved"
	GreyAreaDismissed    = "dismissed"
)

// Event processing status values
const (
	EventPending    = "pending"
	EventProcessing = "processing"
	EventCompleted  = "completed"
	EventFailed     = "failed"
	EventSkipped    = "skipped"
)

// Connect establishes a database connection
func Connect(cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	// Configure connection pool
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// RunMigrations runs database migrations
func RunMigrations(cfg config.DatabaseConfig) error {
	db, err := sql.Open("postgres", cfg.ConnectionString())
	if err != nil {
		return fmt.Errorf("failed to open database for migrations: %w", err)
	}
	defer db.Close()

	driver, err := postgres.WithInstance(db, &postgres.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(cfg.MigrationsPath, "postgres", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrate instance: %w", err)
	}

	if err := m.Up(); err != nil && err != migrate.ErrNoChange {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// BaseRepository holds common repository functionality
type BaseRepository struct {
	db *sqlx.DB
}

// Transaction executes a function within a database transaction
func (r *BaseRepository) Transaction(fn func(*sqlx.Tx) error) error {
	tx, err := r.db.Beginx()
	if err != nil {
		return err
	}

	defer func() {
		if p := recover(); p != nil {
			tx.Rollback()
			panic(p)
		} else if err != nil {
			tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	err = fn(tx)
	return err
}

// AuditFields are the common timestamp columns
type AuditFields struct {
	CreatedAt time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt time.Time  `db:"updated_at" json:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at" json:"deleted_at,omitempty"`
}

// JSONMap is an open attribute map stored as JSONB
type JSONMap map[string]any

// Value implements driver.Valuer
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner
func (m *JSONMap) Scan(src any) error {
	return scanJSON(src, m)
}

// ActivityEntry is one append-only audit log record on a grey area
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Action    string    `json:"action"`
	Actor     string    `json:"actor"`
	Details   string    `json:"details,omitempty"`
}

// ActivityLog is the append-only audit trail stored as JSONB
type ActivityLog []ActivityEntry

// Value implements driver.Valuer
func (l ActivityLog) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *ActivityLog) Scan(src any) error {
	return scanJSON(src, l)
}

// EscalationRecord captures one escalation hop
type EscalationRecord struct {
	Level       int       `json:"level"`
	From        string    `json:"from,omitempty"`
	To          string    `json:"to"`
	Reason      string    `json:"reason"`
	EscalatedAt time.Time `json:"escalated_at"`
}

// EscalationList is stored as JSONB
type EscalationList []EscalationRecord

// Value implements driver.Valuer
func (l EscalationList) Value() (driver.Value, error) {
	if l == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(l)
}

// Scan implements sql.Scanner
func (l *EscalationList) Scan(src any) error {
	return scanJSON(src, l)
}

// InputSlot is one requested piece of human input on a grey area
type InputSlot struct {
	Question    string     `json:"question"`
	Required    bool       `json:"required"`
	Response    *string    `json:"response,omitempty"`
	RequestedAt time.Time  `json:"requested_at"`
	RespondedAt *time.Time `json:"responded_at,omitempty"`
}

// InputSlots is stored as JSONB
type InputSlots []InputSlot

// Value implements driver.Valuer
func (s InputSlots) Value() (driver.Value, error) {
	if s == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(s)
}

// Scan implements sql.Scanner
func (s *InputSlots) Scan(src any) error {
	return scanJSON(src, s)
}

// TaskDependency links a task to another it depends on
type TaskDependency struct {
	TaskID   string `json:"task_id"`
	Relation string `json:"relation"`
	Status   string `json:"status"`
}

// TaskDependencies is stored as JSONB
type TaskDependencies []TaskDependency

// Value implements driver.Valuer
func (d TaskDependencies) Value() (driver.Value, error) {
	if d == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(d)
}

// Scan implements sql.Scanner
func (d *TaskDependencies) Scan(src any) error {
	return scanJSON(src, d)
}

func scanJSON(src, dst any) error {
	if src == nil {
		return nil
	}
	var data []byte
	switch v := src.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported scan type %T for JSON column", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, dst)
}

// BusinessEvent is an immutable record of something that happened, consumed
// by the task generation engine. Only the processing columns are mutated
// after creation.
type BusinessEvent struct {
	ID            string         `db:"id" json:"id"`
	EventType     string         `db:"event_type" json:"event_type"`
	Category      string         `db:"category" json:"category"`
	SourceType    string         `db:"source_type" json:"source_type"`
	SourceID      string         `db:"source_id" json:"source_id"`
	SourceName    string         `db:"source_name" json:"source_name"`
	TriggerType   string         `db:"trigger_type" json:"trigger_type"`
	TriggerID     string         `db:"trigger_id" json:"trigger_id"`
	Payload       JSONMap        `db:"payload" json:"payload"`
	Subsidiary    string         `db:"subsidiary" json:"subsidiary"`
	Department    *string        `db:"department" json:"department,omitempty"`
	CorrelationID *string        `db:"correlation_id" json:"correlation_id,omitempty"`
	CausationID   *string        `db:"causation_id" json:"causation_id,omitempty"`
	Priority      string         `db:"priority" json:"priority"`
	Tags          pq.StringArray `db:"tags" json:"tags"`
	IsInternal    bool           `db:"is_internal" json:"is_internal"`

	ProcessingStatus string         `db:"processing_status" json:"processing_status"`
	TasksGenerated   pq.StringArray `db:"tasks_generated" json:"tasks_generated"`
	RetryCount       int            `db:"retry_count" json:"retry_count"`

	AuditFields
}

// Task is a generated, assigned, deadline-bound work item
type Task struct {
	ID          string `db:"id" json:"id"`
	Subsidiary  string `db:"subsidiary" json:"subsidiary"`
	Department  string `db:"department" json:"department"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`
	Type        string `db:"type" json:"type"`

	// How the task came to exist: event_rule, manual, grey_area_resolution.
	SourceType string  `db:"source_type" json:"source_type"`
	SourceRef  *string `db:"source_ref" json:"source_ref,omitempty"`

	ContextEventID   *string `db:"context_event_id" json:"context_event_id,omitempty"`
	ContextEventType *string `db:"context_event_type" json:"context_event_type,omitempty"`
	ContextPayload   JSONMap `db:"context_payload" json:"context_payload"`
	ParentTaskID     *string `db:"parent_task_id" json:"parent_task_id,omitempty"`

	Status   string `db:"status" json:"status"`
	Stage    string `db:"stage" json:"stage"`
	Priority string `db:"priority" json:"priority"`

	AssigneeID        *string        `db:"assignee_id" json:"assignee_id,omitempty"`
	AssignmentMethod  *string        `db:"assignment_method" json:"assignment_method,omitempty"`
	AssignedAt        *time.Time     `db:"assigned_at" json:"assigned_at,omitempty"`
	PreviousAssignees pq.StringArray `db:"previous_assignees" json:"previous_assignees"`
	FallbackUsed      bool           `db:"fallback_used" json:"fallback_used"`

	DueDate      *time.Time       `db:"due_date" json:"due_date,omitempty"`
	Dependencies TaskDependencies `db:"dependencies" json:"dependencies"`

	CompletedAt     *time.Time     `db:"completed_at" json:"completed_at,omitempty"`
	CompletionNotes *string        `db:"completion_notes" json:"completion_notes,omitempty"`
	Escalations     EscalationList `db:"escalations" json:"escalations"`

	AuditFields
}

// GreyArea is a detected ambiguous situation requiring human review
type GreyArea struct {
	ID          string `db:"id" json:"id"`
	Subsidiary  string `db:"subsidiary" json:"subsidiary"`
	Department  string `db:"department" json:"department"`
	Type        string `db:"type" json:"type"`
	Severity    string `db:"severity" json:"severity"`
	Status      string `db:"status" json:"status"`
	Title       string `db:"title" json:"title"`
	Description string `db:"description" json:"description"`

	EntityType      string    `db:"entity_type" json:"entity_type"`
	EntityID        string    `db:"entity_id" json:"entity_id"`
	DetectedAt      time.Time `db:"detected_at" json:"detected_at"`
	DetectionMethod string    `db:"detection_method" json:"detection_method"`
	RuleID          *string   `db:"rule_id" json:"rule_id,omitempty"`

	AssignedTo             *string   `db:"assigned_to" json:"assigned_to,omitempty"`
	CurrentEscalationLevel int       `db:"current_escalation_level" json:"current_escalation_level"`
	ResolutionDeadline     time.Time `db:"resolution_deadline" json:"resolution_deadline"`

	InputsRequired InputSlots     `db:"inputs_required" json:"inputs_required"`
	Escalations    EscalationList `db:"escalations" json:"escalations"`
	ActivityLog    ActivityLog    `db:"activity_log" json:"activity_log"`

	Resolution JSONMap    `db:"resolution" json:"resolution"`
	ResolvedAt *time.Time `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy *string    `db:"resolved_by" json:"resolved_by,omitempty"`

	AuditFields
}

// Filter represents common list filtering options
type Filter struct {
	Limit     int
	Offset    int
	SortBy    string
	SortOrder string
	Filters   map[string]any
	DateFrom  *time.Time
	DateTo    *time.Time
}
