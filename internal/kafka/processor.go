package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/segmentio/kafka-go"
	"github.com/segmentio/kafka-go/compress"

	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/engine"
)

// EventMessage is the wire shape of an incoming business event
type EventMessage struct {
	ID            string         `json:"id"`
	EventType     string         `json:"event_type"`
	Category      string         `json:"category"`
	SourceType    string         `json:"source_type"`
	SourceID      string         `json:"source_id"`
	SourceName    string         `json:"source_name"`
	TriggerType   string         `json:"trigger_type"`
	TriggerID     string         `json:"trigger_id"`
	Subsidiary    string         `json:"subsidiary"`
	Department    *string        `json:"department,omitempty"`
	CorrelationID *string        `json:"correlation_id,omitempty"`
	CausationID   *string        `json:"causation_id,omitempty"`
	Priority      string         `json:"priority"`
	Tags          []string       `json:"tags,omitempty"`
	IsInternal    bool           `json:"is_internal"`
	Timestamp     time.Time      `json:"timestamp"`
	Payload       map[string]any `json:"payload"`
}

// TaskGeneratedMessage is the outgoing message for each generated task
type TaskGeneratedMessage struct {
	TaskID       string     `json:"task_id"`
	EventID      string     `json:"event_id"`
	EventType    string     `json:"event_type"`
	TaskType     string     `json:"task_type"`
	Title        string     `json:"title"`
	Priority     string     `json:"priority"`
	Subsidiary   string     `json:"subsidiary"`
	AssigneeID   *string    `json:"assignee_id,omitempty"`
	FallbackUsed bool       `json:"fallback_used"`
	DueDate      *time.Time `json:"due_date,omitempty"`
	Timestamp    time.Time  `json:"timestamp"`
}

// GreyAreaMessage is the outgoing message for grey area detections and
// escalations.
type GreyAreaMessage struct {
	GreyAreaID      string    `json:"grey_area_id"`
	Type            string    `json:"type"`
	Severity        string    `json:"severity"`
	Status          string    `json:"status"`
	Title           string    `json:"title"`
	Subsidiary      string    `json:"subsidiary"`
	EntityType      string    `json:"entity_type"`
	EntityID        string    `json:"entity_id"`
	AssignedTo      *string   `json:"assigned_to,omitempty"`
	EscalationLevel int       `json:"escalation_level"`
	Reason          string    `json:"reason,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

// Consumer reads business events off Kafka and drives the orchestrator.
// Messages are committed only after processing; the orchestrator's own
// partial-failure isolation means a commit never loses rule outcomes.
type Consumer struct {
	config        *config.Config
	logger        *slog.Logger
	reader        *kafka.Reader
	orchestrator  *engine.Orchestrator
	eventRepo     *database.EventRepository
	producer     *Producer
	shutdownChan chan struct{}
	wg           sync.WaitGroup

	// Stats are written by the workers and read by GetStats and the
	// reporter concurrently. lastProcessed holds unix nanoseconds.
	messageCount  atomic.Int64
	errorCount    atomic.Int64
	lastProcessed atomic.Int64
}

// NewConsumer creates a Kafka consumer for business events
func NewConsumer(
	cfg *config.Config,
	logger *slog.Logger,
	orchestrator *engine.Orchestrator,
	eventRepo *database.EventRepository,
	producer *Producer,
) *Consumer {
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.GroupID,
		Topic:          cfg.Kafka.Topics.BusinessEvents,
		MinBytes:       cfg.Kafka.Consumer.MinBytes,
		MaxBytes:       cfg.Kafka.Consumer.MaxBytes,
		CommitInterval: cfg.Kafka.Consumer.CommitInterval,
		StartOffset:    kafka.LastOffset,
		Logger:         &KafkaLogger{logger: logger},
		ErrorLogger:    &KafkaErrorLogger{logger: logger},
	})

	return &Consumer{
		config:       cfg,
		logger:       logger,
		reader:       reader,
		orchestrator: orchestrator,
		eventRepo:    eventRepo,
		producer:     producer,
		shutdownChan: make(chan struct{}),
	}
}

// Start starts the consumer workers
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("Starting Kafka consumer",
		"topic", c.config.Kafka.Topics.BusinessEvents,
		"group_id", c.config.Kafka.GroupID)

	for i := 0; i < c.config.Kafka.Consumer.WorkerCount; i++ {
		c.wg.Add(1)
		go c.worker(ctx, i)
	}

	c.wg.Add(1)
	go c.statsReporter(ctx)

	c.logger.Info("Kafka consumer started", "workers", c.config.Kafka.Consumer.WorkerCount)
	return nil
}

// Stop stops the consumer
func (c *Consumer) Stop() {
	c.logger.Info("Stopping Kafka consumer")
	close(c.shutdownChan)

	if c.reader != nil {
		c.reader.Close()
	}

	c.wg.Wait()
	c.logger.Info("Kafka consumer stopped")
}

func (c *Consumer) worker(ctx context.Context, workerID int) {
	defer c.wg.Done()

	c.logger.Debug("Starting Kafka consumer worker", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		default:
			readCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			message, err := c.reader.ReadMessage(readCtx)
			cancel()

			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					continue
				}
				if errors.Is(err, context.Canceled) {
					return
				}
				c.logger.Error("Failed to read Kafka message",
					"worker_id", workerID,
					"error", err)
				c.errorCount.Add(1)
				time.Sleep(1 * time.Second)
				continue
			}

			if err := c.processMessage(ctx, &message); err != nil {
				c.logger.Error("Failed to process Kafka message",
					"worker_id", workerID,
					"topic", message.Topic,
					"partition", message.Partition,
					"offset", message.Offset,
					"error", err)
				c.errorCount.Add(1)
			} else {
				c.messageCount.Add(1)
				c.lastProcessed.Store(time.Now().UnixNano())
			}
		}
	}
}

// processMessage persists the business event and runs the task generation
// batch for it. Unknown and disabled event types are a skip, not a failure.
func (c *Consumer) processMessage(ctx context.Context, message *kafka.Message) error {
	var eventMsg EventMessage
	if err := json.Unmarshal(message.Value, &eventMsg); err != nil {
		return fmt.Errorf("failed to unmarshal event message: %w", err)
	}

	event := toBusinessEvent(eventMsg)

	c.logger.Debug("Processing business event",
		"event_id", event.ID,
		"event_type", event.EventType,
		"subsidiary", event.Subsidiary)

	if err := c.eventRepo.Create(ctx, event); err != nil {
		return fmt.Errorf("failed to persist business event: %w", err)
	}

	result, err := c.orchestrator.ProcessBusinessEvent(ctx, event)
	if err != nil {
		if errors.Is(err, engine.ErrUnknownEventType) || errors.Is(err, engine.ErrEventDisabled) {
			return nil
		}
		return fmt.Errorf("failed to process business event: %w", err)
	}

	for _, rr := range result.Results {
		if rr.Outcome != engine.OutcomeGenerated {
			continue
		}
		if err := c.producer.PublishTaskGenerated(ctx, event, rr); err != nil {
			c.logger.Error("Failed to publish task generated message",
				"event_id", event.ID,
				"task_id", rr.TaskID,
				"error", err)
		}
	}

	return nil
}

func toBusinessEvent(msg EventMessage) *database.BusinessEvent {
	id := msg.ID
	if id == "" {
		id = uuid.NewString()
	}
	priority := msg.Priority
	if priority == "" {
		priority = database.PriorityMedium
	}

	return &database.BusinessEvent{
		ID:               id,
		EventType:        msg.EventType,
		Category:         msg.Category,
		SourceType:       msg.SourceType,
		SourceID:         msg.SourceID,
		SourceName:       msg.SourceName,
		TriggerType:      msg.TriggerType,
		TriggerID:        msg.TriggerID,
		Payload:          msg.Payload,
		Subsidiary:       msg.Subsidiary,
		Department:       msg.Department,
		CorrelationID:    msg.CorrelationID,
		CausationID:      msg.CausationID,
		Priority:         priority,
		Tags:             msg.Tags,
		IsInternal:       msg.IsInternal,
		ProcessingStatus: database.EventProcessing,
	}
}

func (c *Consumer) statsReporter(ctx context.Context) {
	defer c.wg.Done()

	ticker := time.NewTicker(1 * time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-c.shutdownChan:
			return
		case <-ticker.C:
			c.logger.Debug("Kafka consumer stats",
				"messages_processed", c.messageCount.Load(),
				"errors", c.errorCount.Load(),
				"last_processed", c.lastProcessedTime())
		}
	}
}

func (c *Consumer) lastProcessedTime() time.Time {
	nanos := c.lastProcessed.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}

// GetStats returns consumer statistics
func (c *Consumer) GetStats() map[string]any {
	return map[string]any{
		"messages_processed": c.messageCount.Load(),
		"errors":             c.errorCount.Load(),
		"last_processed":     c.lastProcessedTime(),
		"is_running":         c.reader != nil,
	}
}

// Producer publishes engine outcome messages. The writer carries no fixed
// topic; each message names its own.
type Producer struct {
	config *config.Config
	logger *slog.Logger
	writer *kafka.Writer

	messageCount atomic.Int64
	errorCount   atomic.Int64
}

// NewProducer creates the outcome message producer
func NewProducer(cfg *config.Config, logger *slog.Logger) *Producer {
	writer := &kafka.Writer{
		Addr:             kafka.TCP(cfg.Kafka.Brokers...),
		Balancer:         &kafka.LeastBytes{},
		BatchSize:        cfg.Kafka.Producer.BatchSize,
		BatchTimeout:     cfg.Kafka.Producer.BatchTimeout,
		RequiredAcks:     kafka.RequiredAcks(cfg.Kafka.Producer.RequiredAcks),
		Compression:      compress.Snappy,
		Logger:           &KafkaLogger{logger: logger},
		ErrorLogger:      &KafkaErrorLogger{logger: logger},
	}

	return &Producer{
		config: cfg,
		logger: logger,
		writer: writer,
	}
}

// Stop closes the producer
func (p *Producer) Stop() {
	if p.writer != nil {
		p.writer.Close()
	}
	p.logger.Info("Kafka producer stopped")
}

// PublishTaskGenerated publishes one generated-task outcome
func (p *Producer) PublishTaskGenerated(ctx context.Context, event *database.BusinessEvent, rr engine.RuleResult) error {
	msg := TaskGeneratedMessage{
		TaskID:       rr.TaskID,
		EventID:      event.ID,
		EventType:    event.EventType,
		TaskType:     rr.TaskType,
		Priority:     event.Priority,
		Subsidiary:   event.Subsidiary,
		FallbackUsed: rr.FallbackUsed,
		Timestamp:    time.Now(),
	}
	if rr.AssigneeID != "" {
		msg.AssigneeID = &rr.AssigneeID
	}

	return p.publish(ctx, p.config.Kafka.Topics.TaskGenerated, rr.TaskID, msg, []kafka.Header{
		{Key: "event_id", Value: []byte(event.ID)},
		{Key: "event_type", Value: []byte(event.EventType)},
		{Key: "task_type", Value: []byte(rr.TaskType)},
	})
}

// PublishGreyAreaDetected publishes a detection outcome
func (p *Producer) PublishGreyAreaDetected(ctx context.Context, ga *database.GreyArea) error {
	msg := GreyAreaMessage{
		GreyAreaID:      ga.ID,
		Type:            ga.Type,
		Severity:        ga.Severity,
		Status:          ga.Status,
		Title:           ga.Title,
		Subsidiary:      ga.Subsidiary,
		EntityType:      ga.EntityType,
		EntityID:        ga.EntityID,
		AssignedTo:      ga.AssignedTo,
		EscalationLevel: ga.CurrentEscalationLevel,
		Timestamp:       time.Now(),
	}

	return p.publish(ctx, p.config.Kafka.Topics.GreyAreaDetected, ga.ID, msg, []kafka.Header{
		{Key: "grey_area_id", Value: []byte(ga.ID)},
		{Key: "severity", Value: []byte(ga.Severity)},
		{Key: "type", Value: []byte(ga.Type)},
	})
}

// PublishGreyAreaEscalated publishes an escalation hop
func (p *Producer) PublishGreyAreaEscalated(ctx context.Context, ga *database.GreyArea, record database.EscalationRecord) error {
	msg := GreyAreaMessage{
		GreyAreaID:      ga.ID,
		Type:            ga.Type,
		Severity:        ga.Severity,
		Status:          ga.Status,
		Title:           ga.Title,
		Subsidiary:      ga.Subsidiary,
		EntityType:      ga.EntityType,
		EntityID:        ga.EntityID,
		AssignedTo:      ga.AssignedTo,
		EscalationLevel: record.Level,
		Reason:          record.Reason,
		Timestamp:       time.Now(),
	}

	return p.publish(ctx, p.config.Kafka.Topics.GreyAreaEscalated, ga.ID, msg, []kafka.Header{
		{Key: "grey_area_id", Value: []byte(ga.ID)},
		{Key: "severity", Value: []byte(ga.Severity)},
		{Key: "escalation_level", Value: []byte(fmt.Sprintf("%d", record.Level))},
	})
}

func (p *Producer) publish(ctx context.Context, topic, key string, payload any, headers []kafka.Header) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal message for topic %s: %w", topic, err)
	}

	err = p.writer.WriteMessages(ctx, kafka.Message{
		Topic:   topic,
		Key:     []byte(key),
		Value:   value,
		Headers: headers,
	})
	if err != nil {
		p.errorCount.Add(1)
		return fmt.Errorf("failed to write message to topic %s: %w", topic, err)
	}

	p.messageCount.Add(1)
	p.logger.Debug("Message published", "topic", topic, "key", key)
	return nil
}

// GetStats returns producer statistics
func (p *Producer) GetStats() map[string]any {
	return map[string]any{
		"messages_published": p.messageCount.Load(),
		"errors":             p.errorCount.Load(),
		"is_running":         p.writer != nil,
	}
}

// KafkaLogger adapts slog for kafka-go's informational logging
type KafkaLogger struct {
	logger *slog.Logger
}

// Printf implements kafka.Logger
func (l *KafkaLogger) Printf(format string, args ...any) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// KafkaErrorLogger adapts slog for kafka-go's error logging
type KafkaErrorLogger struct {
	logger *slog.Logger
}

// Printf implements kafka.Logger
func (l *KafkaErrorLogger) Printf(format string, args ...any) {
	l.logger.Error(fmt.Sprintf(format, args...))
}
