package handlers

import (
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
	"taskforge/internal/engine"
	"taskforge/internal/greyarea"
	"taskforge/internal/kafka"
	"taskforge/internal/metrics"
	"taskforge/internal/scheduler"
)

// HTTPHandler serves the engine's REST API
type HTTPHandler struct {
	config       *config.Config
	logger       *slog.Logger
	orchestrator *engine.Orchestrator
	greyEngine   *greyarea.Engine
	lifecycle    *greyarea.Lifecycle
	taskRepo     *database.TaskRepository
	greyAreaRepo *database.GreyAreaRepository
	eventRepo    *database.EventRepository
	dir          directory.Directory
	workload     directory.WorkloadCounter
	consumer     *kafka.Consumer
	producer     *kafka.Producer
	scheduler    *scheduler.Scheduler
	collector    *metrics.Collector
}

// NewHTTPHandler creates the REST API handler
func NewHTTPHandler(
	cfg *config.Config,
	logger *slog.Logger,
	orchestrator *engine.Orchestrator,
	greyEngine *greyarea.Engine,
	lifecycle *greyarea.Lifecycle,
	taskRepo *database.TaskRepository,
	greyAreaRepo *database.GreyAreaRepository,
	eventRepo *database.EventRepository,
	dir directory.Directory,
	workload directory.WorkloadCounter,
	consumer *kafka.Consumer,
	producer *kafka.Producer,
	sched *scheduler.Scheduler,
	collector *metrics.Collector,
) *HTTPHandler {
	return &HTTPHandler{
		config:       cfg,
		logger:       logger,
		orchestrator: orchestrator,
		greyEngine:   greyEngine,
		lifecycle:    lifecycle,
		taskRepo:     taskRepo,
		greyAreaRepo: greyAreaRepo,
		eventRepo:    eventRepo,
		dir:          dir,
		workload:     workload,
		consumer:     consumer,
		producer:     producer,
		scheduler:    sched,
		collector:    collector,
	}
}

// RegisterRoutes registers all API routes
func (h *HTTPHandler) RegisterRoutes(router *gin.Engine) {
	router.Use(h.metricsMiddleware())

	router.GET("/health", h.handleHealth)
	router.GET("/status", h.handleStatus)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := router.Group("/api/v1")

	api.POST("/events", h.handleSubmitEvent)
	api.GET("/events", h.handleListEvents)
	api.POST("/events/:id/retry", h.handleRetryEvent)
	api.POST("/scan", h.handleScanEntity)

	api.GET("/tasks", h.handleListTasks)
	api.GET("/tasks/:id", h.handleGetTask)
	api.POST("/tasks/:id/stage", h.handleUpdateTaskStage)
	api.POST("/tasks/:id/assign", h.handleReassignTask)

	api.GET("/greyareas", h.handleListGreyAreas)
	api.GET("/greyareas/:id", h.handleGetGreyArea)
	api.POST("/greyareas", h.handleFlagGreyArea)
	api.POST("/greyareas/:id/assign", h.handleAssignGreyArea)
	api.POST("/greyareas/:id/escalate", h.handleEscalateGreyArea)
	api.POST("/greyareas/:id/request-input", h.handleRequestInput)
	api.POST("/greyareas/:id/provide-input", h.handleProvideInput)
	api.POST("/greyareas/:id/resolve", h.handleResolveGreyArea)
	api.POST("/greyareas/:id/dismiss", h.handleDismissGreyArea)
}

func (h *HTTPHandler) metricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		h.collector.RecordHTTPRequest(c.Request.Method, c.FullPath(), c.Writer.Status(), time.Since(start))
	}
}

func (h *HTTPHandler) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"service":   "taskforge",
		"timestamp": time.Now(),
	})
}

func (h *HTTPHandler) handleStatus(c *gin.Context) {
	status := gin.H{
		"service":   "taskforge",
		"timestamp": time.Now(),
	}
	if h.consumer != nil {
		status["consumer"] = h.consumer.GetStats()
	}
	if h.producer != nil {
		status["producer"] = h.producer.GetStats()
	}
	if h.scheduler != nil {
		tasks := h.scheduler.GetTasks()
		jobStats := make([]gin.H, 0, len(tasks))
		for _, task := range tasks {
			jobStats = append(jobStats, gin.H{
				"id":          task.ID,
				"last_run":    task.LastRun,
				"next_run":    task.NextRun,
				"run_count":   task.RunCount,
				"error_count": task.ErrorCount,
			})
		}
		status["scheduler"] = jobStats
	}
	c.JSON(http.StatusOK, status)
}

// eventRequest is the manual event submission body
type eventRequest struct {
	EventType   string         `json:"event_type" binding:"required"`
	Category    string         `json:"category"`
	SourceType  string         `json:"source_type"`
	SourceID    string         `json:"source_id"`
	SourceName  string         `json:"source_name"`
	TriggerType string         `json:"trigger_type"`
	TriggerID   string         `json:"trigger_id"`
	Subsidiary  string         `json:"subsidiary" binding:"required"`
	Department  *string        `json:"department,omitempty"`
	Priority    string         `json:"priority"`
	Tags        []string       `json:"tags,omitempty"`
	IsInternal  bool           `json:"is_internal"`
	Payload     map[string]any `json:"payload" binding:"required"`
}

// handleSubmitEvent persists a business event and runs the generation batch
// for it synchronously, returning the batch result.
func (h *HTTPHandler) handleSubmitEvent(c *gin.Context) {
	var req eventRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	priority := req.Priority
	if priority == "" {
		priority = database.PriorityMedium
	}

	event := &database.BusinessEvent{
		ID:               uuid.NewString(),
		EventType:        req.EventType,
		Category:         req.Category,
		SourceType:       req.SourceType,
		SourceID:         req.SourceID,
		SourceName:       req.SourceName,
		TriggerType:      req.TriggerType,
		TriggerID:        req.TriggerID,
		Payload:          req.Payload,
		Subsidiary:       req.Subsidiary,
		Department:       req.Department,
		Priority:         priority,
		Tags:             req.Tags,
		IsInternal:       req.IsInternal,
		ProcessingStatus: database.EventProcessing,
	}

	if err := h.eventRepo.Create(c.Request.Context(), event); err != nil {
		h.logger.Error("Failed to persist submitted event", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist event"})
		return
	}

	result, err := h.orchestrator.ProcessBusinessEvent(c.Request.Context(), event)
	if errors.Is(err, engine.ErrUnknownEventType) || errors.Is(err, engine.ErrEventDisabled) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to process submitted event", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to process event"})
		return
	}

	h.collector.RecordEventProcessed(event.EventType, "completed", result.ProcessingTime)
	for _, rr := range result.Results {
		switch rr.Outcome {
		case engine.OutcomeGenerated:
			h.collector.RecordTaskGenerated(priority, event.Subsidiary, rr.FallbackUsed)
		case engine.OutcomeSkipped:
			h.collector.RecordRuleSkipped()
		case engine.OutcomeFailed:
			h.collector.RecordRuleFailed()
		}
	}

	c.JSON(http.StatusCreated, result)
}

// handleScanEntity screens an arbitrary entity against the detection rules
func (h *HTTPHandler) handleScanEntity(c *gin.Context) {
	var input greyarea.ScanInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if input.EntityType == "" || input.EntityID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "entity_type and entity_id are required"})
		return
	}

	detected, err := h.greyEngine.ScanEntity(c.Request.Context(), input)
	if err != nil {
		h.logger.Error("Entity scan failed",
			"entity_type", input.EntityType,
			"entity_id", input.EntityID,
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "entity scan failed"})
		return
	}

	for _, ga := range detected {
		h.collector.RecordGreyAreaDetected(ga.Severity, ga.Type)
	}

	c.JSON(http.StatusOK, gin.H{
		"detected":   len(detected),
		"grey_areas": detected,
	})
}

func (h *HTTPHandler) handleListTasks(c *gin.Context) {
	filter := h.parseFilter(c,
		"status", "stage", "priority", "subsidiary", "department", "assignee_id", "context_event_id", "type")

	tasks, total, err := h.taskRepo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list tasks", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list tasks"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks":  tasks,
		"total":  total,
		"limit":  filter.Limit,
		"offset": filter.Offset,
	})
}

func (h *HTTPHandler) handleGetTask(c *gin.Context) {
	task, err := h.taskRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get task", "task_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}
	c.JSON(http.StatusOK, task)
}

// stageRequest is the task stage transition body
type stageRequest struct {
	Status string `json:"status" binding:"required"`
	Stage  string `json:"stage" binding:"required"`
}

// handleUpdateTaskStage moves a task to a new status/stage pair. Moving a
// task into a terminal status releases its assignee's workload slot.
func (h *HTTPHandler) handleUpdateTaskStage(c *gin.Context) {
	var req stageRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validTaskStatus(req.Status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task status: " + req.Status})
		return
	}
	if !validTaskStage(req.Stage) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown task stage: " + req.Stage})
		return
	}

	task, err := h.taskRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get task", "task_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}

	if err := h.taskRepo.UpdateStage(c.Request.Context(), task.ID, req.Status, req.Stage); err != nil {
		h.logger.Error("Failed to update task stage", "task_id", task.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to update task stage"})
		return
	}

	if terminalTaskStatus(req.Status) && !terminalTaskStatus(task.Status) && task.AssigneeID != nil {
		if _, err := h.workload.Decrement(c.Request.Context(), *task.AssigneeID); err != nil {
			h.logger.Warn("Failed to release workload slot",
				"task_id", task.ID,
				"assignee_id", *task.AssigneeID,
				"error", err)
		}
	}

	task.Status = req.Status
	task.Stage = req.Stage
	c.JSON(http.StatusOK, task)
}

// handleReassignTask hands a task to a named employee, bypassing the
// resolver. The previous assignee keeps an audit trail entry and gives back
// their workload slot.
func (h *HTTPHandler) handleReassignTask(c *gin.Context) {
	var req struct {
		AssigneeID string `json:"assignee_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	emp, err := h.dir.GetByID(c.Request.Context(), req.AssigneeID)
	if errors.Is(err, directory.ErrNotFound) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "assignee not found in directory"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to look up assignee", "assignee_id", req.AssigneeID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to look up assignee"})
		return
	}
	if !emp.Active() {
		c.JSON(http.StatusConflict, gin.H{"error": "assignee is not active"})
		return
	}

	task, err := h.taskRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "task not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get task", "task_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get task"})
		return
	}

	if err := h.taskRepo.UpdateAssignment(c.Request.Context(), task.ID, emp.ID, "manual", false); err != nil {
		h.logger.Error("Failed to reassign task", "task_id", task.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reassign task"})
		return
	}

	if _, err := h.workload.Increment(c.Request.Context(), emp.ID); err != nil {
		h.logger.Warn("Failed to record workload", "assignee_id", emp.ID, "error", err)
	}
	if task.AssigneeID != nil && *task.AssigneeID != emp.ID {
		if _, err := h.workload.Decrement(c.Request.Context(), *task.AssigneeID); err != nil {
			h.logger.Warn("Failed to release workload slot",
				"assignee_id", *task.AssigneeID,
				"error", err)
		}
	}

	updated, err := h.taskRepo.GetByID(c.Request.Context(), task.ID)
	if err != nil {
		h.logger.Error("Failed to reload task after reassignment", "task_id", task.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reload task"})
		return
	}
	c.JSON(http.StatusOK, updated)
}

// handleListEvents lists business events in one processing status, oldest
// first. Backs the operator view of the failed/pending backlog.
func (h *HTTPHandler) handleListEvents(c *gin.Context) {
	status := c.Query("status")
	if !validEventStatus(status) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "status must be one of pending, processing, completed, failed, skipped"})
		return
	}

	limit := 50
	if parsed, err := strconv.Atoi(c.Query("limit")); err == nil && parsed > 0 && parsed <= 500 {
		limit = parsed
	}

	events, err := h.eventRepo.ListByStatus(c.Request.Context(), status, limit)
	if err != nil {
		h.logger.Error("Failed to list events", "status", status, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list events"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
		"status": status,
		"limit":  limit,
	})
}

// handleRetryEvent replays a stored event through the generation batch. The
// retry counter records the replay before processing starts, so a crash
// mid-batch still shows up in the audit trail.
func (h *HTTPHandler) handleRetryEvent(c *gin.Context) {
	event, err := h.eventRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get event", "event_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get event"})
		return
	}

	if err := h.eventRepo.IncrementRetryCount(c.Request.Context(), event.ID); err != nil {
		h.logger.Error("Failed to record event retry", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to record event retry"})
		return
	}

	result, err := h.orchestrator.ProcessBusinessEvent(c.Request.Context(), event)
	if errors.Is(err, engine.ErrUnknownEventType) || errors.Is(err, engine.ErrEventDisabled) {
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":  err.Error(),
			"result": result,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to reprocess event", "event_id", event.ID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reprocess event"})
		return
	}

	h.collector.RecordEventProcessed(event.EventType, "retried", result.ProcessingTime)
	c.JSON(http.StatusOK, result)
}

func (h *HTTPHandler) handleListGreyAreas(c *gin.Context) {
	filter := h.parseFilter(c,
		"status", "severity", "subsidiary", "department", "type", "entity_type", "entity_id", "assigned_to")

	areas, total, err := h.greyAreaRepo.List(c.Request.Context(), filter)
	if err != nil {
		h.logger.Error("Failed to list grey areas", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list grey areas"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"grey_areas": areas,
		"total":      total,
		"limit":      filter.Limit,
		"offset":     filter.Offset,
	})
}

func (h *HTTPHandler) handleGetGreyArea(c *gin.Context) {
	ga, err := h.greyAreaRepo.GetByID(c.Request.Context(), c.Param("id"))
	if errors.Is(err, sql.ErrNoRows) {
		c.JSON(http.StatusNotFound, gin.H{"error": "grey area not found"})
		return
	}
	if err != nil {
		h.logger.Error("Failed to get grey area", "grey_area_id", c.Param("id"), "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to get grey area"})
		return
	}
	c.JSON(http.StatusOK, ga)
}

// flagRequest is the manual grey-area flag body
type flagRequest struct {
	Subsidiary  string  `json:"subsidiary" binding:"required"`
	Department  string  `json:"department"`
	Type        string  `json:"type" binding:"required"`
	Severity    string  `json:"severity" binding:"required"`
	Title       string  `json:"title" binding:"required"`
	Description string  `json:"description"`
	EntityType  string  `json:"entity_type" binding:"required"`
	EntityID    string  `json:"entity_id" binding:"required"`
	FlaggedBy   string  `json:"flagged_by" binding:"required"`
	AssignTo    *string `json:"assign_to,omitempty"`
}

// handleFlagGreyArea creates a grey area from a human report instead of a
// detection rule.
func (h *HTTPHandler) handleFlagGreyArea(c *gin.Context) {
	var req flagRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if !validSeverity(req.Severity) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "severity must be one of critical, high, medium, low"})
		return
	}

	now := time.Now()
	slaHours := h.config.GreyArea.SLAHoursForSeverity(req.Severity)
	deadline := engine.CalculateDeadline(now, slaHours, req.Severity,
		h.config.Engine.BusinessHoursOnly, h.config.Engine.ExcludeWeekends, h.config.Engine)

	ga := &database.GreyArea{
		ID:                 uuid.NewString(),
		Subsidiary:         req.Subsidiary,
		Department:         req.Department,
		Type:               req.Type,
		Severity:           req.Severity,
		Status:             database.GreyAreaDetected,
		Title:              req.Title,
		Description:        req.Description,
		EntityType:         req.EntityType,
		EntityID:           req.EntityID,
		DetectedAt:         now,
		DetectionMethod:    "manual",
		AssignedTo:         req.AssignTo,
		ResolutionDeadline: deadline,
		ActivityLog: database.ActivityLog{{
			Timestamp: now,
			Action:    "detected",
			Actor:     req.FlaggedBy,
			Details:   "flagged manually",
		}},
	}

	if err := h.greyAreaRepo.Create(c.Request.Context(), ga); err != nil {
		h.logger.Error("Failed to create flagged grey area", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create grey area"})
		return
	}

	h.collector.RecordGreyAreaDetected(ga.Severity, ga.Type)
	c.JSON(http.StatusCreated, ga)
}

func (h *HTTPHandler) handleAssignGreyArea(c *gin.Context) {
	var req struct {
		AssigneeID string `json:"assignee_id" binding:"required"`
		Actor      string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.Assign(c.Request.Context(), c.Param("id"), req.AssigneeID, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("assigned")
	c.JSON(http.StatusOK, ga)
}

func (h *HTTPHandler) handleEscalateGreyArea(c *gin.Context) {
	var req struct {
		To     string `json:"to"`
		Reason string `json:"reason" binding:"required"`
		Actor  string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.Escalate(c.Request.Context(), c.Param("id"), req.To, req.Reason, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("escalated")
	c.JSON(http.StatusOK, ga)
}

func (h *HTTPHandler) handleRequestInput(c *gin.Context) {
	var req struct {
		Inputs []greyarea.InputRequest `json:"inputs" binding:"required"`
		Actor  string                  `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.RequestInput(c.Request.Context(), c.Param("id"), req.Inputs, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("input_requested")
	c.JSON(http.StatusOK, ga)
}

func (h *HTTPHandler) handleProvideInput(c *gin.Context) {
	var req struct {
		Responses []greyarea.InputResponse `json:"responses" binding:"required"`
		Actor     string                   `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.ProvideInput(c.Request.Context(), c.Param("id"), req.Responses, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("input_provided")
	c.JSON(http.StatusOK, ga)
}

func (h *HTTPHandler) handleResolveGreyArea(c *gin.Context) {
	var req struct {
		Resolution greyarea.Resolution `json:"resolution" binding:"required"`
		Actor      string              `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.Resolve(c.Request.Context(), c.Param("id"), req.Resolution, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("resolved")
	c.JSON(http.StatusOK, ga)
}

func (h *HTTPHandler) handleDismissGreyArea(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
		Actor  string `json:"actor" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ga, err := h.lifecycle.Dismiss(c.Request.Context(), c.Param("id"), req.Reason, req.Actor)
	if h.writeLifecycleError(c, err) {
		return
	}

	h.collector.RecordGreyAreaTransition("dismissed")
	c.JSON(http.StatusOK, ga)
}

// writeLifecycleError maps lifecycle errors onto HTTP statuses. Returns true
// when a response was written.
func (h *HTTPHandler) writeLifecycleError(c *gin.Context, err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, sql.ErrNoRows):
		c.JSON(http.StatusNotFound, gin.H{"error": "grey area not found"})
	case errors.Is(err, greyarea.ErrInvalidTransition),
		errors.Is(err, greyarea.ErrEscalationCeiling):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
	case errors.Is(err, greyarea.ErrAssigneeRequired),
		errors.Is(err, greyarea.ErrNoInputsRequested),
		errors.Is(err, greyarea.ErrInputSlotNotFound):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	default:
		h.logger.Error("Grey area lifecycle operation failed",
			"grey_area_id", c.Param("id"),
			"path", c.FullPath(),
			"error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "operation failed"})
	}
	return true
}

// parseFilter builds a list filter from the query string. Only the named
// fields are honored; everything else is ignored.
func (h *HTTPHandler) parseFilter(c *gin.Context, fields ...string) database.Filter {
	filter := database.Filter{
		Limit:     50,
		Offset:    0,
		SortOrder: "DESC",
		Filters:   make(map[string]any),
	}

	if limit, err := strconv.Atoi(c.Query("limit")); err == nil && limit > 0 && limit <= 500 {
		filter.Limit = limit
	}
	if offset, err := strconv.Atoi(c.Query("offset")); err == nil && offset >= 0 {
		filter.Offset = offset
	}
	if sortBy := c.Query("sort_by"); sortBy != "" {
		filter.SortBy = sortBy
	}
	if order := c.Query("sort_order"); order == "ASC" || order == "DESC" {
		filter.SortOrder = order
	}

	for _, field := range fields {
		if value := c.Query(field); value != "" {
			filter.Filters[field] = value
		}
	}

	if from := c.Query("date_from"); from != "" {
		if t, err := time.Parse(time.RFC3339, from); err == nil {
			filter.DateFrom = &t
		}
	}
	if to := c.Query("date_to"); to != "" {
		if t, err := time.Parse(time.RFC3339, to); err == nil {
			filter.DateTo = &t
		}
	}

	return filter
}

func validSeverity(severity string) bool {
	switch severity {
	case database.PriorityCritical, database.PriorityHigh, database.PriorityMedium, database.PriorityLow:
		return true
	}
	return false
}

func validTaskStatus(status string) bool {
	switch status {
	case database.TaskStatusPending, database.TaskStatusInProgress, database.TaskStatusBlocked,
		database.TaskStatusCompleted, database.TaskStatusCancelled:
		return true
	}
	return false
}

func validTaskStage(stage string) bool {
	switch stage {
	case database.StagePendingAssignment, database.StageAssigned, database.StageInProgress,
		database.StagePendingReview, database.StageCompleted, database.StageCancelled,
		database.StageBlocked, database.StageEscalated:
		return true
	}
	return false
}

func terminalTaskStatus(status string) bool {
	return status == database.TaskStatusCompleted || status == database.TaskStatusCancelled
}

func validEventStatus(status string) bool {
	switch status {
	case database.EventPending, database.EventProcessing, database.EventCompleted,
		database.EventFailed, database.EventSkipped:
		return true
	}
	return false
}
