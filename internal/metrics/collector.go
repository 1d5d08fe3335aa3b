package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector manages Prometheus metrics for the orchestration engine
type Collector struct {
	eventsProcessed     *prometheus.CounterVec
	eventProcessingTime prometheus.Histogram

	tasksGenerated *prometheus.CounterVec
	rulesSkipped   prometheus.Counter
	rulesFailed    prometheus.Counter
	fallbackUsed   prometheus.Counter

	greyAreasDetected   *prometheus.CounterVec
	greyAreaTransitions *prometheus.CounterVec
	greyAreasEscalated  prometheus.Counter

	notificationsTotal *prometheus.CounterVec

	httpRequestsTotal   *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
}

// NewCollector creates and registers the engine's Prometheus metrics
func NewCollector() *Collector {
	return &Collector{
		eventsProcessed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_events_processed_total",
				Help: "Total number of business events processed",
			},
			[]string{"event_type", "status"},
		),
		eventProcessingTime: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskforge_event_processing_seconds",
				Help:    "Time spent processing one business event batch",
				Buckets: prometheus.DefBuckets,
			},
		),
		tasksGenerated: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_tasks_generated_total",
				Help: "Total number of tasks generated",
			},
			[]string{"priority", "subsidiary"},
		),
		rulesSkipped: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_rules_skipped_total",
				Help: "Total number of task rules skipped because conditions did not match",
			},
		),
		rulesFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_rules_failed_total",
				Help: "Total number of task rules that failed during processing",
			},
		),
		fallbackUsed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_assignment_fallback_total",
				Help: "Total number of assignments resolved through a fallback strategy",
			},
		),
		greyAreasDetected: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_grey_areas_detected_total",
				Help: "Total number of grey areas detected",
			},
			[]string{"severity", "type"},
		),
		greyAreaTransitions: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_grey_area_transitions_total",
				Help: "Total number of grey area lifecycle transitions",
			},
			[]string{"action"},
		),
		greyAreasEscalated: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "taskforge_grey_areas_escalated_total",
				Help: "Total number of grey area escalations",
			},
		),
		notificationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_notifications_total",
				Help: "Total number of notification delivery attempts",
			},
			[]string{"channel", "result"},
		),
		httpRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskforge_http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "taskforge_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
	}
}

// RecordEventProcessed records one completed event batch
func (c *Collector) RecordEventProcessed(eventType, status string, duration time.Duration) {
	c.eventsProcessed.WithLabelValues(eventType, status).Inc()
	c.eventProcessingTime.Observe(duration.Seconds())
}

// RecordTaskGenerated records one generated task
func (c *Collector) RecordTaskGenerated(priority, subsidiary string, fallbackUsed bool) {
	c.tasksGenerated.WithLabelValues(priority, subsidiary).Inc()
	if fallbackUsed {
		c.fallbackUsed.Inc()
	}
}

// RecordRuleSkipped records one condition-skipped rule
func (c *Collector) RecordRuleSkipped() {
	c.rulesSkipped.Inc()
}

// RecordRuleFailed records one failed rule
func (c *Collector) RecordRuleFailed() {
	c.rulesFailed.Inc()
}

// RecordGreyAreaDetected records one grey area detection
func (c *Collector) RecordGreyAreaDetected(severity, greyAreaType string) {
	c.greyAreasDetected.WithLabelValues(severity, greyAreaType).Inc()
}

// RecordGreyAreaTransition records one lifecycle transition
func (c *Collector) RecordGreyAreaTransition(action string) {
	c.greyAreaTransitions.WithLabelValues(action).Inc()
	if action == "escalated" {
		c.greyAreasEscalated.Inc()
	}
}

// RecordNotification records one delivery attempt outcome
func (c *Collector) RecordNotification(channel string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	c.notificationsTotal.WithLabelValues(channel, result).Inc()
}

// RecordHTTPRequest records one served HTTP request
func (c *Collector) RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	c.httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	c.httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}
