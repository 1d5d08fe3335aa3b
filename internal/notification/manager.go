package notification

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
)

// Channel names
const (
	ChannelEmail   = "email"
	ChannelSMS     = "sms"
	ChannelWebhook = "webhook"
)

// DeliveryMetrics records per-channel delivery outcomes. Satisfied by the
// metrics collector; a nil metrics sink disables recording.
type DeliveryMetrics interface {
	RecordNotification(channel string, success bool)
}

// Notification is one queued delivery. Recipient is either an employee id
// (resolved through the directory) or a raw address for the channel.
type Notification struct {
	ID         string
	Channel    string
	Recipient  string
	Subject    string
	Body       string
	Attempts   int
	MaxRetries int
	EnqueuedAt time.Time
	LastError  string
}

// Manager queues and delivers notifications across channels with per-channel
// rate limits, a worker pool and bounded retries. Delivery is best-effort:
// callers never block on it and a full queue drops rather than stalls the
// engine.
type Manager struct {
	cfg     config.NotificationsConfig
	logger  *slog.Logger
	dir     directory.Directory
	metrics DeliveryMetrics

	emailClient   *EmailClient
	smsClient     *SMSClient
	webhookClient *WebhookClient

	rateLimiters map[string]*rate.Limiter

	queue      chan *Notification
	retryMu    sync.Mutex
	retryQueue []*Notification

	shutdownChan chan struct{}
	stopOnce     sync.Once
	wg           sync.WaitGroup
}

// NewManager creates a notification manager with the enabled channel clients
func NewManager(cfg config.NotificationsConfig, dir directory.Directory, metrics DeliveryMetrics, logger *slog.Logger) *Manager {
	m := &Manager{
		cfg:          cfg,
		logger:       logger,
		dir:          dir,
		metrics:      metrics,
		rateLimiters: make(map[string]*rate.Limiter),
		queue:        make(chan *Notification, cfg.QueueSize),
		shutdownChan: make(chan struct{}),
	}

	if cfg.Email.Enabled {
		m.emailClient = NewEmailClient(cfg.Email, logger)
		m.rateLimiters[ChannelEmail] = perMinuteLimiter(cfg.Email.RateLimitPerMin)
	}
	if cfg.SMS.Enabled {
		m.smsClient = NewSMSClient(cfg.SMS, logger)
		m.rateLimiters[ChannelSMS] = perMinuteLimiter(cfg.SMS.RateLimitPerMin)
	}
	if cfg.Webhook.Enabled {
		m.webhookClient = NewWebhookClient(cfg.Webhook, logger)
		m.rateLimiters[ChannelWebhook] = perMinuteLimiter(cfg.Webhook.RateLimitPerMin)
	}

	return m
}

func perMinuteLimiter(perMin int) *rate.Limiter {
	if perMin <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(perMin)/60, perMin)
}

// Start launches the delivery workers
func (m *Manager) Start(ctx context.Context) {
	m.logger.Info("Starting notification manager", "workers", m.cfg.WorkerCount)

	for i := 0; i < m.cfg.WorkerCount; i++ {
		m.wg.Add(1)
		go m.worker(ctx, i)
	}
}

// Stop drains the workers and waits for in-flight deliveries
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.logger.Info("Stopping notification manager")
		close(m.shutdownChan)
		m.wg.Wait()
		m.logger.Info("Notification manager stopped")
	})
}

// Notify queues a generic notification on a channel. Implements the
// orchestrator's notifier contract.
func (m *Manager) Notify(ctx context.Context, channel, recipient, subject, body string) {
	m.enqueue(&Notification{
		ID:         uuid.NewString(),
		Channel:    channel,
		Recipient:  recipient,
		Subject:    subject,
		Body:       body,
		MaxRetries: m.maxRetries(channel),
		EnqueuedAt: time.Now(),
	})
}

// NotifyTaskAssigned tells an assignee about their new task
func (m *Manager) NotifyTaskAssigned(ctx context.Context, task *database.Task) {
	if task.AssigneeID == nil {
		return
	}

	due := ""
	if task.DueDate != nil {
		due = task.DueDate.Format("Mon 2 Jan 15:04")
	}
	subject := fmt.Sprintf("New task assigned: %s", task.Title)
	body := fmt.Sprintf("You have been assigned a %s priority task.\n\n%s\n\n%s\n\nDue: %s",
		task.Priority, task.Title, task.Description, due)

	m.Notify(ctx, ChannelEmail, *task.AssigneeID, subject, body)

	// Critical work also pages over SMS when the channel is on.
	if task.Priority == database.PriorityCritical && m.smsClient != nil {
		m.Notify(ctx, ChannelSMS, *task.AssigneeID,
			subject, fmt.Sprintf("CRITICAL task assigned: %s (due %s)", task.Title, due))
	}
}

// NotifyGreyAreaAssigned tells a reviewer about a grey area on their desk
func (m *Manager) NotifyGreyAreaAssigned(ctx context.Context, ga *database.GreyArea) {
	if ga.AssignedTo == nil {
		return
	}

	subject := fmt.Sprintf("Grey area review needed: %s", ga.Title)
	body := fmt.Sprintf("A %s severity grey area needs your review.\n\n%s\n\n%s\n\nResolution deadline: %s",
		ga.Severity, ga.Title, ga.Description, ga.ResolutionDeadline.Format("Mon 2 Jan 15:04"))

	m.Notify(ctx, ChannelEmail, *ga.AssignedTo, subject, body)
}

// NotifyGreyAreaEscalated tells the escalation target about the hop
func (m *Manager) NotifyGreyAreaEscalated(ctx context.Context, ga *database.GreyArea, record database.EscalationRecord) {
	if record.To == "" {
		return
	}

	subject := fmt.Sprintf("Grey area escalated to you (level %d): %s", record.Level, ga.Title)
	body := fmt.Sprintf("A %s severity grey area has been escalated to you.\n\nReason: %s\n\n%s\n\nResolution deadline: %s",
		ga.Severity, record.Reason, ga.Description, ga.ResolutionDeadline.Format("Mon 2 Jan 15:04"))

	m.Notify(ctx, ChannelEmail, record.To, subject, body)
	if ga.Severity == database.PriorityCritical && m.smsClient != nil {
		m.Notify(ctx, ChannelSMS, record.To,
			subject, fmt.Sprintf("ESCALATED grey area: %s (%s)", ga.Title, record.Reason))
	}
}

// DrainRetries re-queues failed deliveries that still have retry budget.
// Called by the scheduler's drain sweep.
func (m *Manager) DrainRetries(ctx context.Context) int {
	m.retryMu.Lock()
	pending := m.retryQueue
	m.retryQueue = nil
	m.retryMu.Unlock()

	for _, n := range pending {
		m.enqueue(n)
	}

	if len(pending) > 0 {
		m.logger.Info("Re-queued notification retries", "count", len(pending))
	}
	return len(pending)
}

func (m *Manager) enqueue(n *Notification) {
	select {
	case m.queue <- n:
	default:
		m.logger.Warn("Notification queue full, dropping",
			"notification_id", n.ID,
			"channel", n.Channel,
			"recipient", n.Recipient)
	}
}

func (m *Manager) worker(ctx context.Context, workerID int) {
	defer m.wg.Done()

	m.logger.Debug("Starting notification worker", "worker_id", workerID)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.shutdownChan:
			return
		case n := <-m.queue:
			m.deliver(ctx, n)
		}
	}
}

func (m *Manager) deliver(ctx context.Context, n *Notification) {
	if limiter := m.rateLimiters[n.Channel]; limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}

	n.Attempts++
	err := m.send(ctx, n)
	m.recordOutcome(n.Channel, err == nil)
	if err == nil {
		m.logger.Info("Notification sent",
			"notification_id", n.ID,
			"channel", n.Channel,
			"recipient", n.Recipient,
			"attempts", n.Attempts)
		return
	}

	n.LastError = err.Error()
	m.logger.Error("Failed to send notification",
		"notification_id", n.ID,
		"channel", n.Channel,
		"attempt", n.Attempts,
		"error", err)

	if n.Attempts <= n.MaxRetries {
		m.retryMu.Lock()
		m.retryQueue = append(m.retryQueue, n)
		m.retryMu.Unlock()
	} else {
		m.logger.Warn("Notification dropped after exhausting retries",
			"notification_id", n.ID,
			"channel", n.Channel,
			"recipient", n.Recipient)
	}
}

func (m *Manager) recordOutcome(channel string, success bool) {
	if m.metrics != nil {
		m.metrics.RecordNotification(channel, success)
	}
}

func (m *Manager) send(ctx context.Context, n *Notification) error {
	switch n.Channel {
	case ChannelEmail:
		if m.emailClient == nil {
			return fmt.Errorf("email channel is disabled")
		}
		address, err := m.resolveEmail(ctx, n.Recipient)
		if err != nil {
			return err
		}
		return m.emailClient.Send(ctx, address, n.Subject, n.Body)
	case ChannelSMS:
		if m.smsClient == nil {
			return fmt.Errorf("sms channel is disabled")
		}
		number, err := m.resolvePhone(ctx, n.Recipient)
		if err != nil {
			return err
		}
		return m.smsClient.Send(ctx, number, n.Body)
	case ChannelWebhook:
		if m.webhookClient == nil {
			return fmt.Errorf("webhook channel is disabled")
		}
		return m.webhookClient.Send(ctx, n.Recipient, n.Subject, n.Body)
	default:
		return fmt.Errorf("unsupported notification channel: %s", n.Channel)
	}
}

// resolveEmail maps an employee id to their directory email. A recipient
// that already looks like an address passes through untouched.
func (m *Manager) resolveEmail(ctx context.Context, recipient string) (string, error) {
	if strings.Contains(recipient, "@") {
		return recipient, nil
	}

	emp, err := m.dir.GetByID(ctx, recipient)
	if err != nil {
		return "", fmt.Errorf("failed to resolve recipient %s: %w", recipient, err)
	}
	if emp.Email == "" {
		return "", fmt.Errorf("recipient %s has no email address", recipient)
	}
	return emp.Email, nil
}

func (m *Manager) resolvePhone(ctx context.Context, recipient string) (string, error) {
	if strings.HasPrefix(recipient, "+") {
		return recipient, nil
	}

	emp, err := m.dir.GetByID(ctx, recipient)
	if err != nil {
		return "", fmt.Errorf("failed to resolve recipient %s: %w", recipient, err)
	}
	if emp.Phone == "" {
		return "", fmt.Errorf("recipient %s has no phone number", recipient)
	}
	return emp.Phone, nil
}

func (m *Manager) maxRetries(channel string) int {
	switch channel {
	case ChannelEmail:
		return m.cfg.Email.MaxRetries
	case ChannelSMS:
		return m.cfg.SMS.MaxRetries
	case ChannelWebhook:
		return m.cfg.Webhook.MaxRetries
	default:
		return 0
	}
}
