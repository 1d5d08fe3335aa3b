package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete configuration for the orchestration engine service
type Config struct {
	Environment   string              `mapstructure:"environment"`
	Debug         bool                `mapstructure:"debug"`
	Server        ServerConfig        `mapstructure:"server"`
	Database      DatabaseConfig      `mapstructure:"database"`
	Redis         RedisConfig         `mapstructure:"redis"`
	Kafka         KafkaConfig         `mapstructure:"kafka"`
	Engine        EngineConfig        `mapstructure:"engine"`
	GreyArea      GreyAreaConfig      `mapstructure:"grey_area"`
	Catalog       CatalogConfig       `mapstructure:"catalog"`
	Notifications NotificationsConfig `mapstructure:"notifications"`
	Scheduler     SchedulerConfig     `mapstructure:"scheduler"`
	Logging       LoggingConfig       `mapstructure:"logging"`
}

// ServerConfig contains HTTP server configuration
type ServerConfig struct {
	HTTPPort int `mapstructure:"http_port"`
}

// DatabaseConfig contains database configuration
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	Name            string        `mapstructure:"name"`
	Username        string        `mapstructure:"username"`
	Password        string        `mapstructure:"password"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	MigrationsPath  string        `mapstructure:"migrations_path"`
}

// RedisConfig contains Redis configuration for workload counters
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	PoolSize int    `mapstructure:"pool_size"`
}

// KafkaConfig contains Kafka configuration
type KafkaConfig struct {
	Brokers  []string       `mapstructure:"brokers"`
	GroupID  string         `mapstructure:"group_id"`
	Topics   TopicsConfig   `mapstructure:"topics"`
	Consumer ConsumerConfig `mapstructure:"consumer"`
	Producer ProducerConfig `mapstructure:"producer"`
}

// TopicsConfig contains Kafka topic configuration
type TopicsConfig struct {
	// Input topic (business events to process)
	BusinessEvents string `mapstructure:"business_events"`

	// Output topics
	TaskGenerated     string `mapstructure:"task_generated"`
	GreyAreaDetected  string `mapstructure:"grey_area_detected"`
	GreyAreaEscalated string `mapstructure:"grey_area_escalated"`
}

// ConsumerConfig contains Kafka consumer tuning
type ConsumerConfig struct {
	WorkerCount    int           `mapstructure:"worker_count"`
	MinBytes       int           `mapstructure:"min_bytes"`
	MaxBytes       int           `mapstructure:"max_bytes"`
	CommitInterval time.Duration `mapstructure:"commit_interval"`
}

// ProducerConfig contains Kafka producer tuning
type ProducerConfig struct {
	BatchSize    int           `mapstructure:"batch_size"`
	BatchTimeout time.Duration `mapstructure:"batch_timeout"`
	RequiredAcks int           `mapstructure:"required_acks"`
}

// EngineConfig contains task generation engine configuration
type EngineConfig struct {
	// Default SLA hours applied per priority tier when a rule carries no
	// explicit due window.
	SLAHoursCritical float64 `mapstructure:"sla_hours_critical"`
	SLAHoursHigh     float64 `mapstructure:"sla_hours_high"`
	SLAHoursMedium   float64 `mapstructure:"sla_hours_medium"`
	SLAHoursLow      float64 `mapstructure:"sla_hours_low"`

	BusinessHoursOnly bool `mapstructure:"business_hours_only"`
	BusinessStartHour int  `mapstructure:"business_start_hour"`
	BusinessEndHour   int  `mapstructure:"business_end_hour"`
	ExcludeWeekends   bool `mapstructure:"exclude_weekends"`

	// Financial impact thresholds feeding priority escalation.
	FinancialImpactHigh float64 `mapstructure:"financial_impact_high"`
	FinancialImpactMid  float64 `mapstructure:"financial_impact_mid"`

	WorkloadBalancing      bool          `mapstructure:"workload_balancing"`
	DefaultWorkloadCeiling int           `mapstructure:"default_workload_ceiling"`
	MaxFallbackDepth       int           `mapstructure:"max_fallback_depth"`
	RuleEvaluationTimeout  time.Duration `mapstructure:"rule_evaluation_timeout"`
	NotifyOnAssignment     bool          `mapstructure:"notify_on_assignment"`
}

// GreyAreaConfig contains grey-area lifecycle configuration
type GreyAreaConfig struct {
	// Default SLA hours per severity when a detection rule carries none.
	SLAHoursCritical float64 `mapstructure:"sla_hours_critical"`
	SLAHoursHigh     float64 `mapstructure:"sla_hours_high"`
	SLAHoursMedium   float64 `mapstructure:"sla_hours_medium"`
	SLAHoursLow      float64 `mapstructure:"sla_hours_low"`

	MaxEscalationLevel int  `mapstructure:"max_escalation_level"`
	NotifyOnEscalation bool `mapstructure:"notify_on_escalation"`
}

// CatalogConfig contains rule catalog configuration
type CatalogConfig struct {
	Directory      string        `mapstructure:"directory"`
	ReloadInterval time.Duration `mapstructure:"reload_interval"`
}

// NotificationsConfig contains notification configuration
type NotificationsConfig struct {
	Email   EmailConfig   `mapstructure:"email"`
	SMS     SMSConfig     `mapstructure:"sms"`
	Webhook WebhookConfig `mapstructure:"webhook"`

	QueueSize   int `mapstructure:"queue_size"`
	WorkerCount int `mapstructure:"worker_count"`
}

// EmailConfig contains email notification configuration
type EmailConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	SendGridAPIKey  string        `mapstructure:"sendgrid_api_key"`
	FromAddress     string        `mapstructure:"from_address"`
	FromName        string        `mapstructure:"from_name"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// SMSConfig contains SMS notification configuration
type SMSConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	TwilioSID       string        `mapstructure:"twilio_sid"`
	TwilioToken     string        `mapstructure:"twilio_token"`
	FromNumber      string        `mapstructure:"from_number"`
	MaxRetries      int           `mapstructure:"max_retries"`
	RetryDelay      time.Duration `mapstructure:"retry_delay"`
	Timeout         time.Duration `mapstructure:"timeout"`
	RateLimitPerMin int           `mapstructure:"rate_limit_per_min"`
}

// WebhookConfig contains webhook notification configuration
type WebhookConfig struct {
	Enabled         bool              `mapstructure:"enabled"`
	DefaultURL      string            `mapstructure:"default_url"`
	Headers         map[string]string `mapstructure:"headers"`
	Timeout         time.Duration     `mapstructure:"timeout"`
	MaxRetries      int               `mapstructure:"max_retries"`
	RetryDelay      time.Duration     `mapstructure:"retry_delay"`
	RateLimitPerMin int               `mapstructure:"rate_limit_per_min"`
}

// SchedulerConfig contains scheduler configuration
type SchedulerConfig struct {
	Enabled                   bool   `mapstructure:"enabled"`
	EscalationSweepSchedule   string `mapstructure:"escalation_sweep_schedule"`
	CatalogReloadSchedule     string `mapstructure:"catalog_reload_schedule"`
	NotificationDrainSchedule string `mapstructure:"notification_drain_schedule"`
	CleanupSchedule           string `mapstructure:"cleanup_schedule"`
	TaskRetentionDays         int    `mapstructure:"task_retention_days"`
	GreyAreaRetentionDays     int    `mapstructure:"grey_area_retention_days"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"` // json, text
	IncludeSource bool   `mapstructure:"include_source"`
}

// ConnectionString builds a Postgres DSN from the database configuration
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.Username, d.Password, d.Name, d.SSLMode,
	)
}

// SLAHoursForTier returns the default SLA window for a priority tier
func (e EngineConfig) SLAHoursForTier(tier string) float64 {
	switch tier {
	case "critical":
		return e.SLAHoursCritical
	case "high":
		return e.SLAHoursHigh
	case "medium":
		return e.SLAHoursMedium
	default:
		return e.SLAHoursLow
	}
}

// SLAHoursForSeverity returns the default resolution window for a severity
func (g GreyAreaConfig) SLAHoursForSeverity(severity string) float64 {
	switch severity {
	case "critical":
		return g.SLAHoursCritical
	case "high":
		return g.SLAHoursHigh
	case "medium":
		return g.SLAHoursMedium
	default:
		return g.SLAHoursLow
	}
}

// Load loads configuration from environment variables and config files
func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/taskforge")

	// Set default values
	setDefaults()

	// Enable environment variable binding
	viper.AutomaticEnv()
	viper.SetEnvPrefix("TASKFORGE")

	// Read config file (optional)
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	return &config, nil
}

// setDefaults sets default configuration values
func setDefaults() {
	// General
	viper.SetDefault("environment", "development")
	viper.SetDefault("debug", false)

	// Server
	viper.SetDefault("server.http_port", 8086)

	// Database
	viper.SetDefault("database.host", "localhost")
	viper.SetDefault("database.port", 5432)
	viper.SetDefault("database.name", "taskforge")
	viper.SetDefault("database.username", "postgres")
	viper.SetDefault("database.password", "postgres")
	viper.SetDefault("database.ssl_mode", "disable")
	viper.SetDefault("database.max_open_conns", 25)
	viper.SetDefault("database.max_idle_conns", 5)
	viper.SetDefault("database.conn_max_lifetime", "5m")
	viper.SetDefault("database.migrations_path", "file://migrations")

	// Redis
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.password", "")
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.pool_size", 10)

	// Kafka
	viper.SetDefault("kafka.brokers", []string{"localhost:9092"})
	viper.SetDefault("kafka.group_id", "taskforge")
	viper.SetDefault("kafka.topics.business_events", "business-events")
	viper.SetDefault("kafka.topics.task_generated", "task-generated")
	viper.SetDefault("kafka.topics.grey_area_detected", "grey-area-detected")
	viper.SetDefault("kafka.topics.grey_area_escalated", "grey-area-escalated")
	viper.SetDefault("kafka.consumer.worker_count", 4)
	viper.SetDefault("kafka.consumer.min_bytes", 10e3)
	viper.SetDefault("kafka.consumer.max_bytes", 10e6)
	viper.SetDefault("kafka.consumer.commit_interval", "1s")
	viper.SetDefault("kafka.producer.batch_size", 100)
	viper.SetDefault("kafka.producer.batch_timeout", "100ms")
	viper.SetDefault("kafka.producer.required_acks", -1)

	// Engine
	viper.SetDefault("engine.sla_hours_critical", 4)
	viper.SetDefault("engine.sla_hours_high", 24)
	viper.SetDefault("engine.sla_hours_medium", 72)
	viper.SetDefault("engine.sla_hours_low", 168)
	viper.SetDefault("engine.business_hours_only", true)
	viper.SetDefault("engine.business_start_hour", 9)
	viper.SetDefault("engine.business_end_hour", 18)
	viper.SetDefault("engine.exclude_weekends", true)
	viper.SetDefault("engine.financial_impact_high", 100000)
	viper.SetDefault("engine.financial_impact_mid", 10000)
	viper.SetDefault("engine.workload_balancing", true)
	viper.SetDefault("engine.default_workload_ceiling", 40)
	viper.SetDefault("engine.max_fallback_depth", 5)
	viper.SetDefault("engine.rule_evaluation_timeout", "10s")
	viper.SetDefault("engine.notify_on_assignment", true)

	// Grey areas
	viper.SetDefault("grey_area.sla_hours_critical", 4)
	viper.SetDefault("grey_area.sla_hours_high", 24)
	viper.SetDefault("grey_area.sla_hours_medium", 72)
	viper.SetDefault("grey_area.sla_hours_low", 168)
	viper.SetDefault("grey_area.max_escalation_level", 3)
	viper.SetDefault("grey_area.notify_on_escalation", true)

	// Catalog
	viper.SetDefault("catalog.directory", "./catalog")
	viper.SetDefault("catalog.reload_interval", "5m")

	// Notifications
	viper.SetDefault("notifications.queue_size", 1000)
	viper.SetDefault("notifications.worker_count", 4)

	viper.SetDefault("notifications.email.enabled", false)
	viper.SetDefault("notifications.email.max_retries", 3)
	viper.SetDefault("notifications.email.retry_delay", "10s")
	viper.SetDefault("notifications.email.timeout", "30s")
	viper.SetDefault("notifications.email.rate_limit_per_min", 60)

	viper.SetDefault("notifications.sms.enabled", false)
	viper.SetDefault("notifications.sms.max_retries", 3)
	viper.SetDefault("notifications.sms.retry_delay", "10s")
	viper.SetDefault("notifications.sms.timeout", "30s")
	viper.SetDefault("notifications.sms.rate_limit_per_min", 10)

	viper.SetDefault("notifications.webhook.enabled", false)
	viper.SetDefault("notifications.webhook.timeout", "30s")
	viper.SetDefault("notifications.webhook.max_retries", 3)
	viper.SetDefault("notifications.webhook.retry_delay", "10s")
	viper.SetDefault("notifications.webhook.rate_limit_per_min", 120)

	// Scheduler
	viper.SetDefault("scheduler.enabled", true)
	viper.SetDefault("scheduler.escalation_sweep_schedule", "0 */5 * * * *")
	viper.SetDefault("scheduler.catalog_reload_schedule", "0 */5 * * * *")
	viper.SetDefault("scheduler.notification_drain_schedule", "30 * * * * *")
	viper.SetDefault("scheduler.cleanup_schedule", "0 0 3 * * *")
	viper.SetDefault("scheduler.task_retention_days", 90)
	viper.SetDefault("scheduler.grey_area_retention_days", 180)

	// Logging
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.include_source", false)
}
