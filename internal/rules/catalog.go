package rules

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Assignment rule types
const (
	AssignRole       = "role"
	AssignDepartment = "department"
	AssignUser       = "user"
	AssignManager    = "manager"
	AssignCreator    = "creator"
	AssignDynamic    = "dynamic"
)

// AssignmentRule is a strategy for choosing who performs a work item. The
// fallback forms a singly-linked chain tried in order after the primary
// strategy fails.
type AssignmentRule struct {
	Type     string          `yaml:"type" json:"type"`
	Value    string          `yaml:"value,omitempty" json:"value,omitempty"`
	Fallback *AssignmentRule `yaml:"fallback,omitempty" json:"fallback,omitempty"`
}

// TaskRule describes one kind of work item spawned from a matching event.
// A nil Conditions slice makes the rule unconditional; an empty one never
// matches.
type TaskRule struct {
	TaskType            string         `yaml:"task_type" json:"task_type"`
	TitleTemplate       string         `yaml:"title" json:"title"`
	DescriptionTemplate string         `yaml:"description" json:"description"`
	Tier                string         `yaml:"tier" json:"tier"` // P0..P3
	DueInDays           *int           `yaml:"due_in_days,omitempty" json:"due_in_days,omitempty"`
	AssignTo            AssignmentRule `yaml:"assign_to" json:"assign_to"`
	Conditions          []Condition    `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	ConditionLogic      string         `yaml:"condition_logic,omitempty" json:"condition_logic,omitempty"`
}

// NotificationRule describes an extra notification emitted for an event
type NotificationRule struct {
	Channel         string      `yaml:"channel" json:"channel"`
	Recipient       string      `yaml:"recipient" json:"recipient"`
	SubjectTemplate string      `yaml:"subject" json:"subject"`
	BodyTemplate    string      `yaml:"body" json:"body"`
	Conditions      []Condition `yaml:"conditions,omitempty" json:"conditions,omitempty"`
	ConditionLogic  string      `yaml:"condition_logic,omitempty" json:"condition_logic,omitempty"`
}

// EventDefinition maps an event type to its task generation and notification
// rules. Catalog entries are external configuration, read-only to the engine.
type EventDefinition struct {
	EventType         string             `yaml:"event_type" json:"event_type"`
	Category          string             `yaml:"category,omitempty" json:"category,omitempty"`
	Enabled           bool               `yaml:"enabled" json:"enabled"`
	RequiredFields    []string           `yaml:"required_fields,omitempty" json:"required_fields,omitempty"`
	TaskRules         []TaskRule         `yaml:"task_rules" json:"task_rules"`
	NotificationRules []NotificationRule `yaml:"notification_rules,omitempty" json:"notification_rules,omitempty"`
}

// DetectionRule describes when to raise a grey area from an arbitrary entity
type DetectionRule struct {
	ID                  string      `yaml:"id" json:"id"`
	Name                string      `yaml:"name" json:"name"`
	EntityTypes         []string    `yaml:"entity_types,omitempty" json:"entity_types,omitempty"`
	EventTypes          []string    `yaml:"event_types,omitempty" json:"event_types,omitempty"`
	Subsidiaries        []string    `yaml:"subsidiaries,omitempty" json:"subsidiaries,omitempty"`
	Conditions          []Condition `yaml:"conditions" json:"conditions"`
	ConditionLogic      string      `yaml:"condition_logic,omitempty" json:"condition_logic,omitempty"`
	Priority            int         `yaml:"priority" json:"priority"`
	Severity            string      `yaml:"severity" json:"severity"`
	SLAHours            *float64    `yaml:"sla_hours,omitempty" json:"sla_hours,omitempty"`
	AssignToRoles       []string    `yaml:"assign_to_roles,omitempty" json:"assign_to_roles,omitempty"`
	GreyAreaType        string      `yaml:"grey_area_type" json:"grey_area_type"`
	TitleTemplate       string      `yaml:"title" json:"title"`
	DescriptionTemplate string      `yaml:"description" json:"description"`
	Enabled             bool        `yaml:"enabled" json:"enabled"`
}

// AppliesTo reports whether the rule's applicability filters accept an entity
func (r DetectionRule) AppliesTo(entityType, eventType, subsidiary string) bool {
	if len(r.EntityTypes) > 0 && !containsString(r.EntityTypes, entityType) {
		return false
	}
	if len(r.EventTypes) > 0 && eventType != "" && !containsString(r.EventTypes, eventType) {
		return false
	}
	if len(r.Subsidiaries) > 0 && subsidiary != "" && !containsString(r.Subsidiaries, subsidiary) {
		return false
	}
	return true
}

func containsString(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}

// catalogFile is the on-disk document shape
type catalogFile struct {
	Events         []EventDefinition `yaml:"events"`
	DetectionRules []DetectionRule   `yaml:"detection_rules"`
}

// Catalog holds the loaded rule configuration behind a read-write lock so
// the engine reads a consistent snapshot while reloads swap it out.
type Catalog struct {
	directory string
	logger    *slog.Logger

	mu         sync.RWMutex
	events     map[string]EventDefinition
	detections []DetectionRule
}

// NewCatalog creates a catalog rooted at a directory of YAML documents
func NewCatalog(directory string, logger *slog.Logger) *Catalog {
	return &Catalog{
		directory: directory,
		logger:    logger,
		events:    make(map[string]EventDefinition),
	}
}

// Load reads every YAML document in the catalog directory and swaps the
// in-memory snapshot. Detection rules are kept in descending priority order.
func (c *Catalog) Load() error {
	entries, err := os.ReadDir(c.directory)
	if err != nil {
		return fmt.Errorf("failed to read catalog directory: %w", err)
	}

	events := make(map[string]EventDefinition)
	var detections []DetectionRule

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		data, err := os.ReadFile(filepath.Join(c.directory, entry.Name()))
		if err != nil {
			return fmt.Errorf("failed to read catalog file %s: %w", entry.Name(), err)
		}

		var file catalogFile
		if err := yaml.Unmarshal(data, &file); err != nil {
			return fmt.Errorf("failed to parse catalog file %s: %w", entry.Name(), err)
		}

		for _, def := range file.Events {
			if def.EventType == "" {
				return fmt.Errorf("catalog file %s contains an event definition without event_type", entry.Name())
			}
			if _, exists := events[def.EventType]; exists {
				c.logger.Warn("Duplicate event definition, keeping the last one",
					"event_type", def.EventType,
					"file", entry.Name())
			}
			events[def.EventType] = def
		}

		detections = append(detections, file.DetectionRules...)
	}

	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Priority > detections[j].Priority
	})

	c.mu.Lock()
	c.events = events
	c.detections = detections
	c.mu.Unlock()

	c.logger.Info("Rule catalog loaded",
		"event_definitions", len(events),
		"detection_rules", len(detections))
	return nil
}

// EventDefinition returns the catalog entry for an event type
func (c *Catalog) EventDefinition(eventType string) (EventDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	def, ok := c.events[eventType]
	return def, ok
}

// DetectionRules returns the enabled detection rules in descending priority
// order. The returned slice is a copy and safe to iterate without the lock.
func (c *Catalog) DetectionRules() []DetectionRule {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]DetectionRule, 0, len(c.detections))
	for _, rule := range c.detections {
		if rule.Enabled {
			out = append(out, rule)
		}
	}
	return out
}

// SetForTesting replaces the catalog contents directly, bypassing the disk
func (c *Catalog) SetForTesting(events []EventDefinition, detections []DetectionRule) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.events = make(map[string]EventDefinition, len(events))
	for _, def := range events {
		c.events[def.EventType] = def
	}
	sort.SliceStable(detections, func(i, j int) bool {
		return detections[i].Priority > detections[j].Priority
	})
	c.detections = detections
}
