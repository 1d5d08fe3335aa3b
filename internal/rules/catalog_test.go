package rules

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

const catalogDoc = `
events:
  - event_type: invoice_overdue
    category: finance
    enabled: true
    task_rules:
      - task_type: collections_call
        title: "Chase {{invoiceNumber}}"
        description: "Overdue invoice"
        tier: P1
        assign_to:
          type: role
          value: collections-agent

detection_rules:
  - id: dr-low
    name: Low priority rule
    priority: 10
    severity: low
    grey_area_type: misc
    title: low
    description: low
    enabled: true
  - id: dr-high
    name: High priority rule
    entity_types: [invoice]
    subsidiaries: [emea]
    priority: 100
    severity: high
    grey_area_type: billing_anomaly
    title: high
    description: high
    enabled: true
  - id: dr-off
    name: Disabled rule
    priority: 50
    severity: medium
    grey_area_type: misc
    title: off
    description: off
    enabled: false
`

func TestCatalog_Load(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "finance.yaml"), []byte(catalogDoc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	catalog := NewCatalog(dir, testLogger())
	require.NoError(t, catalog.Load())

	t.Run("event definitions are indexed by type", func(t *testing.T) {
		def, ok := catalog.EventDefinition("invoice_overdue")
		require.True(t, ok)
		assert.True(t, def.Enabled)
		require.Len(t, def.TaskRules, 1)
		assert.Equal(t, "collections_call", def.TaskRules[0].TaskType)

		_, ok = catalog.EventDefinition("unknown_type")
		assert.False(t, ok)
	})

	t.Run("detection rules come back enabled and priority ordered", func(t *testing.T) {
		detections := catalog.DetectionRules()
		require.Len(t, detections, 2)
		assert.Equal(t, "dr-high", detections[0].ID)
		assert.Equal(t, "dr-low", detections[1].ID)
	})

	t.Run("load fails on missing directory", func(t *testing.T) {
		broken := NewCatalog(filepath.Join(dir, "nope"), testLogger())
		assert.Error(t, broken.Load())
	})
}

func TestCatalog_LoadRejectsMalformedDocuments(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "bad.yaml"), []byte("events: {not: [a, list"), 0o644))

	catalog := NewCatalog(dir, testLogger())
	assert.Error(t, catalog.Load())
}

func TestDetectionRule_AppliesTo(t *testing.T) {
	rule := DetectionRule{
		EntityTypes:  []string{"invoice"},
		EventTypes:   []string{"invoice_overdue"},
		Subsidiaries: []string{"emea"},
	}

	assert.True(t, rule.AppliesTo("invoice", "invoice_overdue", "emea"))
	assert.False(t, rule.AppliesTo("deal", "invoice_overdue", "emea"))
	assert.False(t, rule.AppliesTo("invoice", "payment_received", "emea"))
	assert.False(t, rule.AppliesTo("invoice", "invoice_overdue", "apac"))

	// Empty event type / subsidiary skip those filters: scans without an
	// event in hand still match event-scoped rules.
	assert.True(t, rule.AppliesTo("invoice", "", ""))

	open := DetectionRule{}
	assert.True(t, open.AppliesTo("anything", "whatever", "anywhere"))
}
