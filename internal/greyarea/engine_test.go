package greyarea

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskforge/internal/assignment"
	"taskforge/internal/config"
	"taskforge/internal/database"
	"taskforge/internal/directory"
	"taskforge/internal/rules"
)

// fakeGreyAreaStore keeps grey areas in memory and counts writes
type fakeGreyAreaStore struct {
	areas   map[string]*database.GreyArea
	created []*database.GreyArea
	updates int
}

func newFakeGreyAreaStore() *fakeGreyAreaStore {
	return &fakeGreyAreaStore{areas: make(map[string]*database.GreyArea)}
}

func (f *fakeGreyAreaStore) Create(_ context.Context, ga *database.GreyArea) error {
	f.areas[ga.ID] = ga
	f.created = append(f.created, ga)
	return nil
}

func (f *fakeGreyAreaStore) GetByID(_ context.Context, id string) (*database.GreyArea, error) {
	ga, ok := f.areas[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	return ga, nil
}

func (f *fakeGreyAreaStore) Update(_ context.Context, ga *database.GreyArea) error {
	f.areas[ga.ID] = ga
	f.updates++
	return nil
}

// fakeFollowUpStore collects follow-up tasks spawned by resolutions
type fakeFollowUpStore struct {
	tasks []*database.Task
}

func (f *fakeFollowUpStore) Create(_ context.Context, task *database.Task) error {
	f.tasks = append(f.tasks, task)
	return nil
}

type fakeGreyNotifier struct {
	assigned  []*database.GreyArea
	escalated []database.EscalationRecord
}

func (f *fakeGreyNotifier) NotifyGreyAreaAssigned(_ context.Context, ga *database.GreyArea) {
	f.assigned = append(f.assigned, ga)
}

func (f *fakeGreyNotifier) NotifyGreyAreaEscalated(_ context.Context, _ *database.GreyArea, record database.EscalationRecord) {
	f.escalated = append(f.escalated, record)
}

type fakePublisher struct {
	detected  []*database.GreyArea
	escalated []database.EscalationRecord
}

func (f *fakePublisher) PublishGreyAreaDetected(_ context.Context, ga *database.GreyArea) error {
	f.detected = append(f.detected, ga)
	return nil
}

func (f *fakePublisher) PublishGreyAreaEscalated(_ context.Context, _ *database.GreyArea, record database.EscalationRecord) error {
	f.escalated = append(f.escalated, record)
	return nil
}

func greyAreaTestConfig() *config.Config {
	return &config.Config{
		Engine: config.EngineConfig{
			SLAHoursCritical:       4,
			SLAHoursHigh:           24,
			SLAHoursMedium:         72,
			SLAHoursLow:            168,
			DefaultWorkloadCeiling: 10,
			MaxFallbackDepth:       5,
		},
		GreyArea: config.GreyAreaConfig{
			SLAHoursCritical:   4,
			SLAHoursHigh:       24,
			SLAHoursMedium:     72,
			SLAHoursLow:        168,
			MaxEscalationLevel: 3,
			NotifyOnEscalation: true,
		},
	}
}

func greyAreaTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func reviewerDirectory() *directory.InMemoryDirectory {
	dir := directory.NewInMemoryDirectory()
	dir.AddEmployee(&directory.Employee{
		ID: "emp-reviewer-1", Name: "Clara Mohn", Email: "clara@example.com",
		Subsidiary: "emea", Department: "finance", Status: directory.StatusActive,
		Roles: []string{"finance-reviewer"},
	})
	dir.AddEmployee(&directory.Employee{
		ID: "emp-head-1", Name: "Viktor Lange", Email: "viktor@example.com",
		Subsidiary: "emea", Department: "finance", Status: directory.StatusActive,
		IsHead: true,
	})
	dir.AddEmployee(&directory.Employee{
		ID: "emp-gone-1", Name: "Former Employee", Email: "former@example.com",
		Subsidiary: "emea", Department: "finance", Status: directory.StatusInactive,
	})
	return dir
}

func duplicateInvoiceRule() rules.DetectionRule {
	return rules.DetectionRule{
		ID:          "dup-invoice",
		Name:        "Possible duplicate invoice",
		EntityTypes: []string{"invoice"},
		Conditions: []rules.Condition{
			{Field: "duplicateScore", Operator: "gte", Value: 0.8},
			{Field: "manualOverride", Operator: "eq", Value: true},
		},
		ConditionLogic:      rules.LogicOr,
		Priority:            10,
		Severity:            "high",
		AssignToRoles:       []string{"finance-reviewer"},
		GreyAreaType:        "duplicate_invoice",
		TitleTemplate:       "Possible duplicate invoice {{invoiceId}}",
		DescriptionTemplate: "Invoice {{invoiceId}} looks like a duplicate (score {{duplicateScore}})",
		Enabled:             true,
	}
}

func newDetectionEngine(t *testing.T) (*Engine, *fakeGreyAreaStore, *fakeGreyNotifier, *fakePublisher) {
	t.Helper()

	cfg := greyAreaTestConfig()
	logger := greyAreaTestLogger()
	dir := reviewerDirectory()
	workload := directory.NewInMemoryWorkloadCounter()
	resolver := assignment.NewResolver(cfg.Engine, dir, workload, logger)

	catalog := rules.NewCatalog("", logger)
	catalog.SetForTesting(nil, []rules.DetectionRule{duplicateInvoiceRule()})

	store := newFakeGreyAreaStore()
	notifier := &fakeGreyNotifier{}
	producer := &fakePublisher{}
	return NewEngine(cfg, logger, catalog, resolver, store, notifier, producer), store, notifier, producer
}

func TestScanEntity_OrLogicDetection(t *testing.T) {
	t.Run("high duplicate score alone raises", func(t *testing.T) {
		engine, store, notifier, producer := newDetectionEngine(t)

		detected, err := engine.ScanEntity(context.Background(), ScanInput{
			EntityType: "invoice",
			EntityID:   "INV-2001",
			Subsidiary: "emea",
			Department: "finance",
			Attributes: map[string]any{
				"invoiceId":      "INV-2001",
				"duplicateScore": 0.92,
			},
		})
		require.NoError(t, err)
		require.Len(t, detected, 1)

		ga := detected[0]
		assert.Equal(t, database.GreyAreaDetected, ga.Status)
		assert.Equal(t, "high", ga.Severity)
		assert.Equal(t, "duplicate_invoice", ga.Type)
		assert.Equal(t, "Possible duplicate invoice INV-2001", ga.Title)
		assert.Equal(t, "rule", ga.DetectionMethod)
		require.NotNil(t, ga.RuleID)
		assert.Equal(t, "dup-invoice", *ga.RuleID)

		require.Len(t, store.created, 1)

		require.NotNil(t, ga.AssignedTo)
		assert.Equal(t, "emp-reviewer-1", *ga.AssignedTo)

		// Detection seeds the audit trail, assignment appends to it.
		require.Len(t, ga.ActivityLog, 2)
		assert.Equal(t, "detected", ga.ActivityLog[0].Action)
		assert.Equal(t, "system", ga.ActivityLog[0].Actor)
		assert.Equal(t, "assigned", ga.ActivityLog[1].Action)

		require.Len(t, notifier.assigned, 1)
		require.Len(t, producer.detected, 1)
	})

	t.Run("manual override alone raises", func(t *testing.T) {
		engine, _, _, _ := newDetectionEngine(t)

		detected, err := engine.ScanEntity(context.Background(), ScanInput{
			EntityType: "invoice",
			EntityID:   "INV-2002",
			Subsidiary: "emea",
			Attributes: map[string]any{
				"invoiceId":      "INV-2002",
				"duplicateScore": 0.1,
				"manualOverride": true,
			},
		})
		require.NoError(t, err)
		assert.Len(t, detected, 1)
	})

	t.Run("neither signal matches nothing", func(t *testing.T) {
		engine, store, _, _ := newDetectionEngine(t)

		detected, err := engine.ScanEntity(context.Background(), ScanInput{
			EntityType: "invoice",
			EntityID:   "INV-2003",
			Subsidiary: "emea",
			Attributes: map[string]any{
				"invoiceId":      "INV-2003",
				"duplicateScore": 0.3,
			},
		})
		require.NoError(t, err)
		assert.Empty(t, detected)
		assert.Empty(t, store.created)
	})

	t.Run("entity type filter skips evaluation", func(t *testing.T) {
		engine, store, _, _ := newDetectionEngine(t)

		detected, err := engine.ScanEntity(context.Background(), ScanInput{
			EntityType: "purchase_order",
			EntityID:   "PO-1",
			Subsidiary: "emea",
			Attributes: map[string]any{"duplicateScore": 0.99},
		})
		require.NoError(t, err)
		assert.Empty(t, detected)
		assert.Empty(t, store.created)
	})
}
