package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taskforge/internal/config"
	"taskforge/internal/database"
)

func engineTestConfig() config.EngineConfig {
	return config.EngineConfig{
		FinancialImpactHigh: 50000,
		FinancialImpactMid:  10000,
	}
}

func TestTierFromRule(t *testing.T) {
	assert.Equal(t, database.PriorityCritical, TierFromRule("P0"))
	assert.Equal(t, database.PriorityHigh, TierFromRule("P1"))
	assert.Equal(t, database.PriorityMedium, TierFromRule("P2"))
	assert.Equal(t, database.PriorityLow, TierFromRule("P3"))
	assert.Equal(t, database.PriorityLow, TierFromRule(""))
}

func TestCalculatePriority(t *testing.T) {
	cfg := engineTestConfig()

	t.Run("base tier passes through without signals", func(t *testing.T) {
		for _, tier := range []string{
			database.PriorityLow,
			database.PriorityMedium,
			database.PriorityHigh,
			database.PriorityCritical,
		} {
			got := CalculatePriority(PriorityFactors{BaseTier: tier}, cfg)
			assert.Equal(t, tier, got)
		}
	})

	t.Run("unknown base tier falls back to low", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{BaseTier: "urgent-ish"}, cfg)
		assert.Equal(t, database.PriorityLow, got)
	})

	t.Run("event priority raises the floor but never lowers", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:      database.PriorityLow,
			EventPriority: database.PriorityHigh,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)

		got = CalculatePriority(PriorityFactors{
			BaseTier:      database.PriorityHigh,
			EventPriority: database.PriorityLow,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)
	})

	t.Run("vip customer adds a full tier", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:     database.PriorityMedium,
			CustomerTier: TierVIP,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)
	})

	t.Run("premium customer adds half a tier", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:     database.PriorityMedium,
			CustomerTier: TierPremium,
		}, cfg)
		assert.Equal(t, database.PriorityMedium, got)

		// Half steps accumulate: premium plus mid financial impact crosses
		// the next threshold.
		got = CalculatePriority(PriorityFactors{
			BaseTier:        database.PriorityMedium,
			CustomerTier:    TierPremium,
			FinancialImpact: 15000,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)
	})

	t.Run("financial impact thresholds", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:        database.PriorityMedium,
			FinancialImpact: 9999,
		}, cfg)
		assert.Equal(t, database.PriorityMedium, got)

		got = CalculatePriority(PriorityFactors{
			BaseTier:        database.PriorityMedium,
			FinancialImpact: 50000,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)
	})

	t.Run("imminent sla adds a tier", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:      database.PriorityMedium,
			HasSLA:        true,
			HoursUntilSLA: 1.5,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)

		got = CalculatePriority(PriorityFactors{
			BaseTier:      database.PriorityMedium,
			HasSLA:        true,
			HoursUntilSLA: 6,
		}, cfg)
		assert.Equal(t, database.PriorityMedium, got)
	})

	t.Run("escalations add half a tier each", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:        database.PriorityMedium,
			EscalationCount: 2,
		}, cfg)
		assert.Equal(t, database.PriorityHigh, got)
	})

	t.Run("score clamps at critical", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:        database.PriorityCritical,
			EventPriority:   database.PriorityCritical,
			CustomerTier:    TierVIP,
			FinancialImpact: 1000000,
			HasSLA:          true,
			HoursUntilSLA:   0.5,
			EscalationCount: 5,
		}, cfg)
		assert.Equal(t, database.PriorityCritical, got)
	})

	t.Run("overdue vip invoice lands at least high", func(t *testing.T) {
		got := CalculatePriority(PriorityFactors{
			BaseTier:        TierFromRule("P1"),
			EventPriority:   database.PriorityMedium,
			CustomerTier:    TierVIP,
			FinancialImpact: 15000,
		}, cfg)
		assert.Equal(t, database.PriorityCritical, got)
	})
}

// Adding any single signal must never produce a lower tier than the same
// factor set without it.
func TestCalculatePriority_Monotone(t *testing.T) {
	cfg := engineTestConfig()

	base := PriorityFactors{BaseTier: database.PriorityMedium}
	baseline := CalculatePriority(base, cfg)

	variants := []PriorityFactors{
		{BaseTier: database.PriorityMedium, CustomerTier: TierVIP},
		{BaseTier: database.PriorityMedium, CustomerTier: TierPremium},
		{BaseTier: database.PriorityMedium, FinancialImpact: 60000},
		{BaseTier: database.PriorityMedium, HasSLA: true, HoursUntilSLA: 1},
		{BaseTier: database.PriorityMedium, EscalationCount: 1},
		{BaseTier: database.PriorityMedium, EventPriority: database.PriorityCritical},
	}

	for _, factors := range variants {
		got := CalculatePriority(factors, cfg)
		assert.GreaterOrEqual(t, tierScores[got], tierScores[baseline], "%+v", factors)
	}
}
