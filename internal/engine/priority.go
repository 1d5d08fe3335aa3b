package engine

import (
	"taskforge/internal/config"
	"taskforge/internal/database"
)

// Customer tiers recognized by the priority calculator
const (
	TierStandard = "standard"
	TierPremium  = "premium"
	TierVIP      = "vip"
)

// PriorityFactors is the input set for one priority calculation. Zero
// values mean "signal absent": every present signal can only raise the
// resulting tier, never lower it.
type PriorityFactors struct {
	BaseTier        string
	EventPriority   string
	CustomerTier    string
	FinancialImpact float64
	// HoursUntilSLA is the time left before the SLA window closes.
	// Negative means no SLA signal.
	HoursUntilSLA   float64
	HasSLA          bool
	EscalationCount int
}

var tierScores = map[string]float64{
	database.PriorityCritical: 4,
	database.PriorityHigh:     3,
	database.PriorityMedium:   2,
	database.PriorityLow:      1,
}

// TierFromRule maps a task rule priority tier (P0..P3) to an ordinal tier
func TierFromRule(tier string) string {
	switch tier {
	case "P0":
		return database.PriorityCritical
	case "P1":
		return database.PriorityHigh
	case "P2":
		return database.PriorityMedium
	default:
		return database.PriorityLow
	}
}

// CalculatePriority combines the factor set into one ordinal tier. The
// scoring is monotone: each urgency signal adds to the score, the score is
// clamped at the critical ceiling, and thresholds map it back to a tier.
func CalculatePriority(factors PriorityFactors, cfg config.EngineConfig) string {
	score, ok := tierScores[factors.BaseTier]
	if !ok {
		score = tierScores[database.PriorityLow]
	}

	// The event's own priority raises the floor but never lowers it.
	if eventScore, ok := tierScores[factors.EventPriority]; ok && eventScore > score {
		score = eventScore
	}

	switch factors.CustomerTier {
	case TierVIP:
		score += 1
	case TierPremium:
		score += 0.5
	}

	if factors.FinancialImpact >= cfg.FinancialImpactHigh {
		score += 1
	} else if factors.FinancialImpact >= cfg.FinancialImpactMid {
		score += 0.5
	}

	if factors.HasSLA && factors.HoursUntilSLA < 2 {
		score += 1
	}

	score += 0.5 * float64(factors.EscalationCount)

	if score > 4 {
		score = 4
	}

	switch {
	case score >= 4:
		return database.PriorityCritical
	case score >= 3:
		return database.PriorityHigh
	case score >= 2:
		return database.PriorityMedium
	default:
		return database.PriorityLow
	}
}
