package engine

import (
	"time"

	"taskforge/internal/config"
	"taskforge/internal/database"
)

// slaMultipliers compress or stretch the nominal SLA window by priority:
// higher urgency means a shorter window.
var slaMultipliers = map[string]float64{
	database.PriorityCritical: 0.5,
	database.PriorityHigh:     0.75,
	database.PriorityMedium:   1.0,
	database.PriorityLow:      1.5,
}

// CalculateDeadline projects a deadline from a base time and a nominal SLA
// duration in hours. With the business-hours restriction on, the remaining
// SLA is consumed only during the configured business window, skipping
// weekends when excluded; the result always lands inside business hours on
// a working day.
func CalculateDeadline(base time.Time, slaHours float64, priority string, businessHoursOnly, excludeWeekends bool, cfg config.EngineConfig) time.Time {
	multiplier, ok := slaMultipliers[priority]
	if !ok {
		multiplier = 1.0
	}
	remaining := time.Duration(slaHours * multiplier * float64(time.Hour))

	if !businessHoursOnly {
		return base.Add(remaining)
	}

	start := cfg.BusinessStartHour
	end := cfg.BusinessEndHour

	current := base
	for {
		if excludeWeekends && isWeekend(current) {
			current = businessStartNextDay(current, start, excludeWeekends)
			continue
		}

		dayStart := time.Date(current.Year(), current.Month(), current.Day(), start, 0, 0, 0, current.Location())
		dayEnd := time.Date(current.Year(), current.Month(), current.Day(), end, 0, 0, 0, current.Location())

		if current.Before(dayStart) {
			current = dayStart
			continue
		}
		if !current.Before(dayEnd) {
			current = businessStartNextDay(current, start, excludeWeekends)
			continue
		}

		available := dayEnd.Sub(current)
		if remaining <= 0 {
			return current
		}
		if remaining < available {
			return current.Add(remaining)
		}

		remaining -= available
		current = businessStartNextDay(current, start, excludeWeekends)
	}
}

func isWeekend(t time.Time) bool {
	wd := t.Weekday()
	return wd == time.Saturday || wd == time.Sunday
}

func businessStartNextDay(t time.Time, startHour int, excludeWeekends bool) time.Time {
	next := t.AddDate(0, 0, 1)
	next = time.Date(next.Year(), next.Month(), next.Day(), startHour, 0, 0, 0, t.Location())
	for excludeWeekends && isWeekend(next) {
		next = next.AddDate(0, 0, 1)
	}
	return next
}
