package calendar

import (
	"math"
	"time"

	"github.com/dosepilot/dosepilot/internal/domain/regimen"
)

// HolidayCalendar answers whether a calendar date is a recognized holiday.
type HolidayCalendar interface {
	IsHoliday(date time.Time) bool
}

// RuleTrace records which rule path produced a grace period, for audit.
type RuleTrace struct {
	Class           regimen.MedClass `json:"class"`
	Bucket          Bucket           `json:"bucket"`
	BaselineMinutes int              `json:"baseline_minutes"`
	OverrideApplied bool             `json:"override_applied"`
	Multiplier      float64          `json:"multiplier"`
	MultiplierRule  string           `json:"multiplier_rule,omitempty"`
	FinalMinutes    int              `json:"final_minutes"`
}

// baselineMinutes is the per-class grace baseline before overrides and
// multipliers. Later buckets get more slack: nobody misses a bedtime
// vitamin by fifteen minutes.
func baselineMinutes(class regimen.MedClass, bucket Bucket) int {
	switch class {
	case regimen.ClassCritical:
		if bucket == BucketMorning {
			return 15
		}
		return 30
	case regimen.ClassStandard:
		if bucket == BucketEvening || bucket == BucketBedtime {
			return 60
		}
		return 30
	case regimen.ClassVitamin:
		if bucket == BucketBedtime {
			return 240
		}
		return 120
	case regimen.ClassAsNeeded:
		return 0
	default:
		return 0
	}
}

// CalculateGracePeriod computes the allowed lateness for an occurrence of cmd
// at the given time. Pure apart from the holiday lookup: a per-bucket command
// override beats the class baseline; a holiday multiplier beats — and is
// never stacked on — the weekend multiplier. The result is rounded to the
// nearest whole minute.
func CalculateGracePeriod(cmd *regimen.Command, at time.Time, bucket Bucket, holidays HolidayCalendar) (int, RuleTrace) {
	trace := RuleTrace{
		Class:      cmd.MedClass,
		Bucket:     bucket,
		Multiplier: 1,
	}

	base := baselineMinutes(cmd.MedClass, bucket)
	trace.BaselineMinutes = base

	if override, ok := cmd.BucketOverrides[string(bucket)]; ok {
		base = override
		trace.OverrideApplied = true
	}

	switch {
	case holidays != nil && holidays.IsHoliday(at):
		trace.Multiplier = cmd.HolidayMultiplier
		trace.MultiplierRule = "holiday"
	case at.Weekday() == time.Saturday || at.Weekday() == time.Sunday:
		trace.Multiplier = cmd.WeekendMultiplier
		trace.MultiplierRule = "weekend"
	}

	minutes := int(math.Round(float64(base) * trace.Multiplier))
	trace.FinalMinutes = minutes
	return minutes, trace
}
