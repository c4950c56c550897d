package adherence

import (
	"time"

	"github.com/google/uuid"
)

// RiskLevel is derived from rolling 7-day adherence.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// riskFor maps a rolling adherence rate to a level.
func riskFor(rate float64) RiskLevel {
	switch {
	case rate >= 0.9:
		return RiskLow
	case rate >= 0.75:
		return RiskMedium
	case rate >= 0.5:
		return RiskHigh
	default:
		return RiskCritical
	}
}

// MilestoneKind is the closed set of recognized achievements.
type MilestoneKind string

const (
	MilestoneFirstDose    MilestoneKind = "first-dose"
	MilestoneWeekStreak   MilestoneKind = "7-day-streak"
	MilestoneMonthStreak  MilestoneKind = "30-day-streak"
)

// Milestone is a recorded achievement. Detection is idempotent: recording
// the same (patient, kind, achieved-on) again is a no-op.
type Milestone struct {
	ID         uuid.UUID     `db:"id" json:"id"`
	PatientID  uuid.UUID     `db:"patient_id" json:"patient_id"`
	Kind       MilestoneKind `db:"kind" json:"kind"`
	AchievedOn time.Time     `db:"achieved_on" json:"achieved_on"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
}

// DailySummary is the archiver's compact record of one patient-day.
type DailySummary struct {
	PatientID    uuid.UUID `db:"patient_id" json:"patient_id"`
	Day          time.Time `db:"day" json:"day"`
	Scheduled    int       `db:"scheduled" json:"scheduled"`
	Taken        int       `db:"taken" json:"taken"`
	Missed       int       `db:"missed" json:"missed"`
	Skipped      int       `db:"skipped" json:"skipped"`
	AdherencePct float64   `db:"adherence_pct" json:"adherence_pct"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Report is the adherence query's aggregate output for one patient-range.
type Report struct {
	PatientID      uuid.UUID   `json:"patient_id"`
	From           time.Time   `json:"from"`
	To             time.Time   `json:"to"`
	ScheduledCount int         `json:"scheduled_count"`
	TakenCount     int         `json:"taken_count"`
	MissedCount    int         `json:"missed_count"`
	SkippedCount   int         `json:"skipped_count"`
	AdherenceRate  float64     `json:"adherence_rate"`
	TimingAccuracy float64     `json:"timing_accuracy"`
	CurrentStreak  int         `json:"current_streak"`
	LongestStreak  int         `json:"longest_streak"`
	RiskLevel      RiskLevel   `json:"risk_level"`
	Milestones     []Milestone `json:"milestones"`
}
