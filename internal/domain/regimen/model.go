package regimen

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MedClass determines the baseline grace period for a command's occurrences.
type MedClass string

const (
	ClassCritical MedClass = "critical"
	ClassStandard MedClass = "standard"
	ClassVitamin  MedClass = "vitamin"
	ClassAsNeeded MedClass = "as-needed"
)

func (c MedClass) IsValid() bool {
	switch c {
	case ClassCritical, ClassStandard, ClassVitamin, ClassAsNeeded:
		return true
	}
	return false
}

// Frequency is the command's schedule class.
type Frequency string

const (
	FrequencyDaily    Frequency = "daily"
	FrequencyWeekly   Frequency = "weekly"
	FrequencyAsNeeded Frequency = "as-needed"
)

func (f Frequency) IsValid() bool {
	switch f {
	case FrequencyDaily, FrequencyWeekly, FrequencyAsNeeded:
		return true
	}
	return false
}

// Status is the command's lifecycle state. Commands are never deleted; a
// discontinued command keeps its id so historical events and occurrences
// stay resolvable.
type Status string

const (
	StatusActive       Status = "active"
	StatusPaused       Status = "paused"
	StatusDiscontinued Status = "discontinued"
)

// Command is the durable definition of a medication regimen — the single
// source of truth the calendar is materialized from.
type Command struct {
	ID          uuid.UUID `db:"id" json:"id"`
	PatientID   uuid.UUID `db:"patient_id" json:"patient_id"`
	DrugCode    string    `db:"drug_code" json:"drug_code"`
	DrugDisplay string    `db:"drug_display" json:"drug_display"`
	DosageText  string    `db:"dosage_text" json:"dosage_text"`
	DoseQuantity *float64 `db:"dose_quantity" json:"dose_quantity,omitempty"`
	DoseUnit     *string  `db:"dose_unit" json:"dose_unit,omitempty"`

	Frequency  Frequency  `db:"frequency" json:"frequency"`
	TimesOfDay []string   `db:"times_of_day" json:"times_of_day"`
	StartDate  time.Time  `db:"start_date" json:"start_date"`
	EndDate    *time.Time `db:"end_date" json:"end_date,omitempty"`
	Indefinite bool       `db:"indefinite" json:"indefinite"`

	RemindersEnabled bool `db:"reminders_enabled" json:"reminders_enabled"`
	SnoozeMinutes    int  `db:"snooze_minutes" json:"snooze_minutes"`
	// SupplyCount is how many doses were dispensed; zero disables refill
	// tracking. Compared against TakenCount to project when a refill is due.
	SupplyCount int `db:"supply_count" json:"supply_count"`

	MedClass          MedClass       `db:"med_class" json:"med_class"`
	BucketOverrides   map[string]int `db:"bucket_overrides" json:"bucket_overrides,omitempty"`
	WeekendMultiplier float64        `db:"weekend_multiplier" json:"weekend_multiplier"`
	HolidayMultiplier float64        `db:"holiday_multiplier" json:"holiday_multiplier"`

	Status   Status `db:"status" json:"status"`
	Version  int    `db:"version" json:"version"`
	Checksum string `db:"checksum" json:"checksum"`

	LastTakenAt *time.Time `db:"last_taken_at" json:"last_taken_at,omitempty"`
	TakenCount  int        `db:"taken_count" json:"taken_count"`

	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ComputeChecksum hashes the schedule-significant fields. Two commands with
// the same checksum for the same patient describe the same regimen, which
// create treats as a likely duplicate.
func (c *Command) ComputeChecksum() string {
	times := make([]string, len(c.TimesOfDay))
	copy(times, c.TimesOfDay)
	sort.Strings(times)

	parts := []string{
		c.PatientID.String(),
		c.DrugCode,
		c.DosageText,
		string(c.Frequency),
		strings.Join(times, ","),
		c.StartDate.Format("2006-01-02"),
	}
	if c.EndDate != nil {
		parts = append(parts, c.EndDate.Format("2006-01-02"))
	}

	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return hex.EncodeToString(sum[:])
}

// ParseTimeOfDay parses an "HH:MM" entry into hour and minute.
func ParseTimeOfDay(s string) (hour, minute int, ok bool) {
	t, err := time.Parse("15:04", s)
	if err != nil {
		return 0, 0, false
	}
	return t.Hour(), t.Minute(), true
}
