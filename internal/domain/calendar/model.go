package calendar

import (
	"time"

	"github.com/google/uuid"
)

// Bucket is the stored time-of-day grouping for an occurrence. The transient
// attention classes (overdue, now, due-soon) are derived at read time and
// never persisted.
type Bucket string

const (
	BucketMorning Bucket = "morning"
	BucketNoon    Bucket = "noon"
	BucketEvening Bucket = "evening"
	BucketBedtime Bucket = "bedtime"
)

// BucketBoundaries holds the hour (0-23) at which each later bucket starts.
// Anything before NoonStart is morning.
type BucketBoundaries struct {
	NoonStart    int
	EveningStart int
	BedtimeStart int
}

func DefaultBucketBoundaries() BucketBoundaries {
	return BucketBoundaries{NoonStart: 11, EveningStart: 16, BedtimeStart: 21}
}

// BucketFor assigns the stored bucket for an hour of day.
func (b BucketBoundaries) BucketFor(hour int) Bucket {
	switch {
	case hour >= b.BedtimeStart:
		return BucketBedtime
	case hour >= b.EveningStart:
		return BucketEvening
	case hour >= b.NoonStart:
		return BucketNoon
	default:
		return BucketMorning
	}
}

type Status string

const (
	StatusScheduled Status = "scheduled"
	StatusTaken     Status = "taken"
	StatusMissed    Status = "missed"
	StatusSkipped   Status = "skipped"
	StatusSnoozed   Status = "snoozed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether the status ends the occurrence's lifecycle. Taken
// is terminal here even though it stays undoable for a short window; the undo
// path is the one sanctioned reversal.
func (s Status) Terminal() bool {
	switch s {
	case StatusTaken, StatusMissed, StatusSkipped, StatusCancelled:
		return true
	}
	return false
}

// Occurrence is one materialized, schedulable dose slot.
type Occurrence struct {
	ID            uuid.UUID `db:"id" json:"id"`
	CommandID     uuid.UUID `db:"command_id" json:"command_id"`
	PatientID     uuid.UUID `db:"patient_id" json:"patient_id"`
	ScheduledTime time.Time `db:"scheduled_time" json:"scheduled_time"`
	Bucket        Bucket    `db:"bucket" json:"bucket"`
	GraceMinutes  int       `db:"grace_minutes" json:"grace_minutes"`
	GraceDeadline time.Time `db:"grace_deadline" json:"grace_deadline"`
	Status        Status    `db:"status" json:"status"`
	// TerminalEventID links the event that resolved this occurrence.
	TerminalEventID *uuid.UUID `db:"terminal_event_id" json:"terminal_event_id,omitempty"`
	CreatedAt       time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time  `db:"updated_at" json:"updated_at"`
}
