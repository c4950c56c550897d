package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type OccurrenceRepository interface {
	// CreateIfAbsent inserts the occurrence unless a non-cancelled one
	// already exists for the same (command, scheduled time) key. Reports
	// whether a row was inserted; re-invocation is safe. Status defaults
	// to scheduled when unset; snooze replacements pass snoozed.
	CreateIfAbsent(ctx context.Context, o *Occurrence) (bool, error)
	GetByID(ctx context.Context, id uuid.UUID) (*Occurrence, error)
	// ListForPatientRange returns occurrences scheduled in [from, to),
	// ordered by scheduled time.
	ListForPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Occurrence, error)
	// ListSweepable returns up to limit occurrences still scheduled or
	// snoozed whose grace deadline has passed, oldest deadline first.
	ListSweepable(ctx context.Context, now time.Time, limit int) ([]*Occurrence, error)
	// TransitionStatus moves the occurrence to a new status only if its
	// current status is one of from, stamping the terminal event link. A
	// precondition mismatch yields a Conflict error.
	TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, terminalEventID *uuid.UUID) error
	// CancelFutureScheduled cancels scheduled and snoozed occurrences of
	// the command after the given time, returning how many were cancelled.
	CancelFutureScheduled(ctx context.Context, commandID uuid.UUID, after time.Time) (int, error)
	// CountByStatusForDay tallies a patient's occurrences scheduled on the
	// day starting at dayStart, keyed by status.
	CountByStatusForDay(ctx context.Context, patientID uuid.UUID, dayStart time.Time) (map[Status]int, error)
	// ListPatientsWithOccurrencesOn returns the distinct patients that have
	// occurrences scheduled on the day starting at dayStart.
	ListPatientsWithOccurrencesOn(ctx context.Context, dayStart time.Time) ([]uuid.UUID, error)
	// DeleteOlderThan prunes occurrences scheduled before the cutoff.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}
