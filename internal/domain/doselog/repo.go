package doselog

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type EventRepository interface {
	// Append inserts a new event. Existing rows are never updated except for
	// the archived flag.
	Append(ctx context.Context, e *Event) error
	GetByID(ctx context.Context, id uuid.UUID) (*Event, error)
	// ListByOccurrence returns all events for an occurrence, oldest first.
	ListByOccurrence(ctx context.Context, occurrenceID uuid.UUID) ([]*Event, error)
	// LatestTerminal returns the most recent terminal event for an occurrence
	// that has not been undone, or NotFound.
	LatestTerminal(ctx context.Context, occurrenceID uuid.UUID) (*Event, error)
	// ListByPatientRange returns events whose effective time falls in
	// [from, to), oldest first. Archived events are included: the flag
	// tracks summarization, not visibility.
	ListByPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Event, error)
	// ListUnarchivedBefore returns events older than cutoff that have not
	// been rolled into a daily summary yet.
	ListUnarchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error)
	// MarkArchived flips the archived flag. The only mutation the log allows.
	MarkArchived(ctx context.Context, ids []uuid.UUID) (int, error)
}
