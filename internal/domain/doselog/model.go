package doselog

import (
	"time"

	"github.com/google/uuid"
)

// EventKind is the closed set of things that can happen to a dose. The log
// is append-only: corrections and undos are new events pointing back at the
// event they supersede, never edits.
type EventKind string

const (
	KindScheduled        EventKind = "scheduled"
	KindTakenFull        EventKind = "taken-full"
	KindTakenPartial     EventKind = "taken-partial"
	KindTakenAdjusted    EventKind = "taken-adjusted"
	KindMissed           EventKind = "missed"
	KindSkipped          EventKind = "skipped"
	KindSnoozed          EventKind = "snoozed"
	KindUndone           EventKind = "undone"
	KindCorrectedMissed  EventKind = "corrected-missed"
	KindCorrectedSkipped EventKind = "corrected-skipped"
)

func (k EventKind) IsValid() bool {
	switch k {
	case KindScheduled, KindTakenFull, KindTakenPartial, KindTakenAdjusted,
		KindMissed, KindSkipped, KindSnoozed, KindUndone,
		KindCorrectedMissed, KindCorrectedSkipped:
		return true
	}
	return false
}

// IsTaken reports whether the event records medication actually consumed.
func (k EventKind) IsTaken() bool {
	switch k {
	case KindTakenFull, KindTakenPartial, KindTakenAdjusted:
		return true
	}
	return false
}

// Terminal reports whether the event resolves its occurrence. Snoozes and
// scheduled markers leave the occurrence open; undos reopen it.
func (k EventKind) Terminal() bool {
	switch k {
	case KindTakenFull, KindTakenPartial, KindTakenAdjusted,
		KindMissed, KindSkipped, KindCorrectedMissed, KindCorrectedSkipped:
		return true
	}
	return false
}

// Event is one immutable entry in the dose log.
type Event struct {
	ID           uuid.UUID  `db:"id" json:"id"`
	OccurrenceID uuid.UUID  `db:"occurrence_id" json:"occurrence_id"`
	CommandID    uuid.UUID  `db:"command_id" json:"command_id"`
	PatientID    uuid.UUID  `db:"patient_id" json:"patient_id"`
	Kind         EventKind  `db:"kind" json:"kind"`
	// QuantityTaken is set for taken-partial and taken-adjusted events.
	QuantityTaken *float64 `db:"quantity_taken" json:"quantity_taken,omitempty"`
	// LatenessMinutes is how far past the scheduled time a taken event
	// landed. Negative when taken early.
	LatenessMinutes *int   `db:"lateness_minutes" json:"lateness_minutes,omitempty"`
	Note            string `db:"note" json:"note,omitempty"`
	// PerformedBy is the subject of the principal that triggered the event,
	// or "system" for sweep and archiver writes.
	PerformedBy string `db:"performed_by" json:"performed_by"`
	// RevertsEventID links undone and corrected-* events to the event they
	// supersede.
	RevertsEventID *uuid.UUID `db:"reverts_event_id" json:"reverts_event_id,omitempty"`
	// EffectiveAt is when the dose action happened in the world, which may
	// trail CreatedAt for backdated corrections.
	EffectiveAt time.Time `db:"effective_at" json:"effective_at"`
	Archived    bool      `db:"archived" json:"archived"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}
