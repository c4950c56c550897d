package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type SummaryRepository interface {
	// Upsert writes the summary for (patient, day), replacing an earlier
	// one. The archiver may legitimately re-run for the same day.
	Upsert(ctx context.Context, s *DailySummary) error
	ListRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DailySummary, error)
}

type MilestoneRepository interface {
	// RecordIfAbsent inserts the milestone unless the patient already has one
	// of that kind, reporting whether it fired. achieved_on records when the
	// first detection happened and is not part of the identity, so detection
	// over shifted report ranges never duplicates a milestone.
	RecordIfAbsent(ctx context.Context, m *Milestone) (bool, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error)
}
