package regimen

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type CommandRepository interface {
	Create(ctx context.Context, c *Command) error
	GetByID(ctx context.Context, id uuid.UUID) (*Command, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Command, int, error)
	ListActive(ctx context.Context) ([]*Command, error)
	// UpdateVersioned persists c only if the stored version still equals
	// expectedVersion, bumping the version on success. A stale version
	// yields a Conflict error.
	UpdateVersioned(ctx context.Context, c *Command, expectedVersion int) error
	// ActiveChecksumExists reports whether another active command for the
	// patient already carries this checksum.
	ActiveChecksumExists(ctx context.Context, patientID uuid.UUID, checksum string, excludeID uuid.UUID) (bool, error)
	// RecordTaken bumps the denormalized taken counters. Called inside the
	// coordinator's transaction.
	RecordTaken(ctx context.Context, id uuid.UUID, takenAt time.Time) error
	// RevertTaken undoes one RecordTaken increment after an undo.
	RevertTaken(ctx context.Context, id uuid.UUID) error
}
