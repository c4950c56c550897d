package doselog

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type eventRepoPG struct{ pool *pgxpool.Pool }

func NewEventRepoPG(pool *pgxpool.Pool) EventRepository {
	return &eventRepoPG{pool: pool}
}

func (r *eventRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const eventCols = `id, occurrence_id, command_id, patient_id, kind, quantity_taken, lateness_minutes, note,
	performed_by, reverts_event_id, effective_at, archived, created_at`

func scanEvent(row pgx.Row) (*Event, error) {
	var e Event
	err := row.Scan(&e.ID, &e.OccurrenceID, &e.CommandID, &e.PatientID, &e.Kind, &e.QuantityTaken, &e.LatenessMinutes, &e.Note,
		&e.PerformedBy, &e.RevertsEventID, &e.EffectiveAt, &e.Archived, &e.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("event not found")
	}
	if err != nil {
		return nil, err
	}
	return &e, nil
}

func (r *eventRepoPG) collect(rows pgx.Rows) ([]*Event, error) {
	defer rows.Close()
	var items []*Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, e)
	}
	return items, rows.Err()
}

func (r *eventRepoPG) Append(ctx context.Context, e *Event) error {
	e.ID = uuid.New()
	if e.EffectiveAt.IsZero() {
		e.EffectiveAt = time.Now().UTC()
	}
	return r.conn(ctx).QueryRow(ctx, `
		INSERT INTO medication_event (id, occurrence_id, command_id, patient_id, kind, quantity_taken, lateness_minutes, note,
			performed_by, reverts_event_id, effective_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		RETURNING created_at`,
		e.ID, e.OccurrenceID, e.CommandID, e.PatientID, e.Kind, e.QuantityTaken, e.LatenessMinutes, e.Note,
		e.PerformedBy, e.RevertsEventID, e.EffectiveAt).Scan(&e.CreatedAt)
}

func (r *eventRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx,
		`SELECT `+eventCols+` FROM medication_event WHERE id = $1`, id))
}

func (r *eventRepoPG) ListByOccurrence(ctx context.Context, occurrenceID uuid.UUID) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+eventCols+` FROM medication_event WHERE occurrence_id = $1 ORDER BY created_at`, occurrenceID)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *eventRepoPG) LatestTerminal(ctx context.Context, occurrenceID uuid.UUID) (*Event, error) {
	return scanEvent(r.conn(ctx).QueryRow(ctx, `
		SELECT `+eventCols+` FROM medication_event e
		WHERE e.occurrence_id = $1
		  AND e.kind IN ($2,$3,$4,$5,$6,$7,$8)
		  AND NOT EXISTS (
			SELECT 1 FROM medication_event u
			WHERE u.reverts_event_id = e.id AND u.kind = $9
		  )
		ORDER BY e.created_at DESC
		LIMIT 1`,
		occurrenceID,
		KindTakenFull, KindTakenPartial, KindTakenAdjusted,
		KindMissed, KindSkipped, KindCorrectedMissed, KindCorrectedSkipped,
		KindUndone))
}

func (r *eventRepoPG) ListByPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM medication_event
		WHERE patient_id = $1 AND effective_at >= $2 AND effective_at < $3
		ORDER BY created_at`,
		patientID, from, to)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *eventRepoPG) ListUnarchivedBefore(ctx context.Context, cutoff time.Time, limit int) ([]*Event, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+eventCols+` FROM medication_event
		WHERE NOT archived AND effective_at < $1
		ORDER BY effective_at
		LIMIT $2`, cutoff, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *eventRepoPG) MarkArchived(ctx context.Context, ids []uuid.UUID) (int, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := r.conn(ctx).Exec(ctx,
		`UPDATE medication_event SET archived = TRUE WHERE id = ANY($1)`, ids)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
