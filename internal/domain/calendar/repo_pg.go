package calendar

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

type occurrenceRepoPG struct{ pool *pgxpool.Pool }

func NewOccurrenceRepoPG(pool *pgxpool.Pool) OccurrenceRepository {
	return &occurrenceRepoPG{pool: pool}
}

func (r *occurrenceRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const occurrenceCols = `id, command_id, patient_id, scheduled_time, bucket, grace_minutes, grace_deadline,
	status, terminal_event_id, created_at, updated_at`

func scanOccurrence(row pgx.Row) (*Occurrence, error) {
	var o Occurrence
	err := row.Scan(&o.ID, &o.CommandID, &o.PatientID, &o.ScheduledTime, &o.Bucket, &o.GraceMinutes, &o.GraceDeadline,
		&o.Status, &o.TerminalEventID, &o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("occurrence not found")
	}
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *occurrenceRepoPG) collect(rows pgx.Rows) ([]*Occurrence, error) {
	defer rows.Close()
	var items []*Occurrence
	for rows.Next() {
		o, err := scanOccurrence(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, o)
	}
	return items, rows.Err()
}

func (r *occurrenceRepoPG) CreateIfAbsent(ctx context.Context, o *Occurrence) (bool, error) {
	o.ID = uuid.New()
	if o.Status == "" {
		o.Status = StatusScheduled
	}
	// The partial unique index on (command_id, scheduled_time) where status
	// is not cancelled makes concurrent materialization safe.
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO calendar_occurrence (id, command_id, patient_id, scheduled_time, bucket, grace_minutes, grace_deadline, status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		ON CONFLICT (command_id, scheduled_time) WHERE status <> 'cancelled' DO NOTHING`,
		o.ID, o.CommandID, o.PatientID, o.ScheduledTime, o.Bucket, o.GraceMinutes, o.GraceDeadline, o.Status)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *occurrenceRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Occurrence, error) {
	return scanOccurrence(r.conn(ctx).QueryRow(ctx,
		`SELECT `+occurrenceCols+` FROM calendar_occurrence WHERE id = $1`, id))
}

func (r *occurrenceRepoPG) ListForPatientRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*Occurrence, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+occurrenceCols+` FROM calendar_occurrence
		WHERE patient_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		ORDER BY scheduled_time`,
		patientID, from, to)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *occurrenceRepoPG) ListSweepable(ctx context.Context, now time.Time, limit int) ([]*Occurrence, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+occurrenceCols+` FROM calendar_occurrence
		WHERE status IN ($1, $2) AND grace_deadline < $3
		ORDER BY grace_deadline
		LIMIT $4`,
		StatusScheduled, StatusSnoozed, now, limit)
	if err != nil {
		return nil, err
	}
	return r.collect(rows)
}

func (r *occurrenceRepoPG) TransitionStatus(ctx context.Context, id uuid.UUID, from []Status, to Status, terminalEventID *uuid.UUID) error {
	fromStrs := make([]string, len(from))
	for i, s := range from {
		fromStrs[i] = string(s)
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE calendar_occurrence
		SET status = $2, terminal_event_id = $3, updated_at = NOW()
		WHERE id = $1 AND status = ANY($4)`,
		id, to, terminalEventID, fromStrs)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Re-read to tell a missing occurrence from a precondition miss.
		o, getErr := r.GetByID(ctx, id)
		if getErr != nil {
			return getErr
		}
		return apperr.Conflict("occurrence is %s, cannot move to %s", o.Status, to)
	}
	return nil
}

func (r *occurrenceRepoPG) CancelFutureScheduled(ctx context.Context, commandID uuid.UUID, after time.Time) (int, error) {
	// Snoozed replacements are still pending doses, so pausing or
	// discontinuing a command must sweep them up with the scheduled ones.
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE calendar_occurrence
		SET status = $2, updated_at = NOW()
		WHERE command_id = $1 AND status = ANY($3) AND scheduled_time > $4`,
		commandID, StatusCancelled,
		[]string{string(StatusScheduled), string(StatusSnoozed)}, after)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (r *occurrenceRepoPG) CountByStatusForDay(ctx context.Context, patientID uuid.UUID, dayStart time.Time) (map[Status]int, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT status, COUNT(*) FROM calendar_occurrence
		WHERE patient_id = $1 AND scheduled_time >= $2 AND scheduled_time < $3
		GROUP BY status`,
		patientID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[Status]int)
	for rows.Next() {
		var s Status
		var n int
		if err := rows.Scan(&s, &n); err != nil {
			return nil, err
		}
		counts[s] = n
	}
	return counts, rows.Err()
}

func (r *occurrenceRepoPG) ListPatientsWithOccurrencesOn(ctx context.Context, dayStart time.Time) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT DISTINCT patient_id FROM calendar_occurrence
		WHERE scheduled_time >= $1 AND scheduled_time < $2`,
		dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *occurrenceRepoPG) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	tag, err := r.conn(ctx).Exec(ctx,
		`DELETE FROM calendar_occurrence WHERE scheduled_time < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}
