package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dosepilot/dosepilot/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type summaryRepoPG struct{ pool *pgxpool.Pool }

func NewSummaryRepoPG(pool *pgxpool.Pool) SummaryRepository {
	return &summaryRepoPG{pool: pool}
}

func (r *summaryRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *summaryRepoPG) Upsert(ctx context.Context, s *DailySummary) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO daily_summary (patient_id, day, scheduled, taken, missed, skipped, adherence_pct)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (patient_id, day) DO UPDATE SET
			scheduled = EXCLUDED.scheduled,
			taken = EXCLUDED.taken,
			missed = EXCLUDED.missed,
			skipped = EXCLUDED.skipped,
			adherence_pct = EXCLUDED.adherence_pct`,
		s.PatientID, s.Day, s.Scheduled, s.Taken, s.Missed, s.Skipped, s.AdherencePct)
	return err
}

func (r *summaryRepoPG) ListRange(ctx context.Context, patientID uuid.UUID, from, to time.Time) ([]*DailySummary, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT patient_id, day, scheduled, taken, missed, skipped, adherence_pct, created_at
		FROM daily_summary
		WHERE patient_id = $1 AND day >= $2 AND day < $3
		ORDER BY day`,
		patientID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*DailySummary
	for rows.Next() {
		var s DailySummary
		if err := rows.Scan(&s.PatientID, &s.Day, &s.Scheduled, &s.Taken, &s.Missed, &s.Skipped, &s.AdherencePct, &s.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &s)
	}
	return items, rows.Err()
}

type milestoneRepoPG struct{ pool *pgxpool.Pool }

func NewMilestoneRepoPG(pool *pgxpool.Pool) MilestoneRepository {
	return &milestoneRepoPG{pool: pool}
}

func (r *milestoneRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

func (r *milestoneRepoPG) RecordIfAbsent(ctx context.Context, m *Milestone) (bool, error) {
	m.ID = uuid.New()
	tag, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO adherence_milestone (id, patient_id, kind, achieved_on)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (patient_id, kind) DO NOTHING`,
		m.ID, m.PatientID, m.Kind, m.AchievedOn)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *milestoneRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID) ([]*Milestone, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT id, patient_id, kind, achieved_on, created_at
		FROM adherence_milestone
		WHERE patient_id = $1
		ORDER BY achieved_on`,
		patientID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Milestone
	for rows.Next() {
		var m Milestone
		if err := rows.Scan(&m.ID, &m.PatientID, &m.Kind, &m.AchievedOn, &m.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, &m)
	}
	return items, rows.Err()
}
