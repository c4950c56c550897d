package regimen

import (
	"context"
	"encoding/json"
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

type commandRepoPG struct{ pool *pgxpool.Pool }

func NewCommandRepoPG(pool *pgxpool.Pool) CommandRepository {
	return &commandRepoPG{pool: pool}
}

func (r *commandRepoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const commandCols = `id, patient_id, drug_code, drug_display, dosage_text, dose_quantity, dose_unit,
	frequency, times_of_day, start_date, end_date, indefinite,
	reminders_enabled, snooze_minutes, supply_count,
	med_class, bucket_overrides, weekend_multiplier, holiday_multiplier,
	status, version, checksum, last_taken_at, taken_count, created_at, updated_at`

func (r *commandRepoPG) scan(row pgx.Row) (*Command, error) {
	var c Command
	var overrides []byte
	err := row.Scan(&c.ID, &c.PatientID, &c.DrugCode, &c.DrugDisplay, &c.DosageText, &c.DoseQuantity, &c.DoseUnit,
		&c.Frequency, &c.TimesOfDay, &c.StartDate, &c.EndDate, &c.Indefinite,
		&c.RemindersEnabled, &c.SnoozeMinutes, &c.SupplyCount,
		&c.MedClass, &overrides, &c.WeekendMultiplier, &c.HolidayMultiplier,
		&c.Status, &c.Version, &c.Checksum, &c.LastTakenAt, &c.TakenCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperr.NotFound("command not found")
	}
	if err != nil {
		return nil, err
	}
	if len(overrides) > 0 {
		if err := json.Unmarshal(overrides, &c.BucketOverrides); err != nil {
			return nil, err
		}
	}
	return &c, nil
}

func (r *commandRepoPG) Create(ctx context.Context, c *Command) error {
	c.ID = uuid.New()
	c.Version = 1
	overrides, err := json.Marshal(c.BucketOverrides)
	if err != nil {
		return err
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO medication_command (id, patient_id, drug_code, drug_display, dosage_text, dose_quantity, dose_unit,
			frequency, times_of_day, start_date, end_date, indefinite,
			reminders_enabled, snooze_minutes, supply_count,
			med_class, bucket_overrides, weekend_multiplier, holiday_multiplier,
			status, version, checksum)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22)`,
		c.ID, c.PatientID, c.DrugCode, c.DrugDisplay, c.DosageText, c.DoseQuantity, c.DoseUnit,
		c.Frequency, c.TimesOfDay, c.StartDate, c.EndDate, c.Indefinite,
		c.RemindersEnabled, c.SnoozeMinutes, c.SupplyCount,
		c.MedClass, overrides, c.WeekendMultiplier, c.HolidayMultiplier,
		c.Status, c.Version, c.Checksum)
	return err
}

func (r *commandRepoPG) GetByID(ctx context.Context, id uuid.UUID) (*Command, error) {
	return r.scan(r.conn(ctx).QueryRow(ctx, `SELECT `+commandCols+` FROM medication_command WHERE id = $1`, id))
}

func (r *commandRepoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Command, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM medication_command WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+commandCols+` FROM medication_command WHERE patient_id = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
		patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var items []*Command
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, c)
	}
	return items, total, rows.Err()
}

func (r *commandRepoPG) ListActive(ctx context.Context) ([]*Command, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+commandCols+` FROM medication_command WHERE status = $1 ORDER BY created_at`, StatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []*Command
	for rows.Next() {
		c, err := r.scan(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

func (r *commandRepoPG) UpdateVersioned(ctx context.Context, c *Command, expectedVersion int) error {
	overrides, err := json.Marshal(c.BucketOverrides)
	if err != nil {
		return err
	}
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_command SET
			drug_code=$2, drug_display=$3, dosage_text=$4, dose_quantity=$5, dose_unit=$6,
			frequency=$7, times_of_day=$8, start_date=$9, end_date=$10, indefinite=$11,
			reminders_enabled=$12, snooze_minutes=$13, supply_count=$14,
			med_class=$15, bucket_overrides=$16, weekend_multiplier=$17, holiday_multiplier=$18,
			status=$19, checksum=$20, version=version+1, updated_at=NOW()
		WHERE id = $1 AND version = $21`,
		c.ID, c.DrugCode, c.DrugDisplay, c.DosageText, c.DoseQuantity, c.DoseUnit,
		c.Frequency, c.TimesOfDay, c.StartDate, c.EndDate, c.Indefinite,
		c.RemindersEnabled, c.SnoozeMinutes, c.SupplyCount,
		c.MedClass, overrides, c.WeekendMultiplier, c.HolidayMultiplier,
		c.Status, c.Checksum, expectedVersion)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a missing command from a stale version.
		if _, getErr := r.GetByID(ctx, c.ID); getErr != nil {
			return getErr
		}
		return apperr.Conflict("command version %d is stale", expectedVersion)
	}
	c.Version = expectedVersion + 1
	return nil
}

func (r *commandRepoPG) ActiveChecksumExists(ctx context.Context, patientID uuid.UUID, checksum string, excludeID uuid.UUID) (bool, error) {
	var exists bool
	err := r.conn(ctx).QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM medication_command
			WHERE patient_id = $1 AND checksum = $2 AND status = $3 AND id <> $4
		)`, patientID, checksum, StatusActive, excludeID).Scan(&exists)
	return exists, err
}

func (r *commandRepoPG) RevertTaken(ctx context.Context, id uuid.UUID) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_command
		SET taken_count = GREATEST(taken_count - 1, 0), updated_at = NOW()
		WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("command not found")
	}
	return nil
}

func (r *commandRepoPG) RecordTaken(ctx context.Context, id uuid.UUID, takenAt time.Time) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE medication_command
		SET last_taken_at = $2, taken_count = taken_count + 1, updated_at = NOW()
		WHERE id = $1`, id, takenAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return apperr.NotFound("command not found")
	}
	return nil
}
