package action

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/domain/calendar"
	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/db"
	"github.com/dosepilot/dosepilot/internal/platform/metrics"
)

// TxRunner executes fn atomically. The production runner wraps the pool's
// retrying transaction helper; tests substitute a passthrough.
type TxRunner func(ctx context.Context, fn func(ctx context.Context) error) error

// NewPGTxRunner builds the production runner. Contention exhausting the
// retry budget surfaces as TransactionAborted.
func NewPGTxRunner(pool *pgxpool.Pool, opts db.RetryOptions) TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		err := db.InTxWithRetry(ctx, pool, opts, fn)
		if err != nil && db.IsRetryable(err) {
			return apperr.TransactionAborted(err)
		}
		return err
	}
}

// Passthrough runs fn directly, without a transaction.
func Passthrough() TxRunner {
	return func(ctx context.Context, fn func(ctx context.Context) error) error {
		return fn(ctx)
	}
}

const defaultUndoWindow = 30 * time.Second

// Coordinator executes the user-facing dose actions as all-or-nothing
// mutations across the occurrence, the event log, and the owning command.
// Preconditions are re-checked inside the transaction so a racing sweep or
// second device loses cleanly with a Conflict instead of corrupting state.
type Coordinator struct {
	run        TxRunner
	occ        calendar.OccurrenceRepository
	events     doselog.EventRepository
	commands   regimen.CommandRepository
	undoWindow time.Duration
	boundaries calendar.BucketBoundaries
	holidays   calendar.HolidayCalendar
	now        func() time.Time
	log        zerolog.Logger
}

func NewCoordinator(run TxRunner, occ calendar.OccurrenceRepository, events doselog.EventRepository, commands regimen.CommandRepository, log zerolog.Logger) *Coordinator {
	return &Coordinator{
		run:        run,
		occ:        occ,
		events:     events,
		commands:   commands,
		undoWindow: defaultUndoWindow,
		boundaries: calendar.DefaultBucketBoundaries(),
		now:        time.Now,
		log:        log,
	}
}

// SetGraceRules installs the bucket boundaries and holiday calendar used to
// recompute grace when a snooze moves an occurrence into a new slot.
func (c *Coordinator) SetGraceRules(boundaries calendar.BucketBoundaries, holidays calendar.HolidayCalendar) {
	c.boundaries = boundaries
	c.holidays = holidays
}

// SetUndoWindow overrides how long a taken dose stays revertable.
func (c *Coordinator) SetUndoWindow(d time.Duration) {
	if d > 0 {
		c.undoWindow = d
	}
}

// Result is what every action returns: the occurrence after the transition
// and the event that recorded it.
type Result struct {
	Occurrence *calendar.Occurrence `json:"occurrence"`
	EventID    uuid.UUID            `json:"event_id"`
}

// TakeRequest carries the optional details of a taken dose.
type TakeRequest struct {
	// QuantityTaken, when set, is compared against the command's dose to
	// classify the event as partial or adjusted.
	QuantityTaken *float64 `json:"quantity_taken,omitempty"`
	Note          string   `json:"note,omitempty"`
	// TakenAt defaults to now; backdating is allowed for catch-up logging.
	TakenAt *time.Time `json:"taken_at,omitempty"`
}

func observe(op string, err error) {
	outcome := "ok"
	switch apperr.KindOf(err) {
	case apperr.KindConflict:
		outcome = "conflict"
	case apperr.KindTransactionAborted:
		outcome = "aborted"
	case apperr.KindUndoExpired:
		outcome = "undo_expired"
	default:
		if err != nil {
			outcome = "error"
		}
	}
	metrics.TransactionsTotal.WithLabelValues(op, outcome).Inc()
}

func takenKind(cmd *regimen.Command, quantity *float64) doselog.EventKind {
	if quantity == nil {
		return doselog.KindTakenFull
	}
	if cmd.DoseQuantity != nil {
		switch {
		case *quantity == *cmd.DoseQuantity:
			return doselog.KindTakenFull
		case *quantity < *cmd.DoseQuantity:
			return doselog.KindTakenPartial
		}
	}
	return doselog.KindTakenAdjusted
}

// Take marks a scheduled or snoozed occurrence as taken.
func (c *Coordinator) Take(ctx context.Context, occurrenceID uuid.UUID, req TakeRequest, performedBy string) (res *Result, err error) {
	defer func() { observe("take", err) }()

	takenAt := c.now().UTC()
	if req.TakenAt != nil {
		takenAt = req.TakenAt.UTC()
	}

	err = c.run(ctx, func(ctx context.Context) error {
		o, err := c.occ.GetByID(ctx, occurrenceID)
		if err != nil {
			return err
		}
		cmd, err := c.commands.GetByID(ctx, o.CommandID)
		if err != nil {
			return err
		}

		lateness := int(math.Round(takenAt.Sub(o.ScheduledTime).Minutes()))
		e := &doselog.Event{
			OccurrenceID:    o.ID,
			CommandID:       o.CommandID,
			PatientID:       o.PatientID,
			Kind:            takenKind(cmd, req.QuantityTaken),
			QuantityTaken:   req.QuantityTaken,
			LatenessMinutes: &lateness,
			Note:            req.Note,
			PerformedBy:     performedBy,
			EffectiveAt:     takenAt,
		}
		if err := c.events.Append(ctx, e); err != nil {
			return err
		}
		if err := c.occ.TransitionStatus(ctx, o.ID,
			[]calendar.Status{calendar.StatusScheduled, calendar.StatusSnoozed},
			calendar.StatusTaken, &e.ID); err != nil {
			return err
		}
		if err := c.commands.RecordTaken(ctx, o.CommandID, takenAt); err != nil {
			return err
		}

		o.Status = calendar.StatusTaken
		o.TerminalEventID = &e.ID
		res = &Result{Occurrence: o, EventID: e.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Skip marks a scheduled or snoozed occurrence as deliberately not taken.
func (c *Coordinator) Skip(ctx context.Context, occurrenceID uuid.UUID, note, performedBy string) (res *Result, err error) {
	defer func() { observe("skip", err) }()

	err = c.run(ctx, func(ctx context.Context) error {
		o, err := c.occ.GetByID(ctx, occurrenceID)
		if err != nil {
			return err
		}
		e := &doselog.Event{
			OccurrenceID: o.ID,
			CommandID:    o.CommandID,
			PatientID:    o.PatientID,
			Kind:         doselog.KindSkipped,
			Note:         note,
			PerformedBy:  performedBy,
			EffectiveAt:  c.now().UTC(),
		}
		if err := c.events.Append(ctx, e); err != nil {
			return err
		}
		if err := c.occ.TransitionStatus(ctx, o.ID,
			[]calendar.Status{calendar.StatusScheduled, calendar.StatusSnoozed},
			calendar.StatusSkipped, &e.ID); err != nil {
			return err
		}

		o.Status = calendar.StatusSkipped
		o.TerminalEventID = &e.ID
		res = &Result{Occurrence: o, EventID: e.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Snooze cancels the occurrence and creates a replacement at now plus the
// command's snooze interval, keeping the original grace allowance.
func (c *Coordinator) Snooze(ctx context.Context, occurrenceID uuid.UUID, performedBy string) (res *Result, err error) {
	defer func() { observe("snooze", err) }()

	now := c.now().UTC()
	err = c.run(ctx, func(ctx context.Context) error {
		o, err := c.occ.GetByID(ctx, occurrenceID)
		if err != nil {
			return err
		}
		cmd, err := c.commands.GetByID(ctx, o.CommandID)
		if err != nil {
			return err
		}

		e := &doselog.Event{
			OccurrenceID: o.ID,
			CommandID:    o.CommandID,
			PatientID:    o.PatientID,
			Kind:         doselog.KindSnoozed,
			PerformedBy:  performedBy,
			EffectiveAt:  now,
		}
		if err := c.events.Append(ctx, e); err != nil {
			return err
		}
		if err := c.occ.TransitionStatus(ctx, o.ID,
			[]calendar.Status{calendar.StatusScheduled, calendar.StatusSnoozed},
			calendar.StatusCancelled, &e.ID); err != nil {
			return err
		}

		// The replacement may land in a different bucket (10:55 snoozed by
		// 30m is a noon dose), so bucket and grace are recomputed for the
		// new slot rather than inherited.
		newTime := now.Add(time.Duration(cmd.SnoozeMinutes) * time.Minute)
		bucket := c.boundaries.BucketFor(newTime.Hour())
		grace, _ := calendar.CalculateGracePeriod(cmd, newTime, bucket, c.holidays)
		replacement := &calendar.Occurrence{
			CommandID:     o.CommandID,
			PatientID:     o.PatientID,
			ScheduledTime: newTime,
			Bucket:        bucket,
			GraceMinutes:  grace,
			GraceDeadline: newTime.Add(time.Duration(grace) * time.Minute),
			Status:        calendar.StatusSnoozed,
		}
		if _, err := c.occ.CreateIfAbsent(ctx, replacement); err != nil {
			return err
		}

		res = &Result{Occurrence: replacement, EventID: e.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Undo reverses a take recorded within the undo window. The occurrence goes
// back to scheduled if its grace deadline has not lapsed, to missed if it
// has: undo never resurrects a dose past its deadline.
func (c *Coordinator) Undo(ctx context.Context, occurrenceID uuid.UUID, performedBy string) (res *Result, err error) {
	defer func() { observe("undo", err) }()

	now := c.now().UTC()
	err = c.run(ctx, func(ctx context.Context) error {
		o, err := c.occ.GetByID(ctx, occurrenceID)
		if err != nil {
			return err
		}
		if o.Status != calendar.StatusTaken {
			return apperr.Conflict("occurrence is %s, only taken occurrences can be undone", o.Status)
		}

		taken, err := c.events.LatestTerminal(ctx, occurrenceID)
		if err != nil {
			return err
		}
		if !taken.Kind.IsTaken() {
			return apperr.Conflict("latest event is %s, not a take", taken.Kind)
		}
		// Inclusive boundary: exactly the window length still succeeds.
		if now.Sub(taken.CreatedAt) > c.undoWindow {
			return apperr.UndoExpired("undo window of %s has passed", c.undoWindow)
		}

		undone := &doselog.Event{
			OccurrenceID:   o.ID,
			CommandID:      o.CommandID,
			PatientID:      o.PatientID,
			Kind:           doselog.KindUndone,
			PerformedBy:    performedBy,
			RevertsEventID: &taken.ID,
			EffectiveAt:    now,
		}
		if err := c.events.Append(ctx, undone); err != nil {
			return err
		}
		if err := c.commands.RevertTaken(ctx, o.CommandID); err != nil {
			return err
		}

		if now.After(o.GraceDeadline) {
			missed := &doselog.Event{
				OccurrenceID: o.ID,
				CommandID:    o.CommandID,
				PatientID:    o.PatientID,
				Kind:         doselog.KindMissed,
				PerformedBy:  "system",
				EffectiveAt:  now,
			}
			if err := c.events.Append(ctx, missed); err != nil {
				return err
			}
			if err := c.occ.TransitionStatus(ctx, o.ID,
				[]calendar.Status{calendar.StatusTaken}, calendar.StatusMissed, &missed.ID); err != nil {
				return err
			}
			o.Status = calendar.StatusMissed
			o.TerminalEventID = &missed.ID
		} else {
			if err := c.occ.TransitionStatus(ctx, o.ID,
				[]calendar.Status{calendar.StatusTaken}, calendar.StatusScheduled, nil); err != nil {
				return err
			}
			o.Status = calendar.StatusScheduled
			o.TerminalEventID = nil
		}

		res = &Result{Occurrence: o, EventID: undone.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// MarkMissed is the sweep's conditional transition. The status precondition
// is re-checked at commit so a user taking the dose concurrently wins.
func (c *Coordinator) MarkMissed(ctx context.Context, occurrenceID uuid.UUID) (res *Result, err error) {
	defer func() { observe("mark_missed", err) }()

	err = c.run(ctx, func(ctx context.Context) error {
		o, err := c.occ.GetByID(ctx, occurrenceID)
		if err != nil {
			return err
		}
		e := &doselog.Event{
			OccurrenceID: o.ID,
			CommandID:    o.CommandID,
			PatientID:    o.PatientID,
			Kind:         doselog.KindMissed,
			PerformedBy:  "system",
			EffectiveAt:  c.now().UTC(),
		}
		if err := c.events.Append(ctx, e); err != nil {
			return err
		}
		if err := c.occ.TransitionStatus(ctx, o.ID,
			[]calendar.Status{calendar.StatusScheduled, calendar.StatusSnoozed},
			calendar.StatusMissed, &e.ID); err != nil {
			return err
		}

		o.Status = calendar.StatusMissed
		o.TerminalEventID = &e.ID
		res = &Result{Occurrence: o, EventID: e.ID}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// GetOccurrence exposes occurrence lookup for handlers that need the owner
// before authorizing.
func (c *Coordinator) GetOccurrence(ctx context.Context, id uuid.UUID) (*calendar.Occurrence, error) {
	return c.occ.GetByID(ctx, id)
}
