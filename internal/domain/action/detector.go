package action

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/domain/calendar"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/apperr"
	"github.com/dosepilot/dosepilot/internal/platform/metrics"
	"github.com/dosepilot/dosepilot/internal/platform/notification"
)

// Detector is the missed-dose sweep. It expires occurrences past their grace
// deadline in bounded batches; work left over when the runtime budget is
// spent waits for the next scheduled run.
type Detector struct {
	occ       calendar.OccurrenceRepository
	coord     *Coordinator
	commands  regimen.CommandRepository
	notifier  notification.Service
	batchSize int
	budget    time.Duration
	now       func() time.Time
	log       zerolog.Logger
}

func NewDetector(occ calendar.OccurrenceRepository, coord *Coordinator, commands regimen.CommandRepository, notifier notification.Service, batchSize int, budget time.Duration, log zerolog.Logger) *Detector {
	return &Detector{
		occ:       occ,
		coord:     coord,
		commands:  commands,
		notifier:  notifier,
		batchSize: batchSize,
		budget:    budget,
		now:       time.Now,
		log:       log,
	}
}

// Sweep processes overdue occurrences until none remain, the budget runs
// out, or the context is cancelled. Per-occurrence failures are logged and
// skipped, never escalated.
func (d *Detector) Sweep(ctx context.Context) (int, error) {
	start := d.now()
	processed := 0

	for {
		if ctx.Err() != nil {
			return processed, ctx.Err()
		}
		if d.now().Sub(start) > d.budget {
			d.log.Warn().Int("processed", processed).Msg("sweep budget exhausted, resuming next run")
			return processed, nil
		}

		batch, err := d.occ.ListSweepable(ctx, d.now().UTC(), d.batchSize)
		if err != nil {
			return processed, err
		}
		if len(batch) == 0 {
			return processed, nil
		}

		for _, o := range batch {
			if err := d.sweepOne(ctx, o); err == nil {
				processed++
			}
		}

		if len(batch) < d.batchSize {
			return processed, nil
		}
	}
}

func (d *Detector) sweepOne(ctx context.Context, o *calendar.Occurrence) error {
	res, err := d.coord.MarkMissed(ctx, o.ID)
	if err != nil {
		// A conflict means a user action beat the sweep to this
		// occurrence. That is the designed outcome, not a failure.
		if apperr.IsKind(err, apperr.KindConflict) {
			metrics.SweepProcessed.WithLabelValues("conflict").Inc()
			d.log.Debug().Stringer("occurrence_id", o.ID).Msg("sweep lost race to user action")
		} else {
			metrics.SweepProcessed.WithLabelValues("error").Inc()
			d.log.Error().Err(err).Stringer("occurrence_id", o.ID).Msg("sweep transition failed")
		}
		return err
	}
	metrics.SweepProcessed.WithLabelValues("missed").Inc()

	d.notifyMissed(ctx, res.Occurrence)
	return nil
}

func (d *Detector) notifyMissed(ctx context.Context, o *calendar.Occurrence) {
	data := map[string]string{
		"scheduled_time": o.ScheduledTime.Format("15:04"),
	}
	if cmd, err := d.commands.GetByID(ctx, o.CommandID); err == nil {
		data["drug_display"] = cmd.DrugDisplay
	}

	intent := notification.Intent{
		Kind:      notification.IntentMissedDose,
		PatientID: o.PatientID,
		Data:      data,
	}
	if err := d.notifier.Emit(ctx, intent); err != nil {
		d.log.Error().Err(err).Stringer("occurrence_id", o.ID).Msg("missed-dose intent failed")
	}
}
