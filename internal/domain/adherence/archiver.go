package adherence

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/domain/calendar"
	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/metrics"
	"github.com/dosepilot/dosepilot/internal/platform/notification"
)

// A refill intent fires once remaining supply drops to this many doses.
const refillLeadDoses = 3

// Archiver compacts closed days into daily summaries, flags the source
// events as archived, emits refill intents for commands running low, and
// prunes occurrences past retention. Events themselves are kept indefinitely.
type Archiver struct {
	occ           calendar.OccurrenceRepository
	events        doselog.EventRepository
	summaries     SummaryRepository
	commands      regimen.CommandRepository
	notifier      notification.Service
	retentionDays int
	now           func() time.Time
	log           zerolog.Logger
}

func NewArchiver(occ calendar.OccurrenceRepository, events doselog.EventRepository, summaries SummaryRepository, commands regimen.CommandRepository, notifier notification.Service, retentionDays int, log zerolog.Logger) *Archiver {
	return &Archiver{
		occ:           occ,
		events:        events,
		summaries:     summaries,
		commands:      commands,
		notifier:      notifier,
		retentionDays: retentionDays,
		now:           time.Now,
		log:           log,
	}
}

// Run archives every closed day that still has unarchived events (catching
// up after downtime), emits refill intents, and only then prunes occurrences
// past the retention window. Pruning never runs ahead of summarization: a
// day's occurrences are deleted only after its summary has been captured.
func (a *Archiver) Run(ctx context.Context) error {
	now := a.now().UTC()
	yesterday := now.Truncate(24 * time.Hour).AddDate(0, 0, -1)

	// Unarchived events mark days whose summaries were never captured; start
	// from the earliest one so downtime never leaves a gap.
	start := yesterday
	stale, err := a.events.ListUnarchivedBefore(ctx, yesterday, 1)
	if err != nil {
		return err
	}
	if len(stale) > 0 {
		if d := stale[0].EffectiveAt.UTC().Truncate(24 * time.Hour); d.Before(start) {
			start = d
		}
	}
	for day := start; !day.After(yesterday); day = day.AddDate(0, 0, 1) {
		if _, err := a.ArchiveDay(ctx, day); err != nil {
			return err
		}
	}

	if err := a.emitRefillDue(ctx); err != nil {
		return err
	}

	cutoff := now.AddDate(0, 0, -a.retentionDays)
	pruned, err := a.occ.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return err
	}
	if pruned > 0 {
		metrics.ArchiverPruned.Add(float64(pruned))
		a.log.Info().Int("pruned", pruned).Time("cutoff", cutoff).Msg("occurrences pruned past retention")
	}
	return nil
}

// ArchiveDay summarizes every patient with occurrences on the given day.
// A failure for one patient is logged and does not stop the rest.
func (a *Archiver) ArchiveDay(ctx context.Context, day time.Time) (int, error) {
	dayStart := day.UTC().Truncate(24 * time.Hour)

	patients, err := a.occ.ListPatientsWithOccurrencesOn(ctx, dayStart)
	if err != nil {
		return 0, err
	}

	written := 0
	for _, patientID := range patients {
		if err := a.archivePatientDay(ctx, patientID, dayStart); err != nil {
			a.log.Error().Err(err).Stringer("patient_id", patientID).Time("day", dayStart).Msg("daily archive failed")
			continue
		}
		written++
		metrics.ArchiverSummaries.Inc()
	}
	return written, nil
}

func (a *Archiver) archivePatientDay(ctx context.Context, patientID uuid.UUID, dayStart time.Time) error {
	counts, err := a.occ.CountByStatusForDay(ctx, patientID, dayStart)
	if err != nil {
		return err
	}

	// Cancelled occurrences (snooze leftovers, paused commands) are not
	// part of the day's denominator.
	scheduled := 0
	for status, n := range counts {
		if status != calendar.StatusCancelled {
			scheduled += n
		}
	}
	taken := counts[calendar.StatusTaken]

	summary := &DailySummary{
		PatientID: patientID,
		Day:       dayStart,
		Scheduled: scheduled,
		Taken:     taken,
		Missed:    counts[calendar.StatusMissed],
		Skipped:   counts[calendar.StatusSkipped],
	}
	if scheduled > 0 {
		summary.AdherencePct = 100 * float64(taken) / float64(scheduled)
	}
	if err := a.summaries.Upsert(ctx, summary); err != nil {
		return err
	}

	events, err := a.events.ListByPatientRange(ctx, patientID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return err
	}
	ids := make([]uuid.UUID, 0, len(events))
	for _, e := range events {
		if !e.Archived {
			ids = append(ids, e.ID)
		}
	}
	_, err = a.events.MarkArchived(ctx, ids)
	return err
}

// emitRefillDue raises an intent for every active supply-tracked command
// whose remaining doses are at or below the lead threshold. The downstream
// notification service owns deduplication across nightly runs.
func (a *Archiver) emitRefillDue(ctx context.Context) error {
	commands, err := a.commands.ListActive(ctx)
	if err != nil {
		return err
	}
	for _, cmd := range commands {
		if cmd.SupplyCount == 0 {
			continue
		}
		remaining := cmd.SupplyCount - cmd.TakenCount
		if remaining > refillLeadDoses {
			continue
		}
		intent := notification.Intent{
			ID:        uuid.New(),
			Kind:      notification.IntentRefillDue,
			PatientID: cmd.PatientID,
			Data: map[string]string{
				"drug_display":    cmd.DrugDisplay,
				"doses_remaining": strconv.Itoa(max(remaining, 0)),
			},
			CreatedAt: a.now().UTC(),
		}
		if err := a.notifier.Emit(ctx, intent); err != nil {
			a.log.Error().Err(err).Stringer("command_id", cmd.ID).Msg("refill intent emission failed")
		}
	}
	return nil
}
