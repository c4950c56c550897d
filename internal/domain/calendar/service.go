package calendar

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/metrics"
)

// EventAppender is the slice of the dose log the materializer writes to:
// one scheduled event per occurrence it creates, so analytics can aggregate
// over the event stream alone.
type EventAppender interface {
	Append(ctx context.Context, e *doselog.Event) error
}

// Attention is the transient read-time classification layered over the
// stored bucket.
const (
	AttentionOverdue = "overdue"
	AttentionNow     = "now"
	AttentionDueSoon = "due-soon"
)

const defaultDueSoonWindow = time.Hour

type Service struct {
	occ        OccurrenceRepository
	events     EventAppender
	commands   regimen.CommandRepository
	holidays   HolidayCalendar
	boundaries BucketBoundaries
	dueSoon    time.Duration
	now        func() time.Time
	log        zerolog.Logger
}

func NewService(occ OccurrenceRepository, events EventAppender, commands regimen.CommandRepository, holidays HolidayCalendar, boundaries BucketBoundaries, log zerolog.Logger) *Service {
	return &Service{
		occ:        occ,
		events:     events,
		commands:   commands,
		holidays:   holidays,
		boundaries: boundaries,
		dueSoon:    defaultDueSoonWindow,
		now:        time.Now,
		log:        log,
	}
}

func startOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// GenerateOccurrences materializes the command's occurrences for each day in
// the horizon, starting today. Existing (command, scheduled time) keys are
// left alone, so re-invocation never duplicates. Returns how many occurrences
// were created.
func (s *Service) GenerateOccurrences(ctx context.Context, commandID uuid.UUID, horizonDays int) (int, error) {
	cmd, err := s.commands.GetByID(ctx, commandID)
	if err != nil {
		return 0, err
	}
	if cmd.Status != regimen.StatusActive {
		return 0, nil
	}
	// As-needed commands have no fixed times to materialize.
	if cmd.Frequency == regimen.FrequencyAsNeeded {
		return 0, nil
	}

	today := startOfDay(s.now())
	firstDay := startOfDay(cmd.StartDate)

	created := 0
	for d := 0; d < horizonDays; d++ {
		day := today.AddDate(0, 0, d)
		if day.Before(firstDay) {
			continue
		}
		if cmd.EndDate != nil && day.After(startOfDay(*cmd.EndDate)) {
			continue
		}
		if cmd.Frequency == regimen.FrequencyWeekly && day.Weekday() != cmd.StartDate.Weekday() {
			continue
		}

		for _, tod := range cmd.TimesOfDay {
			hour, minute, ok := regimen.ParseTimeOfDay(tod)
			if !ok {
				continue
			}
			scheduled := day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
			bucket := s.boundaries.BucketFor(hour)
			minutes, _ := CalculateGracePeriod(cmd, scheduled, bucket, s.holidays)

			o := &Occurrence{
				CommandID:     cmd.ID,
				PatientID:     cmd.PatientID,
				ScheduledTime: scheduled,
				Bucket:        bucket,
				GraceMinutes:  minutes,
				GraceDeadline: scheduled.Add(time.Duration(minutes) * time.Minute),
			}
			inserted, err := s.occ.CreateIfAbsent(ctx, o)
			if err != nil {
				return created, err
			}
			if !inserted {
				continue
			}
			created++
			metrics.OccurrencesMaterialized.Inc()

			e := &doselog.Event{
				OccurrenceID: o.ID,
				CommandID:    cmd.ID,
				PatientID:    cmd.PatientID,
				Kind:         doselog.KindScheduled,
				PerformedBy:  "system",
				EffectiveAt:  scheduled,
			}
			if err := s.events.Append(ctx, e); err != nil {
				return created, err
			}
		}
	}
	return created, nil
}

// MaintainRollingWindow tops up a single command's window to horizonDays
// forward from today. A no-op when the window is already covered.
func (s *Service) MaintainRollingWindow(ctx context.Context, commandID uuid.UUID, horizonDays int) (int, error) {
	return s.GenerateOccurrences(ctx, commandID, horizonDays)
}

// MaintainAllActive extends the rolling window for every active command.
// Per-command failures are logged and skipped.
func (s *Service) MaintainAllActive(ctx context.Context, horizonDays int) (int, error) {
	cmds, err := s.commands.ListActive(ctx)
	if err != nil {
		return 0, err
	}
	total := 0
	for _, cmd := range cmds {
		n, err := s.GenerateOccurrences(ctx, cmd.ID, horizonDays)
		if err != nil {
			s.log.Error().Err(err).Stringer("command_id", cmd.ID).Msg("rolling window maintenance failed")
			continue
		}
		total += n
	}
	return total, nil
}

// CancelFutureScheduled cancels the command's still-scheduled future
// occurrences. History stays put.
func (s *Service) CancelFutureScheduled(ctx context.Context, commandID uuid.UUID) (int, error) {
	return s.occ.CancelFutureScheduled(ctx, commandID, s.now().UTC())
}

// TodayOccurrence decorates a stored occurrence with its read-time
// attention class.
type TodayOccurrence struct {
	*Occurrence
	Attention string `json:"attention,omitempty"`
}

// TodayView groups a patient's occurrences for one day by stored bucket,
// with overdue/now/due-soon computed against the current wall clock.
type TodayView struct {
	Date    string                       `json:"date"`
	Buckets map[Bucket][]*TodayOccurrence `json:"buckets"`
	Overdue []*TodayOccurrence           `json:"overdue"`
	Now     []*TodayOccurrence           `json:"now"`
	DueSoon []*TodayOccurrence           `json:"due_soon"`
}

func (s *Service) classify(o *Occurrence, now time.Time) string {
	if o.Status != StatusScheduled && o.Status != StatusSnoozed {
		return ""
	}
	switch {
	case now.After(o.GraceDeadline):
		return AttentionOverdue
	case !now.Before(o.ScheduledTime):
		return AttentionNow
	case o.ScheduledTime.Sub(now) <= s.dueSoon:
		return AttentionDueSoon
	default:
		return ""
	}
}

// Today returns the patient's occurrences for the current calendar day.
func (s *Service) Today(ctx context.Context, patientID uuid.UUID) (*TodayView, error) {
	now := s.now().UTC()
	dayStart := startOfDay(now)

	items, err := s.occ.ListForPatientRange(ctx, patientID, dayStart, dayStart.AddDate(0, 0, 1))
	if err != nil {
		return nil, err
	}

	view := &TodayView{
		Date:    dayStart.Format("2006-01-02"),
		Buckets: make(map[Bucket][]*TodayOccurrence),
	}
	for _, o := range items {
		if o.Status == StatusCancelled {
			continue
		}
		t := &TodayOccurrence{Occurrence: o, Attention: s.classify(o, now)}
		view.Buckets[o.Bucket] = append(view.Buckets[o.Bucket], t)
		switch t.Attention {
		case AttentionOverdue:
			view.Overdue = append(view.Overdue, t)
		case AttentionNow:
			view.Now = append(view.Now, t)
		case AttentionDueSoon:
			view.DueSoon = append(view.DueSoon, t)
		}
	}
	return view, nil
}
