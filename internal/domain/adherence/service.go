package adherence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/domain/doselog"
)

const (
	defaultTimingThreshold = 30 // minutes
	riskWindowDays         = 7
	weekStreakDays         = 7
	monthStreakDays        = 30
)

// Service is the read-only analytics engine over the event stream. It never
// mutates events; its only writes are idempotent milestone records.
type Service struct {
	events          doselog.EventRepository
	milestones      MilestoneRepository
	timingThreshold int
	log             zerolog.Logger
}

func NewService(events doselog.EventRepository, milestones MilestoneRepository, timingThresholdMinutes int, log zerolog.Logger) *Service {
	if timingThresholdMinutes <= 0 {
		timingThresholdMinutes = defaultTimingThreshold
	}
	return &Service{
		events:          events,
		milestones:      milestones,
		timingThreshold: timingThresholdMinutes,
		log:             log,
	}
}

// dayStats accumulates one calendar day's scheduled and taken counts.
type dayStats struct {
	scheduled int
	taken     int
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

// Report aggregates the patient's events over [from, to).
func (s *Service) Report(ctx context.Context, patientID uuid.UUID, from, to time.Time) (*Report, error) {
	events, err := s.events.ListByPatientRange(ctx, patientID, from, to)
	if err != nil {
		return nil, err
	}

	// Taken events reverted by an undo do not count as taken.
	reverted := make(map[uuid.UUID]bool)
	for _, e := range events {
		if e.Kind == doselog.KindUndone && e.RevertsEventID != nil {
			reverted[*e.RevertsEventID] = true
		}
	}

	r := &Report{PatientID: patientID, From: from, To: to}
	days := make(map[string]*dayStats)
	var firstTaken *doselog.Event
	takenTotal := 0
	takenOnTime := 0

	for _, e := range events {
		key := dayKey(e.EffectiveAt)
		stats := days[key]
		if stats == nil {
			stats = &dayStats{}
			days[key] = stats
		}

		switch {
		case e.Kind == doselog.KindScheduled:
			r.ScheduledCount++
			stats.scheduled++
		case e.Kind.IsTaken() && !reverted[e.ID]:
			stats.taken++
			takenTotal++
			if e.LatenessMinutes != nil && abs(*e.LatenessMinutes) <= s.timingThreshold {
				takenOnTime++
			}
			// Full and partial doses count toward the adherence rate;
			// adjusted doses count as taken days but not toward the rate.
			if e.Kind != doselog.KindTakenAdjusted {
				r.TakenCount++
			}
			if firstTaken == nil || e.EffectiveAt.Before(firstTaken.EffectiveAt) {
				firstTaken = e
			}
		case e.Kind == doselog.KindMissed || e.Kind == doselog.KindCorrectedMissed:
			r.MissedCount++
		case e.Kind == doselog.KindSkipped || e.Kind == doselog.KindCorrectedSkipped:
			r.SkippedCount++
		}
	}

	// Defined as exactly 0 when nothing was scheduled, never NaN.
	if r.ScheduledCount > 0 {
		r.AdherenceRate = float64(r.TakenCount) / float64(r.ScheduledCount)
	}
	if takenTotal > 0 {
		r.TimingAccuracy = float64(takenOnTime) / float64(takenTotal)
	}

	r.CurrentStreak, r.LongestStreak = streaks(days, from, to)
	r.RiskLevel = s.risk(days, to)

	if err := s.detectMilestones(ctx, r, firstTaken, days, from, to); err != nil {
		return nil, err
	}

	recorded, err := s.milestones.ListByPatient(ctx, patientID)
	if err != nil {
		return nil, err
	}
	for _, m := range recorded {
		r.Milestones = append(r.Milestones, *m)
	}
	return r, nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}

// adherentDay: everything scheduled that day was taken. Days with nothing
// scheduled are neutral: they neither extend nor break a streak.
func adherent(stats *dayStats) bool {
	return stats != nil && stats.scheduled > 0 && stats.taken >= stats.scheduled
}

// streaks walks the range day by day computing the longest run of
// fully-adherent days and the run still open at the range's end.
func streaks(days map[string]*dayStats, from, to time.Time) (current, longest int) {
	run := 0
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		stats := days[dayKey(day)]
		if stats == nil || stats.scheduled == 0 {
			continue
		}
		if adherent(stats) {
			run++
			if run > longest {
				longest = run
			}
		} else {
			run = 0
		}
	}
	current = run
	return current, longest
}

// risk derives the level from the rolling window ending at the range's end.
// With nothing scheduled in the window there is nothing to miss, so the
// level is low rather than the zero-rate critical.
func (s *Service) risk(days map[string]*dayStats, to time.Time) RiskLevel {
	scheduled, taken := 0, 0
	for i := 1; i <= riskWindowDays; i++ {
		if stats := days[dayKey(to.AddDate(0, 0, -i))]; stats != nil {
			scheduled += stats.scheduled
			taken += stats.taken
		}
	}
	if scheduled == 0 {
		return RiskLow
	}
	return riskFor(float64(taken) / float64(scheduled))
}

func (s *Service) detectMilestones(ctx context.Context, r *Report, firstTaken *doselog.Event, days map[string]*dayStats, from, to time.Time) error {
	record := func(kind MilestoneKind, achievedOn time.Time) error {
		fired, err := s.milestones.RecordIfAbsent(ctx, &Milestone{
			PatientID:  r.PatientID,
			Kind:       kind,
			AchievedOn: achievedOn,
		})
		if err != nil {
			return err
		}
		if fired {
			s.log.Info().
				Stringer("patient_id", r.PatientID).
				Str("kind", string(kind)).
				Msg("milestone achieved")
		}
		return nil
	}

	if firstTaken != nil {
		day := firstTaken.EffectiveAt.UTC().Truncate(24 * time.Hour)
		if err := record(MilestoneFirstDose, day); err != nil {
			return err
		}
	}

	// Streak milestones fire on the day the run first reaches the length.
	run := 0
	for day := from.UTC().Truncate(24 * time.Hour); day.Before(to); day = day.AddDate(0, 0, 1) {
		stats := days[dayKey(day)]
		if stats == nil || stats.scheduled == 0 {
			continue
		}
		if !adherent(stats) {
			run = 0
			continue
		}
		run++
		if run == weekStreakDays {
			if err := record(MilestoneWeekStreak, day); err != nil {
				return err
			}
		}
		if run == monthStreakDays {
			if err := record(MilestoneMonthStreak, day); err != nil {
				return err
			}
		}
	}
	return nil
}
