package adherence

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/platform/apperr"
)

type memEvents struct {
	items []*doselog.Event
}

func (m *memEvents) Append(_ context.Context, e *doselog.Event) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = e.EffectiveAt
	}
	cp := *e
	m.items = append(m.items, &cp)
	return nil
}

func (m *memEvents) GetByID(_ context.Context, id uuid.UUID) (*doselog.Event, error) {
	for _, e := range m.items {
		if e.ID == id {
			cp := *e
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("event not found")
}

func (m *memEvents) ListByOccurrence(_ context.Context, occurrenceID uuid.UUID) ([]*doselog.Event, error) {
	var out []*doselog.Event
	for _, e := range m.items {
		if e.OccurrenceID == occurrenceID {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEvents) LatestTerminal(_ context.Context, occurrenceID uuid.UUID) (*doselog.Event, error) {
	for i := len(m.items) - 1; i >= 0; i-- {
		if m.items[i].OccurrenceID == occurrenceID && m.items[i].Kind.Terminal() {
			cp := *m.items[i]
			return &cp, nil
		}
	}
	return nil, apperr.NotFound("event not found")
}

func (m *memEvents) ListByPatientRange(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*doselog.Event, error) {
	var out []*doselog.Event
	for _, e := range m.items {
		if e.PatientID == patientID && !e.EffectiveAt.Before(from) && e.EffectiveAt.Before(to) {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memEvents) ListUnarchivedBefore(_ context.Context, cutoff time.Time, limit int) ([]*doselog.Event, error) {
	var out []*doselog.Event
	for _, e := range m.items {
		if !e.Archived && e.EffectiveAt.Before(cutoff) {
			cp := *e
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memEvents) MarkArchived(_ context.Context, ids []uuid.UUID) (int, error) {
	want := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		want[id] = true
	}
	n := 0
	for _, e := range m.items {
		if want[e.ID] && !e.Archived {
			e.Archived = true
			n++
		}
	}
	return n, nil
}

type memMilestones struct {
	items []*Milestone
}

func (m *memMilestones) RecordIfAbsent(_ context.Context, ms *Milestone) (bool, error) {
	for _, existing := range m.items {
		if existing.PatientID == ms.PatientID && existing.Kind == ms.Kind {
			return false, nil
		}
	}
	ms.ID = uuid.New()
	cp := *ms
	m.items = append(m.items, &cp)
	return true, nil
}

func (m *memMilestones) ListByPatient(_ context.Context, patientID uuid.UUID) ([]*Milestone, error) {
	var out []*Milestone
	for _, ms := range m.items {
		if ms.PatientID == patientID {
			cp := *ms
			out = append(out, &cp)
		}
	}
	return out, nil
}

// --- fixtures ---

type reportFixture struct {
	svc        *Service
	events     *memEvents
	milestones *memMilestones
	patientID  uuid.UUID
	commandID  uuid.UUID
}

func newReportFixture(t *testing.T) *reportFixture {
	t.Helper()
	f := &reportFixture{
		events:     &memEvents{},
		milestones: &memMilestones{},
		patientID:  uuid.New(),
		commandID:  uuid.New(),
	}
	f.svc = NewService(f.events, f.milestones, 30, zerolog.Nop())
	return f
}

func (f *reportFixture) add(t *testing.T, kind doselog.EventKind, at time.Time, lateness *int) *doselog.Event {
	t.Helper()
	e := &doselog.Event{
		OccurrenceID:    uuid.New(),
		CommandID:       f.commandID,
		PatientID:       f.patientID,
		Kind:            kind,
		LatenessMinutes: lateness,
		PerformedBy:     "patient",
		EffectiveAt:     at,
	}
	require.NoError(t, f.events.Append(context.Background(), e))
	return e
}

func intPtr(v int) *int { return &v }

var rangeStart = time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

func TestReportZeroScheduledIsZero(t *testing.T) {
	f := newReportFixture(t)

	r, err := f.svc.Report(context.Background(), f.patientID, rangeStart, rangeStart.AddDate(0, 0, 7))
	require.NoError(t, err)

	assert.Equal(t, 0, r.ScheduledCount)
	assert.Equal(t, 0.0, r.AdherenceRate)
	assert.Equal(t, 0.0, r.TimingAccuracy)
	assert.Equal(t, 0, r.CurrentStreak)
	assert.Equal(t, 0, r.LongestStreak)
	assert.Equal(t, RiskLow, r.RiskLevel)
	assert.Empty(t, r.Milestones)
}

func TestReportRateAndTiming(t *testing.T) {
	f := newReportFixture(t)
	day := rangeStart.Add(8 * time.Hour)

	for i := 0; i < 4; i++ {
		f.add(t, doselog.KindScheduled, day.Add(time.Duration(i)*time.Hour), nil)
	}
	f.add(t, doselog.KindTakenFull, day.Add(5*time.Minute), intPtr(5))
	f.add(t, doselog.KindTakenFull, day.Add(time.Hour+10*time.Minute), intPtr(10))
	// Partial counts toward the rate but lands outside the timing threshold.
	f.add(t, doselog.KindTakenPartial, day.Add(2*time.Hour+45*time.Minute), intPtr(45))
	f.add(t, doselog.KindMissed, day.Add(4*time.Hour), nil)

	r, err := f.svc.Report(context.Background(), f.patientID, rangeStart, rangeStart.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 4, r.ScheduledCount)
	assert.Equal(t, 3, r.TakenCount)
	assert.Equal(t, 1, r.MissedCount)
	assert.InDelta(t, 0.75, r.AdherenceRate, 1e-9)
	assert.InDelta(t, 2.0/3.0, r.TimingAccuracy, 1e-9)
}

func TestReportUndoneTakeDoesNotCount(t *testing.T) {
	f := newReportFixture(t)
	day := rangeStart.Add(8 * time.Hour)

	f.add(t, doselog.KindScheduled, day, nil)
	taken := f.add(t, doselog.KindTakenFull, day.Add(5*time.Minute), intPtr(5))
	undone := &doselog.Event{
		OccurrenceID:   taken.OccurrenceID,
		CommandID:      f.commandID,
		PatientID:      f.patientID,
		Kind:           doselog.KindUndone,
		RevertsEventID: &taken.ID,
		PerformedBy:    "patient",
		EffectiveAt:    day.Add(6 * time.Minute),
	}
	require.NoError(t, f.events.Append(context.Background(), undone))

	r, err := f.svc.Report(context.Background(), f.patientID, rangeStart, rangeStart.AddDate(0, 0, 1))
	require.NoError(t, err)

	assert.Equal(t, 1, r.ScheduledCount)
	assert.Equal(t, 0, r.TakenCount)
	assert.Equal(t, 0.0, r.AdherenceRate)
}

func TestReportStreaksAndMilestones(t *testing.T) {
	f := newReportFixture(t)

	// Seven fully-adherent days, a miss, then two more adherent days.
	for i := 0; i < 10; i++ {
		day := rangeStart.AddDate(0, 0, i).Add(8 * time.Hour)
		f.add(t, doselog.KindScheduled, day, nil)
		if i == 7 {
			f.add(t, doselog.KindMissed, day.Add(time.Hour), nil)
			continue
		}
		f.add(t, doselog.KindTakenFull, day.Add(10*time.Minute), intPtr(10))
	}

	to := rangeStart.AddDate(0, 0, 10)
	r, err := f.svc.Report(context.Background(), f.patientID, rangeStart, to)
	require.NoError(t, err)

	assert.Equal(t, 7, r.LongestStreak)
	assert.Equal(t, 2, r.CurrentStreak)

	kinds := make(map[MilestoneKind]int)
	for _, m := range r.Milestones {
		kinds[m.Kind]++
	}
	assert.Equal(t, 1, kinds[MilestoneFirstDose])
	assert.Equal(t, 1, kinds[MilestoneWeekStreak])
	assert.Equal(t, 0, kinds[MilestoneMonthStreak])

	// Re-running the report never re-fires recorded milestones.
	r2, err := f.svc.Report(context.Background(), f.patientID, rangeStart, to)
	require.NoError(t, err)
	assert.Len(t, r2.Milestones, len(r.Milestones))
}

func TestMilestonesStableAcrossShiftedRanges(t *testing.T) {
	f := newReportFixture(t)

	// Nine fully-adherent days.
	for i := 0; i < 9; i++ {
		day := rangeStart.AddDate(0, 0, i).Add(8 * time.Hour)
		f.add(t, doselog.KindScheduled, day, nil)
		f.add(t, doselog.KindTakenFull, day.Add(5*time.Minute), intPtr(5))
	}

	_, err := f.svc.Report(context.Background(), f.patientID, rangeStart, rangeStart.AddDate(0, 0, 10))
	require.NoError(t, err)

	// A narrower range over the same data sees a later "first" take and a
	// later streak completion; neither may fire a second milestone.
	_, err = f.svc.Report(context.Background(), f.patientID, rangeStart.AddDate(0, 0, 2), rangeStart.AddDate(0, 0, 10))
	require.NoError(t, err)

	kinds := make(map[MilestoneKind]int)
	for _, m := range f.milestones.items {
		kinds[m.Kind]++
	}
	assert.Equal(t, 1, kinds[MilestoneFirstDose])
	assert.Equal(t, 1, kinds[MilestoneWeekStreak])
}

func TestReportRiskLevels(t *testing.T) {
	tests := []struct {
		rate float64
		want RiskLevel
	}{
		{1.0, RiskLow},
		{0.9, RiskLow},
		{0.89, RiskMedium},
		{0.75, RiskMedium},
		{0.74, RiskHigh},
		{0.5, RiskHigh},
		{0.49, RiskCritical},
		{0.0, RiskCritical},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, riskFor(tt.rate), "rate %v", tt.rate)
	}
}

func TestReportRiskUsesRollingWindow(t *testing.T) {
	f := newReportFixture(t)

	// Perfect adherence three weeks ago, everything missed in the last week.
	for i := 0; i < 7; i++ {
		day := rangeStart.AddDate(0, 0, i).Add(8 * time.Hour)
		f.add(t, doselog.KindScheduled, day, nil)
		f.add(t, doselog.KindTakenFull, day.Add(5*time.Minute), intPtr(5))
	}
	for i := 14; i < 21; i++ {
		day := rangeStart.AddDate(0, 0, i).Add(8 * time.Hour)
		f.add(t, doselog.KindScheduled, day, nil)
		f.add(t, doselog.KindMissed, day.Add(time.Hour), nil)
	}

	r, err := f.svc.Report(context.Background(), f.patientID, rangeStart, rangeStart.AddDate(0, 0, 21))
	require.NoError(t, err)
	assert.Equal(t, RiskCritical, r.RiskLevel)
}
