package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosepilot/dosepilot/internal/domain/doselog"
	"github.com/dosepilot/dosepilot/internal/domain/regimen"
	"github.com/dosepilot/dosepilot/internal/platform/apperr"
)

type memOccurrenceRepo struct {
	items map[uuid.UUID]*Occurrence
}

func newMemOccurrenceRepo() *memOccurrenceRepo {
	return &memOccurrenceRepo{items: make(map[uuid.UUID]*Occurrence)}
}

func (m *memOccurrenceRepo) CreateIfAbsent(_ context.Context, o *Occurrence) (bool, error) {
	for _, existing := range m.items {
		if existing.CommandID == o.CommandID && existing.ScheduledTime.Equal(o.ScheduledTime) && existing.Status != StatusCancelled {
			return false, nil
		}
	}
	o.ID = uuid.New()
	if o.Status == "" {
		o.Status = StatusScheduled
	}
	cp := *o
	m.items[o.ID] = &cp
	return true, nil
}

func (m *memOccurrenceRepo) GetByID(_ context.Context, id uuid.UUID) (*Occurrence, error) {
	o, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("occurrence not found")
	}
	cp := *o
	return &cp, nil
}

func (m *memOccurrenceRepo) ListForPatientRange(_ context.Context, patientID uuid.UUID, from, to time.Time) ([]*Occurrence, error) {
	var out []*Occurrence
	for _, o := range m.items {
		if o.PatientID == patientID && !o.ScheduledTime.Before(from) && o.ScheduledTime.Before(to) {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (m *memOccurrenceRepo) ListSweepable(_ context.Context, now time.Time, limit int) ([]*Occurrence, error) {
	var out []*Occurrence
	for _, o := range m.items {
		if (o.Status == StatusScheduled || o.Status == StatusSnoozed) && o.GraceDeadline.Before(now) {
			cp := *o
			out = append(out, &cp)
			if len(out) == limit {
				break
			}
		}
	}
	return out, nil
}

func (m *memOccurrenceRepo) TransitionStatus(_ context.Context, id uuid.UUID, from []Status, to Status, terminalEventID *uuid.UUID) error {
	o, ok := m.items[id]
	if !ok {
		return apperr.NotFound("occurrence not found")
	}
	for _, f := range from {
		if o.Status == f {
			o.Status = to
			o.TerminalEventID = terminalEventID
			return nil
		}
	}
	return apperr.Conflict("occurrence is %s, cannot move to %s", o.Status, to)
}

func (m *memOccurrenceRepo) CancelFutureScheduled(_ context.Context, commandID uuid.UUID, after time.Time) (int, error) {
	n := 0
	for _, o := range m.items {
		if o.CommandID == commandID && (o.Status == StatusScheduled || o.Status == StatusSnoozed) && o.ScheduledTime.After(after) {
			o.Status = StatusCancelled
			n++
		}
	}
	return n, nil
}

func (m *memOccurrenceRepo) CountByStatusForDay(_ context.Context, patientID uuid.UUID, dayStart time.Time) (map[Status]int, error) {
	counts := make(map[Status]int)
	dayEnd := dayStart.AddDate(0, 0, 1)
	for _, o := range m.items {
		if o.PatientID == patientID && !o.ScheduledTime.Before(dayStart) && o.ScheduledTime.Before(dayEnd) {
			counts[o.Status]++
		}
	}
	return counts, nil
}

func (m *memOccurrenceRepo) ListPatientsWithOccurrencesOn(_ context.Context, dayStart time.Time) ([]uuid.UUID, error) {
	seen := make(map[uuid.UUID]bool)
	dayEnd := dayStart.AddDate(0, 0, 1)
	var out []uuid.UUID
	for _, o := range m.items {
		if !o.ScheduledTime.Before(dayStart) && o.ScheduledTime.Before(dayEnd) && !seen[o.PatientID] {
			seen[o.PatientID] = true
			out = append(out, o.PatientID)
		}
	}
	return out, nil
}

func (m *memOccurrenceRepo) DeleteOlderThan(_ context.Context, cutoff time.Time) (int, error) {
	n := 0
	for id, o := range m.items {
		if o.ScheduledTime.Before(cutoff) {
			delete(m.items, id)
			n++
		}
	}
	return n, nil
}

type memCommandRepo struct {
	items map[uuid.UUID]*regimen.Command
}

func newMemCommandRepo() *memCommandRepo {
	return &memCommandRepo{items: make(map[uuid.UUID]*regimen.Command)}
}

func (m *memCommandRepo) Create(_ context.Context, c *regimen.Command) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *memCommandRepo) GetByID(_ context.Context, id uuid.UUID) (*regimen.Command, error) {
	c, ok := m.items[id]
	if !ok {
		return nil, apperr.NotFound("command not found")
	}
	cp := *c
	return &cp, nil
}

func (m *memCommandRepo) ListByPatient(_ context.Context, patientID uuid.UUID, _, _ int) ([]*regimen.Command, int, error) {
	var out []*regimen.Command
	for _, c := range m.items {
		if c.PatientID == patientID {
			out = append(out, c)
		}
	}
	return out, len(out), nil
}

func (m *memCommandRepo) ListActive(_ context.Context) ([]*regimen.Command, error) {
	var out []*regimen.Command
	for _, c := range m.items {
		if c.Status == regimen.StatusActive {
			out = append(out, c)
		}
	}
	return out, nil
}

func (m *memCommandRepo) UpdateVersioned(_ context.Context, c *regimen.Command, expectedVersion int) error {
	existing, ok := m.items[c.ID]
	if !ok {
		return apperr.NotFound("command not found")
	}
	if existing.Version != expectedVersion {
		return apperr.Conflict("command version %d is stale", expectedVersion)
	}
	c.Version = expectedVersion + 1
	cp := *c
	m.items[c.ID] = &cp
	return nil
}

func (m *memCommandRepo) ActiveChecksumExists(_ context.Context, patientID uuid.UUID, checksum string, excludeID uuid.UUID) (bool, error) {
	for _, c := range m.items {
		if c.PatientID == patientID && c.Checksum == checksum && c.Status == regimen.StatusActive && c.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *memCommandRepo) RevertTaken(_ context.Context, id uuid.UUID) error {
	c, ok := m.items[id]
	if !ok {
		return apperr.NotFound("command not found")
	}
	if c.TakenCount > 0 {
		c.TakenCount--
	}
	return nil
}

func (m *memCommandRepo) RecordTaken(_ context.Context, id uuid.UUID, takenAt time.Time) error {
	c, ok := m.items[id]
	if !ok {
		return apperr.NotFound("command not found")
	}
	t := takenAt
	c.LastTakenAt = &t
	c.TakenCount++
	return nil
}

type memAppender struct {
	events []*doselog.Event
}

func (m *memAppender) Append(_ context.Context, e *doselog.Event) error {
	e.ID = uuid.New()
	cp := *e
	m.events = append(m.events, &cp)
	return nil
}

func newTestService(t *testing.T, now time.Time) (*Service, *memOccurrenceRepo, *memCommandRepo) {
	t.Helper()
	occ := newMemOccurrenceRepo()
	cmds := newMemCommandRepo()
	svc := NewService(occ, &memAppender{}, cmds, nil, DefaultBucketBoundaries(), zerolog.Nop())
	svc.now = func() time.Time { return now }
	return svc, occ, cmds
}

func activeDaily(patientID uuid.UUID, start time.Time, times ...string) *regimen.Command {
	return &regimen.Command{
		ID:                uuid.New(),
		PatientID:         patientID,
		DrugDisplay:       "Lisinopril 10mg",
		Frequency:         regimen.FrequencyDaily,
		TimesOfDay:        times,
		StartDate:         start,
		Indefinite:        true,
		MedClass:          regimen.ClassStandard,
		WeekendMultiplier: 1.5,
		HolidayMultiplier: 2.0,
		Status:            regimen.StatusActive,
		Version:           1,
	}
}

// Monday 2026-01-05 at 06:00 UTC.
var testNow = time.Date(2026, 1, 5, 6, 0, 0, 0, time.UTC)

func TestGenerateOccurrencesIdempotent(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	patientID := uuid.New()
	cmd := activeDaily(patientID, testNow.AddDate(0, 0, -1), "08:00")
	require.NoError(t, cmds.Create(context.Background(), cmd))

	created, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 7, created)
	assert.Len(t, occ.items, 7)

	// Re-invocation is a no-op.
	created, err = svc.GenerateOccurrences(context.Background(), cmd.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Len(t, occ.items, 7)
}

func TestGenerateOccurrencesGraceDeadline(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	require.NoError(t, cmds.Create(context.Background(), cmd))

	_, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 1)
	require.NoError(t, err)
	require.Len(t, occ.items, 1)

	for _, o := range occ.items {
		assert.Equal(t, time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), o.ScheduledTime)
		assert.Equal(t, BucketMorning, o.Bucket)
		assert.Equal(t, 30, o.GraceMinutes)
		assert.Equal(t, time.Date(2026, 1, 5, 8, 30, 0, 0, time.UTC), o.GraceDeadline)
		assert.Equal(t, StatusScheduled, o.Status)
	}
}

func TestGenerateOccurrencesAppendsScheduledEvents(t *testing.T) {
	occ := newMemOccurrenceRepo()
	cmds := newMemCommandRepo()
	app := &memAppender{}
	svc := NewService(occ, app, cmds, nil, DefaultBucketBoundaries(), zerolog.Nop())
	svc.now = func() time.Time { return testNow }

	cmd := activeDaily(uuid.New(), testNow, "08:00", "20:00")
	require.NoError(t, cmds.Create(context.Background(), cmd))

	created, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 6, created)
	require.Len(t, app.events, 6)
	for _, e := range app.events {
		assert.Equal(t, doselog.KindScheduled, e.Kind)
		assert.Equal(t, "system", e.PerformedBy)
		assert.Equal(t, cmd.PatientID, e.PatientID)
	}

	// No new events on re-materialization.
	_, err = svc.GenerateOccurrences(context.Background(), cmd.ID, 3)
	require.NoError(t, err)
	assert.Len(t, app.events, 6)
}

func TestGenerateOccurrencesSkipsInactive(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	cmd.Status = regimen.StatusPaused
	require.NoError(t, cmds.Create(context.Background(), cmd))

	created, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 0, created)
	assert.Empty(t, occ.items)
}

func TestGenerateOccurrencesRespectsEndDate(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	end := testNow.AddDate(0, 0, 2)
	cmd.EndDate = &end
	cmd.Indefinite = false
	require.NoError(t, cmds.Create(context.Background(), cmd))

	created, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, 3, created)
	_ = occ
}

func TestGenerateOccurrencesWeekly(t *testing.T) {
	svc, _, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	cmd.Frequency = regimen.FrequencyWeekly
	require.NoError(t, cmds.Create(context.Background(), cmd))

	// Start date is a Monday; a 14-day horizon covers exactly two Mondays.
	created, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 14)
	require.NoError(t, err)
	assert.Equal(t, 2, created)
}

func TestCancelFutureScheduled(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	require.NoError(t, cmds.Create(context.Background(), cmd))

	_, err := svc.GenerateOccurrences(context.Background(), cmd.ID, 7)
	require.NoError(t, err)

	n, err := svc.CancelFutureScheduled(context.Background(), cmd.ID)
	require.NoError(t, err)
	// Everything after 06:00 today gets cancelled, today's 08:00 included.
	assert.Equal(t, 7, n)

	for _, o := range occ.items {
		assert.Equal(t, StatusCancelled, o.Status)
	}
}

func TestCancelFutureScheduledSweepsSnoozed(t *testing.T) {
	svc, occ, cmds := newTestService(t, testNow)
	cmd := activeDaily(uuid.New(), testNow, "08:00")
	require.NoError(t, cmds.Create(context.Background(), cmd))

	// A snoozed replacement is still a pending dose and must not survive
	// the sweep.
	snoozed := &Occurrence{
		CommandID:     cmd.ID,
		PatientID:     cmd.PatientID,
		ScheduledTime: testNow.Add(30 * time.Minute),
		Bucket:        BucketMorning,
		GraceMinutes:  30,
		GraceDeadline: testNow.Add(60 * time.Minute),
		Status:        StatusSnoozed,
	}
	inserted, err := occ.CreateIfAbsent(context.Background(), snoozed)
	require.NoError(t, err)
	require.True(t, inserted)

	n, err := svc.CancelFutureScheduled(context.Background(), cmd.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := occ.GetByID(context.Background(), snoozed.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, got.Status)
}

func TestTodayClassification(t *testing.T) {
	now := time.Date(2026, 1, 5, 9, 0, 0, 0, time.UTC)
	svc, occ, _ := newTestService(t, now)
	patientID := uuid.New()
	commandID := uuid.New()

	add := func(scheduled time.Time, graceMinutes int, status Status) uuid.UUID {
		o := &Occurrence{
			CommandID:     commandID,
			PatientID:     patientID,
			ScheduledTime: scheduled,
			Bucket:        svc.boundaries.BucketFor(scheduled.Hour()),
			GraceMinutes:  graceMinutes,
			GraceDeadline: scheduled.Add(time.Duration(graceMinutes) * time.Minute),
		}
		_, err := occ.CreateIfAbsent(context.Background(), o)
		require.NoError(t, err)
		occ.items[o.ID].Status = status
		return o.ID
	}

	overdueID := add(time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC), 30, StatusScheduled)
	nowID := add(time.Date(2026, 1, 5, 8, 45, 0, 0, time.UTC), 30, StatusScheduled)
	dueSoonID := add(time.Date(2026, 1, 5, 9, 30, 0, 0, time.UTC), 30, StatusScheduled)
	laterID := add(time.Date(2026, 1, 5, 14, 0, 0, 0, time.UTC), 30, StatusScheduled)
	takenID := add(time.Date(2026, 1, 5, 7, 0, 0, 0, time.UTC), 30, StatusTaken)

	view, err := svc.Today(context.Background(), patientID)
	require.NoError(t, err)

	attention := make(map[uuid.UUID]string)
	for _, group := range view.Buckets {
		for _, o := range group {
			attention[o.ID] = o.Attention
		}
	}
	assert.Equal(t, AttentionOverdue, attention[overdueID])
	assert.Equal(t, AttentionNow, attention[nowID])
	assert.Equal(t, AttentionDueSoon, attention[dueSoonID])
	assert.Equal(t, "", attention[laterID])
	assert.Equal(t, "", attention[takenID])

	require.Len(t, view.Overdue, 1)
	require.Len(t, view.Now, 1)
	require.Len(t, view.DueSoon, 1)

	// Check bucket grouping: 08:00, 08:45, 09:30 and 07:00 are morning.
	assert.Len(t, view.Buckets[BucketMorning], 4)
	assert.Len(t, view.Buckets[BucketNoon], 1)
	assert.Equal(t, "2026-01-05", view.Date)
}
