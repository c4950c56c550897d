package action

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dosepilot/dosepilot/internal/domain/calendar"
	"github.com/dosepilot/dosepilot/internal/platform/notification"
)

func newDetectorFixture(t *testing.T) (*fixture, *Detector, *notification.Collector) {
	t.Helper()
	f := newFixture(t)
	collector := notification.NewCollector()
	d := NewDetector(f.occ, f.coord, f.cmds, collector, 50, 2*time.Minute, zerolog.Nop())
	d.now = f.coord.now
	return f, d, collector
}

func TestSweepMarksOverdueMissed(t *testing.T) {
	f, d, collector := newDetectorFixture(t)
	d.now = func() time.Time { return f.now }

	overdue1 := f.addOccurrence(t, f.now.Add(-2*time.Hour), 30)
	overdue2 := f.addOccurrence(t, f.now.Add(-3*time.Hour), 30)
	future := f.addOccurrence(t, f.now.Add(2*time.Hour), 30)

	processed, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, processed)

	for _, id := range []struct {
		id   uuid.UUID
		want calendar.Status
	}{
		{overdue1.ID, calendar.StatusMissed},
		{overdue2.ID, calendar.StatusMissed},
		{future.ID, calendar.StatusScheduled},
	} {
		o, err := f.occ.GetByID(context.Background(), id.id)
		require.NoError(t, err)
		assert.Equal(t, id.want, o.Status)
	}

	intents := collector.Intents()
	require.Len(t, intents, 2)
	for _, intent := range intents {
		assert.Equal(t, notification.IntentMissedDose, intent.Kind)
		assert.Equal(t, f.cmd.PatientID, intent.PatientID)
		assert.Equal(t, "Metformin 500mg", intent.Data["drug_display"])
	}
}

func TestSweepLeavesTerminalAlone(t *testing.T) {
	f, d, collector := newDetectorFixture(t)
	d.now = func() time.Time { return f.now }

	o := f.addOccurrence(t, f.now.Add(-2*time.Hour), 30)
	_, err := f.coord.Take(context.Background(), o.ID, TakeRequest{}, "patient")
	require.NoError(t, err)

	processed, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
	assert.Empty(t, collector.Intents())

	current, err := f.occ.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, calendar.StatusTaken, current.Status)
}

func TestSweepHonorsBudget(t *testing.T) {
	f, _, _ := newDetectorFixture(t)
	collector := notification.NewCollector()
	// A spent budget stops the sweep before the first batch.
	d := NewDetector(f.occ, f.coord, f.cmds, collector, 50, -time.Nanosecond, zerolog.Nop())
	d.now = func() time.Time { return f.now }

	f.addOccurrence(t, f.now.Add(-2*time.Hour), 30)

	processed, err := d.Sweep(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, processed)
}

func TestSweepStopsOnCancelledContext(t *testing.T) {
	f, d, _ := newDetectorFixture(t)
	d.now = func() time.Time { return f.now }

	f.addOccurrence(t, f.now.Add(-2*time.Hour), 30)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	processed, err := d.Sweep(ctx)
	assert.Error(t, err)
	assert.Equal(t, 0, processed)
}
