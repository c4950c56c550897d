package calendar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dosepilot/dosepilot/internal/domain/regimen"
)

type fakeHolidays map[string]bool

func (f fakeHolidays) IsHoliday(date time.Time) bool {
	return f[date.Format("2006-01-02")]
}

func cmd(class regimen.MedClass) *regimen.Command {
	return &regimen.Command{
		MedClass:          class,
		WeekendMultiplier: 1.5,
		HolidayMultiplier: 2.0,
	}
}

// 2026-01-05 is a Monday, 2026-01-10 a Saturday.
var (
	monday   = time.Date(2026, 1, 5, 8, 0, 0, 0, time.UTC)
	saturday = time.Date(2026, 1, 10, 8, 0, 0, 0, time.UTC)
)

func TestCalculateGracePeriodBaselines(t *testing.T) {
	tests := []struct {
		name   string
		class  regimen.MedClass
		bucket Bucket
		want   int
	}{
		{"critical morning", regimen.ClassCritical, BucketMorning, 15},
		{"critical noon", regimen.ClassCritical, BucketNoon, 30},
		{"critical evening", regimen.ClassCritical, BucketEvening, 30},
		{"standard morning", regimen.ClassStandard, BucketMorning, 30},
		{"standard noon", regimen.ClassStandard, BucketNoon, 30},
		{"standard evening", regimen.ClassStandard, BucketEvening, 60},
		{"standard bedtime", regimen.ClassStandard, BucketBedtime, 60},
		{"vitamin morning", regimen.ClassVitamin, BucketMorning, 120},
		{"vitamin bedtime", regimen.ClassVitamin, BucketBedtime, 240},
		{"as-needed", regimen.ClassAsNeeded, BucketMorning, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, trace := CalculateGracePeriod(cmd(tt.class), monday, tt.bucket, nil)
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.want, trace.FinalMinutes)
			assert.Equal(t, 1.0, trace.Multiplier)
			assert.False(t, trace.OverrideApplied)
		})
	}
}

func TestCalculateGracePeriodOverrideWins(t *testing.T) {
	c := cmd(regimen.ClassCritical)
	c.BucketOverrides = map[string]int{"morning": 45}

	got, trace := CalculateGracePeriod(c, monday, BucketMorning, nil)
	assert.Equal(t, 45, got)
	assert.True(t, trace.OverrideApplied)

	// Other buckets keep the baseline.
	got, _ = CalculateGracePeriod(c, monday, BucketNoon, nil)
	assert.Equal(t, 30, got)
}

func TestCalculateGracePeriodWeekend(t *testing.T) {
	// 15 * 1.5 = 22.5, rounded to 23.
	got, trace := CalculateGracePeriod(cmd(regimen.ClassCritical), saturday, BucketMorning, nil)
	assert.Equal(t, 23, got)
	assert.Equal(t, "weekend", trace.MultiplierRule)
	assert.Equal(t, 1.5, trace.Multiplier)
}

func TestCalculateGracePeriodHolidayBeatsWeekend(t *testing.T) {
	holidays := fakeHolidays{"2026-01-10": true}

	// Holiday multiplier replaces the weekend one, never stacks: 15 * 2 = 30.
	got, trace := CalculateGracePeriod(cmd(regimen.ClassCritical), saturday, BucketMorning, holidays)
	assert.Equal(t, 30, got)
	assert.Equal(t, "holiday", trace.MultiplierRule)
	assert.Equal(t, 2.0, trace.Multiplier)
}

func TestCalculateGracePeriodHolidayAppliesToOverride(t *testing.T) {
	c := cmd(regimen.ClassStandard)
	c.BucketOverrides = map[string]int{"morning": 25}
	holidays := fakeHolidays{"2026-01-05": true}

	got, trace := CalculateGracePeriod(c, monday, BucketMorning, holidays)
	assert.Equal(t, 50, got)
	assert.True(t, trace.OverrideApplied)
	assert.Equal(t, "holiday", trace.MultiplierRule)
}

func TestBucketBoundaries(t *testing.T) {
	b := DefaultBucketBoundaries()
	assert.Equal(t, BucketMorning, b.BucketFor(0))
	assert.Equal(t, BucketMorning, b.BucketFor(8))
	assert.Equal(t, BucketMorning, b.BucketFor(10))
	assert.Equal(t, BucketNoon, b.BucketFor(11))
	assert.Equal(t, BucketNoon, b.BucketFor(15))
	assert.Equal(t, BucketEvening, b.BucketFor(16))
	assert.Equal(t, BucketEvening, b.BucketFor(20))
	assert.Equal(t, BucketBedtime, b.BucketFor(21))
	assert.Equal(t, BucketBedtime, b.BucketFor(23))
}
