package regimen

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dosepilot/dosepilot/internal/platform/apperr"
)

// Materializer is the calendar side the command store drives. Schedule
// changes regenerate the rolling window; pausing or discontinuing cancels
// future scheduled occurrences without touching history.
type Materializer interface {
	GenerateOccurrences(ctx context.Context, commandID uuid.UUID, horizonDays int) (int, error)
	CancelFutureScheduled(ctx context.Context, commandID uuid.UUID) (int, error)
}

type Service struct {
	commands    CommandRepository
	cal         Materializer
	horizonDays int
	log         zerolog.Logger
}

func NewService(commands CommandRepository, cal Materializer, horizonDays int, log zerolog.Logger) *Service {
	return &Service{commands: commands, cal: cal, horizonDays: horizonDays, log: log}
}

const (
	defaultWeekendMultiplier = 1.5
	defaultHolidayMultiplier = 2.0
)

func validate(c *Command) error {
	if c.PatientID == uuid.Nil {
		return apperr.Validation("patient_id is required")
	}
	if c.DrugDisplay == "" {
		return apperr.Validation("drug_display is required")
	}
	if !c.Frequency.IsValid() {
		return apperr.Validation("unrecognized frequency %q", c.Frequency)
	}
	if !c.MedClass.IsValid() {
		return apperr.Validation("unrecognized medication class %q", c.MedClass)
	}
	if c.Frequency != FrequencyAsNeeded && len(c.TimesOfDay) == 0 {
		return apperr.Validation("times_of_day must not be empty for %s schedules", c.Frequency)
	}
	for _, t := range c.TimesOfDay {
		if _, _, ok := ParseTimeOfDay(t); !ok {
			return apperr.Validation("time of day %q is not a valid HH:MM between 00:00 and 23:59", t)
		}
	}
	if c.EndDate != nil && c.EndDate.Before(c.StartDate) {
		return apperr.Validation("end_date %s is before start_date %s",
			c.EndDate.Format("2006-01-02"), c.StartDate.Format("2006-01-02"))
	}
	if c.SnoozeMinutes < 0 {
		return apperr.Validation("snooze_minutes must not be negative")
	}
	if c.SupplyCount < 0 {
		return apperr.Validation("supply_count must not be negative")
	}
	for bucket, minutes := range c.BucketOverrides {
		if minutes < 0 {
			return apperr.Validation("bucket override for %q must not be negative", bucket)
		}
	}
	return nil
}

func applyDefaults(c *Command) {
	if c.WeekendMultiplier == 0 {
		c.WeekendMultiplier = defaultWeekendMultiplier
	}
	if c.HolidayMultiplier == 0 {
		c.HolidayMultiplier = defaultHolidayMultiplier
	}
	if c.SnoozeMinutes == 0 {
		c.SnoozeMinutes = 30
	}
}

// Create validates and stores a new command, rejecting likely duplicates by
// checksum, then materializes its rolling window.
func (s *Service) Create(ctx context.Context, c *Command) error {
	applyDefaults(c)
	if err := validate(c); err != nil {
		return err
	}

	c.Status = StatusActive
	c.Checksum = c.ComputeChecksum()

	dup, err := s.commands.ActiveChecksumExists(ctx, c.PatientID, c.Checksum, uuid.Nil)
	if err != nil {
		return err
	}
	if dup {
		return apperr.Conflict("an identical active command already exists for this patient")
	}

	if err := s.commands.Create(ctx, c); err != nil {
		return err
	}

	n, err := s.cal.GenerateOccurrences(ctx, c.ID, s.horizonDays)
	if err != nil {
		// The command exists; the daily window maintenance will catch up.
		s.log.Error().Err(err).Stringer("command_id", c.ID).Msg("initial materialization failed")
		return nil
	}
	s.log.Info().Stringer("command_id", c.ID).Int("occurrences", n).Msg("command created")
	return nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*Command, error) {
	return s.commands.GetByID(ctx, id)
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Command, int, error) {
	return s.commands.ListByPatient(ctx, patientID, limit, offset)
}

// Update applies schedule, grace, or reminder changes under an optimistic
// version check, then rebuilds the future calendar from the new schedule.
func (s *Service) Update(ctx context.Context, c *Command, expectedVersion int) error {
	existing, err := s.commands.GetByID(ctx, c.ID)
	if err != nil {
		return err
	}

	c.PatientID = existing.PatientID
	c.Status = existing.Status
	applyDefaults(c)
	if err := validate(c); err != nil {
		return err
	}
	c.Checksum = c.ComputeChecksum()

	if err := s.commands.UpdateVersioned(ctx, c, expectedVersion); err != nil {
		return err
	}

	if c.Status == StatusActive {
		if _, err := s.cal.CancelFutureScheduled(ctx, c.ID); err != nil {
			return err
		}
		if _, err := s.cal.GenerateOccurrences(ctx, c.ID, s.horizonDays); err != nil {
			return err
		}
	}
	return nil
}

// Pause stops future materialization and cancels already-materialized future
// scheduled occurrences. History is untouched.
func (s *Service) Pause(ctx context.Context, id uuid.UUID, expectedVersion int) (*Command, error) {
	return s.transition(ctx, id, expectedVersion, StatusActive, StatusPaused, true)
}

// Resume reactivates a paused command and refills its rolling window.
func (s *Service) Resume(ctx context.Context, id uuid.UUID, expectedVersion int) (*Command, error) {
	c, err := s.transition(ctx, id, expectedVersion, StatusPaused, StatusActive, false)
	if err != nil {
		return nil, err
	}
	if _, err := s.cal.GenerateOccurrences(ctx, id, s.horizonDays); err != nil {
		return nil, err
	}
	return c, nil
}

// Discontinue permanently retires a command. The record is kept so events
// and occurrences remain resolvable.
func (s *Service) Discontinue(ctx context.Context, id uuid.UUID, expectedVersion int) (*Command, error) {
	c, err := s.commands.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == StatusDiscontinued {
		return nil, apperr.Conflict("command is already discontinued")
	}
	c.Status = StatusDiscontinued
	if err := s.commands.UpdateVersioned(ctx, c, expectedVersion); err != nil {
		return nil, err
	}
	if _, err := s.cal.CancelFutureScheduled(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, expectedVersion int, from, to Status, cancelFuture bool) (*Command, error) {
	c, err := s.commands.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != from {
		return nil, apperr.Conflict("command is %s, expected %s", c.Status, from)
	}
	c.Status = to
	if err := s.commands.UpdateVersioned(ctx, c, expectedVersion); err != nil {
		return nil, err
	}
	if cancelFuture {
		if _, err := s.cal.CancelFutureScheduled(ctx, id); err != nil {
			return nil, err
		}
	}
	return c, nil
}
