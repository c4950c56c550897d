package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
)

// Action is the class of operation being authorized against a patient record.
type Action string

const (
	ActionRead  Action = "read"
	ActionWrite Action = "write"
)

// Grant levels carried in patient_grants claims. A viewer sees the calendar
// and adherence reports; a manager can also log doses and edit commands.
const (
	GrantView   = "view"
	GrantManage = "manage"
)

// FamilyAccessChecker resolves grants that are not embedded in the token,
// for deployments where the family graph lives in a separate service.
type FamilyAccessChecker interface {
	Allowed(ctx context.Context, p *Principal, patientID uuid.UUID, action Action) (bool, error)
}

const checkerKey = "auth_access_checker"

// WithChecker installs a FamilyAccessChecker consulted by Authorize when the
// token's own grants do not decide the request.
func WithChecker(checker FamilyAccessChecker) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			c.Set(checkerKey, checker)
			return next(c)
		}
	}
}

func grantAllows(level string, action Action) bool {
	switch level {
	case GrantManage:
		return true
	case GrantView:
		return action == ActionRead
	default:
		return false
	}
}

// Authorize decides whether the caller may perform action on the patient's
// records. Order: admin role, self access, token grants, then the installed
// checker. With no principal on the context (dev bypass, tests) the request
// is allowed.
func Authorize(c echo.Context, patientID uuid.UUID, action Action) error {
	ctx := c.Request().Context()
	p := PrincipalFromContext(ctx)
	if p == nil {
		return nil
	}
	if p.HasRole("admin") {
		return nil
	}
	if p.Subject == patientID.String() {
		return nil
	}
	if level, ok := p.PatientGrants[patientID.String()]; ok && grantAllows(level, action) {
		return nil
	}
	if checker, ok := c.Get(checkerKey).(FamilyAccessChecker); ok && checker != nil {
		allowed, err := checker.Allowed(ctx, p, patientID, action)
		if err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "access check failed")
		}
		if allowed {
			return nil
		}
	}
	return echo.NewHTTPError(http.StatusForbidden, "not permitted for this patient")
}

// StaticChecker is a FamilyAccessChecker backed by a fixed grant table,
// used in tests and single-tenant deployments.
type StaticChecker struct {
	// Grants maps subject -> patient ID -> level.
	Grants map[string]map[string]string
}

// ParseStaticChecker builds a StaticChecker from subject:patient_id:level
// entries, the form the FAMILY_GRANTS setting uses.
func ParseStaticChecker(entries []string) (*StaticChecker, error) {
	grants := make(map[string]map[string]string)
	for _, entry := range entries {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("malformed grant %q, want subject:patient_id:level", entry)
		}
		subject, patient, level := parts[0], parts[1], parts[2]
		if _, err := uuid.Parse(patient); err != nil {
			return nil, fmt.Errorf("grant %q: bad patient id: %w", entry, err)
		}
		if level != GrantView && level != GrantManage {
			return nil, fmt.Errorf("grant %q: unknown level %q", entry, level)
		}
		if grants[subject] == nil {
			grants[subject] = make(map[string]string)
		}
		grants[subject][patient] = level
	}
	return &StaticChecker{Grants: grants}, nil
}

func (s *StaticChecker) Allowed(_ context.Context, p *Principal, patientID uuid.UUID, action Action) (bool, error) {
	byPatient, ok := s.Grants[p.Subject]
	if !ok {
		return false, nil
	}
	level, ok := byPatient[patientID.String()]
	return ok && grantAllows(level, action), nil
}
