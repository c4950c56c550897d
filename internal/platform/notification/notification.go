// Package notification emits delivery intents to the downstream notification
// service, which owns channels, retries, and delivery guarantees. The
// scheduler only states what should be communicated, never how.
package notification

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// IntentKind is the closed set of things the scheduler asks to communicate.
type IntentKind string

const (
	IntentMissedDose IntentKind = "missed-dose"
	IntentRefillDue  IntentKind = "refill-due"
)

// Intent is a single notification request.
type Intent struct {
	ID        uuid.UUID         `json:"id"`
	Kind      IntentKind        `json:"kind"`
	PatientID uuid.UUID         `json:"patient_id"`
	// Data carries template fields like drug_display and scheduled_time.
	Data      map[string]string `json:"data,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// Message renders a human-readable body for the intent. The downstream
// service may re-render per channel; this is the fallback text.
func (i Intent) Message() string {
	tmpl, ok := templates[i.Kind]
	if !ok {
		return string(i.Kind)
	}
	body := tmpl
	for k, v := range i.Data {
		body = strings.ReplaceAll(body, "{{"+k+"}}", v)
	}
	return body
}

var templates = map[IntentKind]string{
	IntentMissedDose: "The {{scheduled_time}} dose of {{drug_display}} was missed.",
	IntentRefillDue:  "{{drug_display}} is running low and may need a refill.",
}

// Service accepts notification intents.
type Service interface {
	Emit(ctx context.Context, intent Intent) error
}

// LogService writes intents to the log. The default in deployments without
// a notification backend configured.
type LogService struct {
	log zerolog.Logger
}

func NewLogService(log zerolog.Logger) *LogService {
	return &LogService{log: log}
}

func (s *LogService) Emit(_ context.Context, intent Intent) error {
	s.log.Info().
		Str("kind", string(intent.Kind)).
		Stringer("patient_id", intent.PatientID).
		Str("message", intent.Message()).
		Msg("notification intent")
	return nil
}

// Collector buffers intents in memory for tests.
type Collector struct {
	mu      sync.Mutex
	intents []Intent
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(_ context.Context, intent Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if intent.ID == uuid.Nil {
		intent.ID = uuid.New()
	}
	if intent.CreatedAt.IsZero() {
		intent.CreatedAt = time.Now()
	}
	c.intents = append(c.intents, intent)
	return nil
}

func (c *Collector) Intents() []Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Intent, len(c.intents))
	copy(out, c.intents)
	return out
}
