package audit

import (
	"sync"
	"time"

	"github.com/luminate-bi/authcore/pkg/observability"
)

// LogRecorder writes audit events to the structured logger.
type LogRecorder struct {
	logger *observability.Logger
}

// NewLogRecorder creates a Recorder backed by the given logger.
func NewLogRecorder(logger *observability.Logger) *LogRecorder {
	return &LogRecorder{logger: logger}
}

// Record writes the event at info level (warn for failures/denials).
func (r *LogRecorder) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	logger := r.logger.WithFields(map[string]interface{}{
		"audit":      true,
		"event_type": string(event.EventType),
		"status":     string(event.Status),
	})
	if event.UserID != "" {
		logger = logger.WithField("user_id", event.UserID)
	}
	if event.OrganizationID != "" {
		logger = logger.WithField("organization_id", event.OrganizationID)
	}
	if event.TargetOrgID != "" {
		logger = logger.WithField("target_org_id", event.TargetOrgID)
	}
	if event.Role != "" {
		logger = logger.WithField("role", event.Role)
	}
	if event.RequestID != "" {
		logger = logger.WithField("request_id", event.RequestID)
	}
	if event.Reason != "" {
		logger = logger.WithField("reason", event.Reason)
	}
	if event.Path != "" {
		logger = logger.WithField("path", event.Path)
	}

	if event.Status == EventStatusSuccess {
		logger.Info(event.Message)
	} else {
		logger.Warn(event.Message)
	}
}

// MemoryRecorder keeps events in memory. Test helper.
type MemoryRecorder struct {
	mu     sync.Mutex
	events []Event
}

// NewMemoryRecorder creates an empty in-memory recorder.
func NewMemoryRecorder() *MemoryRecorder {
	return &MemoryRecorder{}
}

// Record appends the event.
func (r *MemoryRecorder) Record(event Event) {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

// Events returns a copy of recorded events.
func (r *MemoryRecorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// MultiRecorder fans events out to several recorders.
type MultiRecorder struct {
	recorders []Recorder
}

// NewMultiRecorder creates a fan-out recorder.
func NewMultiRecorder(recorders ...Recorder) *MultiRecorder {
	return &MultiRecorder{recorders: recorders}
}

// Record forwards to every recorder.
func (r *MultiRecorder) Record(event Event) {
	for _, rec := range r.recorders {
		rec.Record(event)
	}
}
