// Package provenance records lineage events for documents leaving the stage.
package provenance

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"json-validator-service/internal/observability/logging"
)

// EventType names a lineage event.
type EventType string

// EventRoute records which successor path a document was sent to.
const EventRoute EventType = "ROUTE"

// Event is a single lineage record.
type Event struct {
	Type         EventType
	DocumentID   string
	Relationship string
	Details      string
	Component    string
	Timestamp    time.Time
}

// Reporter receives lineage events. Implementations must not block routing
// on delivery failures.
type Reporter interface {
	Report(ctx context.Context, ev Event)
}

// LogReporter writes events to the structured log.
type LogReporter struct {
	logger zerolog.Logger
}

// NewLogReporter creates a reporter that logs at debug level.
func NewLogReporter() *LogReporter {
	return &LogReporter{logger: logging.WithComponent("provenance")}
}

// Report logs the event.
func (r *LogReporter) Report(_ context.Context, ev Event) {
	r.logger.Debug().
		Str("eventType", string(ev.Type)).
		Str("documentId", ev.DocumentID).
		Str("relationship", ev.Relationship).
		Str("details", ev.Details).
		Str("sourceComponent", ev.Component).
		Time("eventTime", ev.Timestamp).
		Msg("Provenance event")
}

// Recorder keeps events in memory.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Report appends the event.
func (r *Recorder) Report(_ context.Context, ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Multi fans events out to several reporters in order.
type Multi []Reporter

// Report forwards ev to every reporter.
func (m Multi) Report(ctx context.Context, ev Event) {
	for _, r := range m {
		if r != nil {
			r.Report(ctx, ev)
		}
	}
}

// Discard drops every event.
type Discard struct{}

// Report does nothing.
func (Discard) Report(context.Context, Event) {}
