package reconcile

import "context"

// Option configures a Reconciler instance.
type Option func(*Reconciler)

// EventKind classifies reconciliation events.
type EventKind string

const (
	// EventFallback marks a foreign key replaced by its configured default.
	EventFallback EventKind = "fallback"
	// EventTimestampFallback marks an unparsable timestamp replaced by the clock.
	EventTimestampFallback EventKind = "timestamp_fallback"
	EventFailure           EventKind = "failure"
	EventOrphan            EventKind = "orphan"
	EventCorrection        EventKind = "correction"
	EventSkipped           EventKind = "skipped"
	EventBatch             EventKind = "batch"
)

// EventLogger receives events emitted while reconciling.
type EventLogger interface {
	LogEvent(ctx context.Context, event Event)
}

// Event describes one thing that happened to one record, group or batch.
type Event struct {
	Kind      EventKind
	Operation string
	Role      Role
	Entity    EntityType
	// LegacyID is the record the event concerns.
	LegacyID LegacyID
	// ReferenceID is the unresolved legacy party or user id for fallbacks.
	ReferenceID LegacyID
	NewID       NewID
	Field       string
	IDs         []LegacyID
	Processed   int
	Total       int
	Error       error
}

type noopEventLogger struct{}

func (noopEventLogger) LogEvent(context.Context, Event) {}

// WithEventLogger wires a logger that receives every reconciliation event.
func WithEventLogger(logger EventLogger) Option {
	return func(reconciler *Reconciler) {
		if logger != nil {
			reconciler.logger = logger
		}
	}
}
