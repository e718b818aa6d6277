package telemetry

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/edgeforge/edgeforge/pkg/engine"
)

// EventSink consumes node status transitions from the executor and turns
// them into structured logs and metrics. Register it on the executor with
// engine.WithEventSink(sink.Handle).
type EventSink struct {
	logger  zerolog.Logger
	metrics *Metrics

	mu       sync.Mutex
	started  map[string]time.Time // first transition per resource
	awaiting map[string]time.Time // entered awaiting_ready
}

// NewEventSink builds a sink writing to the given logger and metrics.
func NewEventSink(logger zerolog.Logger, metrics *Metrics) *EventSink {
	return &EventSink{
		logger:   logger,
		metrics:  metrics,
		started:  make(map[string]time.Time),
		awaiting: make(map[string]time.Time),
	}
}

// Handle processes one node event. It is called from the executor's
// scheduling goroutine and must stay cheap.
func (s *EventSink) Handle(ev engine.NodeEvent) {
	s.log(ev)
	if s.metrics == nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Status {
	case engine.NodeStatusRunning:
		if _, ok := s.started[ev.ResourceID]; !ok {
			s.started[ev.ResourceID] = ev.Time
		}
		s.metrics.RecordProviderCall(string(ev.Kind), providerOp(ev.Action))
	case engine.NodeStatusAwaitingReady:
		s.awaiting[ev.ResourceID] = ev.Time
	case engine.NodeStatusReady:
		if began, ok := s.awaiting[ev.ResourceID]; ok {
			s.metrics.RecordReadinessWait(string(ev.Kind), ev.Time.Sub(began))
			delete(s.awaiting, ev.ResourceID)
		}
	case engine.NodeStatusDone, engine.NodeStatusFailed, engine.NodeStatusSkipped:
		var dur time.Duration
		if began, ok := s.started[ev.ResourceID]; ok {
			dur = ev.Time.Sub(began)
			delete(s.started, ev.ResourceID)
		}
		delete(s.awaiting, ev.ResourceID)
		s.metrics.RecordNodeExecution(string(ev.Kind), string(ev.Action), string(ev.Status), dur)
		if ev.Status == engine.NodeStatusFailed {
			s.metrics.RecordProviderError(string(ev.Kind), providerOp(ev.Action))
		}
	}
}

// providerOp maps a plan action to the provider call it dispatches.
func providerOp(action engine.ChangeAction) string {
	if action == engine.ActionDelete {
		return "delete"
	}
	return "apply"
}

func (s *EventSink) log(ev engine.NodeEvent) {
	entry := s.logger.With().
		Str("run_id", ev.RunID).
		Str("resource_id", ev.ResourceID).
		Str("kind", string(ev.Kind)).
		Str("action", string(ev.Action)).
		Str("status", string(ev.Status)).
		Logger()

	switch ev.Status {
	case engine.NodeStatusFailed:
		entry.Error().Msg(eventMessage(ev, "node failed"))
	case engine.NodeStatusSkipped:
		entry.Warn().Msg(eventMessage(ev, "node skipped"))
	case engine.NodeStatusDone:
		entry.Info().Msg(eventMessage(ev, "node done"))
	default:
		entry.Debug().Msg(eventMessage(ev, "node transition"))
	}
}

func eventMessage(ev engine.NodeEvent, fallback string) string {
	if ev.Message != "" {
		return ev.Message
	}
	return fallback
}
