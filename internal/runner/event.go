package runner

import (
	"context"
	"time"

	"browsertour/internal/command"
)

// EventType names a step of a run.
type EventType string

const (
	EventRunStarted   EventType = "run_started"
	EventTaskStarted  EventType = "task_started"
	EventNavigated    EventType = "navigated"
	EventCommand      EventType = "command"
	EventFetched      EventType = "fetched"
	EventTaskFinished EventType = "task_finished"
	EventTaskConsumed EventType = "task_consumed"
	EventRunError     EventType = "run_error"
	EventRunFinished  EventType = "run_finished"
)

// Event is emitted by the scheduler for journaling, tracing and metrics.
type Event struct {
	RunID    string           `json:"run_id"`
	Seq      int              `json:"seq"`
	Type     EventType        `json:"type"`
	Key      string           `json:"key,omitempty"`
	Root     bool             `json:"root,omitempty"`
	Command  string           `json:"command,omitempty"`
	Strategy command.Strategy `json:"strategy,omitempty"`
	URL      string           `json:"url,omitempty"`
	Fields   []string         `json:"fields,omitempty"`
	Err      string           `json:"error,omitempty"`
	Duration time.Duration    `json:"duration,omitempty"`
	Time     time.Time        `json:"time"`
}

// Observer receives run events. Observe is called synchronously on the run's
// goroutine and must not block for long.
type Observer interface {
	Observe(ctx context.Context, ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ctx context.Context, ev Event)

func (f ObserverFunc) Observe(ctx context.Context, ev Event) { f(ctx, ev) }

type observers []Observer

func (o observers) Observe(ctx context.Context, ev Event) {
	for _, obs := range o {
		if obs != nil {
			obs.Observe(ctx, ev)
		}
	}
}
