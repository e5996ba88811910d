package mangle

import (
	"context"

	"browsertour/internal/runner"

	"go.uber.org/zap"
)

// Journal records run events as facts so the schema's rules can answer
// questions about a run (which tasks failed, which commands were skipped).
type Journal struct {
	engine *Engine
	logger *zap.Logger
}

var _ runner.Observer = (*Journal)(nil)

// NewJournal returns an observer that writes into engine.
func NewJournal(engine *Engine, logger *zap.Logger) *Journal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Journal{engine: engine, logger: logger.With(zap.String("component", "journal"))}
}

// Engine returns the engine facts are written to.
func (j *Journal) Engine() *Engine { return j.engine }

// Observe implements runner.Observer. Storage errors are logged, never
// returned to the run.
func (j *Journal) Observe(ctx context.Context, ev runner.Event) {
	facts := EventFacts(ev)
	if len(facts) == 0 {
		return
	}
	if err := j.engine.AddFacts(context.WithoutCancel(ctx), facts); err != nil {
		j.logger.Warn("journal write failed", zap.String("event", string(ev.Type)), zap.Error(err))
	}
}

// EventFacts maps a run event to journal facts.
func EventFacts(ev runner.Event) []Fact {
	ts := ev.Time.UnixMilli()
	fact := func(predicate string, args ...interface{}) Fact {
		return Fact{Predicate: predicate, Args: append([]interface{}{ev.RunID}, args...), Timestamp: ev.Time}
	}

	switch ev.Type {
	case runner.EventRunStarted:
		return []Fact{fact("run_started", ts)}
	case runner.EventRunFinished:
		return []Fact{fact("run_finished", ts)}
	case runner.EventTaskConsumed:
		kind := "reactive"
		if ev.Root {
			kind = "root"
		}
		return []Fact{fact("task_consumed", ev.Key, kind)}
	case runner.EventTaskStarted:
		return []Fact{fact("task_started", ev.Key, ts)}
	case runner.EventTaskFinished:
		return []Fact{fact("task_finished", ev.Key, ev.URL, ts)}
	case runner.EventNavigated:
		return []Fact{fact("navigated", ev.URL, ts)}
	case runner.EventCommand:
		return []Fact{fact("command_dispatched", ev.Key, ev.Command, string(ev.Strategy))}
	case runner.EventFetched:
		out := make([]Fact, 0, len(ev.Fields))
		for _, field := range ev.Fields {
			out = append(out, fact("fetched", ev.Key, field))
		}
		return out
	case runner.EventRunError:
		out := []Fact{fact("run_error", ev.Err)}
		if ev.Key != "" {
			out = append(out, fact("command_failed", ev.Key, ev.Command, ev.Err))
		}
		return out
	}
	return nil
}
