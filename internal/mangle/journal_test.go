package mangle

import (
	"context"
	"testing"
	"time"

	"browsertour/internal/command"
	"browsertour/internal/runner"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func replay(t *testing.T, j *Journal, events ...runner.Event) {
	t.Helper()
	start := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	for i, ev := range events {
		ev.RunID = "r1"
		ev.Seq = i + 1
		ev.Time = start.Add(time.Duration(i) * time.Millisecond)
		j.Observe(context.Background(), ev)
	}
}

func keys(results []QueryResult, name string) []interface{} {
	out := make([]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, r[name])
	}
	return out
}

func TestJournalDerivesRunFacts(t *testing.T) {
	e := newTestEngine(t, 0)
	j := NewJournal(e, zap.NewNop())
	ctx := context.Background()

	replay(t, j,
		runner.Event{Type: runner.EventRunStarted},
		runner.Event{Type: runner.EventTaskConsumed, Key: "https://shop.test/", Root: true},
		runner.Event{Type: runner.EventTaskStarted, Key: "https://shop.test/", Root: true},
		runner.Event{Type: runner.EventNavigated, Key: "https://shop.test/", URL: "https://shop.test/"},
		runner.Event{Type: runner.EventCommand, Key: "https://shop.test/", Command: "click", Strategy: command.StrategySelector},
		runner.Event{Type: runner.EventTaskFinished, Key: "https://shop.test/", Root: true, URL: "https://shop.test/item/1"},
		runner.Event{Type: runner.EventTaskConsumed, Key: "https://shop.test/item", URL: "https://shop.test/item/1"},
		runner.Event{Type: runner.EventTaskStarted, Key: "https://shop.test/item"},
		runner.Event{Type: runner.EventCommand, Key: "https://shop.test/item", Command: "wiggle", Strategy: command.StrategyUnknown},
		runner.Event{Type: runner.EventCommand, Key: "https://shop.test/item", Command: "fetchItem", Strategy: command.StrategyFetch},
		runner.Event{Type: runner.EventFetched, Key: "https://shop.test/item", Command: "fetchItem", Fields: []string{"price", "title"}},
		runner.Event{Type: runner.EventCommand, Key: "https://shop.test/item", Command: "click", Strategy: command.StrategySelector},
		runner.Event{Type: runner.EventRunError, Key: "https://shop.test/item", Command: "click", Err: "find \"#buy\": timeout"},
		runner.Event{Type: runner.EventRunFinished},
	)

	reactive, err := e.Query(ctx, `reactive_task("r1", K).`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"https://shop.test/item"}, keys(reactive, "K"))

	roots, err := e.Query(ctx, `root_task("r1", K).`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"https://shop.test/"}, keys(roots, "K"))

	skipped, err := e.Query(ctx, `skipped_command(R, K, C).`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"wiggle"}, keys(skipped, "C"))

	failed, err := e.Query(ctx, `failed_task(R, K).`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"https://shop.test/item"}, keys(failed, "K"))

	unfinished, err := e.Query(ctx, `unfinished_task(R, K).`)
	require.NoError(t, err)
	assert.Equal(t, []interface{}{"https://shop.test/item"}, keys(unfinished, "K"))

	fields, err := e.Query(ctx, `fetched_field("r1", F).`)
	require.NoError(t, err)
	assert.ElementsMatch(t, []interface{}{"price", "title"}, keys(fields, "F"))

	fetched, err := e.Evaluate(ctx, "fetched")
	require.NoError(t, err)
	assert.Len(t, fetched, 2)

	assert.Len(t, e.FactsByPredicate("run_error"), 1)
	assert.Len(t, e.FactsByPredicate("run_finished"), 1)
}

func TestEventFacts(t *testing.T) {
	at := time.UnixMilli(1700000000000)

	facts := EventFacts(runner.Event{RunID: "r9", Type: runner.EventRunError, Err: "boom", Time: at})
	require.Len(t, facts, 1)
	assert.Equal(t, []interface{}{"r9", "boom"}, facts[0].Args)

	facts = EventFacts(runner.Event{RunID: "r9", Type: runner.EventTaskStarted, Key: "https://a/", Time: at})
	require.Len(t, facts, 1)
	assert.Equal(t, []interface{}{"r9", "https://a/", int64(1700000000000)}, facts[0].Args)
	assert.Equal(t, at, facts[0].Timestamp)

	assert.Empty(t, EventFacts(runner.Event{Type: runner.EventFetched}))
	assert.Empty(t, EventFacts(runner.Event{Type: "other"}))
}
