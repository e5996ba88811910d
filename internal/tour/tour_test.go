package tour

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func rootTask(cmds ...Command) Task  { return Task{Root: true, Commands: cmds} }
func reactTask(cmds ...Command) Task { return Task{Commands: cmds} }

func keysOf(batches []Batch) []string {
	out := make([]string, len(batches))
	for i, b := range batches {
		out[i] = b.Key
	}
	return out
}

func TestNewRejectsDuplicateKeys(t *testing.T) {
	_, err := New(
		Entry{Key: "a.com", Task: rootTask()},
		Entry{Key: "a.com", Task: reactTask()},
	)
	require.Error(t, err)
	assert.True(t, IsConfigurationError(err))
}

func TestHasRoot(t *testing.T) {
	withRoot := MustNew(Entry{Key: "a.com", Task: rootTask()}, Entry{Key: "b.com", Task: reactTask()})
	assert.True(t, withRoot.HasRoot())

	withoutRoot := MustNew(Entry{Key: "b.com", Task: reactTask()})
	assert.False(t, withoutRoot.HasRoot())
}

func TestExtractRootsReversedOrder(t *testing.T) {
	tr := MustNew(
		Entry{Key: "a.com", Task: rootTask()},
		Entry{Key: "shop", Task: reactTask()},
		Entry{Key: "b.com", Task: rootTask()},
	)

	batches, err := tr.ExtractRoots()
	require.NoError(t, err)
	assert.Equal(t, []string{"b.com", "a.com"}, keysOf(batches))
	assert.Equal(t, []string{"shop"}, tr.Pending())
	assert.Equal(t, []string{"a.com", "b.com"}, tr.Consumed())
}

func TestExtractRootsTwiceReturnsEmpty(t *testing.T) {
	tr := MustNew(Entry{Key: "a.com", Task: rootTask()})

	first, err := tr.ExtractRoots()
	require.NoError(t, err)
	require.Len(t, first, 1)

	second, err := tr.ExtractRoots()
	require.NoError(t, err)
	assert.Empty(t, second)
}

func TestExtractRootsWithoutRoot(t *testing.T) {
	tr := MustNew(Entry{Key: "b.com", Task: reactTask()})

	_, err := tr.ExtractRoots()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNoRootTask))
	assert.True(t, IsConfigurationError(err))
	assert.Equal(t, []string{"b.com"}, tr.Pending(), "failed extraction must not consume anything")
}

func TestMatchReactive(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		url   string
		match bool
	}{
		{"case-insensitive prefix", "shop", "SHOP.example.com/cart", true},
		{"not anchored at start", "shop", "example.com/shop", false},
		{"exact", "https://x.io/next", "https://x.io/next", true},
		{"key longer than url", "https://x.io/next/page", "https://x.io/next", false},
		{"upper-case key", "HTTPS://X.IO", "https://x.io/a", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := MustNew(Entry{Key: "root.com", Task: rootTask()}, Entry{Key: tt.key, Task: reactTask()})
			got := tr.MatchReactive(tt.url)
			if tt.match {
				assert.Equal(t, []string{tt.key}, keysOf(got))
				state, ok := tr.State(tt.key)
				require.True(t, ok)
				assert.Equal(t, StateConsumed, state)
			} else {
				assert.Empty(t, got)
				state, _ := tr.State(tt.key)
				assert.Equal(t, StatePending, state)
			}
		})
	}
}

func TestMatchReactiveIgnoresRootsAndConsumed(t *testing.T) {
	tr := MustNew(
		Entry{Key: "x.com", Task: rootTask()},
		Entry{Key: "x.com/a", Task: reactTask()},
		Entry{Key: "x.com/ab", Task: reactTask()},
	)

	got := tr.MatchReactive("x.com/abc")
	assert.Equal(t, []string{"x.com/ab", "x.com/a"}, keysOf(got))
	assert.Empty(t, tr.MatchReactive("x.com/abc"), "matched tasks are consumed")

	state, _ := tr.State("x.com")
	assert.Equal(t, StatePending, state, "root tasks never match reactively")
}

func TestEntriesKeepConsumedData(t *testing.T) {
	cmd := Command{Name: "click", Args: "#go"}
	tr := MustNew(Entry{Key: "a.com", Task: rootTask(cmd)})
	_, err := tr.ExtractRoots()
	require.NoError(t, err)

	entries := tr.Entries()
	require.Len(t, entries, 1)
	assert.Equal(t, StateConsumed, entries[0].State)
	assert.Equal(t, []Command{cmd}, entries[0].Task.Commands)
	assert.Equal(t, 0, tr.Len())
}

func TestTaskStateString(t *testing.T) {
	assert.Equal(t, "pending", StatePending.String())
	assert.Equal(t, "consumed", StateConsumed.String())
	assert.Equal(t, "TaskState(7)", TaskState(7).String())
}

func TestPropertyRootExtraction(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 12).Draw(rt, "n")
		entries := make([]Entry, n)
		var roots []string
		for i := 0; i < n; i++ {
			isRoot := rapid.Bool().Draw(rt, fmt.Sprintf("root_%d", i))
			key := fmt.Sprintf("site%d.com", i)
			entries[i] = Entry{Key: key, Task: Task{Root: isRoot}}
			if isRoot {
				roots = append(roots, key)
			}
		}
		tr := MustNew(entries...)

		batches, err := tr.ExtractRoots()
		if len(roots) == 0 {
			require.ErrorIs(rt, err, ErrNoRootTask)
			require.Equal(rt, n, tr.Len())
			return
		}
		require.NoError(rt, err)

		want := make([]string, len(roots))
		for i, k := range roots {
			want[len(roots)-1-i] = k
		}
		require.Equal(rt, want, keysOf(batches))
		for _, k := range roots {
			state, _ := tr.State(k)
			require.Equal(rt, StateConsumed, state)
		}

		again, err := tr.ExtractRoots()
		require.NoError(rt, err)
		require.Empty(rt, again)
	})
}
