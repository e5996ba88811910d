// Package tour models a declarative browser tour: resource keys (URL prefixes)
// mapped to command batches, with root tasks driving navigation and non-root
// tasks triggered by URL matches.
package tour

import (
	"fmt"
	"strings"
	"sync"
)

// RootField is the reserved task field marking a root task.
const RootField = "root"

// TaskState tags whether an entry can still be scheduled.
type TaskState int

const (
	StatePending TaskState = iota
	StateConsumed
)

func (s TaskState) String() string {
	switch s {
	case StatePending:
		return "pending"
	case StateConsumed:
		return "consumed"
	default:
		return fmt.Sprintf("TaskState(%d)", int(s))
	}
}

// Command is one named command of a task together with its declared arguments.
// Args holds the decoded value: nil, string, bool, number, []any or map[string]any.
type Command struct {
	Name string `json:"name"`
	Args any    `json:"args,omitempty"`
}

// Task is the body stored under a resource key.
type Task struct {
	Root     bool      `json:"root,omitempty"`
	Commands []Command `json:"commands"`
}

// Batch is the single-entry work unit carried by the scheduler.
type Batch struct {
	Key  string `json:"key"`
	Task Task   `json:"task"`
}

// Entry is one resource key of the tour with its task and state.
type Entry struct {
	Key   string    `json:"key"`
	Task  Task      `json:"task"`
	State TaskState `json:"state"`
}

// Tour holds entries in declaration order. Entries are never removed; consumed
// entries are excluded from every query that feeds execution.
type Tour struct {
	mu      sync.RWMutex
	entries []*Entry
	index   map[string]*Entry
}

// New builds a tour from entries in the given order. Duplicate keys are a
// configuration error.
func New(entries ...Entry) (*Tour, error) {
	t := &Tour{
		entries: make([]*Entry, 0, len(entries)),
		index:   make(map[string]*Entry, len(entries)),
	}
	for _, e := range entries {
		if err := t.add(e.Key, e.Task); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// MustNew is New for statically known tours; it panics on duplicate keys.
func MustNew(entries ...Entry) *Tour {
	t, err := New(entries...)
	if err != nil {
		panic(err)
	}
	return t
}

func (t *Tour) add(key string, task Task) error {
	if key == "" {
		return configErrorf("tour contains an empty resource key")
	}
	if _, exists := t.index[key]; exists {
		return configErrorf("tour declares resource %q more than once", key)
	}
	e := &Entry{Key: key, Task: task, State: StatePending}
	t.entries = append(t.entries, e)
	t.index[key] = e
	return nil
}

// Len returns the number of pending entries.
func (t *Tour) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, e := range t.entries {
		if e.State == StatePending {
			n++
		}
	}
	return n
}

// HasRoot reports whether any task, consumed or not, is marked root.
func (t *Tour) HasRoot() bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, e := range t.entries {
		if e.Task.Root {
			return true
		}
	}
	return false
}

// ExtractRoots returns pending root tasks in reversed declaration order and
// marks them consumed. Calling it again returns only roots still pending.
func (t *Tour) ExtractRoots() ([]Batch, error) {
	if !t.HasRoot() {
		return nil, ErrNoRootTask
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.take(func(e *Entry) bool { return e.Task.Root }), nil
}

// MatchReactive consumes and returns the pending non-root tasks whose key is a
// case-insensitive prefix of url, in reversed declaration order.
func (t *Tour) MatchReactive(url string) []Batch {
	lowered := strings.ToLower(url)
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.take(func(e *Entry) bool {
		return !e.Task.Root && strings.HasPrefix(lowered, strings.ToLower(e.Key))
	})
}

// take must be called with the write lock held.
func (t *Tour) take(match func(*Entry) bool) []Batch {
	batches := make([]Batch, 0)
	for i := len(t.entries) - 1; i >= 0; i-- {
		e := t.entries[i]
		if e.State != StatePending || !match(e) {
			continue
		}
		e.State = StateConsumed
		batches = append(batches, Batch{Key: e.Key, Task: e.Task})
	}
	return batches
}

// State returns the state of key and whether the key exists.
func (t *Tour) State(key string) (TaskState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.index[key]
	if !ok {
		return StatePending, false
	}
	return e.State, true
}

// Pending returns the keys still schedulable, in declaration order.
func (t *Tour) Pending() []string {
	return t.keys(StatePending)
}

// Consumed returns the keys already scheduled, in declaration order.
func (t *Tour) Consumed() []string {
	return t.keys(StateConsumed)
}

func (t *Tour) keys(state TaskState) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.entries))
	for _, e := range t.entries {
		if e.State == state {
			out = append(out, e.Key)
		}
	}
	return out
}

// Entries returns a snapshot of every entry in declaration order.
func (t *Tour) Entries() []Entry {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = *e
	}
	return out
}
