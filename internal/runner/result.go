package runner

import "sync"

// Result is the aggregated output of a run.
type Result map[string]any

// Merge copies bundle into r, overwriting colliding keys.
func (r Result) Merge(bundle map[string]any) {
	for k, v := range bundle {
		r[k] = v
	}
}

// Clone returns a shallow copy.
func (r Result) Clone() Result {
	out := make(Result, len(r))
	out.Merge(r)
	return out
}

// Aggregator owns the result of one run.
type Aggregator struct {
	mu     sync.Mutex
	result Result
}

func NewAggregator() *Aggregator {
	return &Aggregator{result: make(Result)}
}

// Merge folds a fetched bundle into the result; last merge wins.
func (a *Aggregator) Merge(bundle map[string]any) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.result.Merge(bundle)
}

// Snapshot returns a copy of the result collected so far.
func (a *Aggregator) Snapshot() Result {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.result.Clone()
}
