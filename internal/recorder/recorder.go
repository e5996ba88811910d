package recorder

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"browsertour/internal/runner"

	"go.uber.org/zap"
)

const (
	DefaultMaxFiles = 3
	TraceDir        = "data/traces"
)

// Record is a single line of a trace file.
type Record struct {
	Timestamp time.Time    `json:"ts"`
	Type      string       `json:"type"`
	RunID     string       `json:"run_id,omitempty"`
	Data      runner.Event `json:"data"`
}

// Recorder writes one JSONL trace per run and keeps only the newest maxFiles.
type Recorder struct {
	mu       sync.Mutex
	file     *os.File
	encoder  *json.Encoder
	path     string
	basePath string
	maxFiles int
	logger   *zap.Logger
}

var _ runner.Observer = (*Recorder)(nil)

// NewRecorder creates a recorder instance.
// It ensures the directory exists.
func NewRecorder(basePath string, maxFiles int, logger *zap.Logger) (*Recorder, error) {
	if basePath == "" {
		basePath = TraceDir
	}
	if maxFiles <= 0 {
		maxFiles = DefaultMaxFiles
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, err
	}
	return &Recorder{
		basePath: basePath,
		maxFiles: maxFiles,
		logger:   logger.With(zap.String("component", "recorder")),
	}, nil
}

// Start begins a new trace for runID, rotating old traces first.
func (r *Recorder) Start(runID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file != nil {
		_ = r.file.Close()
		r.file, r.encoder = nil, nil
	}

	if err := r.rotate(); err != nil {
		return fmt.Errorf("rotate traces: %w", err)
	}

	filename := fmt.Sprintf("trace_%s_%d.jsonl", runID, time.Now().UnixMilli())
	path := filepath.Join(r.basePath, filename)
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	r.file = f
	r.path = path
	r.encoder = json.NewEncoder(f)
	return nil
}

// Path returns the current or most recent trace file.
func (r *Recorder) Path() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.path
}

// Log writes ev to the current trace file. Without an open trace it is a no-op.
func (r *Recorder) Log(ev runner.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.encoder == nil {
		return
	}
	ts := ev.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	if err := r.encoder.Encode(Record{Timestamp: ts, Type: string(ev.Type), RunID: ev.RunID, Data: ev}); err != nil {
		r.logger.Warn("trace write failed", zap.String("path", r.path), zap.Error(err))
	}
}

// Observe implements runner.Observer: run_started opens a trace, run_finished
// closes it.
func (r *Recorder) Observe(_ context.Context, ev runner.Event) {
	if ev.Type == runner.EventRunStarted {
		if err := r.Start(ev.RunID); err != nil {
			r.logger.Warn("trace start failed", zap.String("run", ev.RunID), zap.Error(err))
			return
		}
	}
	r.Log(ev)
	if ev.Type == runner.EventRunFinished {
		if err := r.Close(); err != nil {
			r.logger.Warn("trace close failed", zap.String("run", ev.RunID), zap.Error(err))
		}
	}
}

// rotate keeps only the newest maxFiles-1 traces to make room for a new one.
func (r *Recorder) rotate() error {
	entries, err := os.ReadDir(r.basePath)
	if err != nil {
		return err
	}

	type trace struct {
		name string
		mod  time.Time
	}
	var traces []trace
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".jsonl" {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		traces = append(traces, trace{e.Name(), info.ModTime()})
	}

	// Newest first.
	sort.Slice(traces, func(i, j int) bool {
		if !traces[i].mod.Equal(traces[j].mod) {
			return traces[i].mod.After(traces[j].mod)
		}
		return traces[i].name > traces[j].name
	})

	keep := r.maxFiles - 1
	for i := keep; i < len(traces); i++ {
		_ = os.Remove(filepath.Join(r.basePath, traces[i].name))
	}
	return nil
}

// Close finishes the current trace.
func (r *Recorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file != nil {
		err := r.file.Close()
		r.file = nil
		r.encoder = nil
		return err
	}
	return nil
}
