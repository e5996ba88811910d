package runner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"browsertour/internal/command"
	"browsertour/internal/tour"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultSettleDelay is the pause after every batch before reactive matching.
const DefaultSettleDelay = 750 * time.Millisecond

// State is the scheduler's position in a run.
type State int32

const (
	StateIdle State = iota
	StateRootDispatch
	StateReactiveDispatch
	StateDone
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateRootDispatch:
		return "ROOT_DISPATCH"
	case StateReactiveDispatch:
		return "REACTIVE_DISPATCH"
	case StateDone:
		return "DONE"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

type options struct {
	fetcher     Fetcher
	allow       command.AllowFunc
	settleDelay time.Duration
	stopOnError bool
	logger      *zap.Logger
	observers   observers
}

var defaultOptions = options{
	settleDelay: DefaultSettleDelay,
}

// Option configures a Bot.
type Option func(*options)

// WithFetcher sets the extraction collaborator used by fetch commands.
func WithFetcher(f Fetcher) Option {
	return func(o *options) { o.fetcher = f }
}

// WithAllowList sets the predicate gating which command names run.
// Without it the page's capabilities plus fetch-named commands are allowed.
func WithAllowList(allow command.AllowFunc) Option {
	return func(o *options) { o.allow = allow }
}

// WithSettleDelay overrides the fixed post-batch wait. Negative values are
// treated as zero.
func WithSettleDelay(d time.Duration) Option {
	return func(o *options) {
		if d < 0 {
			d = 0
		}
		o.settleDelay = d
	}
}

// WithStopOnError makes Run return dispatch failures instead of swallowing them.
func WithStopOnError(stop bool) Option {
	return func(o *options) { o.stopOnError = stop }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithObserver appends run event observers.
func WithObserver(obs ...Observer) Option {
	return func(o *options) { o.observers = append(o.observers, obs...) }
}

// Bot runs one tour against one page.
type Bot struct {
	tour    *tour.Tour
	page    Page
	opts    options
	logger  *zap.Logger
	results *Aggregator

	state   atomic.Int32
	running atomic.Bool

	mu    sync.Mutex
	runID string
}

// New validates the tour and prepares a bot. A tour without a root task is a
// ConfigurationError.
func New(t *tour.Tour, page Page, opts ...Option) (*Bot, error) {
	if t == nil {
		return nil, &ConfigurationError{Msg: "tour is required"}
	}
	if !t.HasRoot() {
		return nil, tour.ErrNoRootTask
	}
	if page == nil {
		return nil, errors.New("runner: page is required")
	}

	o := defaultOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.allow == nil {
		o.allow = command.DefaultAllowList(page.Capabilities())
	}

	return &Bot{
		tour:    t,
		page:    page,
		opts:    o,
		logger:  o.logger.With(zap.String("component", "runner")),
		results: NewAggregator(),
	}, nil
}

// Tour returns the tour the bot consumes.
func (b *Bot) Tour() *tour.Tour { return b.tour }

// State returns the current scheduler state.
func (b *Bot) State() State { return State(b.state.Load()) }

// RunID returns the identifier of the latest run, empty before the first.
func (b *Bot) RunID() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.runID
}

// Run executes the tour and returns the aggregated result, never nil.
//
// Dispatch failures are logged at debug level and swallowed unless the bot was
// built WithStopOnError; either way the partial result is returned.
// Configuration errors and context cancellation are always returned.
func (b *Bot) Run(ctx context.Context) (Result, error) {
	if !b.running.CompareAndSwap(false, true) {
		return Result{}, ErrRunInProgress
	}
	defer b.running.Store(false)

	runID := uuid.NewString()
	b.mu.Lock()
	b.runID = runID
	b.mu.Unlock()

	em := &emitter{runID: runID, obs: b.opts.observers}
	exec := NewExecutor(b.page, b.opts.fetcher, b.opts.allow, b.results, b.logger)
	exec.emit = em.emit
	logger := b.logger.With(zap.String("run", runID))

	em.emit(ctx, Event{Type: EventRunStarted})
	err := b.process(ctx, exec, em, logger)
	b.state.Store(int32(StateDone))
	result := b.results.Snapshot()

	if err != nil {
		failure := Event{Type: EventRunError, Err: err.Error()}
		var df *DispatchFailure
		if errors.As(err, &df) {
			failure.Key, failure.Command, failure.Strategy = df.Key, df.Command, df.Strategy
		}
		em.emit(ctx, failure)
		if b.opts.stopOnError || tour.IsConfigurationError(err) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			logger.Warn("run aborted", zap.Error(err))
			em.emit(ctx, Event{Type: EventRunFinished})
			return result, err
		}
		logger.Debug("run error swallowed", zap.Error(err))
	}

	em.emit(ctx, Event{Type: EventRunFinished})
	logger.Debug("bot completed", zap.Int("fields", len(result)))
	return result, nil
}

// frame is one level of the work stack. Root queues are taken from the front
// and reactive queues from the end.
type frame struct {
	queue []tour.Batch
	root  bool
}

func (f *frame) next() tour.Batch {
	if f.root {
		b := f.queue[0]
		f.queue = f.queue[1:]
		return b
	}
	b := f.queue[len(f.queue)-1]
	f.queue = f.queue[:len(f.queue)-1]
	return b
}

// process is an iterative depth-first walk: after each batch the tasks matching
// the current URL are pushed as a new frame and drained before the parent
// frame resumes. Matches are computed once per batch.
func (b *Bot) process(ctx context.Context, exec *Executor, em *emitter, logger *zap.Logger) error {
	roots, err := b.tour.ExtractRoots()
	if err != nil {
		return err
	}
	for _, batch := range roots {
		em.emit(ctx, Event{Type: EventTaskConsumed, Key: batch.Key, Root: true})
	}

	stack := []*frame{{queue: roots, root: true}}
	for len(stack) > 0 {
		top := stack[len(stack)-1]
		if len(top.queue) == 0 {
			stack = stack[:len(stack)-1]
			continue
		}
		current := top.next()

		if top.root {
			b.state.Store(int32(StateRootDispatch))
			logger.Debug("process root task", zap.String("task", current.Key), zap.Int("remaining", len(top.queue)))
		} else {
			b.state.Store(int32(StateReactiveDispatch))
			logger.Debug("process reactive task", zap.String("task", current.Key), zap.Int("remaining", len(top.queue)))
		}

		if err := b.runBatch(ctx, exec, em, current, top.root); err != nil {
			return err
		}

		url := b.page.URL()
		matches := b.tour.MatchReactive(url)
		if len(matches) == 0 {
			continue
		}
		for _, batch := range matches {
			em.emit(ctx, Event{Type: EventTaskConsumed, Key: batch.Key, URL: url})
		}
		stack = append(stack, &frame{queue: matches})
	}
	return nil
}

func (b *Bot) runBatch(ctx context.Context, exec *Executor, em *emitter, batch tour.Batch, root bool) error {
	start := time.Now()
	em.emit(ctx, Event{Type: EventTaskStarted, Key: batch.Key, Root: root})

	if root {
		if err := b.page.Navigate(ctx, batch.Key); err != nil {
			return &DispatchFailure{Key: batch.Key, Err: fmt.Errorf("navigate: %w", err)}
		}
		em.emit(ctx, Event{Type: EventNavigated, Key: batch.Key, URL: b.page.URL()})
	}

	if err := exec.Execute(ctx, batch); err != nil {
		return err
	}

	if err := b.page.Wait(ctx, b.opts.settleDelay); err != nil {
		return err
	}

	em.emit(ctx, Event{Type: EventTaskFinished, Key: batch.Key, Root: root, URL: b.page.URL(), Duration: time.Since(start)})
	return nil
}

type emitter struct {
	runID string
	seq   int
	obs   Observer
}

func (e *emitter) emit(ctx context.Context, ev Event) {
	if e.obs == nil {
		return
	}
	e.seq++
	ev.RunID = e.runID
	ev.Seq = e.seq
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}
	e.obs.Observe(ctx, ev)
}
