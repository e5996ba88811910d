package runner

import (
	"context"
	"fmt"
	"sort"

	"browsertour/internal/command"
	"browsertour/internal/tour"

	"go.uber.org/zap"
)

// Executor applies one task's commands to the active page in declared order.
type Executor struct {
	page    Page
	fetcher Fetcher
	allow   command.AllowFunc
	results *Aggregator
	logger  *zap.Logger
	emit    func(ctx context.Context, ev Event)
}

// NewExecutor builds an executor. A nil allow admits everything except the
// root field; a nil logger discards output.
func NewExecutor(page Page, fetcher Fetcher, allow command.AllowFunc, results *Aggregator, logger *zap.Logger) *Executor {
	if allow == nil {
		allow = command.AllowAll
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if results == nil {
		results = NewAggregator()
	}
	return &Executor{
		page:    page,
		fetcher: fetcher,
		allow:   allow,
		results: results,
		logger:  logger,
		emit:    func(context.Context, Event) {},
	}
}

// Results returns the aggregator fetches are merged into.
func (x *Executor) Results() *Aggregator { return x.results }

// Execute runs every allowed command of batch. The first dispatch error stops
// the batch and is returned as a *DispatchFailure.
func (x *Executor) Execute(ctx context.Context, batch tour.Batch) error {
	for _, cmd := range batch.Task.Commands {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !x.allow(cmd.Name) {
			x.logger.Debug("command not allowed, skipping",
				zap.String("task", batch.Key),
				zap.String("command", cmd.Name),
			)
			continue
		}
		if err := x.dispatch(ctx, batch.Key, cmd); err != nil {
			return err
		}
	}
	return nil
}

func (x *Executor) dispatch(ctx context.Context, key string, cmd tour.Command) error {
	reg := x.page.Capabilities()
	strategy := command.ClassifyWith(reg, cmd.Name, cmd.Args)
	x.emit(ctx, Event{Type: EventCommand, Key: key, Command: cmd.Name, Strategy: strategy})

	fail := func(err error) error {
		return &DispatchFailure{Key: key, Command: cmd.Name, Strategy: strategy, Err: err}
	}

	switch strategy {
	case command.StrategySelector:
		capability, ok := reg.Lookup(cmd.Name)
		if !ok {
			return fail(fmt.Errorf("%s: %w", cmd.Name, command.ErrNoCapability))
		}
		if err := capability.Invoke(ctx, cmd.Args.(string)); err != nil {
			return fail(err)
		}

	case command.StrategyCall:
		capability, _ := reg.Lookup(cmd.Name)
		for _, args := range command.ArgumentLists(cmd.Args) {
			if err := capability.Invoke(ctx, args...); err != nil {
				return fail(err)
			}
		}

	case command.StrategyCallNoArgs:
		capability, _ := reg.Lookup(cmd.Name)
		if err := capability.Invoke(ctx); err != nil {
			return fail(err)
		}

	case command.StrategyFetch:
		if x.fetcher == nil {
			return fail(ErrNoFetcher)
		}
		bundle, err := x.fetcher.Pull(ctx, x.page, cmd.Args)
		if err != nil {
			return fail(err)
		}
		x.results.Merge(bundle)
		x.emit(ctx, Event{Type: EventFetched, Key: key, Command: cmd.Name, Fields: sortedKeys(bundle)})

	default:
		x.logger.Debug("unknown command, skipping",
			zap.String("task", key),
			zap.String("command", cmd.Name),
		)
	}
	return nil
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
