package runner

import (
	"context"
	"sync"
	"time"

	"browsertour/internal/command"
)

// fakePage is an in-memory driver. Navigate sets the URL; selector hooks can
// move the URL or fail, simulating clicks that trigger navigation.
type fakePage struct {
	mu        sync.Mutex
	url       string
	calls     []string
	navigated []string
	waits     []time.Duration
	marks     []string
	typed     [][]any
	html      string

	clickTargets map[string]string
	clickErrors  map[string]error
	block        chan struct{}

	reg *command.Registry
}

func newFakePage() *fakePage {
	p := &fakePage{
		clickTargets: map[string]string{},
		clickErrors:  map[string]error{},
	}
	p.reg = command.NewRegistry(
		command.NewSelector("click", "click an element", p.click),
		command.NewVariadic("type", "type into an element", func(_ context.Context, args ...any) error {
			p.record("type")
			p.mu.Lock()
			p.typed = append(p.typed, args)
			p.mu.Unlock()
			return nil
		}),
		command.NewVariadic("mark", "record task execution", func(_ context.Context, args ...any) error {
			p.mu.Lock()
			defer p.mu.Unlock()
			for _, a := range args {
				p.marks = append(p.marks, a.(string))
			}
			return nil
		}),
		command.NewNullary("screenshot", "capture the page", func(context.Context) error {
			p.record("screenshot")
			return nil
		}),
		command.NewNullary("hang", "block until released", func(ctx context.Context) error {
			select {
			case <-p.block:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		}),
	)
	return p
}

func (p *fakePage) record(call string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, call)
}

func (p *fakePage) click(_ context.Context, selector string) error {
	p.record("click " + selector)
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.clickErrors[selector]; ok {
		return err
	}
	if target, ok := p.clickTargets[selector]; ok {
		p.url = target
	}
	return nil
}

func (p *fakePage) Navigate(_ context.Context, url string) error {
	p.record("navigate " + url)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.url = url
	p.navigated = append(p.navigated, url)
	return nil
}

func (p *fakePage) URL() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.url
}

func (p *fakePage) Wait(ctx context.Context, d time.Duration) error {
	p.mu.Lock()
	p.waits = append(p.waits, d)
	p.mu.Unlock()
	return ctx.Err()
}

func (p *fakePage) HTML(context.Context) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html, nil
}

func (p *fakePage) Capabilities() *command.Registry { return p.reg }

// scriptedFetcher returns bundles in order, one per Pull.
type scriptedFetcher struct {
	mu      sync.Mutex
	bundles []map[string]any
	specs   []any
	err     error
}

func (f *scriptedFetcher) Pull(_ context.Context, _ Page, spec any) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.specs = append(f.specs, spec)
	if f.err != nil {
		return nil, f.err
	}
	if len(f.bundles) == 0 {
		return map[string]any{}, nil
	}
	next := f.bundles[0]
	f.bundles = f.bundles[1:]
	return next, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []Event
}

func (l *eventLog) Observe(_ context.Context, ev Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) keysOf(typ EventType) []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, ev := range l.events {
		if ev.Type == typ {
			out = append(out, ev.Key)
		}
	}
	return out
}
