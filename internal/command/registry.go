// Package command decides how a tour command is dispatched against a page.
// Drivers publish their operations in a Registry; classification is a lookup
// plus an inspection of the declared argument shape.
package command

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// Kind is the calling convention of a page capability.
type Kind int

const (
	// Nullary capabilities take no arguments (reload, goBack).
	Nullary Kind = iota
	// Selector capabilities take exactly one selector string (click, hover).
	Selector
	// Variadic capabilities take positional arguments (type, select).
	Variadic
)

func (k Kind) String() string {
	switch k {
	case Nullary:
		return "nullary"
	case Selector:
		return "selector"
	case Variadic:
		return "variadic"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

var (
	// ErrNoCapability is returned when a dispatched name has no registered operation.
	ErrNoCapability = errors.New("no such page capability")
	// ErrArity is returned when arguments do not fit the capability's kind.
	ErrArity = errors.New("argument count does not fit capability")
)

// Capability is a typed page operation.
type Capability struct {
	Name string
	Kind Kind
	Doc  string

	nullary  func(ctx context.Context) error
	selector func(ctx context.Context, selector string) error
	variadic func(ctx context.Context, args ...any) error
}

// NewNullary wraps an operation without arguments.
func NewNullary(name, doc string, fn func(ctx context.Context) error) Capability {
	return Capability{Name: name, Kind: Nullary, Doc: doc, nullary: fn}
}

// NewSelector wraps an operation taking one selector.
func NewSelector(name, doc string, fn func(ctx context.Context, selector string) error) Capability {
	return Capability{Name: name, Kind: Selector, Doc: doc, selector: fn}
}

// NewVariadic wraps an operation taking positional arguments.
func NewVariadic(name, doc string, fn func(ctx context.Context, args ...any) error) Capability {
	return Capability{Name: name, Kind: Variadic, Doc: doc, variadic: fn}
}

// Invoke calls the capability with positional arguments, checking arity
// against its kind.
func (c Capability) Invoke(ctx context.Context, args ...any) error {
	switch c.Kind {
	case Nullary:
		if len(args) != 0 {
			return fmt.Errorf("%s takes no arguments, got %d: %w", c.Name, len(args), ErrArity)
		}
		return c.nullary(ctx)
	case Selector:
		if len(args) != 1 {
			return fmt.Errorf("%s takes one selector, got %d arguments: %w", c.Name, len(args), ErrArity)
		}
		sel, ok := args[0].(string)
		if !ok {
			return fmt.Errorf("%s selector must be a string, got %T: %w", c.Name, args[0], ErrArity)
		}
		return c.selector(ctx, sel)
	case Variadic:
		return c.variadic(ctx, args...)
	default:
		return fmt.Errorf("%s has unknown kind %v: %w", c.Name, c.Kind, ErrNoCapability)
	}
}

// Registry maps command names to capabilities. It is built once per driver and
// read concurrently afterwards.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry returns a registry holding caps. Later entries replace earlier
// ones with the same name.
func NewRegistry(caps ...Capability) *Registry {
	r := &Registry{caps: make(map[string]Capability, len(caps))}
	for _, c := range caps {
		r.Register(c)
	}
	return r
}

// Register adds or replaces a capability.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name] = c
}

// Lookup returns the capability registered under name.
func (r *Registry) Lookup(name string) (Capability, bool) {
	if r == nil {
		return Capability{}, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	return c, ok
}

// Has reports whether any capability is registered under name.
func (r *Registry) Has(name string) bool {
	_, ok := r.Lookup(name)
	return ok
}

// Callable reports whether name is a directly callable capability (nullary or
// variadic). Selector capabilities are only reached through the selector
// strategy.
func (r *Registry) Callable(name string) bool {
	c, ok := r.Lookup(name)
	return ok && c.Kind != Selector
}

// Names returns registered names sorted alphabetically.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Capabilities returns every capability sorted by name.
func (r *Registry) Capabilities() []Capability {
	names := r.Names()
	out := make([]Capability, 0, len(names))
	for _, name := range names {
		c, _ := r.Lookup(name)
		out = append(out, c)
	}
	return out
}
