// Package runner executes a tour against a page: root tasks navigate, batches
// dispatch through the command classifier, and reactive tasks run when a
// navigation lands on a matching URL.
package runner

import (
	"context"
	"time"

	"browsertour/internal/command"
)

// Page is the narrow driver surface the scheduler consumes.
type Page interface {
	Navigate(ctx context.Context, url string) error
	URL() string
	Wait(ctx context.Context, d time.Duration) error
	HTML(ctx context.Context) (string, error)
	Capabilities() *command.Registry
}

// Fetcher extracts a key/value bundle from the current page using spec.
type Fetcher interface {
	Pull(ctx context.Context, page Page, spec any) (map[string]any, error)
}

// FetcherFunc adapts a function to Fetcher.
type FetcherFunc func(ctx context.Context, page Page, spec any) (map[string]any, error)

func (f FetcherFunc) Pull(ctx context.Context, page Page, spec any) (map[string]any, error) {
	return f(ctx, page, spec)
}
