package runner

import (
	"errors"
	"fmt"

	"browsertour/internal/command"
	"browsertour/internal/tour"
)

// ConfigurationError is the fatal tour configuration error.
type ConfigurationError = tour.ConfigurationError

var (
	// ErrRunInProgress is returned when Run is called while another run is active.
	ErrRunInProgress = errors.New("runner: run already in progress")
	// ErrNoFetcher is returned when a fetch command runs without a Fetcher.
	ErrNoFetcher = errors.New("runner: no fetcher configured")
)

// DispatchFailure wraps an error raised while dispatching a command or while
// navigating to a root resource.
type DispatchFailure struct {
	Key      string
	Command  string
	Strategy command.Strategy
	Err      error
}

func (e *DispatchFailure) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("task %q: %v", e.Key, e.Err)
	}
	return fmt.Sprintf("task %q: %s (%s): %v", e.Key, e.Command, e.Strategy, e.Err)
}

func (e *DispatchFailure) Unwrap() error { return e.Err }
