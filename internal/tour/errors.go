package tour

import (
	"errors"
	"fmt"
)

// ConfigurationError reports an unusable tour: a missing root task or an
// unreadable or malformed source. It is fatal and raised before any page call.
type ConfigurationError struct {
	Msg string
	Err error
}

func (e *ConfigurationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("tour configuration: %s: %v", e.Msg, e.Err)
	}
	return "tour configuration: " + e.Msg
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// ErrNoRootTask is returned when a tour has no task marked root.
var ErrNoRootTask = &ConfigurationError{Msg: "the tour has no root tasks"}

func configErrorf(format string, args ...interface{}) error {
	return &ConfigurationError{Msg: fmt.Sprintf(format, args...)}
}

// IsConfigurationError reports whether err is or wraps a ConfigurationError.
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
