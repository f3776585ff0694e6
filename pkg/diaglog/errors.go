package diaglog

import (
	"fmt"
	"os"

	pkgerrors "github.com/pkg/errors"
)

// ConfigError reports a rejected configuration or reconfiguration
// attempt. The previously active snapshot remains in effect.
type ConfigError struct {
	Op  string // what was being configured
	Err error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("config: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Err
}

// SinkError reports a sink write, rotation or retention failure. These
// are recovered locally and surfaced through the error handler; they are
// never returned to Log callers.
type SinkError struct {
	Op     string // "write", "rotate", "sweep", "close"
	Target string // file or destination involved
	Err    error
}

// Error implements the error interface.
func (e *SinkError) Error() string {
	return fmt.Sprintf("sink: %s %s: %v", e.Op, e.Target, e.Err)
}

// Unwrap returns the underlying error.
func (e *SinkError) Unwrap() error {
	return e.Err
}

// ErrorHandler receives internal failures the core recovered from.
// Handlers must be safe for concurrent use and must not call back into
// the Emitter.
type ErrorHandler func(err error)

// StderrErrorHandler writes one line per failure to stderr. It is the
// default handler.
var StderrErrorHandler ErrorHandler = func(err error) {
	fmt.Fprintf(os.Stderr, "diaglog: %v\n", err)
}

// SilentErrorHandler discards all failures (used in tests).
var SilentErrorHandler ErrorHandler = func(err error) {}

// errAlreadyWatching is returned when a second config watch is requested.
var errAlreadyWatching = fmt.Errorf("a config file is already being watched")

// newConfigError wraps err with context as a ConfigError.
func newConfigError(op string, err error) *ConfigError {
	return &ConfigError{Op: op, Err: pkgerrors.WithStack(err)}
}

// IsConfigError reports whether any error in the chain is a ConfigError.
func IsConfigError(err error) bool {
	var ce *ConfigError
	return pkgerrors.As(err, &ce)
}

// IsSinkError reports whether any error in the chain is a SinkError.
func IsSinkError(err error) bool {
	var se *SinkError
	return pkgerrors.As(err, &se)
}
