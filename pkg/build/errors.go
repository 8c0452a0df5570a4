package build

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConfigurationMissing is returned when the compiler binary for a
	// dialect cannot be resolved.
	ErrConfigurationMissing = errors.New("compiler not configured")
	// ErrStorage wraps workspace and artifact filesystem failures.
	ErrStorage = errors.New("build storage failure")
	// ErrUnsupportedDialect is returned for template dialects with no compiler.
	ErrUnsupportedDialect = errors.New("unsupported template dialect")
)

// CompilationError reports a compiler run that exited nonzero, timed out or
// produced no artifact. Output holds the combined stdout and stderr.
type CompilationError struct {
	JobID    string
	Dialect  string
	ExitCode int
	Output   string
	TimedOut bool
	Err      error
}

func (e *CompilationError) Error() string {
	var reason string
	switch {
	case e.TimedOut:
		reason = "timed out"
	case e.Err != nil:
		reason = e.Err.Error()
	case e.ExitCode != 0:
		reason = fmt.Sprintf("exit code %d", e.ExitCode)
	default:
		reason = "no output artifact"
	}

	msg := fmt.Sprintf("%s compile %s failed: %s", e.Dialect, e.JobID, reason)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

func (e *CompilationError) Unwrap() error {
	return e.Err
}

func storageError(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrStorage, op, err)
}
