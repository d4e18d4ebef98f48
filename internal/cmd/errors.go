package cmd

import (
	"errors"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/daemon"
	"github.com/honkhq/honk/internal/exitcode"
	"github.com/honkhq/honk/internal/ptyscan"
)

// silentError has already been reported, usually as a JSON envelope.
type silentError struct {
	err error
}

func (e *silentError) Error() string { return e.err.Error() }
func (e *silentError) Unwrap() error { return e.err }

func usageError(format string, args ...interface{}) error {
	return exitcode.Usage(format, args...)
}

// classify attaches an exit code to the watchdog's sentinel errors. Errors
// that already carry a code are returned unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var coded *exitcode.Error
	if errors.As(err, &coded) {
		return err
	}
	switch {
	case errors.Is(err, cleanup.ErrSafetyGateBypass):
		return exitcode.Wrap(exitcode.ErrInvariant, "internal invariant violated", err)
	case errors.Is(err, ptyscan.ErrToolUnavailable):
		return exitcode.Wrap(exitcode.ErrPrerequisite, "prerequisite missing", err)
	case errors.Is(err, cache.ErrCacheWrite),
		errors.Is(err, daemon.ErrAlreadyRunning),
		errors.Is(err, daemon.ErrDaemonStuck):
		return exitcode.Wrap(exitcode.ErrSystem, "system error", err)
	}
	return err
}

func codeOf(err error) int {
	return exitcode.Code(classify(err))
}

// systemError marks err as an environment failure (lock, pid file, I/O).
func systemError(msg string, err error) error {
	return exitcode.Wrap(exitcode.ErrSystem, msg, err)
}
