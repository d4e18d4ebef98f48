package cleanup

import (
	"context"
	"errors"

	"golang.org/x/sys/unix"
)

// SignalStatus is the result of one terminate request.
type SignalStatus int

const (
	SignalSuccess SignalStatus = iota
	SignalNotFound
	SignalPermissionDenied
	SignalError
)

// SignalResult carries the status and, for errors, the cause.
type SignalResult struct {
	Status SignalStatus
	Err    error
}

func (r SignalResult) action() Action {
	switch r.Status {
	case SignalSuccess:
		return Killed
	case SignalNotFound:
		return AlreadyGone
	case SignalPermissionDenied:
		return PermissionDenied
	default:
		return Failed
	}
}

// SignalSender delivers a graceful termination request. It never escalates.
type SignalSender interface {
	Terminate(ctx context.Context, pid int) SignalResult
}

// UnixSender sends SIGTERM with kill(2).
type UnixSender struct{}

// Terminate implements SignalSender.
func (UnixSender) Terminate(_ context.Context, pid int) SignalResult {
	if pid <= 0 {
		// kill(0) and kill(-n) address process groups.
		return SignalResult{Status: SignalError, Err: errors.New("refusing non-positive pid")}
	}
	return resultFromErrno(unix.Kill(pid, unix.SIGTERM))
}

func resultFromErrno(err error) SignalResult {
	switch {
	case err == nil:
		return SignalResult{Status: SignalSuccess}
	case errors.Is(err, unix.ESRCH):
		return SignalResult{Status: SignalNotFound, Err: err}
	case errors.Is(err, unix.EPERM):
		return SignalResult{Status: SignalPermissionDenied, Err: err}
	default:
		return SignalResult{Status: SignalError, Err: err}
	}
}
