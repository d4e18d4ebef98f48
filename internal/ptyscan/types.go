// Package ptyscan enumerates processes holding pseudo-terminal handles and
// assembles them into immutable snapshots.
package ptyscan

import (
	"context"
	"errors"
	"fmt"
)

// Tristate is a fact that may be unknown.
type Tristate uint8

const (
	Unknown Tristate = iota
	No
	Yes
)

// String implements fmt.Stringer.
func (t Tristate) String() string {
	switch t {
	case No:
		return "no"
	case Yes:
		return "yes"
	default:
		return "unknown"
	}
}

// RawProcess is one row reported by a Source. A source may report the same
// pid several times; the Scanner merges them.
type RawProcess struct {
	PID                 int
	Command             string
	Args                []string
	PPID                *int
	Handles             []string
	AgeSeconds          *int64
	CPUPercent          *float64
	MemoryMB            *float64
	OwnerUID            *int
	ControllingTerminal Tristate
	Zombie              bool
}

// ProcessRecord is a process that holds at least one PTY. Pointer fields are
// nil when the fact is unknown.
type ProcessRecord struct {
	PID                 int
	Command             string
	Args                []string
	PPID                *int
	PTYs                []string
	AgeSeconds          *int64
	CPUPercent          *float64
	MemoryMB            *float64
	OwnerUID            *int
	ControllingTerminal Tristate
	Zombie              bool
}

// PTYCount is len(PTYs).
func (r ProcessRecord) PTYCount() int { return len(r.PTYs) }

// Source enumerates PTY-holding processes. It is queried once per scan.
type Source interface {
	Name() string
	Query(ctx context.Context) ([]RawProcess, error)
}

// Lineage resolves the ancestor chain of a pid, nearest parent first.
type Lineage interface {
	Ancestors(ctx context.Context, pid int) ([]int, error)
}

// ErrToolUnavailable is returned when the process source cannot be queried.
var ErrToolUnavailable = errors.New("process source unavailable")

// UnavailableError explains which tool failed and how to fix it.
type UnavailableError struct {
	Tool   string
	Remedy string
	Err    error
}

func (e *UnavailableError) Error() string {
	msg := fmt.Sprintf("%s unavailable", e.Tool)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Remedy != "" {
		msg += " (" + e.Remedy + ")"
	}
	return msg
}

func (e *UnavailableError) Unwrap() error { return e.Err }

// Is matches ErrToolUnavailable.
func (e *UnavailableError) Is(target error) bool { return target == ErrToolUnavailable }

// Ptr returns a pointer to v, for filling optional record fields.
func Ptr[T any](v T) *T { return &v }
