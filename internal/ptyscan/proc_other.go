//go:build !linux

package ptyscan

import (
	"context"
	"errors"

	"go.uber.org/zap"
)

// ProcSource is only available on Linux.
type ProcSource struct{}

// NewProcSource always fails off Linux.
func NewProcSource(string, []string, *zap.SugaredLogger) (*ProcSource, error) {
	return nil, &UnavailableError{
		Tool:   "procfs",
		Remedy: "procfs is Linux-only; use source = \"lsof\"",
		Err:    errors.New("unsupported platform"),
	}
}

// Name implements Source.
func (*ProcSource) Name() string { return "procfs" }

// Query implements Source.
func (*ProcSource) Query(context.Context) ([]RawProcess, error) {
	return nil, &UnavailableError{Tool: "procfs"}
}

// Ancestors implements Lineage.
func (*ProcSource) Ancestors(context.Context, int) ([]int, error) {
	return nil, &UnavailableError{Tool: "procfs"}
}

func procAvailable(string) bool { return false }
