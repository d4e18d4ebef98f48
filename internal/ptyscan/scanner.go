package ptyscan

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/honkhq/honk/internal/clock"
)

// Scanner turns one Source query into a Snapshot.
type Scanner struct {
	source Source
	clock  clock.Clock
	seq    atomic.Int64
}

// NewScanner creates a scanner. A nil clock uses the real clock.
func NewScanner(source Source, clk clock.Clock) *Scanner {
	if clk == nil {
		clk = clock.Real{}
	}
	return &Scanner{source: source, clock: clk}
}

// Resume makes the next scan number n+1, so numbering continues across
// daemon restarts.
func (s *Scanner) Resume(n int64) {
	s.seq.Store(n)
}

// Scan queries the source exactly once and merges the rows per pid.
// Any source failure is reported as ErrToolUnavailable.
func (s *Scanner) Scan(ctx context.Context) (*Snapshot, error) {
	rows, err := s.source.Query(ctx)
	if err != nil {
		if errors.Is(err, ErrToolUnavailable) {
			return nil, err
		}
		return nil, &UnavailableError{Tool: s.source.Name(), Err: err}
	}

	takenAt := s.clock.Now()
	records := Merge(rows)
	return NewSnapshot(takenAt, s.seq.Add(1), records), nil
}

// Merge folds raw rows into one record per pid, preserving first-seen order
// of pids and of handles. The first known value of each fact wins.
func Merge(rows []RawProcess) []ProcessRecord {
	index := make(map[int]int)
	seen := make(map[int]map[string]bool)
	var out []ProcessRecord

	for _, row := range rows {
		if row.PID <= 0 {
			continue
		}
		i, ok := index[row.PID]
		if !ok {
			i = len(out)
			index[row.PID] = i
			seen[row.PID] = make(map[string]bool)
			out = append(out, ProcessRecord{PID: row.PID})
		}
		rec := &out[i]

		if rec.Command == "" {
			rec.Command = row.Command
		}
		if len(rec.Args) == 0 && len(row.Args) > 0 {
			rec.Args = append([]string(nil), row.Args...)
		}
		if rec.PPID == nil {
			rec.PPID = row.PPID
		}
		if rec.AgeSeconds == nil {
			rec.AgeSeconds = row.AgeSeconds
		}
		if rec.CPUPercent == nil {
			rec.CPUPercent = row.CPUPercent
		}
		if rec.MemoryMB == nil {
			rec.MemoryMB = row.MemoryMB
		}
		if rec.OwnerUID == nil {
			rec.OwnerUID = row.OwnerUID
		}
		if rec.ControllingTerminal == Unknown {
			rec.ControllingTerminal = row.ControllingTerminal
		}
		rec.Zombie = rec.Zombie || row.Zombie

		for _, h := range row.Handles {
			if h == "" || seen[row.PID][h] {
				continue
			}
			seen[row.PID][h] = true
			rec.PTYs = append(rec.PTYs, h)
		}
	}

	kept := out[:0]
	for _, rec := range out {
		if len(rec.PTYs) > 0 {
			kept = append(kept, rec)
		}
	}
	return kept
}

// String renders a short description for logs.
func (r ProcessRecord) String() string {
	cmd := r.Command
	if cmd == "" {
		cmd = "?"
	}
	return fmt.Sprintf("%d(%s, %d ptys)", r.PID, cmd, len(r.PTYs))
}
