// Package cache persists the daemon's latest snapshot as JSON for status
// queries and dashboards. Only the daemon writes it; readers never lock.
package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/util"
)

// ErrCacheWrite wraps failures to persist the cache.
var ErrCacheWrite = errors.New("cache write failed")

// File is the on-disk cache document.
type File struct {
	Timestamp      time.Time `json:"timestamp"`
	ScanNumber     int64     `json:"scan_number"`
	TotalPTYs      int       `json:"total_ptys"`
	ProcessCount   int       `json:"process_count"`
	Processes      []Process `json:"processes"`
	HeavyUsers     []Process `json:"heavy_users"`
	SuspectedLeaks []Process `json:"suspected_leaks"`
	AutoKilled     []int     `json:"auto_killed,omitempty"`
}

// Process is one PTY holder in the cache. The derived heavy_users and
// suspected_leaks lists carry the same shape.
type Process struct {
	PID       int       `json:"pid"`
	Command   string    `json:"command"`
	PTYCount  int       `json:"pty_count"`
	PTYs      []string  `json:"ptys"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Build projects a snapshot and its classification into a cache document.
// firstSeen may be nil, in which case first_seen equals the scan time.
func Build(snap *ptyscan.Snapshot, verdicts map[int]leak.Verdict, firstSeen map[int]time.Time, autoKilled []int) *File {
	f := &File{
		Timestamp:      snap.TakenAt(),
		ScanNumber:     snap.ScanNumber(),
		TotalPTYs:      snap.TotalPTYs(),
		ProcessCount:   snap.ProcessCount(),
		Processes:      []Process{},
		HeavyUsers:     []Process{},
		SuspectedLeaks: []Process{},
	}
	if len(autoKilled) > 0 {
		f.AutoKilled = append([]int(nil), autoKilled...)
	}

	for _, rec := range snap.Records() {
		first, ok := firstSeen[rec.PID]
		if !ok {
			first = snap.TakenAt()
		}
		p := Process{
			PID:       rec.PID,
			Command:   rec.Command,
			PTYCount:  len(rec.PTYs),
			PTYs:      rec.PTYs,
			FirstSeen: first,
			LastSeen:  snap.TakenAt(),
		}
		f.Processes = append(f.Processes, p)

		switch verdicts[rec.PID].Category {
		case leak.HeavyUser:
			f.HeavyUsers = append(f.HeavyUsers, p)
		case leak.LeakCandidate:
			f.SuspectedLeaks = append(f.SuspectedLeaks, p)
		}
	}

	byCount := func(list []Process) {
		sort.SliceStable(list, func(i, j int) bool { return list[i].PTYCount > list[j].PTYCount })
	}
	byCount(f.HeavyUsers)
	byCount(f.SuspectedLeaks)
	return f
}

// Write persists f atomically.
func Write(path string, f *File) error {
	if err := util.AtomicWriteJSON(path, f); err != nil {
		return fmt.Errorf("%w: %w", ErrCacheWrite, err)
	}
	return nil
}

// Load reads the cache at path. A missing cache returns an error wrapping
// os.ErrNotExist.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading cache: %w", err)
	}
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing cache %s: %w", path, err)
	}
	return &f, nil
}

// Snapshot reconstructs the scan the cache was built from. Facts the cache
// does not store are unknown.
func (f *File) Snapshot() *ptyscan.Snapshot {
	records := make([]ptyscan.ProcessRecord, 0, len(f.Processes))
	for _, p := range f.Processes {
		records = append(records, ptyscan.ProcessRecord{
			PID:     p.PID,
			Command: p.Command,
			PTYs:    p.PTYs,
		})
	}
	return ptyscan.NewSnapshot(f.Timestamp, f.ScanNumber, records)
}

// Age is how old the cache is at now.
func (f *File) Age(now time.Time) time.Duration {
	return now.Sub(f.Timestamp)
}
