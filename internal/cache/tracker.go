package cache

import (
	"time"

	"github.com/honkhq/honk/internal/ptyscan"
)

type sighting struct {
	command string
	first   time.Time
}

// Tracker remembers when each process was first seen across scans. A pid
// whose command changes is treated as a new process.
type Tracker struct {
	seen map[int]sighting
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{seen: make(map[int]sighting)}
}

// Seed loads first-seen times from a previous cache.
func (t *Tracker) Seed(f *File) {
	if f == nil {
		return
	}
	for _, p := range f.Processes {
		if p.FirstSeen.IsZero() {
			continue
		}
		t.seen[p.PID] = sighting{command: p.Command, first: p.FirstSeen}
	}
}

// Observe records the snapshot and returns first-seen times for its pids.
// Pids no longer present are forgotten.
func (t *Tracker) Observe(snap *ptyscan.Snapshot) map[int]time.Time {
	next := make(map[int]sighting, snap.ProcessCount())
	out := make(map[int]time.Time, snap.ProcessCount())
	for _, rec := range snap.Records() {
		s, ok := t.seen[rec.PID]
		if !ok || s.command != rec.Command {
			s = sighting{command: rec.Command, first: snap.TakenAt()}
		}
		next[rec.PID] = s
		out[rec.PID] = s.first
	}
	t.seen = next
	return out
}
