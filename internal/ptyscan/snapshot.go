package ptyscan

import (
	"slices"
	"time"
)

// Snapshot is the immutable result of one scan.
type Snapshot struct {
	takenAt    time.Time
	scanNumber int64
	records    map[int]ProcessRecord
	pids       []int
}

// NewSnapshot builds a snapshot from records. Records without PTYs are
// dropped and later duplicates of a pid are ignored.
func NewSnapshot(takenAt time.Time, scanNumber int64, records []ProcessRecord) *Snapshot {
	s := &Snapshot{
		takenAt:    takenAt,
		scanNumber: scanNumber,
		records:    make(map[int]ProcessRecord, len(records)),
	}
	for _, r := range records {
		if len(r.PTYs) == 0 {
			continue
		}
		if _, dup := s.records[r.PID]; dup {
			continue
		}
		r.PTYs = slices.Clone(r.PTYs)
		r.Args = slices.Clone(r.Args)
		s.records[r.PID] = r
		s.pids = append(s.pids, r.PID)
	}
	slices.Sort(s.pids)
	return s
}

// TakenAt is when the scan ran.
func (s *Snapshot) TakenAt() time.Time { return s.takenAt }

// ScanNumber is the monotonic scan counter.
func (s *Snapshot) ScanNumber() int64 { return s.scanNumber }

// Get returns the record for pid.
func (s *Snapshot) Get(pid int) (ProcessRecord, bool) {
	r, ok := s.records[pid]
	if !ok {
		return ProcessRecord{}, false
	}
	r.PTYs = slices.Clone(r.PTYs)
	r.Args = slices.Clone(r.Args)
	return r, true
}

// PIDs returns the pids in ascending order.
func (s *Snapshot) PIDs() []int { return slices.Clone(s.pids) }

// Records returns every record ordered by pid.
func (s *Snapshot) Records() []ProcessRecord {
	out := make([]ProcessRecord, 0, len(s.pids))
	for _, pid := range s.pids {
		r, _ := s.Get(pid)
		out = append(out, r)
	}
	return out
}

// ProcessCount is the number of PTY-holding processes.
func (s *Snapshot) ProcessCount() int { return len(s.pids) }

// TotalPTYs sums PTY handles across all records.
func (s *Snapshot) TotalPTYs() int {
	total := 0
	for _, r := range s.records {
		total += len(r.PTYs)
	}
	return total
}
