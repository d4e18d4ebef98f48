// Package events writes the watchdog's NDJSON event stream: one JSON object
// per line, one line per notable transition.
package events

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	TypeScan              Type = "scan"
	TypeThresholdExceeded Type = "threshold_exceeded"
	TypeCleanupStarted    Type = "cleanup_started"
	TypeCleanupCompleted  Type = "cleanup_completed"
)

// Event is one line of the stream. Count fields are pointers so that a real
// zero is still written.
type Event struct {
	Type         Type      `json:"event"`
	Timestamp    time.Time `json:"timestamp"`
	ScanNumber   int64     `json:"scan_number"`
	TotalPTYs    *int      `json:"total_ptys,omitempty"`
	ProcessCount *int      `json:"process_count,omitempty"`
	MaxPTYs      *int      `json:"max_ptys,omitempty"`
	Candidates   *int      `json:"candidates,omitempty"`
	KilledCount  *int      `json:"killed_count,omitempty"`
	FreedPTYs    *int      `json:"freed_ptys,omitempty"`
	PlanOnly     bool      `json:"plan_only,omitempty"`
}

func intp(v int) *int { return &v }

// Scan reports a completed scan.
func Scan(ts time.Time, scanNumber int64, totalPTYs, processCount int) Event {
	return Event{Type: TypeScan, Timestamp: ts, ScanNumber: scanNumber, TotalPTYs: intp(totalPTYs), ProcessCount: intp(processCount)}
}

// ThresholdExceeded reports that the aggregate PTY total passed max.
func ThresholdExceeded(ts time.Time, scanNumber int64, totalPTYs, maxPTYs int) Event {
	return Event{Type: TypeThresholdExceeded, Timestamp: ts, ScanNumber: scanNumber, TotalPTYs: intp(totalPTYs), MaxPTYs: intp(maxPTYs)}
}

// CleanupStarted reports a cleanup batch over n ranked candidates.
func CleanupStarted(ts time.Time, scanNumber int64, candidates int, planOnly bool) Event {
	return Event{Type: TypeCleanupStarted, Timestamp: ts, ScanNumber: scanNumber, Candidates: intp(candidates), PlanOnly: planOnly}
}

// CleanupCompleted reports how many processes were signalled and how many
// PTYs they held.
func CleanupCompleted(ts time.Time, scanNumber int64, killed, freed int, planOnly bool) Event {
	return Event{Type: TypeCleanupCompleted, Timestamp: ts, ScanNumber: scanNumber, KilledCount: intp(killed), FreedPTYs: intp(freed), PlanOnly: planOnly}
}

// Emitter consumes events.
type Emitter interface {
	Emit(Event) error
}

// Writer emits one JSON line per event to an io.Writer.
type Writer struct {
	mu sync.Mutex
	w  io.Writer
}

// NewWriter wraps w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// Emit implements Emitter.
func (w *Writer) Emit(e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshaling event: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("writing event: %w", err)
	}
	return nil
}

// FileLog appends events to a JSONL file, opening it per write so that
// external rotation is picked up.
type FileLog struct {
	path string
	mu   sync.Mutex
}

// NewFileLog creates a log at path.
func NewFileLog(path string) *FileLog {
	return &FileLog{path: path}
}

// Path returns the log location.
func (l *FileLog) Path() string { return l.path }

// Emit implements Emitter.
func (l *FileLog) Emit(e Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(l.path), 0755); err != nil {
		return fmt.Errorf("creating event log directory: %w", err)
	}
	f, err := os.OpenFile(l.path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("opening event log: %w", err)
	}
	defer f.Close()

	return NewWriter(f).Emit(e)
}

// Multi fans events out to several emitters and returns the first error.
type Multi []Emitter

// Emit implements Emitter.
func (m Multi) Emit(e Event) error {
	var first error
	for _, em := range m {
		if err := em.Emit(e); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Discard drops every event.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(Event) error { return nil }
