package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/honkhq/honk/internal/util"
)

// State is the daemon's self-report, rewritten after every cycle.
type State struct {
	Running        bool      `json:"running"`
	PID            int       `json:"pid"`
	StartedAt      time.Time `json:"started_at"`
	LastCycle      time.Time `json:"last_cycle,omitzero"`
	LastScanNumber int64     `json:"last_scan_number"`
	LastTotalPTYs  int       `json:"last_total_ptys"`
	LastError      string    `json:"last_error,omitempty"`
	LastErrorAt    time.Time `json:"last_error_at,omitzero"`
	Cycles         int       `json:"cycles"`
	Cleanups       int       `json:"cleanups"`
	Signalled      int       `json:"signalled"`
}

// LoadState reads path. A missing file yields an empty state.
func LoadState(path string) (*State, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &State{}, nil
		}
		return nil, fmt.Errorf("reading state: %w", err)
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parsing state: %w", err)
	}
	return &s, nil
}

// SaveState writes s atomically.
func SaveState(path string, s *State) error {
	return util.AtomicWriteJSON(path, s)
}
