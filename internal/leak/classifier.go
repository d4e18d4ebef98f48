// Package leak classifies PTY holders and ranks leak candidates for cleanup.
package leak

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/ptyscan"
)

// Category is the classifier's judgement of one process.
type Category int

const (
	Normal Category = iota
	HeavyUser
	LeakCandidate
)

func (c Category) String() string {
	switch c {
	case HeavyUser:
		return "heavy_user"
	case LeakCandidate:
		return "leak_candidate"
	default:
		return "normal"
	}
}

// MarshalText renders the category name in JSON output.
func (c Category) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Pattern is one row of the pattern table.
type Pattern struct {
	Name      string
	Threshold int
	re        *regexp.Regexp
}

// Matches reports whether the pattern matches the command or its arguments.
func (p Pattern) Matches(rec ptyscan.ProcessRecord) bool {
	if p.re == nil {
		return false
	}
	if rec.Command != "" && p.re.MatchString(rec.Command) {
		return true
	}
	return len(rec.Args) > 0 && p.re.MatchString(strings.Join(rec.Args, " "))
}

// PatternTable is ordered: the first matching pattern wins.
type PatternTable struct {
	Patterns []Pattern
	Generic  int
}

// NewPatternTable compiles the configured patterns case-insensitively.
func NewPatternTable(cfg config.ClassifierConfig) (PatternTable, error) {
	t := PatternTable{Generic: cfg.GenericThreshold}
	for _, pc := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + pc.Name)
		if err != nil {
			return PatternTable{}, fmt.Errorf("compiling pattern %q: %w", pc.Name, err)
		}
		t.Patterns = append(t.Patterns, Pattern{Name: pc.Name, Threshold: pc.Threshold, re: re})
	}
	return t, nil
}

// MustPatternTable is NewPatternTable for static tables; it panics on error.
func MustPatternTable(generic int, patterns ...config.PatternConfig) PatternTable {
	t, err := NewPatternTable(config.ClassifierConfig{GenericThreshold: generic, Patterns: patterns})
	if err != nil {
		panic(err)
	}
	return t
}

// Match returns the first pattern matching rec.
func (t PatternTable) Match(rec ptyscan.ProcessRecord) (Pattern, bool) {
	for _, p := range t.Patterns {
		if p.Matches(rec) {
			return p, true
		}
	}
	return Pattern{}, false
}

// Verdict is the classifier output for one pid.
type Verdict struct {
	PID            int      `json:"pid"`
	Category       Category `json:"category"`
	MatchedPattern string   `json:"matched_pattern,omitempty"`
	ThresholdUsed  int      `json:"threshold_used"`
}

// Classify compares the PTY count against the first matching pattern's
// threshold, then against the generic threshold. Counts equal to a
// threshold are not over it.
func Classify(rec ptyscan.ProcessRecord, table PatternTable) Verdict {
	count := len(rec.PTYs)
	v := Verdict{PID: rec.PID, Category: Normal, ThresholdUsed: table.Generic}

	if p, ok := table.Match(rec); ok {
		v.MatchedPattern = p.Name
		v.ThresholdUsed = p.Threshold
		if count > p.Threshold {
			v.Category = LeakCandidate
			return v
		}
	}
	if count > table.Generic {
		v.Category = HeavyUser
	}
	return v
}

// ClassifyAll classifies every record in the snapshot.
func ClassifyAll(snap *ptyscan.Snapshot, table PatternTable) map[int]Verdict {
	out := make(map[int]Verdict, snap.ProcessCount())
	for _, rec := range snap.Records() {
		out[rec.PID] = Classify(rec, table)
	}
	return out
}
