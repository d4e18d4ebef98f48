// Package safety decides, per process, whether the watchdog may ever signal
// it. The gate is fail-safe: an unknown fact counts as a protection.
package safety

import (
	"path/filepath"
	"strings"

	"github.com/honkhq/honk/internal/ptyscan"
)

// Reason is a protection or marker attached to a verdict.
type Reason int

const (
	SelfOrAncestor Reason = iota + 1
	ControllingTerminal
	SystemCritical
	Zombie
	Orphan
)

var reasonNames = map[Reason]string{
	SelfOrAncestor:      "self_or_ancestor",
	ControllingTerminal: "controlling_terminal",
	SystemCritical:      "system_critical",
	Zombie:              "zombie",
	Orphan:              "orphan",
}

func (r Reason) String() string {
	if s, ok := reasonNames[r]; ok {
		return s
	}
	return "unknown"
}

// MarshalText renders the reason name in JSON output.
func (r Reason) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

// Blocking reports whether the reason makes a process unsafe to signal.
func (r Reason) Blocking() bool {
	return r == SelfOrAncestor || r == ControllingTerminal || r == SystemCritical
}

// Verdict is the gate's decision for one pid. Reasons holds only blocking
// protections, so Safe is false exactly when Reasons is non-empty. Notes
// carries the Zombie and Orphan markers.
type Verdict struct {
	PID     int      `json:"pid"`
	Safe    bool     `json:"safe"`
	Reasons []Reason `json:"reasons,omitempty"`
	Notes   []Reason `json:"notes,omitempty"`
}

// Has reports whether r appears in Reasons or Notes.
func (v Verdict) Has(r Reason) bool {
	for _, x := range v.Reasons {
		if x == r {
			return true
		}
	}
	for _, x := range v.Notes {
		if x == r {
			return true
		}
	}
	return false
}

// Caller identifies the process running the watchdog.
type Caller struct {
	PID      int
	UID      int
	Ancestry map[int]bool
}

// NewCaller builds a Caller from an ancestor chain.
func NewCaller(pid, uid int, ancestors []int) Caller {
	set := make(map[int]bool, len(ancestors))
	for _, a := range ancestors {
		set[a] = true
	}
	return Caller{PID: pid, UID: uid, Ancestry: set}
}

// Policy holds the tunable parts of the SystemCritical and Orphan rules.
type Policy struct {
	LowPIDFloor        int
	InitPID            int
	OrphanPTYThreshold int
	ProtectedNames     []string
}

// CriticalFunc decides SystemCritical for a record.
type CriticalFunc func(rec ptyscan.ProcessRecord, caller Caller) bool

// IsCritical is the default SystemCritical rule: low pids, protected names,
// and processes whose owner is unknown or is another user (unless the
// caller is root).
func (p Policy) IsCritical(rec ptyscan.ProcessRecord, caller Caller) bool {
	if rec.PID < p.LowPIDFloor {
		return true
	}
	if p.isProtectedName(rec.Command) {
		return true
	}
	if rec.OwnerUID == nil {
		return true
	}
	if caller.UID != 0 && *rec.OwnerUID != caller.UID {
		return true
	}
	return false
}

func (p Policy) isProtectedName(command string) bool {
	if command == "" {
		return false
	}
	base := strings.ToLower(filepath.Base(command))
	for _, name := range p.ProtectedNames {
		if strings.ToLower(name) == base {
			return true
		}
	}
	return false
}

// IsOrphan reports a process adopted by init that holds more PTYs than the
// orphan threshold. Unknown parents are not orphans.
func (p Policy) IsOrphan(rec ptyscan.ProcessRecord) bool {
	return rec.PPID != nil && *rec.PPID == p.InitPID && len(rec.PTYs) > p.OrphanPTYThreshold
}

// Evaluator applies a Policy.
type Evaluator struct {
	policy   Policy
	critical CriticalFunc
}

// NewEvaluator returns an evaluator using policy.IsCritical.
func NewEvaluator(policy Policy) *Evaluator {
	return &Evaluator{policy: policy, critical: policy.IsCritical}
}

// WithCritical replaces the SystemCritical rule.
func (e *Evaluator) WithCritical(fn CriticalFunc) *Evaluator {
	return &Evaluator{policy: e.policy, critical: fn}
}

// Policy returns the evaluator's policy.
func (e *Evaluator) Policy() Policy { return e.policy }

// Evaluate collects every matching protection in precedence order.
func (e *Evaluator) Evaluate(rec ptyscan.ProcessRecord, caller Caller) Verdict {
	v := Verdict{PID: rec.PID}

	if rec.PID == caller.PID || caller.Ancestry[rec.PID] {
		v.Reasons = append(v.Reasons, SelfOrAncestor)
	}
	if rec.ControllingTerminal != ptyscan.No {
		v.Reasons = append(v.Reasons, ControllingTerminal)
	}
	if e.critical(rec, caller) {
		v.Reasons = append(v.Reasons, SystemCritical)
	}
	if rec.Zombie {
		v.Notes = append(v.Notes, Zombie)
	}
	if e.policy.IsOrphan(rec) {
		v.Notes = append(v.Notes, Orphan)
	}

	v.Safe = len(v.Reasons) == 0
	return v
}

// EvaluateAll returns a verdict for every record in the snapshot.
func (e *Evaluator) EvaluateAll(snap *ptyscan.Snapshot, caller Caller) map[int]Verdict {
	out := make(map[int]Verdict, snap.ProcessCount())
	for _, rec := range snap.Records() {
		out[rec.PID] = e.Evaluate(rec, caller)
	}
	return out
}
