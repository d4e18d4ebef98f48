package safety

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/honkhq/honk/internal/ptyscan"
)

var testPolicy = Policy{
	LowPIDFloor:        100,
	InitPID:            1,
	OrphanPTYThreshold: 1,
	ProtectedNames:     []string{"launchd", "WindowServer", "sshd"},
}

func userRecord(pid int) ptyscan.ProcessRecord {
	return ptyscan.ProcessRecord{
		PID:                 pid,
		Command:             "node",
		PPID:                ptyscan.Ptr(5000),
		PTYs:                []string{"/dev/ttys001"},
		OwnerUID:            ptyscan.Ptr(501),
		ControllingTerminal: ptyscan.No,
	}
}

func TestEvaluate(t *testing.T) {
	caller := NewCaller(9000, 501, []int{8000, 7000, 1})

	tests := []struct {
		name    string
		mutate  func(r *ptyscan.ProcessRecord)
		safe    bool
		reasons []Reason
		notes   []Reason
	}{
		{
			name:   "plain user process is safe",
			mutate: func(r *ptyscan.ProcessRecord) {},
			safe:   true,
		},
		{
			name:    "self",
			mutate:  func(r *ptyscan.ProcessRecord) { r.PID = 9000 },
			reasons: []Reason{SelfOrAncestor},
		},
		{
			name:    "ancestor",
			mutate:  func(r *ptyscan.ProcessRecord) { r.PID = 7000 },
			reasons: []Reason{SelfOrAncestor},
		},
		{
			name:    "controlling terminal",
			mutate:  func(r *ptyscan.ProcessRecord) { r.ControllingTerminal = ptyscan.Yes },
			reasons: []Reason{ControllingTerminal},
		},
		{
			name:    "unknown controlling terminal counts as attached",
			mutate:  func(r *ptyscan.ProcessRecord) { r.ControllingTerminal = ptyscan.Unknown },
			reasons: []Reason{ControllingTerminal},
		},
		{
			name:    "low pid",
			mutate:  func(r *ptyscan.ProcessRecord) { r.PID = 42 },
			reasons: []Reason{SystemCritical},
		},
		{
			name:    "protected name is case-insensitive on basename",
			mutate:  func(r *ptyscan.ProcessRecord) { r.Command = "/System/Library/windowserver" },
			reasons: []Reason{SystemCritical},
		},
		{
			name:    "unknown owner",
			mutate:  func(r *ptyscan.ProcessRecord) { r.OwnerUID = nil },
			reasons: []Reason{SystemCritical},
		},
		{
			name:    "other user's process",
			mutate:  func(r *ptyscan.ProcessRecord) { r.OwnerUID = ptyscan.Ptr(0) },
			reasons: []Reason{SystemCritical},
		},
		{
			name:   "zombie is a note only",
			mutate: func(r *ptyscan.ProcessRecord) { r.Zombie = true },
			safe:   true,
			notes:  []Reason{Zombie},
		},
		{
			name: "orphan above threshold is a note only",
			mutate: func(r *ptyscan.ProcessRecord) {
				r.PPID = ptyscan.Ptr(1)
				r.PTYs = []string{"/dev/ttys001", "/dev/ttys002"}
			},
			safe:  true,
			notes: []Reason{Orphan},
		},
		{
			name:   "orphan at threshold is not marked",
			mutate: func(r *ptyscan.ProcessRecord) { r.PPID = ptyscan.Ptr(1) },
			safe:   true,
		},
		{
			name: "all protections collected in precedence order",
			mutate: func(r *ptyscan.ProcessRecord) {
				r.PID = 8000
				r.ControllingTerminal = ptyscan.Unknown
				r.OwnerUID = nil
				r.Zombie = true
			},
			reasons: []Reason{SelfOrAncestor, ControllingTerminal, SystemCritical},
			notes:   []Reason{Zombie},
		},
	}

	e := NewEvaluator(testPolicy)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := userRecord(6000)
			tt.mutate(&rec)
			v := e.Evaluate(rec, caller)
			assert.Equal(t, rec.PID, v.PID)
			assert.Equal(t, tt.safe, v.Safe)
			assert.Equal(t, tt.reasons, v.Reasons)
			assert.Equal(t, tt.notes, v.Notes)
		})
	}
}

func TestEvaluate_RootCallerMayActOnOtherUsers(t *testing.T) {
	e := NewEvaluator(testPolicy)
	rec := userRecord(6000)
	v := e.Evaluate(rec, NewCaller(9000, 0, nil))
	assert.True(t, v.Safe)
}

func TestWithCritical(t *testing.T) {
	e := NewEvaluator(testPolicy).WithCritical(func(rec ptyscan.ProcessRecord, _ Caller) bool {
		return rec.Command == "node"
	})
	v := e.Evaluate(userRecord(6000), NewCaller(1, 501, nil))
	assert.Equal(t, []Reason{SystemCritical}, v.Reasons)
}

func TestEvaluateAll(t *testing.T) {
	snap := ptyscan.NewSnapshot(time.Time{}, 1, []ptyscan.ProcessRecord{
		userRecord(6000),
		userRecord(6001),
	})
	verdicts := NewEvaluator(testPolicy).EvaluateAll(snap, NewCaller(6001, 501, nil))
	assert.Len(t, verdicts, 2)
	assert.True(t, verdicts[6000].Safe)
	assert.False(t, verdicts[6001].Safe)
}

func TestReason_Text(t *testing.T) {
	b, err := ControllingTerminal.MarshalText()
	assert.NoError(t, err)
	assert.Equal(t, "controlling_terminal", string(b))
	assert.Equal(t, "unknown", Reason(99).String())
	assert.True(t, SystemCritical.Blocking())
	assert.False(t, Orphan.Blocking())
}

func TestEvaluate_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pid := rapid.IntRange(1, 100000).Draw(t, "pid")
		ptys := rapid.IntRange(1, 20).Draw(t, "ptys")
		rec := ptyscan.ProcessRecord{
			PID:                 pid,
			Command:             rapid.SampledFrom([]string{"node", "zsh", "sshd", ""}).Draw(t, "cmd"),
			PTYs:                make([]string, ptys),
			ControllingTerminal: ptyscan.Tristate(rapid.IntRange(0, 2).Draw(t, "ctty")),
			Zombie:              rapid.Bool().Draw(t, "zombie"),
		}
		if rapid.Bool().Draw(t, "ownerKnown") {
			rec.OwnerUID = ptyscan.Ptr(rapid.IntRange(0, 2).Draw(t, "owner"))
		}
		if rapid.Bool().Draw(t, "ppidKnown") {
			rec.PPID = ptyscan.Ptr(rapid.IntRange(0, 3).Draw(t, "ppid"))
		}
		var ancestors []int
		if rapid.Bool().Draw(t, "isAncestor") {
			ancestors = append(ancestors, pid)
		}
		caller := NewCaller(rapid.IntRange(1, 100000).Draw(t, "caller"), rapid.IntRange(0, 2).Draw(t, "uid"), ancestors)

		v := NewEvaluator(testPolicy).Evaluate(rec, caller)

		if v.Safe != (len(v.Reasons) == 0) {
			t.Fatalf("safe=%v but reasons=%v", v.Safe, v.Reasons)
		}
		if (pid == caller.PID || caller.Ancestry[pid]) && v.Safe {
			t.Fatalf("self or ancestor %d judged safe", pid)
		}
		if rec.ControllingTerminal != ptyscan.No && v.Safe {
			t.Fatalf("ctty=%v judged safe", rec.ControllingTerminal)
		}
		if rec.OwnerUID == nil && v.Safe {
			t.Fatal("unknown owner judged safe")
		}
		for _, r := range v.Reasons {
			if !r.Blocking() {
				t.Fatalf("non-blocking reason %v in Reasons", r)
			}
		}
	})
}
