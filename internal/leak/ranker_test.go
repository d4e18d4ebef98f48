package leak

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"pgregory.net/rapid"

	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/safety"
)

var testWeights = Weights{PTY: 1, Age: 0.001, Pattern: 5, Orphan: 3, Activity: 0.5, Memory: 0.01}

var testPolicy = safety.Policy{InitPID: 1, OrphanPTYThreshold: 1}

func TestRanker_Score(t *testing.T) {
	r := NewRanker(testWeights, testPolicy)
	rec := ptyscan.ProcessRecord{
		PID:        10,
		PTYs:       ptys(4),
		PPID:       ptyscan.Ptr(1),
		AgeSeconds: ptyscan.Ptr(int64(1000)),
		CPUPercent: ptyscan.Ptr(2.0),
		MemoryMB:   ptyscan.Ptr(100.0),
	}
	got := r.Score(rec, Verdict{PID: 10, MatchedPattern: "copilot"})
	// 4 + 1 + 5 + 3 - 1 - 1
	assert.InDelta(t, 11.0, got, 1e-9)
}

func TestRanker_ScoreMissingFieldsContributeZero(t *testing.T) {
	r := NewRanker(testWeights, testPolicy)
	rec := ptyscan.ProcessRecord{PID: 10, PTYs: ptys(4)}
	assert.InDelta(t, 4.0, r.Score(rec, Verdict{PID: 10}), 1e-9)
}

func TestRanker_RankOrdersAndBreaksTies(t *testing.T) {
	snap := ptyscan.NewSnapshot(time.Time{}, 1, []ptyscan.ProcessRecord{
		{PID: 30, PTYs: ptys(9)},
		{PID: 20, PTYs: ptys(9)},
		{PID: 10, PTYs: ptys(12)},
		{PID: 40, PTYs: ptys(1)},
	})
	verdicts := []Verdict{
		{PID: 30, Category: HeavyUser},
		{PID: 20, Category: HeavyUser},
		{PID: 10, Category: LeakCandidate},
		{PID: 40, Category: Normal},
		{PID: 99, Category: LeakCandidate}, // not in snapshot
	}

	got := NewRanker(testWeights, testPolicy).Rank(verdicts, snap)
	assert.Equal(t, []Candidate{
		{PID: 10, Score: 12, Rank: 1},
		{PID: 20, Score: 9, Rank: 2},
		{PID: 30, Score: 9, Rank: 3},
	}, got)
}

func TestRanker_EmptyInput(t *testing.T) {
	snap := ptyscan.NewSnapshot(time.Time{}, 1, nil)
	assert.Empty(t, NewRanker(testWeights, testPolicy).Rank(nil, snap))
}

func TestRanker_DeterministicUnderPermutation(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 25).Draw(t, "n")
		var recs []ptyscan.ProcessRecord
		var verdicts []Verdict
		for i := 0; i < n; i++ {
			pid := 100 + i
			rec := ptyscan.ProcessRecord{PID: pid, PTYs: ptys(rapid.IntRange(1, 6).Draw(t, "ptys"))}
			if rapid.Bool().Draw(t, "hasAge") {
				rec.AgeSeconds = ptyscan.Ptr(int64(rapid.IntRange(0, 5000).Draw(t, "age")))
			}
			if rapid.Bool().Draw(t, "orphan") {
				rec.PPID = ptyscan.Ptr(1)
			}
			recs = append(recs, rec)
			verdicts = append(verdicts, Verdict{
				PID:      pid,
				Category: Category(rapid.IntRange(0, 2).Draw(t, "cat")),
			})
		}
		snap := ptyscan.NewSnapshot(time.Time{}, 1, recs)
		r := NewRanker(testWeights, testPolicy)

		first := r.Rank(verdicts, snap)

		shuffled := append([]Verdict(nil), verdicts...)
		rng := rand.New(rand.NewSource(rapid.Int64().Draw(t, "seed")))
		rng.Shuffle(len(shuffled), func(i, j int) { shuffled[i], shuffled[j] = shuffled[j], shuffled[i] })
		second := r.Rank(shuffled, snap)

		if len(first) != len(second) {
			t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
		}
		for i := range first {
			if first[i] != second[i] {
				t.Fatalf("position %d differs: %+v vs %+v", i, first[i], second[i])
			}
			if first[i].Rank != i+1 {
				t.Fatalf("rank %d at position %d", first[i].Rank, i)
			}
			if i > 0 {
				prev := first[i-1]
				if prev.Score < first[i].Score || (prev.Score == first[i].Score && prev.PID > first[i].PID) {
					t.Fatalf("order violated at %d: %+v then %+v", i, prev, first[i])
				}
			}
		}
	})
}
