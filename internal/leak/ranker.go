package leak

import (
	"sort"

	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/safety"
)

// Weights are the ranking score coefficients.
type Weights struct {
	PTY      float64
	Age      float64
	Pattern  float64
	Orphan   float64
	Activity float64
	Memory   float64
}

// WeightsFromConfig copies the configured weights.
func WeightsFromConfig(c config.RankingConfig) Weights {
	return Weights(c)
}

// Candidate is a ranked cleanup target. Rank starts at 1.
type Candidate struct {
	PID   int     `json:"pid"`
	Score float64 `json:"score"`
	Rank  int     `json:"rank"`
}

// Ranker scores non-Normal verdicts.
type Ranker struct {
	Weights Weights
	// Orphan decides the orphan term; nil disables it.
	Orphan func(ptyscan.ProcessRecord) bool
}

// NewRanker builds a ranker whose orphan term follows the safety policy.
func NewRanker(w Weights, policy safety.Policy) *Ranker {
	return &Ranker{Weights: w, Orphan: policy.IsOrphan}
}

// Score computes the weighted score. Unknown facts contribute zero.
func (r *Ranker) Score(rec ptyscan.ProcessRecord, v Verdict) float64 {
	w := r.Weights
	score := w.PTY * float64(len(rec.PTYs))
	if rec.AgeSeconds != nil {
		score += w.Age * float64(*rec.AgeSeconds)
	}
	if v.MatchedPattern != "" {
		score += w.Pattern
	}
	if r.Orphan != nil && r.Orphan(rec) {
		score += w.Orphan
	}
	if rec.CPUPercent != nil {
		score -= w.Activity * *rec.CPUPercent
	}
	if rec.MemoryMB != nil {
		score -= w.Memory * *rec.MemoryMB
	}
	return score
}

// Rank orders non-Normal verdicts by score descending, ties by pid
// ascending. Verdicts for pids missing from the snapshot are dropped.
func (r *Ranker) Rank(verdicts []Verdict, snap *ptyscan.Snapshot) []Candidate {
	var out []Candidate
	for _, v := range verdicts {
		if v.Category == Normal {
			continue
		}
		rec, ok := snap.Get(v.PID)
		if !ok {
			continue
		}
		out = append(out, Candidate{PID: v.PID, Score: r.Score(rec, v)})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].PID < out[j].PID
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
