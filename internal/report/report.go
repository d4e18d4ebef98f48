// Package report groups a snapshot into per-application PTY usage.
package report

import (
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/ptyscan"
)

var interpreters = map[string]bool{
	"node": true, "python": true, "python3": true, "ruby": true,
	"perl": true, "bun": true, "deno": true,
}

var shells = map[string]bool{
	"sh": true, "bash": true, "zsh": true, "fish": true, "login": true, "tmux": true,
}

// Row is one PTY holder.
type Row struct {
	PID            int           `json:"pid"`
	Identity       string        `json:"identity"`
	Command        string        `json:"command"`
	PTYCount       int           `json:"pty_count"`
	Category       leak.Category `json:"category"`
	MatchedPattern string        `json:"matched_pattern,omitempty"`
}

// Group is the PTY usage attributed to one application identity.
type Group struct {
	Name           string `json:"name"`
	PTYs           int    `json:"ptys"`
	Processes      int    `json:"processes"`
	HeavyUsers     int    `json:"heavy_users"`
	LeakCandidates int    `json:"leak_candidates"`
	PIDs           []int  `json:"pids"`
}

// Aggregate is the full report.
type Aggregate struct {
	TakenAt        time.Time `json:"taken_at"`
	ScanNumber     int64     `json:"scan_number"`
	TotalPTYs      int       `json:"total_ptys"`
	ProcessCount   int       `json:"process_count"`
	HeavyUsers     int       `json:"heavy_users"`
	LeakCandidates int       `json:"leak_candidates"`
	Groups         []Group   `json:"groups"`
	Rows           []Row     `json:"processes"`
}

// Summarize builds the report for snap. Pids without a verdict count as Normal.
func Summarize(snap *ptyscan.Snapshot, verdicts map[int]leak.Verdict) Aggregate {
	agg := Aggregate{
		TakenAt:      snap.TakenAt(),
		ScanNumber:   snap.ScanNumber(),
		TotalPTYs:    snap.TotalPTYs(),
		ProcessCount: snap.ProcessCount(),
		Groups:       []Group{},
		Rows:         []Row{},
	}

	resolver := newResolver(snap)
	groups := make(map[string]*Group)

	for _, pid := range snap.PIDs() {
		rec, _ := snap.Get(pid)
		v := verdicts[pid]
		id := resolver.identity(pid)

		agg.Rows = append(agg.Rows, Row{
			PID:            pid,
			Identity:       id,
			Command:        rec.Command,
			PTYCount:       rec.PTYCount(),
			Category:       v.Category,
			MatchedPattern: v.MatchedPattern,
		})

		g, ok := groups[id]
		if !ok {
			g = &Group{Name: id}
			groups[id] = g
		}
		g.PTYs += rec.PTYCount()
		g.Processes++
		g.PIDs = append(g.PIDs, pid)

		switch v.Category {
		case leak.HeavyUser:
			agg.HeavyUsers++
			g.HeavyUsers++
		case leak.LeakCandidate:
			agg.LeakCandidates++
			g.LeakCandidates++
		}
	}

	for _, g := range groups {
		agg.Groups = append(agg.Groups, *g)
	}
	slices.SortFunc(agg.Groups, func(a, b Group) int {
		if a.PTYs != b.PTYs {
			return b.PTYs - a.PTYs
		}
		return strings.Compare(a.Name, b.Name)
	})
	slices.SortStableFunc(agg.Rows, func(a, b Row) int {
		return b.PTYCount - a.PTYCount
	})
	return agg
}

// FromCache builds a report from the daemon's cache. Categories come from
// the cache's heavy_users and suspected_leaks lists.
func FromCache(f *cache.File) Aggregate {
	verdicts := make(map[int]leak.Verdict)
	for _, e := range f.HeavyUsers {
		verdicts[e.PID] = leak.Verdict{PID: e.PID, Category: leak.HeavyUser}
	}
	for _, e := range f.SuspectedLeaks {
		verdicts[e.PID] = leak.Verdict{PID: e.PID, Category: leak.LeakCandidate}
	}
	return Summarize(f.Snapshot(), verdicts)
}

type resolver struct {
	snap *ptyscan.Snapshot
	memo map[int]string
}

func newResolver(snap *ptyscan.Snapshot) *resolver {
	return &resolver{snap: snap, memo: make(map[int]string)}
}

// identity resolves pid's application name. Shells under a known parent
// are attributed to that parent; seen guards against ppid cycles.
func (r *resolver) identity(pid int) string {
	id, _ := r.resolve(pid, map[int]bool{})
	return id
}

// resolve reports whether the walk was cut short by a cycle. Such results
// depend on where the walk started and are not memoized.
func (r *resolver) resolve(pid int, seen map[int]bool) (string, bool) {
	if id, ok := r.memo[pid]; ok {
		return id, false
	}
	rec, _ := r.snap.Get(pid)
	base := AppName(rec)

	id, cut := base, false
	seen[pid] = true
	if shells[baseName(rec.Command)] && rec.PPID != nil {
		if _, ok := r.snap.Get(*rec.PPID); ok {
			if seen[*rec.PPID] {
				cut = true
			} else {
				var parent string
				parent, cut = r.resolve(*rec.PPID, seen)
				id = parent + "/" + base
			}
		}
	}
	if !cut {
		r.memo[pid] = id
	}
	return id, cut
}

// AppName is the identity of a single process: its command basename, plus
// the script name for interpreters.
func AppName(rec ptyscan.ProcessRecord) string {
	name := baseName(rec.Command)
	if name == "" {
		name = "unknown"
	}
	if !interpreters[name] || len(rec.Args) < 2 {
		return name
	}
	for _, a := range rec.Args[1:] {
		if a == "" || strings.HasPrefix(a, "-") {
			continue
		}
		script := strings.TrimSuffix(baseName(a), filepath.Ext(a))
		if script == "index" || script == "main" {
			script = filepath.Base(filepath.Dir(a))
		}
		if script == "" || script == "." || script == "/" {
			break
		}
		return name + ":" + script
	}
	return name
}

func baseName(s string) string {
	s = strings.TrimPrefix(s, "-")
	if s == "" {
		return ""
	}
	return filepath.Base(s)
}
