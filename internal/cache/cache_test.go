package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/honkhq/honk/internal/leak"
	"github.com/honkhq/honk/internal/ptyscan"
)

var t0 = time.Date(2026, 5, 1, 9, 30, 0, 0, time.UTC)

func sampleSnapshot() *ptyscan.Snapshot {
	return ptyscan.NewSnapshot(t0, 7, []ptyscan.ProcessRecord{
		{PID: 1, Command: "zsh", PTYs: []string{"/dev/ttys000"}},
		{PID: 2, Command: "copilot", PTYs: []string{"/dev/ttys001", "/dev/ttys002", "/dev/ttys003"}},
		{PID: 3, Command: "tmux", PTYs: []string{"/dev/ttys004", "/dev/ttys005"}},
	})
}

func TestBuild(t *testing.T) {
	verdicts := map[int]leak.Verdict{
		1: {PID: 1, Category: leak.Normal},
		2: {PID: 2, Category: leak.LeakCandidate, MatchedPattern: "copilot"},
		3: {PID: 3, Category: leak.HeavyUser},
	}
	firstSeen := map[int]time.Time{2: t0.Add(-time.Hour)}

	f := Build(sampleSnapshot(), verdicts, firstSeen, []int{2})

	assert.Equal(t, t0, f.Timestamp)
	assert.Equal(t, int64(7), f.ScanNumber)
	assert.Equal(t, 6, f.TotalPTYs)
	assert.Equal(t, 3, f.ProcessCount)
	require.Len(t, f.Processes, 3)
	assert.Equal(t, t0, f.Processes[0].FirstSeen)
	assert.Equal(t, t0.Add(-time.Hour), f.Processes[1].FirstSeen)
	assert.Equal(t, t0, f.Processes[1].LastSeen)
	assert.Equal(t, []Process{f.Processes[2]}, f.HeavyUsers)
	assert.Equal(t, []Process{f.Processes[1]}, f.SuspectedLeaks)
	assert.Equal(t, t0.Add(-time.Hour), f.SuspectedLeaks[0].FirstSeen)
	assert.Equal(t, []int{2}, f.AutoKilled)
}

func TestBuild_DerivedListsShareProcessShape(t *testing.T) {
	snap := ptyscan.NewSnapshot(t0, 1, []ptyscan.ProcessRecord{
		{PID: 2, Command: "node", PTYs: []string{"/dev/pts/1", "/dev/pts/2"}},
		{PID: 3, Command: "tmux", PTYs: []string{"/dev/pts/3"}},
	})
	verdicts := map[int]leak.Verdict{
		2: {PID: 2, Category: leak.LeakCandidate},
		3: {PID: 3, Category: leak.HeavyUser},
	}
	data, err := json.Marshal(Build(snap, verdicts, nil, nil))
	require.NoError(t, err)

	var raw map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(data, &raw))
	doc := make(map[string][]map[string]any)
	for _, k := range []string{"processes", "heavy_users", "suspected_leaks"} {
		var list []map[string]any
		require.NoError(t, json.Unmarshal(raw[k], &list), k)
		require.NotEmpty(t, list, k)
		doc[k] = list
	}

	keys := func(m map[string]any) []string {
		out := make([]string, 0, len(m))
		for k := range m {
			out = append(out, k)
		}
		sort.Strings(out)
		return out
	}
	want := keys(doc["processes"][0])
	assert.Equal(t, []string{"command", "first_seen", "last_seen", "pid", "pty_count", "ptys"}, want)
	assert.Equal(t, want, keys(doc["suspected_leaks"][0]))
	assert.Equal(t, want, keys(doc["heavy_users"][0]))
	assert.Equal(t, []any{"/dev/pts/1", "/dev/pts/2"}, doc["suspected_leaks"][0]["ptys"])
}

func TestBuild_EmptySnapshotUsesEmptyLists(t *testing.T) {
	f := Build(ptyscan.NewSnapshot(t0, 1, nil), nil, nil, nil)
	assert.NotNil(t, f.Processes)
	assert.NotNil(t, f.HeavyUsers)
	assert.NotNil(t, f.SuspectedLeaks)
	assert.Nil(t, f.AutoKilled)
}

func TestWriteLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cache.json")
	f := Build(sampleSnapshot(), nil, nil, nil)
	require.NoError(t, Write(path, f))

	got, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, f.ScanNumber, got.ScanNumber)
	assert.True(t, f.Timestamp.Equal(got.Timestamp))
	assert.Equal(t, f.Processes[1].PTYs, got.Processes[1].PTYs)
	assert.Equal(t, 3*time.Second, got.Age(t0.Add(3*time.Second)))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.Is(err, os.ErrNotExist))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = Load(bad)
	assert.ErrorContains(t, err, "parsing cache")
}

func TestWrite_FailureIsErrCacheWrite(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "cache.json")
	require.NoError(t, os.Mkdir(target, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(target, "x"), nil, 0644))

	err := Write(target, Build(sampleSnapshot(), nil, nil, nil))
	assert.ErrorIs(t, err, ErrCacheWrite)
}

func TestSnapshotRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 15).Draw(t, "n")
		var recs []ptyscan.ProcessRecord
		for i := 0; i < n; i++ {
			count := rapid.IntRange(1, 5).Draw(t, "ptys")
			ptys := make([]string, count)
			for j := range ptys {
				ptys[j] = fmt.Sprintf("/dev/pts/%d", i*10+j)
			}
			recs = append(recs, ptyscan.ProcessRecord{
				PID:     200 + i,
				Command: rapid.StringMatching(`[a-z]{0,8}`).Draw(t, "cmd"),
				PTYs:    ptys,
			})
		}
		snap := ptyscan.NewSnapshot(t0, int64(rapid.IntRange(1, 1000).Draw(t, "scan")), recs)

		path := filepath.Join(os.TempDir(), fmt.Sprintf("honk-cache-%d.json", rapid.Int64().Draw(t, "file")))
		defer os.Remove(path)
		if err := Write(path, Build(snap, nil, nil, nil)); err != nil {
			t.Fatalf("write: %v", err)
		}
		loaded, err := Load(path)
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		back := loaded.Snapshot()

		if back.ScanNumber() != snap.ScanNumber() || !back.TakenAt().Equal(snap.TakenAt()) {
			t.Fatalf("header mismatch")
		}
		if back.TotalPTYs() != snap.TotalPTYs() || back.ProcessCount() != snap.ProcessCount() {
			t.Fatalf("totals mismatch")
		}
		for _, want := range snap.Records() {
			got, ok := back.Get(want.PID)
			if !ok {
				t.Fatalf("pid %d lost", want.PID)
			}
			if got.Command != want.Command || fmt.Sprint(got.PTYs) != fmt.Sprint(want.PTYs) {
				t.Fatalf("pid %d: got %+v want %+v", want.PID, got, want)
			}
		}
	})
}

func TestTracker(t *testing.T) {
	tr := NewTracker()
	tr.Seed(&File{Processes: []Process{
		{PID: 2, Command: "copilot", FirstSeen: t0.Add(-time.Hour)},
		{PID: 3, Command: "tmux", FirstSeen: t0.Add(-time.Minute)},
	}})

	snap := ptyscan.NewSnapshot(t0, 8, []ptyscan.ProcessRecord{
		{PID: 1, Command: "zsh", PTYs: []string{"/dev/ttys000"}},
		{PID: 2, Command: "copilot", PTYs: []string{"/dev/ttys001"}},
		{PID: 3, Command: "vim", PTYs: []string{"/dev/ttys004"}}, // pid reused
	})
	first := tr.Observe(snap)
	assert.Equal(t, t0, first[1])
	assert.Equal(t, t0.Add(-time.Hour), first[2])
	assert.Equal(t, t0, first[3])

	later := ptyscan.NewSnapshot(t0.Add(time.Minute), 9, []ptyscan.ProcessRecord{
		{PID: 1, Command: "zsh", PTYs: []string{"/dev/ttys000"}},
	})
	first = tr.Observe(later)
	assert.Equal(t, t0, first[1])
	assert.Len(t, tr.seen, 1)
}
