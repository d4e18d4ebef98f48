package daemon

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/cleanup"
	"github.com/honkhq/honk/internal/clock"
	"github.com/honkhq/honk/internal/config"
	"github.com/honkhq/honk/internal/events"
	"github.com/honkhq/honk/internal/ptyscan"
	"github.com/honkhq/honk/internal/watchdog"
)

const testUID = 501

var start = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu    sync.Mutex
	rows  []ptyscan.RawProcess
	err   error
	calls int
}

func (f *fakeSource) Name() string { return "fake" }

func (f *fakeSource) Query(context.Context) ([]ptyscan.RawProcess, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.rows, f.err
}

func (f *fakeSource) set(rows []ptyscan.RawProcess, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rows, f.err = rows, err
}

type noLineage struct{}

func (noLineage) Ancestors(context.Context, int) ([]int, error) { return nil, nil }

type fakeSender struct {
	mu   sync.Mutex
	sent []int
}

func (f *fakeSender) Terminate(_ context.Context, pid int) cleanup.SignalResult {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, pid)
	return cleanup.SignalResult{Status: cleanup.SignalSuccess}
}

// syncBuffer lets the test read events while the loop writes them.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) events(t *testing.T) []string {
	t.Helper()
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	sc := bufio.NewScanner(bytes.NewReader(b.buf.Bytes()))
	for sc.Scan() {
		var e map[string]any
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e["event"].(string))
	}
	return out
}

func handles(n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("/dev/pts/%d", i)
	}
	return out
}

func leakyRows() []ptyscan.RawProcess {
	owner := ptyscan.Ptr(testUID)
	return []ptyscan.RawProcess{
		{PID: 1, Command: "zsh", Handles: handles(1), OwnerUID: owner, ControllingTerminal: ptyscan.Yes},
		{PID: 2, Command: "node", Args: []string{"node", "copilot-agent"}, Handles: handles(15), PPID: ptyscan.Ptr(1), OwnerUID: owner, ControllingTerminal: ptyscan.No},
		{PID: 3, Command: "node", Handles: handles(2), PPID: ptyscan.Ptr(1), OwnerUID: owner, ControllingTerminal: ptyscan.No, Zombie: true},
	}
}

type harness struct {
	d      *Daemon
	clk    *clock.Fake
	src    *fakeSource
	sender *fakeSender
	out    *syncBuffer
	paths  config.Paths
}

func newHarness(t *testing.T, mutate func(*config.Config)) *harness {
	t.Helper()
	cfg := config.Default()
	cfg.Safety.LowPIDFloor = 0
	cfg.ScanInterval = 10 * time.Second
	if mutate != nil {
		mutate(cfg)
	}

	h := &harness{
		clk:    clock.NewFake(start),
		src:    &fakeSource{rows: leakyRows()},
		sender: &fakeSender{},
		out:    &syncBuffer{},
		paths:  config.NewPaths(t.TempDir()),
	}
	p, err := watchdog.New(cfg, watchdog.Deps{
		Source:  h.src,
		Lineage: noLineage{},
		Sender:  h.sender,
		Clock:   h.clk,
		SelfPID: 4242,
		SelfUID: ptyscan.Ptr(testUID),
	})
	require.NoError(t, err)

	h.d, err = New(Options{
		Config:   cfg,
		Paths:    h.paths,
		Pipeline: p,
		Events:   events.NewWriter(h.out),
		Clock:    h.clk,
	})
	require.NoError(t, err)
	return h
}

type runResult struct {
	summary Summary
	err     error
}

func (h *harness) start(ctx context.Context) <-chan runResult {
	done := make(chan runResult, 1)
	go func() {
		s, err := h.d.Run(ctx)
		done <- runResult{s, err}
	}()
	return done
}

func (h *harness) waitSleep(t *testing.T) {
	t.Helper()
	select {
	case <-h.clk.Sleeps():
	case <-time.After(5 * time.Second):
		t.Fatal("daemon never reached the sleep phase")
	}
}

func wait(t *testing.T, done <-chan runResult) runResult {
	t.Helper()
	select {
	case r := <-done:
		return r
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
		return runResult{}
	}
}

func TestRun_StopBeforeFirstInterval(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	h.waitSleep(t)
	assert.Equal(t, PhaseSleeping, h.d.Phase())
	cancel()
	r := wait(t, done)

	require.NoError(t, r.err)
	assert.Equal(t, Summary{Cycles: 1}, r.summary)
	assert.Empty(t, h.sender.sent)
	assert.Equal(t, PhaseIdle, h.d.Phase())

	f, err := cache.Load(h.paths.Cache)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.ScanNumber)
	assert.Equal(t, 18, f.TotalPTYs)
	assert.Empty(t, f.AutoKilled)

	assert.Equal(t, []string{"scan"}, h.out.events(t))

	st, err := LoadState(h.paths.StateFile)
	require.NoError(t, err)
	assert.False(t, st.Running)
	assert.Equal(t, 1, st.Cycles)
}

func TestRun_CleansUpWhenOverMax(t *testing.T) {
	h := newHarness(t, func(c *config.Config) { c.MaxPTYs = 10 })
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)

	h.waitSleep(t)
	cancel()
	r := wait(t, done)
	require.NoError(t, r.err)

	assert.Equal(t, []int{2}, h.sender.sent)
	assert.Equal(t, Summary{Cycles: 1, Cleanups: 1, Signalled: 1}, r.summary)
	assert.Equal(t, []string{"scan", "threshold_exceeded", "cleanup_started", "cleanup_completed"}, h.out.events(t))

	f, err := cache.Load(h.paths.Cache)
	require.NoError(t, err)
	assert.Equal(t, []int{2}, f.AutoKilled)
	require.Len(t, f.SuspectedLeaks, 1)
	assert.Equal(t, 2, f.SuspectedLeaks[0].PID)
}

func TestRun_PlanOnlySignalsNothing(t *testing.T) {
	h := newHarness(t, func(c *config.Config) {
		c.MaxPTYs = 10
		c.PlanOnly = true
	})
	res, err := h.d.Cycle(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Outcomes, 1)
	assert.Equal(t, cleanup.PlannedOnly, res.Outcomes[0].Action)
	assert.Empty(t, h.sender.sent)
}

func TestRun_ToolUnavailableRetriesNextInterval(t *testing.T) {
	h := newHarness(t, nil)
	h.src.set(nil, errors.New("lsof: command not found"))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := h.start(ctx)

	h.waitSleep(t)
	st, err := LoadState(h.paths.StateFile)
	require.NoError(t, err)
	assert.Contains(t, st.LastError, "lsof")
	_, err = os.Stat(h.paths.Cache)
	assert.True(t, os.IsNotExist(err), "no cache without a snapshot")

	h.src.set(leakyRows(), nil)
	h.clk.Advance(10 * time.Second)
	h.waitSleep(t)

	st, err = LoadState(h.paths.StateFile)
	require.NoError(t, err)
	assert.Empty(t, st.LastError)
	assert.Equal(t, int64(1), st.LastScanNumber)

	cancel()
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 2, r.summary.Cycles)
}

func TestRun_ResumesScanNumbering(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.d.Cycle(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitSleep(t)
	cancel()
	wait(t, done)

	f, err := cache.Load(h.paths.Cache)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.ScanNumber)
}

func TestRun_RefusesSecondLoop(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitSleep(t)

	_, err := h.d.Run(ctx)
	assert.ErrorIs(t, err, errLoopActive)

	cancel()
	wait(t, done)
}

func TestReload_AppliedAtCycleBoundary(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitSleep(t)

	next := config.Default()
	next.Safety.LowPIDFloor = 0
	next.MaxPTYs = 5
	next.ScanInterval = 10 * time.Second
	h.d.Reload(next)

	h.clk.Advance(10 * time.Second)
	h.waitSleep(t)
	cancel()
	r := wait(t, done)

	assert.Equal(t, 1, r.summary.Cleanups)
	assert.Equal(t, []int{2}, h.sender.sent)
}

func TestCycle_CacheWriteFailureKeepsPreviousCache(t *testing.T) {
	h := newHarness(t, nil)
	_, err := h.d.Cycle(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(h.paths.Cache)
	require.NoError(t, err)

	// A non-empty directory where the temp file goes blocks the write even for root.
	blocker := h.paths.Cache + ".tmp"
	require.NoError(t, os.Mkdir(blocker, 0755))
	require.NoError(t, os.WriteFile(filepath.Join(blocker, "x"), nil, 0644))
	h.src.set(leakyRows()[:1], nil)

	res, err := h.d.Cycle(context.Background())
	require.NoError(t, err)
	assert.False(t, res.Persisted)

	st, err := LoadState(h.paths.StateFile)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(st.LastError, "persist:"), st.LastError)
	assert.Equal(t, int64(2), st.LastScanNumber)

	after, err := os.ReadFile(h.paths.Cache)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitSleep(t)
	h.clk.Advance(10 * time.Second)
	h.waitSleep(t)
	cancel()
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 4, r.summary.Cycles)

	after, err = os.ReadFile(h.paths.Cache)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestCycle_AppliesQueuedConfig(t *testing.T) {
	h := newHarness(t, nil)
	next := config.Default()
	next.Safety.LowPIDFloor = 0
	next.MaxPTYs = 5
	h.d.Reload(next)
	assert.Equal(t, 200, h.d.Config().MaxPTYs)

	res, err := h.d.Cycle(context.Background())
	require.NoError(t, err)
	assert.True(t, res.Over)
	assert.Equal(t, 5, h.d.Config().MaxPTYs)
	assert.Equal(t, []int{2}, h.sender.sent)
}

func TestCycle_ConcurrentWithRun(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := h.start(ctx)
	h.waitSleep(t)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			next := config.Default()
			next.Safety.LowPIDFloor = 0
			next.ScanInterval = 10 * time.Second
			h.d.Reload(next)
			_, err := h.d.Cycle(context.Background())
			assert.NoError(t, err)
		}()
	}
	h.clk.Advance(10 * time.Second)
	wg.Wait()

	cancel()
	r := wait(t, done)
	require.NoError(t, r.err)
	assert.Equal(t, 10*time.Second, h.d.Config().ScanInterval)
}

func TestPhase_String(t *testing.T) {
	assert.Equal(t, "cleaning_up", PhaseCleaningUp.String())
	assert.Equal(t, "phase(42)", Phase(42).String())
}

func TestAcquire_SecondWriterRefused(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	lock, err := Acquire(paths)
	require.NoError(t, err)

	_, err = Acquire(paths)
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	running, pid, err := IsRunning(paths)
	require.NoError(t, err)
	assert.True(t, running)
	assert.Equal(t, os.Getpid(), pid)

	require.NoError(t, lock.Release())
	_, err = os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestIsRunning_StalePIDFileRemoved(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644))

	// Alive pid, but nobody holds the lock.
	running, _, err := IsRunning(paths)
	require.NoError(t, err)
	assert.False(t, running)
	_, err = os.Stat(paths.PIDFile)
	assert.True(t, os.IsNotExist(err))
}

func TestIsRunning_CorruptPIDFile(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	require.NoError(t, os.WriteFile(paths.PIDFile, []byte("nope"), 0644))
	_, _, err := IsRunning(paths)
	assert.Error(t, err)
}

func TestStop_NotRunning(t *testing.T) {
	_, err := Stop(config.NewPaths(t.TempDir()), time.Second)
	assert.ErrorIs(t, err, ErrNotRunning)
}

// startHolder runs a child, points the PID file at it, and holds the lock
// on its behalf.
func startHolder(t *testing.T, script string) (config.Paths, *exec.Cmd) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("unix signals")
	}
	paths := config.NewPaths(t.TempDir())
	lock, err := Acquire(paths)
	require.NoError(t, err)
	t.Cleanup(func() { _ = lock.Release() })

	cmd := exec.Command("sh", "-c", script)
	require.NoError(t, cmd.Start())
	reaped := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(reaped)
	}()
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		<-reaped
	})
	require.NoError(t, os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(cmd.Process.Pid)), 0644))
	return paths, cmd
}

func TestStop_GracefulExit(t *testing.T) {
	paths, cmd := startHolder(t, "exec sleep 30")
	pid, err := Stop(paths, 5*time.Second)
	require.NoError(t, err)
	assert.Equal(t, cmd.Process.Pid, pid)
}

func TestStop_StuckDaemonNotKilled(t *testing.T) {
	paths, cmd := startHolder(t, `trap "" TERM; while :; do sleep 1; done`)
	time.Sleep(100 * time.Millisecond) // let the trap install

	_, err := Stop(paths, 300*time.Millisecond)
	require.ErrorIs(t, err, ErrDaemonStuck)
	assert.True(t, alive(cmd.Process.Pid), "stop must not escalate")
}

func TestStatus_Staleness(t *testing.T) {
	paths := config.NewPaths(t.TempDir())
	f := &cache.File{Timestamp: start, ScanNumber: 7, TotalPTYs: 12}
	require.NoError(t, cache.Write(paths.Cache, f))
	require.NoError(t, SaveState(paths.StateFile, &State{StartedAt: start, LastError: "scan: boom"}))

	r, err := Status(paths, 30*time.Second, start.Add(45*time.Second))
	require.NoError(t, err)
	assert.False(t, r.Running)
	assert.True(t, r.HasCache)
	assert.False(t, r.Stale)
	assert.Equal(t, int64(7), r.ScanCount)
	require.NotNil(t, r.State)
	assert.Equal(t, "scan: boom", r.State.LastError)

	r, err = Status(paths, 30*time.Second, start.Add(61*time.Second))
	require.NoError(t, err)
	assert.True(t, r.Stale)
}

func TestStatus_NoCache(t *testing.T) {
	r, err := Status(config.NewPaths(t.TempDir()), 30*time.Second, start)
	require.NoError(t, err)
	assert.False(t, r.HasCache)
	assert.Nil(t, r.State)
}

func TestWatchConfig_ReloadsValidChanges(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, config.ConfigFileName)
	require.NoError(t, os.WriteFile(path, []byte("max_ptys = 100\n"), 0644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan *config.Config, 4)
	w, err := WatchConfig(ctx, path, nil, func(c *config.Config) { got <- c })
	require.NoError(t, err)
	defer w.Close()

	require.NoError(t, os.WriteFile(path, []byte("max_ptys = [\n"), 0644))
	require.NoError(t, os.WriteFile(path, []byte("max_ptys = 42\n"), 0644))

	deadline := time.After(5 * time.Second)
	for {
		select {
		case c := <-got:
			if c.MaxPTYs == 42 {
				return
			}
		case <-deadline:
			t.Fatal("reload never observed")
		}
	}
}

func TestSpawn_RefusesWhenRunning(t *testing.T) {
	paths, cmd := startHolder(t, "exec sleep 30")
	pid, err := Spawn(paths, "sh", "-c", "exit 0")
	require.ErrorIs(t, err, ErrAlreadyRunning)
	assert.Equal(t, cmd.Process.Pid, pid)
}

func TestSpawn_ChildExitsWithoutLock(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("unix sessions")
	}
	_, err := Spawn(config.NewPaths(t.TempDir()), "sh", "-c", "exit 3")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrAlreadyRunning)
}
