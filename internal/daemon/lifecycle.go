package daemon

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"golang.org/x/sys/unix"

	"github.com/honkhq/honk/internal/cache"
	"github.com/honkhq/honk/internal/config"
)

var (
	// ErrAlreadyRunning means another process holds the daemon lock.
	ErrAlreadyRunning = errors.New("daemon already running")
	// ErrNotRunning means no live daemon was found.
	ErrNotRunning = errors.New("daemon is not running")
	// ErrDaemonStuck means the daemon outlived the stop grace period.
	ErrDaemonStuck = errors.New("daemon did not exit within the grace period")
)

// stopPollInterval is how often Stop re-checks liveness.
const stopPollInterval = 100 * time.Millisecond

// Lock is the single-writer claim on a state directory: the flock plus the
// PID file naming its holder.
type Lock struct {
	fl      *flock.Flock
	pidFile string
}

// Acquire takes the daemon lock without blocking and writes the PID file.
// The foreground watch loop takes the same lock, so at most one process
// writes the cache.
func Acquire(paths config.Paths) (*Lock, error) {
	if err := os.MkdirAll(paths.Dir, 0755); err != nil {
		return nil, fmt.Errorf("creating state directory: %w", err)
	}

	fl := flock.New(paths.LockFile)
	locked, err := fl.TryLock()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("%w (lock %s held by another process)", ErrAlreadyRunning, paths.LockFile)
	}

	if err := os.WriteFile(paths.PIDFile, []byte(strconv.Itoa(os.Getpid())), 0644); err != nil {
		_ = fl.Unlock()
		return nil, fmt.Errorf("writing PID file: %w", err)
	}
	return &Lock{fl: fl, pidFile: paths.PIDFile}, nil
}

// Release removes the PID file and drops the lock.
func (l *Lock) Release() error {
	_ = os.Remove(l.pidFile) // best-effort cleanup
	return l.fl.Unlock()
}

// Serve runs d under the daemon lock until ctx is cancelled or SIGTERM or
// SIGINT arrives. configPath, when set, is watched and reloaded.
func Serve(ctx context.Context, d *Daemon, configPath string) (Summary, error) {
	lock, err := Acquire(d.paths)
	if err != nil {
		return Summary{}, err
	}
	defer func() { _ = lock.Release() }()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGTERM, os.Interrupt)
	defer stop()

	if configPath != "" {
		w, err := WatchConfig(ctx, configPath, d.log, d.Reload)
		if err != nil {
			d.log.Warnf("config hot reload disabled: %v", err)
		} else {
			defer func() { _ = w.Close() }()
		}
	}

	return d.Run(ctx)
}

// IsRunning checks the PID file and verifies the process is alive and
// still holds the lock. Stale PID files are removed.
// The flock is the authoritative guard; this is for status and stop.
func IsRunning(paths config.Paths) (bool, int, error) {
	data, err := os.ReadFile(paths.PIDFile)
	if err != nil {
		if os.IsNotExist(err) {
			return false, 0, nil
		}
		return false, 0, fmt.Errorf("reading PID file: %w", err)
	}

	pidStr := strings.TrimSpace(string(data))
	pid, err := strconv.Atoi(pidStr)
	if err != nil || pid <= 0 {
		return false, 0, fmt.Errorf("invalid PID in file %q", pidStr)
	}

	if !alive(pid) || !lockHeld(paths.LockFile) {
		// Process gone, or the pid was reused by something that is not us.
		_ = os.Remove(paths.PIDFile)
		return false, 0, nil
	}
	return true, pid, nil
}

// alive probes pid with signal 0. EPERM still means the process exists.
func alive(pid int) bool {
	err := unix.Kill(pid, 0)
	return err == nil || errors.Is(err, unix.EPERM)
}

// lockHeld reports whether some process holds the lock file.
func lockHeld(path string) bool {
	fl := flock.New(path)
	locked, err := fl.TryLock()
	if err != nil {
		// Can't tell; trust the pid probe.
		return true
	}
	if locked {
		_ = fl.Unlock()
		return false
	}
	return true
}

// Stop sends SIGTERM and waits up to grace for the daemon to exit. It never
// escalates to SIGKILL; a daemon still alive after grace is ErrDaemonStuck.
func Stop(paths config.Paths, grace time.Duration) (int, error) {
	running, pid, err := IsRunning(paths)
	if err != nil {
		return 0, err
	}
	if !running {
		return 0, ErrNotRunning
	}

	if err := unix.Kill(pid, unix.SIGTERM); err != nil {
		if errors.Is(err, unix.ESRCH) {
			return pid, nil
		}
		return pid, fmt.Errorf("sending SIGTERM: %w", err)
	}

	deadline := time.Now().Add(grace)
	for {
		if !alive(pid) {
			return pid, nil
		}
		if time.Now().After(deadline) {
			return pid, fmt.Errorf("%w (pid %d, waited %v)", ErrDaemonStuck, pid, grace)
		}
		time.Sleep(stopPollInterval)
	}
}

// StatusReport describes the daemon and its cache.
type StatusReport struct {
	Running   bool          `json:"running"`
	PID       int           `json:"pid,omitempty"`
	CacheAge  time.Duration `json:"cache_age_ns,omitempty"`
	HasCache  bool          `json:"has_cache"`
	Stale     bool          `json:"stale"`
	LastScan  time.Time     `json:"last_scan,omitzero"`
	ScanCount int64         `json:"scan_number,omitempty"`
	TotalPTYs int           `json:"total_ptys"`
	State     *State        `json:"state,omitempty"`
}

// Status gathers liveness, cache freshness and the saved state. The cache
// is stale when it is older than twice the scan interval.
func Status(paths config.Paths, interval time.Duration, now time.Time) (*StatusReport, error) {
	running, pid, err := IsRunning(paths)
	if err != nil {
		return nil, err
	}
	r := &StatusReport{Running: running, PID: pid}

	if f, err := cache.Load(paths.Cache); err == nil {
		r.HasCache = true
		r.CacheAge = f.Age(now)
		r.Stale = interval > 0 && r.CacheAge > 2*interval
		r.LastScan = f.Timestamp
		r.ScanCount = f.ScanNumber
		r.TotalPTYs = f.TotalPTYs
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	state, err := LoadState(paths.StateFile)
	if err != nil {
		return nil, err
	}
	if !state.StartedAt.IsZero() {
		r.State = state
	}
	return r, nil
}
