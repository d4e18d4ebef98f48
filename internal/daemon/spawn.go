package daemon

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"syscall"
	"time"

	"github.com/honkhq/honk/internal/config"
)

// spawnWait bounds how long Spawn waits for the child to take the lock.
const spawnWait = 2 * time.Second

// Spawn starts "exe args..." detached in its own session and waits for it to
// claim the daemon lock. If a concurrent start won the race, the winner's PID
// is returned together with ErrAlreadyRunning.
func Spawn(paths config.Paths, exe string, args ...string) (int, error) {
	running, pid, err := IsRunning(paths)
	if err != nil {
		return 0, err
	}
	if running {
		return pid, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
	}

	if err := os.MkdirAll(paths.Dir, 0755); err != nil {
		return 0, fmt.Errorf("creating state directory: %w", err)
	}
	cmd := exec.Command(exe, args...)
	cmd.Dir = paths.Dir
	cmd.Env = append(os.Environ(), config.EnvStateDir+"="+paths.Dir)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("starting daemon: %w", err)
	}
	child := cmd.Process.Pid
	// Reap the child if it exits early so it does not linger as a zombie.
	exited := make(chan struct{})
	go func() {
		_ = cmd.Wait()
		close(exited)
	}()

	deadline := time.Now().Add(spawnWait)
	for {
		running, pid, err = IsRunning(paths)
		if err == nil && running {
			if pid != child {
				return pid, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
			}
			return pid, nil
		}
		select {
		case <-exited:
			// The child may have lost the lock race; check once more.
			if running, pid, err := IsRunning(paths); err == nil && running {
				return pid, fmt.Errorf("%w (PID %d)", ErrAlreadyRunning, pid)
			}
			return 0, errors.New("daemon exited during startup (check logs with 'honk pty daemon logs')")
		default:
		}
		if time.Now().After(deadline) {
			return 0, errors.New("daemon failed to start (check logs with 'honk pty daemon logs')")
		}
		time.Sleep(stopPollInterval)
	}
}
