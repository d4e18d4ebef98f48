//go:build linux

package ptyscan

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/prometheus/procfs"
	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/logging"
)

// ProcSource reads PTY handles straight from /proc.
type ProcSource struct {
	fs       procfs.FS
	prefixes []string
	now      func() time.Time
	log      *zap.SugaredLogger
}

// NewProcSource opens the proc filesystem at mountPoint ("" for /proc).
func NewProcSource(mountPoint string, prefixes []string, log *zap.SugaredLogger) (*ProcSource, error) {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return nil, &UnavailableError{Tool: "procfs", Remedy: "mount /proc or set source = \"lsof\"", Err: err}
	}
	return &ProcSource{fs: pfs, prefixes: prefixes, now: time.Now, log: logging.OrNop(log)}, nil
}

// Name implements Source.
func (s *ProcSource) Name() string { return "procfs" }

// Query implements Source.
func (s *ProcSource) Query(ctx context.Context) ([]RawProcess, error) {
	procs, err := s.fs.AllProcs()
	if err != nil {
		return nil, &UnavailableError{Tool: "procfs", Remedy: "mount /proc or set source = \"lsof\"", Err: err}
	}

	now := s.now()
	var rows []RawProcess
	for _, p := range procs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		targets, err := p.FileDescriptorTargets()
		if err != nil {
			// Other users' fds, or the process exited mid-walk.
			if !errors.Is(err, fs.ErrPermission) && !errors.Is(err, fs.ErrNotExist) {
				s.log.Debugw("skipping process", "pid", p.PID, "error", err)
			}
			continue
		}
		handles := ptyHandles(targets, s.prefixes)
		if len(handles) == 0 {
			continue
		}

		row := RawProcess{PID: p.PID, Handles: handles}
		s.fill(p, &row, now)
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *ProcSource) fill(p procfs.Proc, row *RawProcess, now time.Time) {
	stat, err := p.Stat()
	if err == nil {
		row.Command = stat.Comm
		row.PPID = Ptr(stat.PPID)
		row.Zombie = stat.State == "Z"
		if stat.TTY != 0 {
			row.ControllingTerminal = Yes
		} else {
			row.ControllingTerminal = No
		}
		if start, err := stat.StartTime(); err == nil {
			age := now.Sub(time.Unix(int64(start), 0))
			if age >= 0 {
				row.AgeSeconds = Ptr(int64(age / time.Second))
				if secs := age.Seconds(); secs > 0 {
					row.CPUPercent = Ptr(stat.CPUTime() / secs * 100)
				}
			}
		}
		row.MemoryMB = Ptr(float64(stat.ResidentMemory()) / (1 << 20))
	}
	if status, err := p.NewStatus(); err == nil {
		row.OwnerUID = Ptr(int(status.UIDs[1]))
	}
	if args, err := p.CmdLine(); err == nil {
		row.Args = args
	}
}

// Ancestors implements Lineage.
func (s *ProcSource) Ancestors(_ context.Context, pid int) ([]int, error) {
	var chain []int
	seen := map[int]bool{pid: true}
	cur := pid
	for range maxLineageDepth {
		p, err := s.fs.Proc(cur)
		if err != nil {
			if len(chain) > 0 {
				return chain, nil
			}
			return nil, fmt.Errorf("reading process %d: %w", cur, err)
		}
		stat, err := p.Stat()
		if err != nil {
			if len(chain) > 0 {
				return chain, nil
			}
			return nil, fmt.Errorf("reading stat of %d: %w", cur, err)
		}
		if stat.PPID <= 0 || seen[stat.PPID] {
			break
		}
		chain = append(chain, stat.PPID)
		seen[stat.PPID] = true
		cur = stat.PPID
	}
	return chain, nil
}

// ptyHandles keeps fd targets under the PTY prefixes. Every open of the
// multiplexer resolves to the same path, so each one is numbered to keep
// handles unique.
func ptyHandles(targets []string, prefixes []string) []string {
	var (
		out  []string
		ptmx int
	)
	for _, t := range targets {
		if !hasAnyPrefix(t, prefixes) {
			continue
		}
		if strings.HasSuffix(t, "/ptmx") {
			ptmx++
			t = fmt.Sprintf("%s#%d", t, ptmx)
		}
		out = append(out, t)
	}
	return out
}

func procAvailable(mountPoint string) bool {
	if mountPoint == "" {
		mountPoint = procfs.DefaultMountPoint
	}
	pfs, err := procfs.NewFS(mountPoint)
	if err != nil {
		return false
	}
	_, err = pfs.Self()
	return err == nil
}
