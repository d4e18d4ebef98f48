package ptyscan

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/logging"
)

// LsofSource lists PTY handles with lsof and enriches them with one ps call.
type LsofSource struct {
	Prefixes []string
	LsofPath string
	PsPath   string
	Log      *zap.SugaredLogger
}

// NewLsofSource returns an lsof-backed source for the given PTY prefixes.
func NewLsofSource(prefixes []string, log *zap.SugaredLogger) *LsofSource {
	return &LsofSource{
		Prefixes: prefixes,
		LsofPath: "lsof",
		PsPath:   "ps",
		Log:      logging.OrNop(log),
	}
}

// Name implements Source.
func (s *LsofSource) Name() string { return "lsof" }

// Query implements Source.
func (s *LsofSource) Query(ctx context.Context) ([]RawProcess, error) {
	cmd := exec.CommandContext(ctx, s.LsofPath, "-w", "-FpcRn")
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	err := cmd.Run()
	if err != nil {
		var exitErr *exec.ExitError
		// lsof exits 1 when any path could not be stat'ed, which is routine.
		if !errors.As(err, &exitErr) || stdout.Len() == 0 {
			return nil, &UnavailableError{
				Tool:   "lsof",
				Remedy: "install lsof via your system package manager",
				Err:    err,
			}
		}
		s.Log.Debugw("lsof exited non-zero with output, using partial result", "error", err)
	}

	rows := ParseLsof(stdout.Bytes(), s.Prefixes)
	if len(rows) == 0 {
		return rows, nil
	}

	pids := make([]int, 0, len(rows))
	for _, r := range rows {
		pids = append(pids, r.PID)
	}
	facts, err := psFacts(ctx, s.PsPath, pids)
	if err != nil {
		s.Log.Warnw("ps enrichment failed, process facts unknown", "error", err)
		return rows, nil
	}
	for i := range rows {
		if f, ok := facts[rows[i].PID]; ok {
			f.apply(&rows[i])
		}
	}
	return rows, nil
}

// Ancestors implements Lineage by walking ps ppid lookups.
func (s *LsofSource) Ancestors(ctx context.Context, pid int) ([]int, error) {
	return psAncestors(ctx, s.PsPath, pid)
}

// ParseLsof parses `lsof -F pcRn` output. Only n lines under one of the
// prefixes become handles; processes without such handles are omitted.
func ParseLsof(out []byte, prefixes []string) []RawProcess {
	var (
		rows    []RawProcess
		current *RawProcess
	)
	flush := func() {
		if current != nil && len(current.Handles) > 0 {
			rows = append(rows, *current)
		}
		current = nil
	}

	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if line == "" {
			continue
		}
		field, value := line[0], line[1:]
		switch field {
		case 'p':
			flush()
			pid, err := strconv.Atoi(value)
			if err != nil {
				continue
			}
			current = &RawProcess{PID: pid}
		case 'c':
			if current != nil {
				current.Command = value
			}
		case 'R':
			if current != nil {
				if ppid, err := strconv.Atoi(value); err == nil {
					current.PPID = Ptr(ppid)
				}
			}
		case 'n':
			if current != nil && hasAnyPrefix(value, prefixes) {
				current.Handles = append(current.Handles, value)
			}
		}
	}
	flush()
	return rows
}

func hasAnyPrefix(s string, prefixes []string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
