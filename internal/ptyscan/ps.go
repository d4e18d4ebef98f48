package ptyscan

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// maxLineageDepth bounds ancestor walks against ppid cycles.
const maxLineageDepth = 64

// psColumns are passed as separate -o flags; an empty header after "=" ends
// the argument on BSD ps.
var psColumns = []string{"pid", "uid", "stat", "tty", "etime", "%cpu", "rss", "args"}

type psRow struct {
	uid    *int
	zombie bool
	tty    Tristate
	age    *int64
	cpu    *float64
	memMB  *float64
	args   []string
}

func (f psRow) apply(r *RawProcess) {
	if r.OwnerUID == nil {
		r.OwnerUID = f.uid
	}
	r.Zombie = r.Zombie || f.zombie
	if r.ControllingTerminal == Unknown {
		r.ControllingTerminal = f.tty
	}
	if r.AgeSeconds == nil {
		r.AgeSeconds = f.age
	}
	if r.CPUPercent == nil {
		r.CPUPercent = f.cpu
	}
	if r.MemoryMB == nil {
		r.MemoryMB = f.memMB
	}
	if len(r.Args) == 0 {
		r.Args = f.args
	}
}

func psFacts(ctx context.Context, psPath string, pids []int) (map[int]psRow, error) {
	list := make([]string, len(pids))
	for i, pid := range pids {
		list[i] = strconv.Itoa(pid)
	}
	args := make([]string, 0, 2*len(psColumns)+2)
	for _, col := range psColumns {
		args = append(args, "-o", col+"=")
	}
	args = append(args, "-p", strings.Join(list, ","))
	out, err := exec.CommandContext(ctx, psPath, args...).Output()
	// ps exits 1 when some pids vanished; keep whatever it printed.
	if err != nil && len(out) == 0 {
		return nil, fmt.Errorf("running ps: %w", err)
	}
	return parsePS(out), nil
}

// parsePS reads one line per process in psColumns order.
func parsePS(out []byte) map[int]psRow {
	rows := make(map[int]psRow)
	sc := bufio.NewScanner(bytes.NewReader(out))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 7 {
			continue
		}
		pid, err := strconv.Atoi(fields[0])
		if err != nil {
			continue
		}
		var row psRow
		if uid, err := strconv.Atoi(fields[1]); err == nil {
			row.uid = Ptr(uid)
		}
		row.zombie = strings.HasPrefix(fields[2], "Z")
		switch fields[3] {
		case "?", "??", "-":
			row.tty = No
		default:
			row.tty = Yes
		}
		if secs, ok := parseEtime(fields[4]); ok {
			row.age = Ptr(secs)
		}
		if cpu, err := strconv.ParseFloat(fields[5], 64); err == nil {
			row.cpu = Ptr(cpu)
		}
		if rssKB, err := strconv.ParseFloat(fields[6], 64); err == nil {
			row.memMB = Ptr(rssKB / 1024)
		}
		if len(fields) > 7 {
			row.args = fields[7:]
		}
		rows[pid] = row
	}
	return rows
}

// parseEtime parses ps etime: [[dd-]hh:]mm:ss.
func parseEtime(s string) (int64, bool) {
	var days int64
	if d, rest, ok := strings.Cut(s, "-"); ok {
		n, err := strconv.ParseInt(d, 10, 64)
		if err != nil {
			return 0, false
		}
		days = n
		s = rest
	}
	parts := strings.Split(s, ":")
	if len(parts) < 2 || len(parts) > 3 {
		return 0, false
	}
	var total int64
	for _, p := range parts {
		n, err := strconv.ParseInt(p, 10, 64)
		if err != nil {
			return 0, false
		}
		total = total*60 + n
	}
	return days*86400 + total, true
}

func psAncestors(ctx context.Context, psPath string, pid int) ([]int, error) {
	var chain []int
	seen := map[int]bool{pid: true}
	cur := pid
	for range maxLineageDepth {
		out, err := exec.CommandContext(ctx, psPath, "-o", "ppid=", "-p", strconv.Itoa(cur)).Output()
		if err != nil {
			if len(chain) > 0 {
				// The chain reached a process that exited mid-walk.
				return chain, nil
			}
			return nil, &UnavailableError{Tool: "ps", Remedy: "ensure ps is on PATH", Err: err}
		}
		ppid, err := strconv.Atoi(strings.TrimSpace(string(out)))
		if err != nil {
			return nil, fmt.Errorf("parsing ppid of %d: %w", cur, err)
		}
		if ppid <= 0 || seen[ppid] {
			break
		}
		chain = append(chain, ppid)
		seen[ppid] = true
		cur = ppid
	}
	return chain, nil
}
