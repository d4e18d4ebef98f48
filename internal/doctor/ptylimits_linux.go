//go:build linux

package doctor

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ReadPTYLimits reads /proc/sys/kernel/pty/{nr,max}.
func ReadPTYLimits() (PTYLimits, error) {
	return readPTYLimits("/proc")
}

func readPTYLimits(procRoot string) (PTYLimits, error) {
	dir := filepath.Join(procRoot, "sys", "kernel", "pty")
	nr, err := readIntFile(filepath.Join(dir, "nr"))
	if err != nil {
		return PTYLimits{}, err
	}
	limit, err := readIntFile(filepath.Join(dir, "max"))
	if err != nil {
		return PTYLimits{}, err
	}
	return PTYLimits{InUse: nr, Max: limit}, nil
}

func readIntFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("parsing %s: %w", path, err)
	}
	return n, nil
}
