//go:build darwin

package doctor

import (
	"fmt"
	"path/filepath"

	"golang.org/x/sys/unix"
)

// ReadPTYLimits reads kern.tty.ptmx_max and counts /dev/ttys* nodes.
func ReadPTYLimits() (PTYLimits, error) {
	limit, err := unix.SysctlUint32("kern.tty.ptmx_max")
	if err != nil {
		return PTYLimits{}, fmt.Errorf("sysctl kern.tty.ptmx_max: %w", err)
	}
	nodes, err := filepath.Glob("/dev/ttys[0-9]*")
	if err != nil {
		return PTYLimits{}, err
	}
	return PTYLimits{InUse: len(nodes), Max: int(limit)}, nil
}
