//go:build !linux && !darwin

package doctor

import "errors"

// ReadPTYLimits is not implemented on this platform.
func ReadPTYLimits() (PTYLimits, error) {
	return PTYLimits{}, errors.New("PTY limits are not available on this platform")
}
