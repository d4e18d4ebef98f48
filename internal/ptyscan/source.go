package ptyscan

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/honkhq/honk/internal/config"
)

// LineageSource is a Source that can also resolve ancestry.
type LineageSource interface {
	Source
	Lineage
}

// NewSource picks the process source named by cfg.Source. "auto" prefers
// /proc when it is readable and falls back to lsof.
func NewSource(cfg *config.Config, log *zap.SugaredLogger) (LineageSource, error) {
	switch cfg.Source {
	case config.SourceProc:
		return newProc(cfg, log)
	case config.SourceLsof:
		return NewLsofSource(cfg.PTYPrefixes, log), nil
	case config.SourceAuto, "":
		if procAvailable("") {
			return newProc(cfg, log)
		}
		return NewLsofSource(cfg.PTYPrefixes, log), nil
	default:
		return nil, fmt.Errorf("unknown process source %q", cfg.Source)
	}
}

func newProc(cfg *config.Config, log *zap.SugaredLogger) (LineageSource, error) {
	src, err := NewProcSource("", cfg.PTYPrefixes, log)
	if err != nil {
		return nil, err
	}
	return src, nil
}
