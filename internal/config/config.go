// Package config loads the PTY watchdog configuration from TOML.
//
// Every threshold the scanner, safety gate, classifier, ranker and daemon use
// lives here with a documented default. A missing config file is not an
// error: Default() is returned.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment overrides.
const (
	EnvConfig   = "HONK_CONFIG"
	EnvStateDir = "HONK_STATE_DIR"
)

// ConfigFileName is the config file looked up inside the state directory.
const ConfigFileName = "watchdog.toml"

// Source selectors.
const (
	SourceAuto = "auto"
	SourceProc = "proc"
	SourceLsof = "lsof"
)

// Config is the full watchdog configuration.
type Config struct {
	// ScanInterval is the daemon sleep between cycles.
	ScanInterval time.Duration `toml:"scan_interval"`

	// MaxPTYs is the aggregate PTY total above which a cycle runs cleanup.
	// Zero disables automatic cleanup.
	MaxPTYs int `toml:"max_ptys"`

	// MaxActions caps attempted signals per cleanup batch.
	MaxActions int `toml:"max_actions"`

	// PlanOnly makes automatic cleanup record PlannedOnly outcomes.
	PlanOnly bool `toml:"plan_only"`

	// StopGrace bounds how long "daemon stop" waits for exit.
	StopGrace time.Duration `toml:"stop_grace"`

	// Source selects the process source: auto, proc or lsof.
	Source string `toml:"source"`

	// PTYPrefixes are device path prefixes that count as PTY handles.
	PTYPrefixes []string `toml:"pty_prefixes"`

	Classifier ClassifierConfig `toml:"classifier"`
	Safety     SafetyConfig     `toml:"safety"`
	Ranking    RankingConfig    `toml:"ranking"`
}

// ClassifierConfig is the declarative leak pattern table.
type ClassifierConfig struct {
	GenericThreshold int             `toml:"generic_threshold"`
	Patterns         []PatternConfig `toml:"patterns"`
}

// PatternConfig is one row of the pattern table. Name is a case-insensitive
// regular expression matched against the command and its arguments.
type PatternConfig struct {
	Name      string `toml:"name"`
	Threshold int    `toml:"threshold"`
}

// SafetyConfig tunes the SystemCritical and Orphan rules.
type SafetyConfig struct {
	LowPIDFloor        int      `toml:"low_pid_floor"`
	InitPID            int      `toml:"init_pid"`
	OrphanPTYThreshold int      `toml:"orphan_pty_threshold"`
	ProtectedNames     []string `toml:"protected_names"`
}

// RankingConfig holds the ranking score weights.
type RankingConfig struct {
	PTY      float64 `toml:"pty"`
	Age      float64 `toml:"age"`
	Pattern  float64 `toml:"pattern"`
	Orphan   float64 `toml:"orphan"`
	Activity float64 `toml:"activity"`
	Memory   float64 `toml:"memory"`
}

// DefaultProtectedNames never receive a signal regardless of other facts.
var DefaultProtectedNames = []string{
	"launchd",
	"kernel_task",
	"com.apple.xpc.launchd",
	"syslogd",
	"notifyd",
	"diskarbitrationd",
	"configd",
	"mDNSResponder",
	"SecurityServer",
	"WindowServer",
	"loginwindow",
	"systemstats",
	"UserEventAgent",
	"init",
	"systemd",
	"systemd-logind",
	"kthreadd",
	"sshd",
	"login",
	"dbus-daemon",
	"Xorg",
	"gdm",
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ScanInterval: 30 * time.Second,
		MaxPTYs:      200,
		MaxActions:   5,
		StopGrace:    5 * time.Second,
		Source:       SourceAuto,
		PTYPrefixes:  []string{"/dev/ttys", "/dev/pts/", "/dev/ptmx"},
		Classifier: ClassifierConfig{
			GenericThreshold: 8,
			Patterns: []PatternConfig{
				{Name: "copilot", Threshold: 10},
			},
		},
		Safety: SafetyConfig{
			LowPIDFloor:        100,
			InitPID:            1,
			OrphanPTYThreshold: 1,
			ProtectedNames:     append([]string(nil), DefaultProtectedNames...),
		},
		Ranking: RankingConfig{
			PTY:      1.0,
			Age:      0.001,
			Pattern:  5.0,
			Orphan:   3.0,
			Activity: 0.5,
			Memory:   0.01,
		},
	}
}

// Load reads the config file at path on top of Default(). A missing file
// yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}

	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("parsing config %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks ranges and compiles every pattern.
func (c *Config) Validate() error {
	var errs []error
	if c.ScanInterval <= 0 {
		errs = append(errs, fmt.Errorf("scan_interval must be positive, got %v", c.ScanInterval))
	}
	if c.MaxPTYs < 0 {
		errs = append(errs, fmt.Errorf("max_ptys must not be negative, got %d", c.MaxPTYs))
	}
	if c.MaxActions < 0 {
		errs = append(errs, fmt.Errorf("max_actions must not be negative, got %d", c.MaxActions))
	}
	if c.StopGrace < 0 {
		errs = append(errs, fmt.Errorf("stop_grace must not be negative, got %v", c.StopGrace))
	}
	switch c.Source {
	case SourceAuto, SourceProc, SourceLsof:
	default:
		errs = append(errs, fmt.Errorf("source must be one of auto, proc, lsof; got %q", c.Source))
	}
	if len(c.PTYPrefixes) == 0 {
		errs = append(errs, errors.New("pty_prefixes must not be empty"))
	}
	if c.Classifier.GenericThreshold < 0 {
		errs = append(errs, fmt.Errorf("classifier.generic_threshold must not be negative, got %d", c.Classifier.GenericThreshold))
	}
	for i, p := range c.Classifier.Patterns {
		if p.Name == "" {
			errs = append(errs, fmt.Errorf("classifier.patterns[%d]: name is empty", i))
			continue
		}
		if _, err := regexp.Compile("(?i)" + p.Name); err != nil {
			errs = append(errs, fmt.Errorf("classifier.patterns[%d]: %w", i, err))
		}
		if p.Threshold < 0 {
			errs = append(errs, fmt.Errorf("classifier.patterns[%d]: threshold must not be negative", i))
		}
	}
	if c.Safety.LowPIDFloor < 0 {
		errs = append(errs, fmt.Errorf("safety.low_pid_floor must not be negative, got %d", c.Safety.LowPIDFloor))
	}
	if c.Safety.OrphanPTYThreshold < 0 {
		errs = append(errs, fmt.Errorf("safety.orphan_pty_threshold must not be negative, got %d", c.Safety.OrphanPTYThreshold))
	}
	return errors.Join(errs...)
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.PTYPrefixes = append([]string(nil), c.PTYPrefixes...)
	out.Classifier.Patterns = append([]PatternConfig(nil), c.Classifier.Patterns...)
	out.Safety.ProtectedNames = append([]string(nil), c.Safety.ProtectedNames...)
	return &out
}

// StateDir returns the directory holding the cache, event log and daemon
// files: $HONK_STATE_DIR, else ~/.honk/pty.
func StateDir() (string, error) {
	if dir := os.Getenv(EnvStateDir); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}
	return filepath.Join(home, ".honk", "pty"), nil
}

// ConfigPath returns $HONK_CONFIG, else <stateDir>/watchdog.toml.
func ConfigPath(stateDir string) string {
	if p := os.Getenv(EnvConfig); p != "" {
		return p
	}
	return filepath.Join(stateDir, ConfigFileName)
}
