package config

import "path/filepath"

// Paths locates the files the watchdog owns inside its state directory.
type Paths struct {
	Dir       string
	Cache     string
	Events    string
	PIDFile   string
	LockFile  string
	LogFile   string
	StateFile string
}

// NewPaths lays out the state directory.
func NewPaths(dir string) Paths {
	return Paths{
		Dir:       dir,
		Cache:     filepath.Join(dir, "cache.json"),
		Events:    filepath.Join(dir, "events.jsonl"),
		PIDFile:   filepath.Join(dir, "daemon.pid"),
		LockFile:  filepath.Join(dir, "daemon.lock"),
		LogFile:   filepath.Join(dir, "daemon.log"),
		StateFile: filepath.Join(dir, "state.json"),
	}
}
