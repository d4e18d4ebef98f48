package cmd

import (
	"encoding/json"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/honkhq/honk/internal/exitcode"
)

// envelopeVersion is bumped when the envelope shape changes.
const envelopeVersion = 1

// Envelope wraps every --json result.
type Envelope struct {
	Version    int      `json:"version"`
	Command    string   `json:"command"`
	Status     string   `json:"status"`
	Changed    bool     `json:"changed"`
	Code       int      `json:"code"`
	Summary    string   `json:"summary"`
	RunID      string   `json:"run_id"`
	DurationMS int64    `json:"duration_ms"`
	Facts      any      `json:"facts,omitempty"`
	Next       []string `json:"next,omitempty"`
}

// run tracks one command invocation for its envelope.
type run struct {
	command string
	id      string
	start   time.Time
}

func newRun(command string) *run {
	return &run{command: command, id: uuid.NewString(), start: time.Now()}
}

// envelope builds the result. A non-nil err sets the status and code.
func (r *run) envelope(changed bool, summary string, facts any, next []string, err error) Envelope {
	env := Envelope{
		Version:    envelopeVersion,
		Command:    r.command,
		Status:     exitcode.Name(exitcode.Success),
		Changed:    changed,
		Summary:    summary,
		RunID:      r.id,
		DurationMS: time.Since(r.start).Milliseconds(),
		Facts:      facts,
		Next:       next,
	}
	if err != nil {
		env.Code = codeOf(err)
		env.Status = exitcode.Name(env.Code)
		env.Summary = err.Error()
	}
	return env
}

// write prints the envelope and returns err marked as already reported.
func (r *run) write(w io.Writer, changed bool, summary string, facts any, next []string, err error) error {
	return writeEnvelope(w, r.envelope(changed, summary, facts, next, err), err)
}

func writeEnvelope(w io.Writer, env Envelope, err error) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if encErr := enc.Encode(env); encErr != nil {
		return encErr
	}
	if err != nil {
		return &silentError{err: classify(err)}
	}
	return nil
}
