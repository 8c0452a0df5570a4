package jobs

import (
	"context"
	"errors"
	"time"
)

// State represents the lifecycle state of a build job.
type State string

const (
	StateCreated    State = "created"
	StateAssembling State = "assembling"
	StateStaging    State = "staging"
	StateCompiling  State = "compiling"
	StateSucceeded  State = "succeeded"
	StateFailed     State = "failed"
)

// Terminal reports whether no further transitions follow s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// ErrNotFound is returned for unknown job ids.
var ErrNotFound = errors.New("build job not found")

// Record describes one compile job as seen by the journal.
type Record struct {
	ID          string    `json:"id"`
	Dialect     string    `json:"dialect"`
	Scope       string    `json:"scope"`
	State       State     `json:"state"`
	ArtifactURL string    `json:"artifact_url,omitempty"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	FinishedAt  time.Time `json:"finished_at,omitempty"`
}

// Journal records job transitions and compiler output.
type Journal interface {
	Create(ctx context.Context, rec Record) error
	SetState(ctx context.Context, id string, state State, errMsg string) error
	SetArtifact(ctx context.Context, id string, url string) error
	AppendLog(ctx context.Context, id string, line string) error
	Get(ctx context.Context, id string) (Record, error)
	Logs(ctx context.Context, id string) ([]string, error)
}

// Subscriber is implemented by journals that can stream log lines live.
type Subscriber interface {
	Subscribe(id string) (<-chan string, error)
}

func applyState(rec *Record, state State, errMsg string, now time.Time) {
	rec.State = state
	rec.UpdatedAt = now
	if state.Terminal() {
		rec.FinishedAt = now
	}
	if errMsg != "" {
		rec.Error = errMsg
	}
}
