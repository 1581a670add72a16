package dispatch

import (
	"context"
	"errors"
	"time"

	"multiposter/internal/content"
	"multiposter/internal/credential"
	"multiposter/internal/graph"
)

var (
	// ErrAlreadyRunning is returned by Start when a run is active or starting.
	ErrAlreadyRunning = errors.New("dispatch: already running")
	// ErrNoCredentials means tokens.txt is missing or nothing in it validated.
	ErrNoCredentials = errors.New("dispatch: no valid credentials")
)

// State is the dispatcher lifecycle: Idle -> Starting -> Running -> Stopping -> Idle.
type State int

const (
	Idle State = iota
	Starting
	Running
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case Stopping:
		return "stopping"
	default:
		return "idle"
	}
}

// Status is the two-valued view exposed to operators.
type Status string

const (
	StatusStopped Status = "Stopped"
	StatusRunning Status = "Running"
)

// Status collapses the state machine. Starting and Stopping report Running:
// the status only flips to Stopped once the worker has exited.
func (s State) Status() Status {
	if s == Idle {
		return StatusStopped
	}
	return StatusRunning
}

// Publisher submits one item. *graph.Client satisfies it.
type Publisher interface {
	PublishText(ctx context.Context, token, body string) (graph.Result, error)
	PublishVideo(ctx context.Context, token, path, caption string) (graph.Result, error)
}

// Validator partitions raw secrets. *credential.Validator satisfies it.
type Validator interface {
	Validate(ctx context.Context, raw []string) []credential.Credential
}

// QueueLoader builds the content queue. *content.Source satisfies it.
type QueueLoader interface {
	LoadQueue(ctx context.Context, kind content.Kind) (content.Queue, error)
}

// TokenList reads the raw credential list. *content.Lists satisfies it.
type TokenList interface {
	Exists(name string) bool
	Lines(name string) ([]string, error)
}

// Outcome describes one publish attempt.
type Outcome struct {
	At          time.Time
	RunID       string
	Kind        content.Kind
	Hint        string
	OK          bool
	RemoteID    string
	FailureKind string // "transport", "rejected" or "" on success
	Err         string
	Summary     string
	Took        time.Duration
}

// Observer receives every publish outcome (audit, metrics).
type Observer interface {
	ObservePublish(ctx context.Context, o Outcome)
}

// Snapshot is a point-in-time copy of the dispatcher.
type Snapshot struct {
	State     string        `json:"state"`
	Status    Status        `json:"status"`
	RunID     string        `json:"run_id,omitempty"`
	Kind      content.Kind  `json:"kind,omitempty"`
	Delay     time.Duration `json:"delay"`
	StartedAt time.Time     `json:"started_at,omitempty"`
	Items     int           `json:"items"`
	Passes    uint64        `json:"passes"`
	Posted    uint64        `json:"posted"`
	Failed    uint64        `json:"failed"`
	PoolSize  int           `json:"pool_size"`
}

// Event types published on the bus.
const (
	EventStateChanged = "dispatch.state"
	EventPublished    = "dispatch.published"
)

// StateChange is the Data of an EventStateChanged event.
type StateChange struct {
	From  State
	To    State
	RunID string
	Kind  content.Kind
}
