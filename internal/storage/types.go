package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

// Config configures storage.
//
// Driver values: "file", "sqlite". Empty or "none" disables storage.
type Config struct {
	Driver      string
	Path        string
	BusyTimeout time.Duration // sqlite only; 0 means default
	// Keep bounds how many publish records are retained. 0 means DefaultKeep.
	Keep int
}

const DefaultKeep = 10000

// PublishRecord is one publish attempt. Keep it compact and schema-stable;
// it never carries a credential secret, only its masked hint.
type PublishRecord struct {
	At          time.Time `json:"at"`
	RunID       string    `json:"run_id"`
	Kind        string    `json:"kind"`
	Credential  string    `json:"credential"`
	OK          bool      `json:"ok"`
	RemoteID    string    `json:"remote_id,omitempty"`
	FailureKind string    `json:"failure_kind,omitempty"`
	Error       string    `json:"error,omitempty"`
	Summary     string    `json:"summary,omitempty"`
	TookMS      int64     `json:"took_ms"`
}
