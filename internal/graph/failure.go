package graph

import (
	"errors"
	"fmt"
)

// FailureKind separates transport problems from remote rejections.
type FailureKind string

const (
	// FailureTransport covers request errors, timeouts and non-JSON bodies.
	FailureTransport FailureKind = "transport"
	// FailureRejected is a well-formed JSON reply without an id.
	FailureRejected FailureKind = "rejected"
)

// Failure is returned by every Client call that did not yield an id.
type Failure struct {
	Kind FailureKind
	Op   string // identity, text, video
	Err  error
	Body string // raw response body, when there was one
}

func (f *Failure) Error() string {
	switch {
	case f.Kind == FailureRejected && f.Body != "":
		return f.Body
	case f.Err != nil:
		return f.Err.Error()
	default:
		return fmt.Sprintf("graph %s: %s failure", f.Op, f.Kind)
	}
}

func (f *Failure) Unwrap() error { return f.Err }

// AsFailure extracts a *Failure from err.
func AsFailure(err error) (*Failure, bool) {
	var f *Failure
	if errors.As(err, &f) {
		return f, true
	}
	return nil, false
}

func IsTransport(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == FailureTransport
}

func IsRejected(err error) bool {
	f, ok := AsFailure(err)
	return ok && f.Kind == FailureRejected
}

// Reason returns the human-facing rejection reason carried in the
// `error.message` field of a rejected reply, or "Unknown".
func Reason(err error) string {
	f, ok := AsFailure(err)
	if !ok {
		if err == nil {
			return ""
		}
		return err.Error()
	}
	if f.Kind != FailureRejected {
		return f.Error()
	}
	var env struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if decodeJSON([]byte(f.Body), &env) == nil && env.Error.Message != "" {
		return env.Error.Message
	}
	return "Unknown"
}
