// Package fault carries the failure taxonomy shared by the payment
// pipeline's collaborators. Every external call that fails is wrapped in a
// Fault so the orchestrator can branch on the kind of failure instead of
// inspecting message strings.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for retry and acknowledgment decisions.
type Kind string

const (
	// UpstreamUnavailable covers network errors, timeouts, and 5xx
	// responses. Safe to retry via source redelivery.
	UpstreamUnavailable Kind = "upstream_unavailable"
	// UpstreamRejected covers 4xx/validation responses. Redelivery would
	// hit the same rejection, so these are terminal.
	UpstreamRejected Kind = "upstream_rejected"
	// PersistenceUnavailable means the durable store write failed after
	// external side effects may already have happened.
	PersistenceUnavailable Kind = "persistence_unavailable"
)

// Fault wraps an underlying error with its classification and origin.
type Fault struct {
	Kind   Kind
	System string
	Op     string
	Err    error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s: %s: %s: %v", f.System, f.Op, f.Kind, f.Err)
}

func (f *Fault) Unwrap() error {
	return f.Err
}

// New builds a Fault with an explicit kind.
func New(kind Kind, system, op string, err error) *Fault {
	return &Fault{Kind: kind, System: system, Op: op, Err: err}
}

// FromStatus classifies an HTTP response status from an external system.
// 5xx maps to UpstreamUnavailable, everything else non-2xx to
// UpstreamRejected.
func FromStatus(system, op string, status int, err error) *Fault {
	kind := UpstreamRejected
	if status >= 500 {
		kind = UpstreamUnavailable
	}
	return &Fault{Kind: kind, System: system, Op: op, Err: err}
}

// KindOf extracts the classification from err, or "" when err carries none.
func KindOf(err error) Kind {
	var f *Fault
	if errors.As(err, &f) {
		return f.Kind
	}
	return ""
}

// Retryable reports whether redelivering the triggering event could succeed.
func Retryable(err error) bool {
	switch KindOf(err) {
	case UpstreamUnavailable, PersistenceUnavailable:
		return true
	}
	return false
}
