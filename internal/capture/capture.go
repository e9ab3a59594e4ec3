// Package capture acquires snapshots of the user's current screen activity
// through a platform helper and normalizes them into plain text for
// evaluation.
package capture

import (
	"context"
	"fmt"
	"time"
)

// Content kinds a capture helper may report.
const (
	KindText     = "text/plain"
	KindHTML     = "text/html"
	KindDocument = "application/pdf"
)

// Event is one normalized capture of screen activity.
type Event struct {
	ID          string    `json:"id"`
	Timestamp   time.Time `json:"timestamp"`
	Application string    `json:"application"`
	WindowTitle string    `json:"window_title"`
	Text        string    `json:"text"`
	Kind        string    `json:"kind"`
}

// Source produces capture events on demand.
type Source interface {
	Capture(ctx context.Context) (Event, error)
}

// ErrorKind classifies capture failures so callers can decide between
// surfacing a permission problem and silently skipping a cycle.
type ErrorKind int

const (
	// Unavailable means the capture backend could not run at all.
	Unavailable ErrorKind = iota
	// PermissionDenied means the OS refused screen or accessibility access.
	PermissionDenied
	// TargetVanished means the captured window disappeared mid-capture.
	TargetVanished
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission_denied"
	case TargetVanished:
		return "target_vanished"
	default:
		return "unavailable"
	}
}

// Error is a classified capture failure.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("capture %s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("capture %s", e.Kind)
}

func (e *Error) Unwrap() error { return e.Err }
