// Package models defines the core domain types for the qkdhost supervisor.
package models

import (
	"time"
)

// BackendPhase represents the current state of the supervised backend.
type BackendPhase string

const (
	BackendPhaseStopped  BackendPhase = "stopped"
	BackendPhaseStarting BackendPhase = "starting"
	BackendPhaseReady    BackendPhase = "ready"
	// BackendPhaseDegraded means the probe budget ran out and readiness
	// was forced so the host could proceed.
	BackendPhaseDegraded BackendPhase = "degraded"
	BackendPhaseExited   BackendPhase = "exited"
)

// EventKind classifies backend lifecycle events.
type EventKind string

const (
	EventSpawned      EventKind = "spawned"
	EventReady        EventKind = "ready"
	EventProbeTimeout EventKind = "probe_timeout"
	EventExited       EventKind = "exited"
	EventTerminated   EventKind = "terminated"
)

// ValidEventKind checks if an event kind is one the journal accepts.
func ValidEventKind(k EventKind) bool {
	switch k {
	case EventSpawned, EventReady, EventProbeTimeout, EventExited, EventTerminated:
		return true
	}
	return false
}

// BackendEvent records one lifecycle transition of the supervised backend.
type BackendEvent struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Kind      EventKind `json:"kind"`
	PID       int       `json:"pid,omitempty"`
	ExitCode  *int      `json:"exit_code,omitempty"`
	Detail    string    `json:"detail,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// BackendStatus is a point-in-time snapshot of the supervised backend,
// served by the status API for the host UI to poll.
type BackendStatus struct {
	RunID     string       `json:"run_id,omitempty"`
	Phase     BackendPhase `json:"phase"`
	Ready     bool         `json:"ready"`
	PID       int          `json:"pid,omitempty"`
	ExitCode  *int         `json:"exit_code,omitempty"`
	StartedAt *time.Time   `json:"started_at,omitempty"`
	Uptime    string       `json:"uptime,omitempty"`
}

// IsTerminal returns true if the backend is in a terminal phase.
func (p BackendPhase) IsTerminal() bool {
	return p == BackendPhaseStopped || p == BackendPhaseExited
}

// IsServing returns true if the backend is considered usable by the host.
func (p BackendPhase) IsServing() bool {
	return p == BackendPhaseReady || p == BackendPhaseDegraded
}
