package autosave

import "time"

// State is the save state of one session.
type State string

const (
	StateIdle    State = "idle"
	StatePending State = "pending"
	StateSaving  State = "saving"
	StateSaved   State = "saved"
	StateError   State = "error"
	StateOffline State = "offline"
)

// Status is what the UI needs for its non-blocking save indicator.
type Status struct {
	State       State      `json:"state"`
	Offline     bool       `json:"offline"`
	Pending     int        `json:"pending"`
	Queued      int        `json:"queued"`
	LastError   string     `json:"last_error,omitempty"`
	LastSavedAt *time.Time `json:"last_saved_at,omitempty"`
}
