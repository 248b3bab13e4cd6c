package domain

import "time"

// Snapshot is the persisted view of a run. Root holds the exported program
// tree and is opaque to stores.
type Snapshot struct {
	RunID     string    `json:"run_id"`
	Protocol  string    `json:"protocol,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
	Event     Event     `json:"event"`
	Root      any       `json:"root"`
}
