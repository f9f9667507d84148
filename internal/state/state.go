// Package state holds point-in-time views of the per-face drowsiness state,
// shared between the alerter and the status surface.
package state

import "time"

// FaceSnapshot describes one tracked face.
type FaceSnapshot struct {
	ID          string        `json:"id"`
	State       string        `json:"state"`
	EAR         float64       `json:"ear"`
	Defined     bool          `json:"defined"`
	Blinking    bool          `json:"blinking"`
	AlertActive bool          `json:"alert_active"`
	ClosedFor   time.Duration `json:"closed_for_ns"`
	LastSeen    time.Time     `json:"last_seen"`
}

// EventRecord is a fired or resolved alert kept for display.
type EventRecord struct {
	FaceID string    `json:"face_id"`
	Type   string    `json:"type"`
	EAR    float64   `json:"ear"`
	Time   time.Time `json:"time"`
}

type Snapshot struct {
	Session  string         `json:"session"`
	Hostname string         `json:"hostname"`
	Sustain  string         `json:"sustain"`
	Frames   uint64         `json:"frames"`
	Faces    []FaceSnapshot `json:"faces"`
	Events   []EventRecord  `json:"events"`
}

// ActiveAlerts returns the IDs of faces whose alert is currently on.
func (s Snapshot) ActiveAlerts() map[string]bool {
	active := make(map[string]bool)
	for _, f := range s.Faces {
		if f.AlertActive {
			active[f.ID] = true
		}
	}
	return active
}
