package model

import "time"

// Confirmation represents an accepted confirmed detection.
type Confirmation struct {
	ID           int64     `json:"id"`
	SessionID    string    `json:"sessionId"`
	Label        string    `json:"label"`
	Confidence   float64   `json:"confidence"`
	Timestamp    time.Time `json:"timestamp"`
	SnapshotPath string    `json:"snapshotPath,omitempty"`
}
