package model

import "time"

// Session represents a persisted detection session.
type Session struct {
	ID              string     `json:"id"`
	Source          string     `json:"source"`
	Threshold       int        `json:"threshold"`
	MinGapMillis    int64      `json:"minGapMs"`
	ConfidenceFloor float64    `json:"confidenceFloor"`
	StartedAt       time.Time  `json:"startedAt"`
	EndedAt         *time.Time `json:"endedAt,omitempty"`
}
