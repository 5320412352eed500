package dto

import "time"

// SessionStatus describes the running (or last) session.
type SessionStatus struct {
	Running         bool           `json:"running"`
	ID              string         `json:"id,omitempty"`
	Source          string         `json:"source,omitempty"`
	StartedAt       time.Time      `json:"startedAt,omitempty"`
	EndedAt         *time.Time     `json:"endedAt,omitempty"`
	DurationSeconds float64        `json:"durationSeconds"`
	Threshold       int            `json:"threshold"`
	MinGapMillis    int64          `json:"minGapMs"`
	Confirmations   int            `json:"confirmations"`
	Attempts        int            `json:"attempts"`
	Rejected        int            `json:"rejected"`
	Ticks           int            `json:"ticks"`
	SkippedTicks    int            `json:"skippedTicks"`
	Statistics      map[string]int `json:"statistics"`
	Last            TickInfo       `json:"last"`
}

// StartRequest carries the parameters of POST /api/session/start.
type StartRequest struct {
	Threshold    int      `json:"threshold"`
	MinGapMillis *int64   `json:"min_gap_ms"`
	Confidence   *float64 `json:"confidence"`
	Source       string   `json:"source"`
}
