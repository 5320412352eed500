package dto

import "time"

// TickInfo is what the live view shows for the last processed frame.
type TickInfo struct {
	Detecting  bool      `json:"detecting"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Count      int       `json:"count"`
	Threshold  int       `json:"threshold"`
	Progress   string    `json:"progress"` // "count/threshold"
	Attempted  bool      `json:"attempted"` // threshold reached on this tick
	Confirmed  bool      `json:"confirmed"`
	Skipped    bool      `json:"skipped"` // capture or inference failed on this tick
	At         time.Time `json:"at"`
}

// ViewerMessage is broadcast to websocket viewers once per applied tick.
type ViewerMessage struct {
	Session string   `json:"session"`
	Image   string   `json:"image,omitempty"` // base64 JPEG
	Tick    TickInfo `json:"tick"`
}
