package dto

import (
	"encoding/json"
	"time"
)

// SessionInfo is one row of the session history.
type SessionInfo struct {
	ID            string         `json:"id"`
	Source        string         `json:"source"`
	StartedAt     time.Time      `json:"startedAt"`
	EndedAt       *time.Time     `json:"endedAt,omitempty"`
	Confirmations int            `json:"confirmations"`
	Labels        map[string]int `json:"labels"`
}

// MarshalJSON adds display forms of the start date and time.
func (s SessionInfo) MarshalJSON() ([]byte, error) {
	type Alias SessionInfo
	return json.Marshal(&struct {
		Date      string `json:"date"`
		TimeOfDay string `json:"timeOfDay"`
		Alias
	}{
		Date:      s.StartedAt.Format("02-01-2006"),
		TimeOfDay: s.StartedAt.Format("15:04"),
		Alias:     (Alias)(s),
	})
}

// SessionsData is a paginated response payload for the session history.
type SessionsData struct {
	Sessions    []SessionInfo `json:"sessions"`
	Labels      []string      `json:"labels"`
	Length      int           `json:"length"`
	TotalPages  int           `json:"totalPages"`
	CurrentPage int           `json:"currentPage"`
	Limit       int           `json:"pageSize"`
}
