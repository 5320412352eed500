package dto

import "time"

// SessionFilters narrow the session history.
type SessionFilters struct {
	Label      string // sessions with at least one confirmation of this label
	DateAfter  time.Time
	DateBefore time.Time
	Limit      int
	Offset     int
}
