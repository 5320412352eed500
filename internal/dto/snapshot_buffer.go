package dto

import "time"

// BufferedSnapshot holds an annotated frame of an accepted confirmation
// until it is flushed to disk.
type BufferedSnapshot struct {
	ConfirmationID int64
	SessionID      string
	Label          string
	Timestamp      time.Time
	Data           []byte
}
