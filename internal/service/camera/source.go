// Package camera provides the frame sources the pipeline reads from.
package camera

import (
	"context"
	"errors"
	"time"
)

var ErrClosed = errors.New("camera: source closed")

// Frame is one encoded (JPEG) image and the moment it was captured.
type Frame struct {
	Data       []byte
	CapturedAt time.Time
}

// FrameSource yields one frame per Read. An error from Read means this tick
// produced no frame; callers may keep reading afterwards.
type FrameSource interface {
	Read(ctx context.Context) (Frame, error)
	Name() string
	Close() error
}
