// Package webcam reads frames from a local capture device through OpenCV.
package webcam

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"medseen/internal/config"
	"medseen/internal/logger"
	"medseen/internal/service/camera"

	"gocv.io/x/gocv"
)

// staleFrames are read and discarded before each capture so the returned
// frame is current even when the driver buffers.
const staleFrames = 2

const reopenDelay = 100 * time.Millisecond

var errReadFailed = errors.New("webcam: read failed")

// Source is a camera.FrameSource backed by gocv.VideoCapture.
type Source struct {
	device int
	width  int
	height int
	fps    int
	logger *logger.Logger

	mu  sync.Mutex
	cap *gocv.VideoCapture
	mat gocv.Mat
}

var _ camera.FrameSource = (*Source)(nil)

// Open opens the configured device.
func Open(config *config.Config, logger *logger.Logger) (*Source, error) {
	s := &Source{
		device: config.CameraDevice,
		width:  config.CameraWidth,
		height: config.CameraHeight,
		fps:    config.CameraFPS,
		logger: logger,
		mat:    gocv.NewMat(),
	}
	if err := s.open(); err != nil {
		s.mat.Close()
		return nil, err
	}
	logger.Info("Camera %d opened at %dx%d@%d", s.device, s.width, s.height, s.fps)
	return s, nil
}

func (s *Source) open() error {
	vc, err := gocv.OpenVideoCapture(s.device)
	if err != nil {
		return fmt.Errorf("open camera %d: %w", s.device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return fmt.Errorf("camera %d is not available", s.device)
	}

	vc.Set(gocv.VideoCaptureFrameWidth, float64(s.width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(s.height))
	vc.Set(gocv.VideoCaptureFPS, float64(s.fps))
	vc.Set(gocv.VideoCaptureBufferSize, 1)

	s.cap = vc
	return nil
}

// Read grabs a current frame. On a failed read the device is reopened once
// before giving up on this tick.
func (s *Source) Read(ctx context.Context) (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cap == nil {
		return camera.Frame{}, camera.ErrClosed
	}

	for i := 0; i < staleFrames; i++ {
		if !s.cap.Read(&s.mat) {
			break
		}
	}

	if !s.cap.Read(&s.mat) || s.mat.Empty() {
		s.logger.Warning("Camera %d read failed, reopening", s.device)
		if err := s.reopen(ctx); err != nil {
			return camera.Frame{}, err
		}
		if !s.cap.Read(&s.mat) || s.mat.Empty() {
			return camera.Frame{}, errReadFailed
		}
	}
	capturedAt := time.Now()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, s.mat)
	if err != nil {
		return camera.Frame{}, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	data := make([]byte, len(buf.GetBytes()))
	copy(data, buf.GetBytes())
	return camera.Frame{Data: data, CapturedAt: capturedAt}, nil
}

func (s *Source) reopen(ctx context.Context) error {
	s.cap.Close()
	s.cap = nil

	select {
	case <-time.After(reopenDelay):
	case <-ctx.Done():
		return ctx.Err()
	}
	return s.open()
}

func (s *Source) Name() string {
	return fmt.Sprintf("webcam:%d", s.device)
}

func (s *Source) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.cap != nil {
		err = s.cap.Close()
		s.cap = nil
	}
	s.mat.Close()
	return err
}
