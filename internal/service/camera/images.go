package camera

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"
)

// ImageSource replays still images in a loop, one per Read. It stands in
// for a camera when running against recorded material.
type ImageSource struct {
	paths []string
	next  int
	mu    sync.Mutex
	now   func() time.Time
}

// NewImageSource expands pattern and fails when nothing matches.
func NewImageSource(pattern string) (*ImageSource, error) {
	paths, err := filepath.Glob(pattern)
	if err != nil {
		return nil, fmt.Errorf("bad image pattern %q: %w", pattern, err)
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no images match %q", pattern)
	}
	sort.Strings(paths)
	return &ImageSource{paths: paths, now: time.Now}, nil
}

func (s *ImageSource) Read(ctx context.Context) (Frame, error) {
	if err := ctx.Err(); err != nil {
		return Frame{}, err
	}

	s.mu.Lock()
	path := s.paths[s.next]
	s.next = (s.next + 1) % len(s.paths)
	s.mu.Unlock()

	data, err := os.ReadFile(path)
	if err != nil {
		return Frame{}, fmt.Errorf("read %s: %w", path, err)
	}
	return Frame{Data: data, CapturedAt: s.now()}, nil
}

func (s *ImageSource) Name() string {
	return fmt.Sprintf("images:%d", len(s.paths))
}

func (s *ImageSource) Close() error { return nil }
