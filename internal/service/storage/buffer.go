package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"medseen/internal/config"
	"medseen/internal/dto"
	"medseen/internal/logger"
	"medseen/internal/repository"

	"github.com/benbjohnson/clock"
)

// BufferService buffers annotated snapshots of accepted confirmations in
// memory and periodically flushes them to disk.
type BufferService struct {
	imagesDir     string
	limit         int
	flushInterval time.Duration
	images        []dto.BufferedSnapshot
	bufferCount   map[string]int
	mu            sync.Mutex
	logger        *logger.Logger
	confirmations repository.ConfirmationRepository
	clock         clock.Clock
}

// NewBufferService creates a new BufferService with the target directory and logger.
func NewBufferService(config *config.Config, logger *logger.Logger, confirmations repository.ConfirmationRepository, clk clock.Clock) *BufferService {
	return &BufferService{
		imagesDir:     config.ImageDirectory,
		limit:         config.ImageBufferLimit,
		flushInterval: time.Duration(max(config.ImageBufferFlushInterval, 1)) * time.Second,
		images:        make([]dto.BufferedSnapshot, 0),
		bufferCount:   make(map[string]int),
		logger:        logger,
		confirmations: confirmations,
		clock:         clk,
	}
}

// Run flushes on every tick of the flush interval until ctx is done, then
// flushes once more.
func (s *BufferService) Run(ctx context.Context) {
	ticker := s.clock.Ticker(s.flushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.FlushImages()
			return
		case <-ticker.C:
			s.FlushImages()
		}
	}
}

// AddImage queues a snapshot. Snapshots beyond the per-session limit of one
// flush window are dropped.
func (s *BufferService) AddImage(snapshot dto.BufferedSnapshot) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.limit > 0 && s.bufferCount[snapshot.SessionID] >= s.limit {
		s.logger.Warning("Snapshot buffer full for session %s - dropping %s", snapshot.SessionID, snapshot.Label)
		return false
	}
	s.images = append(s.images, snapshot)
	s.bufferCount[snapshot.SessionID]++
	return true
}

// Pending returns the number of buffered snapshots.
func (s *BufferService) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.images)
}

// SessionDir returns the directory a session's snapshots are written to.
func (s *BufferService) SessionDir(sessionID string) string {
	return filepath.Join(s.imagesDir, sessionID)
}

// FlushImages writes buffered snapshots to disk, records their paths and
// resets the buffer.
func (s *BufferService) FlushImages() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.images) == 0 {
		return 0
	}

	savedCount := 0
	for _, image := range s.images {
		dir := s.SessionDir(image.SessionID)
		if err := os.MkdirAll(dir, 0755); err != nil {
			s.logger.Error("Error creating directory: %v", err)
			continue
		}

		filename := fmt.Sprintf("%s_%d_%s.jpg", image.Timestamp.Format("2006-01-02_15-04-05.000"), image.ConfirmationID, sanitize(image.Label))
		fullpath := filepath.Join(dir, filename)

		if err := os.WriteFile(fullpath, image.Data, 0644); err != nil {
			s.logger.Error("Error saving snapshot %s: %v", filename, err)
			continue
		}

		if s.confirmations != nil && image.ConfirmationID > 0 {
			if err := s.confirmations.SetSnapshot(image.ConfirmationID, fullpath); err != nil {
				s.logger.Error("Error saving snapshot path to database %s: %v", filename, err)
			}
		}
		savedCount++
	}

	s.logger.Info("Flushed %d snapshots to disk", savedCount)
	s.images = s.images[:0]
	s.bufferCount = make(map[string]int)
	return savedCount
}

// sanitize keeps labels usable as file name parts.
func sanitize(label string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			return r
		}
		return '_'
	}, label)
}
