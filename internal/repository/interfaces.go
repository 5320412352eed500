package repository

import (
	"errors"
	"time"

	"medseen/internal/dto"
	"medseen/internal/model"
)

var ErrNotFound = errors.New("repository: not found")

// SessionRepository defines the interface for session data operations.
type SessionRepository interface {
	// Create operations
	Insert(s *model.Session) error

	// Update operations
	Finish(id string, endedAt time.Time) error

	// Read operations
	GetByID(id string) (*model.Session, error)
	GetAll(filter *dto.SessionFilters) ([]model.Session, error)
	GetTotalCount(filter *dto.SessionFilters) (int, error)

	// Delete operations
	Delete(id string) error
}

// ConfirmationRepository defines the interface for confirmed detection operations.
type ConfirmationRepository interface {
	// Create operations
	Insert(c *model.Confirmation) (int64, error)

	// Update operations
	SetSnapshot(id int64, path string) error

	// Read operations
	GetBySession(sessionID string) ([]model.Confirmation, error)
	CountByLabel(sessionID string) (map[string]int, error)
	GetAllLabels() ([]string, error)
	GetSnapshotPaths(sessionID string) ([]string, error)
}
