package sqlite

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"medseen/internal/dto"
	"medseen/internal/model"
	"medseen/internal/repository"
)

// SessionRepository implements repository.SessionRepository for SQLite.
type SessionRepository struct {
	db *DB
}

var _ repository.SessionRepository = (*SessionRepository)(nil)

// NewSessionRepository creates a new SQLite session repository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Insert adds a new session record.
func (r *SessionRepository) Insert(s *model.Session) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO sessions (id, source, threshold, min_gap_ms, confidence_floor, started_at, ended_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, s.ID, s.Source, s.Threshold, s.MinGapMillis, s.ConfidenceFloor, s.StartedAt.UTC(), nullTime(s.EndedAt))
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// Finish stamps the end time of a session.
func (r *SessionRepository) Finish(id string, endedAt time.Time) error {
	r.db.Lock()
	defer r.db.Unlock()

	res, err := r.db.Conn().Exec(`UPDATE sessions SET ended_at = ? WHERE id = ?`, endedAt.UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to finish session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

// GetByID retrieves a session by its ID.
func (r *SessionRepository) GetByID(id string) (*model.Session, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	row := r.db.Conn().QueryRow(`
		SELECT id, source, threshold, min_gap_ms, confidence_floor, started_at, ended_at
		FROM sessions WHERE id = ?
	`, id)

	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	return s, nil
}

// GetAll retrieves sessions matching the filter, newest first.
func (r *SessionRepository) GetAll(filter *dto.SessionFilters) ([]model.Session, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := sessionWhere(filter)
	query := `
		SELECT s.id, s.source, s.threshold, s.min_gap_ms, s.confidence_floor, s.started_at, s.ended_at
		FROM sessions s` + where + `
		ORDER BY s.started_at DESC`

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []model.Session
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, *s)
	}
	return sessions, rows.Err()
}

// GetTotalCount returns the number of sessions matching the filter.
func (r *SessionRepository) GetTotalCount(filter *dto.SessionFilters) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := sessionWhere(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM sessions s`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count sessions: %w", err)
	}
	return count, nil
}

// Delete removes a session and, through the foreign key, its confirmations.
func (r *SessionRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	res, err := r.db.Conn().Exec(`DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("session %s: %w", id, repository.ErrNotFound)
	}
	return nil
}

func sessionWhere(filter *dto.SessionFilters) (string, []interface{}) {
	where := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return where, args
	}

	if filter.Label != "" {
		where += " AND EXISTS (SELECT 1 FROM confirmations c WHERE c.session_id = s.id AND c.label = ?)"
		args = append(args, filter.Label)
	}
	if !filter.DateAfter.IsZero() {
		where += " AND DATE(s.started_at) >= DATE(?)"
		args = append(args, filter.DateAfter.Format("2006-01-02"))
	}
	if !filter.DateBefore.IsZero() {
		where += " AND DATE(s.started_at) <= DATE(?)"
		args = append(args, filter.DateBefore.Format("2006-01-02"))
	}
	return where, args
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanSession(row scanner) (*model.Session, error) {
	var s model.Session
	var ended sql.NullTime
	if err := row.Scan(&s.ID, &s.Source, &s.Threshold, &s.MinGapMillis, &s.ConfidenceFloor, &s.StartedAt, &ended); err != nil {
		return nil, err
	}
	if ended.Valid {
		t := ended.Time
		s.EndedAt = &t
	}
	return &s, nil
}

func nullTime(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.UTC()
}
