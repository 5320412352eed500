package sqlite

import (
	"fmt"

	"medseen/internal/model"
	"medseen/internal/repository"
)

// ConfirmationRepository implements repository.ConfirmationRepository for SQLite.
type ConfirmationRepository struct {
	db *DB
}

var _ repository.ConfirmationRepository = (*ConfirmationRepository)(nil)

// NewConfirmationRepository creates a new SQLite confirmation repository.
func NewConfirmationRepository(db *DB) *ConfirmationRepository {
	return &ConfirmationRepository{db: db}
}

// Insert adds an accepted confirmation.
func (r *ConfirmationRepository) Insert(c *model.Confirmation) (int64, error) {
	r.db.Lock()
	defer r.db.Unlock()

	result, err := r.db.Conn().Exec(`
		INSERT INTO confirmations (session_id, label, confidence, timestamp, snapshot_path)
		VALUES (?, ?, ?, ?, ?)
	`, c.SessionID, c.Label, c.Confidence, c.Timestamp.UTC(), c.SnapshotPath)
	if err != nil {
		return 0, fmt.Errorf("failed to insert confirmation: %w", err)
	}
	return result.LastInsertId()
}

// SetSnapshot records where the annotated frame of a confirmation was stored.
func (r *ConfirmationRepository) SetSnapshot(id int64, path string) error {
	r.db.Lock()
	defer r.db.Unlock()

	res, err := r.db.Conn().Exec(`UPDATE confirmations SET snapshot_path = ? WHERE id = ?`, path, id)
	if err != nil {
		return fmt.Errorf("failed to update snapshot: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("confirmation %d: %w", id, repository.ErrNotFound)
	}
	return nil
}

// GetBySession returns the confirmations of a session in log order.
func (r *ConfirmationRepository) GetBySession(sessionID string) ([]model.Confirmation, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, session_id, label, confidence, timestamp, snapshot_path
		FROM confirmations WHERE session_id = ?
		ORDER BY timestamp, id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query confirmations: %w", err)
	}
	defer rows.Close()

	var out []model.Confirmation
	for rows.Next() {
		var c model.Confirmation
		if err := rows.Scan(&c.ID, &c.SessionID, &c.Label, &c.Confidence, &c.Timestamp, &c.SnapshotPath); err != nil {
			return nil, fmt.Errorf("failed to scan confirmation: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// CountByLabel returns the tally of a session.
func (r *ConfirmationRepository) CountByLabel(sessionID string) (map[string]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT label, COUNT(*) FROM confirmations WHERE session_id = ? GROUP BY label
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to count confirmations: %w", err)
	}
	defer rows.Close()

	tally := make(map[string]int)
	for rows.Next() {
		var label string
		var n int
		if err := rows.Scan(&label, &n); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		tally[label] = n
	}
	return tally, rows.Err()
}

// GetAllLabels returns every label ever confirmed.
func (r *ConfirmationRepository) GetAllLabels() ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`SELECT DISTINCT label FROM confirmations ORDER BY label`)
	if err != nil {
		return nil, fmt.Errorf("failed to query labels: %w", err)
	}
	defer rows.Close()

	var labels []string
	for rows.Next() {
		var l string
		if err := rows.Scan(&l); err != nil {
			return nil, fmt.Errorf("failed to scan label: %w", err)
		}
		labels = append(labels, l)
	}
	return labels, rows.Err()
}

// GetSnapshotPaths lists stored snapshot files of a session.
func (r *ConfirmationRepository) GetSnapshotPaths(sessionID string) ([]string, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT snapshot_path FROM confirmations WHERE session_id = ? AND snapshot_path != ''
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("failed to scan snapshot path: %w", err)
		}
		paths = append(paths, p)
	}
	return paths, rows.Err()
}
