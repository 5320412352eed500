package handler

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"medseen/internal/config"
	"medseen/internal/dto"
	"medseen/internal/httputil"
	"medseen/internal/logger"
	"medseen/internal/model"
	"medseen/internal/report"
	"medseen/internal/repository"
	"medseen/internal/service"
	"medseen/internal/service/confirm"
)

const defaultPageSize = 20

// GetSessionsHandler returns the filtered, paginated session history.
func GetSessionsHandler(logger *logger.Logger, sessionRepo repository.SessionRepository, confirmationRepo repository.ConfirmationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), defaultPageSize)

		filter := &dto.SessionFilters{
			Label:      q.Get("label"),
			DateAfter:  parseDate(q.Get("dateAfter")),
			DateBefore: parseDate(q.Get("dateBefore")),
			Limit:      limit,
			Offset:     (page - 1) * limit,
		}

		sessions, err := sessionRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying sessions from database: %v", err)
			httputil.InternalServerError(w, "failed to query sessions")
			return
		}

		totalCount, err := sessionRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting sessions: %v", err)
			totalCount = len(sessions)
		}

		labels, err := confirmationRepo.GetAllLabels()
		if err != nil {
			logger.Error("Error getting labels: %v", err)
			labels = []string{}
		}

		infos := make([]dto.SessionInfo, 0, len(sessions))
		for _, s := range sessions {
			counts, err := confirmationRepo.CountByLabel(s.ID)
			if err != nil {
				logger.Error("Error counting confirmations of session %s: %v", s.ID, err)
				counts = map[string]int{}
			}
			total := 0
			for _, n := range counts {
				total += n
			}
			infos = append(infos, dto.SessionInfo{
				ID:            s.ID,
				Source:        s.Source,
				StartedAt:     s.StartedAt,
				EndedAt:       s.EndedAt,
				Confirmations: total,
				Labels:        counts,
			})
		}

		httputil.WriteJSONOK(w, dto.SessionsData{
			Sessions:    infos,
			Labels:      labels,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetSessionDetailHandler returns one persisted session with its
// confirmations. Snapshot paths are relative to the image directory, the
// form /api/snapshots/view expects.
func GetSessionDetailHandler(cfg *config.Config, logger *logger.Logger, sessionRepo repository.SessionRepository, confirmationRepo repository.ConfirmationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, confirmations, ok := loadSession(w, r, logger, sessionRepo, confirmationRepo)
		if !ok {
			return
		}
		for i, c := range confirmations {
			if c.SnapshotPath == "" {
				continue
			}
			if rel, err := filepath.Rel(cfg.ImageDirectory, c.SnapshotPath); err == nil {
				confirmations[i].SnapshotPath = filepath.ToSlash(rel)
			}
		}
		httputil.WriteJSONOK(w, struct {
			Session       *model.Session       `json:"session"`
			Confirmations []model.Confirmation `json:"confirmations"`
		}{s, confirmations})
	}
}

// SessionsReportHandler exports a persisted session.
func SessionsReportHandler(registry *report.Registry, recent int, now func() time.Time, logger *logger.Logger, sessionRepo repository.SessionRepository, confirmationRepo repository.ConfirmationRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, rows, ok := loadSession(w, r, logger, sessionRepo, confirmationRepo)
		if !ok {
			return
		}

		info := report.SessionInfo{
			ID:        s.ID,
			Source:    s.Source,
			StartedAt: s.StartedAt,
			Threshold: s.Threshold,
			MinGap:    time.Duration(s.MinGapMillis) * time.Millisecond,
		}
		if s.EndedAt != nil {
			info.EndedAt = *s.EndedAt
		}

		log := make([]confirm.Confirmation, len(rows))
		tally := make(map[string]int)
		for i, c := range rows {
			log[i] = confirm.Confirmation{Label: c.Label, Confidence: c.Confidence, Timestamp: c.Timestamp}
			tally[c.Label]++
		}

		writeReport(w, r, registry, report.Build(info, log, tally, recent, now()), logger)
	}
}

func loadSession(w http.ResponseWriter, r *http.Request, logger *logger.Logger, sessionRepo repository.SessionRepository, confirmationRepo repository.ConfirmationRepository) (*model.Session, []model.Confirmation, bool) {
	id := r.URL.Query().Get("id")
	if id == "" {
		httputil.BadRequest(w, "id required")
		return nil, nil, false
	}

	s, err := sessionRepo.GetByID(id)
	if errors.Is(err, repository.ErrNotFound) {
		httputil.NotFound(w, "session not found")
		return nil, nil, false
	}
	if err != nil {
		logger.Error("Error loading session %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load session")
		return nil, nil, false
	}

	confirmations, err := confirmationRepo.GetBySession(id)
	if err != nil {
		logger.Error("Error loading confirmations of session %s: %v", id, err)
		httputil.InternalServerError(w, "failed to load confirmations")
		return nil, nil, false
	}
	return s, confirmations, true
}

// DeleteSessionHandler removes a finished session, its confirmations and its
// snapshots.
func DeleteSessionHandler(manager *service.Manager, cfg *config.Config, logger *logger.Logger, sessionRepo repository.SessionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Query().Get("id")
		if id == "" {
			httputil.BadRequest(w, "id required")
			return
		}
		if current, running := manager.Current(); running && current.ID() == id {
			httputil.Conflict(w, "session is still running")
			return
		}

		err := sessionRepo.Delete(id)
		if errors.Is(err, repository.ErrNotFound) {
			httputil.NotFound(w, "session not found")
			return
		}
		if err != nil {
			logger.Error("Failed to delete session %s: %v", id, err)
			httputil.InternalServerError(w, "failed to delete session")
			return
		}

		if err := os.RemoveAll(filepath.Join(cfg.ImageDirectory, filepath.Base(id))); err != nil {
			logger.Error("Failed to delete snapshots of session %s: %v", id, err)
		}

		logger.Info("Deleted session: %s", id)
		httputil.WriteJSONOK(w, map[string]string{"status": "deleted", "id": id})
	}
}

// ViewSnapshotHandler serves a snapshot given by its path relative to the
// image directory.
func ViewSnapshotHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Query().Get("path")
		if path == "" {
			httputil.BadRequest(w, "path parameter is required")
			return
		}
		// Rooting the path before cleaning keeps it inside the image directory.
		filePath := filepath.Join(cfg.ImageDirectory, filepath.Clean("/"+path))
		http.ServeFile(w, r, filePath)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
