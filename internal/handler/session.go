package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"medseen/internal/dto"
	"medseen/internal/httputil"
	"medseen/internal/logger"
	"medseen/internal/report"
	"medseen/internal/service"
	"medseen/internal/service/confirm"
	"medseen/internal/service/session"
)

// StartSessionHandler handles POST /api/session/start. Parameters come as
// JSON or as form values (threshold, min_gap_ms, confidence, source).
func StartSessionHandler(manager *service.Manager, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req, err := parseStartRequest(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}

		sess, err := manager.StartSession(r.Context(), req)
		switch {
		case errors.Is(err, service.ErrSessionActive):
			httputil.Conflict(w, err.Error())
			return
		case errors.Is(err, confirm.ErrInvalidThreshold),
			errors.Is(err, confirm.ErrInvalidGap),
			errors.Is(err, service.ErrInvalidConfidence):
			httputil.BadRequest(w, err.Error())
			return
		case err != nil:
			logger.Error("Error starting session: %v", err)
			httputil.InternalServerError(w, err.Error())
			return
		}

		httputil.WriteJSON(w, http.StatusCreated, sess.Status(manager.Now()))
	}
}

func parseStartRequest(r *http.Request) (dto.StartRequest, error) {
	var req dto.StartRequest
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return req, fmt.Errorf("invalid JSON body: %w", err)
		}
		return req, nil
	}

	if v := r.FormValue("threshold"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return req, fmt.Errorf("invalid threshold %q", v)
		}
		req.Threshold = n
	}
	if v := r.FormValue("min_gap_ms"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return req, fmt.Errorf("invalid min_gap_ms %q", v)
		}
		req.MinGapMillis = &n
	}
	if v := r.FormValue("confidence"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return req, fmt.Errorf("invalid confidence %q", v)
		}
		req.Confidence = &f
	}
	req.Source = r.FormValue("source")
	return req, nil
}

// StopSessionHandler handles POST /api/session/stop and answers with the
// final summary and links to the report downloads.
func StopSessionHandler(manager *service.Manager, registry *report.Registry, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, err := manager.StopSession(r.Context())
		if errors.Is(err, service.ErrNoSession) {
			httputil.Conflict(w, err.Error())
			return
		}
		if err != nil {
			logger.Error("Error stopping session: %v", err)
			httputil.InternalServerError(w, err.Error())
			return
		}

		reports := make(map[string]string)
		for _, format := range registry.Formats() {
			reports[format] = fmt.Sprintf("/api/sessions/report?id=%s&format=%s", sess.ID(), format)
		}
		httputil.WriteJSONOK(w, struct {
			Session dto.SessionStatus `json:"session"`
			Reports map[string]string `json:"reports"`
		}{sess.Status(manager.Now()), reports})
	}
}

// currentSession writes a 404 and returns nil when no session was ever started.
func currentSession(w http.ResponseWriter, manager *service.Manager) *session.Session {
	sess, _ := manager.Current()
	if sess == nil {
		httputil.NotFound(w, service.ErrNoSession.Error())
	}
	return sess
}

// SessionStatusHandler handles GET /api/session/status.
func SessionStatusHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess, _ := manager.Current()
		if sess == nil {
			httputil.WriteJSONOK(w, dto.SessionStatus{Running: false, Statistics: map[string]int{}})
			return
		}
		httputil.WriteJSONOK(w, sess.Status(manager.Now()))
	}
}

// SessionStatisticsHandler handles GET /api/session/statistics.
func SessionStatisticsHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if sess := currentSession(w, manager); sess != nil {
			httputil.WriteJSONOK(w, sess.Statistics())
		}
	}
}

type logEntry struct {
	confirm.Confirmation
	Text string `json:"text"`
}

// SessionLogHandler handles GET /api/session/log.
func SessionLogHandler(manager *service.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := currentSession(w, manager)
		if sess == nil {
			return
		}

		log := sess.Log()
		entries := make([]logEntry, len(log))
		for i, c := range log {
			entries[i] = logEntry{Confirmation: c, Text: c.String()}
		}
		httputil.WriteJSONOK(w, entries)
	}
}

// SessionReportHandler handles GET /api/session/report?format=pdf|html|json
// for the current (or last) session.
func SessionReportHandler(manager *service.Manager, registry *report.Registry, recent int, logger *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sess := currentSession(w, manager)
		if sess == nil {
			return
		}

		params := sess.Params()
		info := report.SessionInfo{
			ID:        sess.ID(),
			Source:    sess.Source(),
			StartedAt: sess.StartedAt(),
			Threshold: params.Confirm.Threshold,
			MinGap:    params.Confirm.MinGap,
		}
		if endedAt, ok := sess.EndedAt(); ok {
			info.EndedAt = endedAt
		}

		now := manager.Now()
		ds := report.Build(info, sess.Log(), sess.Statistics(), recent, now)
		writeReport(w, r, registry, ds, logger)
	}
}
