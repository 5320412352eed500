package route

import (
	"net/http"
	"os"
	"path/filepath"

	"medseen/internal/config"
	"medseen/internal/handler"
	"medseen/internal/logger"
	"medseen/internal/metrics"
	"medseen/internal/middleware"
	"medseen/internal/report"
	"medseen/internal/repository"
	"medseen/internal/service"
	"medseen/internal/service/detect"
	"medseen/internal/service/websocket"
)

// StaticDir holds the HTML pages and assets.
const StaticDir = "static"

// dynamicHTMLHandler serves /path as /static/path.html if the file exists; otherwise 404.
func dynamicHTMLHandler(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Path

	if path == "/" {
		path = "/index"
	}

	filePath := filepath.Join(StaticDir, filepath.Clean(path)+".html")

	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		http.NotFound(w, r)
		return
	}

	http.ServeFile(w, r, filePath)
}

// SetupRoutes registers HTTP routes, static file serving, API endpoints,
// and wraps the mux with the authentication and request logging middleware.
func SetupRoutes(manager *service.Manager, hub *websocket.HubService, predictor detect.Detector,
	registry *report.Registry, metrics *metrics.Metrics, cfg *config.Config, log *logger.Logger,
	sessionRepo repository.SessionRepository, confirmationRepo repository.ConfirmationRepository) http.Handler {
	mux := http.NewServeMux()

	// Static files
	mux.Handle("/static/", http.StripPrefix("/static/", http.FileServer(http.Dir(StaticDir))))

	// Current session
	mux.HandleFunc("POST /api/session/start", handler.StartSessionHandler(manager, log))
	mux.HandleFunc("POST /api/session/stop", handler.StopSessionHandler(manager, registry, log))
	mux.HandleFunc("GET /api/session/status", handler.SessionStatusHandler(manager))
	mux.HandleFunc("GET /api/session/statistics", handler.SessionStatisticsHandler(manager))
	mux.HandleFunc("GET /api/session/log", handler.SessionLogHandler(manager))
	mux.HandleFunc("GET /api/session/report", handler.SessionReportHandler(manager, registry, cfg.ReportRecentLimit, log))

	// History
	mux.HandleFunc("GET /api/sessions", handler.GetSessionsHandler(log, sessionRepo, confirmationRepo))
	mux.HandleFunc("GET /api/sessions/detail", handler.GetSessionDetailHandler(cfg, log, sessionRepo, confirmationRepo))
	mux.HandleFunc("GET /api/sessions/report", handler.SessionsReportHandler(registry, cfg.ReportRecentLimit, manager.Now, log, sessionRepo, confirmationRepo))
	mux.HandleFunc("DELETE /api/sessions", handler.DeleteSessionHandler(manager, cfg, log, sessionRepo))
	mux.HandleFunc("GET /api/snapshots/view", handler.ViewSnapshotHandler(cfg))

	// Live view and one-off inference
	mux.HandleFunc("GET /api/view", handler.ViewWebsocketHandler(hub, log))
	if predictor != nil {
		mux.HandleFunc("POST /api/predict", handler.PredictHandler(predictor, log))
	}

	mux.Handle("GET /metrics", metrics.Handler())

	// Log endpoints
	for name, file := range map[string]string{"info": logger.InfoFile, "warning": logger.WarningFile, "error": logger.ErrorFile} {
		mux.HandleFunc("GET /logs/"+name, handler.ShowLogsHandler(log, file))
		mux.HandleFunc("/logs/"+name+"/clear", handler.ClearLogsHandler(log, file))
	}

	// Auth endpoints
	mux.HandleFunc("POST /auth/login", handler.LoginHandler(cfg, log))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	// Automatic HTML handler mapping for example: /history -> /static/history.html
	mux.HandleFunc("/", dynamicHTMLHandler)

	return middleware.AuthMiddleware(middleware.LoggingMiddleware(log, mux))
}
