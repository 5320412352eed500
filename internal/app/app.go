package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"medseen/internal/config"
	"medseen/internal/logger"
	"medseen/internal/metrics"
	"medseen/internal/report"
	"medseen/internal/repository/sqlite"
	"medseen/internal/route"
	"medseen/internal/service"
	"medseen/internal/service/ai"
	"medseen/internal/service/camera"
	"medseen/internal/service/camera/webcam"
	"medseen/internal/service/detect"
	"medseen/internal/service/storage"
	"medseen/internal/service/websocket"

	"github.com/benbjohnson/clock"
)

const shutdownTimeout = 10 * time.Second

type App struct {
	config        *config.Config
	logger        *logger.Logger
	db            *sqlite.DB
	predictor     detect.Detector
	bufferService *storage.BufferService
	hubService    *websocket.HubService
	manager       *service.Manager
	server        *http.Server
}

func NewApp() (*App, error) {
	cfg := config.Load()
	log := logger.NewLogger(cfg)
	m := metrics.New()
	clk := clock.New()

	if err := os.MkdirAll(filepath.Dir(cfg.DatabasePath), 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}
	db, err := sqlite.New(cfg.DatabasePath)
	if err != nil {
		return nil, err
	}
	sessions := sqlite.NewSessionRepository(db)
	confirmations := sqlite.NewConfirmationRepository(db)

	// One model per worker plus one for /api/predict.
	detectors := make([]detect.Detector, 0, cfg.ProcessingWorkers+1)
	for range max(cfg.ProcessingWorkers, 1) + 1 {
		ds, err := ai.NewDetectorService(cfg, log)
		if err != nil {
			for _, d := range detectors {
				d.Close()
			}
			db.Close()
			return nil, fmt.Errorf("loading model: %w", err)
		}
		detectors = append(detectors, ds)
	}
	workers, predictor := detectors[:len(detectors)-1], detectors[len(detectors)-1]

	buffer := storage.NewBufferService(cfg, log, confirmations, clk)
	hub := websocket.NewHubService(log, m)
	mng := service.NewManager(workers, buffer, hub, sessions, confirmations, sourceFactory(cfg, log), cfg, m, log, clk)

	router := route.SetupRoutes(mng, hub, predictor, report.DefaultRegistry(), m, cfg, log, sessions, confirmations)

	return &App{
		config:        cfg,
		logger:        log,
		db:            db,
		predictor:     predictor,
		bufferService: buffer,
		hubService:    hub,
		manager:       mng,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}, nil
}

// sourceFactory opens frame sources by name. "images:<glob>" overrides the
// configured image glob.
func sourceFactory(cfg *config.Config, log *logger.Logger) service.SourceFactory {
	return func(name string) (camera.FrameSource, error) {
		var (
			source camera.FrameSource
			err    error
		)
		kind, arg, _ := strings.Cut(name, ":")
		switch kind {
		case config.SourceWebcam:
			source, err = webcam.Open(cfg, log)
		case config.SourceUDP:
			source, err = camera.ListenUDP(cfg, log)
		case config.SourceImages:
			if arg == "" {
				arg = cfg.ImageSourceGlob
			}
			source, err = camera.NewImageSource(arg)
		default:
			return nil, fmt.Errorf("unknown camera source %q", name)
		}
		if err != nil {
			return nil, err
		}
		return source, nil
	}
}

// Run serves until ctx is cancelled, then stops the running session and the
// background services.
func (a *App) Run(ctx context.Context) error {
	bgCtx, stopBackground := context.WithCancel(context.Background())
	bufferDone := make(chan struct{})
	go func() {
		defer close(bufferDone)
		a.bufferService.Run(bgCtx)
	}()
	go a.hubService.Run(bgCtx)

	a.logger.Info("🚀 Dental instrument detection server")
	a.logger.Info("📍 URL: http://localhost:%d", a.config.Port)
	a.logger.Info("📷 Source: %s", a.config.CameraSource)
	a.logger.Info("📁 Images: %s", a.config.ImageDirectory)
	a.logger.Info("🤖 AI Model: %s", a.config.ModelPath)

	serveErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	var err error
	select {
	case <-ctx.Done():
	case err = <-serveErr:
	}

	a.logger.Info("🛑 Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if serr := a.server.Shutdown(shutdownCtx); serr != nil {
		a.logger.Error("HTTP shutdown: %v", serr)
	}
	a.manager.Shutdown(shutdownCtx)
	stopBackground()
	<-bufferDone

	// The manager closed the worker detectors.
	if cerr := a.predictor.Close(); cerr != nil {
		a.logger.Error("Closing predictor: %v", cerr)
	}
	if cerr := a.db.Close(); cerr != nil {
		a.logger.Error("Closing database: %v", cerr)
	}
	a.logger.Close()
	return err
}
