// Package service runs detection sessions: it drives the frame pipeline
// (capture, inference workers, in-order application to the session) and
// fans results out to storage, metrics and live viewers.
package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"medseen/internal/config"
	"medseen/internal/dto"
	"medseen/internal/logger"
	"medseen/internal/metrics"
	"medseen/internal/model"
	"medseen/internal/repository"
	"medseen/internal/service/camera"
	"medseen/internal/service/confirm"
	"medseen/internal/service/detect"
	"medseen/internal/service/session"
	"medseen/internal/service/storage"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
)

var (
	ErrSessionActive     = errors.New("a detection session is already running")
	ErrNoSession         = errors.New("no detection session is running")
	ErrInvalidConfidence = errors.New("confidence must be between 0 and 1")
)

// SourceFactory opens the frame source named by a session's source setting.
type SourceFactory func(source string) (camera.FrameSource, error)

// Broadcaster delivers live view messages to connected viewers.
type Broadcaster interface {
	Broadcast(message []byte)
}

type Manager struct {
	detectors     []detect.Detector
	bufferService *storage.BufferService
	viewers       Broadcaster
	sessions      repository.SessionRepository
	confirmations repository.ConfirmationRepository
	openSource    SourceFactory
	metrics       *metrics.Metrics
	logger        *logger.Logger
	clock         clock.Clock

	config *config.Config

	mu     sync.Mutex
	active *run
	last   *session.Session
}

// run is the pipeline of one session.
type run struct {
	session *session.Session
	source  camera.FrameSource
	cancel  context.CancelFunc
	done    chan struct{}
}

type processingTask struct {
	seq   uint64
	frame camera.Frame
}

type processingResult struct {
	seq        uint64
	capturedAt time.Time
	frame      []byte
	result     detect.Result
	err        error
}

// NewManager wires the pipeline. One detector is used per worker, so the
// number of workers is len(detectors).
func NewManager(
	detectors []detect.Detector,
	bufferService *storage.BufferService,
	viewers Broadcaster,
	sessions repository.SessionRepository,
	confirmations repository.ConfirmationRepository,
	openSource SourceFactory,
	config *config.Config,
	metrics *metrics.Metrics,
	logger *logger.Logger,
	clk clock.Clock,
) *Manager {
	return &Manager{
		detectors:     detectors,
		bufferService: bufferService,
		viewers:       viewers,
		sessions:      sessions,
		confirmations: confirmations,
		openSource:    openSource,
		config:        config,
		metrics:       metrics,
		logger:        logger,
		clock:         clk,
	}
}

// params merges a start request with the configured defaults.
func (m *Manager) params(req dto.StartRequest) (session.Params, string, error) {
	cfg := confirm.Config{Threshold: m.config.ConfirmThreshold, MinGap: m.config.MinConfirmGap}
	if req.Threshold != 0 {
		cfg.Threshold = req.Threshold
	}
	if req.MinGapMillis != nil {
		cfg.MinGap = time.Duration(*req.MinGapMillis) * time.Millisecond
	}
	if err := cfg.Validate(); err != nil {
		return session.Params{}, "", err
	}

	floor := m.config.ConfidenceFloor
	if req.Confidence != nil {
		floor = *req.Confidence
	}
	if floor < 0 || floor > 1 {
		return session.Params{}, "", fmt.Errorf("%w: %v", ErrInvalidConfidence, floor)
	}

	source := req.Source
	if source == "" {
		source = m.config.CameraSource
	}
	return session.Params{Confirm: cfg, ConfidenceFloor: floor}, source, nil
}

// StartSession opens the frame source and starts the pipeline for a new
// session. The pipeline outlives ctx; it runs until StopSession.
func (m *Manager) StartSession(ctx context.Context, req dto.StartRequest) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return nil, ErrSessionActive
	}
	if len(m.detectors) == 0 {
		return nil, errors.New("no detectors configured")
	}

	params, sourceName, err := m.params(req)
	if err != nil {
		return nil, err
	}

	source, err := m.openSource(sourceName)
	if err != nil {
		return nil, fmt.Errorf("opening source %q: %w", sourceName, err)
	}

	sess, err := session.New(uuid.NewString(), source.Name(), params, m.clock.Now())
	if err != nil {
		source.Close()
		return nil, err
	}

	if err := m.sessions.Insert(&model.Session{
		ID:              sess.ID(),
		Source:          sess.Source(),
		Threshold:       params.Confirm.Threshold,
		MinGapMillis:    params.Confirm.MinGap.Milliseconds(),
		ConfidenceFloor: params.ConfidenceFloor,
		StartedAt:       sess.StartedAt(),
	}); err != nil {
		source.Close()
		return nil, fmt.Errorf("saving session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &run{session: sess, source: source, cancel: cancel, done: make(chan struct{})}
	m.active = r
	m.metrics.SessionActive.Set(1)

	m.startPipeline(runCtx, r)

	m.logger.Info("🎬 Session %s started on %s (threshold %d, gap %s, floor %.2f)",
		sess.ID(), sess.Source(), params.Confirm.Threshold, params.Confirm.MinGap, params.ConfidenceFloor)
	return sess, nil
}

func (m *Manager) startPipeline(ctx context.Context, r *run) {
	tasks := make(chan processingTask, max(m.config.QueueSize, 1))
	results := make(chan processingResult, len(m.detectors)*2)

	// The ticker is created before any goroutine starts so no tick is lost.
	ticker := m.clock.Ticker(m.tickInterval())

	var producers sync.WaitGroup
	producers.Add(1)
	go func() {
		defer producers.Done()
		m.captureLoop(ctx, r.source, ticker, tasks, results)
	}()

	for i, det := range m.detectors {
		producers.Add(1)
		go func() {
			defer producers.Done()
			m.processingWorker(i, det, tasks, results)
		}()
	}

	go func() {
		producers.Wait()
		close(results)
	}()

	go m.consume(r, results)
}

func (m *Manager) tickInterval() time.Duration {
	if m.config.TickInterval <= 0 {
		return 500 * time.Millisecond
	}
	return m.config.TickInterval
}

// captureLoop reads one frame per tick. A failed read becomes a no-op tick
// that skips the workers; a full queue drops the frame before it is
// sequenced.
func (m *Manager) captureLoop(ctx context.Context, source camera.FrameSource, ticker *clock.Ticker, tasks chan<- processingTask, results chan<- processingResult) {
	defer ticker.Stop()
	defer close(tasks)

	var seq uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		readCtx, cancel := context.WithTimeout(ctx, m.tickInterval())
		frame, err := source.Read(readCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}

		if err != nil {
			m.metrics.CaptureFailures.Inc()
			m.logger.Warning("Capture from %s failed: %v", source.Name(), err)
			results <- processingResult{seq: seq, capturedAt: m.clock.Now(), err: err}
			seq++
			continue
		}
		m.metrics.FramesCaptured.Inc()
		if frame.CapturedAt.IsZero() {
			frame.CapturedAt = m.clock.Now()
		}

		select {
		case tasks <- processingTask{seq: seq, frame: frame}:
			seq++
		default:
			m.metrics.FramesDropped.Inc()
			m.logger.Warning("Processing queue full for %s - dropping frame", source.Name())
		}
	}
}

func (m *Manager) processingWorker(workerID int, det detect.Detector, tasks <-chan processingTask, results chan<- processingResult) {
	m.logger.Info("🔧 Processing worker %d started", workerID)

	for task := range tasks {
		start := m.clock.Now()
		res, err := det.Detect(task.frame.Data)
		m.metrics.ObserveInference(m.clock.Since(start))
		if err != nil {
			m.metrics.InferenceFailures.Inc()
			m.logger.Error("Worker %d: object detection failed: %v", workerID, err)
		}
		results <- processingResult{
			seq:        task.seq,
			capturedAt: task.frame.CapturedAt,
			frame:      task.frame.Data,
			result:     res,
			err:        err,
		}
	}

	m.logger.Info("🔧 Processing worker %d stopped", workerID)
}

// consume is the only caller of the session's Observe and Skip.
func (m *Manager) consume(r *run, results <-chan processingResult) {
	defer close(r.done)

	seq := newSequencer[processingResult]()
	for res := range results {
		for _, ready := range seq.Push(res.seq, res) {
			m.apply(r.session, ready)
		}
	}
	if n := seq.Waiting(); n > 0 {
		m.logger.Warning("%d results left unapplied for session %s", n, r.session.ID())
	}
}

func (m *Manager) apply(sess *session.Session, res processingResult) {
	if res.err != nil {
		m.sendToViewers(sess.ID(), nil, sess.Skip(res.capturedAt))
		return
	}

	floor := sess.Params().ConfidenceFloor
	kept := make([]detect.Detection, 0, len(res.result.Detections))
	for _, d := range res.result.Detections {
		if d.Confidence >= floor {
			kept = append(kept, d)
		}
	}

	info, confirmation := sess.Observe(detect.Best(kept), res.capturedAt)

	image := res.result.Annotated
	if image == nil {
		image = res.frame
	}

	if info.Attempted {
		m.metrics.Attempts.Inc()
		if !info.Confirmed {
			m.metrics.Rejected.Inc()
			m.logger.Info("Confirmation of %s rejected: last one was less than %s ago", info.Label, sess.Params().Confirm.MinGap)
		}
	}
	if confirmation != nil {
		m.confirmed(sess, *confirmation, image)
	}

	m.sendToViewers(sess.ID(), image, info)
}

func (m *Manager) confirmed(sess *session.Session, c confirm.Confirmation, image []byte) {
	m.metrics.Accepted.WithLabelValues(c.Label).Inc()
	m.logger.Info("✅ Session %s: %s", sess.ID(), c)

	id, err := m.confirmations.Insert(&model.Confirmation{
		SessionID:  sess.ID(),
		Label:      c.Label,
		Confidence: c.Confidence,
		Timestamp:  c.Timestamp,
	})
	if err != nil {
		m.logger.Error("Error saving confirmation: %v", err)
		return
	}

	m.bufferService.AddImage(dto.BufferedSnapshot{
		ConfirmationID: id,
		SessionID:      sess.ID(),
		Label:          c.Label,
		Timestamp:      c.Timestamp,
		Data:           image,
	})
}

func (m *Manager) sendToViewers(sessionID string, image []byte, info dto.TickInfo) {
	msg := dto.ViewerMessage{Session: sessionID, Tick: info}
	if image != nil {
		msg.Image = base64.StdEncoding.EncodeToString(image)
	}
	data, err := json.Marshal(msg)
	if err != nil {
		m.logger.Error("Error encoding viewer message: %v", err)
		return
	}
	m.viewers.Broadcast(data)
}

// StopSession stops the pipeline, waits for in-flight frames to be applied
// and finalises the session. If ctx ends first the pipeline is still
// stopping and ctx's error is returned.
func (m *Manager) StopSession(ctx context.Context) (*session.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r := m.active
	if r == nil {
		return nil, ErrNoSession
	}

	r.cancel()
	select {
	case <-r.done:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := r.source.Close(); err != nil {
		m.logger.Warning("Error closing source %s: %v", r.source.Name(), err)
	}

	endedAt := m.clock.Now()
	r.session.Finish(endedAt)
	if err := m.sessions.Finish(r.session.ID(), endedAt); err != nil {
		m.logger.Error("Error saving session end: %v", err)
	}
	m.bufferService.FlushImages()

	m.active = nil
	m.last = r.session
	m.metrics.SessionActive.Set(0)

	status := r.session.Status(endedAt)
	m.logger.Info("🛑 Session %s stopped after %.0fs: %d confirmations", r.session.ID(), status.DurationSeconds, status.Confirmations)
	return r.session, nil
}

// Current returns the running session, or the last finished one when none
// is running. running is false in the latter case; the session is nil when
// no session was ever started.
func (m *Manager) Current() (sess *session.Session, running bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.active != nil {
		return m.active.session, true
	}
	return m.last, false
}

// Shutdown stops a running session and releases the detectors.
func (m *Manager) Shutdown(ctx context.Context) {
	if _, err := m.StopSession(ctx); err != nil && !errors.Is(err, ErrNoSession) {
		m.logger.Error("Error stopping session: %v", err)
	}
	for i, det := range m.detectors {
		if err := det.Close(); err != nil {
			m.logger.Error("Error closing detector %d: %v", i, err)
		}
	}
	m.logger.Info("🛑 All processing workers stopped")
}

// Now is the manager's clock reading, the time base of every session.
func (m *Manager) Now() time.Time {
	return m.clock.Now()
}
