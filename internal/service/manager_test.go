package service

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"medseen/internal/config"
	"medseen/internal/dto"
	"medseen/internal/logger"
	"medseen/internal/metrics"
	"medseen/internal/repository/sqlite"
	"medseen/internal/service/camera"
	"medseen/internal/service/confirm"
	"medseen/internal/service/detect"
	"medseen/internal/service/storage"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const tick = time.Second

// Script entries understood by the fakes below.
const (
	captureFail = "capture-fail"
	inferFail   = "infer-fail"
	nothing     = ""
)

type scriptedSource struct {
	mu     sync.Mutex
	script []string
	reads  int
	closed bool
	clk    clock.Clock
}

func (s *scriptedSource) Read(ctx context.Context) (camera.Frame, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.reads
	s.reads++
	if i >= len(s.script) || s.script[i] == captureFail {
		return camera.Frame{}, errors.New("camera unplugged")
	}
	return camera.Frame{Data: []byte(s.script[i]), CapturedAt: s.clk.Now()}, nil
}

func (s *scriptedSource) Reads() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.reads
}

func (s *scriptedSource) Name() string { return "scripted" }

func (s *scriptedSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// labelDetector reports the frame's content as the label of a single box.
type labelDetector struct {
	delay map[string]time.Duration
}

func (d labelDetector) Detect(img []byte) (detect.Result, error) {
	label := string(img)
	time.Sleep(d.delay[label])
	switch label {
	case inferFail:
		return detect.Result{}, errors.New("inference exploded")
	case nothing:
		return detect.Result{Annotated: []byte("annotated:")}, nil
	}
	return detect.Result{
		Detections: []detect.Detection{{Label: label, Confidence: 0.9}},
		Annotated:  []byte("annotated:" + label),
	}, nil
}

func (labelDetector) Close() error { return nil }

type recordingViewers struct {
	mu       sync.Mutex
	messages []dto.ViewerMessage
}

func (v *recordingViewers) Broadcast(message []byte) {
	var msg dto.ViewerMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		panic(err)
	}
	v.mu.Lock()
	v.messages = append(v.messages, msg)
	v.mu.Unlock()
}

func (v *recordingViewers) Messages() []dto.ViewerMessage {
	v.mu.Lock()
	defer v.mu.Unlock()
	return append([]dto.ViewerMessage(nil), v.messages...)
}

type fixture struct {
	manager *Manager
	clock   *clock.Mock
	source  *scriptedSource
	viewers *recordingViewers
	metrics *metrics.Metrics
	db      *sqlite.DB
	config  *config.Config
}

func newFixture(t *testing.T, script []string, detectors ...detect.Detector) *fixture {
	t.Helper()

	dir := t.TempDir()
	cfg := &config.Config{
		CameraSource:             "scripted",
		ConfidenceFloor:          0.5,
		ConfirmThreshold:         3,
		MinConfirmGap:            2 * time.Second,
		TickInterval:             tick,
		QueueSize:                8,
		ImageDirectory:           filepath.Join(dir, "images"),
		ImageBufferLimit:         10,
		ImageBufferFlushInterval: 30,
		LogDirectory:             filepath.Join(dir, "logs"),
	}
	if len(detectors) == 0 {
		detectors = []detect.Detector{labelDetector{}}
	}

	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	mock := clock.NewMock()
	mock.Set(time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC))
	log := logger.NewLogger(cfg)
	confirmations := sqlite.NewConfirmationRepository(db)
	src := &scriptedSource{script: script, clk: mock}
	viewers := &recordingViewers{}
	m := metrics.New()

	open := func(name string) (camera.FrameSource, error) {
		if name != "scripted" {
			return nil, errors.New("unknown source")
		}
		return src, nil
	}

	manager := NewManager(
		detectors,
		storage.NewBufferService(cfg, log, confirmations, mock),
		viewers,
		sqlite.NewSessionRepository(db),
		confirmations,
		open,
		cfg, m, log, mock,
	)
	t.Cleanup(func() { manager.Shutdown(context.Background()) })

	return &fixture{manager: manager, clock: mock, source: src, viewers: viewers, metrics: m, db: db, config: cfg}
}

// drive fires n ticks, one frame read at a time, and waits until all of them
// were applied to the session.
func (f *fixture) drive(t *testing.T, n int) {
	t.Helper()
	sess, running := f.manager.Current()
	require.True(t, running)

	for i := 0; i < n; i++ {
		want := f.source.Reads() + 1
		f.clock.Add(tick)
		require.Eventually(t, func() bool { return f.source.Reads() >= want }, 2*time.Second, time.Millisecond)
	}
	require.Eventually(t, func() bool {
		return sess.Status(f.clock.Now()).Ticks >= n
	}, 2*time.Second, time.Millisecond)
}

func labels(log []confirm.Confirmation) []string {
	out := make([]string, len(log))
	for i, c := range log {
		out[i] = c.Label
	}
	return out
}

func TestManager_ConfirmsAfterThreshold(t *testing.T) {
	f := newFixture(t, []string{"forceps", "forceps", "forceps"})

	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{})
	require.NoError(t, err)
	f.drive(t, 3)

	log := sess.Log()
	require.Len(t, log, 1)
	assert.Equal(t, "forceps", log[0].Label)
	assert.Equal(t, f.clock.Now(), log[0].Timestamp, "the frame's capture time is the confirmation time")

	stopped, err := f.manager.StopSession(context.Background())
	require.NoError(t, err)
	assert.Same(t, sess, stopped)
	assert.True(t, f.source.closed)

	rows, err := sqlite.NewConfirmationRepository(f.db).GetBySession(sess.ID())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].SnapshotPath, "snapshot flushed on stop")

	persisted, err := sqlite.NewSessionRepository(f.db).GetByID(sess.ID())
	require.NoError(t, err)
	require.NotNil(t, persisted.EndedAt)

	msgs := f.viewers.Messages()
	require.Len(t, msgs, 3)
	last := msgs[2]
	assert.True(t, last.Tick.Confirmed)
	img, err := base64.StdEncoding.DecodeString(last.Image)
	require.NoError(t, err)
	assert.Equal(t, "annotated:forceps", string(img))

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Accepted.WithLabelValues("forceps")))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Attempts))
	assert.Equal(t, 0.0, testutil.ToFloat64(f.metrics.SessionActive))
}

func TestManager_FailuresAreNoOpTicks(t *testing.T) {
	f := newFixture(t, []string{"forceps", "forceps", captureFail, inferFail, "forceps"})

	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{})
	require.NoError(t, err)
	f.drive(t, 5)

	assert.Equal(t, []string{"forceps"}, labels(sess.Log()), "failed ticks must not reset accumulation")
	status := sess.Status(f.clock.Now())
	assert.Equal(t, 2, status.SkippedTicks)
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.CaptureFailures))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.InferenceFailures))
}

func TestManager_EmptyFrameResets(t *testing.T) {
	f := newFixture(t, []string{"forceps", "forceps", nothing, "forceps"})

	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{})
	require.NoError(t, err)
	f.drive(t, 4)

	assert.Empty(t, sess.Log())
	last := sess.Status(f.clock.Now()).Last
	assert.Equal(t, "forceps", last.Label)
	assert.Equal(t, 1, last.Count, "accumulation restarts after an empty frame")
}

func TestManager_SessionConfidenceFloor(t *testing.T) {
	f := newFixture(t, []string{"forceps", "forceps", "forceps"})

	floor := 0.95
	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{Confidence: &floor})
	require.NoError(t, err)
	f.drive(t, 3)

	assert.Empty(t, sess.Log(), "boxes under the session floor count as no detection")
}

func TestManager_GapRejectsAcrossLabels(t *testing.T) {
	f := newFixture(t, []string{"forceps", "forceps", "forceps", "mirror", "mirror", "mirror", "mirror", "mirror"})

	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{MinGapMillis: ptr(int64(3500))})
	require.NoError(t, err)
	f.drive(t, 8)

	// forceps at t=3s. mirror attempts at t=6s (rejected, 3s <= 3.5s), drops
	// back to a count of 1 and attempts again at t=8s.
	assert.Equal(t, []string{"forceps", "mirror"}, labels(sess.Log()))
	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.Rejected))
	assert.Equal(t, 3.0, testutil.ToFloat64(f.metrics.Attempts))
}

func TestManager_ParallelWorkersKeepCaptureOrder(t *testing.T) {
	slowFirst := labelDetector{delay: map[string]time.Duration{"probe": 40 * time.Millisecond}}
	f := newFixture(t,
		[]string{"probe", "probe", "probe", "mirror", "mirror", "mirror"},
		slowFirst, slowFirst, slowFirst,
	)

	sess, err := f.manager.StartSession(context.Background(), dto.StartRequest{})
	require.NoError(t, err)
	f.drive(t, 6)

	assert.Equal(t, []string{"probe", "mirror"}, labels(sess.Log()))

	msgs := f.viewers.Messages()
	require.Len(t, msgs, 6)
	for i := 1; i < len(msgs); i++ {
		assert.True(t, msgs[i].Tick.At.After(msgs[i-1].Tick.At), "ticks are applied in capture order")
	}
}

func TestManager_Lifecycle(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	_, err := f.manager.StopSession(ctx)
	assert.ErrorIs(t, err, ErrNoSession)

	sess, running := f.manager.Current()
	assert.Nil(t, sess)
	assert.False(t, running)

	_, err = f.manager.StartSession(ctx, dto.StartRequest{Threshold: -1})
	assert.ErrorIs(t, err, confirm.ErrInvalidThreshold)

	_, err = f.manager.StartSession(ctx, dto.StartRequest{MinGapMillis: ptr(int64(-5))})
	assert.ErrorIs(t, err, confirm.ErrInvalidGap)

	_, err = f.manager.StartSession(ctx, dto.StartRequest{Confidence: ptr(1.5)})
	assert.ErrorIs(t, err, ErrInvalidConfidence)

	_, err = f.manager.StartSession(ctx, dto.StartRequest{Source: "rtsp"})
	assert.Error(t, err)

	first, err := f.manager.StartSession(ctx, dto.StartRequest{Threshold: 5})
	require.NoError(t, err)
	assert.Equal(t, 5, first.Params().Confirm.Threshold)
	assert.Equal(t, 2*time.Second, first.Params().Confirm.MinGap)

	_, err = f.manager.StartSession(ctx, dto.StartRequest{})
	assert.ErrorIs(t, err, ErrSessionActive)

	_, err = f.manager.StopSession(ctx)
	require.NoError(t, err)

	sess, running = f.manager.Current()
	assert.Same(t, first, sess)
	assert.False(t, running)
	_, finished := sess.EndedAt()
	assert.True(t, finished)
}

func ptr[T any](v T) *T { return &v }
