package ai

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"os"
	"sync"

	"medseen/internal/config"
	"medseen/internal/logger"
	"medseen/internal/service/detect"

	"gocv.io/x/gocv"
)

// InputSize is the square input resolution of the exported YOLO model.
const InputSize = 640

var ErrNetNotReady = errors.New("detection network not initialized")

// DetectorService runs a YOLO ONNX model through OpenCV's DNN module.
// One instance owns one network and serialises calls to it.
type DetectorService struct {
	net       gocv.Net
	ready     bool
	names     []string
	floor     float32
	nms       float32
	modelPath string
	logger    *logger.Logger
	mu        sync.Mutex
}

// NewDetectorService loads the model and its class names.
func NewDetectorService(config *config.Config, logger *logger.Logger) (*DetectorService, error) {
	names, err := detect.LoadNames(config.NamesPath)
	if err != nil {
		return nil, err
	}

	service := &DetectorService{
		names:     names,
		floor:     float32(config.ConfidenceFloor),
		nms:       float32(config.NMSThreshold),
		modelPath: config.ModelPath,
		logger:    logger,
	}

	if err := service.initializeNet(); err != nil {
		return nil, err
	}
	return service, nil
}

// initializeNet loads the DNN network and sets backend/target preferences.
func (s *DetectorService) initializeNet() error {
	if _, err := os.Stat(s.modelPath); os.IsNotExist(err) {
		return fmt.Errorf("model file not found: %s", s.modelPath)
	}

	net := gocv.ReadNetFromONNX(s.modelPath)
	if net.Empty() {
		return fmt.Errorf("failed to load network from %s", s.modelPath)
	}

	errBackend := net.SetPreferableBackend(gocv.NetBackendDefault)
	errTarget := net.SetPreferableTarget(gocv.NetTargetCPU)
	if errBackend != nil || errTarget != nil {
		net.Close()
		return fmt.Errorf("failed to set preferable backend or target")
	}

	s.net = net
	s.ready = true
	s.logger.Info("Detection network initialized (%d classes)", len(s.names))
	return nil
}

// Detect decodes a JPEG, runs the model and returns the boxes above the
// confidence floor plus an annotated copy of the frame.
func (s *DetectorService) Detect(img []byte) (detect.Result, error) {
	mat, err := gocv.IMDecode(img, gocv.IMReadColor)
	if err != nil {
		return detect.Result{}, fmt.Errorf("failed to decode image: %w", err)
	}
	defer mat.Close()

	if mat.Empty() {
		return detect.Result{}, fmt.Errorf("decoded image is empty")
	}

	detections, err := s.detectMat(mat)
	if err != nil {
		return detect.Result{}, err
	}

	annotated, err := s.annotate(&mat, detections)
	if err != nil {
		s.logger.Warning("Failed to annotate frame: %v", err)
		annotated = img
	}

	return detect.Result{Detections: detections, Annotated: annotated}, nil
}

func (s *DetectorService) detectMat(mat gocv.Mat) ([]detect.Detection, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil, ErrNetNotReady
	}

	blob := gocv.BlobFromImage(mat, 1.0/255.0, image.Pt(InputSize, InputSize), gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	s.net.SetInput(blob, "")
	output := s.net.Forward("")
	defer output.Close()

	dims := output.Size()
	if len(dims) != 3 || dims[1] < 5 {
		return nil, fmt.Errorf("%w: %v", detect.ErrShape, dims)
	}
	data, err := output.DataPtrFloat32()
	if err != nil {
		return nil, fmt.Errorf("read output tensor: %w", err)
	}

	scaleX := float64(mat.Cols()) / InputSize
	scaleY := float64(mat.Rows()) / InputSize
	candidates, err := detect.DecodeYOLOv8(data, dims[1]-4, dims[2], scaleX, scaleY, s.floor)
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	boxes := make([]image.Rectangle, len(candidates))
	scores := make([]float32, len(candidates))
	for i, c := range candidates {
		boxes[i] = c.Box
		scores[i] = c.Confidence
	}

	keep := gocv.NMSBoxes(boxes, scores, s.floor, s.nms)
	detections := make([]detect.Detection, 0, len(keep))
	for _, idx := range keep {
		c := candidates[idx]
		detections = append(detections, detect.Detection{
			ClassID:    c.ClassID,
			Label:      detect.Label(s.names, c.ClassID),
			Confidence: float64(c.Confidence),
			Box:        c.Box,
		})
	}
	detect.SortByConfidence(detections)
	return detections, nil
}

// annotate draws the boxes on mat and returns the re-encoded JPEG.
func (s *DetectorService) annotate(mat *gocv.Mat, detections []detect.Detection) ([]byte, error) {
	green := color.RGBA{R: 0, G: 200, B: 80, A: 0}

	for _, d := range detections {
		if err := gocv.Rectangle(mat, d.Box, green, 2); err != nil {
			return nil, fmt.Errorf("failed to draw rectangle: %w", err)
		}
		label := fmt.Sprintf("%s %.2f", d.Label, d.Confidence)
		pt := image.Pt(d.Box.Min.X, max(d.Box.Min.Y-5, 12))
		if err := gocv.PutText(mat, label, pt, gocv.FontHersheySimplex, 0.5, green, 1); err != nil {
			return nil, fmt.Errorf("failed to draw text: %w", err)
		}
	}

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, *mat)
	if err != nil {
		return nil, fmt.Errorf("failed to encode image: %w", err)
	}
	defer buf.Close()

	out := make([]byte, len(buf.GetBytes()))
	copy(out, buf.GetBytes())
	return out, nil
}

// Names returns the class names the model was loaded with.
func (s *DetectorService) Names() []string {
	return s.names
}

// Close releases the network.
func (s *DetectorService) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.ready {
		return nil
	}
	s.ready = false
	return s.net.Close()
}
