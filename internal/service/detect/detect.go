// Package detect holds the model-independent half of object detection:
// decoding raw YOLO output, picking the strongest candidate of a frame and
// loading class names.
package detect

import (
	"errors"
	"fmt"
	"image"
	"sort"

	"medseen/internal/service/confirm"
)

// Detection is one box reported by the model.
type Detection struct {
	ClassID    int             `json:"class_id"`
	Label      string          `json:"label"`
	Confidence float64         `json:"confidence"`
	Box        image.Rectangle `json:"box"`
}

// Result is everything a detector produced for a single frame.
type Result struct {
	Detections []Detection
	Annotated  []byte // JPEG with boxes drawn, may be nil
}

// Detector runs inference on an encoded image.
type Detector interface {
	Detect(img []byte) (Result, error)
	Close() error
}

var ErrShape = errors.New("detect: output tensor has unexpected shape")

// Candidate is a decoded box before non-maximum suppression.
type Candidate struct {
	ClassID    int
	Confidence float32
	Box        image.Rectangle
}

// DecodeYOLOv8 decodes a YOLOv8 output tensor of shape [1, 4+classes, anchors]
// laid out row-major. Box coordinates are centre/size in model input pixels
// and are scaled back to the frame with scaleX and scaleY. Candidates whose
// best class score is below floor are dropped.
func DecodeYOLOv8(data []float32, classes, anchors int, scaleX, scaleY float64, floor float32) ([]Candidate, error) {
	if classes < 1 || anchors < 1 {
		return nil, fmt.Errorf("%w: %d classes, %d anchors", ErrShape, classes, anchors)
	}
	if len(data) != (4+classes)*anchors {
		return nil, fmt.Errorf("%w: got %d values, want %d", ErrShape, len(data), (4+classes)*anchors)
	}

	at := func(row, i int) float32 { return data[row*anchors+i] }

	var out []Candidate
	for i := 0; i < anchors; i++ {
		best, bestScore := -1, floor
		for c := 0; c < classes; c++ {
			if s := at(4+c, i); s >= bestScore {
				best, bestScore = c, s
			}
		}
		if best < 0 {
			continue
		}

		cx, cy := float64(at(0, i)), float64(at(1, i))
		w, h := float64(at(2, i)), float64(at(3, i))
		x0 := int((cx - w/2) * scaleX)
		y0 := int((cy - h/2) * scaleY)
		x1 := int((cx + w/2) * scaleX)
		y1 := int((cy + h/2) * scaleY)

		out = append(out, Candidate{
			ClassID:    best,
			Confidence: bestScore,
			Box:        image.Rect(x0, y0, x1, y1),
		})
	}
	return out, nil
}

// Label resolves a class id against names, falling back to "class_<id>".
func Label(names []string, id int) string {
	if id >= 0 && id < len(names) && names[id] != "" {
		return names[id]
	}
	return fmt.Sprintf("class_%d", id)
}

// Best returns the strongest detection as an observation. No detections is
// the empty observation.
func Best(dets []Detection) confirm.Observation {
	var best confirm.Observation
	for _, d := range dets {
		if d.Label == "" {
			continue
		}
		if best.Empty() || d.Confidence > best.Confidence {
			best = confirm.Observation{Label: d.Label, Confidence: d.Confidence}
		}
	}
	return best
}

// SortByConfidence orders detections strongest first.
func SortByConfidence(dets []Detection) {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})
}
