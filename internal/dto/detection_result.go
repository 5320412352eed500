package dto

// DetectionResult is a single detected box as returned by the predict API.
type DetectionResult struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	X          int     `json:"x"`
	Y          int     `json:"y"`
	Width      int     `json:"width"`
	Height     int     `json:"height"`
}

// PredictResponse is the payload of POST /api/predict.
type PredictResponse struct {
	Detections []DetectionResult `json:"detections"`
	Best       *DetectionResult  `json:"best,omitempty"`
}
