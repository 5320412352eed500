package handler

import (
	"io"
	"net/http"
	"sync"

	"medseen/internal/dto"
	"medseen/internal/httputil"
	"medseen/internal/logger"
	"medseen/internal/service/detect"
)

const maxUploadSize = 16 << 20

// PredictHandler runs the detector on an uploaded image (multipart field
// "image" or the raw request body). It never touches the running session.
// With ?annotated=1 the annotated JPEG is returned instead of JSON.
func PredictHandler(detector detect.Detector, logger *logger.Logger) http.HandlerFunc {
	var mu sync.Mutex // the detector is not safe for concurrent use

	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)

		img, err := readUpload(r)
		if err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		if len(img) == 0 {
			httputil.BadRequest(w, "empty image")
			return
		}

		mu.Lock()
		res, err := detector.Detect(img)
		mu.Unlock()
		if err != nil {
			logger.Error("Prediction failed: %v", err)
			httputil.WriteJSONError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}

		if r.URL.Query().Get("annotated") == "1" && res.Annotated != nil {
			w.Header().Set("Content-Type", "image/jpeg")
			w.Write(res.Annotated)
			return
		}

		detect.SortByConfidence(res.Detections)
		resp := dto.PredictResponse{Detections: make([]dto.DetectionResult, 0, len(res.Detections))}
		for _, d := range res.Detections {
			resp.Detections = append(resp.Detections, dto.DetectionResult{
				Label:      d.Label,
				Confidence: d.Confidence,
				X:          d.Box.Min.X,
				Y:          d.Box.Min.Y,
				Width:      d.Box.Dx(),
				Height:     d.Box.Dy(),
			})
		}
		if len(resp.Detections) > 0 {
			best := resp.Detections[0]
			resp.Best = &best
		}
		httputil.WriteJSONOK(w, resp)
	}
}

func readUpload(r *http.Request) ([]byte, error) {
	if err := r.ParseMultipartForm(maxUploadSize); err == nil {
		file, _, err := r.FormFile("image")
		if err != nil {
			return nil, err
		}
		defer file.Close()
		return io.ReadAll(file)
	} else if err != http.ErrNotMultipart {
		return nil, err
	}
	return io.ReadAll(r.Body)
}
