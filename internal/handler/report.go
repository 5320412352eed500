package handler

import (
	"bytes"
	"errors"
	"fmt"
	"net/http"

	"medseen/internal/httputil"
	"medseen/internal/logger"
	"medseen/internal/report"
)

const defaultReportFormat = "pdf"

// writeReport renders ds in the requested format as a download. The body is
// rendered up front so a failing renderer still gets a proper error status.
func writeReport(w http.ResponseWriter, r *http.Request, registry *report.Registry, ds *report.Dataset, logger *logger.Logger) {
	format := r.URL.Query().Get("format")
	if format == "" {
		format = defaultReportFormat
	}

	renderer, err := registry.Lookup(format)
	if errors.Is(err, report.ErrUnknownFormat) {
		httputil.BadRequest(w, err.Error())
		return
	}

	var buf bytes.Buffer
	if err := renderer.Render(&buf, ds); err != nil {
		logger.Error("Error rendering %s report for session %s: %v", format, ds.Session.ID, err)
		httputil.InternalServerError(w, "failed to render report")
		return
	}

	disposition := "attachment"
	if r.URL.Query().Get("inline") == "1" {
		disposition = "inline"
	}
	w.Header().Set("Content-Type", renderer.ContentType())
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, report.Filename(ds.GeneratedAt, renderer.Extension())))
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		logger.Error("Error writing report: %v", err)
	}
}
