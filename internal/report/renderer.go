package report

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"
)

var ErrUnknownFormat = errors.New("report: unknown format")

// Renderer writes a Dataset in one output format.
type Renderer interface {
	Render(w io.Writer, d *Dataset) error
	ContentType() string
	Extension() string
}

// Registry maps format names to renderers.
type Registry struct {
	renderers map[string]Renderer
}

func NewRegistry() *Registry {
	return &Registry{renderers: make(map[string]Renderer)}
}

// DefaultRegistry has the json, html and pdf renderers registered.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("json", JSONRenderer{})
	r.Register("html", HTMLRenderer{})
	r.Register("pdf", PDFRenderer{})
	return r
}

func (r *Registry) Register(format string, renderer Renderer) {
	r.renderers[strings.ToLower(format)] = renderer
}

func (r *Registry) Lookup(format string) (Renderer, error) {
	renderer, ok := r.renderers[strings.ToLower(format)]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	return renderer, nil
}

// Formats lists the registered format names, sorted.
func (r *Registry) Formats() []string {
	out := make([]string, 0, len(r.renderers))
	for f := range r.renderers {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// Filename is the download name of a report generated at t.
func Filename(t time.Time, ext string) string {
	return fmt.Sprintf("reporte_dental_%s.%s", t.Format("20060102_150405"), ext)
}

// JSONRenderer writes the dataset as indented JSON.
type JSONRenderer struct{}

func (JSONRenderer) ContentType() string { return "application/json" }
func (JSONRenderer) Extension() string   { return "json" }

func (JSONRenderer) Render(w io.Writer, d *Dataset) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(d)
}
