// Package report turns a session's confirmation log and tally into a single
// Dataset and renders it through pluggable backends (JSON, HTML, PDF).
package report

import (
	"math"
	"sort"
	"time"

	"medseen/internal/service/confirm"

	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultRecent is how many of the latest log entries the report lists.
	DefaultRecent = 20
	// HistogramBins splits the confidence range [0, 1].
	HistogramBins = 10
	// HeatPeriod is the width of a heat map column.
	HeatPeriod = 10 * time.Minute

	// Charts are only drawn with enough data.
	minTimelineEntries = 2
	minHeatEntries     = 3
	minRadarLabels     = 3
)

// fallbackDuration is reported when no confirmation marks the session's end.
const fallbackDuration = time.Minute

// SessionInfo identifies the session a report is about.
type SessionInfo struct {
	ID        string        `json:"id"`
	Source    string        `json:"source"`
	StartedAt time.Time     `json:"startedAt"`
	EndedAt   time.Time     `json:"endedAt"` // zero while running
	Threshold int           `json:"threshold"`
	MinGap    time.Duration `json:"minGap"`
}

// Summary is the headline table of a report.
type Summary struct {
	StartedAt         time.Time     `json:"startedAt"`
	Duration          time.Duration `json:"duration"`
	Total             int           `json:"total"`
	UniqueLabels      int           `json:"uniqueLabels"`
	AverageConfidence float64       `json:"averageConfidence"`
}

// LabelCount is one row of the per-label table.
type LabelCount struct {
	Label   string  `json:"label"`
	Count   int     `json:"count"`
	Percent float64 `json:"percent"`
}

// Point is one sample of a time series.
type Point struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

// HeatMap counts confirmations per label and time period.
// Counts[i][j] belongs to Labels[i] and Periods[j].
type HeatMap struct {
	Labels  []string    `json:"labels"`
	Periods []time.Time `json:"periods"`
	Counts  [][]int     `json:"counts"`
}

// RadarPoint is a label's count normalised to the largest count (0..100).
type RadarPoint struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

// Histogram of confidences over [0, 1].
type Histogram struct {
	Edges  []float64 `json:"edges"`
	Counts []int     `json:"counts"`
	Mean   float64   `json:"mean"`
}

// Dataset is the renderer-independent content of a report.
type Dataset struct {
	Session     SessionInfo            `json:"session"`
	GeneratedAt time.Time              `json:"generatedAt"`
	Summary     Summary                `json:"summary"`
	Labels      []LabelCount           `json:"labels"`
	Log         []confirm.Confirmation `json:"log"`
	Recent      []confirm.Confirmation `json:"recent"`
	PerMinute   []Point                `json:"perMinute"`
	Cumulative  []Point                `json:"cumulative"`
	Heat        *HeatMap               `json:"heat,omitempty"`
	Radar       []RadarPoint           `json:"radar,omitempty"`
	Confidence  *Histogram             `json:"confidence,omitempty"`
}

// HasTimeline reports whether there is enough data for time based charts.
func (d *Dataset) HasTimeline() bool {
	return len(d.Log) >= minTimelineEntries
}

// Build computes the dataset. The log is expected in acceptance order;
// recent bounds the "latest entries" list (DefaultRecent when <= 0).
func Build(info SessionInfo, log []confirm.Confirmation, tally map[string]int, recent int, now time.Time) *Dataset {
	if recent <= 0 {
		recent = DefaultRecent
	}

	d := &Dataset{
		Session:     info,
		GeneratedAt: now,
		Log:         log,
		Recent:      log[max(0, len(log)-recent):],
		Labels:      labelCounts(tally),
	}
	d.Summary = summarize(info, log, tally)

	if len(log) >= minTimelineEntries {
		d.PerMinute = perMinute(log)
	}
	d.Cumulative = cumulative(log)
	if len(log) >= minHeatEntries {
		d.Heat = heatMap(log)
	}
	if len(d.Labels) >= minRadarLabels {
		d.Radar = radar(d.Labels)
	}
	if len(log) > 0 {
		d.Confidence = confidenceHistogram(log)
	}
	return d
}

func summarize(info SessionInfo, log []confirm.Confirmation, tally map[string]int) Summary {
	s := Summary{
		StartedAt:    info.StartedAt,
		Duration:     fallbackDuration,
		Total:        len(log),
		UniqueLabels: len(tally),
	}
	if len(log) == 0 {
		return s
	}

	s.Duration = log[len(log)-1].Timestamp.Sub(info.StartedAt)
	conf := make([]float64, len(log))
	for i, c := range log {
		conf[i] = c.Confidence
	}
	s.AverageConfidence = stat.Mean(conf, nil)
	return s
}

// labelCounts sorts by count, most frequent first, ties by label.
func labelCounts(tally map[string]int) []LabelCount {
	total := 0
	for _, n := range tally {
		total += n
	}

	out := make([]LabelCount, 0, len(tally))
	for label, n := range tally {
		lc := LabelCount{Label: label, Count: n}
		if total > 0 {
			lc.Percent = float64(n) / float64(total) * 100
		}
		out = append(out, lc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Label < out[j].Label
	})
	return out
}

// perMinute counts confirmations per wall-clock minute, skipping empty minutes.
func perMinute(log []confirm.Confirmation) []Point {
	var out []Point
	for _, c := range log {
		m := c.Timestamp.Truncate(time.Minute)
		if n := len(out); n > 0 && out[n-1].Time.Equal(m) {
			out[n-1].Value++
			continue
		}
		out = append(out, Point{Time: m, Value: 1})
	}
	return out
}

func cumulative(log []confirm.Confirmation) []Point {
	out := make([]Point, len(log))
	for i, c := range log {
		out[i] = Point{Time: c.Timestamp, Value: float64(i + 1)}
	}
	return out
}

func heatMap(log []confirm.Confirmation) *HeatMap {
	labelIdx := map[string]int{}
	periodIdx := map[time.Time]int{}
	h := &HeatMap{}

	for _, c := range log {
		if _, ok := labelIdx[c.Label]; !ok {
			labelIdx[c.Label] = 0
			h.Labels = append(h.Labels, c.Label)
		}
		p := c.Timestamp.Truncate(HeatPeriod)
		if _, ok := periodIdx[p]; !ok {
			periodIdx[p] = 0
			h.Periods = append(h.Periods, p)
		}
	}

	sort.Strings(h.Labels)
	sort.Slice(h.Periods, func(i, j int) bool { return h.Periods[i].Before(h.Periods[j]) })
	for i, l := range h.Labels {
		labelIdx[l] = i
	}
	for j, p := range h.Periods {
		periodIdx[p] = j
	}

	h.Counts = make([][]int, len(h.Labels))
	for i := range h.Counts {
		h.Counts[i] = make([]int, len(h.Periods))
	}
	for _, c := range log {
		h.Counts[labelIdx[c.Label]][periodIdx[c.Timestamp.Truncate(HeatPeriod)]]++
	}
	return h
}

func radar(labels []LabelCount) []RadarPoint {
	top := 0
	for _, l := range labels {
		top = max(top, l.Count)
	}
	out := make([]RadarPoint, len(labels))
	for i, l := range labels {
		out[i] = RadarPoint{Label: l.Label, Value: float64(l.Count) / float64(top) * 100}
	}
	return out
}

func confidenceHistogram(log []confirm.Confirmation) *Histogram {
	x := make([]float64, len(log))
	for i, c := range log {
		x[i] = math.Min(math.Max(c.Confidence, 0), 1)
	}
	sort.Float64s(x)

	edges := make([]float64, HistogramBins+1)
	for i := range edges {
		edges[i] = float64(i) / HistogramBins
	}
	// stat.Histogram treats the last edge as exclusive; let 1.0 land in the top bin.
	dividers := append([]float64(nil), edges...)
	dividers[HistogramBins] = math.Nextafter(1, 2)

	counts := stat.Histogram(nil, dividers, x, nil)
	h := &Histogram{
		Edges:  edges,
		Counts: make([]int, len(counts)),
		Mean:   stat.Mean(x, nil),
	}
	for i, c := range counts {
		h.Counts[i] = int(c)
	}
	return h
}
