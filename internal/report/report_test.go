package report

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"medseen/internal/service/confirm"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var start = time.Date(2025, 3, 14, 9, 58, 0, 0, time.UTC)

func entry(offset time.Duration, label string, conf float64) confirm.Confirmation {
	return confirm.Confirmation{Label: label, Confidence: conf, Timestamp: start.Add(offset)}
}

func tallyOf(log []confirm.Confirmation) map[string]int {
	t := map[string]int{}
	for _, c := range log {
		t[c.Label]++
	}
	return t
}

func sampleLog() []confirm.Confirmation {
	return []confirm.Confirmation{
		entry(10*time.Second, "forceps", 0.80),
		entry(40*time.Second, "mirror", 0.60),
		entry(70*time.Second, "forceps", 0.90),
		entry(3*time.Minute, "probe", 1.00),
		entry(3*time.Minute+5*time.Second, "forceps", 0.70),
	}
}

func sampleInfo() SessionInfo {
	return SessionInfo{ID: "s-1", Source: "webcam:0", StartedAt: start, Threshold: 3, MinGap: 2 * time.Second}
}

func TestBuild_SummaryAndLabels(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start.Add(time.Hour))

	assert.Equal(t, 5, d.Summary.Total)
	assert.Equal(t, 3, d.Summary.UniqueLabels)
	assert.Equal(t, 3*time.Minute+5*time.Second, d.Summary.Duration)
	assert.InDelta(t, 0.80, d.Summary.AverageConfidence, 1e-9)

	want := []LabelCount{
		{Label: "forceps", Count: 3, Percent: 60},
		{Label: "mirror", Count: 1, Percent: 20},
		{Label: "probe", Count: 1, Percent: 20},
	}
	if diff := cmp.Diff(want, d.Labels); diff != "" {
		t.Errorf("labels mismatch (-want +got):\n%s", diff)
	}
}

func TestBuild_EmptyLog(t *testing.T) {
	d := Build(sampleInfo(), nil, map[string]int{}, 0, start)

	assert.Equal(t, 0, d.Summary.Total)
	assert.Equal(t, fallbackDuration, d.Summary.Duration)
	assert.Empty(t, d.Labels)
	assert.Empty(t, d.Recent)
	assert.False(t, d.HasTimeline())
	assert.Nil(t, d.Heat)
	assert.Nil(t, d.Radar)
	assert.Nil(t, d.Confidence)
}

func TestBuild_RecentKeepsLatest(t *testing.T) {
	var log []confirm.Confirmation
	for i := range 30 {
		log = append(log, entry(time.Duration(i)*3*time.Second, fmt.Sprintf("l%d", i%4), 0.7))
	}

	d := Build(sampleInfo(), log, tallyOf(log), 0, start)
	require.Len(t, d.Recent, DefaultRecent)
	assert.Equal(t, log[10], d.Recent[0])
	assert.Equal(t, log[29], d.Recent[DefaultRecent-1])

	d = Build(sampleInfo(), log[:3], tallyOf(log[:3]), 5, start)
	assert.Len(t, d.Recent, 3)
}

func TestBuild_TimeSeries(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	wantPerMinute := []Point{
		{Time: start, Value: 2},
		{Time: start.Add(time.Minute), Value: 1},
		{Time: start.Add(3 * time.Minute), Value: 2},
	}
	if diff := cmp.Diff(wantPerMinute, d.PerMinute); diff != "" {
		t.Errorf("per minute mismatch (-want +got):\n%s", diff)
	}

	require.Len(t, d.Cumulative, 5)
	for i, p := range d.Cumulative {
		assert.Equal(t, float64(i+1), p.Value)
		assert.Equal(t, log[i].Timestamp, p.Time)
	}
}

func TestBuild_HeatMap(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	require.NotNil(t, d.Heat)
	assert.Equal(t, []string{"forceps", "mirror", "probe"}, d.Heat.Labels)
	// 09:58 truncates to 09:50, 10:01 to 10:00.
	assert.Equal(t, []time.Time{
		time.Date(2025, 3, 14, 9, 50, 0, 0, time.UTC),
		time.Date(2025, 3, 14, 10, 0, 0, 0, time.UTC),
	}, d.Heat.Periods)
	assert.Equal(t, [][]int{{2, 1}, {1, 0}, {0, 1}}, d.Heat.Counts)

	short := log[:2]
	assert.Nil(t, Build(sampleInfo(), short, tallyOf(short), 0, start).Heat)
}

func TestBuild_Radar(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	require.Len(t, d.Radar, 3)
	assert.Equal(t, RadarPoint{Label: "forceps", Value: 100}, d.Radar[0])
	assert.InDelta(t, 33.333, d.Radar[1].Value, 0.01)

	two := []confirm.Confirmation{entry(0, "a", 0.6), entry(5*time.Second, "b", 0.7), entry(10*time.Second, "a", 0.9)}
	assert.Nil(t, Build(sampleInfo(), two, tallyOf(two), 0, start).Radar)
}

func TestBuild_ConfidenceHistogram(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	h := d.Confidence
	require.NotNil(t, h)
	require.Len(t, h.Edges, HistogramBins+1)
	require.Len(t, h.Counts, HistogramBins)
	assert.Equal(t, 0.0, h.Edges[0])
	assert.Equal(t, 1.0, h.Edges[HistogramBins])

	sum := 0
	for _, n := range h.Counts {
		sum += n
	}
	assert.Equal(t, len(log), sum)
	assert.Equal(t, 2, h.Counts[9], "0.9 and 1.0 share the top bin")
	assert.Equal(t, 1, h.Counts[8])
	assert.Equal(t, 1, h.Counts[7])
	assert.Equal(t, 1, h.Counts[6])
	assert.InDelta(t, 0.80, h.Mean, 1e-9)
}

func TestRegistry_Lookup(t *testing.T) {
	r := DefaultRegistry()
	assert.Equal(t, []string{"html", "json", "pdf"}, r.Formats())

	pdf, err := r.Lookup("PDF")
	require.NoError(t, err)
	assert.Equal(t, "application/pdf", pdf.ContentType())

	_, err = r.Lookup("docx")
	assert.True(t, errors.Is(err, ErrUnknownFormat))
}

func TestFilename(t *testing.T) {
	at := time.Date(2025, 3, 14, 10, 5, 9, 0, time.UTC)
	assert.Equal(t, "reporte_dental_20250314_100509.pdf", Filename(at, "pdf"))
}

func TestJSONRenderer(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	var buf bytes.Buffer
	require.NoError(t, JSONRenderer{}.Render(&buf, d))

	var got Dataset
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, d.Summary, got.Summary)
	assert.Equal(t, d.Labels, got.Labels)
	assert.Len(t, got.Log, len(log))
}

func TestHTMLRenderer(t *testing.T) {
	log := sampleLog()
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	var buf bytes.Buffer
	require.NoError(t, HTMLRenderer{}.Render(&buf, d))
	out := buf.String()
	for _, title := range []string{TitleByLabel, TitleShare, TitleCumulative, TitlePerMinute, TitleHeatMap, TitleRadar, TitleConfidence} {
		assert.Contains(t, out, title)
	}
}

func TestHTMLRenderer_SkipsSparseCharts(t *testing.T) {
	log := sampleLog()[:1]
	d := Build(sampleInfo(), log, tallyOf(log), 0, start)

	var buf bytes.Buffer
	require.NoError(t, HTMLRenderer{}.Render(&buf, d))
	out := buf.String()
	assert.Contains(t, out, TitleByLabel)
	assert.NotContains(t, out, TitleCumulative)
	assert.NotContains(t, out, TitleHeatMap)
	assert.NotContains(t, out, TitleRadar)
}

func TestPDFRenderer(t *testing.T) {
	for name, log := range map[string][]confirm.Confirmation{
		"full":  sampleLog(),
		"empty": nil,
	} {
		t.Run(name, func(t *testing.T) {
			d := Build(sampleInfo(), log, tallyOf(log), 0, start.Add(time.Hour))

			var buf bytes.Buffer
			require.NoError(t, PDFRenderer{}.Render(&buf, d))
			assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
		})
	}
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "00:03:05", formatDuration(3*time.Minute+5*time.Second))
	assert.Equal(t, "01:00:00", formatDuration(time.Hour+200*time.Millisecond))
}
