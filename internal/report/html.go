package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
)

const (
	colorPrimary   = "#2B5B84"
	colorSecondary = "#4FC3D7"
	chartWidth     = "900px"
	chartHeight    = "420px"
)

// Chart titles, shared with the PDF renderer.
const (
	TitleByLabel     = "Detections per instrument"
	TitleShare       = "Instrument share"
	TitleCumulative  = "Cumulative detections"
	TitlePerMinute   = "Detections per minute"
	TitleHeatMap     = "Detections by time period"
	TitleRadar       = "Instrument radar"
	TitleConfidence  = "Confidence distribution"
	reportPageTitle  = "MedSeen - dental instrument detection"
	timeAxisLayout   = "15:04:05"
	periodAxisLayout = "15:04"
)

// HTMLRenderer renders an interactive echarts dashboard page.
type HTMLRenderer struct{}

func (HTMLRenderer) ContentType() string { return "text/html; charset=utf-8" }
func (HTMLRenderer) Extension() string   { return "html" }

func (HTMLRenderer) Render(w io.Writer, d *Dataset) error {
	page := components.NewPage()
	page.SetPageTitle(reportPageTitle)

	if len(d.Labels) > 0 {
		page.AddCharts(barChart(d), pieChart(d))
	}
	if d.HasTimeline() {
		page.AddCharts(cumulativeChart(d), perMinuteChart(d))
	}
	if d.Heat != nil {
		page.AddCharts(heatMapChart(d))
	}
	if len(d.Radar) >= minRadarLabels {
		page.AddCharts(radarChart(d))
	}
	if d.Confidence != nil {
		page.AddCharts(confidenceChart(d))
	}

	return page.Render(w)
}

func initOpts(title string) charts.GlobalOpts {
	return charts.WithInitializationOpts(opts.Initialization{
		PageTitle: title,
		Width:     chartWidth,
		Height:    chartHeight,
	})
}

func barChart(d *Dataset) *charts.Bar {
	names := make([]string, len(d.Labels))
	data := make([]opts.BarData, len(d.Labels))
	for i, l := range d.Labels {
		names[i] = l.Label
		data[i] = opts.BarData{Name: l.Label, Value: l.Count}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(TitleByLabel),
		charts.WithTitleOpts(opts.Title{Title: TitleByLabel, Subtitle: fmt.Sprintf("%d confirmed detections", d.Summary.Total)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Count"}),
	)
	bar.SetXAxis(names).AddSeries("Detections", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorPrimary}),
	)
	return bar
}

func pieChart(d *Dataset) *charts.Pie {
	data := make([]opts.PieData, len(d.Labels))
	for i, l := range d.Labels {
		data[i] = opts.PieData{Name: l.Label, Value: l.Count}
	}

	pie := charts.NewPie()
	pie.SetGlobalOptions(
		initOpts(TitleShare),
		charts.WithTitleOpts(opts.Title{Title: TitleShare}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Bottom: "0"}),
	)
	pie.AddSeries("Share", data,
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Formatter: "{b}: {d}%"}),
		charts.WithPieChartOpts(opts.PieChart{Radius: []string{"35%", "65%"}}),
	)
	return pie
}

func cumulativeChart(d *Dataset) *charts.Line {
	x := make([]string, len(d.Cumulative))
	data := make([]opts.LineData, len(d.Cumulative))
	for i, p := range d.Cumulative {
		x[i] = p.Time.Format(timeAxisLayout)
		data[i] = opts.LineData{Value: p.Value}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(TitleCumulative),
		charts.WithTitleOpts(opts.Title{Title: TitleCumulative}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Time"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Total"}),
	)
	line.SetXAxis(x).AddSeries("Cumulative", data,
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3), Color: colorSecondary}),
		charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(true)}),
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorPrimary}),
	)
	return line
}

func perMinuteChart(d *Dataset) *charts.Line {
	x := make([]string, len(d.PerMinute))
	data := make([]opts.LineData, len(d.PerMinute))
	for i, p := range d.PerMinute {
		x[i] = p.Time.Format(periodAxisLayout)
		data[i] = opts.LineData{Value: p.Value}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		initOpts(TitlePerMinute),
		charts.WithTitleOpts(opts.Title{Title: TitlePerMinute}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Minute"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Detections"}),
	)
	line.SetXAxis(x).AddSeries("Per minute", data,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSecondary}),
	)
	return line
}

func heatMapChart(d *Dataset) *charts.HeatMap {
	periods := make([]string, len(d.Heat.Periods))
	for j, p := range d.Heat.Periods {
		periods[j] = p.Format(periodAxisLayout)
	}

	peak := 0
	var data []opts.HeatMapData
	for i := range d.Heat.Labels {
		for j, n := range d.Heat.Counts[i] {
			peak = max(peak, n)
			data = append(data, opts.HeatMapData{Value: [3]interface{}{j, i, n}})
		}
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		initOpts(TitleHeatMap),
		charts.WithTitleOpts(opts.Title{Title: TitleHeatMap}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Name: "Period", Data: periods}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Name: "Instrument", Data: d.Heat.Labels}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Calculable: opts.Bool(true),
			Min:        0,
			Max:        float32(max(peak, 1)),
			InRange:    &opts.VisualMapInRange{Color: []string{"#FFFFFF", colorSecondary, colorPrimary}},
		}),
	)
	hm.SetXAxis(periods).AddSeries("Detections", data)
	return hm
}

func radarChart(d *Dataset) *charts.Radar {
	indicators := make([]*opts.Indicator, len(d.Radar))
	values := make([]float64, len(d.Radar))
	for i, p := range d.Radar {
		indicators[i] = &opts.Indicator{Name: p.Label, Max: 100}
		values[i] = p.Value
	}

	radar := charts.NewRadar()
	radar.SetGlobalOptions(
		initOpts(TitleRadar),
		charts.WithTitleOpts(opts.Title{Title: TitleRadar, Subtitle: "Relative to the most frequent instrument"}),
		charts.WithRadarComponentOpts(opts.RadarComponent{Indicator: indicators, Shape: "polygon"}),
	)
	radar.AddSeries("Instruments", []opts.RadarData{{Name: "Instruments", Value: values}},
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.3), Color: colorPrimary}),
	)
	return radar
}

func confidenceChart(d *Dataset) *charts.Bar {
	h := d.Confidence
	bins := make([]string, len(h.Counts))
	data := make([]opts.BarData, len(h.Counts))
	for i, n := range h.Counts {
		bins[i] = fmt.Sprintf("%.0f-%.0f%%", h.Edges[i]*100, h.Edges[i+1]*100)
		data[i] = opts.BarData{Value: n}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		initOpts(TitleConfidence),
		charts.WithTitleOpts(opts.Title{Title: TitleConfidence, Subtitle: fmt.Sprintf("Mean: %.1f%%", h.Mean*100)}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "Confidence"}),
		charts.WithYAxisOpts(opts.YAxis{Name: "Frequency"}),
	)
	bar.SetXAxis(bins).AddSeries("Frequency", data,
		charts.WithItemStyleOpts(opts.ItemStyle{Color: colorSecondary}),
	)
	return bar
}
