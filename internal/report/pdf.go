package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"time"

	"codeberg.org/go-pdf/fpdf"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	pdfFont       = "Helvetica"
	pdfTitle      = "Dental Instrument Detection Report"
	chartImageW   = 16 * vg.Centimeter
	chartImageH   = 8 * vg.Centimeter
	chartPdfWidth = 170.0 // mm
	rowHeight     = 7.0
)

var (
	plotPrimary   = color.RGBA{R: 0x2B, G: 0x5B, B: 0x84, A: 0xFF}
	plotSecondary = color.RGBA{R: 0x4F, G: 0xC3, B: 0xD7, A: 0xFF}
)

// PDFRenderer writes a printable report: summary tables followed by a page
// of static charts.
type PDFRenderer struct{}

func (PDFRenderer) ContentType() string { return "application/pdf" }
func (PDFRenderer) Extension() string   { return "pdf" }

func (PDFRenderer) Render(w io.Writer, d *Dataset) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	tr := pdf.UnicodeTranslatorFromDescriptor("")
	pdf.SetTitle(pdfTitle, true)
	pdf.SetCreator("medseen", true)
	pdf.SetCreationDate(d.GeneratedAt)
	pdf.AliasNbPages("")
	pdf.SetFooterFunc(func() {
		pdf.SetY(-15)
		pdf.SetFont(pdfFont, "I", 8)
		footer := fmt.Sprintf("Generated %s - page %d/{nb}", d.GeneratedAt.Format("2006-01-02 15:04:05"), pdf.PageNo())
		pdf.CellFormat(0, 10, tr(footer), "", 0, "C", false, 0, "")
	})

	pdf.AddPage()
	pdf.SetFont(pdfFont, "B", 18)
	pdf.CellFormat(0, 12, tr(pdfTitle), "", 1, "C", false, 0, "")
	pdf.Ln(4)

	sessionTable(pdf, tr, d)
	labelTable(pdf, tr, d)
	recentTable(pdf, tr, d)

	if len(d.Log) > 0 {
		if err := chartsPage(pdf, d); err != nil {
			return err
		}
	}

	if err := pdf.Error(); err != nil {
		return fmt.Errorf("building pdf: %w", err)
	}
	return pdf.Output(w)
}

func heading(pdf *fpdf.Fpdf, tr func(string) string, text string) {
	pdf.SetFont(pdfFont, "B", 13)
	pdf.SetTextColor(0x2B, 0x5B, 0x84)
	pdf.CellFormat(0, 9, tr(text), "", 1, "L", false, 0, "")
	pdf.SetTextColor(0, 0, 0)
}

func headerRow(pdf *fpdf.Fpdf, tr func(string) string, widths []float64, cols ...string) {
	pdf.SetFont(pdfFont, "B", 10)
	pdf.SetFillColor(0x2B, 0x5B, 0x84)
	pdf.SetTextColor(0xFF, 0xFF, 0xFF)
	for i, c := range cols {
		pdf.CellFormat(widths[i], rowHeight, tr(c), "1", 0, "C", true, 0, "")
	}
	pdf.Ln(-1)
	pdf.SetTextColor(0, 0, 0)
	pdf.SetFont(pdfFont, "", 10)
}

func row(pdf *fpdf.Fpdf, tr func(string) string, widths []float64, cols ...string) {
	for i, c := range cols {
		align := "L"
		if i > 0 {
			align = "C"
		}
		pdf.CellFormat(widths[i], rowHeight, tr(c), "1", 0, align, false, 0, "")
	}
	pdf.Ln(-1)
}

func sessionTable(pdf *fpdf.Fpdf, tr func(string) string, d *Dataset) {
	heading(pdf, tr, "Session")
	s := d.Summary
	widths := []float64{80, 90}
	headerRow(pdf, tr, widths, "Field", "Value")
	row(pdf, tr, widths, "Session", d.Session.ID)
	row(pdf, tr, widths, "Source", d.Session.Source)
	row(pdf, tr, widths, "Start date", s.StartedAt.Format("02/01/2006"))
	row(pdf, tr, widths, "Start time", s.StartedAt.Format("15:04:05"))
	row(pdf, tr, widths, "Duration", formatDuration(s.Duration))
	row(pdf, tr, widths, "Total detections", fmt.Sprint(s.Total))
	row(pdf, tr, widths, "Unique instruments", fmt.Sprint(s.UniqueLabels))
	row(pdf, tr, widths, "Average confidence", fmt.Sprintf("%.1f%%", s.AverageConfidence*100))
	row(pdf, tr, widths, "Confirmation threshold", fmt.Sprintf("%d frames, %s gap", d.Session.Threshold, d.Session.MinGap))
	pdf.Ln(6)
}

func labelTable(pdf *fpdf.Fpdf, tr func(string) string, d *Dataset) {
	heading(pdf, tr, "Instruments detected")
	if len(d.Labels) == 0 {
		pdf.SetFont(pdfFont, "I", 10)
		pdf.CellFormat(0, rowHeight, tr("No detections were recorded."), "", 1, "L", false, 0, "")
		pdf.Ln(6)
		return
	}
	widths := []float64{90, 40, 40}
	headerRow(pdf, tr, widths, "Instrument", "Count", "Share")
	for _, l := range d.Labels {
		row(pdf, tr, widths, l.Label, fmt.Sprint(l.Count), fmt.Sprintf("%.1f%%", l.Percent))
	}
	pdf.Ln(6)
}

func recentTable(pdf *fpdf.Fpdf, tr func(string) string, d *Dataset) {
	heading(pdf, tr, fmt.Sprintf("Latest detections (%d)", len(d.Recent)))
	if len(d.Recent) == 0 {
		pdf.SetFont(pdfFont, "I", 10)
		pdf.CellFormat(0, rowHeight, tr("No detections were recorded."), "", 1, "L", false, 0, "")
		return
	}
	widths := []float64{20, 80, 35, 35}
	headerRow(pdf, tr, widths, "#", "Instrument", "Confidence", "Time")
	offset := len(d.Log) - len(d.Recent)
	for i, c := range d.Recent {
		row(pdf, tr, widths, fmt.Sprint(offset+i+1), c.Label, fmt.Sprintf("%.1f%%", c.Confidence*100), c.Timestamp.Format("15:04:05"))
	}
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", int(d.Hours()), int(d.Minutes())%60, int(d.Seconds())%60)
}

func chartsPage(pdf *fpdf.Fpdf, d *Dataset) error {
	type chart struct {
		name string
		plot func(*Dataset) (*plot.Plot, error)
	}
	list := []chart{{"by_label", labelPlot}}
	if d.HasTimeline() {
		list = append(list, chart{"cumulative", cumulativePlot}, chart{"per_minute", perMinutePlot})
	}
	if d.Confidence != nil {
		list = append(list, chart{"confidence", confidencePlot})
	}

	pdf.AddPage()
	perPage := 0
	for _, c := range list {
		p, err := c.plot(d)
		if err != nil {
			return fmt.Errorf("plotting %s: %w", c.name, err)
		}
		png, err := plotPNG(p)
		if err != nil {
			return fmt.Errorf("plotting %s: %w", c.name, err)
		}

		if perPage == 2 {
			pdf.AddPage()
			perPage = 0
		}
		pdf.RegisterImageOptionsReader(c.name, fpdf.ImageOptions{ImageType: "PNG"}, bytes.NewReader(png))
		pdf.ImageOptions(c.name, 20, pdf.GetY(), chartPdfWidth, 0, true, fpdf.ImageOptions{ImageType: "PNG"}, 0, "")
		pdf.Ln(6)
		perPage++
	}
	return nil
}

func plotPNG(p *plot.Plot) ([]byte, error) {
	wt, err := p.WriterTo(chartImageW, chartImageH, "png")
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if _, err := wt.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func labelPlot(d *Dataset) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = TitleByLabel
	p.Y.Label.Text = "Count"

	values := make(plotter.Values, len(d.Labels))
	names := make([]string, len(d.Labels))
	for i, l := range d.Labels {
		values[i] = float64(l.Count)
		names[i] = l.Label
	}
	bars, err := plotter.NewBarChart(values, vg.Points(24))
	if err != nil {
		return nil, err
	}
	bars.Color = plotPrimary
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(names...)
	return p, nil
}

func timePoints(points []Point) plotter.XYs {
	xys := make(plotter.XYs, len(points))
	for i, pt := range points {
		xys[i].X = float64(pt.Time.Unix())
		xys[i].Y = pt.Value
	}
	return xys
}

func cumulativePlot(d *Dataset) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = TitleCumulative
	p.Y.Label.Text = "Total"
	p.X.Tick.Marker = plot.TimeTicks{Format: timeAxisLayout, Time: plot.UnixTimeIn(d.Session.StartedAt.Location())}

	line, err := plotter.NewLine(timePoints(d.Cumulative))
	if err != nil {
		return nil, err
	}
	line.Color = plotPrimary
	line.FillColor = color.RGBA{R: 0x4F, G: 0xC3, B: 0xD7, A: 0x4D}
	p.Add(line)
	p.Y.Min = 0
	return p, nil
}

func perMinutePlot(d *Dataset) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = TitlePerMinute
	p.Y.Label.Text = "Detections"
	p.X.Tick.Marker = plot.TimeTicks{Format: periodAxisLayout, Time: plot.UnixTimeIn(d.Session.StartedAt.Location())}

	line, points, err := plotter.NewLinePoints(timePoints(d.PerMinute))
	if err != nil {
		return nil, err
	}
	line.Color = plotSecondary
	points.Color = plotPrimary
	p.Add(line, points)
	p.Y.Min = 0
	return p, nil
}

func confidencePlot(d *Dataset) (*plot.Plot, error) {
	h := d.Confidence
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s (mean %.1f%%)", TitleConfidence, h.Mean*100)
	p.Y.Label.Text = "Frequency"

	values := make(plotter.Values, len(h.Counts))
	names := make([]string, len(h.Counts))
	for i, n := range h.Counts {
		values[i] = float64(n)
		names[i] = fmt.Sprintf("%.0f", h.Edges[i]*100)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(18))
	if err != nil {
		return nil, err
	}
	bars.Color = plotSecondary
	bars.LineStyle.Width = 0
	p.Add(bars)
	p.NominalX(names...)
	p.X.Label.Text = "Confidence (%)"
	return p, nil
}
