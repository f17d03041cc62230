package stats

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

// Histogram counts exchanges by batch size: counts[n] is the number of
// exchanges that carried n packets.
func Histogram(batches []float64) []int {
	if len(batches) == 0 {
		return nil
	}
	top := int(floats.Max(batches))
	if top < 0 {
		top = 0
	}
	counts := make([]int, top+1)
	for _, b := range batches {
		if b >= 0 {
			counts[int(b)]++
		}
	}
	return counts
}

// NewBatchPlot builds a gonum bar chart of packets per exchange.
func NewBatchPlot(batches []float64, title string) (*plot.Plot, error) {
	if len(batches) == 0 {
		return nil, ErrNoSamples
	}
	counts := Histogram(batches)
	values := make(plotter.Values, len(counts))
	labels := make([]string, len(counts))
	for i, n := range counts {
		values[i] = float64(n)
		labels[i] = fmt.Sprintf("%d", i)
	}
	bars, err := plotter.NewBarChart(values, vg.Points(12))
	if err != nil {
		return nil, err
	}
	bars.LineStyle.Width = vg.Length(0)

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "packets per exchange"
	p.Y.Label.Text = "exchanges"
	p.Add(bars)
	p.NominalX(labels...)
	return p, nil
}

// WriteBatchPlot renders the batch histogram to w in the given format
// ("png", "svg", "pdf").
func WriteBatchPlot(w io.Writer, batches []float64, format string) error {
	p, err := NewBatchPlot(batches, "NoC exchange batch sizes")
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(8*vg.Inch, 4*vg.Inch, format)
	if err != nil {
		return err
	}
	_, err = wt.WriteTo(w)
	return err
}

// SaveBatchPlot renders the batch histogram to path; the extension picks the
// format.
func SaveBatchPlot(path string, batches []float64, title string) error {
	p, err := NewBatchPlot(batches, title)
	if err != nil {
		return err
	}
	return p.Save(8*vg.Inch, 4*vg.Inch, path)
}

// RenderBatchChart writes an interactive echarts bar chart of the batch
// histogram as an HTML page.
func RenderBatchChart(w io.Writer, s Summary, batches []float64) error {
	counts := Histogram(batches)
	labels := make([]string, len(counts))
	data := make([]opts.BarData, len(counts))
	for i, n := range counts {
		labels[i] = fmt.Sprintf("%d", i)
		data[i] = opts.BarData{Value: n}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "NoC exchange batches", Width: "900px", Height: "480px"}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Packets per pointer exchange",
			Subtitle: fmt.Sprintf("exchanges=%d mean=%.2f p95=%.0f", s.Exchanges, s.Batch.Mean, s.Batch.P95),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "packets", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "exchanges"}),
	)
	bar.SetXAxis(labels).AddSeries("exchanges", data)
	return bar.Render(w)
}
