package plot

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/dataset"
)

const axisLayout = "2006-01-02 15:04"

var ErrNoData = errors.New("plot: nothing to draw")

// SeriesChart renders the target and every named covariate of ts as lines.
func SeriesChart(w io.Writer, title string, ts models.TimeSeries, freq dataset.Frequency, features []string) error {
	if ts.Len() == 0 {
		return ErrNoData
	}
	n := ts.Len()
	for _, f := range ts.DynamicFeat {
		if len(f) > n {
			n = len(f)
		}
	}

	line := newLine(title, fmt.Sprintf("%s, %d points at %s", ts.Symbol, ts.Len(), freq))
	line.SetXAxis(axis(freq.Range(freq.Truncate(ts.Start), n)))
	line.AddSeries("target", points(ts.Target, 0, n), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	for i, f := range ts.DynamicFeat {
		name := fmt.Sprintf("feat_%d", i)
		if i < len(features) {
			name = features[i]
		}
		line.AddSeries(name, points(f, 0, n),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dotted"}),
		)
	}
	return line.Render(w)
}

// ForecastChart renders the history, the median forecast, the band between
// the lower and upper quantiles and, when known, the realised values.
func ForecastChart(w io.Writer, title string, view *models.ForecastView) error {
	if view == nil || view.Forecast == nil || view.Forecast.Horizon() == 0 {
		return ErrNoData
	}
	f := view.Forecast
	lower, ok := f.Quantiles[view.Lower]
	if !ok {
		return fmt.Errorf("plot: forecast has no quantile %s", view.Lower)
	}
	upper, ok := f.Quantiles[view.Upper]
	if !ok {
		return fmt.Errorf("plot: forecast has no quantile %s", view.Upper)
	}
	median := f.Quantiles["0.5"]
	if median == nil {
		median = f.Mean
	}

	h := len(view.History)
	n := h + f.Horizon()
	index := make([]time.Time, 0, n)
	index = append(index, view.HistoryIdx...)
	index = append(index, f.Index...)

	span := make([]float64, len(lower))
	for i := range lower {
		span[i] = upper[i] - lower[i]
	}

	line := newLine(title, fmt.Sprintf("%s, %s-%s band", f.Symbol, view.Lower, view.Upper))
	line.SetXAxis(axis(index))
	line.AddSeries("history", points(view.History, 0, n), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	if len(view.Actual) > 0 {
		line.AddSeries("actual", points(view.Actual, h, n),
			charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}),
			charts.WithLineStyleOpts(opts.LineStyle{Type: "dotted"}),
		)
	}
	line.AddSeries("q"+view.Lower, points(lower, h, n),
		charts.WithLineChartOpts(opts.LineChart{Stack: "band", ShowSymbol: opts.Bool(false)}),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}),
	)
	line.AddSeries("q"+view.Lower+"-q"+view.Upper, points(span, h, n),
		charts.WithLineChartOpts(opts.LineChart{Stack: "band", ShowSymbol: opts.Bool(false)}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Color: "#91cc75"}),
		charts.WithLineStyleOpts(opts.LineStyle{Type: "dashed"}),
	)
	if median != nil {
		line.AddSeries("median", points(median, h, n), charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(false)}))
	}
	return line.Render(w)
}

func newLine(title, subtitle string) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: title, Width: "1200px", Height: "520px"}),
		charts.WithTitleOpts(opts.Title{Title: title, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider"}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)
	return line
}

func axis(ts []time.Time) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.UTC().Format(axisLayout)
	}
	return out
}

// points places vs at offset on an axis of length n. Cells outside vs and
// non-finite values are left blank.
func points(vs []float64, offset, n int) []opts.LineData {
	out := make([]opts.LineData, n)
	for i := range out {
		j := i - offset
		if j < 0 || j >= len(vs) || math.IsNaN(vs[j]) || math.IsInf(vs[j], 0) {
			out[i] = opts.LineData{Value: "-"}
			continue
		}
		out[i] = opts.LineData{Value: vs[j]}
	}
	return out
}
