package plot

import (
	"bytes"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/dataset"
)

var start = time.Date(2018, 1, 2, 8, 0, 0, 0, time.UTC)

func hourly(t *testing.T) dataset.Frequency {
	t.Helper()
	f, err := dataset.ParseFrequency("H")
	require.NoError(t, err)
	return f
}

func TestSeriesChart(t *testing.T) {
	ts := models.TimeSeries{
		Symbol:      "SAP",
		Start:       start,
		Target:      []float64{1, 2, math.NaN()},
		DynamicFeat: [][]float64{{1, 2, 3}},
	}
	var buf bytes.Buffer
	require.NoError(t, SeriesChart(&buf, "SAP close", ts, hourly(t), []string{"open"}))

	html := buf.String()
	assert.Contains(t, html, "SAP close")
	assert.Contains(t, html, "open")
	assert.Contains(t, html, "2018-01-02 10:00")

	assert.ErrorIs(t, SeriesChart(&buf, "", models.TimeSeries{}, hourly(t), nil), ErrNoData)
}

func TestForecastChart(t *testing.T) {
	freq := hourly(t)
	f := &models.Forecast{
		Symbol: "SAP",
		Start:  start.Add(2 * time.Hour),
		Index:  freq.Range(start.Add(2*time.Hour), 2),
		Quantiles: map[string][]float64{
			"0.1": {1, 2},
			"0.5": {2, 3},
			"0.9": {3, 4},
		},
	}
	view := &models.ForecastView{
		Forecast:   f,
		History:    []float64{1.5, 1.7},
		HistoryIdx: freq.Range(start, 2),
		Actual:     []float64{2.1, 2.9},
		Lower:      "0.1",
		Upper:      "0.9",
	}
	var buf bytes.Buffer
	require.NoError(t, ForecastChart(&buf, "SAP forecast", view))

	html := buf.String()
	for _, want := range []string{"history", "actual", "median", "q0.1-q0.9", "band", "2018-01-02 11:00"} {
		assert.Contains(t, html, want)
	}

	view.Upper = "0.95"
	assert.Error(t, ForecastChart(&buf, "", view))
	assert.ErrorIs(t, ForecastChart(&buf, "", nil), ErrNoData)
}

func TestPointsPadsWithBlanks(t *testing.T) {
	pts := points([]float64{1, math.Inf(1)}, 1, 4)
	require.Len(t, pts, 4)
	assert.Equal(t, "-", pts[0].Value)
	assert.Equal(t, 1.0, pts[1].Value)
	assert.Equal(t, "-", pts[2].Value)
	assert.Equal(t, "-", pts[3].Value)
}
