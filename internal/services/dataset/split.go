package dataset

import (
	"errors"
	"fmt"
	"time"

	"XetraCast/internal/domain/models"
)

var ErrShortSeries = errors.New("dataset: series too short for the prediction length")

// SplitConfig defines the training horizon and the rolling test windows.
type SplitConfig struct {
	Freq             Frequency
	TrainEnd         time.Time
	PredictionLength int
	TestWindows      int
}

// SplitResult holds the train set, the test set and the symbols left out
// because their training prefix was shorter than one prediction length.
type SplitResult struct {
	Train   []models.TimeSeries
	Test    []models.TimeSeries
	Dropped []string
}

// Split truncates every record at TrainEnd for training. Test window k
// (1..TestWindows) is the same record truncated at trainLen + k*PredictionLength,
// so each window ends one horizon after the previous one. Windows that would
// not reach past the previous one are skipped.
func Split(records []models.TimeSeries, cfg SplitConfig) (SplitResult, error) {
	var res SplitResult
	if cfg.PredictionLength <= 0 {
		return res, fmt.Errorf("prediction length must be positive, got %d", cfg.PredictionLength)
	}

	trainLens := make([]int, len(records))
	for i := range records {
		r := &records[i]
		n := cfg.Freq.Steps(r.Start, cfg.TrainEnd)
		if n > r.Len() {
			n = r.Len()
		}
		if n < cfg.PredictionLength {
			res.Dropped = append(res.Dropped, r.Symbol)
			trainLens[i] = -1
			continue
		}
		trainLens[i] = n
		res.Train = append(res.Train, r.Truncate(n, 0))
	}
	if len(res.Train) == 0 {
		return res, fmt.Errorf("%w: none of %d series reaches %d points before %s",
			ErrShortSeries, len(records), cfg.PredictionLength, cfg.TrainEnd.Format(models.StartLayout))
	}

	for k := 1; k <= cfg.TestWindows; k++ {
		for i := range records {
			n := trainLens[i]
			if n < 0 {
				continue
			}
			end := n + k*cfg.PredictionLength
			prev := n + (k-1)*cfg.PredictionLength
			if end > records[i].Len() {
				end = records[i].Len()
			}
			if end <= prev {
				continue
			}
			res.Test = append(res.Test, records[i].Truncate(end, 0))
		}
	}
	return res, nil
}
