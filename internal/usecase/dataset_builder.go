package usecase

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"time"

	"XetraCast/internal/domain/models"
	domrepo "XetraCast/internal/domain/repository"
	"XetraCast/internal/services/dataset"
	applogger "XetraCast/pkg/logger"
)

// DatasetConfig drives one dataset build.
type DatasetConfig struct {
	From, To  time.Time
	Freq      dataset.Frequency
	Build     dataset.BuildOptions
	Records   dataset.RecordOptions
	TrainEnd  time.Time // derived from the data when zero
	Horizon   int
	Windows   int
	OutputDir string
	KeyPrefix string // object store prefix for train/test uploads
}

// DatasetBuilder turns raw bars into the DeepAR train and test channels.
type DatasetBuilder struct {
	source  domrepo.BarSource
	store   domrepo.ObjectStore
	metrics domrepo.Metrics
	cfg     DatasetConfig
	l       *applogger.Logger
	now     func() time.Time
}

// NewDatasetBuilder creates a builder. store may be nil, in which case the
// files are only written locally.
func NewDatasetBuilder(
	source domrepo.BarSource,
	store domrepo.ObjectStore,
	metrics domrepo.Metrics,
	cfg DatasetConfig,
	l *applogger.Logger,
) *DatasetBuilder {
	if l == nil {
		l = applogger.NewNop()
	}
	return &DatasetBuilder{
		source:  source,
		store:   store,
		metrics: metrics,
		cfg:     cfg,
		l:       l.With("dataset_builder"),
		now:     time.Now,
	}
}

// Build loads bars, reshapes them into records, splits them and writes
// series.json, train.json, test.json and manifest.json. The returned
// manifest carries the upload URIs when an object store is configured.
func (b *DatasetBuilder) Build(ctx context.Context) (*dataset.Manifest, error) {
	start := time.Now()
	bars, err := b.source.LoadBars(ctx, b.cfg.From, b.cfg.To)
	if err != nil {
		return nil, fmt.Errorf("load bars: %w", err)
	}

	panel, err := dataset.BuildPanel(bars, b.cfg.Freq, b.cfg.Build)
	if err != nil {
		return nil, fmt.Errorf("build panel: %w", err)
	}
	panel.FillForward()

	records, err := dataset.ToRecords(panel, b.cfg.Records)
	if err != nil {
		return nil, fmt.Errorf("to records: %w", err)
	}
	trainEnd := b.cfg.TrainEnd
	if trainEnd.IsZero() {
		// Hold back one horizon per test window from the end of the data.
		trainEnd = b.cfg.Freq.Add(panel.Index[0], panel.Len()-max(b.cfg.Windows, 1)*b.cfg.Horizon)
	}
	split, err := dataset.Split(records, dataset.SplitConfig{
		Freq:             b.cfg.Freq,
		TrainEnd:         trainEnd,
		PredictionLength: b.cfg.Horizon,
		TestWindows:      b.cfg.Windows,
	})
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	if len(split.Dropped) > 0 {
		b.l.Warn("series dropped, too short before train end",
			applogger.Strings("symbols", split.Dropped),
			applogger.Int("prediction_length", b.cfg.Horizon),
		)
	}

	m := &dataset.Manifest{
		Freq:             b.cfg.Freq.String(),
		Target:           string(b.cfg.Records.Target),
		Categories:       b.cfg.Records.Categories,
		PredictionLength: b.cfg.Horizon,
		TestWindows:      b.cfg.Windows,
		TrainEnd:         trainEnd,
		Symbols:          panel.Symbols,
		Dropped:          split.Dropped,
		TrainCount:       len(split.Train),
		TestCount:        len(split.Test),
		CreatedAt:        b.now().UTC(),
	}
	for _, f := range b.cfg.Records.Covariates {
		m.Covariates = append(m.Covariates, string(f))
	}

	if err := os.MkdirAll(b.cfg.OutputDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	if _, err := b.encode(SeriesFile, records); err != nil {
		return nil, err
	}
	trainBody, err := b.encode(TrainFile, split.Train)
	if err != nil {
		return nil, err
	}
	testBody, err := b.encode(TestFile, split.Test)
	if err != nil {
		return nil, err
	}
	if b.store != nil {
		if m.TrainURI, err = b.upload(ctx, TrainFile, trainBody); err != nil {
			return nil, err
		}
		if len(split.Test) > 0 {
			if m.TestURI, err = b.upload(ctx, TestFile, testBody); err != nil {
				return nil, err
			}
		}
	}

	// The manifest goes last: its mtime tells readers the set is complete.
	mb, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := os.WriteFile(filepath.Join(b.cfg.OutputDir, ManifestFile), mb, 0o644); err != nil {
		return nil, fmt.Errorf("write manifest: %w", err)
	}

	b.metrics.RecordRecords("train", len(split.Train))
	b.metrics.RecordRecords("test", len(split.Test))
	b.l.Info("dataset prepared",
		applogger.Int("bars", len(bars)),
		applogger.Int("symbols", len(panel.Symbols)),
		applogger.Int("buckets", panel.Len()),
		applogger.Int("train", len(split.Train)),
		applogger.Int("test", len(split.Test)),
		applogger.String("train_uri", m.TrainURI),
		applogger.Duration("duration_ms", time.Since(start)),
	)
	return m, nil
}

// encode writes records to the output directory and returns the bytes.
func (b *DatasetBuilder) encode(name string, records []models.TimeSeries) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := dataset.WriteJSONLines(&buf, records); err != nil {
		return nil, fmt.Errorf("encode %s: %w", name, err)
	}
	if err := os.WriteFile(filepath.Join(b.cfg.OutputDir, name), buf.Bytes(), 0o644); err != nil {
		return nil, fmt.Errorf("write %s: %w", name, err)
	}
	return buf.Bytes(), nil
}

// upload puts one channel file under {prefix}/{channel}/ and returns the
// channel's prefix URI, which is what the training job reads.
func (b *DatasetBuilder) upload(ctx context.Context, name string, body []byte) (string, error) {
	channel := name[:len(name)-len(filepath.Ext(name))]
	key := path.Join(b.cfg.KeyPrefix, channel, name)
	start := time.Now()
	uri, err := b.store.Put(ctx, key, bytes.NewReader(body))
	b.metrics.RecordRemoteCall("s3_put", time.Since(start), err)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", name, err)
	}
	return uri[:len(uri)-len(name)], nil
}
