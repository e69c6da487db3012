package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"XetraCast/internal/domain/models"
	"XetraCast/internal/services/dataset"
)

// File names written by DatasetBuilder into the output directory.
const (
	ManifestFile = "manifest.json"
	SeriesFile   = "series.json"
	TrainFile    = "train.json"
	TestFile     = "test.json"
)

var ErrNotPrepared = errors.New("usecase: dataset has not been prepared")

// Prepared is a dataset loaded back from disk: the manifest and the full,
// unsplit series of every symbol.
type Prepared struct {
	Manifest dataset.Manifest
	Freq     dataset.Frequency
	Options  dataset.RecordOptions
	Series   []models.TimeSeries
}

// Symbols lists the prepared symbols in category order.
func (p *Prepared) Symbols() []string { return p.Manifest.Symbols }

// Find returns the full series of symbol.
func (p *Prepared) Find(symbol string) (*models.TimeSeries, error) {
	return dataset.Find(p.Series, symbol)
}

// LoadPrepared reads the manifest and series file from dir.
func LoadPrepared(dir string) (*Prepared, error) {
	b, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no %s in %s", ErrNotPrepared, ManifestFile, dir)
	}
	if err != nil {
		return nil, fmt.Errorf("read manifest: %w", err)
	}
	var p Prepared
	if err := json.Unmarshal(b, &p.Manifest); err != nil {
		return nil, fmt.Errorf("decode manifest: %w", err)
	}
	if p.Freq, err = p.Manifest.Frequency(); err != nil {
		return nil, err
	}
	if p.Options, err = p.Manifest.RecordOptions(); err != nil {
		return nil, err
	}

	f, err := os.Open(filepath.Join(dir, SeriesFile))
	if err != nil {
		return nil, fmt.Errorf("open series: %w", err)
	}
	defer f.Close()
	if p.Series, err = dataset.ReadJSONLines(f); err != nil {
		return nil, fmt.Errorf("read series: %w", err)
	}
	if err := dataset.AssignSymbols(p.Series, p.Manifest.Symbols); err != nil {
		return nil, err
	}
	return &p, nil
}

// PreparedStore serves the prepared dataset from dir and reloads it when the
// manifest changes on disk, so a long-running server picks up a rebuilt
// dataset without a restart.
type PreparedStore struct {
	dir string

	mu      sync.Mutex
	cur     *Prepared
	modTime time.Time
}

func NewPreparedStore(dir string) *PreparedStore {
	return &PreparedStore{dir: dir}
}

func (s *PreparedStore) Dir() string { return s.dir }

func (s *PreparedStore) Get() (*Prepared, error) {
	fi, err := os.Stat(filepath.Join(s.dir, ManifestFile))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: no %s in %s", ErrNotPrepared, ManifestFile, s.dir)
	}
	if err != nil {
		return nil, fmt.Errorf("stat manifest: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != nil && fi.ModTime().Equal(s.modTime) {
		return s.cur, nil
	}
	p, err := LoadPrepared(s.dir)
	if err != nil {
		return nil, err
	}
	s.cur, s.modTime = p, fi.ModTime()
	return p, nil
}
