package dataset

import (
	"errors"
	"fmt"
	"math"
	"time"

	"XetraCast/internal/domain/models"
)

var (
	ErrCovariateGap    = errors.New("dataset: covariate has missing values")
	ErrDuplicateSymbol = errors.New("dataset: duplicate symbol")
)

// RecordOptions selects which panel columns become the target and the
// dynamic features of each record.
type RecordOptions struct {
	Target     Field
	Covariates []Field
	Categories bool
}

func (o RecordOptions) validate() error {
	for _, f := range append([]Field{o.Target}, o.Covariates...) {
		if !knownField(f) {
			return fmt.Errorf("%w: %q", ErrUnknownField, f)
		}
	}
	return nil
}

// ToRecords converts the panel into one record per symbol. A record starts at
// the symbol's first observed target value; symbols with no observation are
// skipped. When Categories is set, the record carries the symbol's ordinal.
func ToRecords(p *Panel, opts RecordOptions) ([]models.TimeSeries, error) {
	if p == nil || p.Len() == 0 {
		return nil, ErrEmptyPanel
	}
	out := make([]models.TimeSeries, 0, len(p.Symbols))
	for cat, sym := range p.Symbols {
		target, err := p.Column(sym, opts.Target)
		if err != nil {
			return nil, err
		}
		first := firstFinite(target)
		if first < 0 {
			continue
		}
		ts := models.TimeSeries{
			Symbol: sym,
			Start:  p.Index[first],
			Target: append([]float64(nil), target[first:]...),
		}
		if opts.Categories {
			ts.Cat = []int{cat}
		}
		for _, f := range opts.Covariates {
			col, err := p.Column(sym, f)
			if err != nil {
				return nil, err
			}
			feat := append([]float64(nil), col[first:]...)
			if i := firstNonFinite(feat); i >= 0 {
				return nil, fmt.Errorf("%w: %s/%s at %s", ErrCovariateGap, sym, f, p.Index[first+i].Format(models.StartLayout))
			}
			ts.DynamicFeat = append(ts.DynamicFeat, feat)
		}
		out = append(out, ts)
	}
	if len(out) == 0 {
		return nil, ErrEmptyPanel
	}
	return out, nil
}

// FromRecords rebuilds a panel from records. Every record needs a distinct
// symbol. Cells outside a record's span stay NaN.
func FromRecords(records []models.TimeSeries, freq Frequency, opts RecordOptions) (*Panel, error) {
	if len(records) == 0 {
		return nil, ErrEmptyPanel
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}
	var lo, hi time.Time
	symbols := make([]string, 0, len(records))
	seen := make(map[string]bool, len(records))
	for i := range records {
		r := &records[i]
		if r.Symbol == "" {
			return nil, fmt.Errorf("%w: record %d has no symbol", ErrUnknownSymbol, i)
		}
		if seen[r.Symbol] {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateSymbol, r.Symbol)
		}
		seen[r.Symbol] = true
		if len(r.Target) == 0 {
			return nil, fmt.Errorf("%w: record %s has no target", ErrEmptyPanel, r.Symbol)
		}
		if len(r.DynamicFeat) != len(opts.Covariates) {
			return nil, fmt.Errorf("record %s has %d dynamic features, want %d", r.Symbol, len(r.DynamicFeat), len(opts.Covariates))
		}
		symbols = append(symbols, r.Symbol)
		start := freq.Truncate(r.Start)
		end := freq.Add(start, len(r.Target)-1)
		if lo.IsZero() || start.Before(lo) {
			lo = start
		}
		if hi.IsZero() || end.After(hi) {
			hi = end
		}
	}

	p := NewPanel(freq, lo, freq.Steps(lo, hi)+1, symbols)
	for i := range records {
		r := &records[i]
		offset, _ := p.Position(freq.Truncate(r.Start))
		col, err := p.Column(r.Symbol, opts.Target)
		if err != nil {
			return nil, err
		}
		copy(col[offset:], r.Target)
		for j, f := range opts.Covariates {
			col, err := p.Column(r.Symbol, f)
			if err != nil {
				return nil, err
			}
			feat := r.DynamicFeat[j]
			if len(feat) > len(r.Target) {
				feat = feat[:len(r.Target)]
			}
			copy(col[offset:], feat)
		}
	}
	return p, nil
}

// AssignSymbols restores symbol names on records read back from JSON Lines,
// using the category when present and the position otherwise.
func AssignSymbols(records []models.TimeSeries, symbols []string) error {
	for i := range records {
		idx := i
		if len(records[i].Cat) > 0 {
			idx = records[i].Cat[0]
		}
		if idx < 0 || idx >= len(symbols) {
			return fmt.Errorf("%w: record %d maps to index %d of %d", ErrUnknownSymbol, i, idx, len(symbols))
		}
		records[i].Symbol = symbols[idx]
	}
	return nil
}

// Find returns the record for symbol.
func Find(records []models.TimeSeries, symbol string) (*models.TimeSeries, error) {
	for i := range records {
		if records[i].Symbol == symbol {
			return &records[i], nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
}

func firstFinite(xs []float64) int {
	for i, v := range xs {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}

func firstNonFinite(xs []float64) int {
	for i, v := range xs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return i
		}
	}
	return -1
}
