package dataset

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"XetraCast/internal/domain/models"
)

var (
	ErrEmptyPanel    = errors.New("dataset: no observations")
	ErrUnknownSymbol = errors.New("dataset: unknown symbol")
	ErrUnknownField  = errors.New("dataset: unknown field")
)

// Field names one column of a symbol's resampled bars.
type Field string

const (
	FieldOpen   Field = "open"
	FieldClose  Field = "close"
	FieldMin    Field = "min"
	FieldMax    Field = "max"
	FieldVolume Field = "volume"
)

var allFields = []Field{FieldOpen, FieldClose, FieldMin, FieldMax, FieldVolume}

// ParseField validates a column name.
func ParseField(s string) (Field, error) {
	f := Field(strings.ToLower(strings.TrimSpace(s)))
	if !knownField(f) {
		return "", fmt.Errorf("%w: %q", ErrUnknownField, s)
	}
	return f, nil
}

func knownField(f Field) bool {
	for _, known := range allFields {
		if f == known {
			return true
		}
	}
	return false
}

// ParseFields validates a list of column names.
func ParseFields(ss []string) ([]Field, error) {
	out := make([]Field, 0, len(ss))
	for _, s := range ss {
		f, err := ParseField(s)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// Panel is a wide table: one regular time index shared by every symbol, and
// per symbol one column per field. Missing cells hold NaN.
type Panel struct {
	Freq    Frequency
	Index   []time.Time
	Symbols []string
	columns map[string]map[Field][]float64
}

// NewPanel allocates an all-NaN panel over n steps starting at start.
func NewPanel(freq Frequency, start time.Time, n int, symbols []string) *Panel {
	syms := append([]string(nil), symbols...)
	sort.Strings(syms)
	p := &Panel{
		Freq:    freq,
		Index:   freq.Range(start, n),
		Symbols: syms,
		columns: make(map[string]map[Field][]float64, len(syms)),
	}
	for _, s := range syms {
		cols := make(map[Field][]float64, len(allFields))
		for _, f := range allFields {
			cols[f] = nanSlice(n)
		}
		p.columns[s] = cols
	}
	return p
}

// Len returns the number of rows.
func (p *Panel) Len() int { return len(p.Index) }

// Column returns the backing slice of one column.
func (p *Panel) Column(symbol string, f Field) ([]float64, error) {
	cols, ok := p.columns[symbol]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	col, ok := cols[f]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownField, f)
	}
	return col, nil
}

// Position returns the row of t, if t is on the index.
func (p *Panel) Position(t time.Time) (int, bool) {
	if len(p.Index) == 0 {
		return 0, false
	}
	t = t.UTC()
	if t.Before(p.Index[0]) {
		return 0, false
	}
	d := t.Sub(p.Index[0])
	if d%p.Freq.Duration() != 0 {
		return 0, false
	}
	i := int(d / p.Freq.Duration())
	if i >= len(p.Index) {
		return 0, false
	}
	return i, true
}

// FillForward carries the last observed value into following gaps, column by
// column. Gaps before a column's first observation are left as NaN.
func (p *Panel) FillForward() {
	for _, cols := range p.columns {
		for _, col := range cols {
			last := math.NaN()
			for i, v := range col {
				if math.IsNaN(v) {
					col[i] = last
					continue
				}
				last = v
			}
		}
	}
}

// BuildOptions filters bars before resampling. Empty values disable a filter.
type BuildOptions struct {
	SecurityType string
	Symbols      []string
}

type bucketAgg struct {
	open, close, min, max, volume float64
	first, last                   time.Time
}

// BuildPanel resamples minute bars into a panel at the given frequency. Per
// bucket, open is the earliest StartPrice, close the latest EndPrice, min and
// max the extremes and volume the sum.
func BuildPanel(bars []models.Bar, freq Frequency, opts BuildOptions) (*Panel, error) {
	wanted := make(map[string]bool, len(opts.Symbols))
	for _, s := range opts.Symbols {
		wanted[s] = true
	}

	aggs := make(map[string]map[time.Time]*bucketAgg)
	var lo, hi time.Time
	for i := range bars {
		b := &bars[i]
		if b.Mnemonic == "" {
			continue
		}
		if opts.SecurityType != "" && b.SecurityType != opts.SecurityType {
			continue
		}
		if len(wanted) > 0 && !wanted[b.Mnemonic] {
			continue
		}
		bucket := freq.Truncate(b.Time)
		if lo.IsZero() || bucket.Before(lo) {
			lo = bucket
		}
		if hi.IsZero() || bucket.After(hi) {
			hi = bucket
		}

		perSym, ok := aggs[b.Mnemonic]
		if !ok {
			perSym = make(map[time.Time]*bucketAgg)
			aggs[b.Mnemonic] = perSym
		}
		a, ok := perSym[bucket]
		if !ok {
			perSym[bucket] = &bucketAgg{
				open:   b.StartPrice,
				close:  b.EndPrice,
				min:    b.MinPrice,
				max:    b.MaxPrice,
				volume: b.TradedVolume,
				first:  b.Time,
				last:   b.Time,
			}
			continue
		}
		if b.Time.Before(a.first) {
			a.first, a.open = b.Time, b.StartPrice
		}
		if !b.Time.Before(a.last) {
			a.last, a.close = b.Time, b.EndPrice
		}
		a.min = math.Min(a.min, b.MinPrice)
		a.max = math.Max(a.max, b.MaxPrice)
		a.volume += b.TradedVolume
	}
	if len(aggs) == 0 {
		return nil, ErrEmptyPanel
	}

	symbols := make([]string, 0, len(aggs))
	for s := range aggs {
		symbols = append(symbols, s)
	}
	n := freq.Steps(lo, hi) + 1
	p := NewPanel(freq, lo, n, symbols)
	for sym, perSym := range aggs {
		cols := p.columns[sym]
		for bucket, a := range perSym {
			i, _ := p.Position(bucket)
			cols[FieldOpen][i] = a.open
			cols[FieldClose][i] = a.close
			cols[FieldMin][i] = a.min
			cols[FieldMax][i] = a.max
			cols[FieldVolume][i] = a.volume
		}
	}
	return p, nil
}

func nanSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = math.NaN()
	}
	return s
}
