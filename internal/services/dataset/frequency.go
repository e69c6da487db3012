package dataset

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Frequency is a regular sampling interval written the way DeepAR's
// time_freq hyperparameter expects it ("5min", "H", "D").
type Frequency struct {
	N    int
	Unit string // "min", "H" or "D"
}

var unitDurations = map[string]time.Duration{
	"min": time.Minute,
	"H":   time.Hour,
	"D":   24 * time.Hour,
}

// ParseFrequency accepts an optional multiple followed by a unit. "T" is read as "min".
func ParseFrequency(s string) (Frequency, error) {
	s = strings.TrimSpace(s)
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	n := 1
	if i > 0 {
		v, err := strconv.Atoi(s[:i])
		if err != nil || v <= 0 {
			return Frequency{}, fmt.Errorf("invalid frequency multiple in %q", s)
		}
		n = v
	}
	unit := s[i:]
	if unit == "T" {
		unit = "min"
	}
	if _, ok := unitDurations[unit]; !ok {
		return Frequency{}, fmt.Errorf("unsupported frequency unit %q", s)
	}
	return Frequency{N: n, Unit: unit}, nil
}

func (f Frequency) String() string {
	if f.N <= 1 {
		return f.Unit
	}
	return strconv.Itoa(f.N) + f.Unit
}

// Duration returns the length of one step.
func (f Frequency) Duration() time.Duration {
	n := f.N
	if n <= 0 {
		n = 1
	}
	return time.Duration(n) * unitDurations[f.Unit]
}

// Truncate rounds t down to the start of its bucket (UTC).
func (f Frequency) Truncate(t time.Time) time.Time {
	return t.UTC().Truncate(f.Duration())
}

// Add moves t forward by n steps.
func (f Frequency) Add(t time.Time, n int) time.Time {
	return t.Add(time.Duration(n) * f.Duration())
}

// Steps counts the whole steps from 'from' up to, but excluding, 'to'.
// Negative spans yield zero.
func (f Frequency) Steps(from, to time.Time) int {
	if !to.After(from) {
		return 0
	}
	d := to.Sub(from)
	steps := int(d / f.Duration())
	if d%f.Duration() != 0 {
		steps++
	}
	return steps
}

// Range returns n timestamps starting at start.
func (f Frequency) Range(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = f.Add(start, i)
	}
	return out
}
