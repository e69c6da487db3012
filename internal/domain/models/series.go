package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// StartLayout is the timestamp format of the "start" field in DeepAR records.
const StartLayout = "2006-01-02 15:04:05"

// TimeSeries is one entity's record: a target sequence starting at Start and
// optional dynamic features aligned index-for-index with the target.
type TimeSeries struct {
	Symbol      string
	Start       time.Time
	Target      []float64
	DynamicFeat [][]float64
	Cat         []int
}

// Len returns the number of target observations.
func (ts *TimeSeries) Len() int { return len(ts.Target) }

// Truncate returns a copy holding the first n target points and the first
// n+extraFeat points of every dynamic feature.
func (ts *TimeSeries) Truncate(n, extraFeat int) TimeSeries {
	if n > len(ts.Target) {
		n = len(ts.Target)
	}
	out := TimeSeries{
		Symbol: ts.Symbol,
		Start:  ts.Start,
		Target: append([]float64(nil), ts.Target[:n]...),
		Cat:    append([]int(nil), ts.Cat...),
	}
	if len(ts.DynamicFeat) > 0 {
		out.DynamicFeat = make([][]float64, len(ts.DynamicFeat))
		for i, f := range ts.DynamicFeat {
			m := n + extraFeat
			if m > len(f) {
				m = len(f)
			}
			out.DynamicFeat[i] = append([]float64(nil), f[:m]...)
		}
	}
	return out
}

type seriesJSON struct {
	Start       string      `json:"start"`
	Target      []nanFloat  `json:"target"`
	DynamicFeat [][]float64 `json:"dynamic_feat,omitempty"`
	Cat         []int       `json:"cat,omitempty"`
}

// MarshalJSON encodes the record in the DeepAR JSON Lines shape. Missing
// target values are written as "NaN".
func (ts TimeSeries) MarshalJSON() ([]byte, error) {
	target := make([]nanFloat, len(ts.Target))
	for i, v := range ts.Target {
		target[i] = nanFloat(v)
	}
	for i, f := range ts.DynamicFeat {
		for j, v := range f {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("dynamic_feat[%d][%d] is not finite", i, j)
			}
		}
	}
	return json.Marshal(seriesJSON{
		Start:       ts.Start.UTC().Format(StartLayout),
		Target:      target,
		DynamicFeat: ts.DynamicFeat,
		Cat:         ts.Cat,
	})
}

// UnmarshalJSON accepts numbers, "NaN" strings and nulls in the target.
func (ts *TimeSeries) UnmarshalJSON(b []byte) error {
	var raw seriesJSON
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	start, err := time.Parse(StartLayout, raw.Start)
	if err != nil {
		return fmt.Errorf("parse start: %w", err)
	}
	ts.Start = start
	ts.Target = make([]float64, len(raw.Target))
	for i, v := range raw.Target {
		ts.Target[i] = float64(v)
	}
	ts.DynamicFeat = raw.DynamicFeat
	ts.Cat = raw.Cat
	return nil
}

type nanFloat float64

func (f nanFloat) MarshalJSON() ([]byte, error) {
	v := float64(f)
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return []byte(`"NaN"`), nil
	}
	return json.Marshal(v)
}

func (f *nanFloat) UnmarshalJSON(b []byte) error {
	switch string(b) {
	case "null", `"NaN"`, `"nan"`:
		*f = nanFloat(math.NaN())
		return nil
	}
	var v float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	*f = nanFloat(v)
	return nil
}
