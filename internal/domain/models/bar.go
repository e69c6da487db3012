package models

import "time"

// Bar is one row of the Deutsche Börse Xetra public dataset: a one-minute
// summary of trading in a single security.
type Bar struct {
	ISIN           string
	Mnemonic       string
	SecurityDesc   string
	SecurityType   string
	Currency       string
	SecurityID     int64
	Time           time.Time // UTC minute the bar covers
	StartPrice     float64
	MaxPrice       float64
	MinPrice       float64
	EndPrice       float64
	TradedVolume   float64
	NumberOfTrades int64
}
