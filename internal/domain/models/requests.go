package models

// Requests for dashboard HTTP endpoints. Defined in domain for consistency and reuse.

type SeriesRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"required,mnemonic"`
}

type ForecastRequest struct {
	Symbol     string `query:"symbol" json:"symbol" validate:"required,mnemonic"`
	Cutoff     string `query:"cutoff" json:"cutoff" validate:"omitempty,anytime"`
	Confidence int    `query:"confidence" json:"confidence" default:"80" validate:"gte=1,lte=99"`
	NumSamples int    `query:"num_samples" json:"num_samples" default:"100" validate:"gte=1,lte=1000"`
}

type HistoryRequest struct {
	Symbol string `query:"symbol" json:"symbol" validate:"omitempty,mnemonic"`
	Limit  int    `query:"limit" json:"limit" default:"20" validate:"gte=1,lte=500"`
}
