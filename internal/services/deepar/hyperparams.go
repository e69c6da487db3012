package deepar

import (
	"fmt"
	"strconv"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// Hyperparameters are the DeepAR training settings. Zero values are filled
// from the struct defaults before validation.
type Hyperparameters struct {
	TimeFreq              string  `default:"H" validate:"required"`
	ContextLength         int     `default:"24" validate:"gte=1"`
	PredictionLength      int     `default:"24" validate:"gte=1"`
	Epochs                int     `default:"20" validate:"gte=1,lte=1000"`
	NumCells              int     `default:"40" validate:"gte=1,lte=200"`
	NumLayers             int     `default:"2" validate:"gte=1,lte=8"`
	Likelihood            string  `default:"gaussian" validate:"oneof=gaussian beta negative-binomial student-T deterministic-L1"`
	MiniBatchSize         int     `default:"32" validate:"gte=1,lte=1028"`
	LearningRate          float64 `default:"0.001" validate:"gt=0,lte=0.2"`
	DropoutRate           float64 `default:"0.1" validate:"gte=0,lt=1"`
	EarlyStoppingPatience int     `validate:"gte=0"`
	NumDynamicFeat        string  `default:"auto" validate:"required"`
	Cardinality           string  `default:"auto" validate:"required"`
}

// NewHyperparameters applies defaults, then overrides given in the service's
// own key names (e.g. "epochs", "context_length"), then validates.
func NewHyperparameters(overrides map[string]string) (Hyperparameters, error) {
	var h Hyperparameters
	if err := defaults.Set(&h); err != nil {
		return h, fmt.Errorf("hyperparameter defaults: %w", err)
	}
	for k, v := range overrides {
		if err := h.set(k, v); err != nil {
			return h, err
		}
	}
	if err := h.Validate(); err != nil {
		return h, err
	}
	return h, nil
}

// Validate checks every field against its bounds.
func (h *Hyperparameters) Validate() error {
	if err := validate.Struct(h); err != nil {
		return fmt.Errorf("invalid hyperparameters: %w", err)
	}
	return nil
}

func (h *Hyperparameters) set(key, value string) error {
	var err error
	switch key {
	case "time_freq":
		h.TimeFreq = value
	case "context_length":
		h.ContextLength, err = strconv.Atoi(value)
	case "prediction_length":
		h.PredictionLength, err = strconv.Atoi(value)
	case "epochs":
		h.Epochs, err = strconv.Atoi(value)
	case "num_cells":
		h.NumCells, err = strconv.Atoi(value)
	case "num_layers":
		h.NumLayers, err = strconv.Atoi(value)
	case "likelihood":
		h.Likelihood = value
	case "mini_batch_size":
		h.MiniBatchSize, err = strconv.Atoi(value)
	case "learning_rate":
		h.LearningRate, err = strconv.ParseFloat(value, 64)
	case "dropout_rate":
		h.DropoutRate, err = strconv.ParseFloat(value, 64)
	case "early_stopping_patience":
		h.EarlyStoppingPatience, err = strconv.Atoi(value)
	case "num_dynamic_feat":
		h.NumDynamicFeat = value
	case "cardinality":
		h.Cardinality = value
	default:
		return fmt.Errorf("unknown hyperparameter %q", key)
	}
	if err != nil {
		return fmt.Errorf("hyperparameter %s=%q: %w", key, value, err)
	}
	return nil
}

// Map renders the hyperparameters as the string map sent with the training job.
func (h *Hyperparameters) Map() map[string]string {
	m := map[string]string{
		"time_freq":         h.TimeFreq,
		"context_length":    strconv.Itoa(h.ContextLength),
		"prediction_length": strconv.Itoa(h.PredictionLength),
		"epochs":            strconv.Itoa(h.Epochs),
		"num_cells":         strconv.Itoa(h.NumCells),
		"num_layers":        strconv.Itoa(h.NumLayers),
		"likelihood":        h.Likelihood,
		"mini_batch_size":   strconv.Itoa(h.MiniBatchSize),
		"learning_rate":     strconv.FormatFloat(h.LearningRate, 'g', -1, 64),
		"dropout_rate":      strconv.FormatFloat(h.DropoutRate, 'g', -1, 64),
		"num_dynamic_feat":  h.NumDynamicFeat,
		"cardinality":       h.Cardinality,
	}
	if h.EarlyStoppingPatience > 0 {
		m["early_stopping_patience"] = strconv.Itoa(h.EarlyStoppingPatience)
	}
	return m
}
