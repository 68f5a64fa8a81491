package builtins

import (
	"context"
	"math"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
)

// Compile-time interface check.
var _ model.Classifier = (*DirectionClassifier)(nil)

// scaler standardizes one feature to zero mean and unit variance using
// statistics captured at fit time.
type scaler struct {
	mean float64
	std  float64
}

func fitScaler(xs []float64) scaler {
	mu := mean(xs)
	sd := math.Sqrt(variance(xs, mu))
	if sd == 0 {
		sd = 1
	}
	return scaler{mean: mu, std: sd}
}

func (s scaler) transform(x float64) float64 { return (x - s.mean) / s.std }

// DirectionClassifier estimates the probability that the price rises over the
// prediction horizon. It scales short-window momentum by the fitted return
// volatility and squashes the resulting t-statistic through a logistic link,
// so calm upward drifts score well above 0.5 and choppy flat series land near
// it.
type DirectionClassifier struct {
	window int
	slope  float64

	retStd float64
	fitted bool
}

// NewDirectionClassifier creates a classifier that scores momentum over the
// given lookback window.
func NewDirectionClassifier(window int) *DirectionClassifier {
	if window <= 0 {
		window = 20
	}
	return &DirectionClassifier{window: window, slope: 1.5}
}

// Name returns "logit-direction".
func (c *DirectionClassifier) Name() string { return "logit-direction" }

// Fit captures the return volatility used for scaling.
func (c *DirectionClassifier) Fit(_ context.Context, chunk domain.Chunk) error {
	if chunk.Len() < minObservations {
		return model.ErrInsufficientData
	}
	rets := logReturns(chunk.Closes())
	c.retStd = fitScaler(rets).std
	c.fitted = true
	return nil
}

// ProbUp returns P(price rises) in [0, 1].
func (c *DirectionClassifier) ProbUp(_ context.Context, chunk domain.Chunk) (float64, error) {
	if !c.fitted {
		return 0, model.ErrInsufficientData
	}
	if chunk.Len() < 2 {
		return 0, model.ErrInsufficientData
	}

	rets := logReturns(chunk.Closes())
	if len(rets) > c.window {
		rets = rets[len(rets)-c.window:]
	}

	// t-statistic of the short-window mean return against the fitted
	// volatility.
	z := mean(rets) / c.retStd * math.Sqrt(float64(len(rets)))
	return 1 / (1 + math.Exp(-c.slope*z)), nil
}
