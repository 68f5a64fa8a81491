// Package model defines the forecasting interfaces and the registry that
// serves a consistent model bundle to concurrent readers while training
// replaces it in the background.
package model

import (
	"context"
	"errors"
	"fmt"
	"time"

	"tradeflow/internal/domain"
)

// ErrInsufficientData is returned when a model is asked to predict or fit
// with fewer observations than it needs.
var ErrInsufficientData = errors.New("model: insufficient observations")

// Predictor forecasts the next price for a symbol from its recent history.
type Predictor interface {
	// Name identifies the model family in logs and persisted records.
	Name() string

	// Fit trains the model on a window of bars. Implementations must leave
	// the previous state intact when they return an error.
	Fit(ctx context.Context, chunk domain.Chunk) error

	// Predict returns the forecast price horizon steps ahead.
	Predict(ctx context.Context, chunk domain.Chunk, horizon int) (float64, error)
}

// Classifier estimates the probability that a symbol's price rises over the
// prediction horizon.
type Classifier interface {
	Name() string
	Fit(ctx context.Context, chunk domain.Chunk) error

	// ProbUp returns P(price rises) in [0, 1].
	ProbUp(ctx context.Context, chunk domain.Chunk) (float64, error)
}

// Set is one immutable trained bundle: the ensemble and sequence price
// models, the statistical models, and the direction classifier. A Set is
// never mutated after publication; training builds a fresh one.
type Set struct {
	// Ensemble is the primary price predictor.
	Ensemble Predictor
	// Sequence is the sequence-model price predictor.
	Sequence Predictor
	// Stat holds the statistical models (trend, volatility).
	Stat []Predictor
	// Classifier drives trading signals.
	Classifier Classifier

	// Version increases by one on every publication.
	Version   int64
	TrainedAt time.Time
}

// Predictors returns every price predictor in the bundle, skipping nil slots.
func (s *Set) Predictors() []Predictor {
	out := make([]Predictor, 0, 2+len(s.Stat))
	if s.Ensemble != nil {
		out = append(out, s.Ensemble)
	}
	if s.Sequence != nil {
		out = append(out, s.Sequence)
	}
	for _, p := range s.Stat {
		if p != nil {
			out = append(out, p)
		}
	}
	return out
}

// Forecast blends every predictor's price estimate into one forecast and
// attaches the classifier's direction probability. Models that fail on this
// window are skipped; at least one price estimate and a classifier reading
// are required.
func (s *Set) Forecast(ctx context.Context, chunk domain.Chunk, horizon int) (domain.Forecast, error) {
	preds := s.Predictors()
	if len(preds) == 0 || s.Classifier == nil {
		return domain.Forecast{}, fmt.Errorf("model: set version %d is empty", s.Version)
	}

	var sum float64
	var n int
	for _, p := range preds {
		px, err := p.Predict(ctx, chunk, horizon)
		if err != nil {
			continue
		}
		sum += px
		n++
	}
	if n == 0 {
		return domain.Forecast{}, fmt.Errorf("model: no predictor produced a price for %s", chunk.Symbol)
	}

	prob, err := s.Classifier.ProbUp(ctx, chunk)
	if err != nil {
		return domain.Forecast{}, fmt.Errorf("model: classifier failed for %s: %w", chunk.Symbol, err)
	}

	return domain.Forecast{
		Symbol:      chunk.Symbol,
		Price:       sum / float64(n),
		Probability: prob,
		Horizon:     horizon,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
