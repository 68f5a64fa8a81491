// Package builtins provides the built-in model families that ship with the
// tradeflow platform: a momentum ensemble, an exponentially weighted sequence
// model, autoregressive and volatility-adjusted statistical models, and a
// logistic direction classifier.
//
// Every model follows the same lifecycle: Fit on a window of bars, then
// Predict (or ProbUp) any number of times. Fitted models are read-only and
// safe for concurrent readers; refitting happens on a fresh instance.
package builtins

import (
	"context"
	"math"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
)

// minObservations is the smallest window any builtin will fit on.
const minObservations = 20

// logReturns computes ln(c_t / c_{t-1}) over the chunk's closes.
func logReturns(closes []float64) []float64 {
	if len(closes) < 2 {
		return nil
	}
	rets := make([]float64, 0, len(closes)-1)
	for i := 1; i < len(closes); i++ {
		rets = append(rets, math.Log(closes[i]/closes[i-1]))
	}
	return rets
}

func mean(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}

func variance(xs []float64, mu float64) float64 {
	if len(xs) < 2 {
		return 0
	}
	var sum float64
	for _, x := range xs {
		d := x - mu
		sum += d * d
	}
	return sum / float64(len(xs)-1)
}

// ---------------------------------------------------------------------------
// Momentum ensemble

// Compile-time interface check.
var _ model.Predictor = (*Momentum)(nil)

// Momentum blends short- and long-window drift estimates into one expected
// per-step log return, weighting the short window more heavily.
type Momentum struct {
	shortWindow int
	longWindow  int
	shortWeight float64

	drift  float64
	fitted bool
}

// NewMomentum creates a Momentum ensemble with the given lookback windows.
func NewMomentum(short, long int) *Momentum {
	if short <= 0 {
		short = 20
	}
	if long <= short {
		long = short * 3
	}
	return &Momentum{
		shortWindow: short,
		longWindow:  long,
		shortWeight: 0.6,
	}
}

// Name returns "momentum-ensemble".
func (m *Momentum) Name() string { return "momentum-ensemble" }

// Fit estimates the blended drift from the window's tail.
func (m *Momentum) Fit(_ context.Context, chunk domain.Chunk) error {
	if chunk.Len() < minObservations {
		return model.ErrInsufficientData
	}
	rets := logReturns(chunk.Closes())

	short := rets
	if len(short) > m.shortWindow {
		short = short[len(short)-m.shortWindow:]
	}
	long := rets
	if len(long) > m.longWindow {
		long = long[len(long)-m.longWindow:]
	}

	m.drift = m.shortWeight*mean(short) + (1-m.shortWeight)*mean(long)
	m.fitted = true
	return nil
}

// Predict compounds the fitted drift over the horizon from the window's last
// close.
func (m *Momentum) Predict(_ context.Context, chunk domain.Chunk, horizon int) (float64, error) {
	if !m.fitted {
		return 0, model.ErrInsufficientData
	}
	last, ok := chunk.LastClose()
	if !ok {
		return 0, model.ErrInsufficientData
	}
	return last * math.Exp(m.drift*float64(horizon)), nil
}

// ---------------------------------------------------------------------------
// EWMA sequence model

var _ model.Predictor = (*EWMA)(nil)

// EWMA tracks an exponentially weighted level and trend over the close
// series, the recency-biased analogue of a trained sequence model.
type EWMA struct {
	alpha float64

	level  float64
	trend  float64
	fitted bool
}

// NewEWMA creates an EWMA sequence model. Alpha outside (0, 1] falls back to
// 0.1.
func NewEWMA(alpha float64) *EWMA {
	if alpha <= 0 || alpha > 1 {
		alpha = 0.1
	}
	return &EWMA{alpha: alpha}
}

// Name returns "ewma-sequence".
func (e *EWMA) Name() string { return "ewma-sequence" }

// Fit runs a Holt-style double smoothing pass over the closes.
func (e *EWMA) Fit(_ context.Context, chunk domain.Chunk) error {
	if chunk.Len() < minObservations {
		return model.ErrInsufficientData
	}
	closes := chunk.Closes()

	level := closes[0]
	trend := closes[1] - closes[0]
	beta := e.alpha / 2
	for _, c := range closes[1:] {
		prev := level
		level = e.alpha*c + (1-e.alpha)*(level+trend)
		trend = beta*(level-prev) + (1-beta)*trend
	}

	e.level = level
	e.trend = trend
	e.fitted = true
	return nil
}

// Predict extrapolates the smoothed level along the fitted trend.
func (e *EWMA) Predict(_ context.Context, chunk domain.Chunk, horizon int) (float64, error) {
	if !e.fitted {
		return 0, model.ErrInsufficientData
	}
	if chunk.Empty() {
		return 0, model.ErrInsufficientData
	}
	return e.level + e.trend*float64(horizon), nil
}

// ---------------------------------------------------------------------------
// AR(1) statistical model

var _ model.Predictor = (*AR1)(nil)

// AR1 fits x_t = c + phi*x_{t-1} to the close series by least squares and
// forecasts by iterating the recurrence.
type AR1 struct {
	c      float64
	phi    float64
	fitted bool
}

func NewAR1() *AR1 { return &AR1{} }

// Name returns "ar1".
func (a *AR1) Name() string { return "ar1" }

func (a *AR1) Fit(_ context.Context, chunk domain.Chunk) error {
	if chunk.Len() < minObservations {
		return model.ErrInsufficientData
	}
	closes := chunk.Closes()

	// Least squares on (x_{t-1}, x_t) pairs.
	var sx, sy, sxx, sxy float64
	n := float64(len(closes) - 1)
	for i := 1; i < len(closes); i++ {
		x, y := closes[i-1], closes[i]
		sx += x
		sy += y
		sxx += x * x
		sxy += x * y
	}
	den := n*sxx - sx*sx
	if den == 0 {
		return model.ErrInsufficientData
	}
	a.phi = (n*sxy - sx*sy) / den
	a.c = (sy - a.phi*sx) / n
	a.fitted = true
	return nil
}

func (a *AR1) Predict(_ context.Context, chunk domain.Chunk, horizon int) (float64, error) {
	if !a.fitted {
		return 0, model.ErrInsufficientData
	}
	x, ok := chunk.LastClose()
	if !ok {
		return 0, model.ErrInsufficientData
	}
	for i := 0; i < horizon; i++ {
		x = a.c + a.phi*x
	}
	return x, nil
}

// ---------------------------------------------------------------------------
// Volatility-adjusted drift model

var _ model.Predictor = (*VolDrift)(nil)

// VolDrift estimates conditional variance with a RiskMetrics-style EWMA and
// forecasts the last close compounded by the variance-corrected drift. Its
// Volatility reading also feeds the direction classifier.
type VolDrift struct {
	lambda float64

	drift  float64
	sigma2 float64
	fitted bool
}

// NewVolDrift creates a VolDrift model. Lambda outside (0, 1) falls back to
// the RiskMetrics 0.94.
func NewVolDrift(lambda float64) *VolDrift {
	if lambda <= 0 || lambda >= 1 {
		lambda = 0.94
	}
	return &VolDrift{lambda: lambda}
}

// Name returns "vol-drift".
func (v *VolDrift) Name() string { return "vol-drift" }

func (v *VolDrift) Fit(_ context.Context, chunk domain.Chunk) error {
	if chunk.Len() < minObservations {
		return model.ErrInsufficientData
	}
	rets := logReturns(chunk.Closes())
	mu := mean(rets)

	sigma2 := variance(rets, mu)
	for _, r := range rets {
		d := r - mu
		sigma2 = v.lambda*sigma2 + (1-v.lambda)*d*d
	}

	v.drift = mu - sigma2/2
	v.sigma2 = sigma2
	v.fitted = true
	return nil
}

func (v *VolDrift) Predict(_ context.Context, chunk domain.Chunk, horizon int) (float64, error) {
	if !v.fitted {
		return 0, model.ErrInsufficientData
	}
	last, ok := chunk.LastClose()
	if !ok {
		return 0, model.ErrInsufficientData
	}
	return last * math.Exp(v.drift*float64(horizon)), nil
}

// Volatility returns the fitted per-step return standard deviation.
func (v *VolDrift) Volatility() float64 { return math.Sqrt(v.sigma2) }
