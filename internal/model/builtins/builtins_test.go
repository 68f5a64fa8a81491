package builtins

import (
	"context"
	"math"
	"testing"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
)

// trendChunk builds a window whose close compounds at rate per step.
func trendChunk(symbol string, n int, start, rate float64) domain.Chunk {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	px := start
	for i := range bars {
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: base.AddDate(0, 0, i), Close: px}
		px *= 1 + rate
	}
	return domain.Chunk{Symbol: symbol, Bars: bars}
}

// flatChunk builds a window with a constant close.
func flatChunk(symbol string, n int, px float64) domain.Chunk {
	return trendChunk(symbol, n, px, 0)
}

func TestMomentumFollowsTrend(t *testing.T) {
	ctx := context.Background()
	m := NewMomentum(20, 60)

	up := trendChunk("UP", 100, 100, 0.01)
	if err := m.Fit(ctx, up); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	last, _ := up.LastClose()
	px, err := m.Predict(ctx, up, 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if px <= last {
		t.Errorf("uptrend forecast %v not above last close %v", px, last)
	}

	down := trendChunk("DOWN", 100, 100, -0.01)
	if err := m.Fit(ctx, down); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	last, _ = down.LastClose()
	px, err = m.Predict(ctx, down, 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if px >= last {
		t.Errorf("downtrend forecast %v not below last close %v", px, last)
	}
}

func TestEWMATracksLevel(t *testing.T) {
	ctx := context.Background()
	e := NewEWMA(0.3)

	flat := flatChunk("FLAT", 60, 250)
	if err := e.Fit(ctx, flat); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	px, err := e.Predict(ctx, flat, 5)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	if math.Abs(px-250) > 1 {
		t.Errorf("flat series forecast %v, want about 250", px)
	}
}

func TestAR1RecoversLinearSeries(t *testing.T) {
	ctx := context.Background()
	a := NewAR1()

	// x_t = 2 + 1.0*x_{t-1}: a pure unit-root walk with constant drift.
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 50)
	px := 100.0
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "L", Timestamp: base.AddDate(0, 0, i), Close: px}
		px += 2
	}
	chunk := domain.Chunk{Symbol: "L", Bars: bars}

	if err := a.Fit(ctx, chunk); err != nil {
		t.Fatalf("Fit: %v", err)
	}
	last, _ := chunk.LastClose()
	got, err := a.Predict(ctx, chunk, 3)
	if err != nil {
		t.Fatalf("Predict: %v", err)
	}
	want := last + 6
	if math.Abs(got-want) > 0.5 {
		t.Errorf("AR1 forecast %v, want about %v", got, want)
	}
}

func TestVolDriftVolatility(t *testing.T) {
	ctx := context.Background()

	calm := NewVolDrift(0.94)
	if err := calm.Fit(ctx, trendChunk("CALM", 100, 100, 0.001)); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	// Alternating +5%/-5% steps.
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 100)
	px := 100.0
	for i := range bars {
		bars[i] = domain.Bar{Symbol: "WILD", Timestamp: base.AddDate(0, 0, i), Close: px}
		if i%2 == 0 {
			px *= 1.05
		} else {
			px *= 0.95
		}
	}
	wild := NewVolDrift(0.94)
	if err := wild.Fit(ctx, domain.Chunk{Symbol: "WILD", Bars: bars}); err != nil {
		t.Fatalf("Fit: %v", err)
	}

	if calm.Volatility() >= wild.Volatility() {
		t.Errorf("calm vol %v not below wild vol %v", calm.Volatility(), wild.Volatility())
	}
}

func TestDirectionClassifierOrdersRegimes(t *testing.T) {
	ctx := context.Background()

	probFor := func(chunk domain.Chunk) float64 {
		t.Helper()
		c := NewDirectionClassifier(20)
		if err := c.Fit(ctx, chunk); err != nil {
			t.Fatalf("Fit: %v", err)
		}
		p, err := c.ProbUp(ctx, chunk)
		if err != nil {
			t.Fatalf("ProbUp: %v", err)
		}
		if p < 0 || p > 1 {
			t.Fatalf("probability %v outside [0, 1]", p)
		}
		return p
	}

	up := probFor(trendChunk("UP", 100, 100, 0.01))
	down := probFor(trendChunk("DOWN", 100, 100, -0.01))
	if up <= down {
		t.Errorf("P(up | uptrend) = %v not above P(up | downtrend) = %v", up, down)
	}
}

func TestBuiltinsRejectShortWindows(t *testing.T) {
	ctx := context.Background()
	short := trendChunk("S", minObservations-1, 100, 0.01)

	models := []model.Predictor{NewMomentum(20, 60), NewEWMA(0.1), NewAR1(), NewVolDrift(0.94)}
	for _, m := range models {
		if err := m.Fit(ctx, short); err == nil {
			t.Errorf("%s: Fit accepted %d observations", m.Name(), short.Len())
		}
		if _, err := m.Predict(ctx, short, 1); err == nil {
			t.Errorf("%s: Predict succeeded before Fit", m.Name())
		}
	}

	c := NewDirectionClassifier(20)
	if err := c.Fit(ctx, short); err == nil {
		t.Error("classifier Fit accepted a short window")
	}
	if _, err := c.ProbUp(ctx, short); err == nil {
		t.Error("classifier ProbUp succeeded before Fit")
	}
}
