package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/domain"
)

type stubPredictor struct {
	name string
	px   float64
	err  error
}

func (s stubPredictor) Name() string                            { return s.name }
func (s stubPredictor) Fit(context.Context, domain.Chunk) error { return nil }
func (s stubPredictor) Predict(context.Context, domain.Chunk, int) (float64, error) {
	return s.px, s.err
}

type stubClassifier struct {
	prob float64
	err  error
}

func (s stubClassifier) Name() string                            { return "stub" }
func (s stubClassifier) Fit(context.Context, domain.Chunk) error { return nil }
func (s stubClassifier) ProbUp(context.Context, domain.Chunk) (float64, error) {
	return s.prob, s.err
}

func testChunk(symbol string) domain.Chunk {
	base := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, 5)
	for i := range bars {
		bars[i] = domain.Bar{
			Symbol:    symbol,
			Timestamp: base.AddDate(0, 0, i),
			Close:     50 + float64(i),
		}
	}
	return domain.Chunk{Symbol: symbol, Bars: bars}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestSetForecastBlendsPredictors(t *testing.T) {
	set := &Set{
		Ensemble:   stubPredictor{name: "a", px: 100},
		Sequence:   stubPredictor{name: "b", px: 110},
		Stat:       []Predictor{stubPredictor{name: "c", px: 120}},
		Classifier: stubClassifier{prob: 0.7},
	}

	fc, err := set.Forecast(context.Background(), testChunk("AAPL"), 5)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if fc.Price != 110 {
		t.Errorf("blended price = %v, want 110", fc.Price)
	}
	if fc.Probability != 0.7 {
		t.Errorf("probability = %v, want 0.7", fc.Probability)
	}
	if fc.Symbol != "AAPL" || fc.Horizon != 5 {
		t.Errorf("forecast metadata = %+v", fc)
	}
}

func TestSetForecastSkipsFailingPredictors(t *testing.T) {
	set := &Set{
		Ensemble:   stubPredictor{name: "a", err: errors.New("bad window")},
		Sequence:   stubPredictor{name: "b", px: 200},
		Classifier: stubClassifier{prob: 0.5},
	}

	fc, err := set.Forecast(context.Background(), testChunk("MSFT"), 1)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if fc.Price != 200 {
		t.Errorf("price = %v, want 200 from the surviving predictor", fc.Price)
	}
}

func TestSetForecastErrors(t *testing.T) {
	allFail := &Set{
		Ensemble:   stubPredictor{name: "a", err: ErrInsufficientData},
		Classifier: stubClassifier{prob: 0.5},
	}
	if _, err := allFail.Forecast(context.Background(), testChunk("X"), 1); err == nil {
		t.Error("Forecast succeeded with every predictor failing")
	}

	noClassifier := &Set{Ensemble: stubPredictor{name: "a", px: 1}}
	if _, err := noClassifier.Forecast(context.Background(), testChunk("X"), 1); err == nil {
		t.Error("Forecast succeeded without a classifier")
	}

	badClassifier := &Set{
		Ensemble:   stubPredictor{name: "a", px: 1},
		Classifier: stubClassifier{err: errors.New("not fitted")},
	}
	if _, err := badClassifier.Forecast(context.Background(), testChunk("X"), 1); err == nil {
		t.Error("Forecast succeeded with a failing classifier")
	}
}

func TestRegistryEmpty(t *testing.T) {
	r := NewRegistry(quietLogger())
	if _, err := r.Get("AAPL"); !errors.Is(err, ErrNoModel) {
		t.Errorf("Get on empty registry = %v, want ErrNoModel", err)
	}
	if v := r.Version("AAPL"); v != 0 {
		t.Errorf("Version on empty registry = %d, want 0", v)
	}
	if n := r.Len(); n != 0 {
		t.Errorf("Len on empty registry = %d, want 0", n)
	}
}

func TestRegistrySwapBumpsPerSymbolVersion(t *testing.T) {
	r := NewRegistry(quietLogger())

	v1 := r.Swap("AAPL", &Set{Ensemble: stubPredictor{name: "a", px: 1}, Classifier: stubClassifier{}})
	v2 := r.Swap("AAPL", &Set{Ensemble: stubPredictor{name: "b", px: 2}, Classifier: stubClassifier{}})
	other := r.Swap("MSFT", &Set{Ensemble: stubPredictor{name: "c", px: 3}, Classifier: stubClassifier{}})
	if v1 != 1 || v2 != 2 {
		t.Errorf("AAPL versions = %d, %d, want 1, 2", v1, v2)
	}
	if other != 1 {
		t.Errorf("MSFT version = %d, want 1 (versions are per symbol)", other)
	}

	cur, err := r.Get("AAPL")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if cur.Version != 2 || cur.Ensemble.Name() != "b" {
		t.Errorf("Get = version %d ensemble %q, want version 2 ensemble b", cur.Version, cur.Ensemble.Name())
	}
	if cur.TrainedAt.IsZero() {
		t.Error("Swap did not stamp TrainedAt")
	}

	syms := r.Symbols()
	if len(syms) != 2 || syms[0] != "AAPL" || syms[1] != "MSFT" {
		t.Errorf("Symbols = %v, want [AAPL MSFT]", syms)
	}
}

// TestRegistrySwapIsAtomic hammers the registry with readers while a writer
// publishes generations. Every observed Set must be internally consistent:
// all of its models belong to the same generation.
func TestRegistrySwapIsAtomic(t *testing.T) {
	r := NewRegistry(quietLogger())

	makeSet := func(gen int) *Set {
		tag := fmt.Sprintf("gen-%d", gen)
		return &Set{
			Ensemble:   stubPredictor{name: tag, px: float64(gen)},
			Sequence:   stubPredictor{name: tag, px: float64(gen)},
			Stat:       []Predictor{stubPredictor{name: tag, px: float64(gen)}},
			Classifier: stubClassifier{prob: 0.5},
		}
	}
	r.Swap("SPY", makeSet(0))

	const generations = 200
	done := make(chan struct{})
	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-done:
					return
				default:
				}
				set, err := r.Get("SPY")
				if err != nil {
					t.Errorf("Get: %v", err)
					return
				}
				tag := set.Ensemble.Name()
				for _, p := range set.Predictors() {
					if p.Name() != tag {
						t.Errorf("torn read: predictor %q inside bundle %q", p.Name(), tag)
						return
					}
				}
			}
		}()
	}

	for gen := 1; gen <= generations; gen++ {
		r.Swap("SPY", makeSet(gen))
	}
	close(done)
	wg.Wait()

	if v := r.Version("SPY"); v != generations+1 {
		t.Errorf("final version = %d, want %d", v, generations+1)
	}
}
