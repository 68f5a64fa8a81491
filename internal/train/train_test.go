package train

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
	"tradeflow/internal/pipeline"
)

// sliceSource replays a fixed item sequence, then reports exhaustion.
type sliceSource struct {
	items []domain.Item
	pos   int
}

func (s *sliceSource) Next(ctx context.Context) (domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return domain.Item{}, err
	}
	if s.pos >= len(s.items) {
		return domain.Item{}, pipeline.ErrDone
	}
	item := s.items[s.pos]
	s.pos++
	return item, nil
}

type stubTrainer struct {
	failFor map[string]bool
	fits    int
}

func (t *stubTrainer) Fit(_ context.Context, chunk domain.Chunk) (*model.Set, error) {
	t.fits++
	if t.failFor[chunk.Symbol] {
		return nil, errors.New("degenerate window")
	}
	return &model.Set{}, nil
}

func chunkFor(symbol string, n int) domain.Item {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: base.AddDate(0, 0, i), Close: 100 + float64(i)}
	}
	return domain.Item{Symbol: symbol, Chunk: domain.Chunk{Symbol: symbol, Bars: bars}}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func TestTrainPopulatesRegistry(t *testing.T) {
	src := &sliceSource{items: []domain.Item{
		chunkFor("AAPL", 30),
		chunkFor("MSFT", 30),
		chunkFor("NVDA", 30),
	}}
	reg := model.NewRegistry(quietLogger())
	o := NewOrchestrator(reg, &stubTrainer{}, quietLogger())

	if err := o.Train(context.Background(), src, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if got := reg.Len(); got != 3 {
		t.Errorf("registry holds %d symbols, want 3", got)
	}
	for _, sym := range []string{"AAPL", "MSFT", "NVDA"} {
		if _, err := reg.Get(sym); err != nil {
			t.Errorf("Get(%s): %v", sym, err)
		}
	}
}

func TestTrainStopsAtCoverage(t *testing.T) {
	src := &sliceSource{items: []domain.Item{
		chunkFor("AAPL", 30),
		chunkFor("MSFT", 30),
		chunkFor("AAPL", 30), // beyond coverage, must not be consumed
	}}
	reg := model.NewRegistry(quietLogger())
	tr := &stubTrainer{}
	o := NewOrchestrator(reg, tr, quietLogger())

	if err := o.Train(context.Background(), src, []string{"AAPL", "MSFT"}); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if tr.fits != 2 {
		t.Errorf("trainer fitted %d chunks, want 2 (coverage condition)", tr.fits)
	}
}

func TestTrainOmitsFailingSymbol(t *testing.T) {
	src := &sliceSource{items: []domain.Item{
		chunkFor("GOOD", 30),
		chunkFor("BAD", 30),
		chunkFor("ALSO", 30),
	}}
	reg := model.NewRegistry(quietLogger())
	o := NewOrchestrator(reg, &stubTrainer{failFor: map[string]bool{"BAD": true}}, quietLogger())

	if err := o.Train(context.Background(), src, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if _, err := reg.Get("BAD"); !errors.Is(err, model.ErrNoModel) {
		t.Errorf("failing symbol present in registry: %v", err)
	}
	for _, sym := range []string{"GOOD", "ALSO"} {
		if _, err := reg.Get(sym); err != nil {
			t.Errorf("Get(%s): %v, one symbol's failure must not block others", sym, err)
		}
	}
}

func TestTrainRefreshesExistingEntry(t *testing.T) {
	src := &sliceSource{items: []domain.Item{
		chunkFor("AAPL", 30),
		chunkFor("AAPL", 30),
	}}
	reg := model.NewRegistry(quietLogger())
	o := NewOrchestrator(reg, &stubTrainer{}, quietLogger())

	if err := o.Train(context.Background(), src, nil); err != nil {
		t.Fatalf("Train: %v", err)
	}
	if v := reg.Version("AAPL"); v != 2 {
		t.Errorf("version after two chunks = %d, want 2", v)
	}
}

func TestTrainPropagatesCancellation(t *testing.T) {
	src := &sliceSource{items: []domain.Item{chunkFor("AAPL", 30)}}
	reg := model.NewRegistry(quietLogger())
	o := NewOrchestrator(reg, &stubTrainer{}, quietLogger())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := o.Train(ctx, src, nil); !errors.Is(err, context.Canceled) {
		t.Errorf("Train = %v, want context.Canceled", err)
	}
}

func TestBuiltinTrainerFitsRealModels(t *testing.T) {
	item := chunkFor("AAPL", 120)
	set, err := NewBuiltinTrainer().Fit(context.Background(), item.Chunk)
	if err != nil {
		t.Fatalf("Fit: %v", err)
	}
	if got := len(set.Predictors()); got != 4 {
		t.Errorf("bundle holds %d predictors, want 4", got)
	}

	fc, err := set.Forecast(context.Background(), item.Chunk, 5)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if fc.Price <= 0 {
		t.Errorf("forecast price = %v, want positive", fc.Price)
	}
	if fc.Probability < 0 || fc.Probability > 1 {
		t.Errorf("forecast probability = %v, want within [0, 1]", fc.Probability)
	}

	short := chunkFor("AAPL", 5)
	if _, err := NewBuiltinTrainer().Fit(context.Background(), short.Chunk); err == nil {
		t.Error("Fit accepted a window too short for any model")
	}
}
