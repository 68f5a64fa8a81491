package learn

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/fetch"
	"tradeflow/internal/model"
	"tradeflow/internal/preprocess"
)

type fakeSource struct {
	mu       sync.Mutex
	bars     map[string][]domain.Bar
	failing  map[string]error
	requests map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		bars:     make(map[string][]domain.Bar),
		failing:  make(map[string]error),
		requests: make(map[string]int),
	}
}

func (s *fakeSource) Fetch(ctx context.Context, symbol string, _, _ time.Time) ([]domain.Bar, error) {
	return s.FetchLatest(ctx, symbol, 0)
}

func (s *fakeSource) FetchLatest(_ context.Context, symbol string, n int) ([]domain.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests[symbol]++
	if err := s.failing[symbol]; err != nil {
		return nil, err
	}
	bars := s.bars[symbol]
	if n > 0 && len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

type stubTrainer struct {
	failFor map[string]bool
}

func (t *stubTrainer) Fit(_ context.Context, chunk domain.Chunk) (*model.Set, error) {
	if t.failFor[chunk.Symbol] {
		return nil, errors.New("degenerate window")
	}
	return &model.Set{}, nil
}

func history(symbol string, n int) []domain.Bar {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	bars := make([]domain.Bar, n)
	for i := range bars {
		bars[i] = domain.Bar{Symbol: symbol, Timestamp: base.AddDate(0, 0, i), Close: 100 + float64(i)}
	}
	return bars
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discard{}, &slog.HandlerOptions{Level: slog.LevelError + 4}))
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newLoop(src fetch.DataSource, trainer *stubTrainer, reg *model.Registry, symbols []string) *Loop {
	log := quietLogger()
	cfg := Config{Interval: 10 * time.Millisecond, WindowSize: 50, SymbolTimeout: time.Second}
	policy := fetch.NewPolicy(2, time.Millisecond, 2*time.Millisecond, log)
	return New(cfg, src, policy, preprocess.Normalizer{}, trainer, reg, symbols, log)
}

func TestRunOnceRefreshesEverySymbol(t *testing.T) {
	src := newFakeSource()
	symbols := []string{"AAPL", "MSFT"}
	for _, sym := range symbols {
		src.bars[sym] = history(sym, 300)
	}
	reg := model.NewRegistry(quietLogger())
	l := newLoop(src, &stubTrainer{}, reg, symbols)

	l.RunOnce(context.Background())
	for _, sym := range symbols {
		if v := reg.Version(sym); v != 1 {
			t.Errorf("%s version = %d, want 1", sym, v)
		}
	}

	// Only the window is requested, not the full history.
	src.mu.Lock()
	defer src.mu.Unlock()
	if src.requests["AAPL"] != 1 {
		t.Errorf("AAPL fetched %d times in one pass, want 1", src.requests["AAPL"])
	}
}

func TestRunOnceIsolatesFailures(t *testing.T) {
	src := newFakeSource()
	for _, sym := range []string{"OK1", "FETCHFAIL", "FITFAIL", "OK2"} {
		src.bars[sym] = history(sym, 100)
	}
	src.failing["FETCHFAIL"] = errors.New("unknown symbol")

	reg := model.NewRegistry(quietLogger())
	l := newLoop(src, &stubTrainer{failFor: map[string]bool{"FITFAIL": true}}, reg,
		[]string{"OK1", "FETCHFAIL", "FITFAIL", "OK2"})

	l.RunOnce(context.Background())

	for _, sym := range []string{"OK1", "OK2"} {
		if v := reg.Version(sym); v != 1 {
			t.Errorf("%s version = %d, want 1 despite other symbols failing", sym, v)
		}
	}
	for _, sym := range []string{"FETCHFAIL", "FITFAIL"} {
		if v := reg.Version(sym); v != 0 {
			t.Errorf("%s version = %d, want 0", sym, v)
		}
	}
}

func TestRunOnceKeepsPreviousSetOnFailure(t *testing.T) {
	src := newFakeSource()
	src.bars["AAPL"] = history("AAPL", 100)
	reg := model.NewRegistry(quietLogger())
	l := newLoop(src, &stubTrainer{}, reg, []string{"AAPL"})

	l.RunOnce(context.Background())
	prev, err := reg.Get("AAPL")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	src.mu.Lock()
	src.failing["AAPL"] = errors.New("feed outage")
	src.mu.Unlock()

	l.RunOnce(context.Background())
	cur, err := reg.Get("AAPL")
	if err != nil {
		t.Fatalf("Get after failed pass: %v", err)
	}
	if cur != prev {
		t.Error("failed pass replaced the live model set")
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	src := newFakeSource()
	src.bars["AAPL"] = history("AAPL", 100)
	reg := model.NewRegistry(quietLogger())
	l := newLoop(src, &stubTrainer{}, reg, []string{"AAPL"})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Let at least one tick fire.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Run = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}

	if reg.Version("AAPL") < 1 {
		t.Error("no updating pass ran before cancel")
	}
	if got := l.State(); got != StateIdle {
		t.Errorf("State after stop = %q, want %q", got, StateIdle)
	}
}
