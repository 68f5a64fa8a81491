package trade

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/fetch"
	"tradeflow/internal/model"
	"tradeflow/internal/preprocess"
	"tradeflow/internal/store"
	"tradeflow/internal/util"
)

// Loop states, mirroring the learning loop's shape.
const (
	StateIdle     = "idle"
	StateUpdating = "updating"
)

// Config controls a trading Loop.
type Config struct {
	// Interval separates evaluation passes.
	Interval time.Duration
	// WindowSize is how many recent observations feed each forecast.
	WindowSize int
	// Horizon is the forecast horizon in observations.
	Horizon int
	// Thresholds is the probability rule mapping forecasts to signals.
	Thresholds Thresholds
	// SymbolTimeout bounds the work spent on a single symbol per pass.
	SymbolTimeout time.Duration
}

// Loop periodically forecasts every symbol, derives signals, and forwards
// actionable ones to the executor. Signals and fills are persisted so a pass
// leaves an audit trail.
type Loop struct {
	cfg      Config
	src      fetch.DataSource
	policy   fetch.Policy
	pre      preprocess.Preprocessor
	registry *model.Registry
	exec     Executor
	signals  store.SignalStore
	trades   store.TradeLogStore
	calendar *util.TradingCalendar
	symbols  []string
	log      *slog.Logger

	updating atomic.Bool
}

// New creates a trading Loop. The signal and trade stores may be nil to skip
// persistence; a nil calendar trades around the clock.
func New(cfg Config, src fetch.DataSource, policy fetch.Policy, pre preprocess.Preprocessor, registry *model.Registry, exec Executor, signals store.SignalStore, trades store.TradeLogStore, calendar *util.TradingCalendar, symbols []string, log *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Minute
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 252
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 5
	}
	if cfg.Thresholds == (Thresholds{}) {
		cfg.Thresholds = DefaultThresholds()
	}
	if cfg.SymbolTimeout <= 0 {
		cfg.SymbolTimeout = time.Minute
	}
	if log == nil {
		log = slog.Default()
	}
	return &Loop{
		cfg:      cfg,
		src:      src,
		policy:   policy,
		pre:      pre,
		registry: registry,
		exec:     exec,
		signals:  signals,
		trades:   trades,
		calendar: calendar,
		symbols:  symbols,
		log:      log.With("component", "trade"),
	}
}

// State reports the loop's current state.
func (l *Loop) State() string {
	if l.updating.Load() {
		return StateUpdating
	}
	return StateIdle
}

// Run alternates idle sleeps with evaluation passes until the context is
// cancelled. It always returns the context's error.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.Info("trading loop started",
		"interval", l.cfg.Interval,
		"buy_threshold", l.cfg.Thresholds.Buy,
		"sell_threshold", l.cfg.Thresholds.Sell,
	)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("trading loop stopped")
			return ctx.Err()
		case <-ticker.C:
			if l.calendar != nil && !l.calendar.IsMarketOpen(time.Now()) {
				continue
			}
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs one evaluation pass. A failure for one symbol (no model,
// fetch error, executor error) is logged and skips that symbol for this
// cycle only.
func (l *Loop) RunOnce(ctx context.Context) {
	l.updating.Store(true)
	defer l.updating.Store(false)

	for _, sym := range l.symbols {
		if ctx.Err() != nil {
			return
		}

		symCtx, cancel := context.WithTimeout(ctx, l.cfg.SymbolTimeout)
		err := l.evaluateSymbol(symCtx, sym)
		cancel()
		if err != nil {
			l.log.Error("skipping symbol for this cycle", "symbol", sym, "err", err)
		}
	}
}

// evaluateSymbol runs the forecast-signal-execute chain for one symbol.
func (l *Loop) evaluateSymbol(ctx context.Context, sym string) error {
	set, err := l.registry.Get(sym)
	if err != nil {
		return err
	}

	var bars []domain.Bar
	err = l.policy.Do(ctx, "window "+sym, func() error {
		var ferr error
		bars, ferr = l.src.FetchLatest(ctx, sym, l.cfg.WindowSize)
		return ferr
	})
	if err != nil {
		return fmt.Errorf("fetch window: %w", err)
	}

	window, err := l.pre.Normalize(sym, bars)
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}
	last, ok := window.LastClose()
	if !ok {
		return fmt.Errorf("empty window for %s", sym)
	}

	fc, err := set.Forecast(ctx, window, l.cfg.Horizon)
	if err != nil {
		return fmt.Errorf("forecast: %w", err)
	}

	sig := DeriveSignal(fc, last, l.cfg.Thresholds)
	l.log.Info("signal derived",
		"symbol", sym,
		"signal", sig.Type,
		"probability", sig.Probability,
		"last_close", last,
		"forecast_price", fc.Price,
		"model_version", set.Version,
	)
	if l.signals != nil {
		if err := l.signals.SaveSignal(ctx, &sig); err != nil {
			l.log.Error("failed to persist signal", "symbol", sym, "err", err)
		}
	}

	if sig.Type == domain.SignalHold {
		return nil
	}

	records, err := l.exec.Execute(ctx, []domain.Signal{sig})
	if err != nil {
		return fmt.Errorf("execute: %w", err)
	}
	if l.trades != nil && len(records) > 0 {
		if err := l.trades.SaveTrades(ctx, records); err != nil {
			l.log.Error("failed to persist trades", "symbol", sym, "err", err)
		}
	}
	for _, rec := range records {
		l.log.Info("trade executed",
			"symbol", rec.Symbol,
			"side", rec.Side,
			"qty", rec.Qty,
			"fill_price", rec.FillPrice,
			"paper", rec.Paper,
		)
	}
	return nil
}
