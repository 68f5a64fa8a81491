// Package learn runs the continuous learning loop: on a fixed interval it
// re-fetches each symbol's most recent window, fits a fresh model bundle off
// to the side, and swaps it into the registry.
package learn

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
	"tradeflow/internal/train"
)

// Loop states. The loop sleeps in StateIdle and sweeps the symbol set in
// StateUpdating.
const (
	StateIdle     = "idle"
	StateUpdating = "updating"
)

// Config controls a learning Loop.
type Config struct {
	// Interval separates one updating pass from the next.
	Interval time.Duration
	// WindowSize is how many recent observations feed each refit.
	WindowSize int
	// SymbolTimeout bounds the work spent on a single symbol per pass.
	SymbolTimeout time.Duration
}

// Loop periodically refits every symbol's model bundle.
type Loop struct {
	cfg      Config
	src      fetch.DataSource
	policy   fetch.Policy
	pre      preprocess.Preprocessor
	trainer  train.Trainer
	registry *model.Registry
	symbols  []string
	log      *slog.Logger

	updating atomic.Bool
}

func New(cfg Config, src fetch.DataSource, policy fetch.Policy, pre preprocess.Preprocessor, trainer train.Trainer, registry *model.Registry, symbols []string, log *slog.Logger) *Loop {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Hour
	}
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = 252
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
		trainer:  trainer,
		registry: registry,
		symbols:  symbols,
		log:      log.With("component", "learn"),
	}
}

// State reports the loop's current state.
func (l *Loop) State() string {
	if l.updating.Load() {
		return StateUpdating
	}
	return StateIdle
}

// Run alternates idle sleeps with updating passes until the context is
// cancelled. It always returns the context's error.
func (l *Loop) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.Interval)
	defer ticker.Stop()

	l.log.Info("learning loop started", "interval", l.cfg.Interval, "window", l.cfg.WindowSize)
	for {
		select {
		case <-ctx.Done():
			l.log.Info("learning loop stopped")
			return ctx.Err()
		case <-ticker.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single updating pass over every symbol. A failure for
// one symbol is logged and does not keep the rest of the pass from running.
func (l *Loop) RunOnce(ctx context.Context) {
	l.updating.Store(true)
	defer l.updating.Store(false)

	start := time.Now()
	updated := 0
	for _, sym := range l.symbols {
		if ctx.Err() != nil {
			return
		}

		symCtx, cancel := context.WithTimeout(ctx, l.cfg.SymbolTimeout)
		err := l.updateSymbol(symCtx, sym)
		cancel()
		if err != nil {
			l.log.Error("model update failed, keeping previous set", "symbol", sym, "err", err)
			continue
		}
		updated++
	}
	l.log.Info("updating pass complete",
		"updated", updated,
		"symbols", len(l.symbols),
		"elapsed", time.Since(start),
	)
}

// updateSymbol builds the symbol's replacement bundle entirely off to the
// side, then swaps it in. Readers keep the previous bundle until the swap.
func (l *Loop) updateSymbol(ctx context.Context, sym string) error {
	var bars []domain.Bar
	err := l.policy.Do(ctx, "refresh "+sym, func() error {
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

	set, err := l.trainer.Fit(ctx, window)
	if err != nil {
		return fmt.Errorf("fit: %w", err)
	}

	version := l.registry.Swap(sym, set)
	l.log.Debug("model set refreshed", "symbol", sym, "version", version)
	return nil
}
