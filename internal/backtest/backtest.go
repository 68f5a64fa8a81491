// Package backtest replays stored bar history through the model trainer and
// the signal rule, tracking a strategy equity curve against buy-and-hold.
package backtest

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
	"tradeflow/internal/store"
	"tradeflow/internal/trade"
	"tradeflow/internal/train"
)

// tradingDaysPerYear annualizes the Sharpe ratio.
const tradingDaysPerYear = 252

// Result holds the summary metrics of one backtest run.
type Result struct {
	Symbol string
	Start  time.Time
	End    time.Time

	// MarketReturn is the buy-and-hold return over the evaluated range.
	MarketReturn float64
	// StrategyReturn is the signal-following return over the same range.
	StrategyReturn float64
	SharpeRatio    float64
	MaxDrawdown    float64
	Trades         int
	WinRate        float64
	Evaluated      int
}

// Config controls a Backtester.
type Config struct {
	// Window is the rolling fit window in observations.
	Window int
	// Horizon is the forecast horizon passed to the models.
	Horizon int
	// RefitEvery is how many steps a fitted bundle is reused before
	// refitting.
	RefitEvery int
	// Thresholds is the signal rule under test.
	Thresholds trade.Thresholds
}

// Backtester replays historical bars from the store through a trainer and
// the signal rule.
type Backtester struct {
	cfg     Config
	bars    store.BarStore
	trainer train.Trainer
	log     *slog.Logger
}

func New(cfg Config, bars store.BarStore, trainer train.Trainer, log *slog.Logger) *Backtester {
	if cfg.Window <= 0 {
		cfg.Window = 252
	}
	if cfg.Horizon <= 0 {
		cfg.Horizon = 5
	}
	if cfg.RefitEvery <= 0 {
		cfg.RefitEvery = 20
	}
	if cfg.Thresholds == (trade.Thresholds{}) {
		cfg.Thresholds = trade.DefaultThresholds()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Backtester{cfg: cfg, bars: bars, trainer: trainer, log: log.With("component", "backtest")}
}

// Run replays the symbol's bars within [start, end]. The first Window bars
// warm up the models; each later bar is evaluated with a bundle fitted on
// the trailing window, the signal decided on one day is applied to the next
// day's return.
func (bt *Backtester) Run(ctx context.Context, symbol string, start, end time.Time) (*Result, error) {
	bars, err := bt.bars.ReadBars(ctx, symbol, start, end)
	if err != nil {
		return nil, fmt.Errorf("read bars: %w", err)
	}
	if len(bars) <= bt.cfg.Window+1 {
		return nil, fmt.Errorf("backtest %s: %d bars is not enough for window %d", symbol, len(bars), bt.cfg.Window)
	}

	res := &Result{
		Symbol: symbol,
		Start:  bars[bt.cfg.Window].Timestamp,
		End:    bars[len(bars)-1].Timestamp,
	}

	var (
		set      *model.Set
		position bool
		entry    float64
		wins     int
		equity   = 1.0
		peak     = 1.0
		rets     []float64
		sinceFit = 0
	)

	for i := bt.cfg.Window; i < len(bars); i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		// Apply today's market return to yesterday's position.
		dayRet := bars[i].Close/bars[i-1].Close - 1
		stratRet := 0.0
		if position {
			stratRet = dayRet
		}
		equity *= 1 + stratRet
		rets = append(rets, stratRet)
		if equity > peak {
			peak = equity
		}
		if dd := 1 - equity/peak; dd > res.MaxDrawdown {
			res.MaxDrawdown = dd
		}

		window := domain.Chunk{Symbol: symbol, Bars: bars[i-bt.cfg.Window : i+1]}
		if set == nil || sinceFit >= bt.cfg.RefitEvery {
			fresh, err := bt.trainer.Fit(ctx, window)
			if err != nil {
				// Keep the previous bundle; the symbol's run goes on.
				bt.log.Warn("refit failed, reusing previous bundle", "symbol", symbol, "err", err)
			} else {
				set = fresh
				sinceFit = 0
			}
		}
		sinceFit++
		if set == nil {
			continue
		}

		fc, err := set.Forecast(ctx, window, bt.cfg.Horizon)
		if err != nil {
			continue
		}
		sig := trade.DeriveSignal(fc, bars[i].Close, bt.cfg.Thresholds)
		res.Evaluated++

		switch sig.Type {
		case domain.SignalBuy:
			if !position {
				position = true
				entry = bars[i].Close
				res.Trades++
			}
		case domain.SignalSell:
			if position {
				position = false
				if bars[i].Close > entry {
					wins++
				}
			}
		}
	}

	// An open position at the end counts as a win if it is in profit.
	if position && bars[len(bars)-1].Close > entry {
		wins++
	}

	res.StrategyReturn = equity - 1
	res.MarketReturn = bars[len(bars)-1].Close/bars[bt.cfg.Window-1].Close - 1
	if res.Trades > 0 {
		res.WinRate = float64(wins) / float64(res.Trades)
	}
	res.SharpeRatio = sharpe(rets)

	bt.log.Info("backtest complete",
		"symbol", symbol,
		"market_return", res.MarketReturn,
		"strategy_return", res.StrategyReturn,
		"trades", res.Trades,
		"max_drawdown", res.MaxDrawdown,
	)
	return res, nil
}

func sharpe(rets []float64) float64 {
	if len(rets) < 2 {
		return 0
	}
	var sum float64
	for _, r := range rets {
		sum += r
	}
	mu := sum / float64(len(rets))

	var ss float64
	for _, r := range rets {
		d := r - mu
		ss += d * d
	}
	sd := math.Sqrt(ss / float64(len(rets)-1))
	if sd == 0 {
		return 0
	}
	return mu / sd * math.Sqrt(tradingDaysPerYear)
}
