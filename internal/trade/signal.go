// Package trade turns model forecasts into discrete trade signals and runs
// the real-time trading loop that forwards them to an executor.
package trade

import (
	"time"

	"tradeflow/internal/domain"
)

// Thresholds holds the probability cutoffs of the signal rule.
type Thresholds struct {
	// Buy is the probability above which a buy fires.
	Buy float64
	// Sell is the probability below which a sell fires.
	Sell float64
}

// DefaultThresholds returns the standard 0.6/0.4 rule.
func DefaultThresholds() Thresholds { return Thresholds{Buy: 0.6, Sell: 0.4} }

// DeriveSignal maps a blended forecast to a discrete signal: buy when the
// direction probability exceeds the buy cutoff, sell when it is below the
// sell cutoff, hold otherwise (boundaries included). The reference price is
// the window's last close, which is what the executor fills against.
func DeriveSignal(fc domain.Forecast, lastClose float64, th Thresholds) domain.Signal {
	typ := domain.SignalHold
	switch {
	case fc.Probability > th.Buy:
		typ = domain.SignalBuy
	case fc.Probability < th.Sell:
		typ = domain.SignalSell
	}
	return domain.Signal{
		Symbol:      fc.Symbol,
		Type:        typ,
		Probability: fc.Probability,
		Price:       lastClose,
		CreatedAt:   time.Now().UTC(),
	}
}
