// Package domain defines the core data types shared across the tradeflow
// system: bars, per-symbol chunks, forecasts, trade signals, and trade records.
package domain

import (
	"fmt"
	"time"
)

// Bar is a single OHLCV observation for one symbol.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Chunk is an ordered, time-indexed table of bars for one symbol over a
// contiguous range. A valid chunk has strictly increasing timestamps with no
// duplicates.
type Chunk struct {
	Symbol string
	Bars   []Bar
}

// Len returns the number of observations in the chunk.
func (c Chunk) Len() int { return len(c.Bars) }

// Empty reports whether the chunk holds no observations.
func (c Chunk) Empty() bool { return len(c.Bars) == 0 }

// Validate checks the chunk ordering invariant: timestamps must be strictly
// increasing, which also rules out duplicates.
func (c Chunk) Validate() error {
	for i := 1; i < len(c.Bars); i++ {
		prev, cur := c.Bars[i-1].Timestamp, c.Bars[i].Timestamp
		if !cur.After(prev) {
			return fmt.Errorf("chunk %s: timestamp %s at index %d not after %s",
				c.Symbol, cur.Format(time.RFC3339), i, prev.Format(time.RFC3339))
		}
	}
	return nil
}

// Tail returns a chunk holding the most recent n observations. If the chunk
// has fewer than n bars the whole chunk is returned.
func (c Chunk) Tail(n int) Chunk {
	if n <= 0 || len(c.Bars) <= n {
		return c
	}
	return Chunk{Symbol: c.Symbol, Bars: c.Bars[len(c.Bars)-n:]}
}

// Closes returns the close price series of the chunk.
func (c Chunk) Closes() []float64 {
	out := make([]float64, len(c.Bars))
	for i, b := range c.Bars {
		out[i] = b.Close
	}
	return out
}

// LastClose returns the most recent close price. The second return is false
// for an empty chunk.
func (c Chunk) LastClose() (float64, bool) {
	if len(c.Bars) == 0 {
		return 0, false
	}
	return c.Bars[len(c.Bars)-1].Close, true
}

// Item is one unit of work flowing through the loading pipeline: a symbol and
// its preprocessed chunk. Ownership transfers to whichever consumer dequeues it.
type Item struct {
	Symbol string
	Chunk  Chunk
}

// Forecast is the blended output of a symbol's model set for one evaluation
// cycle.
type Forecast struct {
	Symbol string
	// Price is the blended point forecast over the prediction horizon.
	Price float64
	// Probability is the classifier's probability of an up-move in [0, 1].
	Probability float64
	Horizon     int
	CreatedAt   time.Time
}

// SignalType is a discrete trading decision.
type SignalType string

const (
	SignalBuy  SignalType = "buy"
	SignalSell SignalType = "sell"
	SignalHold SignalType = "hold"
)

// Signal is a per-symbol trading decision derived from a forecast.
type Signal struct {
	Symbol      string
	Type        SignalType
	Probability float64
	Price       float64 // last observed close at decision time
	CreatedAt   time.Time
}

// TradeRecord describes one executed (or simulated) trade.
type TradeRecord struct {
	Symbol     string
	Side       SignalType
	Qty        int64
	FillPrice  float64
	ExecutedAt time.Time
	Paper      bool
}
