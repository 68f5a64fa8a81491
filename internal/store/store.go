// Package store defines storage interfaces for persisting and retrieving
// domain objects: historical bars, emitted signals, and executed trades.
package store

import (
	"context"
	"time"

	"tradeflow/internal/domain"
)

// BarStore persists and retrieves OHLCV bar data. It is the backing store the
// loading pipeline ingests from.
type BarStore interface {
	// WriteBars persists a batch of bars to storage.
	WriteBars(ctx context.Context, bars []domain.Bar) error

	// ReadBars returns bars for the given symbol within [start, end], ordered
	// by timestamp.
	ReadBars(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// ReadLatestBars returns the most recent n bars for the symbol, ordered by
	// timestamp.
	ReadLatestBars(ctx context.Context, symbol string, n int) ([]domain.Bar, error)

	// ListSymbols returns all distinct symbols available in storage.
	ListSymbols(ctx context.Context) ([]string, error)
}

// SignalStore persists trading signals emitted by the trading loop.
type SignalStore interface {
	// SaveSignal inserts a new signal.
	SaveSignal(ctx context.Context, sig *domain.Signal) error

	// ListSignals returns the most recent signals for a symbol, newest first,
	// up to limit. An empty symbol matches all symbols.
	ListSignals(ctx context.Context, symbol string, limit int) ([]domain.Signal, error)
}

// TradeLogStore persists executed trade records.
type TradeLogStore interface {
	// SaveTrades inserts a batch of executed trade records.
	SaveTrades(ctx context.Context, trades []domain.TradeRecord) error

	// ListTrades returns the most recent trade records for a symbol, newest
	// first, up to limit. An empty symbol matches all symbols.
	ListTrades(ctx context.Context, symbol string, limit int) ([]domain.TradeRecord, error)
}
