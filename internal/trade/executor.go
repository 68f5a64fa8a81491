package trade

import (
	"context"
	"fmt"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/shopspring/decimal"

	"tradeflow/internal/domain"
)

// Executor turns signals into executed trades. Hold signals are ignored.
// Executors may fail; the trading loop logs and carries on.
type Executor interface {
	Execute(ctx context.Context, signals []domain.Signal) ([]domain.TradeRecord, error)
}

// ---------------------------------------------------------------------------

// Compile-time interface checks.
var (
	_ Executor = (*AlpacaExecutor)(nil)
	_ Executor = (*SimulatedExecutor)(nil)
)

// AlpacaExecutor submits market orders to the Alpaca trading API.
type AlpacaExecutor struct {
	client *alpaca.Client
	qty    int64
}

// NewAlpacaExecutor creates an executor that trades qty shares per signal
// against the given endpoint (paper or live).
func NewAlpacaExecutor(apiKey, apiSecret, baseURL string, qty int64) *AlpacaExecutor {
	client := alpaca.NewClient(alpaca.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
		BaseURL:   baseURL,
	})
	if qty <= 0 {
		qty = 10
	}
	return &AlpacaExecutor{client: client, qty: qty}
}

func (e *AlpacaExecutor) Execute(ctx context.Context, signals []domain.Signal) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for _, sig := range signals {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}

		var side alpaca.Side
		switch sig.Type {
		case domain.SignalBuy:
			side = alpaca.Buy
		case domain.SignalSell:
			side = alpaca.Sell
		default:
			continue
		}

		qty := decimal.NewFromInt(e.qty)
		order, err := e.client.PlaceOrder(alpaca.PlaceOrderRequest{
			Symbol:      sig.Symbol,
			Qty:         &qty,
			Side:        side,
			Type:        alpaca.Market,
			TimeInForce: alpaca.Day,
		})
		if err != nil {
			return records, fmt.Errorf("place %s order for %s: %w", side, sig.Symbol, err)
		}

		fill := sig.Price
		if order.FilledAvgPrice != nil {
			fill, _ = order.FilledAvgPrice.Float64()
		}
		records = append(records, domain.TradeRecord{
			Symbol:     sig.Symbol,
			Side:       sig.Type,
			Qty:        e.qty,
			FillPrice:  fill,
			ExecutedAt: time.Now().UTC(),
		})
	}
	return records, nil
}

// ---------------------------------------------------------------------------

// SimulatedExecutor fills every actionable signal at its reference price.
// It backs paper mode and tests.
type SimulatedExecutor struct {
	Qty int64
}

func NewSimulatedExecutor(qty int64) *SimulatedExecutor {
	if qty <= 0 {
		qty = 10
	}
	return &SimulatedExecutor{Qty: qty}
}

func (e *SimulatedExecutor) Execute(ctx context.Context, signals []domain.Signal) ([]domain.TradeRecord, error) {
	var records []domain.TradeRecord
	for _, sig := range signals {
		if ctx.Err() != nil {
			return records, ctx.Err()
		}
		if sig.Type == domain.SignalHold {
			continue
		}
		records = append(records, domain.TradeRecord{
			Symbol:     sig.Symbol,
			Side:       sig.Type,
			Qty:        e.Qty,
			FillPrice:  sig.Price,
			ExecutedAt: time.Now().UTC(),
			Paper:      true,
		})
	}
	return records, nil
}
