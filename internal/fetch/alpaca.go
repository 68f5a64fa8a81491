package fetch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/alpaca"
	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"tradeflow/internal/domain"
	"tradeflow/internal/util"
)

// Compile-time interface check.
var _ DataSource = (*AlpacaSource)(nil)

// AlpacaSource implements DataSource on top of the Alpaca market-data API,
// delivering daily OHLCV bars. Calls are paced by a token-bucket limiter so
// many pipeline workers cannot trip the API's rate limit at once.
type AlpacaSource struct {
	client  *marketdata.Client
	limiter *util.RateLimiter
	feed    marketdata.Feed
}

// NewAlpacaSource creates an AlpacaSource configured with the given
// credentials and per-minute rate limit.
func NewAlpacaSource(apiKey, apiSecret, dataURL string, rateLimitPerMin int) *AlpacaSource {
	opts := marketdata.ClientOpts{
		APIKey:    apiKey,
		APISecret: apiSecret,
	}
	if dataURL != "" {
		opts.BaseURL = dataURL
	}
	return &AlpacaSource{
		client:  marketdata.NewClient(opts),
		limiter: util.NewRateLimiterBurst(rateLimitPerMin, 4),
		feed:    marketdata.SIP,
	}
}

// Fetch returns daily bars for the symbol within [start, end]. The SDK pages
// through large ranges internally.
func (s *AlpacaSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	if err := s.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	raw, err := s.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneDay,
		Start:     start,
		End:       end,
		Feed:      s.feed,
	})
	if err != nil {
		return nil, classifyAlpacaErr(fmt.Errorf("GetBars %s: %w", symbol, err))
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		bars = append(bars, domain.Bar{
			Symbol:     strings.ToUpper(symbol),
			Timestamp:  ab.Timestamp,
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	return bars, nil
}

// FetchLatest returns the most recent n daily bars. The look-back range is
// padded for weekends and holidays, then trimmed to n.
func (s *AlpacaSource) FetchLatest(ctx context.Context, symbol string, n int) ([]domain.Bar, error) {
	end := time.Now().UTC()
	start := end.AddDate(0, 0, -(n*2 + 10))

	bars, err := s.Fetch(ctx, symbol, start, end)
	if err != nil {
		return nil, err
	}
	if len(bars) > n {
		bars = bars[len(bars)-n:]
	}
	return bars, nil
}

// classifyAlpacaErr marks rate-limit and server-side API failures as
// transient so the retry policy will back off and try again.
func classifyAlpacaErr(err error) error {
	if err == nil {
		return nil
	}

	var apiErr *alpaca.APIError
	if errors.As(err, &apiErr) {
		if apiErr.StatusCode == 429 || apiErr.StatusCode >= 500 {
			return Transient(err)
		}
		return err
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "too many requests") || strings.Contains(msg, "status 429") {
		return Transient(err)
	}
	return err
}
