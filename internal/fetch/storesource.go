package fetch

import (
	"context"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/store"
)

// Compile-time interface check.
var _ DataSource = (*StoreSource)(nil)

// StoreSource implements DataSource on top of the local bar store. The
// loading pipeline reads from it so training passes never hammer the upstream
// API; the gather job keeps the store current.
type StoreSource struct {
	bars store.BarStore
}

// NewStoreSource creates a StoreSource reading from the given bar store.
func NewStoreSource(bars store.BarStore) *StoreSource {
	return &StoreSource{bars: bars}
}

// Fetch returns the symbol's stored bars within [start, end].
func (s *StoreSource) Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error) {
	return s.bars.ReadBars(ctx, symbol, start, end)
}

// FetchLatest returns the symbol's most recent n stored bars.
func (s *StoreSource) FetchLatest(ctx context.Context, symbol string, n int) ([]domain.Bar, error) {
	return s.bars.ReadLatestBars(ctx, symbol, n)
}
