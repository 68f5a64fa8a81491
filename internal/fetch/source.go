package fetch

import (
	"context"
	"time"

	"tradeflow/internal/domain"
)

// DataSource produces raw per-symbol bar sequences. Implementations may fail
// transiently; callers wrap every call in a Policy.
type DataSource interface {
	// Fetch returns the symbol's bars within [start, end], ordered by
	// timestamp. Large ranges may be delivered by the implementation in pages
	// internally; the returned slice is always complete.
	Fetch(ctx context.Context, symbol string, start, end time.Time) ([]domain.Bar, error)

	// FetchLatest returns the symbol's most recent n bars, ordered by
	// timestamp.
	FetchLatest(ctx context.Context, symbol string, n int) ([]domain.Bar, error)
}
