// Package preprocess normalizes raw fetched bars into validated, time-indexed
// per-symbol chunks.
package preprocess

import (
	"errors"
	"fmt"
	"sort"

	"tradeflow/internal/domain"
)

// ErrEmptyInput reports that a fetch produced no usable observations. Callers
// skip the chunk and continue.
var ErrEmptyInput = errors.New("preprocess: empty input")

// Preprocessor turns raw bar sequences into clean chunks. Implementations
// must be pure, with no shared mutable state, so pipeline workers can call them
// concurrently.
type Preprocessor interface {
	Normalize(symbol string, bars []domain.Bar) (domain.Chunk, error)
}

// Compile-time interface check.
var _ Preprocessor = Normalizer{}

// Normalizer is the standard Preprocessor: it sorts by timestamp, drops
// malformed rows and duplicate timestamps (keeping the later row), and
// validates the resulting chunk's ordering invariant.
type Normalizer struct{}

// Normalize cleans bars into a chunk for the symbol. Bars belonging to other
// symbols are dropped. Returns ErrEmptyInput when nothing usable remains.
func (Normalizer) Normalize(symbol string, bars []domain.Bar) (domain.Chunk, error) {
	kept := make([]domain.Bar, 0, len(bars))
	for _, b := range bars {
		if b.Symbol != "" && b.Symbol != symbol {
			continue
		}
		if b.Timestamp.IsZero() {
			continue
		}
		if b.Close <= 0 || b.Open < 0 || b.High < 0 || b.Low < 0 || b.Volume < 0 {
			continue
		}
		b.Symbol = symbol
		kept = append(kept, b)
	}
	if len(kept) == 0 {
		return domain.Chunk{}, fmt.Errorf("%w: symbol %s", ErrEmptyInput, symbol)
	}

	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].Timestamp.Before(kept[j].Timestamp)
	})

	// Deduplicate by timestamp, preferring the later (fresher) row.
	deduped := kept[:0]
	for _, b := range kept {
		if n := len(deduped); n > 0 && deduped[n-1].Timestamp.Equal(b.Timestamp) {
			deduped[n-1] = b
			continue
		}
		deduped = append(deduped, b)
	}

	chunk := domain.Chunk{Symbol: symbol, Bars: deduped}
	if err := chunk.Validate(); err != nil {
		return domain.Chunk{}, fmt.Errorf("preprocess %s: %w", symbol, err)
	}
	return chunk, nil
}
