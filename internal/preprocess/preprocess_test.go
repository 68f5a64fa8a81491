package preprocess

import (
	"errors"
	"testing"
	"time"

	"tradeflow/internal/domain"
)

func mkBar(ts time.Time, close float64) domain.Bar {
	return domain.Bar{Symbol: "AAPL", Timestamp: ts, Open: close, High: close, Low: close, Close: close}
}

func TestNormalizeSortsAndValidates(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	raw := []domain.Bar{
		mkBar(base.AddDate(0, 0, 2), 187),
		mkBar(base, 185),
		mkBar(base.AddDate(0, 0, 1), 186),
	}

	chunk, err := Normalizer{}.Normalize("AAPL", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if chunk.Len() != 3 {
		t.Fatalf("chunk has %d bars, want 3", chunk.Len())
	}
	if err := chunk.Validate(); err != nil {
		t.Errorf("normalized chunk fails validation: %v", err)
	}
	if chunk.Bars[0].Close != 185 || chunk.Bars[2].Close != 187 {
		t.Errorf("chunk not sorted: closes %v", chunk.Closes())
	}
}

func TestNormalizeDedupesTimestamps(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	raw := []domain.Bar{
		mkBar(base, 185),
		mkBar(base, 185.5), // duplicate timestamp, fresher row wins
		mkBar(base.AddDate(0, 0, 1), 186),
	}

	chunk, err := Normalizer{}.Normalize("AAPL", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if chunk.Len() != 2 {
		t.Fatalf("chunk has %d bars, want 2 after dedupe", chunk.Len())
	}
	if chunk.Bars[0].Close != 185.5 {
		t.Errorf("dedupe kept close %v, want fresher 185.5", chunk.Bars[0].Close)
	}
}

func TestNormalizeDropsMalformedRows(t *testing.T) {
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	raw := []domain.Bar{
		mkBar(base, 185),
		{Symbol: "AAPL", Timestamp: base.AddDate(0, 0, 1), Close: -3},  // negative close
		{Symbol: "AAPL", Close: 186},                                   // zero timestamp
		{Symbol: "MSFT", Timestamp: base.AddDate(0, 0, 2), Close: 420}, // wrong symbol
	}

	chunk, err := Normalizer{}.Normalize("AAPL", raw)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if chunk.Len() != 1 {
		t.Errorf("chunk has %d bars, want 1 after dropping malformed rows", chunk.Len())
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	_, err := Normalizer{}.Normalize("AAPL", nil)
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Normalize(nil) = %v, want ErrEmptyInput", err)
	}

	// All rows malformed also counts as empty.
	_, err = Normalizer{}.Normalize("AAPL", []domain.Bar{{Symbol: "AAPL"}})
	if !errors.Is(err, ErrEmptyInput) {
		t.Errorf("Normalize(malformed) = %v, want ErrEmptyInput", err)
	}
}
