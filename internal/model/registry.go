package model

import (
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// ErrNoModel is returned by Get for a symbol with no published Set.
var ErrNoModel = errors.New("model: no trained set for symbol")

// Registry maps symbols to their live model Sets. Readers always see one
// complete bundle per symbol: Swap replaces the whole Set pointer under the
// lock, never individual components, so a reader can never observe a mix of
// old and new models. The lock is held only for the map access; fitting
// happens entirely off to the side.
type Registry struct {
	mu   sync.RWMutex
	sets map[string]*Set
	log  *slog.Logger
}

func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	return &Registry{
		sets: make(map[string]*Set),
		log:  log.With("component", "registry"),
	}
}

// Get returns the symbol's live Set. The returned bundle is immutable and
// stays valid after later swaps; in-flight consumers finish on the version
// they grabbed.
func (r *Registry) Get(symbol string) (*Set, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set, ok := r.sets[symbol]
	if !ok {
		return nil, ErrNoModel
	}
	return set, nil
}

// Swap installs set as the symbol's live bundle and stamps it with the next
// version for that symbol. The set must be fully built and must not be
// mutated after this call.
func (r *Registry) Swap(symbol string, set *Set) int64 {
	if set.TrainedAt.IsZero() {
		set.TrainedAt = time.Now().UTC()
	}

	r.mu.Lock()
	if prev, ok := r.sets[symbol]; ok {
		set.Version = prev.Version + 1
	} else {
		set.Version = 1
	}
	r.sets[symbol] = set
	r.mu.Unlock()

	r.log.Info("swapped model set", "symbol", symbol, "version", set.Version)
	return set.Version
}

// Version returns the symbol's live version, zero when none is published.
func (r *Registry) Version(symbol string) int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if set, ok := r.sets[symbol]; ok {
		return set.Version
	}
	return 0
}

// Symbols returns the symbols with a published Set, sorted.
func (r *Registry) Symbols() []string {
	r.mu.RLock()
	out := make([]string, 0, len(r.sets))
	for sym := range r.sets {
		out = append(out, sym)
	}
	r.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of symbols with a published Set.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sets)
}
