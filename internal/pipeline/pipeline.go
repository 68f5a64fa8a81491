// Package pipeline implements the concurrent data-loading pipeline: a fixed
// pool of workers fetches per-symbol bar history through the retry policy,
// normalizes it, and pushes (symbol, chunk) items into one bounded queue that
// consumers drain through a cancelable pull-based iterator.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"tradeflow/internal/domain"
	"tradeflow/internal/fetch"
	"tradeflow/internal/preprocess"
)

// ErrDone signals end-of-sequence: the pipeline has been stopped and its
// queue drained. A Loader cannot be restarted; construct a new one.
var ErrDone = errors.New("pipeline: stopped and drained")

// queueFullBackoff is how long a worker pauses after an enqueue wait times
// out before retrying the enqueue.
const queueFullBackoff = 100 * time.Millisecond

// Config controls a Loader.
type Config struct {
	// NumWorkers is the size of the worker pool.
	NumWorkers int
	// MaxQueueSize bounds the shared queue; producers block (with a bounded
	// wait) once the queue holds this many items.
	MaxQueueSize int
	// ChunkSize is the number of observations per emitted chunk.
	ChunkSize int
	// PollTimeout bounds each wait inside Next before cancellation is
	// re-checked.
	PollTimeout time.Duration
	// EnqueueTimeout bounds each enqueue wait before a worker backs off and
	// retries.
	EnqueueTimeout time.Duration
	// Passes is how many times the worker pool sweeps the symbol set.
	// Zero means sweep indefinitely until Stop.
	Passes int
	// Start and End bound the fetched history. A zero End means now.
	Start, End time.Time
}

// Loader is the concurrent data-loading pipeline.
//
// Start must be called at most once per Loader; calling it a second time is a
// precondition violation with undefined behavior. Stop may be called any
// number of times; only the first has effect.
type Loader struct {
	cfg     Config
	src     fetch.DataSource
	policy  fetch.Policy
	pre     preprocess.Preprocessor
	symbols []string
	log     *slog.Logger

	queue chan domain.Item
	work  chan string
	stop  chan struct{} // one-shot cancellation token, closed by Stop
	once  sync.Once
	wg    sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc

	active atomic.Int32 // live worker count, for the join guarantee
}

// New creates a Loader. Infrastructure problems (no workers, unbounded
// queue, no symbols) are fatal and surface here, not per symbol.
func New(cfg Config, src fetch.DataSource, policy fetch.Policy, pre preprocess.Preprocessor, symbols []string, log *slog.Logger) (*Loader, error) {
	if cfg.NumWorkers <= 0 {
		return nil, fmt.Errorf("pipeline: NumWorkers must be positive, got %d", cfg.NumWorkers)
	}
	if cfg.MaxQueueSize <= 0 {
		return nil, fmt.Errorf("pipeline: MaxQueueSize must be positive, got %d", cfg.MaxQueueSize)
	}
	if len(symbols) == 0 {
		return nil, fmt.Errorf("pipeline: symbol set is empty")
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 1024
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = time.Second
	}
	if cfg.EnqueueTimeout <= 0 {
		cfg.EnqueueTimeout = time.Second
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Loader{
		cfg:     cfg,
		src:     src,
		policy:  policy,
		pre:     pre,
		symbols: symbols,
		log:     log.With("component", "pipeline"),
		queue:   make(chan domain.Item, cfg.MaxQueueSize),
		work:    make(chan string),
		stop:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// Start launches the worker pool and the pass feeder.
func (l *Loader) Start() {
	l.wg.Add(1)
	go l.feed()

	for i := 0; i < l.cfg.NumWorkers; i++ {
		l.wg.Add(1)
		l.active.Add(1)
		go l.worker(i)
	}

	// With a finite pass count the pool exits on its own once the sweep is
	// done; set the token then so Next can report ErrDone without an
	// explicit Stop.
	go func() {
		l.wg.Wait()
		l.shutdown()
	}()

	l.log.Info("pipeline started",
		"workers", l.cfg.NumWorkers,
		"queue_size", l.cfg.MaxQueueSize,
		"symbols", len(l.symbols),
	)
}

func (l *Loader) shutdown() {
	l.once.Do(func() {
		close(l.stop)
		l.cancel()
	})
}

// Stop sets the cancellation token and waits for every worker to exit. After
// Stop returns no goroutine is still writing to the queue; whatever the queue
// already holds can still be drained through Next.
func (l *Loader) Stop() {
	l.shutdown()
	l.wg.Wait()
	l.log.Info("pipeline stopped")
}

// Next blocks until an item is available, the context is cancelled, or the
// pipeline is both stopped and drained (ErrDone). Each queued item is
// delivered to exactly one caller even when several consumers poll
// concurrently.
func (l *Loader) Next(ctx context.Context) (domain.Item, error) {
	for {
		select {
		case item := <-l.queue:
			return item, nil
		case <-ctx.Done():
			return domain.Item{}, ctx.Err()
		case <-time.After(l.cfg.PollTimeout):
		}

		// Timed out. Terminal only once the token is set and the queue is
		// empty; otherwise wait again.
		select {
		case <-l.stop:
			select {
			case item := <-l.queue:
				return item, nil
			default:
				return domain.Item{}, ErrDone
			}
		default:
		}
	}
}

// QueueDepth returns the number of items currently buffered.
func (l *Loader) QueueDepth() int { return len(l.queue) }

// feed hands symbols to the worker pool, one full sweep per pass.
func (l *Loader) feed() {
	defer l.wg.Done()
	defer close(l.work)

	for pass := 1; l.cfg.Passes == 0 || pass <= l.cfg.Passes; pass++ {
		for _, sym := range l.symbols {
			select {
			case <-l.stop:
				return
			case l.work <- sym:
			}
		}
	}
}

func (l *Loader) worker(id int) {
	defer l.wg.Done()
	defer l.active.Add(-1)

	log := l.log.With("worker", id)
	for {
		select {
		case <-l.stop:
			return
		case sym, ok := <-l.work:
			if !ok {
				return
			}
			if !l.process(log, sym) {
				return
			}
		}
	}
}

// process fetches, chunks, normalizes, and enqueues one symbol's history.
// It returns false when the worker should exit because the token is set.
// A failure here is scoped to the symbol: logged and skipped for this pass.
func (l *Loader) process(log *slog.Logger, sym string) bool {
	end := l.cfg.End
	if end.IsZero() {
		end = time.Now().UTC()
	}

	var bars []domain.Bar
	err := l.policy.Do(l.ctx, "fetch "+sym, func() error {
		var ferr error
		bars, ferr = l.src.Fetch(l.ctx, sym, l.cfg.Start, end)
		return ferr
	})
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return false
		}
		log.Error("fetch failed, skipping symbol for this pass", "symbol", sym, "err", err)
		return true
	}

	for off := 0; off < len(bars); off += l.cfg.ChunkSize {
		hi := off + l.cfg.ChunkSize
		if hi > len(bars) {
			hi = len(bars)
		}

		chunk, err := l.pre.Normalize(sym, bars[off:hi])
		if err != nil {
			log.Warn("dropping unusable chunk", "symbol", sym, "err", err)
			continue
		}
		if !l.enqueue(domain.Item{Symbol: sym, Chunk: chunk}) {
			return false
		}
	}
	return true
}

// enqueue pushes an item with a bounded wait. When the queue stays full it
// backs off briefly and retries rather than blocking forever or dropping the
// item; it gives up only when the token is set. Returns false on cancellation.
func (l *Loader) enqueue(item domain.Item) bool {
	for {
		select {
		case <-l.stop:
			return false
		default:
		}

		select {
		case <-l.stop:
			return false
		case l.queue <- item:
			return true
		case <-time.After(l.cfg.EnqueueTimeout):
		}

		// Queue full: flow control, not an error.
		select {
		case <-l.stop:
			return false
		case <-time.After(queueFullBackoff):
		}
	}
}
