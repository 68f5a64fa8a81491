// Package train populates the model registry by consuming the data pipeline:
// one fit per dequeued (symbol, chunk) item, swapped into the registry as a
// complete bundle.
package train

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"tradeflow/internal/domain"
	"tradeflow/internal/model"
	"tradeflow/internal/model/builtins"
	"tradeflow/internal/pipeline"
)

// ItemSource is the pull side of the data pipeline. *pipeline.Loader
// satisfies it.
type ItemSource interface {
	Next(ctx context.Context) (domain.Item, error)
}

// Trainer fits a complete model Set on one symbol's window. Implementations
// build the new bundle entirely off to the side; the orchestrator swaps it in.
type Trainer interface {
	Fit(ctx context.Context, chunk domain.Chunk) (*model.Set, error)
}

// ---------------------------------------------------------------------------

// Compile-time interface check.
var _ Trainer = (*BuiltinTrainer)(nil)

// BuiltinTrainer fits the built-in model families: the momentum ensemble,
// the EWMA sequence model, AR(1) and volatility-drift statistical models,
// and the logistic direction classifier.
type BuiltinTrainer struct {
	ShortWindow int
	LongWindow  int
	Alpha       float64
	Lambda      float64
}

// NewBuiltinTrainer creates a trainer with the default model parameters.
func NewBuiltinTrainer() *BuiltinTrainer {
	return &BuiltinTrainer{
		ShortWindow: 20,
		LongWindow:  60,
		Alpha:       0.1,
		Lambda:      0.94,
	}
}

func (t *BuiltinTrainer) Fit(ctx context.Context, chunk domain.Chunk) (*model.Set, error) {
	set := &model.Set{
		Ensemble:   builtins.NewMomentum(t.ShortWindow, t.LongWindow),
		Sequence:   builtins.NewEWMA(t.Alpha),
		Stat:       []model.Predictor{builtins.NewAR1(), builtins.NewVolDrift(t.Lambda)},
		Classifier: builtins.NewDirectionClassifier(t.ShortWindow),
	}

	for _, p := range set.Predictors() {
		if err := p.Fit(ctx, chunk); err != nil {
			return nil, fmt.Errorf("fit %s for %s: %w", p.Name(), chunk.Symbol, err)
		}
	}
	if err := set.Classifier.Fit(ctx, chunk); err != nil {
		return nil, fmt.Errorf("fit %s for %s: %w", set.Classifier.Name(), chunk.Symbol, err)
	}
	return set, nil
}

// ---------------------------------------------------------------------------

// Orchestrator drains an ItemSource and publishes one trained Set per symbol.
type Orchestrator struct {
	registry *model.Registry
	trainer  Trainer
	log      *slog.Logger
}

func NewOrchestrator(registry *model.Registry, trainer Trainer, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	return &Orchestrator{
		registry: registry,
		trainer:  trainer,
		log:      log.With("component", "train"),
	}
}

// Train consumes items until the source is exhausted, the context is
// cancelled, or every symbol in want has a published Set (the coverage
// condition; an empty want means drain to exhaustion). A fit failure for one
// symbol is logged and that symbol omitted; it does not abort the run.
// Later chunks for an already trained symbol refresh its entry.
func (o *Orchestrator) Train(ctx context.Context, src ItemSource, want []string) error {
	covered := make(map[string]bool, len(want))

	for {
		if len(want) > 0 && coverageMet(covered, want) {
			o.log.Info("training coverage met", "symbols", len(covered))
			return nil
		}

		item, err := src.Next(ctx)
		if errors.Is(err, pipeline.ErrDone) {
			o.log.Info("training source drained", "symbols", len(covered))
			return nil
		}
		if err != nil {
			return err
		}

		set, err := o.trainer.Fit(ctx, item.Chunk)
		if err != nil {
			o.log.Error("training failed, omitting symbol", "symbol", item.Symbol, "err", err)
			continue
		}
		o.registry.Swap(item.Symbol, set)
		covered[item.Symbol] = true
	}
}

func coverageMet(covered map[string]bool, want []string) bool {
	for _, sym := range want {
		if !covered[sym] {
			return false
		}
	}
	return true
}
