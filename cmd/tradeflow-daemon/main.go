package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tradeflow/internal/config"
	"tradeflow/internal/domain"
	"tradeflow/internal/fetch"
	"tradeflow/internal/learn"
	"tradeflow/internal/model"
	"tradeflow/internal/pipeline"
	"tradeflow/internal/preprocess"
	"tradeflow/internal/schedule"
	"tradeflow/internal/store"
	"tradeflow/internal/trade"
	"tradeflow/internal/train"
	"tradeflow/internal/util"
)

func main() {
	trainOnly := flag.Bool("train-only", false, "train models from stored history and exit")
	offline := flag.Bool("offline", false, "read bars from the local store instead of Alpaca")
	flag.Parse()

	cfgPath := "config/tradeflow.yaml"
	if p := os.Getenv("TRADEFLOW_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, cfg.Logging.Format)
	util.SetDefault(logger)

	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	var sstore *store.SQLiteStore
	if cfg.Storage.SQLitePath != "" {
		sstore, err = store.NewSQLiteStore(cfg.Storage.SQLitePath)
		if err != nil {
			log.Fatalf("failed to open sqlite store: %v", err)
		}
		defer sstore.Close()
	}

	var src fetch.DataSource
	if *offline || cfg.Alpaca.APIKey == "" {
		logger.Info("using local bar store as data source")
		src = fetch.NewStoreSource(pstore)
	} else {
		src = fetch.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin)
	}

	policy := fetch.NewPolicy(cfg.Fetch.MaxAttempts, cfg.Fetch.RetryBaseDelay, cfg.Fetch.RetryMaxDelay, logger)
	pre := preprocess.Normalizer{}
	registry := model.NewRegistry(logger)
	trainer := train.NewBuiltinTrainer()

	calendar, err := util.NewTradingCalendar()
	if err != nil {
		log.Fatalf("failed to load trading calendar: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// Initial training: one pass of the pipeline over the whole universe.
	if err := trainModels(ctx, cfg, src, policy, pre, registry, trainer, logger); err != nil {
		log.Fatalf("initial training failed: %v", err)
	}
	logger.Info("initial training complete", "symbols", registry.Len())
	if *trainOnly {
		return
	}

	learnLoop := learn.New(
		learn.Config{
			Interval:      cfg.Learning.Interval,
			WindowSize:    cfg.Learning.WindowSize,
			SymbolTimeout: cfg.Learning.SymbolTimeout,
		},
		src, policy, pre, trainer, registry, cfg.Symbols, logger,
	)

	var exec trade.Executor
	if cfg.Trading.PaperMode || cfg.Alpaca.APIKey == "" {
		logger.Info("paper mode, simulating fills")
		exec = trade.NewSimulatedExecutor(cfg.Trading.OrderQty)
	} else {
		exec = trade.NewAlpacaExecutor(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.BaseURL, cfg.Trading.OrderQty)
	}

	var signalStore store.SignalStore
	var tradeStore store.TradeLogStore
	if sstore != nil {
		signalStore = sstore
		tradeStore = sstore
	}

	tradeLoop := trade.New(
		trade.Config{
			Interval:   cfg.Trading.Interval,
			WindowSize: cfg.Trading.WindowSize,
			Horizon:    cfg.Trading.PredictionHorizon,
			Thresholds: trade.Thresholds{Buy: cfg.Trading.BuyThreshold, Sell: cfg.Trading.SellThreshold},
		},
		src, policy, pre, registry, exec, signalStore, tradeStore, calendar, cfg.Symbols, logger,
	)

	sched := schedule.New(
		schedule.Config{},
		calendar,
		gatherJob(cfg, src, policy, pstore, logger),
		func(ctx context.Context) error {
			learnLoop.RunOnce(ctx)
			return nil
		},
		logger,
	)
	if err := sched.Start(); err != nil {
		log.Fatalf("failed to start scheduler: %v", err)
	}
	defer sched.Stop()

	errc := make(chan error, 2)
	go func() { errc <- learnLoop.Run(ctx) }()
	go func() { errc <- tradeLoop.Run(ctx) }()

	logger.Info("tradeflow daemon running", "symbols", len(cfg.Symbols), "paper_mode", cfg.Trading.PaperMode)
	<-ctx.Done()

	for i := 0; i < 2; i++ {
		if err := <-errc; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("loop exited with error", "err", err)
		}
	}
	logger.Info("tradeflow daemon stopped")
}

// trainModels runs the concurrent pipeline for a single pass and drains it
// through the training orchestrator.
func trainModels(ctx context.Context, cfg *config.Config, src fetch.DataSource, policy fetch.Policy, pre preprocess.Preprocessor, registry *model.Registry, trainer train.Trainer, logger *slog.Logger) error {
	var start time.Time
	if cfg.Pipeline.StartDate != "" {
		var err error
		start, err = time.Parse("2006-01-02", cfg.Pipeline.StartDate)
		if err != nil {
			return err
		}
	} else {
		start = time.Now().AddDate(-2, 0, 0)
	}

	loader, err := pipeline.New(
		pipeline.Config{
			NumWorkers:     cfg.Pipeline.NumWorkers,
			MaxQueueSize:   cfg.Pipeline.MaxQueueSize,
			ChunkSize:      cfg.Pipeline.ChunkSize,
			PollTimeout:    cfg.Pipeline.PollTimeout,
			EnqueueTimeout: cfg.Pipeline.EnqueueTimeout,
			Passes:         1,
			Start:          start,
		},
		src, policy, pre, cfg.Symbols, logger,
	)
	if err != nil {
		return err
	}

	loader.Start()
	defer loader.Stop()

	orch := train.NewOrchestrator(registry, trainer, logger)
	return orch.Train(ctx, loader, cfg.Symbols)
}

// gatherJob returns the scheduled job that pulls each symbol's latest bars
// into the parquet store after the close.
func gatherJob(cfg *config.Config, src fetch.DataSource, policy fetch.Policy, bars store.BarStore, logger *slog.Logger) schedule.Job {
	return func(ctx context.Context) error {
		for _, sym := range cfg.Symbols {
			var fetched []domain.Bar
			err := policy.Do(ctx, "gather "+sym, func() error {
				var ferr error
				fetched, ferr = src.FetchLatest(ctx, sym, 10)
				return ferr
			})
			if err != nil {
				logger.Error("gather failed for symbol", "symbol", sym, "err", err)
				continue
			}
			if err := bars.WriteBars(ctx, fetched); err != nil {
				logger.Error("failed to store gathered bars", "symbol", sym, "err", err)
			}
		}
		return nil
	}
}
