package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradeflow/internal/config"
	"tradeflow/internal/domain"
	"tradeflow/internal/fetch"
	"tradeflow/internal/store"
	"tradeflow/internal/util"
)

func main() {
	startFlag := flag.String("start", "", "backfill start date (YYYY-MM-DD, default 2 years ago)")
	endFlag := flag.String("end", "", "backfill end date (YYYY-MM-DD, default today)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: config universe)")
	flag.Parse()

	cfgPath := "config/tradeflow.yaml"
	if p := os.Getenv("TRADEFLOW_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger(cfg.Logging.Level, "text")
	util.SetDefault(logger)

	start := time.Now().AddDate(-2, 0, 0)
	if *startFlag != "" {
		start, err = time.Parse("2006-01-02", *startFlag)
		if err != nil {
			log.Fatalf("invalid -start: %v", err)
		}
	}
	end := time.Now()
	if *endFlag != "" {
		end, err = time.Parse("2006-01-02", *endFlag)
		if err != nil {
			log.Fatalf("invalid -end: %v", err)
		}
	}

	symbols := cfg.Symbols
	if *symbolsFlag != "" {
		symbols = strings.Split(*symbolsFlag, ",")
	}

	if cfg.Alpaca.APIKey == "" {
		log.Fatal("alpaca credentials required for gathering (set APCA_API_KEY_ID / APCA_API_SECRET_KEY)")
	}
	src := fetch.NewAlpacaSource(cfg.Alpaca.APIKey, cfg.Alpaca.APISecret, cfg.Alpaca.DataURL, cfg.Alpaca.RateLimitPerMin)
	policy := fetch.NewPolicy(cfg.Fetch.MaxAttempts, cfg.Fetch.RetryBaseDelay, cfg.Fetch.RetryMaxDelay, logger)
	pstore := store.NewParquetStore(cfg.Storage.DataDir)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger.Info("gathering daily bars",
		"symbols", len(symbols),
		"start", start.Format("2006-01-02"),
		"end", end.Format("2006-01-02"),
	)

	failed := 0
	for _, sym := range symbols {
		if ctx.Err() != nil {
			logger.Warn("interrupted, stopping gather")
			break
		}

		var bars []domain.Bar
		err := policy.Do(ctx, "gather "+sym, func() error {
			var ferr error
			bars, ferr = src.Fetch(ctx, sym, start, end)
			return ferr
		})
		if err != nil {
			logger.Error("gather failed", "symbol", sym, "err", err)
			failed++
			continue
		}
		if err := pstore.WriteBars(ctx, bars); err != nil {
			logger.Error("write failed", "symbol", sym, "err", err)
			failed++
			continue
		}
		logger.Info("gathered", "symbol", sym, "bars", len(bars))
	}

	logger.Info("gather complete", "symbols", len(symbols), "failed", failed)
	if failed > 0 {
		os.Exit(1)
	}
}
