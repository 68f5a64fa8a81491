package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"tradeflow/internal/backtest"
	"tradeflow/internal/config"
	"tradeflow/internal/store"
	"tradeflow/internal/trade"
	"tradeflow/internal/train"
	"tradeflow/internal/util"
)

func main() {
	startFlag := flag.String("start", "", "backtest start date (YYYY-MM-DD, default 2 years ago)")
	endFlag := flag.String("end", "", "backtest end date (YYYY-MM-DD, default today)")
	symbolsFlag := flag.String("symbols", "", "comma-separated symbols (default: config universe)")
	window := flag.Int("window", 0, "rolling fit window in bars (default: learning window)")
	refit := flag.Int("refit", 20, "bars between refits")
	flag.Parse()

	cfgPath := "config/tradeflow.yaml"
	if p := os.Getenv("TRADEFLOW_CONFIG"); p != "" {
		cfgPath = p
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := util.NewLogger("warn", "text")
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
	if *window <= 0 {
		*window = cfg.Learning.WindowSize
	}

	bt := backtest.New(
		backtest.Config{
			Window:     *window,
			Horizon:    cfg.Trading.PredictionHorizon,
			RefitEvery: *refit,
			Thresholds: trade.Thresholds{Buy: cfg.Trading.BuyThreshold, Sell: cfg.Trading.SellThreshold},
		},
		store.NewParquetStore(cfg.Storage.DataDir),
		train.NewBuiltinTrainer(),
		logger,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("%-8s %12s %12s %8s %8s %8s %8s\n",
		"SYMBOL", "MARKET", "STRATEGY", "SHARPE", "MAXDD", "TRADES", "WINRATE")
	for _, sym := range symbols {
		res, err := bt.Run(ctx, sym, start, end)
		if err != nil {
			fmt.Printf("%-8s error: %v\n", sym, err)
			continue
		}
		fmt.Printf("%-8s %11.2f%% %11.2f%% %8.2f %7.2f%% %8d %7.0f%%\n",
			sym,
			res.MarketReturn*100,
			res.StrategyReturn*100,
			res.SharpeRatio,
			res.MaxDrawdown*100,
			res.Trades,
			res.WinRate*100,
		)
	}
}
