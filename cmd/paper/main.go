package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"sentibot-go/internal/alert"
	"sentibot-go/internal/config"
	"sentibot-go/internal/engine"
	"sentibot-go/internal/exchange"
	"sentibot-go/internal/execution"
	"sentibot-go/internal/metrics"
	"sentibot-go/internal/risk"
	"sentibot-go/internal/sentiment"
	sig "sentibot-go/internal/signal"
	"sentibot-go/internal/store"
	"sentibot-go/internal/util"
)

// Paper mode: stub sentiment sources, simulated venue, in-memory store.
// Everything else runs the real cycle, so the decision path gets exercised
// end to end without touching an exchange.
func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "internal/config/config.yaml"))
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	cfg.Exchange.Provider = "paper"
	cfg.Store.Backend = "memory"
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	mem := store.NewMemory()
	paper := exchange.NewPaper(cfg.Exchange.QuoteCurrency, cfg.Exchange.PaperCash, cfg.Exchange.SlippageBps)

	feed := exchange.NewPriceFeed(exchange.FeedStub, cfg.Pairs, log)
	go func() { _ = feed.Run(ctx) }()
	go func() {
		// Keep the simulator marked from the synthetic feed.
		ticker := time.NewTicker(time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for sym, px := range feed.Marks() {
					paper.SetPrice(sym, px)
				}
			}
		}
	}()

	sources := []sentiment.SourceAdapter{
		sentiment.NewStubSource(sentiment.SourceNews, 0.8),
		sentiment.NewStubSource(sentiment.SourceTwitter, 0.75),
		sentiment.NewStubSource(sentiment.SourceReddit, 0.7),
	}

	execCfg := execution.Config{
		MaxRetries:      cfg.Execution.MaxRetries,
		RetryDelay:      time.Duration(cfg.Execution.RetryDelaySeconds) * time.Second,
		MinFillFraction: cfg.Execution.MinFillFraction,
		PollInterval:    time.Duration(cfg.Execution.PollIntervalMillis) * time.Millisecond,
		PollTimeout:     time.Duration(cfg.Execution.PollTimeoutSeconds) * time.Second,
	}
	limits := risk.Limits{
		MaxPositionSize: cfg.Risk.MaxPositionSize,
		MinLotSize:      cfg.Risk.MinLotSize,
		StopLossPct:     cfg.Risk.StopLossPct,
		TakeProfitPct:   cfg.Risk.TakeProfitPct,
		Cooldown:        cfg.Cooldown(),
	}
	sourceTimeout := time.Duration(cfg.Sentiment.SourceTimeout) * time.Second

	for _, pair := range cfg.Pairs {
		deps := engine.Deps{
			Collector:  sentiment.NewCollector(log, sourceTimeout, sources...),
			Aggregator: sentiment.NewAggregator(cfg.Window(), cfg.Sentiment.TrendCycles),
			Generator: sig.NewGenerator(
				cfg.Sentiment.MinThreshold,
				cfg.Sentiment.MaxThreshold,
				cfg.Sentiment.TrendFactor,
				cfg.Sentiment.MinSamples,
			),
			Risk:     risk.NewManager(pair, limits, cfg.RefreshInterval()),
			Exec:     execution.NewEngine(paper, mem, execCfg, log),
			Venue:    paper,
			Store:    mem,
			Feed:     feed,
			Notifier: alert.Nop{},
			Log:      log,
		}
		runner, err := engine.NewRunner(ctx, pair, cfg.Exchange.QuoteCurrency, cfg.RefreshInterval(), deps)
		if err != nil {
			log.Fatal().Err(err).Str("pair", pair).Msg("build runner")
		}
		go func(pair string) {
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("pair", pair).Msg("runner stopped")
			}
		}(pair)
	}

	log.Info().Strs("pairs", cfg.Pairs).Msg("paper engine started")
	<-ctx.Done()
	log.Info().Int("trades", len(mem.Trades())).Msg("shutting down")
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
