package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"sync"
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

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load(getEnv("CONFIG_PATH", "internal/config/config.yaml"))
	if err != nil {
		boot := util.NewLogger("info")
		boot.Fatal().Err(err).Msg("load config")
	}
	log := util.NewLogger(cfg.App.LogLevel)
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	_ = metrics.Serve(cfg.App.MetricsAddr)
	log.Info().Str("addr", cfg.App.MetricsAddr).Msg("metrics up")

	ctx, cancel := ossignal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var st store.Store
	switch cfg.Store.Backend {
	case "mongo":
		mongoStore, cleanup, err := store.NewMongo(
			getEnv("MONGO_URI", "mongodb://localhost:27017"),
			cfg.Store.Database,
			time.Duration(cfg.Store.TimeoutSeconds)*time.Second,
			log,
		)
		if err != nil {
			log.Fatal().Err(err).Msg("connect store")
		}
		defer cleanup()
		st = mongoStore
	default:
		st = store.NewMemory()
	}

	var venue exchange.Exchange
	switch cfg.Exchange.Provider {
	case "binance":
		venue = exchange.NewBinance(
			os.Getenv("BINANCE_API_KEY"),
			os.Getenv("BINANCE_API_SECRET"),
			cfg.Exchange.Testnet,
			cfg.Exchange.RateLimitRPS,
			cfg.Exchange.RateBurst,
			log,
		)
	default:
		venue = exchange.NewPaper(cfg.Exchange.QuoteCurrency, cfg.Exchange.PaperCash, cfg.Exchange.SlippageBps)
	}

	var notifier alert.Notifier = alert.Nop{}
	if cfg.Alert.Enabled {
		tg, err := alert.NewTelegram(os.Getenv("TELEGRAM_BOT_TOKEN"), os.Getenv("TELEGRAM_CHAT_ID"), "")
		if err != nil {
			log.Fatal().Err(err).Msg("configure telegram alerts")
		}
		notifier = tg
	}

	feed := exchange.NewPriceFeed(cfg.Exchange.Provider, cfg.Pairs, log)
	go func() {
		if err := feed.Run(ctx); err != nil && ctx.Err() == nil {
			log.Error().Err(err).Msg("price feed stopped")
			cancel()
		}
	}()

	sourceTimeout := time.Duration(cfg.Sentiment.SourceTimeout) * time.Second
	sources := buildSources(cfg, sourceTimeout)
	if len(sources) == 0 {
		log.Fatal().Msg("no sentiment sources configured")
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

	var wg sync.WaitGroup
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
			Exec:     execution.NewEngine(venue, st, execCfg, log),
			Venue:    venue,
			Store:    st,
			Feed:     feed,
			Notifier: notifier,
			Log:      log,
		}
		runner, err := engine.NewRunner(ctx, pair, cfg.Exchange.QuoteCurrency, cfg.RefreshInterval(), deps)
		if err != nil {
			log.Fatal().Err(err).Str("pair", pair).Msg("build runner")
		}

		wg.Add(1)
		go func(pair string) {
			defer wg.Done()
			if err := runner.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error().Err(err).Str("pair", pair).Msg("runner stopped")
			}
		}(pair)
	}

	log.Info().Strs("pairs", cfg.Pairs).Str("provider", cfg.Exchange.Provider).Msg("trading engine started")
	<-ctx.Done()
	log.Info().Msg("shutting down")
	wg.Wait()
}

// buildSources assembles the configured source adapters. Endpoints left
// unset are skipped entirely so an unconfigured feed does not count as a
// failed source every cycle.
func buildSources(cfg *config.Config, timeout time.Duration) []sentiment.SourceAdapter {
	var sources []sentiment.SourceAdapter
	if cfg.Sentiment.NewsEndpoint != "" {
		sources = append(sources, sentiment.NewHTTPSource(sentiment.SourceNews, cfg.Sentiment.NewsEndpoint, timeout))
	}
	if cfg.Sentiment.SocialEndpoint != "" {
		sources = append(sources, sentiment.NewHTTPSource(sentiment.SourceTwitter, cfg.Sentiment.SocialEndpoint, timeout))
	}
	for _, name := range cfg.Sentiment.StubSources {
		sources = append(sources, sentiment.NewStubSource(sentiment.Source(name), 0))
	}
	return sources
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
