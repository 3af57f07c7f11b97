package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/leadgen-cli/internal/fetcher"
	"github.com/sells-group/leadgen-cli/internal/monitoring"
	"github.com/sells-group/leadgen-cli/internal/pipeline"
	"github.com/sells-group/leadgen-cli/internal/queue"
	"github.com/sells-group/leadgen-cli/internal/resilience"
	"github.com/sells-group/leadgen-cli/internal/scrape"
	"github.com/sells-group/leadgen-cli/internal/store"
	"github.com/sells-group/leadgen-cli/internal/targets"
	"github.com/sells-group/leadgen-cli/pkg/google"
	"github.com/sells-group/leadgen-cli/pkg/jina"
)

// appEnv holds the initialized store, queue, worker and monitoring
// collaborators shared by the serve, worker and run commands.
type appEnv struct {
	Store     store.Store
	Queue     queue.Queue
	Worker    *pipeline.Worker
	Metrics   *monitoring.Metrics
	Collector *monitoring.Collector
}

// Close releases resources held by the environment.
func (e *appEnv) Close() {
	if e.Queue != nil {
		_ = e.Queue.Close()
	}
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

// initEnv opens and migrates the store, connects the queue and builds the
// worker. Callers should defer env.Close().
func initEnv(ctx context.Context) (*appEnv, error) {
	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	q, err := initQueue(ctx)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	metrics := monitoring.NewMetrics()
	w, err := initWorker(st, metrics)
	if err != nil {
		_ = q.Close()
		_ = st.Close()
		return nil, err
	}

	var dlq monitoring.DeadLetterCounter
	if c, ok := q.(monitoring.DeadLetterCounter); ok {
		dlq = c
	}

	return &appEnv{
		Store:     st,
		Queue:     q,
		Worker:    w,
		Metrics:   metrics,
		Collector: monitoring.NewCollector(st, dlq),
	}, nil
}

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		return store.NewSQLite(cfg.Store.SQLitePath)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &cfg.Store.Pool)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initQueue(ctx context.Context) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case "memory":
		return queue.NewMemory(cfg.Queue.MemorySize), nil
	case "redis":
		q, err := queue.DialRedis(ctx, cfg.Queue.RedisURL, queue.RedisOptions{
			Stream:      cfg.Queue.Stream,
			Group:       cfg.Queue.Group,
			Consumer:    cfg.Queue.Consumer,
			Block:       time.Duration(cfg.Queue.BlockMs) * time.Millisecond,
			ReclaimIdle: time.Duration(cfg.Queue.ReclaimIdleSecs) * time.Second,
			DeadMaxLen:  cfg.Queue.DeadMaxLen,
		}, zap.L())
		if err != nil {
			return nil, eris.Wrap(err, "connect queue")
		}
		return q, nil
	default:
		return nil, eris.Errorf("unsupported queue driver: %s", cfg.Queue.Driver)
	}
}

// initWorker builds the scrape chain and target resolver and wires them
// into a worker.
func initWorker(st store.Store, metrics *monitoring.Metrics) (*pipeline.Worker, error) {
	log := zap.L()
	retry := resilience.FromSettings(
		cfg.Worker.FetchMaxAttempts,
		cfg.Worker.FetchInitialBackoffMs,
		cfg.Worker.FetchMaxBackoffMs,
	)

	jinaOpts := []jina.Option{jina.WithRetry(retry)}
	if cfg.Jina.BaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithBaseURL(cfg.Jina.BaseURL))
	}
	if cfg.Jina.SearchBaseURL != "" {
		jinaOpts = append(jinaOpts, jina.WithSearchBaseURL(cfg.Jina.SearchBaseURL))
	}
	jinaClient := jina.NewClient(cfg.Jina.Key, jinaOpts...)

	chain, err := initScrapeChain(jinaClient, log)
	if err != nil {
		return nil, err
	}

	// Google Places is optional; api-sourced jobs fail to resolve without it.
	var places google.Client
	if cfg.Google.Key != "" {
		var googleOpts []google.Option
		if cfg.Google.BaseURL != "" {
			googleOpts = append(googleOpts, google.WithBaseURL(cfg.Google.BaseURL))
		}
		places = google.NewClient(cfg.Google.Key, googleOpts...)
		log.Info("google places api enabled")
	} else {
		log.Debug("LEADGEN_GOOGLE_KEY not set, api-sourced jobs cannot resolve targets")
	}

	resolver := &targets.Resolver{
		Search: jinaClient,
		Places: places,
		Files: fetcher.NewOpener(
			fetcher.HTTPOptions{
				UserAgent:  cfg.Scrape.UserAgent,
				Timeout:    time.Duration(cfg.Files.TimeoutSecs) * time.Second,
				Retry:      retry,
				RatePerSec: cfg.Files.RatePerSec,
			},
			fetcher.FTPOptions{Timeout: time.Duration(cfg.Files.TimeoutSecs) * time.Second},
		),
		MaxTargets: cfg.Targets.MaxTargets,
		MaxPages:   cfg.Targets.MaxPages,
		PageSize:   cfg.Google.MaxResults,
		Log:        log,
	}

	return pipeline.NewWorker(st, resolver, chain, pipeline.WorkerConfig{
		Extract: cfg.Extract,
		Retry:   retry,
	}, pipeline.WithLogger(log), pipeline.WithMetrics(metrics)), nil
}

// initScrapeChain builds the fetch chain: direct HTTP first, then the Jina
// Reader when the fallback is enabled.
func initScrapeChain(jinaClient jina.Client, log *zap.Logger) (*scrape.Chain, error) {
	proxies, err := scrape.NewProxyPool(cfg.Scrape.Proxies)
	if err != nil {
		return nil, eris.Wrap(err, "scrape proxies")
	}

	breakerCfg := resilience.DefaultCircuitBreakerConfig()
	breakerCfg.ShouldTrip = resilience.IsTransient

	local := scrape.NewLocalScraper(scrape.LocalOptions{
		UserAgent:     cfg.Scrape.UserAgent,
		Timeout:       time.Duration(cfg.Scrape.TimeoutSecs) * time.Second,
		MaxBodyBytes:  cfg.Scrape.MaxBodyBytes,
		RatePerSec:    cfg.Scrape.RatePerSec,
		Burst:         cfg.Scrape.Burst,
		RespectRobots: cfg.Scrape.RespectRobots,
		Robots:        robotsChecker(),
		Proxies:       proxies,
		Breakers:      resilience.NewHostBreakers(breakerCfg),
	}, log)

	scrapers := []scrape.Scraper{local}
	if cfg.Scrape.JinaFallback {
		scrapers = append(scrapers, scrape.NewJinaScraper(jinaClient, proxies, log))
	}
	return scrape.NewChain(scrape.NewPathMatcher(cfg.Scrape.ExcludePaths), log, scrapers...), nil
}

func robotsChecker() *scrape.RobotsChecker {
	if !cfg.Scrape.RespectRobots {
		return nil
	}
	ua := cfg.Scrape.UserAgent
	if ua == "" {
		ua = scrape.DefaultUserAgent
	}
	return scrape.NewRobotsChecker(nil, ua, time.Duration(cfg.Scrape.RobotsCacheMins)*time.Minute)
}

// newChecker returns the background alert checker, or nil when monitoring
// is disabled.
func newChecker(env *appEnv) *monitoring.Checker {
	if !cfg.Monitoring.Enabled {
		return nil
	}
	alerter := monitoring.NewAlerter(cfg.Monitoring, zap.L())
	return monitoring.NewChecker(env.Collector, alerter, cfg.Monitoring, zap.L())
}

func newRecovery(env *appEnv) (*pipeline.Recovery, error) {
	return pipeline.NewRecovery(
		env.Store,
		env.Queue,
		cfg.Worker.RecoverCron,
		time.Duration(cfg.Worker.StaleAfterMins)*time.Minute,
		zap.L(),
	)
}
