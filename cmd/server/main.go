package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/lysyi3m/rss-desk/app/api"
	"github.com/lysyi3m/rss-desk/app/cfg"
	"github.com/lysyi3m/rss-desk/app/database"
	"github.com/lysyi3m/rss-desk/app/events"
	"github.com/lysyi3m/rss-desk/app/feed"
	"github.com/lysyi3m/rss-desk/app/metrics"
	"github.com/lysyi3m/rss-desk/app/notify"
	"github.com/lysyi3m/rss-desk/app/pipeline"
	"github.com/lysyi3m/rss-desk/app/rules"
	"github.com/lysyi3m/rss-desk/app/scheduler"
	"github.com/lysyi3m/rss-desk/app/tasks"
)

const notificationQueueSize = 100

func main() {
	appCfg, err := cfg.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if appCfg == nil {
		return
	}

	setupLogger(appCfg)

	if err := run(appCfg); err != nil {
		slog.Error("Server failed", "error", err)
		os.Exit(1)
	}
}

func setupLogger(c *cfg.Cfg) {
	level := slog.LevelInfo
	if c.Debug {
		level = slog.LevelDebug
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if c.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	slog.SetDefault(slog.New(handler))
}

func run(c *cfg.Cfg) error {
	slog.Info("Starting RSS Desk", "version", c.Version, "db", c.DBPath, "timezone", c.Timezone)

	db, err := database.Open(c.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()

	version, dirty, err := database.RunMigrations(db)
	if err != nil {
		return err
	}
	slog.Info("Database ready", "migration_version", version, "dirty", dirty)

	feedRepo := database.NewFeedRepository(db)
	articleRepo := database.NewArticleRepository(db)
	ruleRepo := database.NewRuleRepository(db)
	settingsRepo := database.NewSettingsRepository(db, c.DefaultRefreshInterval)

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	httpClient := &http.Client{Timeout: c.ManualTimeout}

	var sender notify.Sender = notify.LogSender{}
	if c.NtfyTopic != "" {
		sender = notify.NewNtfyClient(c.NtfyTopic, c.NtfyToken, httpClient)
		slog.Info("Rule notifications enabled", "transport", "ntfy")
	}
	notifications := notify.NewQueue(sender, notificationQueueSize)
	notifications.Start()
	defer notifications.Stop()

	taskQueue := tasks.NewQueue(tasks.Deps{
		Articles:   articleRepo,
		Feeds:      feedRepo,
		HTTPClient: httpClient,
		Extractor:  feed.NewContentExtractor(),
		UserAgent:  c.UserAgent,
		Timeout:    c.ManualTimeout,
	}, c.WorkerCount)
	taskQueue.Start()
	defer taskQueue.Stop()

	if err := syncSeeds(c.FeedsDir, feedRepo, taskQueue); err != nil {
		return err
	}

	fetcher := feed.NewFetcher(httpClient, c.UserAgent)
	engine := rules.NewEngine(ruleRepo, articleRepo, articleRepo, feedRepo, notifications, m)
	refresher := pipeline.NewRefresher(fetcher, feedRepo, articleRepo, engine, taskQueue, m, c.UserAgent)
	broker := events.NewBroker()

	sched := scheduler.New(scheduler.Config{
		UserID:            c.UserID,
		Tick:              c.SchedulerTick,
		InitialDelay:      c.SchedulerInitialDelay,
		BatchSize:         c.BatchSize,
		BreakerThreshold:  c.BreakerThreshold,
		MaxBackoff:        c.MaxBackoff,
		BackgroundTimeout: c.BackgroundTimeout,
		ManualTimeout:     c.ManualTimeout,
		MemoryWarning:     c.MemoryWarning,
		MemoryCritical:    c.MemoryCritical,
	}, feedRepo, settingsRepo, refresher, broker, m)
	sched.Start()
	defer sched.Stop()

	handler := api.NewHandler(api.Deps{
		Feeds:             feedRepo,
		Articles:          articleRepo,
		Rules:             ruleRepo,
		Settings:          settingsRepo,
		Parser:            fetcher,
		Scheduler:         sched,
		Tester:            engine,
		Events:            broker,
		UserID:            c.UserID,
		UserAgent:         c.UserAgent,
		ManualTimeout:     c.ManualTimeout,
		KeepaliveInterval: c.KeepaliveInterval,
		Version:           c.Version,
	})

	// No WriteTimeout: event streams stay open.
	httpServer := &http.Server{
		Addr:              ":" + c.Port,
		Handler:           api.NewServer(handler, c.APIAccessKey, registry),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "port", c.Port, "auth", c.APIAccessKey != "")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- fmt.Errorf("HTTP server error: %w", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case sig := <-sigChan:
		slog.Info("Received signal", "signal", sig)
	case err := <-serverErrChan:
		return err
	}

	slog.Info("Shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	return nil
}

// syncSeeds loads YAML feed seeds and enqueues one sync task per seed.
func syncSeeds(dir string, feedRepo database.FeedRepository, queue tasks.QueueInterface) error {
	loader := feed.NewSeedLoader(dir)
	if err := loader.Run(); err != nil {
		return fmt.Errorf("failed to load feed seeds: %w", err)
	}

	for _, seed := range loader.Seeds() {
		if err := queue.EnqueueTask(tasks.NewSyncFeedSeedTask(seed, feedRepo)); err != nil {
			slog.Warn("Failed to enqueue seed sync", "feed", seed.Name, "error", err)
		}
	}

	slog.Info("Feed seeds loaded", "dir", dir, "count", loader.Count())
	return nil
}
