// Package main wires together the wiki graph crawler service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	gcppubsub "cloud.google.com/go/pubsub"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/api"
	"github.com/mthorsley/wikigraph-crawler/internal/config"
	"github.com/mthorsley/wikigraph-crawler/internal/crawl"
	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
	"github.com/mthorsley/wikigraph-crawler/internal/gateway"
	"github.com/mthorsley/wikigraph-crawler/internal/logging"
	memorypublisher "github.com/mthorsley/wikigraph-crawler/internal/publisher/memory"
	pubsubpublisher "github.com/mthorsley/wikigraph-crawler/internal/publisher/pubsub"
	"github.com/mthorsley/wikigraph-crawler/internal/store"
	"github.com/mthorsley/wikigraph-crawler/internal/worker"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	namespaces, err := cfg.Crawler.Namespaces()
	if err != nil {
		logger.Fatal("invalid namespace config", zap.Error(err))
	}

	db, err := store.New(ctx, store.Config{
		DSN:        cfg.DB.DSN,
		MaxConns:   int32(cfg.DB.MaxConns),
		MinConns:   int32(cfg.DB.MinConns),
		StuckAfter: cfg.Crawler.StuckAfter(),
	})
	if err != nil {
		logger.Fatal("database init failed", zap.Error(err))
	}
	defer db.Close()
	if err := db.EnsureSchema(ctx); err != nil {
		logger.Fatal("schema init failed", zap.Error(err))
	}

	var gw crawler.Gateway = gateway.New(gateway.Config{
		BaseURL:   cfg.Gateway.BaseURL,
		UserAgent: cfg.Gateway.UserAgent,
		Timeout:   cfg.Gateway.Timeout(),
	}, logger.Named("gateway"))
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close() //nolint:errcheck
		gw = gateway.NewResolverCache(gw, rdb, cfg.Redis.ResolveTTL(), logger.Named("cache"))
		logger.Info("title resolution cache enabled", zap.String("addr", cfg.Redis.Addr))
	}

	var events crawler.Publisher = memorypublisher.New()
	if cfg.PubSub.ProjectID != "" {
		client, err := gcppubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("pubsub init failed", zap.Error(err))
		}
		defer client.Close() //nolint:errcheck
		pub := pubsubpublisher.New(client)
		defer pub.Close()
		events = pub
	}

	orch := crawl.New(db, db, gw, crawl.Config{
		MaxDegree:       cfg.Crawler.MaxDegree,
		MaxLinksPerPage: cfg.Crawler.MaxLinksPerPage,
		Namespaces:      namespaces,
	}, logger.Named("crawl"))

	pool := worker.New(db, orch, events, worker.Config{
		Concurrency:  cfg.Crawler.Concurrency,
		PollInterval: cfg.Crawler.PollInterval(),
		MaxInFlight:  cfg.Crawler.MaxInFlight,
		EventTopic:   cfg.PubSub.TopicName,
	}, logger.Named("worker"))

	// Workers run under their own context so the admin API can stop the
	// crawl without taking the HTTP server down.
	crawlCtx, stopCrawl := context.WithCancel(ctx)
	defer stopCrawl()
	var stopOnce sync.Once
	stopCrawler := func() {
		stopOnce.Do(func() {
			logger.Info("crawler stop requested")
			stopCrawl()
		})
	}

	estimator := crawl.NewEstimator(gw, namespaces, logger.Named("estimator"))
	apiServer := api.NewServer(db, db, gw, estimator, stopCrawler, logger.Named("api"))

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		logger.Info("worker pool started", zap.Int("concurrency", cfg.Crawler.Concurrency))
		pool.Run(crawlCtx)
	}()

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}
	stopCrawl()
	wg.Wait()
	logger.Info("shutdown complete")
}
