package main

import (
	"fmt"
	"log/slog"

	"github.com/couchcryptid/wardrive/internal/adapter/adafruit"
	kafkaadapter "github.com/couchcryptid/wardrive/internal/adapter/kafka"
	"github.com/couchcryptid/wardrive/internal/cluster"
	"github.com/couchcryptid/wardrive/internal/config"
	"github.com/couchcryptid/wardrive/internal/domain"
	"github.com/couchcryptid/wardrive/internal/observability"
	"github.com/couchcryptid/wardrive/internal/pipeline"
	"github.com/couchcryptid/wardrive/internal/queue"
)

// app is the wired object graph shared by every subcommand.
type app struct {
	cfg     *config.Config
	logger  *slog.Logger
	metrics *observability.Metrics
	coord   *pipeline.Coordinator
	closers []func() error
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(cfg)
	metrics := observability.NewMetrics()

	primary, err := queue.NewFileQueue(cfg.StoragePath, "storage", logger, metrics)
	if err != nil {
		return nil, err
	}
	offline, err := queue.NewFileQueue(cfg.OfflineBufferPath, "offline-buffer", logger, metrics)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, logger: logger, metrics: metrics}
	feed := a.newFeed()
	if feed.IsConfigured() {
		logger.Info("remote feed enabled", "backend", cfg.FeedBackend, "timeout", cfg.RequestTimeout)
	} else {
		logger.Info("remote feed not configured, running in local-only mode", "backend", cfg.FeedBackend)
	}

	a.coord = pipeline.NewCoordinator(
		primary,
		offline,
		feed,
		cluster.New(cfg.ClusterEpsMeters, cfg.ClusterMinSamples),
		cfg.FeedFetchLimit,
		logger,
		metrics,
	)
	return a, nil
}

func (a *app) newFeed() domain.Feed {
	if a.cfg.FeedBackend == config.FeedKafka {
		f := kafkaadapter.NewFeed(a.cfg.KafkaBrokers, a.cfg.KafkaTopic, a.cfg.RequestTimeout, a.logger, a.metrics)
		a.closers = append(a.closers, f.Close)
		return f
	}
	return adafruit.NewClient(a.cfg.AIOUsername, a.cfg.AIOKey, a.cfg.AIOFeedKey, a.cfg.RequestTimeout, a.logger, a.metrics)
}

func (a *app) close() {
	for _, c := range a.closers {
		if err := c(); err != nil {
			a.logger.Error("close error", "error", err)
		}
	}
}
