// Command bufstreamd serves stored response bodies, streaming each one to
// the client in fixed-size chunks paced by the connection.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/vnykmshr/bufstream/internal/config"
	"github.com/vnykmshr/bufstream/internal/server"
	"github.com/vnykmshr/bufstream/pkg/metrics"
	"github.com/vnykmshr/bufstream/pkg/storage/body"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "bufstreamd:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := config.NewLogger(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry := metrics.FromConfig(metrics.Config{
		Enabled:  cfg.Metrics.Enabled,
		Registry: reg,
	})

	store, err := newStore(cfg, registry)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	srv, err := server.New(server.Options{
		Config:   cfg,
		Store:    store,
		Logger:   logger,
		Metrics:  registry,
		Gatherer: reg,
	})
	if err != nil {
		return err
	}

	stopReporter, err := srv.StartReporter()
	if err != nil {
		return err
	}
	defer stopReporter()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("starting bufstreamd",
		zap.String("addr", cfg.Server.Addr),
		zap.String("store", cfg.Store.Backend),
		zap.Int("chunk_size", cfg.Stream.ChunkSize))

	return srv.Run(ctx)
}

func newStore(cfg *config.Config, registry *metrics.Registry) (body.Store, error) {
	if cfg.Store.Backend != "redis" {
		return body.NewMemoryStoreWithConfig(body.MemoryConfig{
			MaxBytes: cfg.Store.MaxBytes,
			Metrics:  registry,
		})
	}

	rc := cfg.Store.Redis
	client := redis.NewClient(&redis.Options{
		Addr:     rc.Addr,
		Password: rc.Password,
		DB:       rc.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), rc.Timeout)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis %s: %w", rc.Addr, err)
	}

	return body.NewRedisStore(body.RedisConfig{
		Redis:     client,
		KeyPrefix: rc.KeyPrefix,
		Timeout:   rc.Timeout,
		Metrics:   registry,
	})
}
