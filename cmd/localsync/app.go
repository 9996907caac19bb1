package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrev/pairdb/localsync/internal/cache"
	"github.com/devrev/pairdb/localsync/internal/config"
	"github.com/devrev/pairdb/localsync/internal/logging"
	"github.com/devrev/pairdb/localsync/internal/metrics"
	"github.com/devrev/pairdb/localsync/internal/schema"
	"github.com/devrev/pairdb/localsync/internal/service"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/devrev/pairdb/localsync/internal/store"
	"github.com/devrev/pairdb/localsync/internal/transport"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// app holds the components shared by every command
type app struct {
	cfg      *config.Config
	logger   *zap.Logger
	registry *prometheus.Registry
	metrics  *metrics.Metrics
	index    *schema.Index
	requests cache.RequestCache
	redis    *cache.RedisRequestCache
	client   *transport.Client
	svc      *service.SyncService
}

// newApp loads configuration and wires everything except the store.
func newApp(configPath string) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	index, err := schema.NewIndex(cfg.Tables)
	if err != nil {
		return nil, fmt.Errorf("invalid table schema: %w", err)
	}

	registry := prometheus.NewRegistry()
	m := metrics.NewMetrics(registry)

	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		metrics:  m,
		index:    index,
	}

	switch cfg.RequestCache.Backend {
	case "redis":
		rc, err := cache.NewRedisRequestCache(cache.RedisOptions{
			Addr:      cfg.RequestCache.RedisAddr,
			Password:  cfg.RequestCache.RedisPassword,
			DB:        cfg.RequestCache.RedisDB,
			KeyPrefix: cfg.RequestCache.KeyPrefix,
			TTL:       cfg.RequestCache.TTL,
		}, logger)
		if err != nil {
			return nil, err
		}
		a.redis = rc
		a.requests = rc
	default:
		a.requests = cache.NewInMemoryRequestCache(logger)
	}

	a.client = transport.NewClient(transport.Config{
		BaseURL:           cfg.Transport.BaseURL,
		Timeout:           cfg.Transport.Timeout,
		RequestsPerSecond: cfg.Transport.RequestsPerSecond,
		Burst:             cfg.Transport.BurstSize,
		Headers:           cfg.Transport.Headers,
	}, logger)

	a.svc = service.NewSyncService(index, a.requests, socket.NewRouter(index, logger), m, logger)

	logger.Info("configuration loaded",
		zap.Strings("tables", index.Tables()),
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("request_cache", cfg.RequestCache.Backend),
		zap.String("base_url", cfg.Transport.BaseURL))

	return a, nil
}

// openStore opens the configured store backend.
func (a *app) openStore(ctx context.Context) (store.Store, func() error, error) {
	switch a.cfg.Store.Driver {
	case "sqlite":
		st, err := store.OpenSQLiteStore(ctx, a.cfg.Store.Path, a.index, a.logger)
		if err != nil {
			return nil, nil, err
		}
		return st, st.Close, nil
	default:
		st := store.NewMemoryStore(a.index, a.logger)
		return st, st.Close, nil
	}
}

// pushClient builds the push stream client feeding the sync service.
func (a *app) pushClient() *socket.Client {
	return socket.NewClient(socket.ClientConfig{
		URL:               a.cfg.Socket.URL,
		ConsumerID:        a.cfg.Socket.ConsumerID,
		Rooms:             a.cfg.Socket.Rooms,
		ReconnectInterval: a.cfg.Socket.ReconnectInterval,
		HandshakeTimeout:  a.cfg.Socket.HandshakeTimeout,
	}, a.svc, a.client, a.metrics, a.logger)
}

func (a *app) close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	a.logger.Sync()
	return errors.Join(errs...)
}
