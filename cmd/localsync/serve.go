package main

import (
	"context"
	"errors"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	syncerrors "github.com/devrev/pairdb/localsync/internal/errors"
	"github.com/devrev/pairdb/localsync/internal/handler"
	"github.com/devrev/pairdb/localsync/internal/health"
	"github.com/devrev/pairdb/localsync/internal/server"
	"github.com/devrev/pairdb/localsync/internal/socket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func newServeCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the sync daemon with its push stream and debug API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(*configPath)
			if err != nil {
				return err
			}
			defer a.close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, a)
		},
	}
}

func serve(ctx context.Context, a *app) error {
	logger := a.logger
	logger.Info("starting localsync")

	var push *socket.Client
	if a.cfg.Socket.Enabled {
		push = a.pushClient()
	}

	hc := health.NewHealthChecker(5*time.Second, logger)
	hc.AddCheck("store", func(ctx context.Context) error {
		if !a.svc.Attached() {
			return fmt.Errorf("store not attached, %d operations pending", a.svc.Pending())
		}
		return nil
	})
	if a.redis != nil {
		hc.AddCheck("request_cache", a.redis.Ping)
	}
	if push != nil {
		hc.AddCheck("push_stream", func(ctx context.Context) error {
			if !push.Connected() {
				return errors.New("push stream disconnected")
			}
			return nil
		})
	}

	errorHandler := syncerrors.NewHandler(logger)
	handlers := handler.NewHandlers(a.svc, a.client, errorHandler, logger)
	httpServer := server.NewServer(a.cfg, handlers, hc, errorHandler, a.registry, logger)
	httpServer.SetupRoutes()

	g, gctx := errgroup.WithContext(ctx)

	g.Go(httpServer.Start)

	if push != nil {
		g.Go(func() error {
			logger.Info("push stream starting",
				zap.String("url", a.cfg.Socket.URL),
				zap.String("consumer_id", push.ConsumerID()))
			if err := push.Run(gctx); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
	}

	closeStore := func() error { return nil }
	g.Go(func() error {
		// pushes and queries arriving before this point are buffered
		if delay := a.cfg.Store.AttachDelay; delay > 0 {
			select {
			case <-gctx.Done():
				return nil
			case <-time.After(delay):
			}
		}

		st, closer, err := a.openStore(gctx)
		if err != nil {
			return fmt.Errorf("failed to open store: %w", err)
		}
		closeStore = closer

		stats := a.svc.Attach(gctx, st)
		logger.Info("store attached",
			zap.String("driver", a.cfg.Store.Driver),
			zap.Int("replayed", stats.Total),
			zap.Int("failed", stats.Failed))
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("initiating graceful shutdown")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown HTTP server", zap.Error(err))
		}
		return nil
	})

	err := g.Wait()
	if cerr := closeStore(); cerr != nil {
		logger.Error("failed to close store", zap.Error(cerr))
	}
	if err != nil {
		logger.Error("localsync stopped with error", zap.Error(err))
		return err
	}

	logger.Info("localsync shutdown complete")
	return nil
}
