package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aretw0/weft"
	"github.com/aretw0/weft/internal/adapters/file"
	"github.com/aretw0/weft/internal/cli"
	httpAdapter "github.com/aretw0/weft/pkg/adapters/http"
	"github.com/aretw0/weft/pkg/adapters/redis"
	"github.com/aretw0/weft/pkg/dispatch"
	"github.com/aretw0/weft/pkg/observability"
	"github.com/aretw0/weft/pkg/ports"
	"github.com/aretw0/weft/pkg/session"
)

// shutdownGrace bounds how long in-flight requests get on shutdown.
const shutdownGrace = 5 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP session server",
	Long: `Starts weft as an HTTP server. Runs are launched with POST /sessions,
progress streams as server-sent events and human nodes are answered with
POST /sessions/{id}/human. Artifact events are queued in redis when
redis.addr is configured, otherwise in files below the warehouse.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadRuntime(cmd)
		if err != nil {
			return err
		}
		if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
			cfg.HTTP.Addr = addr
		}

		var (
			queue  ports.EventQueue
			locker ports.DistributedLocker
		)
		if cfg.Redis.Enabled() {
			rq := redis.New(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB,
				redis.WithPrefix(cfg.Redis.Prefix),
				redis.WithTTL(cfg.Redis.TTL),
			)
			defer rq.Close()
			queue = rq
			locker = redis.NewLocker(rq.Client(), cfg.Redis.Prefix)
			logger.Info("Using redis event queue", "addr", cfg.Redis.Addr)
		} else {
			queue = file.NewQueue(filepath.Join(cfg.Warehouse, ".events"))
		}

		metrics := observability.NewMetrics()
		streams := httpAdapter.NewStreamManager(0, logger)

		engine, err := cli.NewEngine(cfg, logger,
			weft.WithMetrics(metrics),
			weft.WithEventQueue(queue),
			weft.WithBroadcaster(streams),
		)
		if err != nil {
			return err
		}
		defer engine.Close()

		sessOpts := []session.Option{
			session.WithBroadcaster(streams),
			session.WithLogger(logger),
			session.WithDispatchOptions(dispatch.WithObserver(metrics.ObserveArtifacts)),
		}
		if locker != nil {
			sessOpts = append(sessOpts, session.WithLocker(locker))
		}
		sessions := session.NewManager(queue, sessOpts...)

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		api := httpAdapter.NewServer(sessions, streams, cli.Launcher(engine),
			httpAdapter.WithMetricsHandler(metrics.Handler()),
			httpAdapter.WithVersion(weft.Version),
			httpAdapter.WithBaseContext(ctx),
			httpAdapter.WithLogger(logger),
		)
		srv := &http.Server{
			Addr:              cfg.HTTP.Addr,
			Handler:           api.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Channel to listen for errors coming from the listener.
		serverErrors := make(chan error, 1)
		go func() {
			logger.Info("Starting weft server", "addr", srv.Addr, "warehouse", engine.Warehouse())
			serverErrors <- srv.ListenAndServe()
		}()

		select {
		case err := <-serverErrors:
			if !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server error: %w", err)
			}
			return nil
		case <-ctx.Done():
			logger.Info("Start shutdown")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Graceful shutdown did not complete", "timeout", shutdownGrace, "err", err)
				if err := srv.Close(); err != nil {
					return fmt.Errorf("error killing server: %w", err)
				}
			}
			logger.Info("Weft server stopped gracefully")
			return nil
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("addr", "", "Address to listen on (default from config, :8080)")
}
