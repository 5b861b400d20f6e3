package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"google.golang.org/grpc"

	"github.com/nainya/schedver/internal/metrics"
	"github.com/nainya/schedver/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the gRPC versioning service",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx)
	},
}

func serve(ctx context.Context) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.NewMetrics(reg)

	appLog.LogServerStart(cfg.Server.GrpcPort, cfg.Storage.Backend, cfg.Storage.Path)

	b, err := openBackend(cfg.Storage, appLog)
	if err != nil {
		return fmt.Errorf("failed to open storage: %w", err)
	}
	defer b.Close()
	eng := newEngine(b, cfg.Engine, appLog, m)

	// Nodes persisted before a crash block new writes until adopted or dropped
	if cfg.Engine.ReconcileOnStart {
		if _, err := reconcileAll(ctx, eng, appLog); err != nil {
			return fmt.Errorf("startup reconciliation failed: %w", err)
		}
	}

	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Server.GrpcPort))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}
	var opts []grpc.ServerOption
	if cfg.Server.RequestRate > 0 {
		limiter := rate.NewLimiter(rate.Limit(cfg.Server.RequestRate), cfg.Server.RequestBurst)
		opts = append(opts, grpc.ChainUnaryInterceptor(server.RateLimitInterceptor(limiter)))
	}
	gs := server.NewGRPCServer(server.NewServer(eng), m, appLog, opts...)

	var obs *server.ObservabilityServer
	if cfg.Server.MetricsPort != 0 {
		obs = server.NewObservabilityServer(cfg.Server.MetricsPort, reg, appLog)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return gs.Serve(lis)
	})
	if obs != nil {
		g.Go(obs.Start)
		obs.SetReady(true)
	}
	appLog.LogServerReady(cfg.Server.GrpcPort)

	g.Go(func() error {
		<-gctx.Done()
		appLog.LogServerShutdown()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()

		if obs != nil {
			obs.SetReady(false)
			if err := obs.Shutdown(shutdownCtx); err != nil {
				appLog.Warn("observability shutdown").Err(err).Send()
			}
		}

		stopped := make(chan struct{})
		go func() {
			gs.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-shutdownCtx.Done():
			appLog.Warn("graceful stop timed out, closing connections").Send()
			gs.Stop()
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		appLog.Error("server stopped").Err(err).Send()
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
