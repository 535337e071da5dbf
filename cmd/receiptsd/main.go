package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"github.com/joseph-ayodele/receipt-intake/internal/app"
	"github.com/joseph-ayodele/receipt-intake/internal/common"
	"github.com/joseph-ayodele/receipt-intake/internal/jobs"
	"github.com/joseph-ayodele/receipt-intake/internal/server"
)

const healthProbeInterval = 15 * time.Second

func main() {
	cfg, err := common.LoadConfig()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}
	logger := common.NewLogger(cfg.Log, os.Stdout)
	slog.SetDefault(logger)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		logger.Error("failed to build application", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("failed to close application", "error", err)
		}
	}()

	if err := a.Storage.Ping(ctx, 5*time.Second); err != nil {
		logger.Error("failed to ping storage", "error", err)
		os.Exit(1)
	}

	handler, err := server.New(server.Config{
		Pipeline: a.Pipeline,
		Store:    a.Storage.Store,
		Exporter: a.Exporter,
		Auth:     server.AuthConfig{JWTSecret: cfg.Auth.JWTSecret, Logger: logger},
		Limits: server.RateConfig{
			UploadsPerMinute: cfg.Auth.UploadRatePerMinute,
			Burst:            cfg.Auth.UploadRateBurst,
		},
		Logger: logger,
	})
	if err != nil {
		logger.Error("failed to build http handler", "error", err)
		os.Exit(1)
	}
	httpServer := &http.Server{
		Addr:              cfg.Server.HTTPAddr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// gRPC health for orchestrator probes, tied to storage reachability
	lis, err := net.Listen("tcp", cfg.Server.GRPCAddr)
	if err != nil {
		logger.Error("failed to listen on address", "addr", cfg.Server.GRPCAddr, "error", err)
		os.Exit(1)
	}
	grpcServer := grpc.NewServer()
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	reflection.Register(grpcServer)
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	go probeStorage(ctx, a, healthServer, logger)

	var worker *asynq.Server
	if a.Enqueuer != nil {
		worker = asynq.NewServer(jobs.RedisOpt(cfg.Queue), asynq.Config{
			Concurrency: cfg.Queue.Concurrency,
		})
		if err := worker.Start(jobs.NewProcessor(a.Pipeline, logger).Handler()); err != nil {
			logger.Error("failed to start link retry worker", "error", err)
			os.Exit(1)
		}
		logger.Info("link retry worker started", "concurrency", cfg.Queue.Concurrency)
	}

	go func() {
		logger.Info("grpc health listening", "addr", cfg.Server.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC serve error", "error", err)
			stop()
		}
	}()
	go func() {
		logger.Info("receiptsd listening", "addr", cfg.Server.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http serve error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	if worker != nil {
		worker.Shutdown()
	}
	grpcServer.GracefulStop()
}

func probeStorage(ctx context.Context, a *app.App, hs *health.Server, logger *slog.Logger) {
	ticker := time.NewTicker(healthProbeInterval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			err := a.Storage.Ping(ctx, 3*time.Second)
			switch {
			case err != nil && serving:
				logger.Warn("health.storage.down", "error", err)
				hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
				serving = false
			case err == nil && !serving:
				logger.Info("health.storage.up")
				hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
				serving = true
			}
		}
	}
}
