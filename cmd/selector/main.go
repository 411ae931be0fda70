package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "masterselector/configs"
	"masterselector/pkg/api"
	"masterselector/pkg/auth"
	"masterselector/pkg/coordination"
	"masterselector/pkg/coordination/etcd"
	"masterselector/pkg/coordination/memory"
	"masterselector/pkg/coordination/zookeeper"
	"masterselector/pkg/logger"
	"masterselector/pkg/master"
	tracing "masterselector/pkg/observability"
)

const serviceName = "masterselector"

func main() {
	cfg := config.LoadConfig()

	log, err := logger.Init(logger.Config{
		Level:      cfg.LogLevel,
		Encoding:   cfg.LogEncoding,
		OutputPath: "stdout",
		Service:    serviceName,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatal("invalid configuration", zap.Error(err))
	}

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tracingCfg := tracing.DefaultConfig(serviceName)
	tracingCfg.Enabled = cfg.TracingEnabled
	tracingCfg.Endpoint = cfg.OTLPEndpoint
	tp, err := tracing.Init(ctx, tracingCfg)
	if err != nil {
		log.Fatal("failed to initialize tracing", zap.Error(err))
	}

	dialer := newDialer(cfg, log)
	selector := master.New(dialer, master.Options{
		Endpoint:             cfg.Endpoint(),
		Address:              cfg.Address(),
		PurgeOnDelete:        cfg.PurgeOnDelete,
		RetryInitialInterval: cfg.RetryInitialInterval,
		RetryMaxInterval:     cfg.RetryMaxInterval,
		Logger:               log.Named("master"),
	})
	if err := selector.Start(ctx); err != nil {
		log.Fatal("failed to start selector", zap.Error(err))
	}
	log.Info("selector started",
		zap.String("backend", cfg.Backend),
		zap.String("endpoint", cfg.Endpoint()),
		zap.String("address", cfg.Address()),
	)

	for _, key := range cfg.MasterServices {
		if err := selector.RunForMaster(key); err != nil {
			log.Error("cannot run for master", zap.String("key", key), zap.Error(err))
		}
	}

	jwtService, err := newJWTService(cfg)
	if err != nil {
		log.Warn("JWT_SECRET not set, mutating API routes are disabled")
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		ServiceName: serviceName,
		Masters:     selector,
		JWT:         jwtService,
		Tracer:      tp.Tracer(),
		Logger:      log.Named("api"),
	})
	go func() {
		if err := server.Start(); err != nil {
			log.Error("server error", zap.Error(err))
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("received signal, shutting down", zap.Stringer("signal", sig))
	case <-selector.Done():
		log.Warn("selector stopped, shutting down")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown error", zap.Error(err))
	}
	if err := selector.Close(); err != nil {
		log.Error("selector close error", zap.Error(err))
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", zap.Error(err))
	}
	cancel()
	log.Info("shutdown complete")
}

func newJWTService(cfg *config.Config) (*auth.JWTService, error) {
	jwtCfg := auth.DefaultJWTConfig(cfg.JWTSecret)
	jwtCfg.TokenExpiry = cfg.JWTTokenExpiry
	return auth.NewJWTService(jwtCfg)
}

func newDialer(cfg *config.Config, log *zap.Logger) coordination.Dialer {
	switch cfg.Backend {
	case config.BackendEtcd:
		return etcd.NewDialer(cfg.EtcdSessionTTL, cfg.OpTimeout, log.Named("etcd"))
	case config.BackendMemory:
		log.Warn("using the in-process coordination service, elections are local to this process")
		return memory.NewServer()
	default:
		return zookeeper.NewDialer(cfg.ZooKeeperSessionTimeout, log.Named("zookeeper"))
	}
}
