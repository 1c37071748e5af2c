package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/api"
	"seatengine/pkg/apportionment"
	"seatengine/pkg/auth"
	"seatengine/pkg/coordination/etcd"
	"seatengine/pkg/logger"
	tracing "seatengine/pkg/observability"
	"seatengine/pkg/storage/postgres"
	"seatengine/pkg/storage/redis"
)

const serviceName = "seatengine-api"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.Fatal("Failed to load configuration", zap.Error(err))
	}
	log, err := logger.Init(logger.Config{Level: cfg.LogLevel, Encoding: cfg.LogEncoding, OutputPath: "stdout", Service: serviceName})
	if err != nil {
		logger.Fatal("Failed to initialize logger", zap.Error(err))
	}
	defer logger.Sync()
	log.Info("Starting up")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	tp, err := tracing.Init(ctx, tracing.FromConfig(cfg, serviceName))
	if err != nil {
		log.Fatal("Failed to initialize tracing", zap.Error(err))
	}
	defer tp.Shutdown(context.Background())

	policy, opts, err := cfg.Policy.Engine()
	if err != nil {
		log.Fatal("Invalid apportionment policy", zap.Error(err))
	}
	registry, err := cfg.Policy.Registry()
	if err != nil {
		log.Fatal("Invalid apportionment policy", zap.Error(err))
	}
	engine, err := apportionment.NewEngine(apportionment.EngineConfig{
		Policy:  policy,
		Options: opts,
		Tracer:  tp.Tracer(),
		Logger:  log,
	})
	if err != nil {
		log.Fatal("Failed to build apportionment engine", zap.Error(err))
	}

	store, err := postgres.NewPostgresStore(cfg.DSN())
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	log.Info("Postgres connected")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	log.Info("Etcd connected")

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		log.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	log.Info("Redis connected")

	if cfg.JWTSecret == "" {
		log.Fatal("JWT_SECRET is required")
	}
	jwtSvc, err := auth.NewJWTService(auth.DefaultJWTConfig(cfg.JWTSecret))
	if err != nil {
		log.Fatal("Failed to initialize JWT service", zap.Error(err))
	}

	server := api.NewServer(api.Config{
		Port:        cfg.APIPort,
		Elections:   store,
		Tallies:     store,
		Results:     store,
		Runs:        store,
		Queue:       queue,
		Engine:      engine,
		Registry:    registry,
		Coordinator: etcdCoord,
		JWT:         jwtSvc,
		APIKeys:     auth.NewRedisAPIKeyStore(queue.Client()),
		HealthChecks: map[string]api.HealthCheck{
			"postgres": store.Ping,
			"redis":    func(ctx context.Context) error { return queue.Client().Ping(ctx).Err() },
			"etcd": func(ctx context.Context) error {
				_, err := etcdCoord.GetActiveNodes(ctx)
				return err
			},
		},
		Logger: log,
	})

	go func() {
		if err := server.Start(); err != nil {
			log.Error("Server error", zap.Error(err))
			cancel()
		}
	}()

	select {
	case sig := <-sigChan:
		log.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Shutdown error", zap.Error(err))
	}
	log.Info("Shutdown complete")
}
