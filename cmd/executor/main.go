package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/apportionment"
	"seatengine/pkg/coordination/etcd"
	"seatengine/pkg/executor"
	"seatengine/pkg/logger"
	tracing "seatengine/pkg/observability"
	"seatengine/pkg/storage"
	"seatengine/pkg/storage/postgres"
	"seatengine/pkg/storage/redis"
)

const serviceName = "seatengine-executor"

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

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		log.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()

	archive, err := newArchive(ctx, cfg)
	if err != nil {
		log.Fatal("Failed to initialize run archive", zap.Error(err))
	}
	log.Info("Run archive ready", zap.String("backend", cfg.ArchiveBackend))

	exec := executor.NewExecutor(cfg, executor.Deps{
		Coordinator: etcdCoord,
		Queue:       queue,
		Elections:   store,
		Tallies:     store,
		Results:     store,
		Runs:        store,
		Archive:     archive,
		Engine:      engine,
		Registry:    registry,
	})
	exec.Start(ctx)
	log.Info("Shutdown complete")
}

func newArchive(ctx context.Context, cfg *config.Config) (storage.Archive, error) {
	if cfg.ArchiveBackend == "s3" {
		return storage.NewS3Archive(ctx, storage.S3ArchiveConfig{
			Bucket:   cfg.S3Bucket,
			Prefix:   cfg.S3Prefix,
			Region:   cfg.S3Region,
			Endpoint: cfg.S3Endpoint,
		})
	}
	return storage.NewLocalArchive(cfg.ArchiveDir)
}
