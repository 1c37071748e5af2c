package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "seatengine/configs"
	"seatengine/pkg/coordination/etcd"
	"seatengine/pkg/logger"
	"seatengine/pkg/scheduler"
	"seatengine/pkg/storage/postgres"
	"seatengine/pkg/storage/redis"
)

const serviceName = "seatengine-scheduler"

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
	go func() {
		sig := <-sigChan
		log.Info("Received signal, initiating graceful shutdown", zap.String("signal", sig.String()))
		cancel()
	}()

	store, err := postgres.NewPostgresStore(cfg.DSN())
	if err != nil {
		log.Fatal("Failed to initialize storage", zap.Error(err))
	}
	defer store.Close()
	log.Info("Postgres connected & schema initialized")

	queue, err := redis.NewRedisQueue(cfg.RedisAddr())
	if err != nil {
		log.Fatal("Failed to initialize redis queue", zap.Error(err))
	}
	defer queue.Close()
	log.Info("Redis connected")

	etcdCoord, err := etcd.NewEtcdCoordinator(cfg.EtcdEndpoints, cfg.LeaderElectionTTL)
	if err != nil {
		log.Fatal("Failed to connect to etcd", zap.Error(err))
	}
	defer etcdCoord.Close()
	log.Info("Connected to etcd")

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "scheduler"
	}
	nodeID := hostname + "-" + uuid.NewString()[:8]
	election := etcdCoord.NewElection(scheduler.ElectionName)

	log.Info("Requesting leadership", zap.String("node_id", nodeID))
	if err := election.Campaign(ctx, nodeID); err != nil {
		if ctx.Err() != nil {
			log.Info("Shutdown before leadership was acquired")
			return
		}
		log.Fatal("Election campaign failed", zap.Error(err))
	}
	log.Info("Leadership acquired", zap.String("node_id", nodeID))

	core := scheduler.NewCore(cfg, nodeID, store, store, queue, etcdCoord)
	core.Run(ctx, election)

	// resign so another scheduler can take over quickly
	resignCtx, resignCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer resignCancel()
	if err := election.Resign(resignCtx); err != nil {
		log.Warn("Failed to resign leadership", zap.Error(err))
	} else {
		log.Info("Leadership resigned")
	}
	log.Info("Shutdown complete")
}
