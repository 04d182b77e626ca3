// Package main implements quarryd, the Quarry mining pool daemon. It
// runs the Stratum V1 server, the share ledger, and the payout engine in
// a single process against one Bitcoin full node.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/btcsuite/btcd/chaincfg"

	"github.com/quarrypool/quarry/internal/config"
	"github.com/quarrypool/quarry/internal/events"
	"github.com/quarrypool/quarry/internal/ledger"
	"github.com/quarrypool/quarry/internal/metrics"
	"github.com/quarrypool/quarry/internal/node"
	"github.com/quarrypool/quarry/internal/payout"
	"github.com/quarrypool/quarry/internal/store"
	"github.com/quarrypool/quarry/internal/stratum"
	"github.com/quarrypool/quarry/pkg/log"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger := log.New(cfg.ServiceName, cfg.Version, cfg.LogLevel, cfg.LogFormat)
	logger.Info("starting quarryd",
		"version", cfg.Version,
		"environment", cfg.Environment,
		"listen_addr", cfg.ListenAddr,
		"listen_port", cfg.ListenPort,
	)

	params := chainParams(cfg.Environment)

	// Connect to the full node
	nodeClient, err := node.NewRPCClient(&node.RPCConfig{
		Host:     cfg.NodeRPCHost,
		Port:     cfg.NodeRPCPort,
		User:     cfg.NodeRPCUser,
		Password: cfg.NodeRPCPassword,
		Timeout:  cfg.NodeRPCTimeout,
		Params:   params,
	})
	if err != nil {
		logger.WithError(err).Error("failed to create node client")
		os.Exit(1)
	}
	defer nodeClient.Close()

	// Assemble the event sink chain
	var sinks []events.Sink
	if cfg.KafkaEnabled {
		sinks = append(sinks, events.NewKafkaSink(cfg.KafkaBrokers, logger))
	}
	if cfg.InfluxURL != "" {
		recorder, err := metrics.NewInfluxRecorder(&metrics.Config{
			URL:    cfg.InfluxURL,
			Token:  cfg.InfluxToken,
			Org:    cfg.InfluxOrg,
			Bucket: cfg.InfluxBucket,
		})
		if err != nil {
			logger.WithError(err).Error("failed to connect to InfluxDB")
			os.Exit(1)
		}
		sinks = append(sinks, metrics.NewEventBridge(recorder))
	}

	var sink events.Sink = events.NopSink{}
	if len(sinks) > 0 {
		sink = events.NewMultiSink(sinks...)
	}
	defer func() {
		if err := sink.Close(); err != nil {
			logger.WithError(err).Error("failed to close event sink")
		}
	}()

	// Optional audit trail in Postgres
	var (
		shareWriter  ledger.ShareWriter
		payoutWriter payout.PayoutWriter
	)
	if cfg.PostgresURL != "" {
		pg, err := store.NewPostgresClient(cfg.PostgresURL)
		if err != nil {
			logger.WithError(err).Error("failed to connect to Postgres")
			os.Exit(1)
		}
		defer pg.Close()

		schemaCtx, schemaCancel := context.WithTimeout(context.Background(), 30*time.Second)
		if err := pg.EnsureSchema(schemaCtx); err != nil {
			schemaCancel()
			logger.WithError(err).Error("failed to ensure database schema")
			os.Exit(1)
		}
		schemaCancel()

		shareWriter = store.NewShareRepository(pg)
		payoutWriter = store.NewPayoutRepository(pg)
	}

	// Optional hashrate cache in Redis
	var cache ledger.HashrateCache
	if cfg.RedisAddr != "" {
		redisCache, err := store.NewRedisCache(cfg.RedisAddr)
		if err != nil {
			logger.WithError(err).Error("failed to connect to Redis")
			os.Exit(1)
		}
		defer redisCache.Close()
		cache = redisCache
	}

	shares := ledger.New(&ledger.Config{
		HashrateWindow: cfg.HashrateWindow,
		RewardWindow:   cfg.RewardWindow,
		FeePercent:     cfg.PoolFeePercent,
	}, sink, logger, shareWriter, cache)

	payoutEngine := payout.New(&payout.Config{
		MinPayout: cfg.MinPayout,
		BatchSize: cfg.MaxPayoutsPerTx,
		Interval:  cfg.PayoutInterval,
	}, shares, nodeClient, sink, logger, payoutWriter)

	server := stratum.New(&stratum.Config{
		ListenAddr:       cfg.ListenAddr,
		ListenPort:       cfg.ListenPort,
		PoolAddress:      cfg.PoolAddress,
		ShareDifficulty:  cfg.ShareDifficulty,
		TemplateInterval: cfg.TemplateInterval,
		DifficultyPoll:   cfg.DifficultyPoll,
		IdleTimeout:      cfg.IdleTimeout,
		WriteTimeout:     cfg.WriteTimeout,
		ChainParams:      params,
	}, nodeClient, shares, sink, logger, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := server.Start(ctx); err != nil {
		logger.WithError(err).Error("failed to start Stratum server")
		os.Exit(1)
	}

	go payoutEngine.Run(ctx)

	// Block notifications over ZMQ cut template latency between polls
	var notifier *node.BlockNotifier
	if cfg.NodeZMQAddr != "" {
		notifier, err = node.NewBlockNotifier(cfg.NodeZMQAddr, logger)
		if err != nil {
			logger.WithError(err).Error("failed to create block notifier")
			os.Exit(1)
		}
		go func() {
			err := notifier.Listen(ctx, func(blockHash string) {
				server.RefreshJob(ctx)
			})
			if err != nil && ctx.Err() == nil {
				logger.WithError(err).Error("block notifier stopped")
			}
		}()
	}

	// Wait for shutdown signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("shutdown signal received")

	cancel()
	server.Stop()
	if notifier != nil {
		if err := notifier.Close(); err != nil {
			logger.WithError(err).Error("failed to close block notifier")
		}
	}

	logger.Info("quarryd stopped")
}

// chainParams maps the configured environment to network parameters.
func chainParams(environment string) *chaincfg.Params {
	switch environment {
	case "testnet":
		return &chaincfg.TestNet3Params
	case "regtest":
		return &chaincfg.RegressionNetParams
	default:
		return &chaincfg.MainNetParams
	}
}
