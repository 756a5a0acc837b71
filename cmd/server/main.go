package main

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/honeynil/ParcelBidService/internal/api"
	"github.com/honeynil/ParcelBidService/internal/config"
	"github.com/honeynil/ParcelBidService/internal/handler"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/auth"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/kafka"
	"github.com/honeynil/ParcelBidService/internal/infrastructure/redis"
	"github.com/honeynil/ParcelBidService/internal/observability"
	"github.com/honeynil/ParcelBidService/internal/repository"
	"github.com/honeynil/ParcelBidService/internal/repository/memory"
	"github.com/honeynil/ParcelBidService/internal/repository/postgres"
	service "github.com/honeynil/ParcelBidService/internal/services"
	_ "github.com/lib/pq"
)

const tokenTTL = time.Hour

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Logs, metrics, traces
	shutdownTracing := observability.Setup(ctx, observability.Options{
		ServiceName:  "parcel-bid-service",
		LogLevel:     cfg.LogLevel,
		MetricsAddr:  cfg.MetricsAddr,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	defer shutdownTracing(context.Background())

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("failed to open storage", "driver", cfg.StorageDriver, "error", err)
		os.Exit(1)
	}
	defer closeStore()

	var redisClient redis.RedisClient
	if cfg.RedisAddr != "" {
		client, err := redis.NewClient(ctx, cfg.RedisAddr)
		if err != nil {
			slog.Error("failed to connect to Redis", "error", err)
			os.Exit(1)
		}
		defer client.Close()
		redisClient = client
	}

	var producer kafka.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		p := kafka.NewProducer(cfg.KafkaBrokers)
		defer p.Close()
		producer = p
	}

	auctionSvc := service.NewAuctionService(store, redisClient, producer, service.AuctionOptions{
		EventsTopic:    cfg.KafkaEventsTopic,
		IdempotencyTTL: cfg.IdempotencyTTL,
	})
	walletSvc := service.NewWalletService(store, redisClient, cfg.BalanceCacheTTL)

	// Top-ups need Redis for deduplication.
	if len(cfg.KafkaBrokers) > 0 && redisClient != nil {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.KafkaTopUpsTopic, cfg.KafkaGroupID, walletSvc, redisClient)
		go consumer.Consume(ctx)
		defer consumer.Close()
	}

	tokens := auth.NewTokenService(cfg.JWTSecret, tokenTTL)
	router := api.SetupRouter(handler.NewHandler(auctionSvc, walletSvc), tokens, redisClient)

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		slog.Info("starting server", "addr", cfg.HTTPAddr, "storage", cfg.StorageDriver)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server failed", "error", err)
			stop()
		}
	}()

	// Graceful shutdown
	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
		return
	}
	slog.Info("server stopped")
}

func openStore(ctx context.Context, cfg *config.Config) (repository.Store, func(), error) {
	if cfg.StorageDriver == config.DriverMemory {
		slog.Warn("using in-memory storage, data is lost on restart")
		store := memory.NewStore()
		if cfg.MemorySeedFile != "" {
			f, err := os.Open(cfg.MemorySeedFile)
			if err != nil {
				return nil, nil, err
			}
			defer f.Close()
			if err := store.LoadSeed(f); err != nil {
				return nil, nil, err
			}
		}
		return store, func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		return nil, nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, err
	}
	if cfg.MigrateOnStart {
		if err := postgres.Migrate(ctx, db); err != nil {
			db.Close()
			return nil, nil, err
		}
	}
	return postgres.NewStore(db), func() { db.Close() }, nil
}
