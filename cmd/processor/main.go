package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"wallet-ledger/config"
	httpHandler "wallet-ledger/internal/adapter/http/handler"
	memStorage "wallet-ledger/internal/adapter/storage/memory"
	pgStorage "wallet-ledger/internal/adapter/storage/postgres"
	redisStorage "wallet-ledger/internal/adapter/storage/redis"
	"wallet-ledger/internal/adapter/stream"
	"wallet-ledger/internal/core/domain"
	"wallet-ledger/internal/core/ports"
	"wallet-ledger/internal/service"
	"wallet-ledger/pkg/logger"
	"wallet-ledger/pkg/retry"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(os.Getenv("WLP_CONFIG"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Log.Level, cfg.Log.Pretty)

	log.Info().
		Str("store", cfg.Store.Driver).
		Str("guard", cfg.Guard.Strategy).
		Bool("cache", cfg.Cache.Enabled).
		Int("workers", cfg.Stream.Workers).
		Msg("Starting wallet ledger processor")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis carries the event streams, so it is always required.
	rdb, err := redisStorage.NewClient(ctx, cfg.Redis, cfg.Stream.Workers, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to Redis")
	}
	defer rdb.Close()
	log.Info().Msg("Redis connected")

	checkers := []ports.HealthChecker{redisStorage.NewHealthCheck(rdb)}

	retrier := retry.New(
		retry.WithAttempts(cfg.Transfer.RetryAttempts),
		retry.WithDelay(cfg.Transfer.RetryDelay),
	)

	opts := []service.Option{
		service.WithRetry(retrier),
		service.WithGuard(buildGuard(cfg, rdb, log)),
	}

	var walletRepo ports.WalletRepository
	switch cfg.Store.Driver {
	case config.StoreDriverPostgres:
		pool, err := pgStorage.NewPool(ctx, cfg.Database, log)
		if err != nil {
			log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
		}
		defer pool.Close()
		log.Info().Msg("PostgreSQL connected")

		if cfg.Database.Migrate {
			if err := pgStorage.Migrate(ctx, pool, log); err != nil {
				log.Fatal().Err(err).Msg("Failed to apply migrations")
			}
		}

		repo := pgStorage.NewWalletRepo(pool)
		walletRepo = repo
		opts = append(opts, service.WithTransferStore(repo))
		checkers = append(checkers, pgStorage.NewHealthCheck(pool))
	default:
		repo := memStorage.NewWalletRepo()
		walletRepo = repo
		opts = append(opts, service.WithTransferStore(repo))
		log.Warn().Msg("Using in-memory wallet store; state is lost on exit")
	}

	if cfg.Cache.Enabled {
		opts = append(opts,
			service.WithIdentityCache(redisStorage.NewIdentityCache(rdb, cfg.Cache.TTL)),
			service.WithCachePrefix(cfg.Cache.Prefix),
			service.WithCacheWriteTimeout(cfg.Cache.WriteTimeout),
		)
	}

	ledger := service.NewLedgerService(walletRepo, logger.WithComponent(log, "ledger"), opts...)

	var deadLetter ports.DeadLetterPublisher
	if cfg.Stream.DeadLetter != "" {
		deadLetter = stream.NewDeadLetterStream(rdb, cfg.Stream.DeadLetter)
	}
	streamLog := logger.WithComponent(log, "stream")
	dispatcher := stream.NewDispatcher(ledger, deadLetter, streamLog)

	consumer := stream.NewConsumer(rdb, stream.Config{
		Group:     cfg.Stream.Group,
		Consumer:  cfg.Stream.Consumer,
		Workers:   cfg.Stream.Workers,
		BatchSize: cfg.Stream.BatchSize,
		Block:     cfg.Stream.Block,
		ClaimIdle: cfg.Stream.ClaimIdle,
		Streams:   streamRoutes(cfg.Stream),
	}, dispatcher, retrier, streamLog)

	router := httpHandler.SetupRouter(httpHandler.RouterDeps{
		Ledger:         ledger,
		HealthCheckers: checkers,
		Mode:           cfg.Server.Mode,
		Logger:         logger.WithComponent(log, "http"),
	})

	srv := &http.Server{
		Addr:              cfg.Server.Addr(),
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info().Str("addr", srv.Addr).Msg("Ops HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("Ops HTTP server failed")
			stop()
		}
	}()

	consumerDone := make(chan error, 1)
	go func() {
		consumerDone <- consumer.Run(ctx)
	}()

	consumerStopped := false
	select {
	case <-ctx.Done():
	case err := <-consumerDone:
		consumerStopped = true
		if err != nil {
			log.Error().Err(err).Str("consumer", consumer.Name()).Msg("Stream consumer failed")
		}
		stop()
	}
	log.Info().Msg("Shutting down processor...")

	// Run drains in-flight handlers before returning.
	if !consumerStopped {
		select {
		case <-consumerDone:
		case <-time.After(shutdownTimeout):
			log.Warn().Msg("Timed out waiting for in-flight events")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Ops server forced to shutdown")
	}

	ledger.Wait()
	log.Info().Msg("Processor exited")
}

func buildGuard(cfg *config.Config, rdb *goredis.Client, log zerolog.Logger) ports.IdentityGuard {
	switch cfg.Guard.Strategy {
	case config.GuardLocal:
		return service.NewLocalGuard()
	case config.GuardRedis:
		lockRetry := retry.New(
			retry.WithAttempts(uint(cfg.Guard.LockTTL/(50*time.Millisecond))+1),
			retry.WithDelay(50*time.Millisecond),
			retry.WithMaxDelay(50*time.Millisecond),
			retry.WithRetryIf(func(err error) bool { return errors.Is(err, redisStorage.ErrLockHeld) }),
		)
		return redisStorage.NewLockGuard(rdb, cfg.Guard.LockTTL, lockRetry, logger.WithComponent(log, "guard"))
	default:
		return service.NopGuard{}
	}
}

func streamRoutes(cfg config.StreamConfig) map[string]domain.EventType {
	routes := map[string]domain.EventType{
		cfg.WalletCreated:    domain.EventWalletCreated,
		cfg.DepositReceived:  domain.EventDepositReceived,
		cfg.PaymentRequested: domain.EventPaymentRequested,
		cfg.IdentityLookup:   domain.EventIdentityLookupRequested,
	}
	delete(routes, "")
	return routes
}
