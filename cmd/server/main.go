package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/atmx/wager-engine/internal/api"
	"github.com/atmx/wager-engine/internal/archive"
	"github.com/atmx/wager-engine/internal/auth"
	"github.com/atmx/wager-engine/internal/config"
	"github.com/atmx/wager-engine/internal/events"
	"github.com/atmx/wager-engine/internal/exchange"
	"github.com/atmx/wager-engine/internal/ledger"
	"github.com/atmx/wager-engine/internal/lock"
	"github.com/atmx/wager-engine/internal/registry"
	"github.com/atmx/wager-engine/internal/store"
)

func main() {
	configPath := flag.String("config", "wager.toml", "path to TOML config file (optional)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		slog.Error("wager-engine exited", "err", err)
		os.Exit(1)
	}
	fmt.Println("wager-engine stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	var cleanup []func()
	defer func() {
		for i := len(cleanup) - 1; i >= 0; i-- {
			cleanup[i]()
		}
	}()

	// --- Initialize state ---
	var (
		st  store.Store
		led ledger.Ledger
		reg registry.Registry
	)
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.New(ctx, cfg.Postgres.URL)
		if err != nil {
			return fmt.Errorf("database connection failed: %w", err)
		}
		cleanup = append(cleanup, pool.Close)
		if cfg.Postgres.Migrate {
			if err := store.Migrate(ctx, pool); err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
		}
		st = store.NewPostgresStore(pool)
		led = ledger.NewPostgresLedger(pool)
		reg = registry.NewPostgresRegistry(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("postgres.url not set, using in-memory state (data will not persist)")
		st = store.NewMemoryStore()
		led = ledger.NewMemoryLedger()
		reg = registry.NewMemoryRegistry()
	}

	// --- Redis: cache, lock, event relay ---
	var (
		rdb *redis.Client
		bus *events.RedisBus
	)
	if cfg.Redis.URL != "" {
		opt, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("invalid redis url: %w", err)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping: %w", err)
		}
		st = store.NewCachedStore(st, rdb, cfg.Redis.CacheTTL)
		bus = events.NewRedisBus(rdb, cfg.Redis.EventsChannel, logger)
		slog.Info("Redis enabled", "lock", cfg.Redis.Lock, "channel", cfg.Redis.EventsChannel)
	}

	// --- Engine ---
	httpCfg := api.Config{
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
		FaucetEnabled:  cfg.Faucet.Enabled,
	}
	hub := api.NewWSHub(httpCfg.AllowOrigin)

	publisher := events.Fanout{hub}
	if bus != nil {
		publisher = append(publisher, bus)
	}
	opts := []exchange.Option{
		exchange.WithLogger(logger),
		exchange.WithPublisher(publisher),
	}
	if cfg.Redis.Lock {
		opts = append(opts, exchange.WithLocker(lock.NewRedisLocker(rdb, cfg.Redis.LockRetry)))
	}
	engine, err := exchange.NewEngine(exchange.Config{
		Operator:    cfg.Exchange.OperatorAddress(),
		Escrow:      cfg.Exchange.EscrowAddress(),
		AmountScale: cfg.Exchange.AmountScale,
		LockKey:     cfg.Exchange.LockKey,
		LockTTL:     cfg.Exchange.LockTTL,
	}, st, led, reg, opts...)
	if err != nil {
		return err
	}
	if err := engine.SyncMetrics(ctx); err != nil {
		return fmt.Errorf("sync metrics: %w", err)
	}

	// --- Auth ---
	var sessions *auth.Sessions
	verifierOpts := []auth.VerifierOption{}
	if rdb != nil {
		verifierOpts = append(verifierOpts, auth.WithNonces(auth.NewRedisNonces(rdb)))
	}
	if cfg.Auth.SessionSecret != "" {
		sessions, err = auth.NewSessions(cfg.Auth.SessionSecret, cfg.Auth.SessionTTL)
		if err != nil {
			return err
		}
		verifierOpts = append(verifierOpts, auth.WithSessions(sessions))
	}
	if !cfg.Auth.RequireSignature {
		slog.Warn("auth.require_signature is off; the address header is trusted as is")
	}
	verifier := auth.NewVerifier(cfg.Auth.RequireSignature, cfg.Auth.MaxSkew, verifierOpts...)

	// --- HTTP ---
	srv := &http.Server{
		Addr:        cfg.Server.Addr(),
		Handler:     api.NewServer(engine, hub, verifier, sessions, httpCfg, logger).Router(),
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		hub.Run(ctx)
		return nil
	})

	if bus != nil {
		g.Go(func() error {
			return bus.Relay(ctx, hub)
		})
	}

	if cfg.S3.Bucket != "" {
		blobs, err := archive.NewS3Store(ctx, archive.S3Config{
			Bucket:          cfg.S3.Bucket,
			Region:          cfg.S3.Region,
			Endpoint:        cfg.S3.Endpoint,
			AccessKeyID:     cfg.S3.AccessKeyID,
			SecretAccessKey: cfg.S3.SecretAccessKey,
			UsePathStyle:    cfg.S3.UsePathStyle,
		})
		if err != nil {
			return err
		}
		if err := blobs.Health(ctx); err != nil {
			slog.Warn("archive bucket not reachable yet, will retry on flush", "err", err)
		}
		archiver := archive.New(engine, blobs, cfg.S3.Prefix, cfg.S3.BatchSize, cfg.S3.Interval, logger)
		g.Go(func() error {
			return archiver.Run(ctx)
		})
		slog.Info("event archive enabled", "bucket", cfg.S3.Bucket, "prefix", cfg.S3.Prefix)
	}

	g.Go(func() error {
		slog.Info("wager-engine listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown.
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down wager-engine...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	return g.Wait()
}
