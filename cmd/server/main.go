package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"secret.share/config"
	"secret.share/internal/api"
	"secret.share/internal/auth"
	"secret.share/internal/crypto"
	"secret.share/internal/logging"
	"secret.share/internal/ratelimit"
	"secret.share/internal/services"
	"secret.share/internal/store"
)

const shutdownTimeout = 10 * time.Second

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("config: %w", err)
	}

	log, err := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	tokens, err := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err != nil {
		return fmt.Errorf("token issuer: %w", err)
	}

	var limiter *ratelimit.Limiter
	if cfg.RateLimit.Enabled {
		limiter = ratelimit.New(cfg.RateLimit.Policies())
	}

	hasher := crypto.NewHasher(cfg.Secrets.BcryptCost)
	secrets := services.NewSecretService(st, limiter, hasher, log, services.SecretOptions{
		MaxContentBytes: cfg.Secrets.MaxContentBytes,
		MaxTitleLength:  cfg.Secrets.MaxTitleLength,
		SlugBytes:       cfg.Secrets.SlugBytes,
		DefaultPageSize: cfg.Secrets.DefaultPageSize,
		MaxPageSize:     cfg.Secrets.MaxPageSize,
	})
	accounts := services.NewAccountService(st, limiter, hasher, tokens, log)

	h := api.NewHandler(secrets, accounts, st, cfg, log)
	router := api.SetupRouter(h, limiter, tokens, log)

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	log.Info(ctx, "server starting",
		"addr", cfg.Addr(),
		"base_url", cfg.Server.BaseURL,
		"store", cfg.Store.Type,
		"rate_limit", cfg.RateLimit.Enabled,
	)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	if limiter != nil && cfg.RateLimit.PurgeInterval > 0 {
		g.Go(func() error {
			limiter.Run(gctx, cfg.RateLimit.PurgeInterval)
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		log.Info(context.Background(), "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

func initStore(ctx context.Context, cfg *config.Config) (store.Store, error) {
	switch cfg.Store.Type {
	case "redis":
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return st, nil
	case "postgres":
		st, err := store.NewPostgresStore(ctx, cfg.Store.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("postgres connection failed: %w", err)
		}
		return st, nil
	default:
		return store.NewMemoryStore(), nil
	}
}
