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

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/r2r72/x-sm-backoffice/cmd/console/handlers"
	"github.com/r2r72/x-sm-backoffice/internal/config"
	"github.com/r2r72/x-sm-backoffice/internal/logger"
	"github.com/r2r72/x-sm-backoffice/internal/provider/authsvc"
	"github.com/r2r72/x-sm-backoffice/internal/provider/kratos"
	"github.com/r2r72/x-sm-backoffice/internal/repository/file"
	"github.com/r2r72/x-sm-backoffice/internal/repository/pg"
	"github.com/r2r72/x-sm-backoffice/internal/repository/redis"
	"github.com/r2r72/x-sm-backoffice/internal/service/auth"
	"github.com/r2r72/x-sm-backoffice/internal/service/console"
	"github.com/r2r72/x-sm-backoffice/internal/service/gateway"
	"github.com/r2r72/x-sm-backoffice/internal/service/guard"
	"github.com/r2r72/x-sm-backoffice/internal/service/onboarding"
	"github.com/r2r72/x-sm-backoffice/internal/service/settings"
	"github.com/r2r72/x-sm-backoffice/internal/service/tenant"
)

// stateStore is the durable client state: active shop pointer and subject.
type stateStore interface {
	tenant.PointerStore
	auth.SubjectStore
}

func serve(ctx context.Context, path string) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer func() { _ = log.Sync() }()
	log = log.With(zap.String("app", cfg.App.Name), zap.String("env", cfg.App.Env))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	// === Dependencies ===
	state, closeState, err := openState(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeState()

	provider, err := newProvider(cfg, log)
	if err != nil {
		return err
	}

	tokens := auth.NewTokenStore(provider, log,
		auth.WithRefreshInterval(cfg.Identity.RefreshInterval),
		auth.WithMinValidity(cfg.Identity.MinValidity),
		auth.WithRefreshTimeout(cfg.Gateway.Timeout))
	defer tokens.Clear()

	redirects := &console.Redirects{}
	session := auth.NewSession(provider, tokens, state, redirects, log, auth.SessionConfig{
		HomeURL:     cfg.Identity.HomeURL,
		ExpiryGrace: cfg.Identity.ExpiryGrace,
	})

	serviceGW := gateway.New(gateway.Config{
		Services: cfg.Services.URLs(),
		Timeout:  cfg.Gateway.Timeout,
		Retry: gateway.RetryPolicy{
			MaxAttempts: cfg.Gateway.RetryAttempts,
			BaseDelay:   cfg.Gateway.RetryBaseDelay,
			Multiplier:  cfg.Gateway.RetryMultiplier,
		},
		OnUnauthorized: session.Unauthorized,
	}, tokens, session, state, log)

	userGW := serviceGW
	if !cfg.Gateway.UserFacingRetries {
		userGW = serviceGW.WithRetry(gateway.NoRetry())
	}

	registry := tenant.NewRegistry(tenant.NewAPI(serviceGW), state, log)
	engine := onboarding.NewEngine(onboarding.NewAPI(serviceGW).WithWriter(userGW), log)

	c := console.New(console.Deps{
		Session:   session,
		Registry:  registry,
		Engine:    engine,
		Redirects: redirects,
		Logger:    log,
		Policy: guard.Policy{
			Home:       cfg.Routes.Home,
			Onboarding: cfg.Routes.Onboarding,
			Gated:      cfg.Routes.Gated,
		},
	})

	// === HTTP server ===
	mux := http.NewServeMux()
	handlers.RegisterConsoleRoutes(mux, c, log)
	handlers.RegisterStepRoutes(mux, settings.New(userGW), log)
	mux.Handle("GET /metrics", promhttp.Handler())

	server := &http.Server{
		Addr:         cfg.App.Addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: cfg.Gateway.Timeout*time.Duration(cfg.Gateway.RetryAttempts) + 10*time.Second,
	}

	go c.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		log.Info("console started",
			zap.String("addr", cfg.App.Addr),
			zap.String("identity_provider", cfg.Identity.Provider),
			zap.String("state_backend", cfg.State.Backend),
			zap.String("version", version))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// === Graceful shutdown ===
	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server failed: %w", err)
		}
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	log.Info("console stopped")
	return nil
}

func newProvider(cfg *config.Config, log *zap.Logger) (auth.IdentityProvider, error) {
	switch cfg.Identity.Provider {
	case "kratos":
		return kratos.New(cfg.Identity.KratosURL, cfg.Identity.SessionToken, cfg.Gateway.Timeout, log), nil
	case "authsvc":
		return authsvc.New(cfg.Identity.AuthsvcURL, cfg.Identity.SessionToken, cfg.Gateway.Timeout, log), nil
	default:
		return nil, fmt.Errorf("unknown identity provider %q", cfg.Identity.Provider)
	}
}

func openState(ctx context.Context, cfg *config.Config) (stateStore, func(), error) {
	switch cfg.State.Backend {
	case "file":
		return file.NewStateStore(cfg.State.FilePath, cfg.App.ClientID), func() {}, nil

	case "redis":
		s, err := redis.NewStateStore(ctx, redis.Config{
			Addr:     cfg.State.RedisAddr,
			Password: cfg.State.RedisPassword,
			DB:       cfg.State.RedisDB,
		}, cfg.App.ClientID)
		if err != nil {
			return nil, nil, err
		}
		return s, func() { _ = s.Close() }, nil

	case "postgres":
		db, err := pg.NewDB(ctx, cfg.State.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect to state database: %w", err)
		}
		repo := pg.NewStateRepository(db, cfg.App.ClientID)
		if err := repo.EnsureSchema(ctx); err != nil {
			db.Close()
			return nil, nil, err
		}
		return repo, db.Close, nil

	default:
		return nil, nil, fmt.Errorf("unknown state backend %q", cfg.State.Backend)
	}
}
