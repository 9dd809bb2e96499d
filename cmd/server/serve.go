// Copyright 2026 The OpenTrusty Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opentrusty/authgateway/internal/audit"
	"github.com/opentrusty/authgateway/internal/authz"
	"github.com/opentrusty/authgateway/internal/config"
	"github.com/opentrusty/authgateway/internal/gateway"
	"github.com/opentrusty/authgateway/internal/identity"
	"github.com/opentrusty/authgateway/internal/observability/logger"
	"github.com/opentrusty/authgateway/internal/observability/metrics"
	"github.com/opentrusty/authgateway/internal/observability/tracing"
	"github.com/opentrusty/authgateway/internal/seed"
	"github.com/opentrusty/authgateway/internal/store/memory"
	"github.com/opentrusty/authgateway/internal/store/postgres"
	redisstore "github.com/opentrusty/authgateway/internal/store/redis"
	"github.com/opentrusty/authgateway/internal/token"
	transportHTTP "github.com/opentrusty/authgateway/internal/transport/http"
)

const shutdownTimeout = 30 * time.Second

// backingStore is what both the memory and the postgres store provide.
type backingStore interface {
	identity.CredentialStore
	identity.AccountSource
	authz.RoleRepository
	authz.AssignmentRepository
}

func runServe() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	logger.InitLogger(logger.Config{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		ServiceName: cfg.Observability.ServiceName,
		OTel:        cfg.Observability.OTELEnabled,
	})
	slog.Info("starting authgateway",
		logger.Mode(cfg.Gateway.Mode),
		logger.String("store", cfg.Store.Driver),
		logger.String("lockout_backend", cfg.Lockout.Backend),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	tracer, err := tracing.New(ctx, tracing.Config{
		Enabled:        cfg.Observability.OTELEnabled,
		ServiceName:    cfg.Observability.ServiceName,
		ServiceVersion: cfg.Observability.ServiceVersion,
		SamplingRate:   cfg.Observability.SamplingRate,
	})
	if err != nil {
		slog.Error("failed to initialize tracer", logger.Error(err))
		tracer = tracing.Noop()
	}
	defer func() { _ = tracer.Shutdown(context.Background()) }()

	if cfg.Observability.OTELEnabled {
		mp, err := metrics.NewProvider(ctx, cfg.Observability.ServiceName, cfg.Observability.ServiceVersion)
		if err != nil {
			slog.Error("failed to initialize meter provider", logger.Error(err))
		} else {
			defer func() { _ = mp.Shutdown(context.Background()) }()
		}
	}
	instruments, err := metrics.NewInstruments(metrics.New(metrics.Config{
		Enabled: cfg.Observability.OTELEnabled,
	}, cfg.Observability.ServiceName))
	if err != nil {
		slog.Error("failed to initialize metrics", logger.Error(err))
		instruments = metrics.Noop()
	}

	auditLogger := audit.NewSlogLogger(nil)
	hasher := newHasher(cfg)

	store, closeStore, err := openStore(ctx, cfg, hasher)
	if err != nil {
		return err
	}
	defer closeStore()

	credentials, closeCredentials, err := openCredentialStore(ctx, cfg, store)
	if err != nil {
		return err
	}
	defer closeCredentials()

	verifier, err := identity.NewVerifier(
		credentials,
		hasher,
		identity.NewLockoutPolicy(cfg.Lockout.Threshold, cfg.Lockout.Duration),
		auditLogger,
	)
	if err != nil {
		return err
	}

	var resolver authz.PermissionResolver = authz.NewResolver(store, store)
	if cfg.Permissions.CacheSize > 0 {
		resolver = authz.NewCachedResolver(resolver, cfg.Permissions.CacheSize, cfg.Permissions.CacheTTL)
	}

	secret := []byte(cfg.Token.SigningSecret)
	handler := transportHTTP.NewHandler(transportHTTP.Deps{
		Credentials: verifier,
		Issuer:      token.NewIssuer(secret, cfg.Token.Issuer, cfg.Token.TTL),
		Tokens:      token.NewVerifier(secret, cfg.Token.Issuer),
		Permissions: resolver,
		AuditLogger: auditLogger,
		Metrics:     instruments,
		Tracer:      tracer,
		Mode:        cfg.Gateway.Mode,
	})

	trusted, err := cfg.RateLimit.TrustedPrefixes()
	if err != nil {
		return err
	}
	rateLimiter := transportHTTP.NewRateLimiter(cfg.RateLimit.RequestsPerSecond, cfg.RateLimit.Burst)
	defer rateLimiter.Stop()

	routerCfg := transportHTTP.RouterConfig{
		RateLimiter:    rateLimiter,
		RequestTimeout: cfg.Server.WriteTimeout,
		TrustedProxies: trusted,
	}
	if cfg.Gateway.Mode == config.ModeGateway {
		proxy, err := gateway.New(gateway.Config{
			UpstreamURL: cfg.Gateway.UpstreamURL,
			Timeout:     cfg.Gateway.UpstreamTimeout,
		}, instruments, auditLogger)
		if err != nil {
			return err
		}
		routerCfg.Proxy = proxy
		routerCfg.UpstreamPrefix = cfg.Gateway.UpstreamPrefix
		slog.Info("forwarding enabled",
			logger.Upstream(cfg.Gateway.UpstreamURL),
			logger.Path(cfg.Gateway.UpstreamPrefix),
		)
	}

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      transportHTTP.NewRouter(handler, routerCfg),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("starting http server", logger.Component("server"), logger.Operation("listen"), logger.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		slog.Info("shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("server stopped")
	return nil
}

func openStore(ctx context.Context, cfg *config.Config, hasher *identity.PasswordHasher) (backingStore, func(), error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, nil, err
		}
		slog.Info("connected to database")
		return postgres.NewStore(db), db.Close, nil

	default:
		store := memory.New()
		if cfg.Store.SeedFile != "" {
			doc, err := seed.LoadFile(cfg.Store.SeedFile)
			if err != nil {
				return nil, nil, err
			}
			if err := doc.Apply(ctx, store, hasher); err != nil {
				return nil, nil, fmt.Errorf("failed to apply seed file: %w", err)
			}
			slog.Info("seed file applied",
				logger.String("path", cfg.Store.SeedFile),
				slog.Int("users", len(doc.Users)),
				slog.Int("roles", len(doc.Roles)),
			)
		} else {
			slog.Warn("memory store has no accounts; set SEED_FILE")
		}
		return store, func() {}, nil
	}
}

func openCredentialStore(ctx context.Context, cfg *config.Config, store backingStore) (identity.CredentialStore, func(), error) {
	if cfg.Lockout.Backend != config.LockoutBackendRedis {
		return store, func() {}, nil
	}

	client, err := redisstore.Connect(ctx, cfg.Redis.URL)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("lockout state kept in redis")
	// Idle counters expire a day after the lock would.
	retention := cfg.Lockout.Duration + 24*time.Hour
	return redisstore.NewLockoutStore(client, store, retention), func() { _ = client.Close() }, nil
}
