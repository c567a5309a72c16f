package main

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cacheadapter "github.com/smallbiznis/httpauth/internal/adapter/cache"
	"github.com/smallbiznis/httpauth/internal/bootstrap"
	"github.com/smallbiznis/httpauth/internal/config"
	httptransport "github.com/smallbiznis/httpauth/internal/http"
	"github.com/smallbiznis/httpauth/internal/http/handler"
	httpmiddleware "github.com/smallbiznis/httpauth/internal/http/middleware"
	"github.com/smallbiznis/httpauth/internal/identity"
	"github.com/smallbiznis/httpauth/internal/options"
	"github.com/smallbiznis/httpauth/internal/policy"
	"github.com/smallbiznis/httpauth/internal/repository"
	"github.com/smallbiznis/httpauth/internal/server"
	"github.com/smallbiznis/httpauth/internal/service"
	"github.com/smallbiznis/httpauth/internal/session"
	"github.com/smallbiznis/httpauth/internal/telemetry"
)

func main() {
	app := fx.New(
		fx.Provide(
			newConfig,
			newLogger,
			newTelemetry,
			newSnowflake,
			newPGXPool,
			newAccountRepository,
			newRedisClient,
			newOptionsRepository,
			newOptionsStore,
			newPolicyEngine,
			newSessionManager,
			newHeaderConfig,
			newCookieConfig,
			newRateLimiter,
			service.NewAuthService,
			service.NewSettingsService,
			handler.NewAuthHandler,
			handler.NewOptionsHandler,
			httpmiddleware.NewSession,
			httptransport.NewRouter,
			server.NewHTTPServer,
		),
		fx.Invoke(useTelemetry, bootstrap.MigrateOptions, bootstrap.EnsureAdmin, startHTTPServer),
	)

	app.Run()
}

func newConfig() (config.Config, error) {
	return config.Load()
}

func newLogger(cfg config.Config) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.IsDevelopment() {
		logger, err = zap.NewDevelopment()
	} else {
		logger, err = zap.NewProduction()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

func newTelemetry(lc fx.Lifecycle, cfg config.Config, logger *zap.Logger) (*telemetry.Provider, error) {
	provider, err := telemetry.New(context.Background(), cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("telemetry init: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(ctx context.Context) error {
			stopCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			defer cancel()
			return provider.Shutdown(stopCtx)
		},
	})

	return provider, nil
}

func newSnowflake() (*snowflake.Node, error) {
	return snowflake.NewNode(1)
}

func newPGXPool(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := repository.EnsureSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})

	return pool, nil
}

func newAccountRepository(pool *pgxpool.Pool) repository.AccountRepository {
	return repository.NewPostgresAccountRepo(pool)
}

// newRedisClient returns nil when no Redis address is configured.
func newRedisClient(lc fx.Lifecycle, cfg config.Config) (redis.UniversalClient, error) {
	if cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newOptionsRepository(lc fx.Lifecycle, cfg config.Config, pool *pgxpool.Pool, client redis.UniversalClient, logger *zap.Logger) (repository.OptionsRepository, error) {
	var repo repository.OptionsRepository
	switch cfg.OptionsBackend {
	case config.BackendBadger:
		db, err := repository.OpenBadger(cfg.BadgerDir)
		if err != nil {
			return nil, err
		}
		lc.Append(fx.Hook{
			OnStop: func(context.Context) error {
				return db.Close()
			},
		})
		repo = repository.NewBadgerOptionsRepo(db, cfg.OptionsKey)
	default:
		repo = repository.NewPostgresOptionsRepo(pool, cfg.OptionsKey)
	}

	if client != nil {
		repo = cacheadapter.NewOptionsCache(repo, client, cfg.OptionsKey, cfg.OptionsCacheTTL, logger)
	}
	logger.Info("options repository ready",
		zap.String("backend", cfg.OptionsBackend),
		zap.Bool("cache", client != nil),
	)
	return repo, nil
}

func newOptionsStore(repo repository.OptionsRepository, cfg config.Config, logger *zap.Logger) *options.Store {
	return options.NewStore(repo, options.Defaults(cfg.SiteURL), logger)
}

func newPolicyEngine(accounts repository.AccountRepository, node *snowflake.Node, cfg config.Config, logger *zap.Logger) *policy.Engine {
	return policy.NewEngine(accounts, node, cfg.DefaultRole, logger)
}

func newSessionManager(cfg config.Config) (*session.Manager, error) {
	return session.NewManager([]byte(cfg.SessionSecret), cfg.SiteURL, cfg.SessionTTL)
}

func newHeaderConfig(cfg config.Config, logger *zap.Logger) (identity.HeaderConfig, error) {
	prefixes, err := identity.ParsePrefixes(cfg.TrustedProxies)
	if err != nil {
		return identity.HeaderConfig{}, fmt.Errorf("parse TRUSTED_PROXIES: %w", err)
	}
	switch {
	case cfg.TrustAllPeers:
		logger.Warn("identity headers accepted from every peer")
	case len(prefixes) == 0:
		logger.Warn("TRUSTED_PROXIES is empty; header login is disabled")
	}
	return identity.HeaderConfig{
		Headers: map[string]string{
			identity.FieldRemoteUser:         cfg.RemoteUserHeader,
			identity.FieldRedirectRemoteUser: cfg.RedirectRemoteUserHeader,
		},
		TrustedProxies: prefixes,
		TrustAllPeers:  cfg.TrustAllPeers,
	}, nil
}

func newCookieConfig(cfg config.Config) handler.CookieConfig {
	return handler.CookieConfig{Secure: cfg.CookieSecure}
}

func newRateLimiter(cfg config.Config) *httpmiddleware.RateLimiter {
	return httpmiddleware.NewRateLimiter(cfg.RateLimitRPM)
}

func startHTTPServer(lc fx.Lifecycle, srv *server.HTTPServer, cfg config.Config, logger *zap.Logger) {
	addr := ":" + cfg.HTTPPort
	var (
		cancel context.CancelFunc
		done   chan struct{}
	)

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			runCtx, stop := context.WithCancel(context.Background())
			cancel = stop
			done = make(chan struct{})

			go func() {
				if err := srv.Run(runCtx, addr); err != nil {
					logger.Error("http server stopped", zap.Error(err))
				}
				close(done)
			}()

			return nil
		},
		OnStop: func(ctx context.Context) error {
			if cancel != nil {
				cancel()
			}
			if done == nil {
				return nil
			}
			select {
			case <-done:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		},
	})
}

func useTelemetry(provider *telemetry.Provider, engine *policy.Engine, auth *service.AuthService) {
	engine.SetTracer(provider.Tracer("policy"))
	auth.SetTracer(provider.Tracer("service"))
}
