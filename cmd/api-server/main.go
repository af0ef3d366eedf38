package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/hackgods/gp-appointment-portal/internal/api"
	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/auth"
	"github.com/hackgods/gp-appointment-portal/internal/cache"
	"github.com/hackgods/gp-appointment-portal/internal/config"
	"github.com/hackgods/gp-appointment-portal/internal/db"
	"github.com/hackgods/gp-appointment-portal/internal/logging"
	redisclient "github.com/hackgods/gp-appointment-portal/internal/redis"
)

var version = "dev"

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("prod", "info", "api-server")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "api-server")
	logger.Info().
		Str("env", cfg.Env).
		Str("http_port", cfg.HTTPPort).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.Timezone).
		Msg("api-server starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, pgPool := openStore(rootCtx, cfg, logger)
	if pgPool != nil {
		defer pgPool.Close()
	}

	var (
		locker     redisclient.Locker
		availCache appointment.Cache
		rdb        *redis.Client
	)
	if cfg.RedisEnabled {
		rdb, err = redisclient.NewRedisClient(rootCtx, cfg, "gp-api-server")
		if err != nil {
			logger.Fatal().Err(err).Msg("redis connection error")
		}
		defer func() {
			if err := rdb.Close(); err != nil {
				logger.Warn().Err(err).Msg("error closing redis")
			}
		}()
		logger.Info().Str("addr", cfg.RedisAddr).Msg("connected to Redis")

		locker = redisclient.NewRedisSlotLocker(rdb, cfg.LockTTL)
		availCache = redisclient.NewByteCache(rdb, "gp:")
	} else {
		logger.Info().Msg("redis disabled, using in-process lock and cache")
		locker = redisclient.NewLocalSlotLocker()
		availCache = cache.NewLRU(cfg.AvailabilityCacheSize, cfg.AvailabilityCacheTTL)
	}

	svc := appointment.NewService(store, locker, availCache, cfg, logger)
	issuer := auth.NewIssuer(cfg.JWTSecret, cfg.JWTIssuer, cfg.SessionTTL)
	authSvc := auth.NewService(store, issuer)

	var (
		dbPing    api.DBPinger
		redisPing api.RedisPinger
	)
	if pgPool != nil {
		dbPing = pgPool
	}
	if rdb != nil {
		redisPing = rdb
	}

	router := api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    authSvc,
		Tokens:  issuer,
		Health:  api.NewHealthHandler(dbPing, redisPing, cfg.Env, version),
		Logger:  logger,
	})

	srv := &http.Server{
		Addr:              ":" + cfg.HTTPPort,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return rootCtx },
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", srv.Addr).Msg("http server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-rootCtx.Done():
		logger.Info().Msg("shutdown signal received")
	case err := <-serveErr:
		if err != nil {
			logger.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("graceful shutdown failed")
		os.Exit(1)
	}

	logger.Info().Msg("api-server stopped")
}

// openStore returns the configured store. The pool is nil for the memory driver.
func openStore(ctx context.Context, cfg config.Config, logger zerolog.Logger) (appointment.Store, *pgxpool.Pool) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		logger.Warn().Msg("using in-memory store, data is lost on restart")
		mem := appointment.NewMemStore()
		if err := seedDemo(mem, cfg.Location, time.Now()); err != nil {
			logger.Fatal().Err(err).Msg("seed in-memory store")
		}
		return mem, nil
	}

	pgCtx, cancelPg := context.WithTimeout(ctx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "gp-api-server"})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	logger.Info().Msg("connected to Postgres")

	if cfg.MigrateOnStart {
		n, err := db.NewMigrator(pgPool, cfg.MigrationsDir).Up(ctx)
		if err != nil {
			pgPool.Close()
			logger.Fatal().Err(err).Msg("migrations failed")
		}
		logger.Info().Int("applied", n).Msg("migrations up to date")
	}

	return appointment.NewPgStore(pgPool), pgPool
}
