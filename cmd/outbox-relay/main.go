package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"github.com/hackgods/gp-appointment-portal/internal/appointment"
	"github.com/hackgods/gp-appointment-portal/internal/config"
	"github.com/hackgods/gp-appointment-portal/internal/db"
	"github.com/hackgods/gp-appointment-portal/internal/events"
	"github.com/hackgods/gp-appointment-portal/internal/logging"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLogger := logging.New("prod", "info", "outbox-relay")
		bootLogger.Fatal().Err(err).Msg("config load error")
	}

	logger := logging.New(cfg.Env, cfg.LogLevel, "outbox-relay")
	if cfg.StoreDriver != config.StoreDriverPostgres {
		logger.Fatal().Str("store", cfg.StoreDriver).Msg("outbox relay requires the postgres store")
	}
	logger.Info().
		Dur("interval", cfg.RelayInterval).
		Int("batch_size", cfg.RelayBatchSize).
		Str("exchange", cfg.EventsExchange).
		Msg("outbox-relay starting up")

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgCtx, cancelPg := context.WithTimeout(rootCtx, 10*time.Second)
	pgPool, err := db.ConnectPostgres(pgCtx, cfg.PostgresDSN, db.PoolOptions{AppName: "gp-outbox-relay", MaxConns: 2})
	cancelPg()
	if err != nil {
		logger.Fatal().Err(err).Msg("postgres connection error")
	}
	defer pgPool.Close()
	logger.Info().Msg("connected to Postgres")

	publisher, err := events.NewAMQPPublisher(cfg.RabbitMQURL, cfg.EventsExchange)
	if err != nil {
		logger.Fatal().Err(err).Msg("rabbitmq connection error")
	}
	defer publisher.Close()
	logger.Info().Msg("connected to RabbitMQ")

	relay := events.NewRelay(appointment.NewPgStore(pgPool), publisher, cfg.RelayBatchSize, logger)
	relay.Run(rootCtx, cfg.RelayInterval)
}
