package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"boxoffice/clients"
	"boxoffice/config"
	"boxoffice/message"
	"boxoffice/postgres"
	"boxoffice/service"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	log.Init(logrus.InfoLevel)
	logger := watermill.NewStdLogger(false, false)

	if err := run(logger); err != nil {
		logger.Error("failed to run", err, nil)
		os.Exit(1)
	}
}

func run(logger watermill.LoggerAdapter) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Init(cfg.LogLevel)

	rdb := redis.NewClient(&redis.Options{
		Addr: cfg.RedisAddr,
	})
	defer func() {
		if err := rdb.Close(); err != nil {
			logger.Error("failed to close redis connection", err, nil)
		}
	}()

	dbConn, err := sqlx.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Error("failed to close db connection", err, nil)
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if err := postgres.InitializeSchema(ctx, dbConn); err != nil {
		return fmt.Errorf("initializing schema: %w", err)
	}

	if err := message.InitializeOutbox(dbConn, logger); err != nil {
		return fmt.Errorf("initializing outbox: %w", err)
	}

	gateway, err := clients.New(cfg.GatewayAddr)
	if err != nil {
		return err
	}
	payments := clients.NewPaymentsClient(gateway, cfg.GatewayAddr, nil)

	notifier, err := clients.NewNotifier(cfg.AMQPURL)
	if err != nil {
		return fmt.Errorf("creating notifier: %w", err)
	}
	defer func() {
		if err := notifier.Close(); err != nil {
			logger.Error("failed to close rabbitmq connection", err, nil)
		}
	}()

	svc, err := service.New(service.Config{
		HTTPAddr:           cfg.HTTPAddr,
		ConfirmationSecret: cfg.ConfirmationSecret,
		HoldTTL:            cfg.HoldTTL,
		SweepInterval:      cfg.SweepInterval,
		GatewayTimeout:     cfg.GatewayTimeout,
		CheckoutTTL:        cfg.CheckoutTTL,
		ServiceFeePercent:  cfg.ServiceFeePercent,
	}, logger, rdb, dbConn, payments, notifier)
	if err != nil {
		return fmt.Errorf("creating service: %w", err)
	}

	return svc.Run(ctx)
}
