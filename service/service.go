package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"boxoffice/checkout"
	"boxoffice/clock"
	"boxoffice/command"
	"boxoffice/entity"
	"boxoffice/event"
	"boxoffice/http"
	"boxoffice/message"
	"boxoffice/postgres"
	"boxoffice/redisstore"
	"boxoffice/reservation"
	"boxoffice/stage"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/jmoiron/sqlx"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

type PaymentGateway interface {
	checkout.PaymentGateway
	command.PaymentRefunder
}

type Config struct {
	HTTPAddr           string
	ConfirmationSecret string
	HoldTTL            time.Duration
	SweepInterval      time.Duration
	GatewayTimeout     time.Duration
	CheckoutTTL        time.Duration
	ServiceFeePercent  decimal.Decimal
}

type Service struct {
	msgRouter    *message.Router
	forwarder    *message.Forwarder
	httpRouter   *echo.Echo
	reservations *reservation.Manager
	cfg          Config
}

func New(
	cfg Config,
	logger watermill.LoggerAdapter,
	redisClient *redis.Client,
	db *sqlx.DB,
	gateway PaymentGateway,
	notifier message.OrderNotifier,
) (*Service, error) {
	publisher, err := message.NewRedisPublisher(redisClient, logger)
	if err != nil {
		return nil, err
	}

	eventBus, err := message.NewEventBus(publisher, logger)
	if err != nil {
		return nil, err
	}

	commandBus, err := command.NewBus(publisher, logger)
	if err != nil {
		return nil, fmt.Errorf("creating command bus: %w", err)
	}

	systemClock := clock.NewSystem()
	ledger := postgres.NewLedger(db)
	tiers := postgres.NewTierRepo(db)
	orders := postgres.NewOrderRepo(db, logger)

	reservations := reservation.NewManager(
		ledger,
		redisstore.NewSessionStore(redisClient),
		systemClock,
		reservation.WithHoldTTL(cfg.HoldTTL),
		reservation.WithExpiryHook(func(ctx context.Context, session entity.ReservationSession) error {
			return eventBus.Publish(ctx, event.NewReservationExpired(session))
		}),
	)

	stages := stage.NewController(tiers, eventBus)

	orchestrator := checkout.New(checkout.Deps{
		Catalog:      tiers,
		Inventory:    ledger,
		Reservations: reservations,
		Orders:       orders,
		Gateway:      gateway,
		Refunds:      command.NewRefunds(commandBus),
		Stages:       stages,
		Store:        redisstore.NewCheckoutStore(redisClient, cfg.CheckoutTTL),
		Clock:        systemClock,
	}, checkout.Config{
		ConfirmationSecret: []byte(cfg.ConfirmationSecret),
		GatewayTimeout:     cfg.GatewayTimeout,
		ServiceFeePercent:  cfg.ServiceFeePercent,
	})

	msgRouter, err := message.NewRouter(message.RouterDeps{
		Logger:          logger,
		RedisClient:     redisClient,
		Notifier:        notifier,
		OrderCanceller:  orders,
		PaymentRefunder: gateway,
		Stages:          stages,
	})
	if err != nil {
		return nil, fmt.Errorf("creating message router: %w", err)
	}

	forwarder, err := message.NewForwarder(db, redisClient, logger)
	if err != nil {
		return nil, fmt.Errorf("creating forwarder: %w", err)
	}

	return &Service{
		msgRouter:    msgRouter,
		forwarder:    forwarder,
		httpRouter:   http.NewRouter(orchestrator, ledger),
		reservations: reservations,
		cfg:          cfg,
	}, nil
}

func (s Service) Run(ctx context.Context) error {
	g, runCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := s.msgRouter.Run(runCtx); err != nil {
			return fmt.Errorf("running messaging router: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		if err := s.forwarder.Run(runCtx); err != nil {
			return fmt.Errorf("running outbox forwarder: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		// Expiry events need the router's subscribers in place
		<-s.msgRouter.Running()

		logrus.WithField("interval", s.cfg.SweepInterval).Info("Starting reservation sweeper...")
		return s.reservations.RunSweeper(runCtx, s.cfg.SweepInterval)
	})

	g.Go(func() error {
		// Wait for message router
		<-s.msgRouter.Running()

		logrus.WithField("addr", s.cfg.HTTPAddr).Info("Starting HTTP server...")
		err := s.httpRouter.Start(s.cfg.HTTPAddr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("starting http server: %w", err)
		}

		return nil
	})

	g.Go(func() error {
		<-runCtx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		logrus.Info("Shutting down HTTP server...")
		if err := s.httpRouter.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down http server: %w", err)
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("waiting for shutdown: %w", err)
	}
	logrus.Info("Shutdown complete.")

	return nil
}
