package message

import (
	"fmt"

	"boxoffice/command"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-redisstream/pkg/redisstream"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/redis/go-redis/v9"
)

type RouterDeps struct {
	Logger          watermill.LoggerAdapter
	RedisClient     *redis.Client
	Notifier        OrderNotifier
	OrderCanceller  OrderCanceller
	PaymentRefunder command.PaymentRefunder
	Stages          StageReevaluator
}

type Router struct {
	*message.Router
}

func NewRouter(deps RouterDeps) (*Router, error) {
	router, err := message.NewRouter(message.RouterConfig{}, deps.Logger)
	if err != nil {
		return nil, fmt.Errorf("creating router: %w", err)
	}

	addMiddlewares(router, deps.Logger)

	ep, err := cqrs.NewEventProcessorWithConfig(router, cqrs.EventProcessorConfig{
		SubscriberConstructor: func(params cqrs.EventProcessorSubscriberConstructorParams) (message.Subscriber, error) {
			return redisstream.NewSubscriber(redisstream.SubscriberConfig{
				Client:        deps.RedisClient,
				ConsumerGroup: "svc-boxoffice." + params.HandlerName,
			}, deps.Logger)
		},
		GenerateSubscribeTopic: func(params cqrs.EventProcessorGenerateSubscribeTopicParams) (string, error) {
			return params.EventName, nil
		},
		Marshaler: cqrs.JSONMarshaler{
			GenerateName: cqrs.StructName,
		},
		Logger: deps.Logger,
	})
	if err != nil {
		return nil, fmt.Errorf("creating event processor: %w", err)
	}

	h := NewHandler(deps.Stages, deps.OrderCanceller, deps.Notifier)

	err = ep.AddHandlers(
		cqrs.NewEventHandler("reevaluate-stage-on-order-paid", h.ReevaluateStagesOnOrderPaid),
		cqrs.NewEventHandler("cancel-order-on-reservation-expired", h.CancelOrderOnReservationExpired),
		cqrs.NewEventHandler("notify-order-confirmed", h.NotifyOrderConfirmed),
	)
	if err != nil {
		return nil, fmt.Errorf("adding event handlers: %w", err)
	}

	cp, err := cqrs.NewCommandProcessorWithConfig(router, command.NewProcessorConfig(deps.Logger, deps.RedisClient))
	if err != nil {
		return nil, fmt.Errorf("creating command processor: %w", err)
	}

	ch := command.NewHandler(deps.PaymentRefunder)

	err = cp.AddHandlers(
		cqrs.NewCommandHandler("refund-payment", ch.RefundPayment),
	)
	if err != nil {
		return nil, fmt.Errorf("adding command handlers: %w", err)
	}

	return &Router{router}, nil
}
