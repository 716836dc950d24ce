package clients

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"boxoffice/event"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	amqp "github.com/rabbitmq/amqp091-go"
)

const OrderConfirmedQueue = "order.confirmed"

// OrderConfirmed is the message the mailer consumes from RabbitMQ.
type OrderConfirmed struct {
	OrderID       string    `json:"order_id"`
	BuyerRef      string    `json:"buyer_ref"`
	TransactionID string    `json:"transaction_id"`
	Total         string    `json:"total"`
	Currency      string    `json:"currency"`
	TicketCodes   []string  `json:"ticket_codes"`
	ConfirmedAt   time.Time `json:"confirmed_at"`
}

// Notifier publishes order confirmations to a durable RabbitMQ queue.
type Notifier struct {
	conn  *amqp.Connection
	queue string
}

func NewNotifier(amqpURL string) (*Notifier, error) {
	conn, err := amqp.Dial(amqpURL)
	if err != nil {
		return nil, fmt.Errorf("dialing rabbitmq: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		return nil, errors.Join(fmt.Errorf("opening channel: %w", err), conn.Close())
	}
	defer ch.Close()

	if _, err := ch.QueueDeclare(OrderConfirmedQueue, true, false, false, false, nil); err != nil {
		err = fmt.Errorf("declaring queue %s: %w", OrderConfirmedQueue, err)
		return nil, errors.Join(err, conn.Close())
	}

	return &Notifier{
		conn:  conn,
		queue: OrderConfirmedQueue,
	}, nil
}

func (n *Notifier) NotifyOrderConfirmed(ctx context.Context, e event.OrderPaid) error {
	body, err := json.Marshal(NewOrderConfirmed(e))
	if err != nil {
		return fmt.Errorf("marshalling order confirmation: %w", err)
	}

	// Channels are not safe for concurrent use.
	ch, err := n.conn.Channel()
	if err != nil {
		return fmt.Errorf("opening channel: %w", err)
	}
	defer ch.Close()

	err = ch.PublishWithContext(ctx, "", n.queue, false, false, amqp.Publishing{
		ContentType:   "application/json",
		DeliveryMode:  amqp.Persistent,
		MessageId:     e.Header.IdempotencyKey,
		CorrelationId: log.CorrelationIDFromContext(ctx),
		Timestamp:     e.Header.PublishedAt,
		Body:          body,
	})
	if err != nil {
		return fmt.Errorf("publishing order confirmation: %w", err)
	}

	log.FromContext(ctx).WithField("order_id", e.OrderID).Info("Order confirmation published")

	return nil
}

func (n *Notifier) Close() error {
	return n.conn.Close()
}

func NewOrderConfirmed(e event.OrderPaid) OrderConfirmed {
	return OrderConfirmed{
		OrderID:       e.OrderID,
		BuyerRef:      e.BuyerRef,
		TransactionID: e.TransactionID,
		Total:         e.Total.Amount.StringFixed(2),
		Currency:      e.Total.Currency,
		TicketCodes:   e.TicketCodes,
		ConfirmedAt:   e.Header.PublishedAt,
	}
}
