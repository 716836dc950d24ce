package message

import (
	"encoding/json"
	"time"

	"github.com/ThreeDotsLabs/go-event-driven/common/log"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/cqrs"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"github.com/lithammer/shortuuid/v3"
	"github.com/sirupsen/logrus"
)

func addMiddlewares(router *message.Router, logger watermill.LoggerAdapter) {
	router.AddMiddleware(correlationIDMiddleware)
	router.AddMiddleware(messageLoggerMiddleware)
	router.AddMiddleware(middleware.Retry{
		MaxRetries:      10,
		InitialInterval: time.Millisecond * 100,
		MaxInterval:     time.Second,
		Multiplier:      2,
		Logger:          logger,
	}.Middleware)
}

func correlationIDMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		correlationID := middleware.MessageCorrelationID(msg)
		if correlationID == "" {
			correlationID = "gen_" + shortuuid.New()
		}

		ctx := log.ContextWithCorrelationID(msg.Context(), correlationID)
		msg.SetContext(ctx)

		return next(msg)
	}
}

// envelope is the part of every event and command payload the logger reads.
type envelope struct {
	Header struct {
		ID             string `json:"id"`
		IdempotencyKey string `json:"idempotency_key"`
	} `json:"header"`
}

func messageFields(msg *message.Message) logrus.Fields {
	fields := logrus.Fields{
		"message_uuid":   msg.UUID,
		"correlation_id": log.CorrelationIDFromContext(msg.Context()),
		"message_name":   cqrs.JSONMarshaler{}.NameFromMessage(msg),
		"handler":        message.HandlerNameFromCtx(msg.Context()),
	}

	var e envelope
	if err := json.Unmarshal(msg.Payload, &e); err == nil {
		if e.Header.ID != "" {
			fields["header_id"] = e.Header.ID
		}
		if e.Header.IdempotencyKey != "" {
			fields["idempotency_key"] = e.Header.IdempotencyKey
		}
	}

	return fields
}

// messageLoggerMiddleware puts a logger carrying the message name and
// idempotency key in the context and logs how each delivery ended.
func messageLoggerMiddleware(next message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		logger := logrus.WithFields(messageFields(msg))
		msg.SetContext(log.ToContext(msg.Context(), logger))

		logger.Info("Handling a message")
		start := time.Now()

		msgs, err := next(msg)

		logger = logger.WithField("duration", time.Since(start))
		if err != nil {
			logger.WithError(err).Error("Message handling error")
		} else {
			logger.Debug("Message handled")
		}

		return msgs, err
	}
}
