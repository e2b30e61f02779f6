package runtime

import (
	"errors"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	errspkg "github.com/drblury/flowplan/internal/errors"
	idspkg "github.com/drblury/flowplan/internal/runtime/ids"
	loggingpkg "github.com/drblury/flowplan/internal/runtime/logging"
	"github.com/drblury/flowplan/internal/runtime/metadata"
)

// RetryConfig tunes how connectors retry a failed publish.
type RetryConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	// RetryIf decides whether an error is worth retrying. Nil retries
	// everything except serialization errors.
	RetryIf func(error) bool
}

func (cfg RetryConfig) withDefaults() RetryConfig {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

func (cfg RetryConfig) middleware(logger watermill.LoggerAdapter) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Logger:          logger,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return !errors.Is(params.Err, errspkg.ErrSerialization)
		},
	}.Middleware
}

// chain wraps h so the first middleware runs outermost.
func chain(h message.HandlerFunc, mws ...message.HandlerMiddleware) message.HandlerFunc {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware() message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			if msg.Metadata.Get(metadata.KeyCorrelationID) == "" {
				msg.Metadata.Set(metadata.KeyCorrelationID, idspkg.CreateULID())
			}
			return h(msg)
		}
	}
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware(tracer trace.Tracer, spanName string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			ctx, span := tracer.Start(msg.Context(), spanName)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("flowplan.resource", msg.Metadata.Get(metadata.KeyResource)),
				attribute.String("flowplan.sender", msg.Metadata.Get(metadata.KeySender)),
				attribute.String("correlation_id", msg.Metadata.Get(metadata.KeyCorrelationID)),
			)
			msgs, err := h(msg)
			if err != nil {
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
			}
			return msgs, err
		}
	}
}

// logMessagesMiddleware logs every handled message with its metadata.
func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Trace("Handling connector message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"bytes":        len(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}
