package rabbitmq

import (
	"context"
	"errors"
	"net"

	"github.com/glimte/qbridge/internal/rabbitmq"
	"github.com/glimte/qbridge/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// brokerError wraps an AMQP layer error with the queue manager reason it maps to
func brokerError(op string, err error) error {
	code, _ := rabbitmq.ReplyCode(err)
	return &messaging.BrokerError{
		Op:     op,
		Reason: reasonFor(op, err),
		Code:   code,
		Err:    err,
	}
}

// reasonFor maps an AMQP layer error to a queue manager reason code
func reasonFor(op string, err error) messaging.ReasonCode {
	switch {
	case err == nil:
		return messaging.ReasonNone
	case errors.Is(err, rabbitmq.ErrNoMessage):
		return messaging.ReasonNoMessageAvailable
	case errors.Is(err, amqp.ErrVhost):
		return messaging.ReasonQueueManagerNameError
	case errors.Is(err, amqp.ErrClosed),
		errors.Is(err, rabbitmq.ErrConnectionClosed),
		errors.Is(err, rabbitmq.ErrQueueClosed):
		return messaging.ReasonConnectionBroken
	case errors.Is(err, rabbitmq.ErrPublishTimeout),
		errors.Is(err, rabbitmq.ErrPublishNotConfirmed):
		return messaging.ReasonResourceProblem
	}

	if code, ok := rabbitmq.ReplyCode(err); ok {
		switch code {
		case amqp.AccessRefused:
			return messaging.ReasonNotAuthorized
		case amqp.NotFound, amqp.NoRoute:
			return messaging.ReasonUnknownObjectName
		case amqp.ResourceLocked:
			return messaging.ReasonObjectInUse
		case amqp.NotAllowed:
			return messaging.ReasonQueueManagerNameError
		case amqp.ContentTooLarge:
			return messaging.ReasonMessageTooBig
		case amqp.ConnectionForced, amqp.ChannelError:
			return messaging.ReasonConnectionBroken
		case amqp.ResourceError:
			return messaging.ReasonResourceProblem
		}
		return messaging.ReasonUnexpectedError
	}

	if op == "connect" {
		var netErr net.Error
		if errors.As(err, &netErr) || errors.Is(err, context.DeadlineExceeded) {
			return messaging.ReasonHostNotAvailable
		}
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return messaging.ReasonConnectionBroken
	}
	return messaging.ReasonUnexpectedError
}
