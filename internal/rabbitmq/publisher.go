package rabbitmq

import (
	"context"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Publish sends msg to the queue through the default exchange and waits for
// the broker to confirm it. The publish is mandatory, so a queue deleted
// since it was opened surfaces as a returned message rather than a silent drop.
func (q *Queue) Publish(ctx context.Context, msg amqp.Publishing) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.usable(); err != nil {
		return q.publishError(err, 0)
	}
	if !q.output {
		return q.publishError(ErrAccessMode, 0)
	}

	seq := q.ch.GetNextPublishSeqNo()
	if err := q.ch.PublishWithContext(
		ctx,
		"",     // default exchange
		q.name, // routing key
		true,   // mandatory
		false,  // immediate
		msg,
	); err != nil {
		return q.publishError(err, 0)
	}

	code, err := awaitConfirm(ctx, q.confirms, q.returns, q.confirmTimeout, seq, msg.MessageId)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	}
	return q.publishError(err, code)
}

// awaitConfirm waits for the confirm of delivery tag seq and reports the
// reply code of a matching return. Confirms and returns left over from an
// earlier publish that timed out are skipped. A return always precedes the
// ack of its publish, so buffered returns are drained before an ack counts.
func awaitConfirm(ctx context.Context, confirms <-chan amqp.Confirmation, returns <-chan amqp.Return,
	timeout time.Duration, seq uint64, messageID string) (int, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var returned *amqp.Return
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return 0, amqp.ErrClosed
			}
			if ret.MessageId == messageID {
				returned = &ret
			}

		case confirm, ok := <-confirms:
			if !ok {
				return 0, amqp.ErrClosed
			}
			if confirm.DeliveryTag < seq {
				continue
			}
			if returned == nil {
				returned = pendingReturn(returns, messageID)
			}
			if returned != nil {
				return int(returned.ReplyCode), fmt.Errorf("%w: %s", ErrMandatoryFailed, returned.ReplyText)
			}
			if !confirm.Ack {
				return 0, ErrPublishNotConfirmed
			}
			return 0, nil

		case <-timer.C:
			return 0, ErrPublishTimeout

		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}
}

// pendingReturn drains already buffered returns without blocking and
// reports the one for messageID, if any
func pendingReturn(returns <-chan amqp.Return, messageID string) *amqp.Return {
	for {
		select {
		case ret, ok := <-returns:
			if !ok {
				return nil
			}
			if ret.MessageId == messageID {
				return &ret
			}
		default:
			return nil
		}
	}
}

func (q *Queue) publishError(err error, code int) error {
	return &PublishError{
		RoutingKey: q.name,
		Mandatory:  true,
		Code:       code,
		Err:        err,
		Timestamp:  time.Now(),
	}
}
