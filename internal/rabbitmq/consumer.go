package rabbitmq

import (
	"context"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// Matcher selects the deliveries a get may take
type Matcher func(d *amqp.Delivery) bool

// Get takes one matching delivery off the queue, waiting up to wait for one
// to arrive. The queue is polled with basic.get every poll interval. The
// delivery taken is acked before Get returns. Deliveries that do not match
// are held for the rest of the pass and then requeued, so the queue order
// is kept.
//
// An empty queue at the end of the wait is reported as ErrNoMessage. A nil
// match takes the first delivery.
func (q *Queue) Get(ctx context.Context, wait time.Duration, match Matcher) (*amqp.Delivery, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if err := q.usable(); err != nil {
		return nil, q.getError("get", err)
	}
	if !q.input {
		return nil, q.getError("get", ErrAccessMode)
	}

	deadline := time.Now().Add(wait)
	for {
		d, err := q.pass(match)
		if err != nil || d != nil {
			return d, err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ErrNoMessage
		}

		timer := time.NewTimer(min(q.pollInterval, remaining))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		}
	}
}

// pass reads the queue until it finds a match or runs dry
func (q *Queue) pass(match Matcher) (*amqp.Delivery, error) {
	var held []amqp.Delivery
	defer func() {
		for _, d := range held {
			if err := d.Nack(false, true); err != nil {
				q.logger.Warn("requeue failed", "queue", q.name, "messageId", d.MessageId, "error", err)
			}
		}
	}()

	for {
		d, ok, err := q.ch.Get(q.name, false)
		if err != nil {
			return nil, q.getError("get", err)
		}
		if !ok {
			return nil, nil
		}
		if match != nil && !match(&d) {
			held = append(held, d)
			continue
		}
		if err := d.Ack(false); err != nil {
			return nil, q.getError("ack", err)
		}
		return &d, nil
	}
}

func (q *Queue) getError(op string, err error) error {
	return &ConsumerError{
		Queue:     q.name,
		Op:        op,
		Err:       err,
		Timestamp: time.Now(),
	}
}
