package rabbitmq

import (
	"context"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultPollInterval   = 500 * time.Millisecond
	defaultConfirmTimeout = 5 * time.Second
)

// Queue is one queue opened on its own channel. Output queues publish in
// confirm mode; input queues read with basic.get.
type Queue struct {
	name           string
	input          bool
	output         bool
	declare        bool
	pollInterval   time.Duration
	confirmTimeout time.Duration
	logger         *slog.Logger

	ch       *amqp.Channel
	confirms chan amqp.Confirmation
	returns  chan amqp.Return

	mu     sync.Mutex
	closed bool
}

// QueueOption configures a Queue
type QueueOption func(*Queue)

// WithInput opens the queue for gets
func WithInput() QueueOption {
	return func(q *Queue) {
		q.input = true
	}
}

// WithOutput opens the queue for publishes
func WithOutput() QueueOption {
	return func(q *Queue) {
		q.output = true
	}
}

// WithDeclare creates the queue as durable if it does not exist
func WithDeclare(declare bool) QueueOption {
	return func(q *Queue) {
		q.declare = declare
	}
}

// WithPollInterval sets how often an empty queue is polled while a get waits
func WithPollInterval(interval time.Duration) QueueOption {
	return func(q *Queue) {
		if interval > 0 {
			q.pollInterval = interval
		}
	}
}

// WithConfirmTimeout sets how long a publish waits for the broker confirm
func WithConfirmTimeout(timeout time.Duration) QueueOption {
	return func(q *Queue) {
		if timeout > 0 {
			q.confirmTimeout = timeout
		}
	}
}

// WithQueueLogger sets the logger
func WithQueueLogger(logger *slog.Logger) QueueOption {
	return func(q *Queue) {
		q.logger = logger
	}
}

// OpenQueue opens a channel for the named queue and checks that the queue
// exists. The channel is closed again if any step fails.
func (c *Connection) OpenQueue(ctx context.Context, name string, options ...QueueOption) (*Queue, error) {
	q := &Queue{
		name:           name,
		pollInterval:   defaultPollInterval,
		confirmTimeout: defaultConfirmTimeout,
		logger:         c.logger,
	}
	for _, opt := range options {
		opt(q)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	ch, err := c.Channel()
	if err != nil {
		return nil, err
	}
	if err := q.setup(ch); err != nil {
		if !ch.IsClosed() {
			ch.Close()
		}
		return nil, err
	}
	q.ch = ch

	q.logger.Debug("queue opened",
		"queue", name,
		"input", q.input,
		"output", q.output)
	return q, nil
}

func (q *Queue) setup(ch *amqp.Channel) error {
	if _, err := DeclareQueue(ch, q.name, q.declare); err != nil {
		return err
	}

	if q.output {
		if err := ch.Confirm(false); err != nil {
			return &ChannelError{Op: "confirm", Queue: q.name, Err: err, Timestamp: time.Now()}
		}
		q.confirms = ch.NotifyPublish(make(chan amqp.Confirmation, 1))
		q.returns = ch.NotifyReturn(make(chan amqp.Return, 1))
	}
	return nil
}

// Name returns the queue name
func (q *Queue) Name() string {
	return q.name
}

// Close closes the queue's channel. Closing twice is not an error.
func (q *Queue) Close() error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return nil
	}
	q.closed = true

	if q.ch.IsClosed() {
		return nil
	}
	if err := q.ch.Close(); err != nil {
		return &ChannelError{Op: "close", Queue: q.name, Err: err, Timestamp: time.Now()}
	}
	return nil
}

func (q *Queue) usable() error {
	if q.closed {
		return ErrQueueClosed
	}
	if q.ch.IsClosed() {
		return amqp.ErrClosed
	}
	return nil
}
