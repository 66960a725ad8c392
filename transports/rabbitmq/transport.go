package rabbitmq

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/glimte/qbridge/internal/rabbitmq"
	"github.com/glimte/qbridge/messaging"
	amqp "github.com/rabbitmq/amqp091-go"
)

// TransportConfig holds configuration for the transport
type TransportConfig struct {
	ConnectTimeout time.Duration
	ConfirmTimeout time.Duration
	PollInterval   time.Duration
	DeclareQueue   bool
	Logger         *slog.Logger
}

// TransportOption configures the transport
type TransportOption func(*TransportConfig)

// WithConnectTimeout bounds the TCP connect and AMQP handshake
func WithConnectTimeout(timeout time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConnectTimeout = timeout
	}
}

// WithConfirmTimeout bounds the wait for a publish confirm
func WithConfirmTimeout(timeout time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.ConfirmTimeout = timeout
	}
}

// WithPollInterval sets how often an empty queue is polled during a get
func WithPollInterval(interval time.Duration) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.PollInterval = interval
	}
}

// WithDeclareQueue creates missing queues as durable instead of failing the open
func WithDeclareQueue(declare bool) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.DeclareQueue = declare
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) TransportOption {
	return func(cfg *TransportConfig) {
		cfg.Logger = logger
	}
}

// Transport implements messaging.Connector for RabbitMQ. The queue manager
// name selects the virtual host; the channel name and application name are
// sent as client properties.
type Transport struct {
	cfg TransportConfig
}

// NewTransport creates a new RabbitMQ transport
func NewTransport(options ...TransportOption) *Transport {
	cfg := TransportConfig{
		ConnectTimeout: 30 * time.Second,
		ConfirmTimeout: 5 * time.Second,
		PollInterval:   500 * time.Millisecond,
		Logger:         slog.Default(),
	}
	for _, opt := range options {
		opt(&cfg)
	}
	return &Transport{cfg: cfg}
}

// Connect dials the broker named by identity
func (t *Transport) Connect(ctx context.Context, identity messaging.Identity) (messaging.Connection, error) {
	host, port, err := identity.HostPort()
	if err != nil {
		return nil, &messaging.BrokerError{Op: "connect", Reason: messaging.ReasonUnexpectedError, Err: err}
	}

	conn, err := rabbitmq.Dial(ctx, rabbitmq.Config{
		Host:           host,
		Port:           port,
		VHost:          identity.QueueManager,
		User:           identity.UserID,
		Password:       identity.Password,
		ConnectionName: identity.AppName,
		Channel:        identity.Channel,
		ConnectTimeout: t.cfg.ConnectTimeout,
	}, rabbitmq.WithLogger(t.cfg.Logger))
	if err != nil {
		return nil, brokerError("connect", err)
	}

	return &connection{conn: conn, cfg: t.cfg}, nil
}

// connection adapts rabbitmq.Connection to messaging.Connection
type connection struct {
	conn *rabbitmq.Connection
	cfg  TransportConfig
}

func (c *connection) OpenQueue(ctx context.Context, name string, mode messaging.AccessMode) (messaging.QueueHandle, error) {
	opts := []rabbitmq.QueueOption{
		rabbitmq.WithDeclare(c.cfg.DeclareQueue),
		rabbitmq.WithPollInterval(c.cfg.PollInterval),
		rabbitmq.WithConfirmTimeout(c.cfg.ConfirmTimeout),
		rabbitmq.WithQueueLogger(c.cfg.Logger),
	}
	if mode.Allows(messaging.AccessInput) {
		opts = append(opts, rabbitmq.WithInput())
	}
	if mode.Allows(messaging.AccessOutput) {
		opts = append(opts, rabbitmq.WithOutput())
	}

	q, err := c.conn.OpenQueue(ctx, name, opts...)
	if err != nil {
		return nil, brokerError("open", err)
	}
	return &queue{q: q}, nil
}

func (c *connection) Disconnect() error {
	if err := c.conn.Close(); err != nil {
		return brokerError("disconnect", err)
	}
	return nil
}

// queue adapts rabbitmq.Queue to messaging.QueueHandle
type queue struct {
	q *rabbitmq.Queue
}

func (q *queue) Put(ctx context.Context, msg messaging.Outbound) error {
	err := q.q.Publish(ctx, amqp.Publishing{
		MessageId:     messaging.EncodeID(msg.MessageID),
		CorrelationId: messaging.EncodeID(msg.CorrelationID),
		ContentType:   msg.Format,
		DeliveryMode:  amqp.Persistent,
		Timestamp:     msg.Timestamp,
		AppId:         msg.AppName,
		Body:          msg.Body,
	})
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		return brokerError("put", err)
	}
	return nil
}

func (q *queue) Get(ctx context.Context, req messaging.GetRequest) <-chan messaging.GetResult {
	results := make(chan messaging.GetResult, 1)

	var match rabbitmq.Matcher
	if len(req.MatchID) > 0 {
		want := bytes.Clone(req.MatchID)
		match = func(d *amqp.Delivery) bool {
			return bytes.Equal(wireID(d.MessageId), want)
		}
	}

	go func() {
		defer close(results)

		d, err := q.q.Get(ctx, req.Wait, match)
		switch {
		case err == nil:
			results <- messaging.GetResult{Message: inbound(d)}
		case ctx.Err() != nil:
			results <- messaging.GetResult{Err: ctx.Err()}
		default:
			results <- messaging.GetResult{Err: brokerError("get", err)}
		}
	}()

	return results
}

func (q *queue) Close() error {
	if err := q.q.Close(); err != nil {
		return brokerError("close", err)
	}
	return nil
}

func inbound(d *amqp.Delivery) *messaging.Inbound {
	return &messaging.Inbound{
		MessageID:     wireID(d.MessageId),
		CorrelationID: wireID(d.CorrelationId),
		Format:        d.ContentType,
		Body:          d.Body,
	}
}

// wireID recovers id bytes from a message property. Ids set by other
// publishers need not be hex; those are taken verbatim.
func wireID(s string) []byte {
	if s == "" {
		return nil
	}
	if id, err := messaging.DecodeID(s); err == nil {
		return id
	}
	return []byte(s)
}
