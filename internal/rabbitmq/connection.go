package rabbitmq

import (
	"context"
	"log/slog"
	"net"
	"net/url"
	"strconv"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	defaultConnectTimeout = 30 * time.Second
	defaultHeartbeat      = 10 * time.Second
)

// Config describes how to reach and authenticate against a broker
type Config struct {
	Host     string
	Port     int
	VHost    string
	User     string
	Password string

	// Reported to the broker as client properties
	ConnectionName string
	Channel        string

	ConnectTimeout time.Duration
	Heartbeat      time.Duration
}

// URL returns the amqp URL of the broker without credentials
func (c Config) URL() string {
	u := url.URL{
		Scheme: "amqp",
		Host:   net.JoinHostPort(c.Host, strconv.Itoa(c.Port)),
		Path:   "/",
	}
	return u.String()
}

func (c Config) amqpConfig() amqp.Config {
	props := amqp.NewConnectionProperties()
	if c.ConnectionName != "" {
		props.SetClientConnectionName(c.ConnectionName)
	}
	if c.Channel != "" {
		props["channel"] = c.Channel
	}

	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultConnectTimeout
	}
	heartbeat := c.Heartbeat
	if heartbeat <= 0 {
		heartbeat = defaultHeartbeat
	}

	cfg := amqp.Config{
		Vhost:      c.VHost,
		Heartbeat:  heartbeat,
		Locale:     "en_US",
		Properties: props,
		Dial:       amqp.DefaultDial(timeout),
	}
	if c.User != "" {
		cfg.SASL = []amqp.Authentication{&amqp.PlainAuth{Username: c.User, Password: c.Password}}
	}
	return cfg
}

// Connection is one AMQP connection to a virtual host
type Connection struct {
	cfg         Config
	conn        *amqp.Connection
	logger      *slog.Logger
	notifyClose chan *amqp.Error

	mu     sync.Mutex
	closed bool
}

// ConnectionOption configures the Connection
type ConnectionOption func(*Connection)

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ConnectionOption {
	return func(c *Connection) {
		c.logger = logger
	}
}

// Dial opens a connection. It gives up when ctx is done or the configured
// connect timeout elapses, whichever comes first.
func Dial(ctx context.Context, cfg Config, options ...ConnectionOption) (*Connection, error) {
	c := &Connection{
		cfg:    cfg,
		logger: slog.Default(),
	}
	for _, opt := range options {
		opt(c)
	}

	amqpCfg := cfg.amqpConfig()
	target := SanitizeURL(cfg.URL())

	type result struct {
		conn *amqp.Connection
		err  error
	}
	done := make(chan result, 1)

	go func() {
		conn, err := amqp.DialConfig(cfg.URL(), amqpCfg)
		done <- result{conn: conn, err: err}
	}()

	select {
	case r := <-done:
		if r.err != nil {
			return nil, &ConnectionError{
				Op:        "connect",
				URL:       target,
				Err:       r.err,
				Timestamp: time.Now(),
				Attempts:  1,
			}
		}
		c.conn = r.conn
	case <-ctx.Done():
		// the dial may still succeed; do not leak the socket
		go func() {
			if r := <-done; r.conn != nil {
				r.conn.Close()
			}
		}()
		return nil, &ConnectionError{
			Op:        "connect",
			URL:       target,
			Err:       ctx.Err(),
			Timestamp: time.Now(),
			Attempts:  1,
		}
	}

	c.notifyClose = c.conn.NotifyClose(make(chan *amqp.Error, 1))
	go c.watch()

	c.logger.Info("connected to RabbitMQ",
		"url", target,
		"vhost", cfg.VHost)
	return c, nil
}

// watch logs a close initiated by the broker
func (c *Connection) watch() {
	for err := range c.notifyClose {
		if err != nil {
			c.logger.Error("connection closed by broker",
				"vhost", c.cfg.VHost,
				"code", err.Code,
				"reason", err.Reason)
		}
	}
}

// Channel opens a new AMQP channel on the connection
func (c *Connection) Channel() (*amqp.Channel, error) {
	if c.IsClosed() {
		return nil, &ChannelError{Op: "open", Err: ErrConnectionClosed, Timestamp: time.Now()}
	}
	ch, err := c.conn.Channel()
	if err != nil {
		return nil, &ChannelError{Op: "open", Err: err, Timestamp: time.Now()}
	}
	return ch, nil
}

// IsClosed reports whether the connection was closed by either side
func (c *Connection) IsClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed || c.conn.IsClosed()
}

// Close closes the connection. Closing an already closed connection is not
// an error.
func (c *Connection) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true

	if c.conn.IsClosed() {
		return nil
	}
	if err := c.conn.Close(); err != nil {
		return &ConnectionError{
			Op:        "close",
			URL:       SanitizeURL(c.cfg.URL()),
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	c.logger.Info("disconnected from RabbitMQ", "vhost", c.cfg.VHost)
	return nil
}
