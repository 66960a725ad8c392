// Copyright 2024 Mmate Contributors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package qbridge puts and gets text messages on one queue of a queue manager.
package qbridge

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/glimte/qbridge/internal/reliability"
	"github.com/glimte/qbridge/messaging"
	rabbitmqTransport "github.com/glimte/qbridge/transports/rabbitmq"
)

// StampLayout formats the send time appended by PutStamped
const StampLayout = "Mon Jan 02 2006 15:04:05 GMT-0700"

// Client bridges one queue on one queue manager. It owns a single session.
type Client struct {
	session   *messaging.Session
	connector messaging.Connector
	publisher *messaging.MessagePublisher
	consumer  *messaging.MessageConsumer
	logger    *slog.Logger
	now       func() time.Time
	exitCode  atomic.Int32
}

// ClientOption configures a Client
type ClientOption func(*clientConfig)

type clientConfig struct {
	logger        *slog.Logger
	metrics       messaging.MetricsCollector
	mode          messaging.AccessMode
	connector     messaging.Connector
	retry         reliability.RetryPolicy
	transportOpts []rabbitmqTransport.TransportOption
	now           func() time.Time
}

// WithLogger sets the logger used by the client and everything it creates
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *clientConfig) {
		c.logger = logger
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(metrics messaging.MetricsCollector) ClientOption {
	return func(c *clientConfig) {
		c.metrics = metrics
	}
}

// WithAccessMode sets how the queue is opened. The default is input and output.
func WithAccessMode(mode messaging.AccessMode) ClientOption {
	return func(c *clientConfig) {
		c.mode = mode
	}
}

// WithConnector replaces the RabbitMQ transport
func WithConnector(connector messaging.Connector) ClientOption {
	return func(c *clientConfig) {
		c.connector = connector
	}
}

// WithConnectRetries retries a failed connect up to retries times with
// exponential backoff starting at initial
func WithConnectRetries(retries int, initial time.Duration) ClientOption {
	return func(c *clientConfig) {
		if retries > 0 {
			c.retry = reliability.NewExponentialBackoff(initial, 30*time.Second, 2.0, retries)
		}
	}
}

// WithTransportOptions configures the default RabbitMQ transport
func WithTransportOptions(opts ...rabbitmqTransport.TransportOption) ClientOption {
	return func(c *clientConfig) {
		c.transportOpts = append(c.transportOpts, opts...)
	}
}

// WithClock sets the time source used by PutStamped
func WithClock(now func() time.Time) ClientOption {
	return func(c *clientConfig) {
		c.now = now
	}
}

// NewClient creates a disconnected client for queue on the queue manager named by identity
func NewClient(identity messaging.Identity, queue string, options ...ClientOption) *Client {
	cfg := &clientConfig{
		logger:  slog.Default(),
		metrics: &messaging.NoOpMetricsCollector{},
		mode:    messaging.AccessInputOutput,
		now:     time.Now,
	}
	for _, opt := range options {
		opt(cfg)
	}

	connector := cfg.connector
	if connector == nil {
		opts := append([]rabbitmqTransport.TransportOption{rabbitmqTransport.WithLogger(cfg.logger)}, cfg.transportOpts...)
		connector = rabbitmqTransport.NewTransport(opts...)
	}

	sessionOpts := []messaging.SessionOption{
		messaging.WithSessionLogger(cfg.logger),
		messaging.WithSessionMetrics(cfg.metrics),
	}
	if cfg.retry != nil {
		sessionOpts = append(sessionOpts, messaging.WithConnectRetry(cfg.retry))
	}

	return &Client{
		session:   messaging.NewSession(identity, queue, cfg.mode, sessionOpts...),
		connector: connector,
		publisher: messaging.NewMessagePublisher(
			messaging.WithPublisherLogger(cfg.logger),
			messaging.WithPublisherMetrics(cfg.metrics),
		),
		consumer: messaging.NewMessageConsumer(
			messaging.WithConsumerLogger(cfg.logger),
			messaging.WithConsumerMetrics(cfg.metrics),
		),
		logger: cfg.logger,
		now:    cfg.now,
	}
}

// Connect connects to the queue manager and opens the queue
func (c *Client) Connect(ctx context.Context) error {
	if err := c.session.Open(ctx, c.connector); err != nil {
		var cerr *messaging.ConnectError
		if errors.As(err, &cerr) {
			c.exitCode.Store(1)
		}
		return err
	}
	return nil
}

// Put sends text to the queue
func (c *Client) Put(ctx context.Context, text string) (messaging.Receipt, error) {
	return c.publisher.Put(ctx, c.session, text)
}

// PutStamped sends text followed by a space and the current time
func (c *Client) PutStamped(ctx context.Context, text string) (messaging.Receipt, error) {
	return c.Put(ctx, fmt.Sprintf("%s %s", text, c.now().Format(StampLayout)))
}

// Get runs one receive cycle. A fatal get leaves the client failed; the
// messages received before the failure are still returned.
func (c *Client) Get(ctx context.Context, opts messaging.GetOptions) ([]messaging.Message, error) {
	msgs, err := c.consumer.Get(ctx, c.session, opts)
	var ferr *messaging.FatalGetError
	if errors.As(err, &ferr) {
		c.exitCode.Store(1)
	}
	return msgs, err
}

// Disconnect closes the queue and the connection. It is safe to call repeatedly.
func (c *Client) Disconnect() {
	c.session.Close()
}

// State returns the session state
func (c *Client) State() messaging.SessionState {
	return c.session.State()
}

// Queue returns the queue name
func (c *Client) Queue() string {
	return c.session.Queue()
}

// Identity returns the queue manager identity
func (c *Client) Identity() messaging.Identity {
	return c.session.Identity()
}

// Session exposes the underlying session, e.g. for health checks
func (c *Client) Session() *messaging.Session {
	return c.session
}

// ExitCode is 1 once a connect or a get failed fatally, 0 otherwise
func (c *Client) ExitCode() int {
	return int(c.exitCode.Load())
}

// SendOnce connects with output access, puts text and disconnects
func SendOnce(ctx context.Context, identity messaging.Identity, queue, text string, options ...ClientOption) (messaging.Receipt, error) {
	options = append(options, WithAccessMode(messaging.AccessOutput))
	c := NewClient(identity, queue, options...)
	if err := c.Connect(ctx); err != nil {
		return messaging.Receipt{}, err
	}
	defer c.Disconnect()

	return c.Put(ctx, text)
}
