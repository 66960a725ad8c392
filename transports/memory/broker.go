// Package memory provides an in-process queue manager implementing
// messaging.Connector. It keeps messages only for the life of the process
// and is meant for tests and local development.
package memory

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/glimte/qbridge/messaging"
)

// Broker is an in-memory queue manager
type Broker struct {
	queueManager string
	users        map[string]string
	maxLength    int

	mu      sync.Mutex
	queues  map[string][]messaging.Inbound
	changed chan struct{}
	conns   map[*connection]struct{}
}

// BrokerOption configures the Broker
type BrokerOption func(*Broker)

// WithQueueManager sets the only queue manager name the broker accepts
func WithQueueManager(name string) BrokerOption {
	return func(b *Broker) {
		b.queueManager = name
	}
}

// WithQueues defines queues up front
func WithQueues(names ...string) BrokerOption {
	return func(b *Broker) {
		for _, n := range names {
			b.queues[n] = nil
		}
	}
}

// WithUser adds a user. Once any user exists, connects must authenticate.
func WithUser(userID, password string) BrokerOption {
	return func(b *Broker) {
		b.users[userID] = password
	}
}

// WithMaxMessageLength rejects larger puts with ReasonMessageTooBig
func WithMaxMessageLength(n int) BrokerOption {
	return func(b *Broker) {
		b.maxLength = n
	}
}

// NewBroker creates an empty broker for queue manager QM1
func NewBroker(options ...BrokerOption) *Broker {
	b := &Broker{
		queueManager: "QM1",
		users:        make(map[string]string),
		queues:       make(map[string][]messaging.Inbound),
		changed:      make(chan struct{}),
		conns:        make(map[*connection]struct{}),
	}
	for _, opt := range options {
		opt(b)
	}
	return b
}

// Depth returns the number of messages on queue
func (b *Broker) Depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

// Connections returns the number of connections not yet disconnected
func (b *Broker) Connections() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.conns)
}

// DropConnections breaks every live connection, as a queue manager restart
// would. Later calls on them fail with ReasonConnectionBroken.
func (b *Broker) DropConnections() {
	b.mu.Lock()
	conns := b.conns
	b.conns = make(map[*connection]struct{})
	close(b.changed)
	b.changed = make(chan struct{})
	b.mu.Unlock()

	for c := range conns {
		c.mu.Lock()
		c.closed = true
		c.mu.Unlock()
	}
}

// Enqueue puts a message on queue as another application would. The queue
// is created if needed.
func (b *Broker) Enqueue(queue string, msg messaging.Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enqueueLocked(queue, msg)
}

func (b *Broker) enqueueLocked(queue string, msg messaging.Inbound) {
	b.queues[queue] = append(b.queues[queue], msg)
	close(b.changed)
	b.changed = make(chan struct{})
}

// Connect implements messaging.Connector
func (b *Broker) Connect(ctx context.Context, identity messaging.Identity) (messaging.Connection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if identity.QueueManager != b.queueManager {
		return nil, &messaging.BrokerError{
			Op:     "connect",
			Reason: messaging.ReasonQueueManagerNameError,
			Err:    fmt.Errorf("unknown queue manager %q", identity.QueueManager),
		}
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.users) > 0 {
		if pw, ok := b.users[identity.UserID]; !ok || pw != identity.Password {
			return nil, &messaging.BrokerError{
				Op:     "connect",
				Reason: messaging.ReasonNotAuthorized,
				Err:    fmt.Errorf("user %q not authorized", identity.UserID),
			}
		}
	}
	c := &connection{broker: b}
	b.conns[c] = struct{}{}
	return c, nil
}

type connection struct {
	broker *Broker

	mu     sync.Mutex
	closed bool
}

func (c *connection) broken(op string) error {
	return &messaging.BrokerError{Op: op, Reason: messaging.ReasonConnectionBroken}
}

func (c *connection) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *connection) OpenQueue(ctx context.Context, name string, mode messaging.AccessMode) (messaging.QueueHandle, error) {
	if c.isClosed() {
		return nil, c.broken("open")
	}
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.queues[name]; !ok {
		return nil, &messaging.BrokerError{
			Op:     "open",
			Reason: messaging.ReasonUnknownObjectName,
			Err:    fmt.Errorf("queue %q does not exist", name),
		}
	}
	return &queue{conn: c, name: name, mode: mode}, nil
}

func (c *connection) Disconnect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return c.broken("disconnect")
	}
	c.closed = true

	c.broker.mu.Lock()
	delete(c.broker.conns, c)
	c.broker.mu.Unlock()
	return nil
}

type queue struct {
	conn *connection
	name string
	mode messaging.AccessMode
}

func (q *queue) Put(ctx context.Context, msg messaging.Outbound) error {
	if q.conn.isClosed() {
		return q.conn.broken("put")
	}
	b := q.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.maxLength > 0 && len(msg.Body) > b.maxLength {
		return &messaging.BrokerError{
			Op:     "put",
			Reason: messaging.ReasonMessageTooBig,
			Err:    fmt.Errorf("%d bytes exceeds %d", len(msg.Body), b.maxLength),
		}
	}
	b.enqueueLocked(q.name, messaging.Inbound{
		MessageID:     bytes.Clone(msg.MessageID),
		CorrelationID: bytes.Clone(msg.CorrelationID),
		Format:        msg.Format,
		Body:          bytes.Clone(msg.Body),
	})
	return nil
}

func (q *queue) Get(ctx context.Context, req messaging.GetRequest) <-chan messaging.GetResult {
	results := make(chan messaging.GetResult, 1)

	go func() {
		defer close(results)

		timer := time.NewTimer(req.Wait)
		defer timer.Stop()

		for {
			if q.conn.isClosed() {
				results <- messaging.GetResult{Err: q.conn.broken("get")}
				return
			}
			msg, changed := q.take(req.MatchID)
			if msg != nil {
				results <- messaging.GetResult{Message: msg}
				return
			}

			select {
			case <-changed:
			case <-timer.C:
				results <- messaging.GetResult{Err: &messaging.BrokerError{
					Op:     "get",
					Reason: messaging.ReasonNoMessageAvailable,
				}}
				return
			case <-ctx.Done():
				results <- messaging.GetResult{Err: ctx.Err()}
				return
			}
		}
	}()

	return results
}

func (q *queue) take(match []byte) (*messaging.Inbound, <-chan struct{}) {
	b := q.conn.broker
	b.mu.Lock()
	defer b.mu.Unlock()

	msgs := b.queues[q.name]
	for i, m := range msgs {
		if len(match) > 0 && !bytes.Equal(m.MessageID, match) {
			continue
		}
		b.queues[q.name] = append(msgs[:i:i], msgs[i+1:]...)
		return &m, nil
	}
	return nil, b.changed
}

func (q *queue) Close() error {
	if q.conn.isClosed() {
		return q.conn.broken("close")
	}
	return nil
}
