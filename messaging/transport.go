package messaging

import (
	"context"
	"time"
)

// Connector establishes connections to a queue manager
type Connector interface {
	// Connect authenticates against the queue manager named by identity
	Connect(ctx context.Context, identity Identity) (Connection, error)
}

// Connection is a live connection handle
type Connection interface {
	// OpenQueue opens a named queue with the given access
	OpenQueue(ctx context.Context, name string, mode AccessMode) (QueueHandle, error)

	// Disconnect releases the connection handle
	Disconnect() error
}

// QueueHandle is an open queue. Calls on one handle must not overlap.
type QueueHandle interface {
	// Put sends a message without syncpoint and returns once the broker accepted it
	Put(ctx context.Context, msg Outbound) error

	// Get starts one asynchronous get. The returned channel yields exactly one
	// result, either a message or an error, and is then closed. An empty queue
	// at the end of the wait is reported as a BrokerError with
	// ReasonNoMessageAvailable.
	Get(ctx context.Context, req GetRequest) <-chan GetResult

	// Close releases the queue handle
	Close() error
}

// Outbound is a message handed to a transport for sending
type Outbound struct {
	MessageID     []byte
	CorrelationID []byte
	Format        string
	Body          []byte
	Timestamp     time.Time
	AppName       string
}

// Inbound is a message delivered by a transport
type Inbound struct {
	MessageID     []byte
	CorrelationID []byte
	Format        string
	Body          []byte
}

// GetRequest describes one get
type GetRequest struct {
	Wait    time.Duration
	MatchID []byte
}

// GetResult completes a get
type GetResult struct {
	Message *Inbound
	Err     error
}
