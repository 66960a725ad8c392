package rabbitmq

import (
	"errors"
	"fmt"
	"net/url"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

var (
	// Connection errors
	ErrConnectionClosed = errors.New("rabbitmq: connection is closed")

	// Queue errors
	ErrQueueClosed = errors.New("rabbitmq: queue is closed")
	ErrAccessMode  = errors.New("rabbitmq: queue not opened for this access")

	// Publish errors
	ErrPublishTimeout      = errors.New("rabbitmq: publish timeout")
	ErrPublishNotConfirmed = errors.New("rabbitmq: publish not confirmed")
	ErrMandatoryFailed     = errors.New("rabbitmq: mandatory publish failed")

	// Get errors
	ErrNoMessage = errors.New("rabbitmq: no message available")
)

// ConnectionError represents a connection-related error
type ConnectionError struct {
	Op        string    // Operation that failed
	URL       string    // Connection URL (sanitized)
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
	Attempts  int       // Number of attempts made
}

func (e *ConnectionError) Error() string {
	if e.Attempts > 1 {
		return fmt.Sprintf("rabbitmq connection error: %s %s failed after %d attempts: %v", e.Op, e.URL, e.Attempts, e.Err)
	}
	return fmt.Sprintf("rabbitmq connection error: %s %s failed: %v", e.Op, e.URL, e.Err)
}

func (e *ConnectionError) Unwrap() error {
	return e.Err
}

// ChannelError represents a channel-related error
type ChannelError struct {
	Op        string    // Operation that failed
	Queue     string    // Queue the channel serves, if any
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ChannelError) Error() string {
	if e.Queue == "" {
		return fmt.Sprintf("rabbitmq channel error: %s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("rabbitmq channel error: %s for queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *ChannelError) Unwrap() error {
	return e.Err
}

// PublishError represents a publish operation error
type PublishError struct {
	Exchange   string    // Target exchange
	RoutingKey string    // Routing key used
	Mandatory  bool      // Whether mandatory flag was set
	Code       int       // Reply code of a returned message
	Err        error     // Underlying error
	Timestamp  time.Time // When the error occurred
}

func (e *PublishError) Error() string {
	exchange := e.Exchange
	if exchange == "" {
		exchange = "(default)"
	}
	return fmt.Sprintf("rabbitmq publish error: failed to publish to %s/%s (mandatory=%v): %v",
		exchange, e.RoutingKey, e.Mandatory, e.Err)
}

func (e *PublishError) Unwrap() error {
	return e.Err
}

// ConsumerError represents a get-related error
type ConsumerError struct {
	Queue     string    // Queue name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *ConsumerError) Error() string {
	return fmt.Sprintf("rabbitmq consumer error: %s failed on queue %s: %v", e.Op, e.Queue, e.Err)
}

func (e *ConsumerError) Unwrap() error {
	return e.Err
}

// TopologyError represents a queue declaration error
type TopologyError struct {
	Component string    // Component type (queue)
	Name      string    // Component name
	Op        string    // Operation that failed
	Err       error     // Underlying error
	Timestamp time.Time // When the error occurred
}

func (e *TopologyError) Error() string {
	return fmt.Sprintf("rabbitmq topology error: failed to %s %s '%s': %v",
		e.Op, e.Component, e.Name, e.Err)
}

func (e *TopologyError) Unwrap() error {
	return e.Err
}

// ReplyCode returns the AMQP reply code carried by err, if any. Messages
// returned by the broker report the code of the return.
func ReplyCode(err error) (int, bool) {
	var amqpErr *amqp.Error
	if errors.As(err, &amqpErr) {
		return amqpErr.Code, true
	}
	var pubErr *PublishError
	if errors.As(err, &pubErr) && pubErr.Code != 0 {
		return pubErr.Code, true
	}
	return 0, false
}

// SanitizeURL removes credentials from a connection URL
func SanitizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.User(u.User.Username())
	}
	return u.String()
}
