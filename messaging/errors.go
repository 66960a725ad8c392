package messaging

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Session errors
	ErrSessionNotOpen = errors.New("messaging: session is not open")
	ErrSessionActive  = errors.New("messaging: session is already open")
	ErrAccessMode     = errors.New("messaging: queue not opened for this access")

	// Input errors
	ErrInvalidID            = errors.New("messaging: invalid message id")
	ErrInvalidOptions       = errors.New("messaging: invalid get options")
	ErrInvalidConfiguration = errors.New("messaging: invalid configuration")
)

// BrokerError is how a transport reports a failed broker call
type BrokerError struct {
	Op     string     // Broker call that failed (connect, open, put, get, close, disconnect)
	Reason ReasonCode // Normalized reason
	Code   int        // Transport-native code, 0 if none
	Err    error      // Underlying error
}

func (e *BrokerError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("broker %s failed: reason %d (%s)", e.Op, e.Reason, e.Reason)
	}
	return fmt.Sprintf("broker %s failed: reason %d (%s): %v", e.Op, e.Reason, e.Reason, e.Err)
}

func (e *BrokerError) Unwrap() error {
	return e.Err
}

// ReasonCode returns the normalized reason
func (e *BrokerError) ReasonCode() ReasonCode {
	return e.Reason
}

// ConnectError is returned when connecting or opening the queue failed
type ConnectError struct {
	Op           string // "connect" or "open"
	QueueManager string
	Queue        string
	Reason       ReasonCode
	Err          error
	Timestamp    time.Time
	Attempts     int
}

func (e *ConnectError) Error() string {
	if e.Op == "open" {
		return fmt.Sprintf("open of queue %s on %s failed with reason %d: %v", e.Queue, e.QueueManager, e.Reason, e.Err)
	}
	if e.Attempts > 1 {
		return fmt.Sprintf("connect to %s failed after %d attempts with reason %d: %v", e.QueueManager, e.Attempts, e.Reason, e.Err)
	}
	return fmt.Sprintf("connect to %s failed with reason %d: %v", e.QueueManager, e.Reason, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// ReasonCode returns the broker reason
func (e *ConnectError) ReasonCode() ReasonCode {
	return e.Reason
}

// IsRetryable lets the connect retry policy stop on permanent failures
func (e *ConnectError) IsRetryable() bool {
	return e.Reason.Retryable()
}

// PutError is returned when the broker did not accept a put.
// The session remains usable.
type PutError struct {
	Queue     string
	Reason    ReasonCode
	Err       error
	Timestamp time.Time
}

func (e *PutError) Error() string {
	return fmt.Sprintf("put to queue %s failed with reason %d: %v", e.Queue, e.Reason, e.Err)
}

func (e *PutError) Unwrap() error {
	return e.Err
}

// ReasonCode returns the broker reason
func (e *PutError) ReasonCode() ReasonCode {
	return e.Reason
}

// FatalGetError is returned when a get failed for a reason other than an
// empty queue. Messages collected before the failure are still returned
// alongside it; the session is marked failed.
type FatalGetError struct {
	Queue     string
	Reason    ReasonCode
	Received  int
	Err       error
	Timestamp time.Time
}

func (e *FatalGetError) Error() string {
	return fmt.Sprintf("get from queue %s failed with reason %d after %d messages: %v", e.Queue, e.Reason, e.Received, e.Err)
}

func (e *FatalGetError) Unwrap() error {
	return e.Err
}

// ReasonCode returns the broker reason
func (e *FatalGetError) ReasonCode() ReasonCode {
	return e.Reason
}

// CleanupError records a failed queue close or disconnect. It is logged and
// never returned from Close.
type CleanupError struct {
	Op        string // "close" or "disconnect"
	Queue     string
	Reason    ReasonCode
	Err       error
	Timestamp time.Time
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("%s of queue %s failed with reason %d: %v", e.Op, e.Queue, e.Reason, e.Err)
}

func (e *CleanupError) Unwrap() error {
	return e.Err
}

// ReasonCode returns the broker reason
func (e *CleanupError) ReasonCode() ReasonCode {
	return e.Reason
}

// ReasonOf extracts the reason code carried by err. A nil error has no
// reason; an error that carries none is unexpected.
func ReasonOf(err error) ReasonCode {
	if err == nil {
		return ReasonNone
	}
	var r interface{ ReasonCode() ReasonCode }
	if errors.As(err, &r) {
		return r.ReasonCode()
	}
	return ReasonUnexpectedError
}
