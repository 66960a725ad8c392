package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/glimte/qbridge/internal/reliability"
)

// SessionState is the lifecycle state of a Session
type SessionState int32

const (
	StateClosed SessionState = iota
	StateConnecting
	StateOpen
	StateClosing
	StateFailed
)

func (s SessionState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateFailed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Session owns one connection handle and one queue handle. Identity, queue
// name and access mode are fixed at construction. Put, Get and Close are
// serialized on the session.
type Session struct {
	identity Identity
	queue    string
	mode     AccessMode
	logger   *slog.Logger
	metrics  MetricsCollector
	retry    reliability.RetryPolicy

	mu     sync.Mutex
	state  atomic.Int32
	conn   Connection
	handle QueueHandle
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLogger sets the logger
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		s.logger = logger
	}
}

// WithSessionMetrics sets the metrics collector
func WithSessionMetrics(metrics MetricsCollector) SessionOption {
	return func(s *Session) {
		s.metrics = metrics
	}
}

// WithConnectRetry retries failed connects according to policy. Reasons
// that cannot succeed on retry stop it early.
func WithConnectRetry(policy reliability.RetryPolicy) SessionOption {
	return func(s *Session) {
		s.retry = policy
	}
}

// NewSession creates a closed session for queue on the queue manager named by identity
func NewSession(identity Identity, queue string, mode AccessMode, options ...SessionOption) *Session {
	s := &Session{
		identity: identity,
		queue:    queue,
		mode:     mode,
		logger:   slog.Default(),
		metrics:  &NoOpMetricsCollector{},
		retry:    reliability.NewFixedDelay(0, 0),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Identity returns the queue manager identity
func (s *Session) Identity() Identity { return s.identity }

// Queue returns the queue name
func (s *Session) Queue() string { return s.queue }

// Mode returns the access mode the queue is opened with
func (s *Session) Mode() AccessMode { return s.mode }

// State returns the current lifecycle state
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

func (s *Session) setState(state SessionState) {
	if SessionState(s.state.Swap(int32(state))) == state {
		return
	}
	s.metrics.RecordSessionState(s.queue, state)
}

// Open connects to the queue manager and opens the queue. If the connect
// fails the queue is never opened; if the open fails the connection is
// released again. Either failure leaves the session failed.
func (s *Session) Open(ctx context.Context, connector Connector) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.State() {
	case StateConnecting, StateOpen, StateClosing:
		return ErrSessionActive
	}
	if err := s.validate(); err != nil {
		return err
	}
	if s.handle != nil || s.conn != nil {
		// failed by a get, still holding the old handles
		s.release()
	}

	s.setState(StateConnecting)
	s.logger.Info("connecting to queue manager",
		"queueManager", s.identity.QueueManager,
		"endpoint", s.identity.Endpoint,
		"channel", s.identity.Channel,
		"queue", s.queue)

	conn, attempts, err := s.connect(ctx, connector)
	if err != nil {
		s.setState(StateFailed)
		cerr := &ConnectError{
			Op:           "connect",
			QueueManager: s.identity.QueueManager,
			Queue:        s.queue,
			Reason:       ReasonOf(err),
			Err:          err,
			Timestamp:    time.Now(),
			Attempts:     attempts,
		}
		s.logger.Error("connect failed", "queueManager", s.identity.QueueManager, "reason", cerr.Reason, "error", err)
		return cerr
	}
	s.logger.Info("connected to queue manager", "queueManager", s.identity.QueueManager)

	handle, err := conn.OpenQueue(ctx, s.queue, s.mode)
	if err != nil {
		if derr := conn.Disconnect(); derr != nil {
			s.logCleanup("disconnect", derr)
		}
		s.setState(StateFailed)
		cerr := &ConnectError{
			Op:           "open",
			QueueManager: s.identity.QueueManager,
			Queue:        s.queue,
			Reason:       ReasonOf(err),
			Err:          err,
			Timestamp:    time.Now(),
			Attempts:     1,
		}
		s.logger.Error("queue open failed", "queue", s.queue, "reason", cerr.Reason, "error", err)
		return cerr
	}

	s.conn = conn
	s.handle = handle
	s.setState(StateOpen)
	s.logger.Info("opened queue", "queue", s.queue, "mode", s.mode)
	return nil
}

func (s *Session) validate() error {
	if err := s.identity.Validate(); err != nil {
		return err
	}
	if s.queue == "" {
		return fmt.Errorf("%w: queue name is required", ErrInvalidConfiguration)
	}
	if s.mode&AccessInputOutput == 0 {
		return fmt.Errorf("%w: access mode %s", ErrInvalidConfiguration, s.mode)
	}
	return nil
}

func (s *Session) connect(ctx context.Context, connector Connector) (Connection, int, error) {
	var (
		conn     Connection
		lastErr  error
		attempts int
	)

	err := reliability.Retry(ctx, s.retry, func() error {
		attempts++
		c, err := connector.Connect(ctx, s.identity)
		if err != nil {
			lastErr = err
			reason := ReasonOf(err)
			s.logger.Warn("connect attempt failed", "attempt", attempts, "reason", reason, "error", err)
			return reliability.RetryableError{Err: err, Retryable: reason.Retryable()}
		}
		conn = c
		return nil
	})
	if conn != nil {
		return conn, attempts, nil
	}
	if lastErr == nil {
		lastErr = err
	}
	return nil, attempts, lastErr
}

// Close closes the queue, then disconnects. Both steps always run; failures
// are logged and swallowed. Handles are released on the first call, so
// later calls do nothing.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.handle == nil && s.conn == nil {
		if s.State() == StateFailed {
			s.setState(StateClosed)
		}
		return
	}
	s.release()
}

// release closes the held handles. The caller must hold the session lock.
func (s *Session) release() {
	handle, conn := s.handle, s.conn
	s.handle, s.conn = nil, nil
	s.setState(StateClosing)

	s.logger.Info("disconnecting from queue manager", "queueManager", s.identity.QueueManager, "queue", s.queue)
	if handle != nil {
		if err := handle.Close(); err != nil {
			s.logCleanup("close", err)
		} else {
			s.logger.Debug("queue closed", "queue", s.queue)
		}
	}
	if conn != nil {
		if err := conn.Disconnect(); err != nil {
			s.logCleanup("disconnect", err)
		} else {
			s.logger.Debug("disconnected", "queueManager", s.identity.QueueManager)
		}
	}
	s.setState(StateClosed)
}

func (s *Session) logCleanup(op string, err error) {
	cerr := &CleanupError{
		Op:        op,
		Queue:     s.queue,
		Reason:    ReasonOf(err),
		Err:       err,
		Timestamp: time.Now(),
	}
	s.logger.Warn("cleanup step failed", "op", op, "reason", cerr.Reason, "error", cerr)
}

// acquire locks the session for one operation that needs want access. The
// returned release func must be called when the operation is done.
func (s *Session) acquire(want AccessMode) (QueueHandle, func(), error) {
	s.mu.Lock()
	if s.State() != StateOpen || s.handle == nil {
		s.mu.Unlock()
		return nil, nil, ErrSessionNotOpen
	}
	if !s.mode.Allows(want) {
		s.mu.Unlock()
		return nil, nil, fmt.Errorf("%w: need %s, queue %s opened for %s", ErrAccessMode, want, s.queue, s.mode)
	}
	return s.handle, s.mu.Unlock, nil
}

// markFailed records a fatal error. The caller must hold the session lock.
func (s *Session) markFailed() {
	s.setState(StateFailed)
}
