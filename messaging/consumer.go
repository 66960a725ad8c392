package messaging

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"time"
)

var errGetNoResult = &BrokerError{
	Op:     "get",
	Reason: ReasonUnexpectedError,
	Err:    errors.New("get completed without a message or error"),
}

// MessageConsumer takes messages off an open session
type MessageConsumer struct {
	logger  *slog.Logger
	metrics MetricsCollector
}

// ConsumerOption configures the MessageConsumer
type ConsumerOption func(*MessageConsumer)

// WithConsumerLogger sets the logger
func WithConsumerLogger(logger *slog.Logger) ConsumerOption {
	return func(c *MessageConsumer) {
		c.logger = logger
	}
}

// WithConsumerMetrics sets the metrics collector
func WithConsumerMetrics(metrics MetricsCollector) ConsumerOption {
	return func(c *MessageConsumer) {
		c.metrics = metrics
	}
}

// NewMessageConsumer creates a new message consumer
func NewMessageConsumer(options ...ConsumerOption) *MessageConsumer {
	c := &MessageConsumer{
		logger:  slog.Default(),
		metrics: &NoOpMetricsCollector{},
	}

	for _, opt := range options {
		opt(c)
	}

	return c
}

// Get runs one receive cycle. It keeps issuing gets, each waiting up to
// opts.WaitInterval, until the queue reports no eligible message, opts.Limit
// messages were collected, or a get fails. A cycle with opts.MatchID ends at
// the first match.
//
// An empty queue is not an error: the cycle returns what it collected,
// possibly nothing. Any other broker failure marks the session failed and
// returns the messages collected so far together with a *FatalGetError.
// Cancelling ctx ends the cycle with ctx's error and leaves the session open.
func (c *MessageConsumer) Get(ctx context.Context, s *Session, opts GetOptions) ([]Message, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	handle, release, err := s.acquire(AccessInput)
	if err != nil {
		return nil, err
	}
	defer release()

	start := time.Now()
	codec := NewCodec()
	req := GetRequest{
		Wait:    opts.WaitInterval,
		MatchID: bytes.Clone(opts.MatchID),
	}

	var msgs []Message
	for opts.Limit == 0 || len(msgs) < opts.Limit {
		res, ok := <-handle.Get(ctx, req)
		if !ok {
			res = GetResult{Err: errGetNoResult}
		}

		if res.Err == nil && res.Message != nil {
			msg := codec.Decode(*res.Message)
			c.logger.Debug("message received",
				"queue", s.queue,
				"messageId", msg.HexID(),
				"format", msg.Format(),
				"bytes", msg.Len())
			msgs = append(msgs, msg)
			if len(req.MatchID) > 0 {
				// ids are unique, nothing else can match
				break
			}
			continue
		}
		if res.Err == nil {
			res.Err = errGetNoResult
		}

		if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
			c.record(s, GetOutcomeCancelled, len(msgs), start)
			return msgs, res.Err
		}

		outcome := ClassifyError(res.Err)
		if outcome.Kind == OutcomeNoMessageAvailable {
			c.record(s, c.outcomeFor(msgs), len(msgs), start)
			return msgs, nil
		}

		s.markFailed()
		c.record(s, GetOutcomeFatal, len(msgs), start)
		ferr := &FatalGetError{
			Queue:     s.queue,
			Reason:    outcome.Reason,
			Received:  len(msgs),
			Err:       res.Err,
			Timestamp: time.Now(),
		}
		c.logger.Error("get failed", "queue", s.queue, "reason", outcome.Reason, "error", res.Err)
		return msgs, ferr
	}

	c.record(s, c.outcomeFor(msgs), len(msgs), start)
	return msgs, nil
}

func (c *MessageConsumer) outcomeFor(msgs []Message) string {
	if len(msgs) == 0 {
		return GetOutcomeEmpty
	}
	return GetOutcomeMessages
}

func (c *MessageConsumer) record(s *Session, outcome string, n int, start time.Time) {
	c.metrics.RecordGet(s.queue, outcome, n, time.Since(start))
}
