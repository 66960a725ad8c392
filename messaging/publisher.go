package messaging

import (
	"context"
	"log/slog"
	"time"
)

// MessagePublisher puts text messages on an open session. Every put gets a
// fresh message id and correlation id and is sent without syncpoint, so it
// is visible to consumers as soon as the broker accepts it.
type MessagePublisher struct {
	logger  *slog.Logger
	metrics MetricsCollector
	newID   func() []byte
	now     func() time.Time
}

// PublisherOption configures the MessagePublisher
type PublisherOption func(*MessagePublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *MessagePublisher) {
		p.logger = logger
	}
}

// WithPublisherMetrics sets the metrics collector
func WithPublisherMetrics(metrics MetricsCollector) PublisherOption {
	return func(p *MessagePublisher) {
		p.metrics = metrics
	}
}

// WithIDGenerator replaces the id generator used for message and correlation ids
func WithIDGenerator(gen func() []byte) PublisherOption {
	return func(p *MessagePublisher) {
		p.newID = gen
	}
}

// NewMessagePublisher creates a new message publisher
func NewMessagePublisher(options ...PublisherOption) *MessagePublisher {
	p := &MessagePublisher{
		logger:  slog.Default(),
		metrics: &NoOpMetricsCollector{},
		newID:   NewID,
		now:     time.Now,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// Put sends text to the session's queue and returns the ids it was given.
// The session must be open with output access. A rejected put returns a
// *PutError and leaves the session open.
func (p *MessagePublisher) Put(ctx context.Context, s *Session, text string) (Receipt, error) {
	handle, release, err := s.acquire(AccessOutput)
	if err != nil {
		return Receipt{}, err
	}
	defer release()

	msg := Outbound{
		MessageID:     p.newID(),
		CorrelationID: p.newID(),
		Format:        ContentTypeText,
		Body:          Encode(text),
		Timestamp:     p.now(),
		AppName:       s.identity.AppName,
	}

	start := time.Now()
	err = handle.Put(ctx, msg)
	p.metrics.RecordPut(s.queue, time.Since(start), err == nil)
	if err != nil {
		perr := &PutError{
			Queue:     s.queue,
			Reason:    ReasonOf(err),
			Err:       err,
			Timestamp: time.Now(),
		}
		p.logger.Error("put failed", "queue", s.queue, "reason", perr.Reason, "error", err)
		return Receipt{}, perr
	}

	p.logger.Debug("message put",
		"queue", s.queue,
		"messageId", EncodeID(msg.MessageID),
		"correlationId", EncodeID(msg.CorrelationID),
		"bytes", len(msg.Body))

	return Receipt{
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		Timestamp:     msg.Timestamp,
	}, nil
}
