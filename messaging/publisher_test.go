package messaging

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockMetrics struct {
	mock.Mock
}

func (m *mockMetrics) RecordPut(queue string, duration time.Duration, success bool) {
	m.Called(queue, duration, success)
}

func (m *mockMetrics) RecordGet(queue string, outcome string, messages int, duration time.Duration) {
	m.Called(queue, outcome, messages, duration)
}

func (m *mockMetrics) RecordSessionState(queue string, state SessionState) {}

func sequentialIDs() func() []byte {
	var n byte
	return func() []byte {
		n++
		return bytes.Repeat([]byte{n}, 4)
	}
}

func TestMessagePublisher(t *testing.T) {
	t.Run("NewMessagePublisher creates with defaults", func(t *testing.T) {
		p := NewMessagePublisher()

		assert.NotNil(t, p.logger)
		assert.NotNil(t, p.metrics)
		assert.Len(t, p.newID(), 16)
	})

	t.Run("Put assigns fresh ids and a text format", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessOutput)
		p := NewMessagePublisher(WithIDGenerator(sequentialIDs()))

		first, err := p.Put(context.Background(), s, "hello")
		require.NoError(t, err)
		second, err := p.Put(context.Background(), s, "world")
		require.NoError(t, err)

		assert.Equal(t, []byte{1, 1, 1, 1}, first.MessageID)
		assert.Equal(t, []byte{2, 2, 2, 2}, first.CorrelationID)
		assert.Equal(t, "03030303", second.HexMessageID())
		assert.False(t, first.Timestamp.IsZero())

		require.Equal(t, 2, b.depth("DEV.QUEUE.1"))
		stored := b.queues["DEV.QUEUE.1"][0]
		assert.Equal(t, first.MessageID, stored.MessageID)
		assert.Equal(t, first.CorrelationID, stored.CorrelationID)
		assert.Equal(t, ContentTypeText, stored.Format)
		assert.Equal(t, []byte("hello"), stored.Body)
	})

	t.Run("default ids are unique per put", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessOutput)
		p := NewMessagePublisher()

		seen := map[string]bool{}
		for i := 0; i < 10; i++ {
			r, err := p.Put(context.Background(), s, "x")
			require.NoError(t, err)
			assert.NotEqual(t, r.MessageID, r.CorrelationID)
			assert.False(t, seen[r.HexMessageID()])
			seen[r.HexMessageID()] = true
		}
	})

	t.Run("Put requires an open session", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := NewSession(b.identity(), "DEV.QUEUE.1", AccessOutput)

		_, err := NewMessagePublisher().Put(context.Background(), s, "hello")
		assert.ErrorIs(t, err, ErrSessionNotOpen)
	})

	t.Run("Put requires output access", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)

		_, err := NewMessagePublisher().Put(context.Background(), s, "hello")
		assert.ErrorIs(t, err, ErrAccessMode)
		assert.Zero(t, b.depth("DEV.QUEUE.1"))
	})

	t.Run("rejected put keeps the session open", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessOutput)
		b.set(func(b *fakeBroker) {
			b.putErr = &BrokerError{Op: "put", Reason: ReasonResourceProblem, Err: assert.AnError}
		})
		metrics := &mockMetrics{}
		metrics.On("RecordPut", "DEV.QUEUE.1", mock.AnythingOfType("time.Duration"), false).Once()

		_, err := NewMessagePublisher(WithPublisherMetrics(metrics)).Put(context.Background(), s, "hello")

		var putErr *PutError
		require.ErrorAs(t, err, &putErr)
		assert.Equal(t, ReasonResourceProblem, putErr.Reason)
		assert.Equal(t, "DEV.QUEUE.1", putErr.Queue)
		assert.ErrorIs(t, err, assert.AnError)
		assert.Equal(t, StateOpen, s.State())
		metrics.AssertExpectations(t)
	})

	t.Run("successful put is recorded", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessOutput)
		metrics := &mockMetrics{}
		metrics.On("RecordPut", "DEV.QUEUE.1", mock.AnythingOfType("time.Duration"), true).Once()

		_, err := NewMessagePublisher(WithPublisherMetrics(metrics)).Put(context.Background(), s, "hello")

		require.NoError(t, err)
		metrics.AssertExpectations(t)
	})
}
