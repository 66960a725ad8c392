package messaging

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestMessageConsumer(t *testing.T) {
	ctx := context.Background()

	t.Run("put then get round trips the text", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)

		receipt, err := NewMessagePublisher().Put(ctx, s, "hello")
		require.NoError(t, err)

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{WaitInterval: 50 * time.Millisecond})
		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "hello", msgs[0].Text())
		assert.Equal(t, FormatText, msgs[0].Format())
		assert.Equal(t, receipt.MessageID, msgs[0].ID())
		assert.Equal(t, receipt.CorrelationID, msgs[0].CorrelationID())
		assert.Zero(t, b.depth("DEV.QUEUE.1"))
	})

	t.Run("zero wait on an empty queue returns immediately", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)

		start := time.Now()
		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{})

		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Less(t, time.Since(start), time.Second)
		assert.Equal(t, StateOpen, s.State())
	})

	t.Run("empty queue waits for the interval", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)

		start := time.Now()
		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{WaitInterval: 60 * time.Millisecond})

		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.GreaterOrEqual(t, time.Since(start), 60*time.Millisecond)
	})

	t.Run("message arriving during the wait is delivered", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)

		go func() {
			time.Sleep(20 * time.Millisecond)
			b.enqueue("DEV.QUEUE.1", Inbound{MessageID: []byte{7}, Format: FormatTagString, Body: []byte("late")})
		}()

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{WaitInterval: 2 * time.Second, Limit: 1})

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "late", msgs[0].Text())
	})

	t.Run("a cycle drains every available message", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		p := NewMessagePublisher()
		for _, text := range []string{"one", "two", "three"} {
			_, err := p.Put(ctx, s, text)
			require.NoError(t, err)
		}

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{WaitInterval: 10 * time.Millisecond})

		require.NoError(t, err)
		require.Len(t, msgs, 3)
		assert.Equal(t, "one", msgs[0].Text())
		assert.Equal(t, "two", msgs[1].Text())
		assert.Equal(t, "three", msgs[2].Text())
	})

	t.Run("limit caps the cycle", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		p := NewMessagePublisher()
		for i := 0; i < 3; i++ {
			_, err := p.Put(ctx, s, "m")
			require.NoError(t, err)
		}

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{Limit: 1})

		require.NoError(t, err)
		assert.Len(t, msgs, 1)
		assert.Equal(t, 2, b.depth("DEV.QUEUE.1"))
	})

	t.Run("match id returns only the matching message", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		p := NewMessagePublisher()
		_, err := p.Put(ctx, s, "first")
		require.NoError(t, err)
		second, err := p.Put(ctx, s, "second")
		require.NoError(t, err)

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{
			WaitInterval: 10 * time.Millisecond,
			MatchID:      second.MessageID,
		})

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "second", msgs[0].Text())
		assert.Equal(t, second.MessageID, msgs[0].ID())
		assert.Equal(t, 1, b.depth("DEV.QUEUE.1"), "the first message stays on the queue")
	})

	t.Run("match id ends the cycle at the match without waiting again", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		receipt, err := NewMessagePublisher().Put(ctx, s, "wanted")
		require.NoError(t, err)

		start := time.Now()
		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{
			WaitInterval: 2 * time.Second,
			MatchID:      receipt.MessageID,
		})

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, "wanted", msgs[0].Text())
		assert.Less(t, time.Since(start), time.Second)
	})

	t.Run("match id without a match looks like an empty queue", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		_, err := NewMessagePublisher().Put(ctx, s, "other")
		require.NoError(t, err)

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{MatchID: []byte{0xde, 0xad}})

		require.NoError(t, err)
		assert.Empty(t, msgs)
		assert.Equal(t, 1, b.depth("DEV.QUEUE.1"))
		assert.Equal(t, StateOpen, s.State())
	})

	t.Run("binary payloads are not interpreted", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)
		raw := []byte{0x00, 0xff, 0xfe, 0x10}
		b.enqueue("DEV.QUEUE.1", Inbound{MessageID: []byte{1}, Format: ContentTypeBinary, Body: raw})

		msgs, err := NewMessageConsumer().Get(ctx, s, GetOptions{})

		require.NoError(t, err)
		require.Len(t, msgs, 1)
		assert.Equal(t, FormatBinary, msgs[0].Format())
		assert.Equal(t, raw, msgs[0].Payload())
		assert.Equal(t, 4, msgs[0].Len())
		assert.Empty(t, msgs[0].Text())
	})

	t.Run("fatal error returns the partial result and fails the session", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInputOutput)
		_, err := NewMessagePublisher().Put(ctx, s, "kept")
		require.NoError(t, err)

		metrics := &mockMetrics{}
		metrics.On("RecordGet", "DEV.QUEUE.1", GetOutcomeFatal, 1, mock.AnythingOfType("time.Duration")).Once()
		consumer := NewMessageConsumer(WithConsumerMetrics(metrics))

		// first get takes the message, the next one hits a broken connection
		go func() {
			for b.depth("DEV.QUEUE.1") > 0 {
				time.Sleep(time.Millisecond)
			}
			b.set(func(b *fakeBroker) {
				b.getErr = &BrokerError{Op: "get", Reason: ReasonConnectionBroken, Code: 320}
			})
		}()

		msgs, err := consumer.Get(ctx, s, GetOptions{WaitInterval: 2 * time.Second})

		var fatal *FatalGetError
		require.ErrorAs(t, err, &fatal)
		assert.Equal(t, ReasonConnectionBroken, fatal.Reason)
		assert.Equal(t, 1, fatal.Received)
		require.Len(t, msgs, 1)
		assert.Equal(t, "kept", msgs[0].Text())
		assert.Equal(t, StateFailed, s.State())
		metrics.AssertExpectations(t)

		_, err = consumer.Get(ctx, s, GetOptions{})
		assert.ErrorIs(t, err, ErrSessionNotOpen)

		s.Close()
		_, _, closes, disconnects := b.counts()
		assert.Equal(t, 1, closes)
		assert.Equal(t, 1, disconnects)
	})

	t.Run("empty cycle is recorded", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)
		metrics := &mockMetrics{}
		metrics.On("RecordGet", "DEV.QUEUE.1", GetOutcomeEmpty, 0, mock.AnythingOfType("time.Duration")).Once()

		_, err := NewMessageConsumer(WithConsumerMetrics(metrics)).Get(ctx, s, GetOptions{})

		require.NoError(t, err)
		metrics.AssertExpectations(t)
	})

	t.Run("cancelled context ends the wait and keeps the session", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)
		cctx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
		defer cancel()

		msgs, err := NewMessageConsumer().Get(cctx, s, GetOptions{WaitInterval: 5 * time.Second})

		assert.ErrorIs(t, err, context.DeadlineExceeded)
		assert.Empty(t, msgs)
		assert.Equal(t, StateOpen, s.State())
	})

	t.Run("Get requires input access", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessOutput)

		_, err := NewMessageConsumer().Get(ctx, s, GetOptions{})
		assert.ErrorIs(t, err, ErrAccessMode)
	})

	t.Run("Get rejects negative options", func(t *testing.T) {
		b := newFakeBroker("DEV.QUEUE.1")
		s := openSession(t, b, "DEV.QUEUE.1", AccessInput)

		_, err := NewMessageConsumer().Get(ctx, s, GetOptions{WaitInterval: -time.Second})
		assert.ErrorIs(t, err, ErrInvalidOptions)

		_, err = NewMessageConsumer().Get(ctx, s, GetOptions{Limit: -1})
		assert.ErrorIs(t, err, ErrInvalidOptions)
	})
}

// closedQueue violates the one-result contract by closing without a value
type closedQueue struct{ fakeQueue }

func (q *closedQueue) Get(ctx context.Context, req GetRequest) <-chan GetResult {
	ch := make(chan GetResult)
	close(ch)
	return ch
}

func TestMessageConsumerMissingResult(t *testing.T) {
	b := newFakeBroker("DEV.QUEUE.1")
	s := NewSession(b.identity(), "DEV.QUEUE.1", AccessInput)
	s.handle = &closedQueue{fakeQueue{broker: b, name: "DEV.QUEUE.1"}}
	s.conn = &fakeConnection{broker: b}
	s.setState(StateOpen)
	defer s.Close()

	_, err := NewMessageConsumer().Get(context.Background(), s, GetOptions{})

	var fatal *FatalGetError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, ReasonUnexpectedError, fatal.Reason)
}
