package messaging

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeBroker is an in-memory queue manager used by the messaging tests
type fakeBroker struct {
	mu       sync.Mutex
	userID   string
	password string
	queues   map[string][]Inbound
	changed  chan struct{}

	connectErrs   []error // consumed one per Connect call
	openErr       error
	putErr        error
	getErr        error
	closeErr      error
	disconnectErr error

	connects    int
	disconnects int
	opens       int
	closes      int
	gets        int
}

func newFakeBroker(queues ...string) *fakeBroker {
	b := &fakeBroker{
		userID:   "app",
		password: "passw0rd",
		queues:   make(map[string][]Inbound),
		changed:  make(chan struct{}),
	}
	for _, q := range queues {
		b.queues[q] = nil
	}
	return b
}

func (b *fakeBroker) identity() Identity {
	return Identity{
		QueueManager: "QM1",
		Endpoint:     "localhost(5672)",
		Channel:      "DEV.APP.SVRCONN",
		UserID:       b.userID,
		Password:     b.password,
		AppName:      "qbridge-test",
	}
}

func (b *fakeBroker) depth(queue string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.queues[queue])
}

func (b *fakeBroker) enqueue(queue string, in Inbound) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.queues[queue] = append(b.queues[queue], in)
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *fakeBroker) counts() (connects, opens, closes, disconnects int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.connects, b.opens, b.closes, b.disconnects
}

// set mutates the broker and wakes every waiting get
func (b *fakeBroker) set(fn func(b *fakeBroker)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	fn(b)
	close(b.changed)
	b.changed = make(chan struct{})
}

func (b *fakeBroker) Connect(ctx context.Context, identity Identity) (Connection, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.connects++

	if len(b.connectErrs) > 0 {
		err := b.connectErrs[0]
		b.connectErrs = b.connectErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	if identity.UserID != b.userID || identity.Password != b.password {
		return nil, &BrokerError{Op: "connect", Reason: ReasonNotAuthorized, Code: 403}
	}
	return &fakeConnection{broker: b}, nil
}

type fakeConnection struct {
	broker *fakeBroker
}

func (c *fakeConnection) OpenQueue(ctx context.Context, name string, mode AccessMode) (QueueHandle, error) {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.opens++

	if b.openErr != nil {
		return nil, b.openErr
	}
	if _, ok := b.queues[name]; !ok {
		return nil, &BrokerError{Op: "open", Reason: ReasonUnknownObjectName, Code: 404}
	}
	return &fakeQueue{broker: b, name: name}, nil
}

func (c *fakeConnection) Disconnect() error {
	b := c.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.disconnects++
	return b.disconnectErr
}

type fakeQueue struct {
	broker *fakeBroker
	name   string
}

func (q *fakeQueue) Put(ctx context.Context, msg Outbound) error {
	b := q.broker
	b.mu.Lock()
	err := b.putErr
	b.mu.Unlock()
	if err != nil {
		return err
	}

	q.broker.enqueue(q.name, Inbound{
		MessageID:     msg.MessageID,
		CorrelationID: msg.CorrelationID,
		Format:        msg.Format,
		Body:          msg.Body,
	})
	return nil
}

func (q *fakeQueue) Get(ctx context.Context, req GetRequest) <-chan GetResult {
	ch := make(chan GetResult, 1)

	go func() {
		defer close(ch)

		timer := time.NewTimer(req.Wait)
		defer timer.Stop()

		for {
			in, changed, err := q.take(req.MatchID)
			if err != nil {
				ch <- GetResult{Err: err}
				return
			}
			if in != nil {
				ch <- GetResult{Message: in}
				return
			}

			select {
			case <-changed:
			case <-timer.C:
				ch <- GetResult{Err: &BrokerError{Op: "get", Reason: ReasonNoMessageAvailable}}
				return
			case <-ctx.Done():
				ch <- GetResult{Err: ctx.Err()}
				return
			}
		}
	}()

	return ch
}

func (q *fakeQueue) take(match []byte) (*Inbound, <-chan struct{}, error) {
	b := q.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.gets++

	if b.getErr != nil {
		return nil, nil, b.getErr
	}
	msgs := b.queues[q.name]
	for i, m := range msgs {
		if len(match) > 0 && !bytes.Equal(m.MessageID, match) {
			continue
		}
		b.queues[q.name] = append(msgs[:i:i], msgs[i+1:]...)
		return &m, nil, nil
	}
	return nil, b.changed, nil
}

func (q *fakeQueue) Close() error {
	b := q.broker
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closes++
	return b.closeErr
}

// openSession opens a session on queue against b and registers its close
func openSession(t *testing.T, b *fakeBroker, queue string, mode AccessMode, opts ...SessionOption) *Session {
	t.Helper()
	s := NewSession(b.identity(), queue, mode, opts...)
	if err := s.Open(context.Background(), b); err != nil {
		t.Fatalf("open session: %v", err)
	}
	t.Cleanup(s.Close)
	return s
}
