package rabbitmq

import (
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeclareQueue makes sure the named queue exists. With create false the
// declaration is passive and fails with 404 if the queue is missing; a failed
// passive declare closes ch.
func DeclareQueue(ch *amqp.Channel, name string, create bool) (amqp.Queue, error) {
	var (
		q   amqp.Queue
		err error
	)
	if create {
		q, err = ch.QueueDeclare(
			name,
			true,  // durable
			false, // auto-delete
			false, // exclusive
			false, // no-wait
			nil,
		)
	} else {
		q, err = ch.QueueDeclarePassive(name, true, false, false, false, nil)
	}
	if err != nil {
		op := "check"
		if create {
			op = "declare"
		}
		return amqp.Queue{}, &TopologyError{
			Component: "queue",
			Name:      name,
			Op:        op,
			Err:       err,
			Timestamp: time.Now(),
		}
	}
	return q, nil
}
