// Package messaging provides the queue-session core of qbridge.
//
// This package implements the get/put protocol against a single queue:
//   - Session: Owns one connection handle and one queue handle between Open and Close
//   - MessagePublisher: Puts text with fresh message and correlation ids, no syncpoint
//   - MessageConsumer: Gets with a bounded wait and an optional message id filter
//   - Classify: Separates "no message available" from failures that need teardown
//   - Codec: Turns raw payloads into text or binary messages by format tag
//
// The broker itself sits behind the Connector, Connection and QueueHandle
// interfaces. transports/rabbitmq provides the AMQP implementation and
// transports/memory an in-process one.
//
// Example usage:
//
//	session := messaging.NewSession(identity, "DEV.QUEUE.1", messaging.AccessInputOutput)
//	if err := session.Open(ctx, connector); err != nil {
//		return err
//	}
//	defer session.Close()
//
//	publisher := messaging.NewMessagePublisher()
//	receipt, err := publisher.Put(ctx, session, "hello")
//
//	consumer := messaging.NewMessageConsumer()
//	msgs, err := consumer.Get(ctx, session, messaging.GetOptions{
//		WaitInterval: time.Second,
//		MatchID:      receipt.MessageID,
//	})
package messaging
