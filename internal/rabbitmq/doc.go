// Package rabbitmq is the AMQP 0-9-1 layer under the queue manager bridge.
//
// This package includes:
//   - Connection: dials a virtual host with PLAIN auth and client properties
//   - Queue: one queue on its own channel, checked or declared on open
//   - Queue.Publish: default-exchange publish that waits for the broker confirm
//   - Queue.Get: basic.get polling with an optional matcher and a bounded wait
//
// Errors are returned as typed values (ConnectionError, ChannelError,
// PublishError, ConsumerError, TopologyError) wrapping the amqp091 error, so
// callers can recover the AMQP reply code with ReplyCode.
package rabbitmq
