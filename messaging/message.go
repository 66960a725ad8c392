package messaging

import (
	"bytes"
	"fmt"
	"time"
)

// Format is the payload format of a received message
type Format int

const (
	FormatOther Format = iota
	FormatText
	FormatBinary
)

func (f Format) String() string {
	switch f {
	case FormatText:
		return "text"
	case FormatBinary:
		return "binary"
	default:
		return "other"
	}
}

// AccessMode selects which operations an open queue handle allows
type AccessMode uint8

const (
	AccessInput AccessMode = 1 << iota
	AccessOutput

	AccessInputOutput = AccessInput | AccessOutput
)

// Allows reports whether every bit of want is granted by m
func (m AccessMode) Allows(want AccessMode) bool {
	return want != 0 && m&want == want
}

func (m AccessMode) String() string {
	switch m {
	case AccessInput:
		return "input"
	case AccessOutput:
		return "output"
	case AccessInputOutput:
		return "input+output"
	default:
		return fmt.Sprintf("access(%d)", uint8(m))
	}
}

// Message is a message taken off a queue. It is immutable; accessors return copies.
type Message struct {
	id            []byte
	correlationID []byte
	format        Format
	payload       []byte
	text          string
}

// NewMessage builds a message from its parts. text is only kept for FormatText.
func NewMessage(id, correlationID []byte, format Format, payload []byte, text string) Message {
	m := Message{
		id:            bytes.Clone(id),
		correlationID: bytes.Clone(correlationID),
		format:        format,
		payload:       bytes.Clone(payload),
	}
	if format == FormatText {
		m.text = text
	}
	return m
}

// ID returns the broker message id
func (m Message) ID() []byte { return bytes.Clone(m.id) }

// CorrelationID returns the correlation id
func (m Message) CorrelationID() []byte { return bytes.Clone(m.correlationID) }

// Format returns the payload format
func (m Message) Format() Format { return m.format }

// Payload returns the raw payload bytes
func (m Message) Payload() []byte { return bytes.Clone(m.payload) }

// Len returns the payload length in bytes
func (m Message) Len() int { return len(m.payload) }

// Text returns the decoded text, empty unless Format is FormatText
func (m Message) Text() string { return m.text }

// HexID returns the message id in its external hex form
func (m Message) HexID() string { return EncodeID(m.id) }

// HexCorrelationID returns the correlation id in its external hex form
func (m Message) HexCorrelationID() string { return EncodeID(m.correlationID) }

// String returns the decoded text for text messages and the raw bytes as a
// string otherwise
func (m Message) String() string {
	if m.format == FormatText {
		return m.text
	}
	return string(m.payload)
}

// GetOptions controls one receive cycle
type GetOptions struct {
	// WaitInterval bounds how long each get waits for an eligible message
	WaitInterval time.Duration
	// MatchID restricts eligible messages to the one carrying this id
	MatchID []byte
	// Limit caps the messages collected in one cycle, 0 means no cap
	Limit int
}

// Validate checks the options
func (o GetOptions) Validate() error {
	if o.WaitInterval < 0 {
		return fmt.Errorf("%w: wait interval must not be negative", ErrInvalidOptions)
	}
	if o.Limit < 0 {
		return fmt.Errorf("%w: limit must not be negative", ErrInvalidOptions)
	}
	return nil
}

// Receipt describes an accepted put
type Receipt struct {
	MessageID     []byte
	CorrelationID []byte
	Timestamp     time.Time
}

// HexMessageID returns the message id in its external hex form
func (r Receipt) HexMessageID() string { return EncodeID(r.MessageID) }
