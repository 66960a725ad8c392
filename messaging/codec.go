package messaging

import (
	"errors"
	"mime"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

// Format tags recognized on the wire
const (
	FormatTagText      = "text"
	FormatTagString    = "MQSTR"
	FormatTagBinary    = "binary"
	ContentTypeText    = "text/plain; charset=utf-8"
	ContentTypeBinary  = "application/octet-stream"
	decodeChunkSize    = 4096
	replacementOverrun = utf8.UTFMax
)

// FormatOf maps a wire format tag or content type to a Format
func FormatOf(tag string) Format {
	tag = strings.TrimSpace(tag)
	switch {
	case tag == "":
		return FormatBinary
	case strings.EqualFold(tag, FormatTagText), tag == FormatTagString:
		return FormatText
	case strings.EqualFold(tag, FormatTagBinary):
		return FormatBinary
	}

	mediaType, _, err := mime.ParseMediaType(tag)
	if err != nil {
		return FormatOther
	}
	switch {
	case strings.HasPrefix(mediaType, "text/"):
		return FormatText
	case mediaType == ContentTypeBinary:
		return FormatBinary
	}
	return FormatOther
}

// Encode returns the outbound payload for text
func Encode(text string) []byte {
	return []byte(text)
}

// TextDecoder is a streaming UTF-8 decoder. Multi-byte sequences split across
// Write calls are held back until complete; invalid bytes become U+FFFD.
type TextDecoder struct {
	t       transform.Transformer
	pending []byte
}

// NewTextDecoder creates a decoder with empty state
func NewTextDecoder() *TextDecoder {
	return &TextDecoder{t: unicode.UTF8.NewDecoder()}
}

// Write decodes p and returns all text that is complete so far
func (d *TextDecoder) Write(p []byte) string {
	return d.transform(p, false)
}

// Flush returns whatever is held back, replacing an incomplete trailing
// sequence, and resets the decoder
func (d *TextDecoder) Flush() string {
	s := d.transform(nil, true)
	d.t.Reset()
	return s
}

// Pending returns the number of bytes held back for an incomplete sequence
func (d *TextDecoder) Pending() int {
	return len(d.pending)
}

func (d *TextDecoder) transform(p []byte, atEOF bool) string {
	src := append(d.pending, p...)
	d.pending = nil
	if len(src) == 0 {
		return ""
	}

	var out strings.Builder
	dst := make([]byte, 3*len(src)+replacementOverrun)
	for {
		nDst, nSrc, err := d.t.Transform(dst, src, atEOF)
		out.Write(dst[:nDst])
		src = src[nSrc:]

		switch {
		case err == nil:
			return out.String()
		case errors.Is(err, transform.ErrShortSrc):
			d.pending = append([]byte(nil), src...)
			return out.String()
		case errors.Is(err, transform.ErrShortDst) && (nDst > 0 || nSrc > 0):
			continue
		case errors.Is(err, transform.ErrShortDst):
			dst = make([]byte, 2*len(dst))
		default:
			// the UTF-8 decoder replaces rather than fails; keep the rest raw
			out.WriteString(strings.ToValidUTF8(string(src), string(utf8.RuneError)))
			return out.String()
		}
	}
}

// Codec decodes the messages of one receive cycle. Its text decoder state
// never outlives the cycle.
type Codec struct {
	dec *TextDecoder
}

// NewCodec creates a codec for a new receive cycle
func NewCodec() *Codec {
	return &Codec{dec: NewTextDecoder()}
}

// Decode turns a delivered payload into a Message
func (c *Codec) Decode(in Inbound) Message {
	format := FormatOf(in.Format)
	if format != FormatText {
		return NewMessage(in.MessageID, in.CorrelationID, format, in.Body, "")
	}
	return NewMessage(in.MessageID, in.CorrelationID, format, in.Body, c.DecodeText(in.Body))
}

// DecodeText feeds body through the streaming decoder in chunks and flushes
// at the end of the payload, so a truncated sequence never bleeds into the
// next message
func (c *Codec) DecodeText(body []byte) string {
	var sb strings.Builder
	for len(body) > 0 {
		n := min(decodeChunkSize, len(body))
		sb.WriteString(c.dec.Write(body[:n]))
		body = body[n:]
	}
	sb.WriteString(c.dec.Flush())
	return sb.String()
}
