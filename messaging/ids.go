package messaging

import (
	"encoding/hex"
	"fmt"

	"github.com/google/uuid"
)

// EncodeID returns the external form of a message or correlation id: two
// lowercase hex characters per byte, no separators
func EncodeID(id []byte) string {
	return hex.EncodeToString(id)
}

// DecodeID parses the external hex form of an id. Upper and lower case are
// both accepted.
func DecodeID(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidID, len(s))
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	return b, nil
}

// NewID generates a fresh 16-byte id
func NewID() []byte {
	u := uuid.New()
	return u[:]
}
