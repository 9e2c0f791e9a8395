package transport

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/1ureka/rhythmhub/internal/protocol"
)

// ReadFrame reads one length-prefixed frame body from r. It keeps reading
// until both the prefix and the whole body have arrived, however r chunks
// them. A stream that ends or fails part way yields ErrConnectionLost; there
// is no attempt to resynchronize.
func ReadFrame(r io.Reader, maxSize int) ([]byte, error) {
	var hdr [protocol.LengthSize]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return nil, fmt.Errorf("%w: reading length: %w", ErrConnectionLost, err)
	}

	n := int32(binary.LittleEndian.Uint32(hdr[:]))
	if n <= 0 || int(n) > maxSize {
		return nil, fmt.Errorf("%w: %d bytes (max %d)", ErrFrameTooLarge, n, maxSize)
	}

	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("%w: reading %d byte body: %w", ErrConnectionLost, n, err)
	}
	return body, nil
}
