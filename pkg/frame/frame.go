package frame

// Length-prefixed frame codec for the engine wire protocol.
//
// One frame is a 4-byte big-endian unsigned length followed by exactly that
// many payload bytes. The codec moves opaque bytes only; it never inspects
// the payload.

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// MaxPayloadBytes is the largest payload length accepted on read or write.
const MaxPayloadBytes = 32 << 20 // 32 MiB

var (
	// ErrTooLarge is returned when a frame length exceeds MaxPayloadBytes.
	ErrTooLarge = errors.New("frame: payload too large")

	// ErrTruncated is returned when the stream ends inside a header or payload.
	ErrTruncated = errors.New("frame: truncated")
)

const headerLen = 4

// Write emits one frame containing payload.
func Write(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayloadBytes {
		return fmt.Errorf("%w: %d bytes", ErrTooLarge, len(payload))
	}
	var hdr [headerLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

// Read consumes one frame and returns its payload.
//
// A clean end of stream (zero bytes read on the header) is reported as io.EOF.
// A partial header or partial payload is reported as ErrTruncated; an
// oversized declared length as ErrTooLarge. Both poison the stream: the
// caller must not issue further reads on it.
func Read(r io.Reader) ([]byte, error) {
	var hdr [headerLen]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		if err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial header", ErrTruncated)
		}
		return nil, err
	}

	n := binary.BigEndian.Uint32(hdr[:])
	if n > MaxPayloadBytes {
		return nil, fmt.Errorf("%w: declared %d bytes", ErrTooLarge, n)
	}
	if n == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, fmt.Errorf("%w: partial payload", ErrTruncated)
		}
		return nil, err
	}
	return payload, nil
}
