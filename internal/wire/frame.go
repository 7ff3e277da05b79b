package wire

import (
	"encoding/binary"
	"io"

	"github.com/berrym/lair-chat/internal/lcerr"
)

// MaxFrameSize is the maximum payload size before framing overhead (§4.5,
// §6: "Max payload 1 MiB").
const MaxFrameSize = 1 << 20

// ReadFrame reads one length-prefixed TCP frame: a 4-byte big-endian
// length followed by that many bytes of payload. A declared length over
// MaxFrameSize is rejected with frame_too_large before any payload bytes
// are read, so an oversized frame cannot be used to exhaust memory.
func ReadFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > MaxFrameSize {
		return nil, lcerr.New(lcerr.FrameTooLarge, "frame exceeds maximum size")
	}
	payload := make([]byte, n)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, err
	}
	return payload, nil
}

// WriteFrame writes payload with its 4-byte big-endian length prefix.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return lcerr.New(lcerr.FrameTooLarge, "frame exceeds maximum size")
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(payload)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}
