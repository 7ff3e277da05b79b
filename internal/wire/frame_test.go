package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/berrym/lair-chat/internal/lcerr"
)

func TestWriteFrameThenReadFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"Ping"}`)

	require.NoError(t, WriteFrame(&buf, payload))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	var buf bytes.Buffer
	oversized := make([]byte, MaxFrameSize+1)

	err := WriteFrame(&buf, oversized)
	require.Error(t, err)
	assert.Equal(t, lcerr.FrameTooLarge, err.(*lcerr.Error).Kind)
	assert.Equal(t, 0, buf.Len(), "no bytes should be written once the size check fails")
}

func TestReadFrameRejectsDeclaredOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x10, 0x00, 0x01}) // declares MaxFrameSize+1 bytes

	_, err := ReadFrame(&buf)
	require.Error(t, err)
	assert.Equal(t, lcerr.FrameTooLarge, err.(*lcerr.Error).Kind)
}

func TestReadFrameRejectsTruncatedStream(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{0x00, 0x00, 0x00, 0x05})
	buf.Write([]byte("ab"))

	_, err := ReadFrame(&buf)
	require.Error(t, err)
}
