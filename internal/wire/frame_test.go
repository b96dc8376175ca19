package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeUpdate_RoundTrip(t *testing.T) {
	u := Update{TxnID: 42, Key: "fruit", Value: "apple"}
	raw, err := EncodeUpdate(ForwardPass, u)
	require.NoError(t, err)

	dec := NewDecoder(nil)
	dec.Feed(raw)
	frame, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ForwardPass, frame.Type)

	got, err := DecodeUpdate(frame.Payload)
	require.NoError(t, err)
	require.Equal(t, u, got)
}

func TestDecoder_EmptyPayloadIsLegal(t *testing.T) {
	raw, err := Encode(BackwardPass, nil)
	require.NoError(t, err)
	require.Len(t, raw, HeaderSize)

	dec := NewDecoder(raw)
	frame, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, frame.Payload)
}

func TestDecoder_PartialHeaderNeedsMoreBytes(t *testing.T) {
	dec := NewDecoder([]byte{1, 2, 3})
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDecoder_PartialPayloadNeedsMoreBytes(t *testing.T) {
	raw, err := EncodeUpdate(ForwardPass, Update{TxnID: 1, Key: "k", Value: "v"})
	require.NoError(t, err)

	dec := NewDecoder(raw[:len(raw)-2])
	_, ok, err := dec.Next()
	require.NoError(t, err)
	require.False(t, ok)

	dec.Feed(raw[len(raw)-2:])
	frame, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ForwardPass, frame.Type)
}

func TestDecoder_ArbitraryChunkBoundaries(t *testing.T) {
	u1, _ := EncodeUpdate(ForwardPass, Update{TxnID: 1, Key: "a", Value: "1"})
	u2, _ := EncodeUpdate(BackwardPass, Update{TxnID: 2, Key: "b", Value: "2"})
	concatenated := append(append([]byte{}, u1...), u2...)

	// Feed byte-by-byte: decoder must still assemble exactly two frames
	// in order, regardless of how the bytes arrived.
	dec := NewDecoder(nil)
	var frames []Frame
	for i := 0; i < len(concatenated); i++ {
		dec.Feed(concatenated[i : i+1])
		drained, err := dec.Drain()
		require.NoError(t, err)
		frames = append(frames, drained...)
	}

	require.Len(t, frames, 2)
	require.Equal(t, ForwardPass, frames[0].Type)
	require.Equal(t, BackwardPass, frames[1].Type)
}

func TestDecoder_MultipleFramesInOneChunk(t *testing.T) {
	u1, _ := EncodeUpdate(ForwardPass, Update{TxnID: 1, Key: "a", Value: "1"})
	u2, _ := EncodeUpdate(ForwardPass, Update{TxnID: 2, Key: "b", Value: "2"})
	u3, _ := EncodeUpdate(ForwardPass, Update{TxnID: 3, Key: "c", Value: "3"})
	blob := append(append(append([]byte{}, u1...), u2...), u3...)

	dec := NewDecoder(blob)
	frames, err := dec.Drain()
	require.NoError(t, err)
	require.Len(t, frames, 3)
}

func TestDecoder_UnknownMessageTypeIsFatal(t *testing.T) {
	raw, err := Encode(MessageType(99), []byte("x"))
	require.NoError(t, err)

	dec := NewDecoder(raw)
	_, _, err = dec.Next()
	require.Error(t, err)
	var target ErrUnknownMessageType
	require.ErrorAs(t, err, &target)
	require.Equal(t, MessageType(99), target.Type)
}

func TestDecoder_HandshakeExcessBytesFeedFirstFrame(t *testing.T) {
	// Simulates the handshake read consuming more bytes than the identity
	// line; the excess must be handed to the decoder as its initial buffer.
	u, _ := EncodeUpdate(ForwardPass, Update{TxnID: 7, Key: "k", Value: "v"})
	dec := NewDecoder(u)
	frame, ok, err := dec.Next()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, ForwardPass, frame.Type)
}
