package wire

import (
	"encoding/binary"
	"fmt"
)

// ErrUnknownMessageType is returned by Decoder.Next (and Drain) when a frame's
// message_type field is not part of the protocol's enum. This is a fatal
// decode error: the connection that produced it must be torn down, but
// the process must not crash.
type ErrUnknownMessageType struct {
	Type MessageType
}

func (e ErrUnknownMessageType) Error() string {
	return fmt.Sprintf("wire: unknown message type %d", uint16(e.Type))
}

// Decoder accumulates bytes from a stream and yields complete frames as
// they become available, regardless of how the underlying reads happened
// to be chunked: a single Feed call may deliver a fragment of a frame, a
// whole frame, or several frames back to back.
//
// A Decoder is not safe for concurrent use; it is owned by exactly one
// receive loop.
type Decoder struct {
	buf []byte
}

// NewDecoder creates a Decoder, optionally primed with bytes already read
// from the stream (e.g. excess bytes read past the identity handshake
// line).
func NewDecoder(initial []byte) *Decoder {
	d := &Decoder{}
	if len(initial) > 0 {
		d.buf = append(d.buf, initial...)
	}
	return d
}

// Feed appends newly-read bytes to the decoder's internal buffer.
func (d *Decoder) Feed(chunk []byte) {
	d.buf = append(d.buf, chunk...)
}

// Next attempts to pull one complete frame out of the buffered bytes.
// It returns ok=false (with a nil error) when more bytes are needed before
// a full frame is available. It returns a non-nil error only for an
// unknown message_type, which is unrecoverable for this stream.
func (d *Decoder) Next() (frame Frame, ok bool, err error) {
	if len(d.buf) < HeaderSize {
		return Frame{}, false, nil
	}

	payloadLen := binary.LittleEndian.Uint32(d.buf[0:4])
	msgType := MessageType(binary.LittleEndian.Uint16(d.buf[4:6]))

	total := HeaderSize + int(payloadLen)
	if len(d.buf) < total {
		return Frame{}, false, nil
	}

	if !msgType.Valid() {
		return Frame{}, false, ErrUnknownMessageType{Type: msgType}
	}

	var payload []byte
	if payloadLen > 0 {
		payload = make([]byte, payloadLen)
		copy(payload, d.buf[HeaderSize:total])
	}

	remaining := make([]byte, len(d.buf)-total)
	copy(remaining, d.buf[total:])
	d.buf = remaining

	return Frame{Type: msgType, Payload: payload}, true, nil
}

// Drain repeatedly calls Next and returns every complete frame currently
// available. It stops at the first error or the first time no further
// frame can be assembled from the buffered bytes.
func (d *Decoder) Drain() ([]Frame, error) {
	var frames []Frame
	for {
		f, ok, err := d.Next()
		if err != nil {
			return frames, err
		}
		if !ok {
			return frames, nil
		}
		frames = append(frames, f)
	}
}
