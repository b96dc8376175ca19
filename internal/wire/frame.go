// Package wire implements the length-delimited, typed message framing
// used between peers once the identity handshake (see internal/transport)
// has completed.
//
// Frame layout, little-endian:
//
//	uint32  payload_len
//	uint16  message_type
//	opaque  payload[payload_len]
package wire

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
)

// HeaderSize is the fixed size, in bytes, of a frame header.
const HeaderSize = 6

// MessageType identifies the shape of a frame's payload.
type MessageType uint16

const (
	// ForwardPass propagates an update from a node to its successor.
	ForwardPass MessageType = 1
	// BackwardPass acknowledges an update back toward the predecessor.
	BackwardPass MessageType = 2
)

func (t MessageType) String() string {
	switch t {
	case ForwardPass:
		return "FORWARD_PASS"
	case BackwardPass:
		return "BACKWARD_PASS"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", uint16(t))
	}
}

// Valid reports whether t is a message type this protocol understands.
func (t MessageType) Valid() bool {
	return t == ForwardPass || t == BackwardPass
}

// Update is the payload shape carried by both FORWARD_PASS and
// BACKWARD_PASS frames.
type Update struct {
	TxnID uint64 `json:"txn_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Frame is one fully decoded message.
type Frame struct {
	Type    MessageType
	Payload []byte
}

// EncodeUpdate serializes an Update into a frame with the given type.
func EncodeUpdate(t MessageType, u Update) ([]byte, error) {
	payload, err := json.Marshal(u)
	if err != nil {
		return nil, fmt.Errorf("wire: marshal update: %w", err)
	}
	return Encode(t, payload)
}

// DecodeUpdate parses a frame payload previously produced by EncodeUpdate.
func DecodeUpdate(payload []byte) (Update, error) {
	var u Update
	if len(payload) == 0 {
		return u, nil
	}
	if err := json.Unmarshal(payload, &u); err != nil {
		return u, fmt.Errorf("wire: unmarshal update: %w", err)
	}
	return u, nil
}

// Encode serializes a single frame: header followed by payload.
func Encode(t MessageType, payload []byte) ([]byte, error) {
	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], uint32(len(payload)))
	binary.LittleEndian.PutUint16(buf[4:6], uint16(t))
	copy(buf[HeaderSize:], payload)
	return buf, nil
}
