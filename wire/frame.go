// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/netsession/lib/codec"
	"github.com/bureau-foundation/netsession/lib/compress"
)

var (
	ErrTruncated = errors.New("wire: truncated frame")
	ErrWrongType = errors.New("wire: unexpected frame type")
)

// MaxTableNameLength bounds the name carried in a table frame header.
const MaxTableNameLength = 255

// Envelope is the CBOR body of Packed, Request, and Response frames.
// Name identifies the registered message type; Body is its CBOR
// encoding, decoded only once the receiver has found the handler.
type Envelope struct {
	Name string           `cbor:"1,keyasint"`
	Body codec.RawMessage `cbor:"2,keyasint"`
}

// Compression selects the algorithm and size threshold for one frame
// family.
type Compression struct {
	Tag       compress.Tag
	Threshold int
}

func expect(frame []byte, types ...MessageType) error {
	if len(frame) == 0 {
		return ErrTruncated
	}
	got := MessageType(frame[0])
	for _, t := range types {
		if got == t {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrWrongType, got)
}

func appendEnvelope(dst []byte, name string, body any, compression Compression) ([]byte, error) {
	encodedBody, err := codec.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("encoding %s body: %w", name, err)
	}
	envelope, err := codec.Marshal(Envelope{Name: name, Body: encodedBody})
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", name, err)
	}
	return compress.Append(dst, envelope, compression.Tag, compression.Threshold)
}

func decodeEnvelope(block []byte) (Envelope, error) {
	data, _, err := compress.Decode(block)
	if err != nil {
		return Envelope{}, err
	}
	var envelope Envelope
	if err := codec.Unmarshal(data, &envelope); err != nil {
		return Envelope{}, fmt.Errorf("decoding envelope: %w", err)
	}
	if envelope.Name == "" {
		return Envelope{}, errors.New("wire: envelope has no message name")
	}
	return envelope, nil
}

// EncodePacked builds a Packed frame carrying body under name.
func EncodePacked(name string, body any, compression Compression) ([]byte, error) {
	return appendEnvelope([]byte{byte(Packed)}, name, body, compression)
}

// DecodePacked returns the envelope of a Packed frame.
func DecodePacked(frame []byte) (Envelope, error) {
	if err := expect(frame, Packed); err != nil {
		return Envelope{}, err
	}
	return decodeEnvelope(frame[1:])
}

// EncodeCall builds a Request or Response frame.
func EncodeCall(t MessageType, id uint32, name string, body any, compression Compression) ([]byte, error) {
	if t != Request && t != Response {
		return nil, fmt.Errorf("%w: %s is not a call type", ErrWrongType, t)
	}
	frame := make([]byte, 5, 64)
	frame[0] = byte(t)
	binary.BigEndian.PutUint32(frame[1:], id)
	return appendEnvelope(frame, name, body, compression)
}

// DecodeCall parses a Request or Response frame.
func DecodeCall(frame []byte) (MessageType, uint32, Envelope, error) {
	if err := expect(frame, Request, Response); err != nil {
		return Unknown, 0, Envelope{}, err
	}
	if len(frame) < 5 {
		return Unknown, 0, Envelope{}, ErrTruncated
	}
	id := binary.BigEndian.Uint32(frame[1:5])
	envelope, err := decodeEnvelope(frame[5:])
	return MessageType(frame[0]), id, envelope, err
}

// DecodeBody decodes an envelope body into v.
func (e Envelope) DecodeBody(v any) error {
	if err := codec.Unmarshal(e.Body, v); err != nil {
		return fmt.Errorf("decoding %s: %w", e.Name, err)
	}
	return nil
}

// EncodeTable builds a TableSnapshot or TableUpdated frame for the
// named table.
func EncodeTable(t MessageType, name string, body []byte, compression Compression) ([]byte, error) {
	if !t.IsTable() {
		return nil, fmt.Errorf("%w: %s is not a table type", ErrWrongType, t)
	}
	if name == "" || len(name) > MaxTableNameLength {
		return nil, fmt.Errorf("wire: table name length %d out of range", len(name))
	}
	frame := make([]byte, 0, 1+binary.MaxVarintLen64+len(name)+1+len(body))
	frame = append(frame, byte(t))
	frame = binary.AppendUvarint(frame, uint64(len(name)))
	frame = append(frame, name...)
	return compress.Append(frame, body, compression.Tag, compression.Threshold)
}

// DecodeTable parses a table frame, returning its type, the table
// name, and the decompressed body.
func DecodeTable(frame []byte) (MessageType, string, []byte, error) {
	if err := expect(frame, TableSnapshot, TableUpdated); err != nil {
		return Unknown, "", nil, err
	}
	length, n := binary.Uvarint(frame[1:])
	if n <= 0 || length == 0 || length > MaxTableNameLength {
		return Unknown, "", nil, ErrTruncated
	}
	start := 1 + n
	end := start + int(length)
	if end > len(frame) {
		return Unknown, "", nil, ErrTruncated
	}
	name := string(frame[start:end])
	body, _, err := compress.Decode(frame[end:])
	if err != nil {
		return Unknown, "", nil, fmt.Errorf("table %q: %w", name, err)
	}
	return MessageType(frame[0]), name, body, nil
}

// EncodeHeartbeat builds a HeartbeatPing or HeartbeatPong frame
// carrying the ping's send time.
func EncodeHeartbeat(t MessageType, sent time.Time) []byte {
	frame := make([]byte, 9)
	frame[0] = byte(t)
	binary.BigEndian.PutUint64(frame[1:], uint64(sent.UnixNano()))
	return frame
}

// DecodeHeartbeat returns the send time carried by a heartbeat frame.
func DecodeHeartbeat(frame []byte) (time.Time, error) {
	if err := expect(frame, HeartbeatPing, HeartbeatPong); err != nil {
		return time.Time{}, err
	}
	if len(frame) != 9 {
		return time.Time{}, ErrTruncated
	}
	return time.Unix(0, int64(binary.BigEndian.Uint64(frame[1:]))), nil
}

// Pong returns the echo of a ping frame.
func Pong(ping []byte) []byte {
	pong := append([]byte(nil), ping...)
	pong[0] = byte(HeartbeatPong)
	return pong
}
