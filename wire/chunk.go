// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// ChunkHeaderSize is the fixed prefix of a Chunk frame.
const ChunkHeaderSize = 1 + 4 + 2 + 2

// MaxPendingChunks bounds how many partially received frames one
// Assembler keeps. The oldest partial frame is dropped beyond it.
const MaxPendingChunks = 8

// MaxAssembledSize bounds the size of a reassembled frame.
const MaxAssembledSize = 64 << 20

var ErrChunk = errors.New("wire: invalid chunk")

// SplitChunks divides frame into Chunk frames of at most maxSize bytes
// each. Frames that already fit are returned unchanged as a single
// element. Chunks must travel reliably; the assembler does not
// tolerate loss.
func SplitChunks(id uint32, frame []byte, maxSize int) ([][]byte, error) {
	if len(frame) <= maxSize {
		return [][]byte{frame}, nil
	}
	payload := maxSize - ChunkHeaderSize
	if payload <= 0 {
		return nil, fmt.Errorf("%w: max size %d leaves no room for data", ErrChunk, maxSize)
	}
	count := (len(frame) + payload - 1) / payload
	if count > math.MaxUint16 {
		return nil, fmt.Errorf("%w: frame of %d bytes needs %d chunks", ErrChunk, len(frame), count)
	}

	chunks := make([][]byte, 0, count)
	for index := 0; index < count; index++ {
		start := index * payload
		end := min(start+payload, len(frame))
		chunk := make([]byte, ChunkHeaderSize, ChunkHeaderSize+end-start)
		chunk[0] = byte(Chunk)
		binary.BigEndian.PutUint32(chunk[1:5], id)
		binary.BigEndian.PutUint16(chunk[5:7], uint16(index))
		binary.BigEndian.PutUint16(chunk[7:9], uint16(count))
		chunks = append(chunks, append(chunk, frame[start:end]...))
	}
	return chunks, nil
}

// Assembler rebuilds frames from Chunk frames arriving from one peer.
// Not safe for concurrent use; each Connection owns one.
type Assembler struct {
	pending map[uint32]*partialFrame
	order   []uint32
}

type partialFrame struct {
	parts    [][]byte
	received int
	size     int
}

// Add consumes one Chunk frame. When it completes a frame, the
// reassembled bytes are returned with done set.
func (a *Assembler) Add(chunk []byte) (frame []byte, done bool, err error) {
	if err := expect(chunk, Chunk); err != nil {
		return nil, false, err
	}
	if len(chunk) < ChunkHeaderSize {
		return nil, false, ErrTruncated
	}
	id := binary.BigEndian.Uint32(chunk[1:5])
	index := int(binary.BigEndian.Uint16(chunk[5:7]))
	count := int(binary.BigEndian.Uint16(chunk[7:9]))
	if count == 0 || index >= count {
		return nil, false, fmt.Errorf("%w: index %d of %d", ErrChunk, index, count)
	}

	if a.pending == nil {
		a.pending = make(map[uint32]*partialFrame)
	}
	partial, ok := a.pending[id]
	if !ok {
		if len(a.order) >= MaxPendingChunks {
			oldest := a.order[0]
			a.order = a.order[1:]
			delete(a.pending, oldest)
		}
		partial = &partialFrame{parts: make([][]byte, count)}
		a.pending[id] = partial
		a.order = append(a.order, id)
	}
	if len(partial.parts) != count {
		a.drop(id)
		return nil, false, fmt.Errorf("%w: chunk count changed for frame %d", ErrChunk, id)
	}
	if partial.parts[index] != nil {
		return nil, false, nil
	}

	data := append([]byte(nil), chunk[ChunkHeaderSize:]...)
	partial.size += len(data)
	if partial.size > MaxAssembledSize {
		a.drop(id)
		return nil, false, fmt.Errorf("%w: frame %d exceeds %d bytes", ErrChunk, id, MaxAssembledSize)
	}
	partial.parts[index] = data
	partial.received++
	if partial.received < count {
		return nil, false, nil
	}

	frame = make([]byte, 0, partial.size)
	for _, part := range partial.parts {
		frame = append(frame, part...)
	}
	a.drop(id)
	return frame, true, nil
}

// Pending returns the number of partially received frames.
func (a *Assembler) Pending() int { return len(a.pending) }

// Reset discards every partial frame.
func (a *Assembler) Reset() {
	a.pending = nil
	a.order = nil
}

func (a *Assembler) drop(id uint32) {
	delete(a.pending, id)
	for i, pendingID := range a.order {
		if pendingID == id {
			a.order = append(a.order[:i], a.order[i+1:]...)
			break
		}
	}
}
