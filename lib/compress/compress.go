// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package compress wraps frame payloads in a one-byte compression tag
// so the receiver can tell how to restore them.
//
// Layout of an encoded block:
//
//	[tag u8] [uvarint uncompressed length]? [bytes]
//
// The length is present for every tag except [None]. Payloads below
// the caller's threshold, and payloads that do not shrink, are stored
// with [None] so small frames pay exactly one byte of overhead.
package compress

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Tag identifies the algorithm used for a block. These values are
// protocol constants shared by every peer.
type Tag uint8

const (
	// None stores the payload unchanged.
	None Tag = 0

	// LZ4 is block-mode LZ4. Used for packed messages where latency
	// matters more than ratio.
	LZ4 Tag = 1

	// Zstd is zstd at the default level. Used for table snapshots,
	// which are large, sent once per join, and mostly text keys.
	Zstd Tag = 2
)

// MaxDecodedSize bounds the uncompressed length a peer may claim.
const MaxDecodedSize = 64 << 20

var (
	ErrTruncated = errors.New("compress: truncated block")
	ErrTooLarge  = errors.New("compress: declared size exceeds limit")
	ErrUnknown   = errors.New("compress: unknown tag")

	errIncompressible = errors.New("compress: data is incompressible")
)

// String returns the tag name.
func (tag Tag) String() string {
	switch tag {
	case None:
		return "none"
	case LZ4:
		return "lz4"
	case Zstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(tag))
	}
}

// ParseTag parses a tag name as used in configuration files.
func ParseTag(name string) (Tag, error) {
	switch name {
	case "none", "":
		return None, nil
	case "lz4":
		return LZ4, nil
	case "zstd":
		return Zstd, nil
	default:
		return None, fmt.Errorf("unknown compression %q", name)
	}
}

var (
	zstdEncoder *zstd.Encoder
	zstdDecoder *zstd.Decoder
)

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		panic("compress: zstd encoder initialization failed: " + err.Error())
	}
	zstdDecoder, err = zstd.NewReader(nil, zstd.WithDecoderMaxMemory(MaxDecodedSize))
	if err != nil {
		panic("compress: zstd decoder initialization failed: " + err.Error())
	}
}

// Append encodes data with tag and appends the block to dst. When
// len(data) < threshold or the algorithm does not shrink the data,
// the block is stored with [None].
func Append(dst, data []byte, tag Tag, threshold int) ([]byte, error) {
	if tag == None || len(data) < threshold {
		return appendNone(dst, data), nil
	}

	var compressed []byte
	var err error
	switch tag {
	case LZ4:
		compressed, err = compressLZ4(data)
	case Zstd:
		compressed, err = compressZstd(data)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknown, uint8(tag))
	}
	if errors.Is(err, errIncompressible) {
		return appendNone(dst, data), nil
	}
	if err != nil {
		return nil, err
	}

	dst = append(dst, byte(tag))
	dst = binary.AppendUvarint(dst, uint64(len(data)))
	return append(dst, compressed...), nil
}

// Decode restores a block produced by Append. It returns the payload
// and the tag that was used.
func Decode(block []byte) ([]byte, Tag, error) {
	if len(block) == 0 {
		return nil, None, ErrTruncated
	}
	tag := Tag(block[0])
	if tag == None {
		return block[1:], None, nil
	}

	size, n := binary.Uvarint(block[1:])
	if n <= 0 {
		return nil, tag, ErrTruncated
	}
	if size > MaxDecodedSize {
		return nil, tag, ErrTooLarge
	}
	body := block[1+n:]

	switch tag {
	case LZ4:
		data, err := decompressLZ4(body, int(size))
		return data, tag, err
	case Zstd:
		data, err := decompressZstd(body, int(size))
		return data, tag, err
	default:
		return nil, tag, fmt.Errorf("%w: %d", ErrUnknown, uint8(tag))
	}
}

func appendNone(dst, data []byte) []byte {
	dst = append(dst, byte(None))
	return append(dst, data...)
}

func compressLZ4(data []byte) ([]byte, error) {
	destination := make([]byte, lz4.CompressBlockBound(len(data)))
	written, err := lz4.CompressBlock(data, destination, nil)
	if err != nil {
		return nil, fmt.Errorf("lz4 compress: %w", err)
	}
	// CompressBlock returns 0 for incompressible input.
	if written == 0 || written >= len(data) {
		return nil, errIncompressible
	}
	return destination[:written], nil
}

func decompressLZ4(compressed []byte, size int) ([]byte, error) {
	destination := make([]byte, size)
	read, err := lz4.UncompressBlock(compressed, destination)
	if err != nil {
		return nil, fmt.Errorf("lz4 decompress: %w", err)
	}
	if read != size {
		return nil, fmt.Errorf("lz4 decompress: got %d bytes, expected %d", read, size)
	}
	return destination, nil
}

func compressZstd(data []byte) ([]byte, error) {
	compressed := zstdEncoder.EncodeAll(data, nil)
	if len(compressed) >= len(data) {
		return nil, errIncompressible
	}
	return compressed, nil
}

func decompressZstd(compressed []byte, size int) ([]byte, error) {
	result, err := zstdDecoder.DecodeAll(compressed, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("zstd decompress: %w", err)
	}
	if len(result) != size {
		return nil, fmt.Errorf("zstd decompress: got %d bytes, expected %d", len(result), size)
	}
	return result, nil
}
