// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil holds helpers shared by the stream-based sockets.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// CloseReason classifies how a peer stream ended: "eof" for a clean
// end or a frame cut short, "closed" when this side closed it, "reset"
// and "broken_pipe" for a peer that vanished, and "" for anything else.
func CloseReason(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		return "eof"
	case errors.Is(err, net.ErrClosed):
		return "closed"
	case errors.Is(err, syscall.ECONNRESET):
		return "reset"
	case errors.Is(err, syscall.EPIPE):
		return "broken_pipe"
	}
	return ""
}

// IsExpectedCloseError reports whether err is an ordinary end of a
// peer stream, which sockets report as a plain disconnect rather than
// a failure.
func IsExpectedCloseError(err error) bool {
	return CloseReason(err) != ""
}
