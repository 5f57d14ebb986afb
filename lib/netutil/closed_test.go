// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package netutil

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestIsExpectedCloseError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		reason string
	}{
		{"nil", nil, ""},
		{"eof", io.EOF, "eof"},
		{"short frame", fmt.Errorf("reading frame: %w", io.ErrUnexpectedEOF), "eof"},
		{"closed", &net.OpError{Op: "read", Err: net.ErrClosed}, "closed"},
		{"reset", &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)}, "reset"},
		{"broken pipe", &net.OpError{Op: "write", Err: os.NewSyscallError("write", syscall.EPIPE)}, "broken_pipe"},
		{"refused", &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, ""},
		{"other", errors.New("frame too large"), ""},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if got := CloseReason(test.err); got != test.reason {
				t.Errorf("CloseReason(%v) = %q, want %q", test.err, got, test.reason)
			}
			if got := IsExpectedCloseError(test.err); got != (test.reason != "") {
				t.Errorf("IsExpectedCloseError(%v) = %v", test.err, got)
			}
		})
	}
}
