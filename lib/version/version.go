// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package version carries build information and the network protocol
// version marker exchanged in the handshake hello.
//
// Build information is injected with -ldflags, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/netsession/lib/version.GitCommit=$(git rev-parse --short HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Protocol is the engine/protocol version marker sent in every
// ServerInfo. Bump it whenever a frame layout or handshake message
// changes shape; peers with a different value refuse to join.
const Protocol = 7

// These variables are set via -ldflags at build time.
var (
	GitCommit = "unknown"
	GitDirty  = "false"
	BuildTime = "unknown"
	Version   = "0.1.0-dev"
)

// Info returns a formatted version string suitable for --version output.
func Info() string {
	dirty := ""
	if GitDirty == "true" {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s, protocol %d)", Version, GitCommit, dirty, BuildTime, Protocol)
}

// Full returns Info plus the Go version and platform.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Compatible reports whether a peer advertising remote can join a
// session running this build.
func Compatible(remote int) bool {
	return remote == Protocol
}
