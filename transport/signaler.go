// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"strings"
)

// Signaler exchanges WebRTC session descriptions between participants.
// Participants are identified by name: a client offers to the host's
// name, and the host answers every offer addressed to it.
//
// The signaling model is vanilla ICE: all ICE candidates are gathered
// before the SDP is published, so connection establishment requires
// exactly one signaling round trip (offer, then answer).
type Signaler interface {
	// PublishOffer publishes a complete SDP offer from local to target.
	PublishOffer(ctx context.Context, local, target, sdp string) error

	// PublishAnswer publishes a complete SDP answer from local to the
	// offerer.
	PublishAnswer(ctx context.Context, offerer, local, sdp string) error

	// PollOffers returns offers addressed to local that are newer than
	// the last poll.
	PollOffers(ctx context.Context, local string) ([]SignalMessage, error)

	// PollAnswers returns answers to offers made by local that are
	// newer than the last poll.
	PollAnswers(ctx context.Context, local string) ([]SignalMessage, error)
}

// SignalMessage is one offer or answer.
type SignalMessage struct {
	// Peer is the other party: the offerer for a received offer, the
	// answerer for a received answer.
	Peer string

	// SDP is the complete session description with every ICE
	// candidate embedded.
	SDP string

	// Timestamp is the RFC 3339 creation time of the signal.
	Timestamp string
}

// signalingSeparator joins offerer and target names in a signal key.
// Participant names must not contain it.
const signalingSeparator = "|"

// signalKeyMatcher reports the other party's name when key concerns
// local.
type signalKeyMatcher func(key, local string) (peer string, ok bool)

// matchOfferKey matches "offerer|local" and returns the offerer.
func matchOfferKey(key, local string) (string, bool) {
	offerer, found := strings.CutSuffix(key, signalingSeparator+local)
	if !found || offerer == "" {
		return "", false
	}
	return offerer, true
}

// matchAnswerKey matches "local|target" and returns the target.
func matchAnswerKey(key, local string) (string, bool) {
	target, found := strings.CutPrefix(key, local+signalingSeparator)
	if !found || target == "" {
		return "", false
	}
	return target, true
}
