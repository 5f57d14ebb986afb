// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package transport

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"
)

// Compile-time interface check.
var _ Signaler = (*MemorySignaler)(nil)

// MemorySignaler is an in-process Signaler. Two WebRTCSockets sharing
// one MemorySignaler can connect without any signaling server.
type MemorySignaler struct {
	mu       sync.Mutex
	offers   map[string]SignalMessage // key: "offerer|target"
	answers  map[string]SignalMessage // key: "offerer|target"
	lastSeen map[string]time.Time
}

// NewMemorySignaler creates an empty signaler.
func NewMemorySignaler() *MemorySignaler {
	return &MemorySignaler{
		offers:   make(map[string]SignalMessage),
		answers:  make(map[string]SignalMessage),
		lastSeen: make(map[string]time.Time),
	}
}

func (s *MemorySignaler) PublishOffer(_ context.Context, local, target, sdp string) error {
	return s.publish(s.offers, local, target, local, sdp)
}

func (s *MemorySignaler) PublishAnswer(_ context.Context, offerer, local, sdp string) error {
	return s.publish(s.answers, offerer, local, local, sdp)
}

func (s *MemorySignaler) PollOffers(_ context.Context, local string) ([]SignalMessage, error) {
	return s.pollSignals(local, s.offers, "offers", matchOfferKey)
}

func (s *MemorySignaler) PollAnswers(_ context.Context, local string) ([]SignalMessage, error) {
	return s.pollSignals(local, s.answers, "answers", matchAnswerKey)
}

func (s *MemorySignaler) publish(store map[string]SignalMessage, offerer, target, from, sdp string) error {
	if strings.Contains(offerer, signalingSeparator) || strings.Contains(target, signalingSeparator) {
		return fmt.Errorf("transport: participant names must not contain %q", signalingSeparator)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := offerer + signalingSeparator + target
	now := time.Now().UTC()
	// A republished signal must sort after the one it replaces.
	if previous, ok := store[key]; ok {
		if last, err := time.Parse(time.RFC3339Nano, previous.Timestamp); err == nil && !now.After(last) {
			now = last.Add(time.Nanosecond)
		}
	}
	store[key] = SignalMessage{
		Peer:      from,
		SDP:       sdp,
		Timestamp: now.Format(time.RFC3339Nano),
	}
	return nil
}

// pollSignals returns the messages in store whose keys concern local
// and that are newer than local's previous poll of the same key.
func (s *MemorySignaler) pollSignals(local string, store map[string]SignalMessage, storeLabel string, match signalKeyMatcher) ([]SignalMessage, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var messages []SignalMessage
	for key, msg := range store {
		if _, ok := match(key, local); !ok {
			continue
		}
		timestamp, err := time.Parse(time.RFC3339Nano, msg.Timestamp)
		if err != nil {
			continue
		}
		seenKey := storeLabel + ":" + local + ":" + key
		if last, ok := s.lastSeen[seenKey]; ok && !timestamp.After(last) {
			continue
		}
		s.lastSeen[seenKey] = timestamp
		messages = append(messages, msg)
	}
	return messages, nil
}
