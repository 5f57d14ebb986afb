// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"time"

	"github.com/bureau-foundation/netsession/wire"
)

var (
	// ErrRequestTimeout is delivered to a Call callback when no
	// response arrived within Config.RequestTimeout.
	ErrRequestTimeout = errors.New("session: request timed out")

	// ErrConnectionClosed is delivered to a Call callback when the
	// target disconnected first.
	ErrConnectionClosed = errors.New("session: connection closed before response")
)

// RemoteError is a responder's error, carried back to the caller.
type RemoteError struct {
	Message string `cbor:"1,keyasint"`
}

func (e *RemoteError) Error() string { return "remote: " + e.Message }

func (RemoteError) MessageName() string { return "netsession.error" }

// Response is what a Call callback receives. Exactly one of Err and a
// decodable body is set.
type Response struct {
	Name string
	Err  error

	envelope wire.Envelope
}

// Decode decodes the response body into v.
func (r Response) Decode(v any) error {
	if r.Err != nil {
		return r.Err
	}
	return r.envelope.DecodeBody(v)
}

type pendingCall struct {
	target   *Connection
	deadline time.Time
	callback func(Response)
}

// Call sends request to target and arranges for callback to run on the
// main loop with the response, a timeout, or a disconnect. callback
// runs exactly once.
func (s *Session) Call(target *Connection, request Message, callback func(Response)) error {
	if s.tornDown {
		return ErrTornDown
	}
	s.nextCallID++
	id := s.nextCallID
	frame, err := wire.EncodeCall(wire.Request, id, request.MessageName(), request, s.config.PackedCompression)
	if err != nil {
		return err
	}
	if err := target.SendRawMessage(frame, wire.Reliable); err != nil {
		return err
	}
	s.pendingCalls[id] = &pendingCall{
		target:   target,
		deadline: s.clock.Now().Add(s.config.RequestTimeout),
		callback: callback,
	}
	return nil
}

// HandleRequest registers fn to answer requests of type T. A returned
// error reaches the caller as a *RemoteError.
func HandleRequest[T Message, R Message](s *Session, fn func(source *Connection, request T) (R, error)) {
	var zero T
	name := zero.MessageName()
	if _, exists := s.requestHandlers[name]; exists {
		panic(fmt.Sprintf("session: duplicate request handler for %q", name))
	}
	s.requestHandlers[name] = func(source *Connection, envelope wire.Envelope) (Message, error) {
		var request T
		if err := envelope.DecodeBody(&request); err != nil {
			return nil, err
		}
		return fn(source, request)
	}
}

func (s *Session) handleRequest(source *Connection, frame []byte) error {
	_, id, envelope, err := wire.DecodeCall(frame)
	if err != nil {
		return err
	}

	var reply Message
	handler, ok := s.requestHandlers[envelope.Name]
	if !ok {
		reply = RemoteError{Message: fmt.Sprintf("no handler for %q", envelope.Name)}
	} else if result, err := handler(source, envelope); err != nil {
		reply = RemoteError{Message: err.Error()}
	} else {
		reply = result
	}

	response, err := wire.EncodeCall(wire.Response, id, reply.MessageName(), reply, s.config.PackedCompression)
	if err != nil {
		return err
	}
	return source.SendRawMessage(response, wire.Reliable)
}

func (s *Session) handleResponse(frame []byte) error {
	_, id, envelope, err := wire.DecodeCall(frame)
	if err != nil {
		return err
	}
	call, ok := s.pendingCalls[id]
	if !ok {
		return fmt.Errorf("response for unknown or expired call %d", id)
	}
	delete(s.pendingCalls, id)

	response := Response{Name: envelope.Name, envelope: envelope}
	if envelope.Name == (RemoteError{}).MessageName() {
		remote := &RemoteError{}
		if err := envelope.DecodeBody(remote); err != nil {
			remote.Message = err.Error()
		}
		response.Err = remote
	}
	call.callback(response)
	return nil
}

func (s *Session) expireCalls(now time.Time) {
	for id, call := range s.pendingCalls {
		if now.Before(call.deadline) {
			continue
		}
		delete(s.pendingCalls, id)
		call.callback(Response{Err: ErrRequestTimeout})
	}
}

func (s *Session) failCallsTo(c *Connection) {
	for id, call := range s.pendingCalls {
		if call.target != c {
			continue
		}
		delete(s.pendingCalls, id)
		call.callback(Response{Err: ErrConnectionClosed})
	}
}
