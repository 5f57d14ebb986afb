// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package session

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bureau-foundation/netsession/lib/clock"
)

type echoRequest struct {
	Text string `cbor:"1,keyasint"`
}

func (echoRequest) MessageName() string { return "test.echo" }

type echoReply struct {
	Text string `cbor:"1,keyasint"`
}

func (echoReply) MessageName() string { return "test.echo_reply" }

type silentRequest struct{}

func (silentRequest) MessageName() string { return "test.silent" }

func joinedPair(t *testing.T, fake *clock.FakeClock) (host, client *Session, hostSide, clientSide *Connection) {
	t.Helper()
	host = newHost(t, nil, fake)
	client = newTestSession(t, DefaultConfig(), nil, fake)
	hostSide, clientSide = connectPair(t, host, client)
	pump(host, client)
	if client.Local().State != StateConnected {
		t.Fatalf("handshake did not complete: %s", client.Local().State)
	}
	return host, client, hostSide, clientSide
}

func TestCallRoundTrip(t *testing.T) {
	host, client, hostSide, _ := joinedPair(t, nil)
	HandleRequest(client, func(_ *Connection, request echoRequest) (echoReply, error) {
		if request.Text == "fail" {
			return echoReply{}, fmt.Errorf("refusing %q", request.Text)
		}
		return echoReply{Text: request.Text + "!"}, nil
	})

	var replies []Response
	record := func(response Response) { replies = append(replies, response) }
	if err := host.Call(hostSide, echoRequest{Text: "hi"}, record); err != nil {
		t.Fatal(err)
	}
	if err := host.Call(hostSide, echoRequest{Text: "fail"}, record); err != nil {
		t.Fatal(err)
	}
	if err := host.Call(hostSide, silentRequest{}, record); err != nil {
		t.Fatal(err)
	}
	pump(host, client)

	if len(replies) != 3 {
		t.Fatalf("got %d replies, want 3", len(replies))
	}
	var reply echoReply
	if err := replies[0].Decode(&reply); err != nil || reply.Text != "hi!" {
		t.Errorf("reply = %q, %v", reply.Text, err)
	}
	var remote *RemoteError
	if !errors.As(replies[1].Err, &remote) || remote.Message != `refusing "fail"` {
		t.Errorf("handler error = %v", replies[1].Err)
	}
	if !errors.As(replies[2].Err, &remote) {
		t.Errorf("missing handler error = %v", replies[2].Err)
	}
}

func TestCallTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	host := newHost(t, nil, fake)
	c, _ := peer(host, StateConnected)

	var got []error
	if err := host.Call(c, silentRequest{}, func(response Response) { got = append(got, response.Err) }); err != nil {
		t.Fatal(err)
	}
	fake.Advance(9 * time.Second)
	host.Update()
	if len(got) != 0 {
		t.Fatal("call expired early")
	}
	fake.Advance(time.Second)
	host.Update()
	host.Update()
	if len(got) != 1 || !errors.Is(got[0], ErrRequestTimeout) {
		t.Fatalf("callback errors = %v, want one ErrRequestTimeout", got)
	}
}

func TestCallFailsOnDisconnect(t *testing.T) {
	host := newHost(t, nil, nil)
	c, _ := peer(host, StateConnected)

	var got error
	host.Call(c, silentRequest{}, func(response Response) { got = response.Err })
	host.OnDisconnected(c)
	if !errors.Is(got, ErrConnectionClosed) {
		t.Fatalf("callback error = %v, want ErrConnectionClosed", got)
	}
}

func TestDuplicateHandlerPanics(t *testing.T) {
	s := newTestSession(t, DefaultConfig(), nil, nil)
	defer func() {
		if recover() == nil {
			t.Fatal("registering a built-in message twice did not panic")
		}
	}()
	Handle(s, func(*Connection, ServerInfo) error { return nil })
}
