package relay

import (
	"context"
	"encoding/json"
	"testing"
	"time"
)

func TestBackoffDelaySequence(t *testing.T) {
	t.Parallel()

	want := []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		30 * time.Second,
		30 * time.Second,
	}
	for attempt, expected := range want {
		got := backoffDelay(attempt, DefaultBackoffBase, DefaultBackoffCap)
		if got != expected {
			t.Errorf("attempt %d: got %v, want %v", attempt, got, expected)
		}
	}
}

func TestBackoffDelayLargeAttemptStaysCapped(t *testing.T) {
	t.Parallel()

	if got := backoffDelay(63, DefaultBackoffBase, DefaultBackoffCap); got != DefaultBackoffCap {
		t.Errorf("got %v, want cap %v", got, DefaultBackoffCap)
	}
}

func TestAuthHandshake(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok-abc"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)

	auth := readFrame(t, dec)
	if auth.Type != MsgAuth {
		t.Fatalf("first frame type = %q, want %q", auth.Type, MsgAuth)
	}
	if auth.Token != "tok-abc" || auth.PylonID != "pylon-1" {
		t.Errorf("auth frame = %+v, want token tok-abc and pylonId pylon-1", auth)
	}

	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-7"})

	waitFor(t, c.Authenticated, 2*time.Second)
	if c.State() != StateConnected {
		t.Errorf("state = %q, want %q", c.State(), StateConnected)
	}
	if c.OperatorID() != "op-7" {
		t.Errorf("operator id = %q, want op-7", c.OperatorID())
	}
}

func TestAuthRejectedSchedulesReconnect(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "bad"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)
	readFrame(t, dec)
	writeFrame(t, server, Message{Type: MsgAuthError, Reason: "token expired"})

	// The rejection is not terminal: the conn dials again after backoff.
	waitFor(t, func() bool { return dialer.dialCount() >= 2 }, 2*time.Second)

	if err := c.LastError(); err == "" {
		t.Error("expected LastError to record the rejection")
	}
}

func TestDialFailureRetriesAndResetsAttempt(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	dialer.failNext = 2
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	if got := dialer.dialCount(); got != 3 {
		t.Errorf("dial count = %d, want 3 (two failures then success)", got)
	}

	dec := json.NewDecoder(server)
	readFrame(t, dec)
	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-1"})
	waitFor(t, c.Authenticated, 2*time.Second)

	c.mu.Lock()
	attempt := c.attempt
	c.mu.Unlock()
	if attempt != 0 {
		t.Errorf("attempt = %d after successful open, want 0", attempt)
	}
}

func TestPushSuppressesDuplicatePayload(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)
	readFrame(t, dec)
	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-1"})
	waitFor(t, c.Authenticated, 2*time.Second)

	stateA := &WireState{Operator: "op-1", Summary: WireSummary{AgentCount: 1}}
	c.Push(stateA)
	first := readFrame(t, dec)
	if first.Type != MsgStateUpdate || first.State == nil || first.State.Summary.AgentCount != 1 {
		t.Fatalf("first update = %+v, want state with agentCount 1", first)
	}

	// Identical payload must never be retransmitted; the next frame on the
	// wire is the changed one.
	c.Push(&WireState{Operator: "op-1", Summary: WireSummary{AgentCount: 1}})
	time.Sleep(20 * time.Millisecond)
	c.Push(&WireState{Operator: "op-1", Summary: WireSummary{AgentCount: 2}})

	second := readFrame(t, dec)
	if second.State == nil || second.State.Summary.AgentCount != 2 {
		t.Fatalf("second update = %+v, want state with agentCount 2", second)
	}
}

func TestPushBeforeAuthHeldUntilAuthenticated(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)
	readFrame(t, dec)

	c.Push(&WireState{Summary: WireSummary{AgentCount: 5}})
	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-1"})
	waitFor(t, c.Authenticated, 2*time.Second)

	// The pre-auth push stays pending and goes out after auth completes.
	frame := readFrame(t, dec)
	if frame.Type != MsgStateUpdate {
		t.Fatalf("frame type = %q, want %q", frame.Type, MsgStateUpdate)
	}
}

func TestDisconnectIsTerminal(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok"}, dialer)
	c.Connect(context.Background())

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)
	readFrame(t, dec)
	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-1"})
	waitFor(t, c.Authenticated, 2*time.Second)

	c.Disconnect()

	if c.State() != StateDisconnected {
		t.Errorf("state = %q, want %q", c.State(), StateDisconnected)
	}
	if c.Authenticated() {
		t.Error("still authenticated after disconnect")
	}

	// No reconnect attempts after an intentional disconnect.
	dials := dialer.dialCount()
	time.Sleep(50 * time.Millisecond)
	if got := dialer.dialCount(); got != dials {
		t.Errorf("dial count grew from %d to %d after Disconnect", dials, got)
	}

	// Connect starts the lifecycle again.
	c.Connect(context.Background())
	defer c.Disconnect()
	waitFor(t, func() bool { return dialer.dialCount() > dials }, 2*time.Second)
}

func TestSocketCloseTriggersReconnect(t *testing.T) {
	t.Parallel()

	dialer := newFakeDialer()
	c := fastConn("pylon-1", Target{ID: "t1", Endpoint: "relay.test:443", Token: "tok"}, dialer)
	c.Connect(context.Background())
	defer c.Disconnect()

	server := dialer.acceptServer(t)
	dec := json.NewDecoder(server)
	readFrame(t, dec)
	writeFrame(t, server, Message{Type: MsgAuthOK, OperatorID: "op-1"})
	waitFor(t, c.Authenticated, 2*time.Second)

	_ = server.Close()

	waitFor(t, func() bool { return dialer.dialCount() >= 2 }, 2*time.Second)

	server2 := dialer.acceptServer(t)
	dec2 := json.NewDecoder(server2)
	auth := readFrame(t, dec2)
	if auth.Type != MsgAuth {
		t.Errorf("re-auth frame type = %q, want %q", auth.Type, MsgAuth)
	}
}
