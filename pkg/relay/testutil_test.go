package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"testing"
	"time"
)

// waitFor polls condition every tick until it returns true or timeout expires.
func waitFor(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("waitFor: condition not met within %v", timeout)
}

// fakeDialer hands out net.Pipe pairs and can be primed to fail the first N
// dial attempts.
type fakeDialer struct {
	mu       sync.Mutex
	dials    int
	failNext int
	serverCh chan net.Conn
}

func newFakeDialer() *fakeDialer {
	return &fakeDialer{serverCh: make(chan net.Conn, 8)}
}

func (d *fakeDialer) DialContext(_ context.Context, _ string) (net.Conn, error) {
	d.mu.Lock()
	d.dials++
	fail := d.failNext > 0
	if fail {
		d.failNext--
	}
	d.mu.Unlock()

	if fail {
		return nil, errors.New("connection refused")
	}
	client, server := net.Pipe()
	d.serverCh <- server
	return client, nil
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

// acceptServer waits for the next server-side pipe end.
func (d *fakeDialer) acceptServer(t *testing.T) net.Conn {
	t.Helper()
	select {
	case conn := <-d.serverCh:
		return conn
	case <-time.After(2 * time.Second):
		t.Fatal("no connection arrived")
		return nil
	}
}

// readFrame decodes one wire message from the server side of the pipe.
func readFrame(t *testing.T, dec *json.Decoder) Message {
	t.Helper()
	result := make(chan Message, 1)
	errCh := make(chan error, 1)
	go func() {
		var msg Message
		if err := dec.Decode(&msg); err != nil {
			errCh <- err
			return
		}
		result <- msg
	}()
	select {
	case msg := <-result:
		return msg
	case err := <-errCh:
		t.Fatalf("read frame: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("no frame arrived")
	}
	return Message{}
}

// writeFrame sends one wire message to the client.
func writeFrame(t *testing.T, conn net.Conn, msg Message) {
	t.Helper()
	if err := json.NewEncoder(conn).Encode(msg); err != nil {
		t.Fatalf("write frame: %v", err)
	}
}

// fastConn builds a Conn with millisecond backoff so reconnect paths run
// quickly under test.
func fastConn(pylonID string, target Target, dialer Dialer) *Conn {
	c := NewConn(pylonID, target, dialer)
	c.backoffBase = time.Millisecond
	c.backoffCap = 8 * time.Millisecond
	return c
}
