package relay

import (
	"bufio"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"
)

// ConnState is the connection's lifecycle state.
type ConnState string

// Connection states. Disconnected re-enters connecting automatically unless
// the close was intentional.
const (
	StateConnecting   ConnState = "connecting"
	StateConnected    ConnState = "connected"
	StateDisconnected ConnState = "disconnected"
)

// Connection timing defaults.
const (
	DefaultHeartbeatInterval = 20 * time.Second
	DefaultBackoffBase       = time.Second
	DefaultBackoffCap        = 30 * time.Second
)

// errAuthRejected terminates a session after the remote refuses our token.
var errAuthRejected = errors.New("auth rejected")

// Dialer opens the relay socket. Production dials TCP; tests substitute
// net.Pipe.
type Dialer interface {
	DialContext(ctx context.Context, endpoint string) (net.Conn, error)
}

// NetDialer is the production Dialer.
type NetDialer struct{}

// DialContext dials the endpoint over TCP.
func (NetDialer) DialContext(ctx context.Context, endpoint string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, "tcp", endpoint)
}

// Conn is one persistent client connection to a relay target. It owns auth,
// heartbeat, reconnection with exponential backoff, and diffed state
// transmission. All socket I/O happens on the conn's own goroutines;
// a hung remote never blocks the caller.
type Conn struct {
	pylonID string
	dialer  Dialer

	// Timing knobs, overridable in tests.
	heartbeatInterval time.Duration
	backoffBase       time.Duration
	backoffCap        time.Duration

	mu          sync.Mutex
	target      Target
	state       ConnState
	sock        net.Conn
	operatorID  string
	authed      bool
	attempt     int
	intentional bool
	lastSentFP  string
	lastError   string
	cancel      context.CancelFunc
	done        chan struct{}

	// pushCh carries at most the newest pending state; an unsent older
	// state is replaced, not queued.
	pushCh chan *WireState
}

// NewConn creates a connection for a target. Call Connect to start it.
func NewConn(pylonID string, target Target, dialer Dialer) *Conn {
	if dialer == nil {
		dialer = NetDialer{}
	}
	return &Conn{
		pylonID:           pylonID,
		dialer:            dialer,
		heartbeatInterval: DefaultHeartbeatInterval,
		backoffBase:       DefaultBackoffBase,
		backoffCap:        DefaultBackoffCap,
		target:            target,
		state:             StateDisconnected,
		pushCh:            make(chan *WireState, 1),
	}
}

// Connect starts the connection lifecycle. Safe to call again after
// Disconnect; a no-op while already running.
func (c *Conn) Connect(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.done != nil {
		return
	}
	runCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.intentional = false
	c.state = StateConnecting
	c.done = make(chan struct{})
	go c.loop(runCtx, c.done)
}

// Disconnect is terminal until Connect is called again: it cancels all
// timers, closes the socket, and suppresses auto-reconnect.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	c.intentional = true
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
	if c.sock != nil {
		_ = c.sock.Close()
	}
	done := c.done
	c.done = nil
	c.mu.Unlock()

	if done != nil {
		<-done
	}
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
}

// State returns the current lifecycle state.
func (c *Conn) State() ConnState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Authenticated reports whether the remote accepted our auth.
func (c *Conn) Authenticated() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.authed
}

// OperatorID returns the operator identity assigned by the remote side.
func (c *Conn) OperatorID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.operatorID
}

// LastError returns the most recent connection-level failure, for status
// surfaces. Empty when healthy.
func (c *Conn) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastError
}

// UpdateCredentials applies a configuration-side token change. Takes effect
// on the next auth handshake.
func (c *Conn) UpdateCredentials(token string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.target.Token = token
}

// Push offers a state for transmission. Only the newest pending state is
// kept, and a payload value-identical to the last one actually sent is
// suppressed by the writer. Push never blocks.
func (c *Conn) Push(state *WireState) {
	select {
	case c.pushCh <- state:
	default:
		// Replace the stale pending state with the newer one.
		select {
		case <-c.pushCh:
		default:
		}
		select {
		case c.pushCh <- state:
		default:
		}
	}
}

// --- Lifecycle loop ---

// loop runs dial/auth/read sessions until cancelled or intentionally
// disconnected. The backoff attempt counter resets on every successful open.
func (c *Conn) loop(ctx context.Context, done chan struct{}) {
	defer close(done)

	for {
		if ctx.Err() != nil || c.isIntentional() {
			return
		}

		c.setState(StateConnecting)
		c.mu.Lock()
		endpoint := c.target.Endpoint
		c.mu.Unlock()

		sock, err := c.dialer.DialContext(ctx, endpoint)
		if err != nil {
			c.setLastError("dial: " + err.Error())
			if !c.waitBackoff(ctx) {
				return
			}
			continue
		}

		c.mu.Lock()
		c.sock = sock
		c.attempt = 0
		c.mu.Unlock()

		err = c.session(ctx, sock)
		_ = sock.Close()

		c.mu.Lock()
		c.sock = nil
		c.authed = false
		c.operatorID = ""
		c.state = StateDisconnected
		intentional := c.intentional
		c.mu.Unlock()

		if intentional || ctx.Err() != nil {
			return
		}
		if err != nil {
			c.setLastError(err.Error())
		}
		if !c.waitBackoff(ctx) {
			return
		}
	}
}

// session runs one connected exchange: auth handshake, heartbeat timer, and
// the read/write loops. Returns when the socket closes or auth is rejected.
func (c *Conn) session(ctx context.Context, sock net.Conn) error {
	c.mu.Lock()
	token := c.target.Token
	c.mu.Unlock()

	writeCh := make(chan Message, 4)
	authed := make(chan struct{})
	sessionCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	writeDone := make(chan error, 1)
	go func() { writeDone <- c.writeLoop(sessionCtx, sock, writeCh, authed) }()

	writeCh <- Message{Type: MsgAuth, Token: token, PylonID: c.pylonID}

	readDone := make(chan error, 1)
	go func() { readDone <- c.readLoop(sock, authed) }()

	select {
	case err := <-readDone:
		return err
	case err := <-writeDone:
		return err
	case <-sessionCtx.Done():
		_ = sock.Close()
		return nil
	}
}

// readLoop consumes server frames until the socket closes. It closes the
// authed channel when the remote accepts our token.
func (c *Conn) readLoop(sock net.Conn, authed chan struct{}) error {
	accepted := false
	scanner := bufio.NewScanner(sock)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		var msg Message
		if err := json.Unmarshal(scanner.Bytes(), &msg); err != nil {
			continue // skip malformed frames
		}
		switch msg.Type {
		case MsgAuthOK:
			c.mu.Lock()
			c.authed = true
			c.operatorID = msg.OperatorID
			c.state = StateConnected
			c.lastError = ""
			c.mu.Unlock()
			if !accepted {
				accepted = true
				close(authed)
			}
		case MsgAuthError:
			c.setLastError("auth rejected: " + msg.Reason)
			return errAuthRejected
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return errors.New("connection closed")
}

// writeLoop is the socket's single writer: auth, heartbeats, and diffed
// state updates all flow through it. Heartbeats and state pushes are held
// back until the authed signal fires; a pending push survives the wait.
func (c *Conn) writeLoop(ctx context.Context, sock net.Conn, writeCh <-chan Message, authed <-chan struct{}) error {
	ticker := time.NewTicker(c.heartbeatInterval)
	defer ticker.Stop()

	enc := json.NewEncoder(sock)
	ready := false
	for {
		pushC := c.pushCh
		hbC := ticker.C
		if !ready {
			pushC = nil
			hbC = nil
		}
		select {
		case <-ctx.Done():
			return nil
		case <-authed:
			ready = true
			authed = nil
		case msg := <-writeCh:
			if err := enc.Encode(msg); err != nil {
				return err
			}
		case <-hbC:
			if err := enc.Encode(Message{Type: MsgHeartbeat}); err != nil {
				return err
			}
		case state := <-pushC:
			fp := stateFingerprint(state)
			c.mu.Lock()
			dup := fp == c.lastSentFP
			c.mu.Unlock()
			if dup {
				continue
			}
			if err := enc.Encode(Message{Type: MsgStateUpdate, State: state}); err != nil {
				return err
			}
			c.mu.Lock()
			c.lastSentFP = fp
			c.mu.Unlock()
		}
	}
}

// waitBackoff sleeps the exponential reconnect delay. Returns false when the
// wait was cancelled.
func (c *Conn) waitBackoff(ctx context.Context) bool {
	c.mu.Lock()
	delay := backoffDelay(c.attempt, c.backoffBase, c.backoffCap)
	c.attempt++
	c.mu.Unlock()

	select {
	case <-ctx.Done():
		return false
	case <-time.After(delay):
		return !c.isIntentional()
	}
}

// backoffDelay computes min(base * 2^attempt, cap).
func backoffDelay(attempt int, base, cap time.Duration) time.Duration {
	if attempt > 30 {
		return cap
	}
	d := base << uint(attempt)
	if d > cap || d <= 0 {
		return cap
	}
	return d
}

func (c *Conn) setState(s ConnState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Conn) setLastError(msg string) {
	c.mu.Lock()
	c.lastError = msg
	c.mu.Unlock()
}

func (c *Conn) isIntentional() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intentional
}

// stateFingerprint hashes a wire state's serialized form for duplicate
// suppression.
func stateFingerprint(state *WireState) string {
	data, err := json.Marshal(state)
	if err != nil {
		return ""
	}
	h := sha256.Sum256(data)
	return hex.EncodeToString(h[:])
}
