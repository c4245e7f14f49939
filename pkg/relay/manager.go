package relay

import (
	"context"
	"sync"

	"pylon/pkg/dashboard"
)

// LogFunc records a relay lifecycle event. The daemon wires this to its
// SQLite event log; failures there are best-effort and never surface here.
type LogFunc func(evType, target, detail string)

// Manager owns the live connection per configured target. Configuration is
// persisted and survives restarts; connections are ephemeral and rebuilt
// from it on every reconciliation pass.
type Manager struct {
	store    *Store
	dialer   Dialer
	pylonID  string
	operator string
	logEvent LogFunc

	mu    sync.Mutex
	conns map[string]*managedConn
}

type managedConn struct {
	conn     *Conn
	endpoint string
	token    string
	projects []string
}

// NewManager builds a manager over the given target store. dialer may be nil
// for the production TCP dialer; logEvent may be nil to discard events.
func NewManager(store *Store, dialer Dialer, pylonID, operator string, logEvent LogFunc) *Manager {
	if dialer == nil {
		dialer = NetDialer{}
	}
	if logEvent == nil {
		logEvent = func(string, string, string) {}
	}
	return &Manager{
		store:    store,
		dialer:   dialer,
		pylonID:  pylonID,
		operator: operator,
		logEvent: logEvent,
		conns:    make(map[string]*managedConn),
	}
}

// HasTargets reports whether any relay target is configured. Combined with
// the subscriber count, it decides whether the tick loop runs at all.
func (m *Manager) HasTargets() bool {
	n, err := m.store.Count(context.Background())
	if err != nil {
		m.logEvent("relay_store_error", "", err.Error())
		return false
	}
	return n > 0
}

// OnTick reconciles connections against configuration, then pushes the
// scoped state to every authenticated target with a non-empty allow-list.
// Registered as a tick listener; Push never blocks, so a hung remote
// degrades only its own target's delivery.
func (m *Manager) OnTick(ctx context.Context, state *dashboard.DashboardState) {
	targets, err := m.store.List(ctx)
	if err != nil {
		m.logEvent("relay_store_error", "", err.Error())
		return
	}
	m.reconcile(ctx, targets)

	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range targets {
		mc, ok := m.conns[t.ID]
		if !ok || len(mc.projects) == 0 {
			continue
		}
		if !mc.conn.Authenticated() {
			continue
		}
		operator := mc.conn.OperatorID()
		if operator == "" {
			operator = m.operator
		}
		mc.conn.Push(Transform(state, operator, mc.projects))
	}
}

// reconcile aligns live connections with the configured target set: drops
// connections for deleted targets, starts connections for new ones, and
// propagates credential changes. An endpoint change rebuilds the connection.
func (m *Manager) reconcile(ctx context.Context, targets []Target) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := make(map[string]Target, len(targets))
	for _, t := range targets {
		current[t.ID] = t
	}

	for id, mc := range m.conns {
		if _, ok := current[id]; !ok {
			mc.conn.Disconnect()
			delete(m.conns, id)
			m.logEvent("relay_target_removed", id, "")
		}
	}

	for _, t := range targets {
		mc, ok := m.conns[t.ID]
		if ok && mc.endpoint != t.Endpoint {
			mc.conn.Disconnect()
			delete(m.conns, t.ID)
			ok = false
		}
		if !ok {
			c := NewConn(m.pylonID, t, m.dialer)
			c.Connect(ctx)
			m.conns[t.ID] = &managedConn{
				conn:     c,
				endpoint: t.Endpoint,
				token:    t.Token,
				projects: t.Projects,
			}
			m.logEvent("relay_target_connecting", t.ID, t.Endpoint)
			continue
		}
		if mc.token != t.Token {
			mc.conn.UpdateCredentials(t.Token)
			mc.token = t.Token
		}
		mc.projects = t.Projects
	}
}

// ConnStates returns the lifecycle state per target, for status surfaces.
func (m *Manager) ConnStates() map[string]ConnState {
	m.mu.Lock()
	defer m.mu.Unlock()
	states := make(map[string]ConnState, len(m.conns))
	for id, mc := range m.conns {
		states[id] = mc.conn.State()
	}
	return states
}

// Close disconnects every live connection.
func (m *Manager) Close() {
	m.mu.Lock()
	conns := make([]*managedConn, 0, len(m.conns))
	for _, mc := range m.conns {
		conns = append(conns, mc)
	}
	m.conns = make(map[string]*managedConn)
	m.mu.Unlock()

	for _, mc := range conns {
		mc.conn.Disconnect()
	}
}
