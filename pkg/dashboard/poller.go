package dashboard

import (
	"context"
	"encoding/json"
	"sync"
	"time"
)

// DefaultTickInterval is the pipeline recomputation cadence.
const DefaultTickInterval = time.Second

// subscriberBuffer is the per-subscriber channel depth; a consumer that
// falls further behind drops intermediate states (each state is complete,
// so skipping one loses nothing).
const subscriberBuffer = 8

// StateUpdate is one delivery to a streaming consumer: the serialized state
// and a monotonically increasing sequence id for resumability.
type StateUpdate struct {
	Seq   uint64
	State json.RawMessage
}

// ComputeFunc produces a fresh dashboard state for one tick.
type ComputeFunc func(ctx context.Context) (*DashboardState, error)

// TickListener observes every computed state. The relay manager registers
// one to drive its own per-target diffing.
type TickListener func(ctx context.Context, state *DashboardState)

// Poller drives the pipeline on a fixed-interval tick. Ticks are
// single-flow: a recomputation finishes before the next is scheduled. When
// there are no streaming subscribers and no tick listeners report interest,
// the tick does no work at all.
type Poller struct {
	compute  ComputeFunc
	interval time.Duration

	// hasDownstream reports whether any non-subscriber consumer (relay
	// targets) wants states. Checked each tick for idle suppression.
	hasDownstream func() bool

	mu          sync.Mutex
	subscribers map[string]chan StateUpdate
	listeners   []TickListener
	lastFP      string
	lastState   json.RawMessage
	seq         uint64

	// newTicker is swappable so tests can drive virtual time.
	newTicker func(time.Duration) (<-chan time.Time, func())
}

// NewPoller creates a Poller. hasDownstream may be nil when no relay
// consumers exist.
func NewPoller(compute ComputeFunc, interval time.Duration, hasDownstream func() bool) *Poller {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	if hasDownstream == nil {
		hasDownstream = func() bool { return false }
	}
	return &Poller{
		compute:       compute,
		interval:      interval,
		hasDownstream: hasDownstream,
		subscribers:   map[string]chan StateUpdate{},
		newTicker: func(d time.Duration) (<-chan time.Time, func()) {
			t := time.NewTicker(d)
			return t.C, t.Stop
		},
	}
}

// AddListener registers a per-tick observer. Must be called before Run.
func (p *Poller) AddListener(l TickListener) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.listeners = append(p.listeners, l)
}

// Run blocks until ctx is cancelled, computing one state per tick.
func (p *Poller) Run(ctx context.Context) {
	tickCh, stop := p.newTicker(p.interval)
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-tickCh:
			p.tick(ctx)
		}
	}
}

// tick performs one recomputation pass, unless the system is idle.
func (p *Poller) tick(ctx context.Context) {
	p.mu.Lock()
	idle := len(p.subscribers) == 0 && !p.hasDownstream()
	listeners := p.listeners
	p.mu.Unlock()
	if idle {
		return
	}

	state, err := p.compute(ctx)
	if err != nil || state == nil {
		return
	}

	for _, l := range listeners {
		l(ctx, state)
	}
	p.publish(state)
}

// publish fans the state out to streaming subscribers if its canonical form
// changed since the previous tick.
func (p *Poller) publish(state *DashboardState) {
	fp := Fingerprint(state)

	p.mu.Lock()
	defer p.mu.Unlock()

	if fp == p.lastFP {
		return
	}
	serialized, err := json.Marshal(state)
	if err != nil {
		return
	}
	p.lastFP = fp
	p.lastState = serialized
	p.seq++
	update := StateUpdate{Seq: p.seq, State: serialized}
	for _, ch := range p.subscribers {
		select {
		case ch <- update:
		default: // slow consumer; it will catch up on the next change
		}
	}
}

// Subscribe registers a streaming consumer. The current state, if any, is
// delivered immediately; afterwards the consumer receives a state only when
// the serialized form changes. On a poller that has been idle since start
// there is no state yet, so the first delivery arrives on the next tick
// (subscribing is itself what makes that tick compute). The caller must
// Unsubscribe with the same id.
func (p *Poller) Subscribe(id string) <-chan StateUpdate {
	ch := make(chan StateUpdate, subscriberBuffer)
	p.mu.Lock()
	defer p.mu.Unlock()
	p.subscribers[id] = ch
	if p.lastState != nil {
		ch <- StateUpdate{Seq: p.seq, State: p.lastState}
	}
	return ch
}

// Unsubscribe removes a consumer and closes its channel.
func (p *Poller) Unsubscribe(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if ch, ok := p.subscribers[id]; ok {
		delete(p.subscribers, id)
		close(ch)
	}
}

// SubscriberCount reports the number of live streaming consumers.
func (p *Poller) SubscriberCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.subscribers)
}
