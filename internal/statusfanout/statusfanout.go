// Package statusfanout implements the Status Fan-out: it receives
// agent_up/agent_down events from the Agent Registry and delivers them to
// subscribed Status Subscribers, filtered to the agent_ids each
// subscriber's owner actually owns.
package statusfanout

import (
	"sync"

	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/registry"
)

// StatusUpdate is the event shape forwarded to UI subscribers:
// `{type: "AGENT_STATUS_UPDATE", agent_id, agentConnected}`.
type StatusUpdate struct {
	Type           string `json:"type"`
	AgentID        string `json:"agent_id"`
	AgentConnected bool   `json:"agentConnected"`
}

const updateType = "AGENT_STATUS_UPDATE"

// Subscriber is one UI observer: an owning user and the fixed set of
// agent_ids of interest, resolved once at subscription time rather than
// re-derived on every delivery.
type Subscriber struct {
	id       uint64
	userID   string
	agentIDs map[string]bool

	mu     sync.Mutex
	outbox chan StatusUpdate
	closed bool
}

// trySend enqueues an update for delivery, dropping it (never blocking the
// publisher) if the subscriber's buffer is full; the caller (Fan-out)
// treats a full buffer as "shed this subscriber".
func (s *Subscriber) trySend(u StatusUpdate) (ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return true // already gone, nothing to shed
	}
	select {
	case s.outbox <- u:
		return true
	default:
		return false
	}
}

// Close marks the subscriber closed and closes its outbox channel so a
// writer goroutine reading Updates observes closure.
func (s *Subscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.outbox)
}

// Updates returns the channel the Status WebSocket Endpoint should range
// over to forward events to the client.
func (s *Subscriber) Updates() <-chan StatusUpdate { return s.outbox }

// OwnershipResolver tells the Fan-out which agent_ids belong to a user, so
// a new subscription's initial snapshot and subsequent events can be
// filtered to exactly that set.
type OwnershipResolver interface {
	AgentIDsOwnedBy(userID string) ([]string, error)
}

// FanOut is the Status Fan-out: it consumes registry.Event and delivers
// StatusUpdate to every Subscriber whose owner owns that agent_id.
type FanOut struct {
	owners OwnershipResolver
	reg    *registry.Registry

	mu          sync.Mutex
	subscribers map[uint64]*Subscriber
	nextID      uint64

	events chan registry.Event
	done   chan struct{}
}

// New constructs a Fan-out that reads Registry events from events (the
// same channel passed to registry.New) and resolves ownership via owners.
func New(reg *registry.Registry, owners OwnershipResolver, events chan registry.Event) *FanOut {
	f := &FanOut{
		owners:      owners,
		reg:         reg,
		subscribers: make(map[uint64]*Subscriber),
		events:      events,
		done:        make(chan struct{}),
	}
	go f.pump()
	return f
}

func (f *FanOut) pump() {
	for {
		select {
		case ev, ok := <-f.events:
			if !ok {
				return
			}
			f.broadcast(ev)
		case <-f.done:
			return
		}
	}
}

// Subscribe creates a Status Subscriber for userID, delivers an initial
// snapshot derived from Registry.snapshot() filtered by ownership, and
// returns the subscriber for the caller to range over and eventually Close.
func (f *FanOut) Subscribe(userID string) (*Subscriber, error) {
	owned, err := f.owners.AgentIDsOwnedBy(userID)
	if err != nil {
		return nil, err
	}
	ownedSet := make(map[string]bool, len(owned))
	for _, id := range owned {
		ownedSet[id] = true
	}

	sub := &Subscriber{
		userID:   userID,
		agentIDs: ownedSet,
		outbox:   make(chan StatusUpdate, 64),
	}

	f.mu.Lock()
	f.nextID++
	sub.id = f.nextID
	f.subscribers[sub.id] = sub
	f.mu.Unlock()

	live := make(map[string]bool)
	for _, id := range f.reg.Snapshot() {
		live[id] = true
	}
	for agentID := range ownedSet {
		sub.trySend(StatusUpdate{Type: updateType, AgentID: agentID, AgentConnected: live[agentID]})
	}

	return sub, nil
}

// Unsubscribe removes sub from the fan-out and closes its outbox.
func (f *FanOut) Unsubscribe(sub *Subscriber) {
	f.mu.Lock()
	delete(f.subscribers, sub.id)
	f.mu.Unlock()
	sub.Close()
}

func (f *FanOut) broadcast(ev registry.Event) {
	update := StatusUpdate{Type: updateType, AgentID: ev.AgentID, AgentConnected: ev.Connected}

	f.mu.Lock()
	candidates := make([]*Subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		if sub.agentIDs[ev.AgentID] {
			candidates = append(candidates, sub)
		}
	}
	f.mu.Unlock()

	var toShed []*Subscriber
	for _, sub := range candidates {
		if !sub.trySend(update) {
			toShed = append(toShed, sub)
		}
	}

	if len(toShed) == 0 {
		return
	}
	log := logger.StatusWS()
	f.mu.Lock()
	for _, sub := range toShed {
		delete(f.subscribers, sub.id)
	}
	f.mu.Unlock()
	for _, sub := range toShed {
		log.Warn().Uint64("subscriber_id", sub.id).Msg("shedding slow status subscriber")
		sub.Close()
	}
}

// Shutdown closes every subscriber and stops the fan-out's pump goroutine,
// part of the gateway's ordered shutdown sequence.
func (f *FanOut) Shutdown() {
	close(f.done)
	f.mu.Lock()
	subs := make([]*Subscriber, 0, len(f.subscribers))
	for _, sub := range f.subscribers {
		subs = append(subs, sub)
	}
	f.subscribers = make(map[uint64]*Subscriber)
	f.mu.Unlock()
	for _, sub := range subs {
		sub.Close()
	}
}
