// Package registry implements the Agent Registry: the process-wide mapping
// from agent_id to the single live Agent Session for that agent, with
// displacement of a stale prior session on reconnect and connect/disconnect
// event emission.
package registry

import (
	"sync"
	"time"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/logger"
)

// Session is the minimal surface the Registry needs from a live Agent
// Session: a way to send a frame, a way to force-close it, and its epoch.
type Session interface {
	AgentID() string
	Epoch() uint64
	// Send enqueues a raw frame on the session's bounded outbound buffer.
	// It must return an error (without blocking) if the buffer is full.
	Send(frame []byte) error
	// Close tears the session down with the given reason code, used for
	// both wire-visible close reasons (superseded, shutdown) and internal
	// bookkeeping.
	Close(reason string)
}

// Event is published to the Status Fan-out on every attach/detach that
// changes registry membership.
type Event struct {
	AgentID   string
	Connected bool
}

// PendingFailer is implemented by the Correlator: on detach, the Registry
// asks it to fail every Pending Request outstanding against the displaced
// or detached session before detach returns.
type PendingFailer interface {
	FailAllForSession(agentID string, epoch uint64, err *apperrors.AppError)
}

// Registry is the process-wide agent_id -> live session map.
type Registry struct {
	mu       sync.Mutex
	sessions map[string]Session

	failer PendingFailer
	events chan Event
}

// New constructs an empty Registry. events should be a buffered channel
// consumed by the Status Fan-out; failer is typically the Correlator.
func New(failer PendingFailer, events chan Event) *Registry {
	return &Registry{
		sessions: make(map[string]Session),
		failer:   failer,
		events:   events,
	}
}

// Attach installs session as the live session for its agent_id, displacing
// and closing any prior session with reason "superseded" and failing all
// Pending Requests targeted at it. Returns the displaced session, if any.
func (r *Registry) Attach(session Session) (previous Session) {
	agentID := session.AgentID()

	r.mu.Lock()
	previous = r.sessions[agentID]
	r.sessions[agentID] = session
	r.mu.Unlock()

	log := logger.Registry()
	if previous != nil {
		log.Info().Str("agent_id", agentID).Uint64("old_epoch", previous.Epoch()).
			Uint64("new_epoch", session.Epoch()).Msg("displacing prior agent session")
		previous.Close(apperrors.CodeSuperseded)
		if r.failer != nil {
			r.failer.FailAllForSession(agentID, previous.Epoch(), apperrors.AgentUnreachable("session superseded by reconnect"))
		}
	}

	if previous == nil || previous.Epoch() != session.Epoch() {
		r.publish(Event{AgentID: agentID, Connected: true})
	}
	return previous
}

// Detach removes session from the registry iff it is still the current
// session for its agent_id (no-op otherwise — an already-superseded
// session detaching must not clobber its successor). Fails all Pending
// Requests for (agentID, session.Epoch()) before returning.
func (r *Registry) Detach(session Session) {
	agentID := session.AgentID()

	r.mu.Lock()
	current, ok := r.sessions[agentID]
	removed := ok && current == session
	if removed {
		delete(r.sessions, agentID)
	}
	r.mu.Unlock()

	if !removed {
		return
	}

	if r.failer != nil {
		r.failer.FailAllForSession(agentID, session.Epoch(), apperrors.AgentUnreachable("agent session closed"))
	}
	r.publish(Event{AgentID: agentID, Connected: false})
}

// Shutdown closes every currently-attached session with reason "shutdown"
// and fails any Pending Requests outstanding against it. Safe to call
// once, at process shutdown; the Registry is not usable afterward.
func (r *Registry) Shutdown() {
	r.mu.Lock()
	sessions := make([]Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.sessions = make(map[string]Session)
	r.mu.Unlock()

	for _, s := range sessions {
		s.Close(apperrors.CodeShutdown)
		if r.failer != nil {
			r.failer.FailAllForSession(s.AgentID(), s.Epoch(), apperrors.Shutdown("gateway shutting down"))
		}
	}
}

// Lookup returns the current live session for agent_id, if any.
func (r *Registry) Lookup(agentID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[agentID]
	return s, ok
}

// Snapshot returns the set of agent_ids currently believed live.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.sessions))
	for id := range r.sessions {
		out = append(out, id)
	}
	return out
}

func (r *Registry) publish(ev Event) {
	if r.events == nil {
		return
	}
	select {
	case r.events <- ev:
	default:
		logger.Registry().Warn().Str("agent_id", ev.AgentID).Msg("registry event channel full, dropping event")
	}
}

// StaleSweepInterval and StaleThreshold name a heartbeat sweep cadence
// (10s tick / 30s threshold) for detecting agents whose transport died
// without a clean close. No code in this tree reads them.
const (
	StaleSweepInterval = 10 * time.Second
	StaleThreshold      = 30 * time.Second
)
