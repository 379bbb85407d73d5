// Package correlator implements the Correlator: the request/response
// multiplexer that lets a caller block on a single-shot reply to a frame
// dispatched over an Agent Session, while many other requests share the
// same underlying duplex connection. Each pending request is keyed by
// (agent_id, epoch, request_id) so a reply can never be delivered to the
// wrong caller after a reconnect.
package correlator

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/logger"
)

// sinkKey identifies one Pending Request unambiguously, including the
// session epoch it was dispatched against, so a reply arriving on a
// superseded session's stale epoch can never be delivered to it.
type sinkKey struct {
	agentID   string
	epoch     uint64
	requestID string
}

// Reply is what a Pending Request resolves to: either a payload or a
// structured AppError, never both.
type Reply struct {
	Payload []byte
	Err     *apperrors.AppError
}

type sink struct {
	ch     chan Reply
	once   sync.Once
	closed int32
}

func (s *sink) deliver(r Reply) bool {
	delivered := false
	s.once.Do(func() {
		s.ch <- r
		delivered = true
	})
	return delivered
}

// Resolver is the minimal surface the Correlator needs from the Registry:
// looking a live session up by agent_id to dispatch against it.
type Resolver interface {
	Lookup(agentID string) (Session, bool)
}

// Session mirrors registry.Session to avoid an import cycle; the gateway
// wiring passes the same concrete type to both.
type Session interface {
	AgentID() string
	Epoch() uint64
	Send(frame []byte) error
}

// Correlator multiplexes request/response pairs across all live Agent
// Sessions.
type Correlator struct {
	resolver Resolver

	mu    sync.Mutex
	sinks map[sinkKey]*sink

	nextRequestID uint64
}

// New constructs a Correlator that dispatches through resolver.
func New(resolver Resolver) *Correlator {
	return &Correlator{
		resolver: resolver,
		sinks:    make(map[sinkKey]*sink),
	}
}

// BindResolver rebinds the Correlator's Resolver after construction. The
// gateway wiring needs this: the Registry requires the Correlator as its
// PendingFailer at construction time, but the Correlator requires the
// Registry as its Resolver, so one of the two must be constructed before
// its dependency exists and patched in afterward. Not safe to call once
// Dispatch calls are in flight against the old resolver.
func (c *Correlator) BindResolver(resolver Resolver) {
	c.resolver = resolver
}

// NextRequestID allocates a monotonically increasing, process-wide request
// id. Recycled only implicitly, by never being reused once retired.
func (c *Correlator) NextRequestID() string {
	n := atomic.AddUint64(&c.nextRequestID, 1)
	return uitoa(n)
}

func uitoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// FrameEncoder turns (requestID, payload) into the bytes to send on the
// wire for a given request kind. The gateway wiring supplies one that
// knows how to build a models.Frame of the right kind.
type FrameEncoder func(requestID string) ([]byte, error)

// Dispatch resolves the session, registers a single-shot sink, enqueues
// the frame, and suspends the caller until reply, deadline, detach, or
// cancellation.
func (c *Correlator) Dispatch(ctx context.Context, agentID string, encode FrameEncoder, deadline time.Duration) ([]byte, *apperrors.AppError) {
	log := logger.Correlator()

	session, ok := c.resolver.Lookup(agentID)
	if !ok {
		return nil, apperrors.AgentUnreachable("no live agent session for " + agentID)
	}

	if deadline <= 0 {
		return nil, apperrors.Timeout("deadline of zero elapsed before dispatch")
	}

	requestID := c.NextRequestID()
	key := sinkKey{agentID: agentID, epoch: session.Epoch(), requestID: requestID}

	s := &sink{ch: make(chan Reply, 1)}
	c.mu.Lock()
	c.sinks[key] = s
	c.mu.Unlock()

	retire := func() {
		c.mu.Lock()
		delete(c.sinks, key)
		c.mu.Unlock()
	}

	frame, err := encode(requestID)
	if err != nil {
		retire()
		return nil, apperrors.Internal(err)
	}

	if sendErr := session.Send(frame); sendErr != nil {
		retire()
		log.Debug().Str("agent_id", agentID).Str("request_id", requestID).Msg("enqueue failed, agent unreachable")
		return nil, apperrors.AgentUnreachable("outbound buffer full or session torn down")
	}

	timer := time.NewTimer(deadline)
	defer timer.Stop()

	select {
	case reply := <-s.ch:
		retire()
		if reply.Err != nil {
			return nil, reply.Err
		}
		return reply.Payload, nil
	case <-timer.C:
		retire()
		return nil, apperrors.Timeout("no reply within deadline")
	case <-ctx.Done():
		retire()
		return nil, apperrors.New(apperrors.CodeInternal, "dispatch cancelled")
	}
}

// Resolve is called by the Agent Session Endpoint's inbound demultiplexer
// for every frame carrying a request_id. It looks the sink up by the exact
// (agentID, epoch, requestID) triple: a reply on a stale epoch for the
// same agent_id simply finds no sink (the key no longer matches) and is
// silently dropped, which is how epoch-based staleness is enforced.
func (c *Correlator) Resolve(agentID string, epoch uint64, requestID string, payload []byte, replyErr *apperrors.AppError) {
	key := sinkKey{agentID: agentID, epoch: epoch, requestID: requestID}

	c.mu.Lock()
	s, ok := c.sinks[key]
	if ok {
		delete(c.sinks, key)
	}
	c.mu.Unlock()

	if !ok {
		logger.Correlator().Debug().Str("agent_id", agentID).Str("request_id", requestID).
			Msg("late or unknown reply dropped")
		return
	}
	s.deliver(Reply{Payload: payload, Err: replyErr})
}

// FailAllForSession implements registry.PendingFailer: on detach of
// (agentID, epoch), every Pending Request keyed to that exact session is
// resolved to err before this call returns.
func (c *Correlator) FailAllForSession(agentID string, epoch uint64, err *apperrors.AppError) {
	c.mu.Lock()
	var matched []sinkKey
	for k := range c.sinks {
		if k.agentID == agentID && k.epoch == epoch {
			matched = append(matched, k)
		}
	}
	sinks := make([]*sink, 0, len(matched))
	for _, k := range matched {
		sinks = append(sinks, c.sinks[k])
		delete(c.sinks, k)
	}
	c.mu.Unlock()

	for _, s := range sinks {
		s.deliver(Reply{Err: err})
	}
}

// PendingCount reports the number of outstanding Pending Requests; used by
// tests and by the shutdown path to confirm full drain.
func (c *Correlator) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.sinks)
}
