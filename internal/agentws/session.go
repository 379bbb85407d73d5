// Package agentws implements the Agent Session Endpoint: the full-duplex,
// JSON-framed WebSocket channel between one connector agent and the
// gateway, its handshake, heartbeat/liveness, and backpressure.
package agentws

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/custard/gateway/internal/logger"
)

const (
	// IdleHeartbeatInterval is how long the gateway waits without any
	// frame exchange before it sends a heartbeat of its own.
	IdleHeartbeatInterval = 30 * time.Second

	// MissedIntervalsBeforeClose is how many consecutive idle intervals
	// may elapse (with no inbound frame at all) before the gateway closes
	// the session; reconnection is then the agent's responsibility.
	MissedIntervalsBeforeClose = 3

	writeWait      = 10 * time.Second
	maxMessageSize = 4 * 1024 * 1024 // generous bound for query_response rows
	sendBufferSize = 256
)

// Session is one live Agent Session: the duplex channel from one agent to
// the gateway, identified by (agent_id, session_epoch).
type Session struct {
	agentID      string
	connectionID string
	epoch        uint64

	conn *websocket.Conn

	sendCh    chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	lastFrameUnix int64 // atomic unix nanos of last frame exchanged, either direction
}

func newSession(agentID, connectionID string, epoch uint64, conn *websocket.Conn) *Session {
	s := &Session{
		agentID:      agentID,
		connectionID: connectionID,
		epoch:        epoch,
		conn:         conn,
		sendCh:       make(chan []byte, sendBufferSize),
		closed:       make(chan struct{}),
	}
	s.touch()
	return s
}

// AgentID implements registry.Session / correlator.Session.
func (s *Session) AgentID() string { return s.agentID }

// ConnectionID returns the authenticated Connection this session belongs to.
func (s *Session) ConnectionID() string { return s.connectionID }

// Epoch implements registry.Session / correlator.Session.
func (s *Session) Epoch() uint64 { return s.epoch }

func (s *Session) touch() {
	atomic.StoreInt64(&s.lastFrameUnix, time.Now().UnixNano())
}

func (s *Session) idleFor() time.Duration {
	last := atomic.LoadInt64(&s.lastFrameUnix)
	return time.Since(time.Unix(0, last))
}

// Send enqueues frame on the bounded outbound buffer. It never blocks: a
// full buffer is a dispatch failure (agent_unreachable), not a wait.
func (s *Session) Send(frame []byte) error {
	select {
	case <-s.closed:
		return errSessionClosed
	default:
	}
	select {
	case s.sendCh <- frame:
		return nil
	default:
		return errBufferFull
	}
}

// Close tears the session down exactly once. reason is surfaced to the
// agent as the WebSocket close reason text (e.g. "superseded", "shutdown").
func (s *Session) Close(reason string) {
	s.closeOnce.Do(func() {
		close(s.closed)
		code := websocket.CloseNormalClosure
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(code, reason),
			time.Now().Add(writeWait))
		s.conn.Close()
		logger.AgentWS().Info().Str("agent_id", s.agentID).Uint64("epoch", s.epoch).
			Str("reason", reason).Msg("agent session closed")
	})
}

// IsClosed reports whether Close has already run.
func (s *Session) IsClosed() bool {
	select {
	case <-s.closed:
		return true
	default:
		return false
	}
}

var (
	errSessionClosed = sessionErr("session closed")
	errBufferFull    = sessionErr("outbound buffer full")
)

type sessionErr string

func (e sessionErr) Error() string { return string(e) }
