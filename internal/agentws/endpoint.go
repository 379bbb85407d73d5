package agentws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/middleware"
	"github.com/custard/gateway/internal/models"
	"github.com/custard/gateway/internal/registry"
)

// Authenticator verifies a handshake's (agent_id, agent_key) pair against
// the stored Connection record and returns the Connection's identity on
// success.
type Authenticator interface {
	AuthenticateAgent(ctx context.Context, agentID, agentKey string) (connectionID string, ok bool, err error)
}

// Resolver is the Correlator's inbound half: deliver a reply (or drop it
// silently if the sink is gone / the epoch is stale).
type Resolver interface {
	Resolve(agentID string, epoch uint64, requestID string, payload []byte, replyErr *apperrors.AppError)
}

// SchemaWriter is notified of a successful schema_refresh_response so the
// Schema Cache can be written without the Correlator needing to know
// anything about schema semantics.
type SchemaWriter interface {
	OnSchemaRefreshed(connectionID string, snapshot models.SchemaSnapshot)
}

// Endpoint is the Agent Session Endpoint: it accepts the agent-facing
// WebSocket upgrade, performs the hello handshake, registers the session
// with the Registry, and demultiplexes inbound frames to the Correlator.
type Endpoint struct {
	auth       Authenticator
	registry   *registry.Registry
	resolver   Resolver
	schemas    SchemaWriter
	epochGen   uint64
	upgrader   websocket.Upgrader
}

// NewEndpoint constructs an Agent Session Endpoint.
func NewEndpoint(auth Authenticator, reg *registry.Registry, resolver Resolver, schemas SchemaWriter) *Endpoint {
	return &Endpoint{
		auth:     auth,
		registry: reg,
		resolver: resolver,
		schemas:  schemas,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true }, // agents authenticate via hello, not Origin
		},
	}
}

// Serve upgrades the HTTP request and runs the session to completion. It
// blocks until the session ends (transport close, heartbeat miss, or
// displacement closing it from the outside).
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request) {
	log := logger.AgentWS()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("agent websocket upgrade failed")
		return
	}
	conn.SetReadLimit(maxMessageSize)

	agentID, connectionID, ok := e.handshake(conn)
	if !ok {
		conn.Close()
		return
	}

	epoch := atomic.AddUint64(&e.epochGen, 1)
	session := newSession(agentID, connectionID, epoch, conn)

	e.registry.Attach(session)
	defer e.registry.Detach(session)

	done := make(chan struct{})
	go func() {
		e.writePump(session)
		close(done)
	}()
	e.readPump(session)
	session.Close("transport closed")
	<-done
}

// handshake reads the first inbound frame, which must be `hello` carrying
// agent_id and agent_key. On mismatch the channel is closed with a
// distinct failure code and no body; on match it replies `hello_ok`.
func (e *Endpoint) handshake(conn *websocket.Conn) (agentID, connectionID string, ok bool) {
	conn.SetReadDeadline(time.Now().Add(IdleHeartbeatInterval))
	_, raw, err := conn.ReadMessage()
	if err != nil {
		return "", "", false
	}

	var frame models.Frame
	if err := json.Unmarshal(raw, &frame); err != nil || frame.Kind != models.FrameHello {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4401, ""), time.Now().Add(writeWait))
		return "", "", false
	}

	var hello models.HelloPayload
	if err := json.Unmarshal(frame.Payload, &hello); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4401, ""), time.Now().Add(writeWait))
		return "", "", false
	}
	if err := middleware.ValidateAgentID(hello.AgentID); err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4401, ""), time.Now().Add(writeWait))
		return "", "", false
	}

	cid, valid, err := e.auth.AuthenticateAgent(context.Background(), hello.AgentID, hello.AgentKey)
	if err != nil || !valid {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(4401, ""), time.Now().Add(writeWait))
		return "", "", false
	}

	ok4, err := json.Marshal(models.Frame{Kind: models.FrameHelloOK})
	if err == nil {
		conn.WriteMessage(websocket.TextMessage, ok4)
	}
	return hello.AgentID, cid, true
}

// readPump processes inbound frames one at a time, in arrival order,
// preserving per-session ordering. It never crashes the gateway on a
// malformed frame: the frame is dropped and the loop continues, closing
// only this one session if the transport itself errors.
func (e *Endpoint) readPump(session *Session) {
	log := logger.AgentWS()
	conn := session.conn

	for {
		deadline := IdleHeartbeatInterval * MissedIntervalsBeforeClose
		conn.SetReadDeadline(time.Now().Add(deadline))

		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		session.touch()

		var frame models.Frame
		if err := json.Unmarshal(raw, &frame); err != nil {
			log.Debug().Str("agent_id", session.agentID).Err(err).Msg("dropping malformed frame")
			continue
		}
		e.dispatchInbound(session, frame)
	}
}

func (e *Endpoint) dispatchInbound(session *Session, frame models.Frame) {
	log := logger.AgentWS()

	switch frame.Kind {
	case models.FrameHeartbeat:
		// liveness already refreshed by touch(); nothing further to do.
	case models.FrameSchemaRefreshResponse:
		var payload models.SchemaRefreshResponsePayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			log.Warn().Str("agent_id", session.agentID).Msg("malformed schema_refresh_response")
			return
		}
		snapshot := models.SchemaSnapshot{ConnectionID: session.connectionID, CapturedAt: time.Now()}
		for _, t := range payload.Schema {
			cols := make([]models.SchemaColumn, len(t.Columns))
			for i, c := range t.Columns {
				cols[i] = models.SchemaColumn{Name: c.Name, Type: c.Type, Nullable: c.Nullable}
			}
			snapshot.Tables = append(snapshot.Tables, models.SchemaTable{
				Table: t.Table, Columns: cols, RowCountEstimate: t.RowCountEstimate,
			})
		}
		if e.schemas != nil {
			e.schemas.OnSchemaRefreshed(session.connectionID, snapshot)
		}
		e.resolver.Resolve(session.agentID, session.epoch, frame.RequestID, frame.Payload, nil)
	case models.FrameQueryResponse:
		e.resolver.Resolve(session.agentID, session.epoch, frame.RequestID, frame.Payload, nil)
	case models.FrameError:
		var payload models.ErrorPayload
		if err := json.Unmarshal(frame.Payload, &payload); err != nil {
			payload = models.ErrorPayload{Code: apperrors.CodeInternal, Message: "malformed error frame"}
		}
		appErr := apperrors.New(payload.Code, payload.Message)
		if frame.RequestID != "" {
			e.resolver.Resolve(session.agentID, session.epoch, frame.RequestID, nil, appErr)
		} else {
			log.Warn().Str("agent_id", session.agentID).Str("code", payload.Code).Msg("session-wide agent error")
		}
	default:
		log.Debug().Str("agent_id", session.agentID).Str("kind", frame.Kind).Msg("unknown frame kind")
	}
}

// writePump serializes all outbound frames through one writer per
// session, and sends a gateway-initiated heartbeat whenever the session
// has been idle for IdleHeartbeatInterval.
func (e *Endpoint) writePump(session *Session) {
	conn := session.conn
	ticker := time.NewTicker(IdleHeartbeatInterval)
	defer ticker.Stop()

	heartbeatFrame, _ := json.Marshal(models.Frame{Kind: models.FrameHeartbeat})

	for {
		select {
		case frame, ok := <-session.sendCh:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
			session.touch()
		case <-ticker.C:
			if session.idleFor() < IdleHeartbeatInterval {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.TextMessage, heartbeatFrame); err != nil {
				return
			}
			session.touch()
		case <-session.closed:
			return
		}
	}
}
