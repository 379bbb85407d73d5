package statusfanout

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/custard/gateway/internal/logger"
)

// Endpoint is the Status WebSocket Endpoint: it upgrades a duplex channel
// from an authenticated UI session, validates Origin, subscribes to the
// Fan-out, and forwards events as they arrive.
type Endpoint struct {
	fanOut         *FanOut
	allowedOrigins []string // lower-cased scheme://host; wildcards like "*.example.com" match subdomains
	upgrader       websocket.Upgrader
}

const (
	pingInterval = 30 * time.Second
	pongWait     = 60 * time.Second
	writeWait    = 10 * time.Second

	// CloseOriginRejected is the distinct close code used when a UI
	// session's Origin header fails the allow-list check.
	CloseOriginRejected = 4403
)

// NewEndpoint constructs a Status WebSocket Endpoint backed by fanOut,
// restricted to allowedOrigins (scheme://host[:port] strings compared with
// the whole Origin header, or entries prefixed with "*." that match any
// Origin ending in the rest of the entry).
func NewEndpoint(fanOut *FanOut, allowedOrigins []string) *Endpoint {
	lowered := make([]string, len(allowedOrigins))
	for i, o := range allowedOrigins {
		lowered[i] = strings.ToLower(o)
	}
	e := &Endpoint{fanOut: fanOut, allowedOrigins: lowered}
	e.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     e.checkOrigin,
	}
	return e
}

func (e *Endpoint) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	host := strings.ToLower(origin)
	// Origin match is case-insensitive for scheme/host; port must match
	// exactly, so no further normalization of the port component is
	// performed here.
	for _, allowed := range e.allowedOrigins {
		if allowed == host {
			return true
		}
		if strings.HasPrefix(allowed, "*.") {
			suffix := allowed[1:] // ".example.com"
			if strings.HasSuffix(host, suffix) {
				return true
			}
		}
	}
	return false
}

// Serve handles one UI subscriber's lifetime: upgrade, subscribe, forward
// events until the client disconnects or is closed by shutdown.
func (e *Endpoint) Serve(w http.ResponseWriter, r *http.Request, userID string) {
	log := logger.StatusWS()

	conn, err := e.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// CheckOrigin rejection and protocol-level upgrade failures both
		// land here; gorilla has already written the HTTP-level response.
		log.Warn().Err(err).Msg("status websocket upgrade failed")
		return
	}

	sub, err := e.fanOut.Subscribe(userID)
	if err != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseInternalServerErr, "subscribe failed"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go e.readPump(conn, sub)
	e.writePump(conn, sub)
}

// readPump only needs to keep the read deadline alive via pong frames and
// notice client-initiated close; Status Subscribers never send meaningful
// inbound frames.
func (e *Endpoint) readPump(conn *websocket.Conn, sub *Subscriber) {
	defer e.fanOut.Unsubscribe(sub)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (e *Endpoint) writePump(conn *websocket.Conn, sub *Subscriber) {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		conn.Close()
	}()

	for {
		select {
		case update, ok := <-sub.Updates():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			body, err := json.Marshal(update)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, body); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
