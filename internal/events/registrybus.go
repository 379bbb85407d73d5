// Package events implements Custard's cross-pod Registry event bus: when
// an agent attaches or detaches on one gateway pod, every other pod's
// Status Fan-out needs to know, since a UI client can be connected to any
// pod regardless of which pod holds the agent's session. Built on
// nats-io/nats.go, with reconnect/backoff options and a
// disabled-when-unconfigured fallback so a single-pod deployment needs no
// message broker.
package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/custard/gateway/internal/logger"
	"github.com/custard/gateway/internal/registry"
)

const subjectRegistryEvent = "custard.registry.event"

// Config holds NATS connection parameters. Leaving URL empty disables the
// bus entirely — single-pod deployments never need it.
type Config struct {
	URL      string
	User     string
	Password string
}

// wireEvent is the JSON shape published for a registry.Event.
type wireEvent struct {
	PodID     string `json:"pod_id"`
	AgentID   string `json:"agent_id"`
	Connected bool   `json:"connected"`
}

// Bus publishes this pod's Registry events to NATS and delivers other
// pods' events to a local callback.
type Bus struct {
	conn    *nats.Conn
	podID   string
	enabled bool
}

// NewBus connects to NATS, or returns a disabled Bus (Publish/Subscribe are
// no-ops) when cfg.URL is empty.
func NewBus(cfg Config, podID string) (*Bus, error) {
	if cfg.URL == "" {
		logger.Events().Info().Msg("registry event bus disabled: no NATS URL configured")
		return &Bus{enabled: false}, nil
	}

	opts := []nats.Option{
		nats.Name("custard-gateway-" + podID),
		nats.ReconnectWait(2 * time.Second),
		nats.MaxReconnects(10),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				logger.Events().Warn().Err(err).Msg("registry event bus disconnected")
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Events().Info().Str("url", nc.ConnectedUrl()).Msg("registry event bus reconnected")
		}),
	}
	if cfg.User != "" {
		opts = append(opts, nats.UserInfo(cfg.User, cfg.Password))
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}
	return &Bus{conn: conn, podID: podID, enabled: true}, nil
}

// Enabled reports whether the bus is backed by a live NATS connection.
func (b *Bus) Enabled() bool { return b.enabled }

// Publish broadcasts ev as originating from this pod. Subscribe does not
// filter by pod_id, so every pod's subscription, this pod's included,
// receives it.
func (b *Bus) Publish(ev registry.Event) error {
	if !b.enabled {
		return nil
	}
	payload, err := json.Marshal(wireEvent{PodID: b.podID, AgentID: ev.AgentID, Connected: ev.Connected})
	if err != nil {
		return fmt.Errorf("marshal registry event: %w", err)
	}
	return b.conn.Publish(subjectRegistryEvent, payload)
}

// Subscribe delivers every registry.Event published by any pod (including
// this one's own publications, which the caller's handler should treat
// idempotently) to handle.
func (b *Bus) Subscribe(handle func(registry.Event)) error {
	if !b.enabled {
		return nil
	}
	_, err := b.conn.Subscribe(subjectRegistryEvent, func(msg *nats.Msg) {
		var we wireEvent
		if err := json.Unmarshal(msg.Data, &we); err != nil {
			logger.Events().Warn().Err(err).Msg("registry event bus: malformed event")
			return
		}
		handle(registry.Event{AgentID: we.AgentID, Connected: we.Connected})
	})
	if err != nil {
		return fmt.Errorf("subscribe to registry events: %w", err)
	}
	return nil
}

// Close drains and closes the NATS connection.
func (b *Bus) Close() {
	if b.enabled {
		b.conn.Close()
	}
}
