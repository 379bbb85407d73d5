// Package sweeper runs the gateway's periodic background maintenance
// jobs on a single shared cron instance: idle CSV Session eviction and
// opportunistic schema refresh, neither of which any request path can
// wait on.
package sweeper

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/custard/gateway/internal/gateway"
	"github.com/custard/gateway/internal/logger"
)

// Sweeper owns one cron.Cron running the gateway's background jobs.
type Sweeper struct {
	cron *cron.Cron
}

// New schedules every background job against gw and starts running them
// in a dedicated goroutine managed internally by cron.Cron.
func New(gw *gateway.Gateway) (*Sweeper, error) {
	c := cron.New()

	if _, err := c.AddFunc("@every 1m", func() { evictIdleCSVSessions(gw) }); err != nil {
		return nil, err
	}
	if _, err := c.AddFunc("@every 10m", func() { refreshStaleSchemas(gw) }); err != nil {
		return nil, err
	}

	c.Start()
	return &Sweeper{cron: c}, nil
}

// Stop halts the cron scheduler and waits for any in-flight job to
// finish, part of the gateway's ordered shutdown.
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}

func evictIdleCSVSessions(gw *gateway.Gateway) {
	gw.CSVPool.EvictIdleSince(gw.Config.CSVPool.IdleTTL)
}

// refreshStaleSchemas finds every cached schema snapshot older than the
// configured staleness window and, for each whose agent is currently
// connected, refreshes it in the background. A disconnected agent's
// schema is left alone: the next query against it will force a refresh
// on the request path instead.
func refreshStaleSchemas(gw *gateway.Gateway) {
	log := logger.GetLogger()
	cutoff := time.Now().Add(-gw.Config.SchemaStalenessWindow)

	for _, connectionID := range gw.SchemaCache.CapturedBefore(cutoff) {
		conn, err := gw.Connections.Get(context.Background(), connectionID)
		if err != nil || conn == nil {
			continue
		}
		if _, live := gw.Registry.Lookup(conn.AgentID); !live {
			continue
		}

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		_, appErr := gw.Orchestrator.RefreshSchema(ctx, conn.ConnectionID, conn.AgentID, 0)
		cancel()
		if appErr != nil {
			log.Debug().Str("connection_id", connectionID).Str("code", appErr.Code).
				Msg("opportunistic schema refresh failed")
		}
	}
}
