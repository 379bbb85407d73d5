// Package schemacache implements the Schema Cache: a map from
// connection_id to the latest known Schema Snapshot, written only by the
// success path of a schema_refresh dispatch.
package schemacache

import (
	"sync"
	"time"

	"github.com/custard/gateway/internal/models"
)

// Cache is a single-mutex-guarded map: the lock is held only across the
// map mutation itself, never across a suspension point.
type Cache struct {
	mu        sync.Mutex
	snapshots map[string]models.SchemaSnapshot
}

// New constructs an empty Schema Cache.
func New() *Cache {
	return &Cache{snapshots: make(map[string]models.SchemaSnapshot)}
}

// Get returns the cached snapshot for connectionID, if one exists.
func (c *Cache) Get(connectionID string) (models.SchemaSnapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.snapshots[connectionID]
	return s, ok
}

// Put installs or replaces the snapshot for connectionID.
func (c *Cache) Put(connectionID string, snapshot models.SchemaSnapshot) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.snapshots[connectionID] = snapshot
}

// CapturedBefore returns the connection_ids of every cached snapshot
// captured before cutoff, for a background sweep to opportunistically
// refresh before a caller ever notices the staleness.
func (c *Cache) CapturedBefore(cutoff time.Time) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []string
	for id, snap := range c.snapshots {
		if snap.CapturedAt.Before(cutoff) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Invalidate removes the snapshot for connectionID, e.g. on Connection
// deletion. Reconnecting the agent does NOT invalidate the cache — schema
// is a property of the database, not of any one session.
func (c *Cache) Invalidate(connectionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.snapshots, connectionID)
}
