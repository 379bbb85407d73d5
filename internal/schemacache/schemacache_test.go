package schemacache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/custard/gateway/internal/models"
)

func TestGetMissOnEmptyCache(t *testing.T) {
	c := New()
	_, ok := c.Get("conn-1")
	assert.False(t, ok)
}

func TestPutThenGetReturnsTheSameSnapshot(t *testing.T) {
	c := New()
	snap := models.SchemaSnapshot{CapturedAt: time.Now()}
	c.Put("conn-1", snap)

	got, ok := c.Get("conn-1")
	assert.True(t, ok)
	assert.Equal(t, snap, got)
}

func TestPutReplacesExistingSnapshot(t *testing.T) {
	c := New()
	c.Put("conn-1", models.SchemaSnapshot{CapturedAt: time.Now().Add(-time.Hour)})
	fresh := models.SchemaSnapshot{CapturedAt: time.Now()}
	c.Put("conn-1", fresh)

	got, ok := c.Get("conn-1")
	assert.True(t, ok)
	assert.Equal(t, fresh, got)
}

func TestInvalidateRemovesSnapshot(t *testing.T) {
	c := New()
	c.Put("conn-1", models.SchemaSnapshot{CapturedAt: time.Now()})
	c.Invalidate("conn-1")

	_, ok := c.Get("conn-1")
	assert.False(t, ok)
}

func TestInvalidateUnknownConnectionIsNoOp(t *testing.T) {
	c := New()
	assert.NotPanics(t, func() { c.Invalidate("never-cached") })
}

func TestCapturedBeforeReturnsOnlyStaleConnections(t *testing.T) {
	c := New()
	now := time.Now()
	c.Put("stale", models.SchemaSnapshot{CapturedAt: now.Add(-2 * time.Hour)})
	c.Put("fresh", models.SchemaSnapshot{CapturedAt: now})

	stale := c.CapturedBefore(now.Add(-time.Hour))

	assert.Equal(t, []string{"stale"}, stale)
}

func TestCapturedBeforeEmptyWhenNothingIsStale(t *testing.T) {
	c := New()
	c.Put("fresh", models.SchemaSnapshot{CapturedAt: time.Now()})

	assert.Empty(t, c.CapturedBefore(time.Now().Add(-time.Hour)))
}
