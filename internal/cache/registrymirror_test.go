package cache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRegistryMirrorDisabledNeverDialsRedis(t *testing.T) {
	mirror, err := NewRegistryMirror(Config{Enabled: false}, "pod-1")

	require.NoError(t, err)
	assert.False(t, mirror.Enabled())
}

func TestDisabledMirrorPublishSnapshotIsNoOp(t *testing.T) {
	mirror, err := NewRegistryMirror(Config{Enabled: false}, "pod-1")
	require.NoError(t, err)

	err = mirror.PublishSnapshot(context.Background(), []string{"agent-1"}, time.Minute)
	assert.NoError(t, err)
}

func TestDisabledMirrorClearIsNoOp(t *testing.T) {
	mirror, err := NewRegistryMirror(Config{Enabled: false}, "pod-1")
	require.NoError(t, err)

	assert.NoError(t, mirror.Clear(context.Background()))
}

func TestDisabledMirrorLiveElsewhereAlwaysFalse(t *testing.T) {
	mirror, err := NewRegistryMirror(Config{Enabled: false}, "pod-1")
	require.NoError(t, err)

	live, err := mirror.LiveElsewhere(context.Background(), "agent-1")
	require.NoError(t, err)
	assert.False(t, live)
}

func TestDisabledMirrorCloseIsNoOp(t *testing.T) {
	mirror, err := NewRegistryMirror(Config{Enabled: false}, "pod-1")
	require.NoError(t, err)

	assert.NoError(t, mirror.Close())
}
