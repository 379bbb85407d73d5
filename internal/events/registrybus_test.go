package events

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custard/gateway/internal/registry"
)

func TestNewBusWithoutURLIsDisabled(t *testing.T) {
	bus, err := NewBus(Config{}, "pod-1")

	require.NoError(t, err)
	assert.False(t, bus.Enabled())
}

func TestDisabledBusPublishIsNoOp(t *testing.T) {
	bus, err := NewBus(Config{}, "pod-1")
	require.NoError(t, err)

	assert.NoError(t, bus.Publish(registry.Event{AgentID: "agent-1", Connected: true}))
}

func TestDisabledBusSubscribeIsNoOp(t *testing.T) {
	bus, err := NewBus(Config{}, "pod-1")
	require.NoError(t, err)

	called := false
	assert.NoError(t, bus.Subscribe(func(registry.Event) { called = true }))
	assert.False(t, called)
}

func TestDisabledBusCloseIsNoOp(t *testing.T) {
	bus, err := NewBus(Config{}, "pod-1")
	require.NoError(t, err)

	assert.NotPanics(t, func() { bus.Close() })
}
