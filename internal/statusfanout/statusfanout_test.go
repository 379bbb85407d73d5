package statusfanout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custard/gateway/internal/registry"
)

type fakeSession struct {
	agentID string
	epoch   uint64
}

func (f *fakeSession) AgentID() string     { return f.agentID }
func (f *fakeSession) Epoch() uint64       { return f.epoch }
func (f *fakeSession) Send(_ []byte) error { return nil }
func (f *fakeSession) Close(_ string)      {}

type fakeOwners struct {
	owned map[string][]string
}

func (f *fakeOwners) AgentIDsOwnedBy(userID string) ([]string, error) {
	return f.owned[userID], nil
}

func newFanOutWithRegistry(owned map[string][]string) (*FanOut, *registry.Registry) {
	events := make(chan registry.Event, 16)
	reg := registry.New(nil, events)
	fo := New(reg, &fakeOwners{owned: owned}, events)
	return fo, reg
}

func recvWithTimeout(t *testing.T, ch <-chan StatusUpdate) StatusUpdate {
	t.Helper()
	select {
	case u := <-ch:
		return u
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for status update")
		return StatusUpdate{}
	}
}

func assertNoUpdate(t *testing.T, ch <-chan StatusUpdate) {
	t.Helper()
	select {
	case u := <-ch:
		t.Fatalf("unexpected status update delivered: %+v", u)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeDeliversOwnedAgentsOnlyAsInitialSnapshot(t *testing.T) {
	fo, reg := newFanOutWithRegistry(map[string][]string{
		"user-1": {"agent-1", "agent-2"},
	})
	defer fo.Shutdown()

	reg.Attach(&fakeSession{agentID: "agent-1", epoch: 1})

	sub, err := fo.Subscribe("user-1")
	require.NoError(t, err)
	defer fo.Unsubscribe(sub)

	seen := map[string]bool{}
	for i := 0; i < 2; i++ {
		u := recvWithTimeout(t, sub.Updates())
		seen[u.AgentID] = u.AgentConnected
	}
	assert.Equal(t, map[string]bool{"agent-1": true, "agent-2": false}, seen)
}

func TestBroadcastOnlyReachesOwningSubscriber(t *testing.T) {
	fo, reg := newFanOutWithRegistry(map[string][]string{
		"user-1": {"agent-1"},
		"user-2": {"agent-2"},
	})
	defer fo.Shutdown()

	sub1, err := fo.Subscribe("user-1")
	require.NoError(t, err)
	defer fo.Unsubscribe(sub1)
	recvWithTimeout(t, sub1.Updates()) // drain initial snapshot for agent-1

	sub2, err := fo.Subscribe("user-2")
	require.NoError(t, err)
	defer fo.Unsubscribe(sub2)
	recvWithTimeout(t, sub2.Updates()) // drain initial snapshot for agent-2

	reg.Attach(&fakeSession{agentID: "agent-2", epoch: 1})

	u := recvWithTimeout(t, sub2.Updates())
	assert.Equal(t, "agent-2", u.AgentID)
	assert.True(t, u.AgentConnected)

	assertNoUpdate(t, sub1.Updates())
}

func TestUnsubscribeStopsFurtherDelivery(t *testing.T) {
	fo, reg := newFanOutWithRegistry(map[string][]string{
		"user-1": {"agent-1"},
	})
	defer fo.Shutdown()

	sub, err := fo.Subscribe("user-1")
	require.NoError(t, err)
	recvWithTimeout(t, sub.Updates()) // initial snapshot

	fo.Unsubscribe(sub)
	reg.Attach(&fakeSession{agentID: "agent-1", epoch: 1})

	_, ok := <-sub.Updates()
	assert.False(t, ok, "unsubscribed subscriber's channel should be closed")
}

func TestShutdownClosesEverySubscriber(t *testing.T) {
	fo, _ := newFanOutWithRegistry(map[string][]string{
		"user-1": {"agent-1"},
	})

	sub, err := fo.Subscribe("user-1")
	require.NoError(t, err)
	recvWithTimeout(t, sub.Updates())

	fo.Shutdown()

	_, ok := <-sub.Updates()
	assert.False(t, ok)
}
