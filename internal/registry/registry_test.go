package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/custard/gateway/internal/errors"
)

type fakeSession struct {
	agentID string
	epoch   uint64

	mu     sync.Mutex
	closed bool
	reason string
}

func (f *fakeSession) AgentID() string     { return f.agentID }
func (f *fakeSession) Epoch() uint64       { return f.epoch }
func (f *fakeSession) Send(_ []byte) error { return nil }
func (f *fakeSession) Close(reason string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	f.reason = reason
}

func (f *fakeSession) isClosed() (bool, string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed, f.reason
}

type fakeFailer struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakeFailer) FailAllForSession(agentID string, epoch uint64, err *apperrors.AppError) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, agentID)
}

func (f *fakeFailer) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func TestAttachFirstSessionEmitsConnectedEvent(t *testing.T) {
	events := make(chan Event, 4)
	r := New(nil, events)

	s1 := &fakeSession{agentID: "agent-1", epoch: 1}
	previous := r.Attach(s1)

	assert.Nil(t, previous)
	session, ok := r.Lookup("agent-1")
	assert.True(t, ok)
	assert.Same(t, Session(s1), session)

	select {
	case ev := <-events:
		assert.Equal(t, Event{AgentID: "agent-1", Connected: true}, ev)
	default:
		t.Fatal("expected a connected event")
	}
}

func TestAttachDisplacesPriorSessionAndFailsItsPendingRequests(t *testing.T) {
	failer := &fakeFailer{}
	events := make(chan Event, 4)
	r := New(failer, events)

	s1 := &fakeSession{agentID: "agent-1", epoch: 1}
	r.Attach(s1)
	<-events // drain the first connect event

	s2 := &fakeSession{agentID: "agent-1", epoch: 2}
	previous := r.Attach(s2)

	require.NotNil(t, previous)
	assert.Same(t, Session(s1), previous)

	closed, reason := s1.isClosed()
	assert.True(t, closed)
	assert.Equal(t, apperrors.CodeSuperseded, reason)
	assert.Equal(t, 1, failer.callCount())

	session, ok := r.Lookup("agent-1")
	assert.True(t, ok)
	assert.Same(t, Session(s2), session)
}

func TestDetachIsNoOpForAlreadySupersededSession(t *testing.T) {
	failer := &fakeFailer{}
	events := make(chan Event, 4)
	r := New(failer, events)

	s1 := &fakeSession{agentID: "agent-1", epoch: 1}
	r.Attach(s1)
	<-events

	s2 := &fakeSession{agentID: "agent-1", epoch: 2}
	r.Attach(s2)
	failer.mu.Lock()
	failer.calls = nil
	failer.mu.Unlock()

	// The displaced s1 detaching after the fact must not clobber s2, which
	// is now the current session for agent-1.
	r.Detach(s1)

	assert.Equal(t, 0, failer.callCount())
	session, ok := r.Lookup("agent-1")
	assert.True(t, ok)
	assert.Same(t, Session(s2), session)
}

func TestDetachCurrentSessionRemovesItAndPublishesDisconnected(t *testing.T) {
	failer := &fakeFailer{}
	events := make(chan Event, 4)
	r := New(failer, events)

	s1 := &fakeSession{agentID: "agent-1", epoch: 1}
	r.Attach(s1)
	<-events

	r.Detach(s1)

	_, ok := r.Lookup("agent-1")
	assert.False(t, ok)
	assert.Equal(t, 1, failer.callCount())

	select {
	case ev := <-events:
		assert.Equal(t, Event{AgentID: "agent-1", Connected: false}, ev)
	default:
		t.Fatal("expected a disconnected event")
	}
}

func TestShutdownClosesEverySessionAndFailsItsPendingRequests(t *testing.T) {
	failer := &fakeFailer{}
	r := New(failer, nil)

	s1 := &fakeSession{agentID: "agent-1", epoch: 1}
	s2 := &fakeSession{agentID: "agent-2", epoch: 1}
	r.Attach(s1)
	r.Attach(s2)

	r.Shutdown()

	closed1, reason1 := s1.isClosed()
	closed2, reason2 := s2.isClosed()
	assert.True(t, closed1)
	assert.True(t, closed2)
	assert.Equal(t, apperrors.CodeShutdown, reason1)
	assert.Equal(t, apperrors.CodeShutdown, reason2)
	assert.Equal(t, 2, failer.callCount())

	assert.Empty(t, r.Snapshot())
}

func TestSnapshotReturnsLiveAgentIDs(t *testing.T) {
	r := New(nil, nil)
	r.Attach(&fakeSession{agentID: "agent-1", epoch: 1})
	r.Attach(&fakeSession{agentID: "agent-2", epoch: 1})

	assert.ElementsMatch(t, []string{"agent-1", "agent-2"}, r.Snapshot())
}
