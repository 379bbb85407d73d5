package correlator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/custard/gateway/internal/errors"
)

type fakeSession struct {
	agentID string
	epoch   uint64

	mu       sync.Mutex
	sent     [][]byte
	sendErr  error
}

func (f *fakeSession) AgentID() string { return f.agentID }
func (f *fakeSession) Epoch() uint64   { return f.epoch }
func (f *fakeSession) Send(frame []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, frame)
	return nil
}

type fakeResolver struct {
	mu       sync.Mutex
	sessions map[string]Session
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{sessions: make(map[string]Session)}
}

func (r *fakeResolver) set(s *fakeSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sessions[s.agentID] = s
}

func (r *fakeResolver) Lookup(agentID string) (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[agentID]
	return s, ok
}

func echoEncoder(requestID string) ([]byte, error) {
	return []byte(requestID), nil
}

func TestDispatchDeliversReplyFromResolve(t *testing.T) {
	resolver := newFakeResolver()
	session := &fakeSession{agentID: "agent-1", epoch: 1}
	resolver.set(session)
	c := New(resolver)

	var requestID string
	done := make(chan struct{})
	var payload []byte
	var appErr *apperrors.AppError

	go func() {
		payload, appErr = c.Dispatch(context.Background(), "agent-1", func(id string) ([]byte, error) {
			requestID = id
			return []byte(id), nil
		}, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)

	c.Resolve("agent-1", 1, requestID, []byte("pong"), nil)

	<-done
	assert.Nil(t, appErr)
	assert.Equal(t, []byte("pong"), payload)
	assert.Equal(t, 0, c.PendingCount())
}

func TestDispatchNoLiveSessionReturnsAgentUnreachable(t *testing.T) {
	resolver := newFakeResolver()
	c := New(resolver)

	_, appErr := c.Dispatch(context.Background(), "agent-missing", echoEncoder, time.Second)

	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeAgentUnreachable, appErr.Code)
}

func TestDispatchTimesOutWhenNoReplyArrives(t *testing.T) {
	resolver := newFakeResolver()
	resolver.set(&fakeSession{agentID: "agent-1", epoch: 1})
	c := New(resolver)

	_, appErr := c.Dispatch(context.Background(), "agent-1", echoEncoder, 10*time.Millisecond)

	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTimeout, appErr.Code)
	assert.Equal(t, 0, c.PendingCount())
}

func TestDispatchSendFailureReturnsAgentUnreachable(t *testing.T) {
	resolver := newFakeResolver()
	resolver.set(&fakeSession{agentID: "agent-1", epoch: 1, sendErr: errors.New("buffer full")})
	c := New(resolver)

	_, appErr := c.Dispatch(context.Background(), "agent-1", echoEncoder, time.Second)

	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeAgentUnreachable, appErr.Code)
	assert.Equal(t, 0, c.PendingCount())
}

func TestResolveOnStaleEpochIsDroppedSilently(t *testing.T) {
	resolver := newFakeResolver()
	session := &fakeSession{agentID: "agent-1", epoch: 1}
	resolver.set(session)
	c := New(resolver)

	var requestID string
	done := make(chan struct{})
	var appErr *apperrors.AppError

	go func() {
		_, appErr = c.Dispatch(context.Background(), "agent-1", func(id string) ([]byte, error) {
			requestID = id
			return []byte(id), nil
		}, 50*time.Millisecond)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)

	// A reply tagged with a different epoch (e.g. from a session that has
	// since reconnected) must not be delivered to this pending request.
	c.Resolve("agent-1", 2, requestID, []byte("wrong epoch"), nil)

	<-done
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTimeout, appErr.Code)
}

func TestFailAllForSessionResolvesOnlyMatchingEpoch(t *testing.T) {
	resolver := newFakeResolver()
	resolver.set(&fakeSession{agentID: "agent-1", epoch: 1})
	c := New(resolver)

	done := make(chan *apperrors.AppError, 1)
	go func() {
		_, appErr := c.Dispatch(context.Background(), "agent-1", echoEncoder, time.Second)
		done <- appErr
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)

	failErr := apperrors.AgentUnreachable("session superseded by reconnect")
	c.FailAllForSession("agent-1", 1, failErr)

	appErr := <-done
	require.NotNil(t, appErr)
	assert.Equal(t, failErr, appErr)
	assert.Equal(t, 0, c.PendingCount())
}

func TestBindResolverRebindsDispatchTarget(t *testing.T) {
	c := New(newFakeResolver())

	_, appErr := c.Dispatch(context.Background(), "agent-1", echoEncoder, time.Second)
	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeAgentUnreachable, appErr.Code)

	resolver := newFakeResolver()
	resolver.set(&fakeSession{agentID: "agent-1", epoch: 1})
	c.BindResolver(resolver)

	var requestID string
	done := make(chan struct{})
	go func() {
		c.Dispatch(context.Background(), "agent-1", func(id string) ([]byte, error) {
			requestID = id
			return []byte(id), nil
		}, time.Second)
		close(done)
	}()

	require.Eventually(t, func() bool { return c.PendingCount() == 1 }, time.Second, time.Millisecond)
	c.Resolve("agent-1", 1, requestID, []byte("ok"), nil)
	<-done
}
