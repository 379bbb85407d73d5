package csvpool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/custard/gateway/internal/errors"
)

type fakeBlobFetcher struct {
	data map[string][]byte
}

func (f *fakeBlobFetcher) FetchCSV(_ context.Context, fileID string) ([]byte, int64, error) {
	data, ok := f.data[fileID]
	if !ok {
		return nil, 0, apperrors.NotFound("file")
	}
	return data, int64(len(data)), nil
}

func smallCSV() []byte {
	return []byte("name,age\nalice,30\nbob,25\n")
}

func unboundedCaps() Caps {
	return Caps{
		PerFileSourceBytes: 1 << 20,
		PerFileFootprint:   1 << 20,
		AggregateFootprint: 10 << 20,
	}
}

func TestAcquireMaterializesAndReuses(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{"file-1": smallCSV()}}
	pool := New(unboundedCaps(), blobs)

	s1, appErr := pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)
	require.NotNil(t, s1)
	assert.Equal(t, TableName("file-1"), s1.TableName)

	s2, appErr := pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)
	assert.Same(t, s1, s2)
}

func TestAcquireRejectsSourceSizeOverPerFileCap(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{"file-1": smallCSV()}}
	caps := unboundedCaps()
	caps.PerFileSourceBytes = 4
	pool := New(caps, blobs)

	_, appErr := pool.Acquire(context.Background(), "file-1")

	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeTooLarge, appErr.Code)
	assert.Equal(t, int64(0), pool.AggregateFootprint())
}

func TestAcquireUnknownFileReturnsWrappedError(t *testing.T) {
	pool := New(unboundedCaps(), &fakeBlobFetcher{data: map[string][]byte{}})

	_, appErr := pool.Acquire(context.Background(), "missing")

	require.NotNil(t, appErr)
	assert.Equal(t, apperrors.CodeInternal, appErr.Code)
}

func TestAggregateCapEvictsOldestSessionFirst(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{
		"file-1": smallCSV(),
		"file-2": smallCSV(),
		"file-3": smallCSV(),
	}}
	pool := New(unboundedCaps(), blobs)

	s1, appErr := pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)
	_, appErr = pool.Acquire(context.Background(), "file-2")
	require.Nil(t, appErr)

	// Cap the aggregate footprint to exactly what two sessions already
	// occupy, so admitting a third must evict the least-recently-used one.
	pool.caps.AggregateFootprint = pool.AggregateFootprint()

	_, appErr = pool.Acquire(context.Background(), "file-3")
	require.Nil(t, appErr)

	pool.mu.Lock()
	_, stillPresent := pool.sessions["file-1"]
	pool.mu.Unlock()
	assert.False(t, stillPresent, "file-1 should have been evicted as the LRU victim")
	assert.NotNil(t, s1)

	_, ok3 := pool.sessions["file-3"]
	assert.True(t, ok3)
}

func TestAcquireBumpsRecencyPreventingEviction(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{
		"file-1": smallCSV(),
		"file-2": smallCSV(),
		"file-3": smallCSV(),
	}}
	pool := New(unboundedCaps(), blobs)

	_, appErr := pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)
	_, appErr = pool.Acquire(context.Background(), "file-2")
	require.Nil(t, appErr)

	// Re-touch file-1 so it is no longer the LRU tail.
	_, appErr = pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)

	pool.caps.AggregateFootprint = pool.AggregateFootprint()
	_, appErr = pool.Acquire(context.Background(), "file-3")
	require.Nil(t, appErr)

	pool.mu.Lock()
	_, file1Present := pool.sessions["file-1"]
	_, file2Present := pool.sessions["file-2"]
	pool.mu.Unlock()
	assert.True(t, file1Present, "recently re-acquired file-1 must survive eviction")
	assert.False(t, file2Present, "file-2 is now the LRU victim")
}

func TestReleaseRemovesSessionAndFootprint(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{"file-1": smallCSV()}}
	pool := New(unboundedCaps(), blobs)

	_, appErr := pool.Acquire(context.Background(), "file-1")
	require.Nil(t, appErr)
	assert.Positive(t, pool.AggregateFootprint())

	pool.Release("file-1")

	assert.Equal(t, int64(0), pool.AggregateFootprint())
	_, ok := pool.sessions["file-1"]
	assert.False(t, ok)
}

func TestReleaseAllClearsEverySession(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{
		"file-1": smallCSV(),
		"file-2": smallCSV(),
	}}
	pool := New(unboundedCaps(), blobs)
	pool.Acquire(context.Background(), "file-1")
	pool.Acquire(context.Background(), "file-2")

	pool.ReleaseAll()

	assert.Equal(t, int64(0), pool.AggregateFootprint())
	assert.Empty(t, pool.sessions)
}

func TestEvictIdleSinceReleasesOnlyStaleSessions(t *testing.T) {
	blobs := &fakeBlobFetcher{data: map[string][]byte{
		"file-1": smallCSV(),
		"file-2": smallCSV(),
	}}
	pool := New(unboundedCaps(), blobs)
	pool.Acquire(context.Background(), "file-1")
	pool.Acquire(context.Background(), "file-2")

	// Backdate file-1's last access so it falls outside a one-minute idle window.
	pool.mu.Lock()
	pool.sessions["file-1"].lastAccess = time.Now().Add(-time.Hour)
	pool.mu.Unlock()

	evicted := pool.EvictIdleSince(time.Minute)

	assert.Equal(t, 1, evicted)
	_, file1Present := pool.sessions["file-1"]
	_, file2Present := pool.sessions["file-2"]
	assert.False(t, file1Present)
	assert.True(t, file2Present)
}

func TestTableNameSanitizesFileID(t *testing.T) {
	assert.Equal(t, "csv_abc_123", TableName("abc-123"))
	assert.Equal(t, "csv_a_b_c", TableName("a.b/c"))
}
