// Package csvpool implements the CSV-to-SQL Session Pool: a keyed pool of
// per-file in-memory relational tables, materialized lazily from blob
// storage, subject to per-file and aggregate footprint caps with LRU
// eviction. Each CSV Session gets its own private in-memory SQLite
// database (modernc.org/sqlite, pure Go, no cgo), so admission and
// isolation hold by construction.
package csvpool

import (
	"container/list"
	"context"
	"database/sql"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	apperrors "github.com/custard/gateway/internal/errors"
	"github.com/custard/gateway/internal/logger"
)

// BlobFetcher fetches the raw bytes of an uploaded CSV by file_id from the
// external blob store.
type BlobFetcher interface {
	FetchCSV(ctx context.Context, fileID string) (data []byte, sourceBytes int64, err error)
}

// Caps are the three scalar limits the pool enforces: per-file
// source-bytes limit, per-file in-memory footprint limit, aggregate
// footprint limit across all CSV Sessions.
type Caps struct {
	PerFileSourceBytes int64
	PerFileFootprint   int64
	AggregateFootprint int64
}

// Session is one materialized CSV: a private SQLite database holding the
// deterministically-named table, plus bookkeeping for eviction.
type Session struct {
	FileID    string
	TableName string
	Schema    []Column
	Footprint int64
	db        *sql.DB

	lastAccess time.Time
	elem       *list.Element // position in the LRU list
}

// Column describes one column discovered while loading a CSV.
type Column struct {
	Name string
	Type string // "TEXT", "INTEGER", or "REAL" — inferred from content
}

// DB returns the session's private database handle for query execution.
func (s *Session) DB() *sql.DB { return s.db }

// Pool is the CSV-to-SQL Session Pool.
type Pool struct {
	caps   Caps
	blobs  BlobFetcher

	mu        sync.Mutex
	sessions  map[string]*Session
	lru       *list.List // front = most recently used
	totalSize int64
}

// New constructs an empty pool enforcing caps, fetching source bytes via blobs.
func New(caps Caps, blobs BlobFetcher) *Pool {
	return &Pool{
		caps:     caps,
		blobs:    blobs,
		sessions: make(map[string]*Session),
		lru:      list.New(),
	}
}

var tableNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_]`)

// TableName deterministically derives a SQL-identifier-safe table name
// from file_id, so the LLM can be told what to name in generated SQL
// without ever seeing the raw file_id escape into a query unsanitized.
func TableName(fileID string) string {
	sanitized := tableNameSanitizer.ReplaceAllString(fileID, "_")
	return "csv_" + sanitized
}

// Acquire returns the materialized Session for fileID, admitting it (via
// blob fetch + CSV parse) on first reference. Bumps LRU recency on every
// call, including cache hits.
func (p *Pool) Acquire(ctx context.Context, fileID string) (*Session, *apperrors.AppError) {
	p.mu.Lock()
	if s, ok := p.sessions[fileID]; ok {
		p.lru.MoveToFront(s.elem)
		s.lastAccess = time.Now()
		p.mu.Unlock()
		return s, nil
	}
	p.mu.Unlock()

	return p.admit(ctx, fileID)
}

func (p *Pool) admit(ctx context.Context, fileID string) (*Session, *apperrors.AppError) {
	data, sourceBytes, err := p.blobs.FetchCSV(ctx, fileID)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeInternal, "fetch CSV from blob storage failed", err)
	}
	if sourceBytes > p.caps.PerFileSourceBytes {
		return nil, apperrors.TooLarge(fmt.Sprintf("source size %d exceeds per-file cap %d", sourceBytes, p.caps.PerFileSourceBytes))
	}

	tableName := TableName(fileID)
	db, err := sql.Open("sqlite", "file::memory:?cache=private")
	if err != nil {
		return nil, apperrors.Internal(err)
	}
	db.SetMaxOpenConns(1) // private in-memory handle: one connection keeps the whole db alive

	columns, rowCount, err := loadCSV(db, tableName, data)
	if err != nil {
		db.Close()
		return nil, apperrors.Wrap(apperrors.CodeInternal, "parse CSV into table failed", err)
	}

	footprint := estimateFootprint(columns, rowCount, int64(len(data)))
	if footprint > p.caps.PerFileFootprint {
		db.Close()
		return nil, apperrors.TooLarge(fmt.Sprintf("in-memory footprint %d exceeds per-file cap %d", footprint, p.caps.PerFileFootprint))
	}

	session := &Session{
		FileID: fileID, TableName: tableName, Schema: columns,
		Footprint: footprint, db: db, lastAccess: time.Now(),
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if existing, ok := p.sessions[fileID]; ok {
		// Raced with another admit for the same file_id; keep the
		// existing one and discard this one.
		db.Close()
		p.lru.MoveToFront(existing.elem)
		return existing, nil
	}

	p.evictLocked(footprint)

	session.elem = p.lru.PushFront(session)
	p.sessions[fileID] = session
	p.totalSize += footprint
	return session, nil
}

// evictLocked evicts in LRU order (oldest first) until admitting an
// incoming item of size incoming would fit within the aggregate cap, or
// the pool is empty. Caller holds p.mu.
func (p *Pool) evictLocked(incoming int64) {
	for p.totalSize+incoming > p.caps.AggregateFootprint {
		back := p.lru.Back()
		if back == nil {
			return
		}
		victim := back.Value.(*Session)
		p.releaseLocked(victim)
		logger.Pool().Info().Str("file_id", victim.FileID).Msg("evicted CSV session under aggregate cap pressure")
	}
}

func (p *Pool) releaseLocked(s *Session) {
	p.lru.Remove(s.elem)
	delete(p.sessions, s.FileID)
	p.totalSize -= s.Footprint
	s.db.Close()
}

// Release explicitly evicts fileID's session, if present. Process shutdown
// evicts every session through ReleaseAll instead.
func (p *Pool) Release(fileID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if s, ok := p.sessions[fileID]; ok {
		p.releaseLocked(s)
	}
}

// ReleaseAll evicts every CSV Session; used on process shutdown.
func (p *Pool) ReleaseAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.sessions {
		s.db.Close()
	}
	p.sessions = make(map[string]*Session)
	p.lru.Init()
	p.totalSize = 0
}

// EvictIdleSince releases every CSV Session whose lastAccess is older than
// maxIdle, run periodically off the hot path so an abandoned upload's
// memory is reclaimed without waiting for aggregate-cap pressure.
func (p *Pool) EvictIdleSince(maxIdle time.Duration) (evicted int) {
	cutoff := time.Now().Add(-maxIdle)

	p.mu.Lock()
	var idle []*Session
	for _, s := range p.sessions {
		if s.lastAccess.Before(cutoff) {
			idle = append(idle, s)
		}
	}
	for _, s := range idle {
		p.releaseLocked(s)
	}
	p.mu.Unlock()

	if len(idle) > 0 {
		logger.Pool().Info().Int("count", len(idle)).Msg("evicted idle CSV sessions")
	}
	return len(idle)
}

// AggregateFootprint reports the pool's current total footprint; exported
// for tests that verify it never exceeds the aggregate cap.
func (p *Pool) AggregateFootprint() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.totalSize
}

func estimateFootprint(columns []Column, rowCount int, sourceBytes int64) int64 {
	// A generous, deliberately simple estimate: source bytes plus a
	// per-row, per-column overhead for SQLite's row format and indexing.
	overhead := int64(rowCount) * int64(len(columns)) * 16
	return sourceBytes + overhead
}

func quoteIdent(ident string) string {
	return `"` + strings.ReplaceAll(ident, `"`, `""`) + `"`
}
