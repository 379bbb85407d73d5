// Package models defines the core data structures of Custard's control
// plane: Connection, Schema Snapshot, and the JSONB-backed metadata carried
// alongside a Connection in Postgres.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// AgentLiveMetadata is a denormalized, best-effort record of a Connection's
// last known agent activity. Stored as JSONB; it is a convenience cache,
// never the source of truth for registry membership (the in-memory
// Registry is authoritative for "is this agent live right now").
type AgentLiveMetadata struct {
	LastSeenEpoch   uint64     `json:"lastSeenEpoch,omitempty"`
	LastHeartbeatAt *time.Time `json:"lastHeartbeatAt,omitempty"`
}

// Scan implements sql.Scanner for AgentLiveMetadata.
func (m *AgentLiveMetadata) Scan(value interface{}) error {
	if value == nil {
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return nil
	}
	return json.Unmarshal(bytes, m)
}

// Value implements driver.Valuer for AgentLiveMetadata.
func (m AgentLiveMetadata) Value() (driver.Value, error) {
	return json.Marshal(m)
}

// DBType is an informational, enumerated tag describing the kind of
// database a Connection points at. It has no bearing on routing: the
// agent alone knows how to speak to its own database.
type DBType string

const (
	DBTypePostgres DBType = "postgres"
	DBTypeMySQL    DBType = "mysql"
	DBTypeSQLite   DBType = "sqlite"
	DBTypeOther    DBType = "other"
)

// Connection is a user-declared reference to one remote customer database.
//
// connection_id and agent_id are immutable for the Connection's lifetime.
// agent_key is shown to the user exactly once, at creation, and is never
// rotated in place — rotation means deleting this Connection and creating
// a new one.
type Connection struct {
	ConnectionID string             `json:"connectionId" db:"connection_id"`
	AgentID      string             `json:"agentId" db:"agent_id"`
	Name         string             `json:"name" db:"name"`
	DBType       DBType             `json:"dbType" db:"db_type"`
	OwnerUserID  string             `json:"ownerUserId" db:"owner_user_id"`

	// AgentKeyHash is the bcrypt hash of the agent_key. Never serialized.
	AgentKeyHash string `json:"-" db:"agent_key_hash"`

	// LiveMetadata is the denormalized last-seen cache described above.
	LiveMetadata AgentLiveMetadata `json:"liveMetadata,omitempty" db:"live_metadata"`

	CreatedAt time.Time `json:"createdAt" db:"created_at"`
	UpdatedAt time.Time `json:"updatedAt" db:"updated_at"`
}

// ConnectionCreateRequest is the HTTP request body for creating a Connection.
type ConnectionCreateRequest struct {
	Name   string `json:"name" binding:"required,min=1,max=200"`
	DBType DBType `json:"db_type" binding:"required,oneof=postgres mysql sqlite other"`
}

// ConnectionCreateResponse is returned exactly once, at creation, and is
// the only time agent_key is ever exposed.
type ConnectionCreateResponse struct {
	ConnectionID  string `json:"connection_id"`
	AgentID       string `json:"agent_id"`
	AgentKey      string `json:"agent_key"`
	WebsocketURL  string `json:"websocket_url"`
}

// SchemaColumn is one column of one table in a Schema Snapshot.
type SchemaColumn struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Nullable bool   `json:"nullable"`
}

// SchemaTable is one table in a Schema Snapshot.
type SchemaTable struct {
	Table            string         `json:"table"`
	Columns          []SchemaColumn `json:"columns"`
	RowCountEstimate int64          `json:"row_count_estimate"`
}

// SchemaSnapshot is the latest known structural description of one
// customer database, keyed by connection_id in the Schema Cache. Absence
// means "not yet discovered"; there is at most one per connection_id.
type SchemaSnapshot struct {
	ConnectionID string        `json:"connection_id"`
	Tables       []SchemaTable `json:"tables"`
	CapturedAt   time.Time     `json:"captured_at"`
}

// FileMetadata is the persisted record of one uploaded CSV, independent of
// whether it currently has a materialized CSV Session in the pool.
type FileMetadata struct {
	FileID      string    `json:"fileId" db:"file_id"`
	OwnerUserID string    `json:"ownerUserId" db:"owner_user_id"`
	Filename    string    `json:"filename" db:"filename"`
	SizeBytes   int64     `json:"sizeBytes" db:"size_bytes"`
	BlobKey     string    `json:"-" db:"blob_key"`
	CreatedAt   time.Time `json:"createdAt" db:"created_at"`
}
