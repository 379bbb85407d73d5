package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/custard/gateway/internal/models"
)

// ConnectionDB handles CRUD for Connection records, using the
// per-domain *DB wrapper shape used throughout this package.
type ConnectionDB struct {
	db *sql.DB
}

// NewConnectionDB constructs a ConnectionDB over sqlDB.
func NewConnectionDB(sqlDB *sql.DB) *ConnectionDB {
	return &ConnectionDB{db: sqlDB}
}

// Create inserts a new Connection, generating its connection_id and
// agent_id. agentKeyHash must already be bcrypt-hashed by the caller
// (internal/auth.HashAgentKey).
func (c *ConnectionDB) Create(ctx context.Context, name string, dbType models.DBType, ownerUserID, agentKeyHash string) (*models.Connection, error) {
	now := time.Now()
	conn := &models.Connection{
		ConnectionID: uuid.New().String(),
		AgentID:      uuid.New().String(),
		Name:         name,
		DBType:       dbType,
		OwnerUserID:  ownerUserID,
		AgentKeyHash: agentKeyHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	liveMetadata, err := json.Marshal(conn.LiveMetadata)
	if err != nil {
		return nil, fmt.Errorf("marshal live_metadata: %w", err)
	}

	_, err = c.db.ExecContext(ctx, `
		INSERT INTO connections
			(connection_id, agent_id, name, db_type, owner_user_id, agent_key_hash, live_metadata, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, conn.ConnectionID, conn.AgentID, conn.Name, conn.DBType, conn.OwnerUserID, conn.AgentKeyHash, liveMetadata, conn.CreatedAt, conn.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert connection: %w", err)
	}
	return conn, nil
}

// Get fetches one Connection by id.
func (c *ConnectionDB) Get(ctx context.Context, connectionID string) (*models.Connection, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT connection_id, agent_id, name, db_type, owner_user_id, agent_key_hash, live_metadata, created_at, updated_at
		FROM connections WHERE connection_id = $1
	`, connectionID)
	return scanConnection(row)
}

// GetByAgentID fetches one Connection by its agent_id, used by the Agent
// Session Endpoint's handshake authenticator.
func (c *ConnectionDB) GetByAgentID(ctx context.Context, agentID string) (*models.Connection, error) {
	row := c.db.QueryRowContext(ctx, `
		SELECT connection_id, agent_id, name, db_type, owner_user_id, agent_key_hash, live_metadata, created_at, updated_at
		FROM connections WHERE agent_id = $1
	`, agentID)
	return scanConnection(row)
}

// ListByOwner lists every Connection owned by ownerUserID.
func (c *ConnectionDB) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.Connection, error) {
	rows, err := c.db.QueryContext(ctx, `
		SELECT connection_id, agent_id, name, db_type, owner_user_id, agent_key_hash, live_metadata, created_at, updated_at
		FROM connections WHERE owner_user_id = $1 ORDER BY created_at DESC
	`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("query connections: %w", err)
	}
	defer rows.Close()

	var out []*models.Connection
	for rows.Next() {
		conn, err := scanConnectionRows(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, conn)
	}
	return out, rows.Err()
}

// AgentIDsOwnedBy satisfies statusfanout.OwnershipResolver.
func (c *ConnectionDB) AgentIDsOwnedBy(userID string) ([]string, error) {
	rows, err := c.db.Query(`SELECT agent_id FROM connections WHERE owner_user_id = $1`, userID)
	if err != nil {
		return nil, fmt.Errorf("query agent ids: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// UpdateLiveMetadata persists the Registry's last-seen bookkeeping for a
// Connection's agent session — best-effort, called off the hot path.
func (c *ConnectionDB) UpdateLiveMetadata(ctx context.Context, connectionID string, meta models.AgentLiveMetadata) error {
	encoded, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshal live_metadata: %w", err)
	}
	_, err = c.db.ExecContext(ctx, `
		UPDATE connections SET live_metadata = $1, updated_at = now() WHERE connection_id = $2
	`, encoded, connectionID)
	return err
}

// Delete removes a Connection.
func (c *ConnectionDB) Delete(ctx context.Context, connectionID string) error {
	_, err := c.db.ExecContext(ctx, `DELETE FROM connections WHERE connection_id = $1`, connectionID)
	return err
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanConnection(row *sql.Row) (*models.Connection, error) {
	return scanConnectionRows(row)
}

func scanConnectionRows(row rowScanner) (*models.Connection, error) {
	var conn models.Connection
	var liveMetadata []byte
	err := row.Scan(&conn.ConnectionID, &conn.AgentID, &conn.Name, &conn.DBType, &conn.OwnerUserID,
		&conn.AgentKeyHash, &liveMetadata, &conn.CreatedAt, &conn.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan connection: %w", err)
	}
	if len(liveMetadata) > 0 {
		if err := json.Unmarshal(liveMetadata, &conn.LiveMetadata); err != nil {
			return nil, fmt.Errorf("unmarshal live_metadata: %w", err)
		}
	}
	return &conn, nil
}
