package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/custard/gateway/internal/models"
)

// FileMetadataDB handles CRUD for uploaded-CSV metadata records.
type FileMetadataDB struct {
	db *sql.DB
}

// NewFileMetadataDB constructs a FileMetadataDB over sqlDB.
func NewFileMetadataDB(sqlDB *sql.DB) *FileMetadataDB {
	return &FileMetadataDB{db: sqlDB}
}

// Create records a newly uploaded CSV's blob pointer.
func (f *FileMetadataDB) Create(ctx context.Context, ownerUserID, filename string, sizeBytes int64, blobKey string) (*models.FileMetadata, error) {
	meta := &models.FileMetadata{
		FileID:      uuid.New().String(),
		OwnerUserID: ownerUserID,
		Filename:    filename,
		SizeBytes:   sizeBytes,
		BlobKey:     blobKey,
	}
	row := f.db.QueryRowContext(ctx, `
		INSERT INTO file_metadata (file_id, owner_user_id, filename, size_bytes, blob_key)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`, meta.FileID, meta.OwnerUserID, meta.Filename, meta.SizeBytes, meta.BlobKey)
	if err := row.Scan(&meta.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert file_metadata: %w", err)
	}
	return meta, nil
}

// Get fetches one FileMetadata by id.
func (f *FileMetadataDB) Get(ctx context.Context, fileID string) (*models.FileMetadata, error) {
	var meta models.FileMetadata
	row := f.db.QueryRowContext(ctx, `
		SELECT file_id, owner_user_id, filename, size_bytes, blob_key, created_at
		FROM file_metadata WHERE file_id = $1
	`, fileID)
	err := row.Scan(&meta.FileID, &meta.OwnerUserID, &meta.Filename, &meta.SizeBytes, &meta.BlobKey, &meta.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan file_metadata: %w", err)
	}
	return &meta, nil
}

// ListByOwner lists every uploaded CSV owned by ownerUserID.
func (f *FileMetadataDB) ListByOwner(ctx context.Context, ownerUserID string) ([]*models.FileMetadata, error) {
	rows, err := f.db.QueryContext(ctx, `
		SELECT file_id, owner_user_id, filename, size_bytes, blob_key, created_at
		FROM file_metadata WHERE owner_user_id = $1 ORDER BY created_at DESC
	`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("query file_metadata: %w", err)
	}
	defer rows.Close()

	var out []*models.FileMetadata
	for rows.Next() {
		var meta models.FileMetadata
		if err := rows.Scan(&meta.FileID, &meta.OwnerUserID, &meta.Filename, &meta.SizeBytes, &meta.BlobKey, &meta.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan file_metadata: %w", err)
		}
		out = append(out, &meta)
	}
	return out, rows.Err()
}

// Delete removes a FileMetadata record. The caller is responsible for
// releasing any corresponding csvpool.Session and blob-store object.
func (f *FileMetadataDB) Delete(ctx context.Context, fileID string) error {
	_, err := f.db.ExecContext(ctx, `DELETE FROM file_metadata WHERE file_id = $1`, fileID)
	return err
}
