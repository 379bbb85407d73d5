package db

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFileMetadataDBMock(t *testing.T) (*FileMetadataDB, sqlmock.Sqlmock, func()) {
	t.Helper()
	mockDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	return NewFileMetadataDB(mockDB), mock, func() { mockDB.Close() }
}

var fileColumns = []string{"file_id", "owner_user_id", "filename", "size_bytes", "blob_key", "created_at"}

func TestFileMetadataDBCreateReturnsRecordWithBlobKey(t *testing.T) {
	f, mock, cleanup := newFileMetadataDBMock(t)
	defer cleanup()

	mock.ExpectQuery(`INSERT INTO file_metadata`).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))

	meta, err := f.Create(context.Background(), "user-1", "sales.csv", 1024, "blob-key-1.csv")

	require.NoError(t, err)
	assert.NotEmpty(t, meta.FileID)
	assert.Equal(t, "user-1", meta.OwnerUserID)
	assert.Equal(t, "sales.csv", meta.Filename)
	assert.Equal(t, int64(1024), meta.SizeBytes)
	assert.Equal(t, "blob-key-1.csv", meta.BlobKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileMetadataDBGetReturnsNilOnNoRows(t *testing.T) {
	f, mock, cleanup := newFileMetadataDBMock(t)
	defer cleanup()

	mock.ExpectQuery(`SELECT .* FROM file_metadata WHERE file_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	meta, err := f.Get(context.Background(), "missing")

	require.NoError(t, err)
	assert.Nil(t, meta)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileMetadataDBGetScansRow(t *testing.T) {
	f, mock, cleanup := newFileMetadataDBMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(fileColumns).
		AddRow("file-1", "user-1", "sales.csv", int64(2048), "blob-key-1.csv", now)

	mock.ExpectQuery(`SELECT .* FROM file_metadata WHERE file_id = \$1`).
		WithArgs("file-1").
		WillReturnRows(rows)

	meta, err := f.Get(context.Background(), "file-1")

	require.NoError(t, err)
	require.NotNil(t, meta)
	assert.Equal(t, "file-1", meta.FileID)
	assert.Equal(t, "blob-key-1.csv", meta.BlobKey)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileMetadataDBListByOwnerReturnsAllMatchingRows(t *testing.T) {
	f, mock, cleanup := newFileMetadataDBMock(t)
	defer cleanup()

	now := time.Now()
	rows := sqlmock.NewRows(fileColumns).
		AddRow("file-1", "user-1", "a.csv", int64(10), "blob-1", now).
		AddRow("file-2", "user-1", "b.csv", int64(20), "blob-2", now)

	mock.ExpectQuery(`SELECT .* FROM file_metadata WHERE owner_user_id = \$1`).
		WithArgs("user-1").
		WillReturnRows(rows)

	metas, err := f.ListByOwner(context.Background(), "user-1")

	require.NoError(t, err)
	assert.Len(t, metas, 2)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestFileMetadataDBDeleteExecutesDeleteStatement(t *testing.T) {
	f, mock, cleanup := newFileMetadataDBMock(t)
	defer cleanup()

	mock.ExpectExec(`DELETE FROM file_metadata WHERE file_id = \$1`).
		WithArgs("file-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := f.Delete(context.Background(), "file-1")

	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
