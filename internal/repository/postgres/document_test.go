package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

func newMockDB(t *testing.T) (*DB, pgxmock.PgxPoolIface) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	return NewWithPool(mock), mock
}

func TestDocumentRepo_CreateAdvancesGeneration(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)

	now := time.Now()
	doc := &repository.Document{
		ID:        uuid.New(),
		Name:      "handbook.txt",
		Status:    repository.StatusProcessing,
		Metadata:  map[string]string{"source": "upload"},
		CreatedAt: now,
		UpdatedAt: now,
	}

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.ID, doc.Name, "", 0, repository.StatusProcessing, "", pgxmock.AnyArg(), now, now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectExec("UPDATE corpus_state SET generation").
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectCommit()

	require.NoError(t, repo.Create(context.Background(), doc))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_DeleteMissingRollsBack(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)
	id := uuid.New()

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM documents").
		WithArgs(id).
		WillReturnResult(pgxmock.NewResult("DELETE", 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_GetByIDNotFound(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)
	id := uuid.New()

	mock.ExpectQuery("SELECT id, name").
		WithArgs(id).
		WillReturnError(pgx.ErrNoRows)

	_, err := repo.GetByID(context.Background(), id)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_GetByID(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)
	id := uuid.New()
	now := time.Now()

	rows := pgxmock.NewRows([]string{"id", "name", "content_hash", "chunk_count", "status", "error_message", "metadata", "created_at", "updated_at"}).
		AddRow(id, "policy.txt", "abc", 3, repository.StatusReady, "", []byte(`{"lang":"en"}`), now, now)
	mock.ExpectQuery("SELECT id, name").WithArgs(id).WillReturnRows(rows)

	doc, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "policy.txt", doc.Name)
	assert.Equal(t, 3, doc.ChunkCount)
	assert.Equal(t, "en", doc.Metadata["lang"])
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRepo_LatestModificationMarker(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewDocumentRepo(db)

	mock.ExpectQuery("SELECT generation FROM corpus_state").
		WillReturnRows(pgxmock.NewRows([]string{"generation"}).AddRow(int64(7)))

	marker, err := repo.LatestModificationMarker(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "gen-7", marker)
	assert.NoError(t, mock.ExpectationsWereMet())
}
