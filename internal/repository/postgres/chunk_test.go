package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

var chunkCols = []string{"id", "document_id", "name", "chunk_index", "content", "start_char", "end_char", "position", "metadata", "created_at"}

func TestChunkRepo_GetChunksJoinsDocumentName(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepo(db)

	docID := uuid.New()
	now := time.Now()
	rows := pgxmock.NewRows(chunkCols).
		AddRow(uuid.New(), docID, "manual.txt", 0, "first chunk", 0, 11, int64(3), []byte(`{"page":"1"}`), now).
		AddRow(uuid.New(), docID, "manual.txt", 1, "second chunk", 9, 21, int64(5), []byte(`{}`), now)

	mock.ExpectQuery("FROM chunks c JOIN documents d").
		WithArgs([]int64{3, 5, 8}).
		WillReturnRows(rows)

	found, err := repo.GetChunks(context.Background(), []int64{3, 5, 8})
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "manual.txt", found[3].DocumentName)
	assert.Equal(t, "1", found[3].Page())
	assert.Equal(t, "second chunk", found[5].Text)
	assert.NotContains(t, found, int64(8))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepo_GetChunkMissing(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepo(db)

	mock.ExpectQuery("FROM chunks c JOIN documents d").
		WithArgs(int64(42)).
		WillReturnRows(pgxmock.NewRows(chunkCols))

	_, err := repo.GetChunk(context.Background(), 42)
	assert.ErrorIs(t, err, repository.ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestChunkRepo_GetChunksEmptyInput(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewChunkRepo(db)

	found, err := repo.GetChunks(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, found)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestQueryRepo_RecordQuery(t *testing.T) {
	db, mock := newMockDB(t)
	repo := NewQueryRepo(db)

	rec := &repository.QueryRecord{
		ID:               uuid.New(),
		Query:            "what is the leave policy?",
		Provider:         "ollama",
		Answer:           "20 days [DOCUMENT 1]",
		Outcome:          "answered",
		ChunksRetrieved:  4,
		ProcessingTimeMS: 812,
		CreatedAt:        time.Now(),
	}

	mock.ExpectExec("INSERT INTO query_log").
		WithArgs(rec.ID, rec.Query, rec.Provider, rec.Answer, rec.Outcome, 4, false, int64(812), rec.CreatedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.RecordQuery(context.Background(), rec))
	assert.NoError(t, mock.ExpectationsWereMet())
}
