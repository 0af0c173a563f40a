package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
)

func TestStore_GenerationAdvancesOnEveryMutation(t *testing.T) {
	ctx := context.Background()
	s := New()

	m0, err := s.LatestModificationMarker(ctx)
	require.NoError(t, err)

	doc := &repository.Document{ID: uuid.New(), Name: "a.txt", CreatedAt: time.Now()}
	require.NoError(t, s.Create(ctx, doc))
	m1, _ := s.LatestModificationMarker(ctx)
	assert.NotEqual(t, m0, m1)

	doc.Status = repository.StatusReady
	require.NoError(t, s.Update(ctx, doc))
	m2, _ := s.LatestModificationMarker(ctx)
	assert.NotEqual(t, m1, m2)

	require.NoError(t, s.Delete(ctx, doc.ID))
	m3, _ := s.LatestModificationMarker(ctx)
	assert.NotEqual(t, m2, m3)
}

func TestStore_ChunkPositionsAndJoin(t *testing.T) {
	ctx := context.Background()
	s := New()

	doc := &repository.Document{ID: uuid.New(), Name: "guide.txt"}
	require.NoError(t, s.Create(ctx, doc))

	chunks := []*repository.Chunk{
		{ID: uuid.New(), DocumentID: doc.ID, Index: 0, Text: "alpha"},
		{ID: uuid.New(), DocumentID: doc.ID, Index: 1, Text: "beta"},
	}
	require.NoError(t, s.CreateChunks(ctx, chunks))
	assert.Equal(t, int64(0), chunks[0].Position)
	assert.Equal(t, int64(1), chunks[1].Position)

	got, err := s.GetChunk(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "beta", got.Text)
	assert.Equal(t, "guide.txt", got.DocumentName)

	found, err := s.GetChunks(ctx, []int64{0, 7})
	require.NoError(t, err)
	assert.Len(t, found, 1)

	positions, err := s.ListPositions(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{0, 1}, positions)

	require.NoError(t, s.Delete(ctx, doc.ID))
	_, err = s.GetChunk(ctx, 0)
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestStore_ListQueriesNewestFirst(t *testing.T) {
	ctx := context.Background()
	s := New()

	for _, q := range []string{"first", "second", "third"} {
		require.NoError(t, s.RecordQuery(ctx, &repository.QueryRecord{ID: uuid.New(), Query: q}))
	}

	records, total, err := s.ListQueries(ctx, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, records, 2)
	assert.Equal(t, "third", records[0].Query)
	assert.Equal(t, "second", records[1].Query)
}
