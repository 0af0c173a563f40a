package rag

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository/memstore"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

// fakeEmbedder returns fixed vectors per text.
type fakeEmbedder struct {
	vectors map[string][]float32
	err     error
}

func (f *fakeEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	if f.err != nil {
		return nil, f.err
	}
	v, ok := f.vectors[text]
	if !ok {
		return nil, errors.New("no vector for " + text)
	}
	return v, nil
}

func (f *fakeEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *fakeEmbedder) Dimension() int    { return 2 }
func (f *fakeEmbedder) ModelName() string { return "fake" }

// fakeCrossEncoder scores passages from a table.
type fakeCrossEncoder struct {
	scores map[string]float32
	err    error
	calls  int
}

func (f *fakeCrossEncoder) Score(_ context.Context, _ string, passages []string) ([]float32, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	out := make([]float32, len(passages))
	for i, p := range passages {
		out[i] = f.scores[p]
	}
	return out, nil
}

func (f *fakeCrossEncoder) ModelName() string { return "fake-cross-encoder" }

type corpusChunk struct {
	text   string
	vector []float32
}

// seedCorpus stores one document whose chunks carry the given vectors.
func seedCorpus(t *testing.T, name string, chunks ...corpusChunk) (*memstore.Store, *vectorstore.MemoryIndex) {
	t.Helper()
	ctx := context.Background()

	store := memstore.New()
	index := vectorstore.NewMemoryIndex()
	require.NoError(t, index.Init(ctx, 2))

	doc := &repository.Document{ID: uuid.New(), Name: name, Status: repository.StatusReady}
	require.NoError(t, store.Create(ctx, doc))

	stored := make([]*repository.Chunk, len(chunks))
	for i, c := range chunks {
		stored[i] = &repository.Chunk{ID: uuid.New(), DocumentID: doc.ID, Index: i, Text: c.text}
	}
	require.NoError(t, store.CreateChunks(ctx, stored))

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{Position: stored[i].Position, DocumentID: doc.ID.String(), Vector: c.vector}
	}
	require.NoError(t, index.Upsert(ctx, points))

	return store, index
}

func candidate(text string, score float32) Candidate {
	return Candidate{
		Chunk: &repository.Chunk{ID: uuid.New(), DocumentID: uuid.New(), DocumentName: "doc.txt", Text: text},
		Score: score,
	}
}
