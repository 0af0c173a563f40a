package ingestion

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/embedder"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/metrics"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/repository"
	"github.com/Sh4rvsh-code/Knowledge-RAGbot/internal/vectorstore"
)

// ErrEmptyDocument is returned for documents with no text.
var ErrEmptyDocument = errors.New("document has no text")

const defaultEmbedBatchSize = 32

// IndexerOption configures an Indexer.
type IndexerOption func(*Indexer)

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *metrics.Metrics) IndexerOption {
	return func(ix *Indexer) { ix.metrics = m }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) IndexerOption {
	return func(ix *Indexer) { ix.logger = l }
}

// WithEmbedBatchSize sets how many chunks are embedded per call.
func WithEmbedBatchSize(n int) IndexerOption {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// Indexer keeps the document store, chunk store and vector index in step:
// every stored chunk has exactly one vector at its position.
type Indexer struct {
	docs      repository.DocumentStore
	chunks    repository.ChunkStore
	embedder  embedder.Embedder
	index     vectorstore.Index
	chunker   *Chunker
	batchSize int
	metrics   *metrics.Metrics
	logger    *slog.Logger
}

// NewIndexer creates an indexer.
func NewIndexer(docs repository.DocumentStore, chunks repository.ChunkStore, e embedder.Embedder, index vectorstore.Index, chunker *Chunker, opts ...IndexerOption) *Indexer {
	ix := &Indexer{
		docs:      docs,
		chunks:    chunks,
		embedder:  e,
		index:     index,
		chunker:   chunker,
		batchSize: defaultEmbedBatchSize,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(ix)
	}
	ix.logger = ix.logger.With("component", "indexer")
	return ix
}

// Index stores a document, chunks and embeds its text, and adds the vectors
// to the index. On failure the chunks and vectors written so far are
// removed and the document is kept with status failed.
func (ix *Indexer) Index(ctx context.Context, name, content string, metadata map[string]string) (*repository.Document, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyDocument
	}

	start := time.Now()
	now := start.UTC()
	doc := &repository.Document{
		ID:          uuid.New(),
		Name:        name,
		ContentHash: hashContent(content),
		Status:      repository.StatusProcessing,
		Metadata:    metadata,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := ix.docs.Create(ctx, doc); err != nil {
		return nil, fmt.Errorf("creating document: %w", err)
	}

	stored, err := ix.process(ctx, doc, content)
	if err != nil {
		ix.rollback(context.WithoutCancel(ctx), doc, stored, err)
		ix.count(repository.StatusFailed, 0)
		return doc, fmt.Errorf("indexing %q: %w", name, err)
	}

	doc.Status = repository.StatusReady
	doc.ChunkCount = len(stored)
	doc.UpdatedAt = time.Now().UTC()
	if err := ix.docs.Update(ctx, doc); err != nil {
		ix.rollback(context.WithoutCancel(ctx), doc, stored, err)
		ix.count(repository.StatusFailed, 0)
		return doc, fmt.Errorf("marking document ready: %w", err)
	}

	ix.count(repository.StatusReady, len(stored))
	ix.logger.Info("document_indexed",
		"document_id", doc.ID,
		"name", name,
		"chunks", len(stored),
		"duration_ms", time.Since(start).Milliseconds())
	return doc, nil
}

// process chunks, embeds and stores content. It returns the chunks stored
// so far, also on error, so they can be rolled back.
func (ix *Indexer) process(ctx context.Context, doc *repository.Document, content string) ([]*repository.Chunk, error) {
	pieces := ix.chunker.Chunk(content)
	if len(pieces) == 0 {
		return nil, ErrEmptyDocument
	}

	texts := make([]string, len(pieces))
	for i, p := range pieces {
		texts[i] = p.Text
	}
	vectors, err := ix.embed(ctx, texts)
	if err != nil {
		return nil, err
	}

	created := time.Now().UTC()
	chunks := make([]*repository.Chunk, len(pieces))
	for i, p := range pieces {
		chunks[i] = &repository.Chunk{
			ID:           uuid.New(),
			DocumentID:   doc.ID,
			DocumentName: doc.Name,
			Index:        p.Index,
			Text:         p.Text,
			StartChar:    p.StartChar,
			EndChar:      p.EndChar,
			Metadata:     chunkMetadata(doc.Metadata, p.Index),
			CreatedAt:    created,
		}
	}
	if err := ix.chunks.CreateChunks(ctx, chunks); err != nil {
		return nil, fmt.Errorf("storing chunks: %w", err)
	}

	points := make([]vectorstore.Point, len(chunks))
	for i, c := range chunks {
		points[i] = vectorstore.Point{Position: c.Position, DocumentID: doc.ID.String(), Vector: vectors[i]}
	}
	if err := ix.index.Upsert(ctx, points); err != nil {
		return chunks, fmt.Errorf("adding vectors: %w", err)
	}
	return chunks, nil
}

func (ix *Indexer) embed(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += ix.batchSize {
		end := min(start+ix.batchSize, len(texts))
		batch, err := ix.embedder.EmbedBatch(ctx, texts[start:end])
		if err != nil {
			return nil, fmt.Errorf("embedding chunks %d-%d: %w", start, end-1, err)
		}
		vectors = append(vectors, batch...)
	}
	return vectors, nil
}

func (ix *Indexer) rollback(ctx context.Context, doc *repository.Document, stored []*repository.Chunk, cause error) {
	if len(stored) > 0 {
		positions := make([]int64, len(stored))
		for i, c := range stored {
			positions[i] = c.Position
		}
		if err := ix.index.Delete(ctx, positions); err != nil {
			ix.logger.Error("rollback_vectors_failed", "document_id", doc.ID, "error", err)
		}
	}
	if err := ix.chunks.DeleteChunks(ctx, doc.ID); err != nil {
		ix.logger.Error("rollback_chunks_failed", "document_id", doc.ID, "error", err)
	}

	doc.Status = repository.StatusFailed
	doc.ErrorMessage = cause.Error()
	doc.ChunkCount = 0
	doc.UpdatedAt = time.Now().UTC()
	if err := ix.docs.Update(ctx, doc); err != nil {
		ix.logger.Error("mark_document_failed_failed", "document_id", doc.ID, "error", err)
	}
	ix.logger.Warn("document_indexing_failed", "document_id", doc.ID, "name", doc.Name, "error", cause)
}

// Remove deletes a document's vectors, chunks and record, in that order.
func (ix *Indexer) Remove(ctx context.Context, id uuid.UUID) error {
	if _, err := ix.docs.GetByID(ctx, id); err != nil {
		return err
	}

	positions, err := ix.chunks.ListPositions(ctx, id)
	if err != nil {
		return fmt.Errorf("listing chunk positions: %w", err)
	}
	if err := ix.index.Delete(ctx, positions); err != nil {
		return fmt.Errorf("deleting vectors: %w", err)
	}
	if err := ix.chunks.DeleteChunks(ctx, id); err != nil {
		return fmt.Errorf("deleting chunks: %w", err)
	}
	if err := ix.docs.Delete(ctx, id); err != nil {
		return fmt.Errorf("deleting document: %w", err)
	}

	ix.logger.Info("document_removed", "document_id", id, "chunks", len(positions))
	return nil
}

func (ix *Indexer) count(status string, chunks int) {
	if ix.metrics == nil {
		return
	}
	ix.metrics.DocumentsIndexed.WithLabelValues(status).Inc()
	ix.metrics.ChunksIndexed.Add(float64(chunks))
}

func chunkMetadata(docMeta map[string]string, index int) map[string]string {
	m := make(map[string]string, len(docMeta)+1)
	for k, v := range docMeta {
		m[k] = v
	}
	m["chunk_index"] = strconv.Itoa(index)
	return m
}

func hashContent(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}
