package embedder

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
	"github.com/knights-analytics/hugot/pipelines"
)

// DefaultHugotModel is a 384-dimensional sentence transformer.
const DefaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"

// HugotConfig configures the in-process embedder.
type HugotConfig struct {
	Model    string
	ModelDir string
}

// HugotEmbedder runs a sentence-transformer model in process with the pure Go
// hugot backend. The pipeline is not safe for concurrent use, so calls are
// serialized.
type HugotEmbedder struct {
	mu        sync.Mutex
	session   *hugot.Session
	pipeline  *pipelines.FeatureExtractionPipeline
	model     string
	dimension int
}

// NewHugotEmbedder prepares the model (downloading it on first use) and
// creates a feature extraction pipeline.
func NewHugotEmbedder(cfg HugotConfig) (*HugotEmbedder, error) {
	model := cfg.Model
	if model == "" {
		model = DefaultHugotModel
	}
	modelDir := cfg.ModelDir
	if modelDir == "" {
		modelDir = "./models"
	}

	modelPath, err := prepareModel(model, modelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	pipeline, err := hugot.NewPipeline(session, hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "docqa-embedder",
	})
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create embedding pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create embedding pipeline: %w", err)
	}

	return &HugotEmbedder{
		session:   session,
		pipeline:  pipeline,
		model:     model,
		dimension: DimensionFor(model, 384),
	}, nil
}

func prepareModel(model, modelDir string) (string, error) {
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(model, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("failed to stat model directory: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	opts := hugot.NewDownloadOptions()
	opts.OnnxFilePath = "onnx/model.onnx"
	downloaded, err := hugot.DownloadModel(model, modelDir, opts)
	if err != nil {
		return "", fmt.Errorf("failed to download model %s: %w", model, err)
	}
	return downloaded, nil
}

// Embed generates a normalized embedding for one text.
func (e *HugotEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vectors, err := e.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

// EmbedBatch embeds texts in a single pipeline run.
func (e *HugotEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	e.mu.Lock()
	result, err := e.pipeline.RunPipeline(texts)
	e.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("failed to generate embeddings: %w", err)
	}
	if len(result.Embeddings) != len(texts) {
		return nil, fmt.Errorf("hugot returned %d embeddings for %d texts", len(result.Embeddings), len(texts))
	}

	out := make([][]float32, len(texts))
	for i, v := range result.Embeddings {
		out[i] = Normalize(append([]float32(nil), v...))
	}
	return out, nil
}

// Dimension returns the dimensionality of the embedding vectors.
func (e *HugotEmbedder) Dimension() int {
	return e.dimension
}

// ModelName returns the name of the embedding model being used.
func (e *HugotEmbedder) ModelName() string {
	return e.model
}

// Close releases the hugot session.
func (e *HugotEmbedder) Close() error {
	return e.session.Destroy()
}

var _ Embedder = (*HugotEmbedder)(nil)
