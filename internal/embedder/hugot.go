package embedder

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/knights-analytics/hugot"
)

// DefaultHugotModel is the sentence-transformers model used for local embeddings
const DefaultHugotModel = "sentence-transformers/all-MiniLM-L6-v2"

// HugotProvider runs a sentence-transformers feature-extraction pipeline in-process
// with the pure Go ONNX backend.
type HugotProvider struct {
	mu        sync.Mutex // the pipeline is not safe for concurrent runs
	session   *hugot.Session
	run       func([]string) ([][]float32, error)
	model     string
	dimension int
	cache     *Cache
}

// PrepareModel downloads modelName into modelDir unless it is already present,
// returning the local model path.
func PrepareModel(modelName, modelDir string) (string, error) {
	modelPath := filepath.Join(modelDir, strings.ReplaceAll(modelName, "/", "_"))
	if _, err := os.Stat(modelPath); err == nil {
		return modelPath, nil
	} else if !os.IsNotExist(err) {
		return "", fmt.Errorf("stat model: %w", err)
	}

	if err := os.MkdirAll(modelDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create model directory: %w", err)
	}
	downloadOptions := hugot.NewDownloadOptions()
	downloadOptions.OnnxFilePath = "onnx/model.onnx"
	downloadedPath, err := hugot.DownloadModel(modelName, modelDir, downloadOptions)
	if err != nil {
		return "", fmt.Errorf("failed to download model: %w", err)
	}
	return downloadedPath, nil
}

// NewHugotProvider loads (downloading if needed) modelName and starts a pipeline.
func NewHugotProvider(modelName, modelDir string, cache *Cache) (*HugotProvider, error) {
	if modelName == "" {
		modelName = DefaultHugotModel
	}
	if modelDir == "" {
		modelDir = "./models"
	}

	modelPath, err := PrepareModel(modelName, modelDir)
	if err != nil {
		return nil, err
	}

	session, err := hugot.NewGoSession()
	if err != nil {
		return nil, fmt.Errorf("failed to create hugot session: %w", err)
	}

	config := hugot.FeatureExtractionConfig{
		ModelPath: modelPath,
		Name:      "coderag-embedder",
	}
	pipeline, err := hugot.NewPipeline(session, config)
	if err != nil {
		if destroyErr := session.Destroy(); destroyErr != nil {
			return nil, fmt.Errorf("failed to create feature pipeline: %w (cleanup error: %v)", err, destroyErr)
		}
		return nil, fmt.Errorf("failed to create feature pipeline: %w", err)
	}

	return &HugotProvider{
		session: session,
		run: func(texts []string) ([][]float32, error) {
			out, err := pipeline.RunPipeline(texts)
			if err != nil {
				return nil, err
			}
			return out.Embeddings, nil
		},
		model:     modelName,
		dimension: LocalDimension,
		cache:     cache,
	}, nil
}

func (h *HugotProvider) GenerateEmbedding(ctx context.Context, req EmbeddingRequest) (*Embedding, error) {
	if err := ValidateRequest(req); err != nil {
		return nil, err
	}

	resp, err := h.GenerateBatch(ctx, BatchEmbeddingRequest{Texts: []string{req.Text}})
	if err != nil {
		return nil, err
	}
	return resp.Embeddings[0], nil
}

func (h *HugotProvider) GenerateBatch(ctx context.Context, req BatchEmbeddingRequest) (*BatchEmbeddingResponse, error) {
	if err := ValidateBatchRequest(req); err != nil {
		return nil, err
	}

	embeddings, err := cachedBatch(h.cache, req.Texts, func(texts []string) ([]*Embedding, error) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		h.mu.Lock()
		vectors, err := h.run(texts)
		if err == nil && len(vectors) > 0 {
			h.dimension = len(vectors[0])
		}
		h.mu.Unlock()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrProviderFailed, err)
		}

		out := make([]*Embedding, len(vectors))
		for i, v := range vectors {
			out[i] = &Embedding{
				Vector:    v,
				Dimension: len(v),
				Provider:  ProviderHugot,
				Model:     h.model,
			}
		}
		return out, nil
	})
	if err != nil {
		return nil, err
	}

	return &BatchEmbeddingResponse{
		Embeddings: embeddings,
		Provider:   ProviderHugot,
		Model:      h.model,
	}, nil
}

func (h *HugotProvider) Dimension() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dimension
}

func (h *HugotProvider) Provider() string {
	return ProviderHugot
}

func (h *HugotProvider) Model() string {
	return h.model
}

func (h *HugotProvider) Close() error {
	if h.session == nil {
		return nil
	}
	return h.session.Destroy()
}
