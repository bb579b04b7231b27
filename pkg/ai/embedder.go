package ai

import (
	"context"
	"fmt"
)

// Embedder provides a fixed-width embedding for a text passage.
type Embedder interface {
	EmbedText(ctx context.Context, text, taskType string) ([]float32, error)
	// Dimension is the output width of the underlying model. Every vector
	// written to or queried from an index must match it exactly.
	Dimension() int
}

// BatchEmbedder optionally supports embedding multiple texts at once.
type BatchEmbedder interface {
	EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error)
}

// GeminiEmbedder wraps GeminiClient with a fixed model and dimension.
type GeminiEmbedder struct {
	client     *GeminiClient
	model      string
	dimensions int
}

// NewGeminiEmbedder builds a Gemini-based embedder.
func NewGeminiEmbedder(client *GeminiClient, model string, dimensions int) *GeminiEmbedder {
	if dimensions <= 0 {
		dimensions = 768
	}
	return &GeminiEmbedder{client: client, model: model, dimensions: dimensions}
}

// EmbedText returns the embedding for text.
func (e *GeminiEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	vec, err := e.client.EmbedText(ctx, e.model, text, taskType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vec) != e.dimensions {
		return nil, fmt.Errorf("%w: dimension mismatch: got %d want %d", ErrEmbedding, len(vec), e.dimensions)
	}
	return vec, nil
}

// EmbedTexts returns embeddings for multiple texts in one call.
func (e *GeminiEmbedder) EmbedTexts(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	vecs, err := e.client.EmbedTexts(ctx, e.model, texts, taskType)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d want %d", ErrEmbedding, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("%w: dimension mismatch: got %d want %d", ErrEmbedding, len(vec), e.dimensions)
		}
	}
	return vecs, nil
}

// Dimension implements Embedder.
func (e *GeminiEmbedder) Dimension() int { return e.dimensions }

// OpenAICompatEmbedder wraps an OpenAI-compatible embeddings endpoint with a
// fixed model and dimension.
type OpenAICompatEmbedder struct {
	client     *OpenAICompatClient
	model      string
	dimensions int
}

// NewOpenAICompatEmbedder builds an embedder backed by /v1/embeddings.
func NewOpenAICompatEmbedder(client *OpenAICompatClient, model string, dimensions int) *OpenAICompatEmbedder {
	if dimensions <= 0 {
		dimensions = 1536
	}
	return &OpenAICompatEmbedder{client: client, model: model, dimensions: dimensions}
}

// EmbedText returns the embedding for text. taskType is ignored; the OpenAI
// embeddings API has no equivalent parameter.
func (e *OpenAICompatEmbedder) EmbedText(ctx context.Context, text, taskType string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text}, taskType)
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedTexts returns embeddings for multiple texts in one call.
func (e *OpenAICompatEmbedder) EmbedTexts(ctx context.Context, texts []string, _ string) ([][]float32, error) {
	vecs, err := e.client.Embed(ctx, e.model, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("%w: embedding count mismatch: got %d want %d", ErrEmbedding, len(vecs), len(texts))
	}
	for _, vec := range vecs {
		if len(vec) != e.dimensions {
			return nil, fmt.Errorf("%w: dimension mismatch: got %d want %d", ErrEmbedding, len(vec), e.dimensions)
		}
	}
	return vecs, nil
}

// Dimension implements Embedder.
func (e *OpenAICompatEmbedder) Dimension() int { return e.dimensions }
