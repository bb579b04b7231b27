package rag

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"enterprisesearch/pkg/ai"
	"enterprisesearch/pkg/domain"
	"enterprisesearch/pkg/vector"
)

const (
	defaultTopK   = 5
	queryTaskType = "RETRIEVAL_QUERY"
)

// RetrieverConfig wires similarity search over a project index.
type RetrieverConfig struct {
	Embedder ai.Embedder
	Index    *vector.Manager
	// TopK is the default number of passages returned when the caller
	// does not ask for a specific count.
	TopK int
}

// Retriever embeds a query and fetches the closest chunks from the
// project's index.
type Retriever struct {
	embedder ai.Embedder
	index    *vector.Manager
	topK     int
}

// NewRetriever validates config and constructs the retriever.
func NewRetriever(cfg RetrieverConfig) (*Retriever, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index manager required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	return &Retriever{
		embedder: cfg.Embedder,
		index:    cfg.Index,
		topK:     topK,
	}, nil
}

// Retrieve returns up to topK chunks for the query, highest score first.
// A project with no index yields an empty result, not an error.
func (r *Retriever) Retrieve(ctx context.Context, projectID, query string, topK int) ([]domain.RetrievedChunk, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("query required")
	}
	if topK <= 0 {
		topK = r.topK
	}
	embedding, err := r.embedder.EmbedText(ctx, query, queryTaskType)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := r.index.Query(ctx, projectID, embedding, topK)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	chunks := make([]domain.RetrievedChunk, 0, len(matches))
	for _, match := range matches {
		chunks = append(chunks, domain.RetrievedChunk{
			RecordID:     match.ID,
			ProjectID:    match.Metadata.ProjectID,
			DocumentID:   match.Metadata.DocumentID,
			DocumentName: match.Metadata.DocumentName,
			Text:         match.Metadata.Text,
			Score:        match.Score,
		})
	}
	sort.SliceStable(chunks, func(i, j int) bool { return chunks[i].Score > chunks[j].Score })
	return chunks, nil
}
