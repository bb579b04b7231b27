package ai

import "errors"

var (
	// ErrEmbedding marks embedding-provider failures (timeout, quota,
	// malformed response). Callers skip the chunk during ingestion and
	// abort during query-time retrieval.
	ErrEmbedding = errors.New("embedding failed")

	// ErrGeneration marks LLM failures, including empty completions.
	ErrGeneration = errors.New("generation failed")
)
