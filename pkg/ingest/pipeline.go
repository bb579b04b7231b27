package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"golang.org/x/sync/errgroup"

	"enterprisesearch/pkg/ai"
	"enterprisesearch/pkg/domain"
	"enterprisesearch/pkg/vector"
)

const (
	defaultChunkSize        = 1000
	defaultChunkOverlap     = 200
	defaultEmbedBatchSize   = 16
	defaultEmbedConcurrency = 4
	embedTaskType           = "RETRIEVAL_DOCUMENT"
)

// PipelineConfig configures document ingestion.
type PipelineConfig struct {
	Embedder         ai.Embedder
	Index            *vector.Manager
	ChunkSize        int
	ChunkOverlap     int
	EmbedBatchSize   int
	EmbedConcurrency int
}

// Pipeline runs Extract -> Chunk -> Embed -> Upsert for one document.
// Per-chunk failures are recorded and skipped; the pipeline keeps going
// with the remaining chunks.
type Pipeline struct {
	embedder         ai.Embedder
	index            *vector.Manager
	chunkSize        int
	chunkOverlap     int
	embedBatchSize   int
	embedConcurrency int
}

// Input carries one uploaded document through the pipeline.
type Input struct {
	ProjectID     string
	ProjectName   string
	DocumentID    string
	DocumentName  string
	FileExtension string
	Content       []byte
}

// NewPipeline validates config and constructs the pipeline.
func NewPipeline(cfg PipelineConfig) (*Pipeline, error) {
	if cfg.Embedder == nil {
		return nil, fmt.Errorf("embedder required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index manager required")
	}
	chunkSize := cfg.ChunkSize
	if chunkSize <= 0 {
		chunkSize = defaultChunkSize
	}
	chunkOverlap := cfg.ChunkOverlap
	if chunkOverlap < 0 || chunkOverlap >= chunkSize {
		chunkOverlap = defaultChunkOverlap
		if chunkOverlap >= chunkSize {
			chunkOverlap = chunkSize / 4
		}
	}
	embedBatchSize := cfg.EmbedBatchSize
	if embedBatchSize <= 0 {
		embedBatchSize = defaultEmbedBatchSize
	}
	embedConcurrency := cfg.EmbedConcurrency
	if embedConcurrency <= 0 {
		embedConcurrency = defaultEmbedConcurrency
	}
	return &Pipeline{
		embedder:         cfg.Embedder,
		index:            cfg.Index,
		chunkSize:        chunkSize,
		chunkOverlap:     chunkOverlap,
		embedBatchSize:   embedBatchSize,
		embedConcurrency: embedConcurrency,
	}, nil
}

// chunkOutcome is the per-chunk result the pipeline aggregates instead of
// aborting on the first failure.
type chunkOutcome struct {
	vec []float32
	err error
}

// Ingest runs the full pipeline for one document and reports what happened.
// The returned error covers only infrastructure failures that prevented the
// run entirely; extraction and per-chunk problems land in the report.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (domain.IngestReport, error) {
	report := domain.IngestReport{DocumentID: in.DocumentID}
	if !CanExtract(in.FileExtension) {
		slog.Info("skipping vectorization for non-extractable type",
			"document_id", in.DocumentID, "extension", in.FileExtension)
		return report, nil
	}

	sections, err := ExtractText(in.Content, in.FileExtension)
	if err != nil {
		slog.Warn("document extraction failed; storing without chunks",
			"document_id", in.DocumentID, "err", err)
		report.Errors = append(report.Errors, err.Error())
		return report, nil
	}
	text := NormalizeText(strings.Join(sections, "\n"))
	chunks := ChunkAll(text, p.chunkSize, p.chunkOverlap)
	report.ChunksAttempted = len(chunks)
	if len(chunks) == 0 {
		return report, nil
	}

	outcomes := p.embedChunks(ctx, chunks)

	records := make([]vector.Record, 0, len(chunks))
	for i, outcome := range outcomes {
		if outcome.err != nil {
			report.Errors = append(report.Errors, fmt.Sprintf("chunk %d: %v", i, outcome.err))
			continue
		}
		records = append(records, vector.Record{
			ID:     vector.RecordID(in.ProjectID, in.DocumentID, i),
			Values: outcome.vec,
			Metadata: vector.Metadata{
				ProjectID:    in.ProjectID,
				DocumentID:   in.DocumentID,
				Text:         chunks[i],
				ProjectName:  in.ProjectName,
				DocumentName: in.DocumentName,
			},
		})
	}

	report.ChunksSucceeded = p.upsert(ctx, in.ProjectID, records, &report)
	return report, nil
}

// embedChunks embeds every chunk with bounded concurrency, preferring the
// batch API when the embedder supports it. Failures are captured per chunk.
func (p *Pipeline) embedChunks(ctx context.Context, chunks []string) []chunkOutcome {
	outcomes := make([]chunkOutcome, len(chunks))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.embedConcurrency)
	batcher, hasBatch := p.embedder.(ai.BatchEmbedder)
	for start := 0; start < len(chunks); start += p.embedBatchSize {
		end := start + p.embedBatchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		start, end := start, end
		g.Go(func() error {
			batch := chunks[start:end]
			if hasBatch && len(batch) > 1 {
				vecs, err := batcher.EmbedTexts(gctx, batch, embedTaskType)
				if err == nil {
					for i, vec := range vecs {
						outcomes[start+i] = chunkOutcome{vec: vec}
					}
					return nil
				}
				// Fall through to one-by-one so a single bad chunk
				// cannot sink the whole batch.
			}
			for i, text := range batch {
				vec, err := p.embedder.EmbedText(gctx, text, embedTaskType)
				outcomes[start+i] = chunkOutcome{vec: vec, err: err}
			}
			return nil
		})
	}
	_ = g.Wait()
	return outcomes
}

// upsert writes records in provider-sized batches, continuing past a failed
// batch; earlier batches stay in place and retries are safe because records
// are idempotent by id.
func (p *Pipeline) upsert(ctx context.Context, projectID string, records []vector.Record, report *domain.IngestReport) int {
	succeeded := 0
	batchSize := p.index.BatchSize()
	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		if err := p.index.Upsert(ctx, projectID, records[start:end]); err != nil {
			slog.Warn("vector upsert batch failed",
				"project_id", projectID, "from", start, "to", end, "err", err)
			report.Errors = append(report.Errors, fmt.Sprintf("upsert %d-%d: %v", start, end, err))
			continue
		}
		succeeded += end - start
	}
	return succeeded
}
