package vector

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
)

const (
	defaultMaxIndexes  = 5
	defaultUpsertBatch = 100
	cosineMetric       = "cosine"
)

// ManagerConfig configures the per-project index manager.
type ManagerConfig struct {
	Provider Provider
	// Dimension is the embedding width fixed at index creation.
	Dimension int
	// MaxIndexes caps how many indexes may exist system-wide.
	MaxIndexes int
	// UpsertBatch caps records per upsert call to respect provider
	// payload limits.
	UpsertBatch int
}

// Manager owns the one-index-per-project lifecycle and scopes record
// operations to a project. Index creation is at-least-once: the existence
// check and the create call are not atomic, and concurrent creations for
// the same project rely on the provider deduplicating by name.
type Manager struct {
	provider    Provider
	dimension   int
	maxIndexes  int
	upsertBatch int
}

// NewManager validates config and constructs the manager.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.Provider == nil {
		return nil, fmt.Errorf("vector provider required")
	}
	if cfg.Dimension <= 0 {
		return nil, fmt.Errorf("embedding dimension required")
	}
	maxIndexes := cfg.MaxIndexes
	if maxIndexes <= 0 {
		maxIndexes = defaultMaxIndexes
	}
	upsertBatch := cfg.UpsertBatch
	if upsertBatch <= 0 {
		upsertBatch = defaultUpsertBatch
	}
	return &Manager{
		provider:    cfg.Provider,
		dimension:   cfg.Dimension,
		maxIndexes:  maxIndexes,
		upsertBatch: upsertBatch,
	}, nil
}

// Dimension returns the embedding width indexes are created with.
func (m *Manager) Dimension() int { return m.dimension }

// BatchSize returns the per-call record cap for Upsert.
func (m *Manager) BatchSize() int { return m.upsertBatch }

// EnsureIndex creates the project's index if it does not exist yet.
// Returns ErrCapacityExceeded when creating would exceed the ceiling.
func (m *Manager) EnsureIndex(ctx context.Context, projectID string) error {
	projectID = strings.TrimSpace(projectID)
	if projectID == "" {
		return fmt.Errorf("project id required")
	}
	name := IndexName(projectID)
	existing, err := m.provider.ListIndexes(ctx)
	if err != nil {
		return fmt.Errorf("list indexes: %w", err)
	}
	for _, idx := range existing {
		if idx == name {
			return nil
		}
	}
	if len(existing) >= m.maxIndexes {
		return fmt.Errorf("%w: %d of %d indexes in use", ErrCapacityExceeded, len(existing), m.maxIndexes)
	}
	if err := m.provider.CreateIndex(ctx, name, m.dimension, cosineMetric); err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// HasIndex reports whether the project's index exists.
func (m *Manager) HasIndex(ctx context.Context, projectID string) (bool, error) {
	existing, err := m.provider.ListIndexes(ctx)
	if err != nil {
		return false, fmt.Errorf("list indexes: %w", err)
	}
	name := IndexName(projectID)
	for _, idx := range existing {
		if idx == name {
			return true, nil
		}
	}
	return false, nil
}

// Upsert writes records to the project's index in batches. Batches are not
// transactional: a failing batch does not roll back earlier ones, and since
// records are idempotent by id the whole call is safe to retry.
func (m *Manager) Upsert(ctx context.Context, projectID string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	name := IndexName(projectID)
	for start := 0; start < len(records); start += m.upsertBatch {
		end := start + m.upsertBatch
		if end > len(records) {
			end = len(records)
		}
		if err := m.provider.Upsert(ctx, name, records[start:end]); err != nil {
			return fmt.Errorf("upsert batch %d-%d into %s: %w", start, end, name, err)
		}
	}
	return nil
}

// Query returns up to topK nearest records for the project. A project with
// no index yet yields an empty result, not an error.
func (m *Manager) Query(ctx context.Context, projectID string, vec []float32, topK int) ([]Match, error) {
	ok, err := m.HasIndex(ctx, projectID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	matches, err := m.provider.Query(ctx, IndexName(projectID), vec, topK)
	if err != nil {
		return nil, fmt.Errorf("query index %s: %w", IndexName(projectID), err)
	}
	return matches, nil
}

// DeleteRecords removes the given record ids from the project's index.
func (m *Manager) DeleteRecords(ctx context.Context, projectID string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := m.provider.DeleteRecords(ctx, IndexName(projectID), ids); err != nil {
		return fmt.Errorf("delete records from %s: %w", IndexName(projectID), err)
	}
	return nil
}

// DeleteIndex removes the project's index. Callers treat failures as
// non-fatal and schedule cleanup retries.
func (m *Manager) DeleteIndex(ctx context.Context, projectID string) error {
	name := IndexName(projectID)
	if err := m.provider.DeleteIndex(ctx, name); err != nil {
		slog.Warn("vector index delete failed", "index", name, "err", err)
		return fmt.Errorf("delete index %s: %w", name, err)
	}
	return nil
}
