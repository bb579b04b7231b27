package vector

import (
	"context"
	"errors"
)

// ErrCapacityExceeded is returned when creating an index would exceed the
// configured index-count ceiling.
var ErrCapacityExceeded = errors.New("vector index capacity exceeded")

// IsCapacityExceeded reports whether err is (or wraps) ErrCapacityExceeded.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// Provider is the minimal capability surface of an external vector store.
// Implementations: Pinecone (hosted), pgvector (self-hosted Postgres), and
// an in-memory provider for tests and local development.
type Provider interface {
	// ListIndexes returns the names of all existing indexes.
	ListIndexes(ctx context.Context) ([]string, error)
	// CreateIndex provisions an index with a fixed dimension and metric.
	// Providers deduplicate by name; creating an existing index is not an
	// error.
	CreateIndex(ctx context.Context, name string, dimension int, metric string) error
	// DeleteIndex removes an index and all of its records.
	DeleteIndex(ctx context.Context, name string) error
	// Upsert inserts or overwrites records by id.
	Upsert(ctx context.Context, index string, records []Record) error
	// Query returns up to topK nearest records, highest similarity first.
	Query(ctx context.Context, index string, vec []float32, topK int) ([]Match, error)
	// DeleteRecords removes records by id. Unknown ids are ignored.
	DeleteRecords(ctx context.Context, index string, ids []string) error
}
