package vector

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/pgvector/pgvector-go"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PgVectorProvider implements Provider on Postgres with the pgvector
// extension. It is the self-hosted alternative to Pinecone: "indexes" are
// rows in vector_indexes and records live in one shared table partitioned
// by index name.
type PgVectorProvider struct {
	db        *gorm.DB
	dimension int
}

type vectorIndexModel struct {
	Name      string `gorm:"primaryKey"`
	Dimension int    `gorm:"not null"`
	Metric    string `gorm:"not null"`
}

func (vectorIndexModel) TableName() string { return "vector_indexes" }

type vectorRecordModel struct {
	ID           string          `gorm:"primaryKey"`
	IndexName    string          `gorm:"not null;index"`
	Embedding    pgvector.Vector `gorm:"type:vector"`
	ProjectID    string          `gorm:"not null;index"`
	DocumentID   string          `gorm:"not null;index"`
	Text         string          `gorm:"type:text;not null"`
	ProjectName  string
	DocumentName string
	Seq          int64 `gorm:"autoIncrement;uniqueIndex"`
}

func (vectorRecordModel) TableName() string { return "vector_records" }

// NewPgVectorProvider opens the database, enables the extension and runs
// migrations. dimension fixes the width of the embedding column and must
// match the embedder output.
func NewPgVectorProvider(dsn string, dimension int) (*PgVectorProvider, error) {
	if dimension <= 0 {
		return nil, fmt.Errorf("pgvector provider: dimension required")
	}
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open vector db: %w", err)
	}
	if err := db.Exec("CREATE EXTENSION IF NOT EXISTS vector").Error; err != nil {
		return nil, fmt.Errorf("create pgvector extension: %w", err)
	}
	if err := db.AutoMigrate(&vectorIndexModel{}, &vectorRecordModel{}); err != nil {
		return nil, fmt.Errorf("auto migrate vector tables: %w", err)
	}
	if err := db.Exec(fmt.Sprintf("ALTER TABLE vector_records ALTER COLUMN embedding TYPE vector(%d)", dimension)).Error; err != nil {
		return nil, fmt.Errorf("set embedding dimension: %w", err)
	}
	return &PgVectorProvider{db: db, dimension: dimension}, nil
}

// ListIndexes implements Provider.
func (p *PgVectorProvider) ListIndexes(ctx context.Context) ([]string, error) {
	var names []string
	if err := p.db.WithContext(ctx).Model(&vectorIndexModel{}).Order("name").Pluck("name", &names).Error; err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	return names, nil
}

// CreateIndex implements Provider; duplicate creates are no-ops.
func (p *PgVectorProvider) CreateIndex(ctx context.Context, name string, dimension int, metric string) error {
	if dimension != p.dimension {
		return fmt.Errorf("create index %s: dimension %d does not match provider dimension %d", name, dimension, p.dimension)
	}
	if metric == "" {
		metric = "cosine"
	}
	model := vectorIndexModel{Name: name, Dimension: dimension, Metric: metric}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&model).Error
	if err != nil {
		return fmt.Errorf("create index %s: %w", name, err)
	}
	return nil
}

// DeleteIndex implements Provider.
func (p *PgVectorProvider) DeleteIndex(ctx context.Context, name string) error {
	return p.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("index_name = ?", name).Delete(&vectorRecordModel{}).Error; err != nil {
			return fmt.Errorf("delete index records: %w", err)
		}
		if err := tx.Where("name = ?", name).Delete(&vectorIndexModel{}).Error; err != nil {
			return fmt.Errorf("delete index row: %w", err)
		}
		return nil
	})
}

// Upsert implements Provider.
func (p *PgVectorProvider) Upsert(ctx context.Context, index string, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	if err := p.requireIndex(ctx, index); err != nil {
		return err
	}
	rows := make([]vectorRecordModel, 0, len(records))
	for _, rec := range records {
		if len(rec.Values) != p.dimension {
			return fmt.Errorf("upsert into %s: dimension mismatch: got %d want %d", index, len(rec.Values), p.dimension)
		}
		rows = append(rows, vectorRecordModel{
			ID:           rec.ID,
			IndexName:    index,
			Embedding:    pgvector.NewVector(rec.Values),
			ProjectID:    rec.Metadata.ProjectID,
			DocumentID:   rec.Metadata.DocumentID,
			Text:         rec.Metadata.Text,
			ProjectName:  rec.Metadata.ProjectName,
			DocumentName: rec.Metadata.DocumentName,
		})
	}
	err := p.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(&rows).Error
	if err != nil {
		return fmt.Errorf("upsert into %s: %w", index, err)
	}
	return nil
}

// Query implements Provider. Cosine similarity is 1 minus the pgvector
// cosine distance operator. A missing index yields no matches.
func (p *PgVectorProvider) Query(ctx context.Context, index string, vec []float32, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 5
	}
	if err := p.requireIndex(ctx, index); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("query %s: dimension mismatch: got %d want %d", index, len(vec), p.dimension)
	}

	embedded := pgvector.NewVector(vec)
	type row struct {
		vectorRecordModel
		Score float64
	}
	var rows []row
	err := p.db.WithContext(ctx).
		Table("vector_records").
		Select("*, 1 - (embedding <=> ?) AS score", embedded).
		Where("index_name = ?", index).
		Order(clause.Expr{SQL: "embedding <=> ?, seq", Vars: []any{embedded}}).
		Limit(topK).
		Scan(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", index, err)
	}
	matches := make([]Match, 0, len(rows))
	for _, r := range rows {
		matches = append(matches, Match{
			ID:    r.ID,
			Score: r.Score,
			Metadata: Metadata{
				ProjectID:    r.ProjectID,
				DocumentID:   r.DocumentID,
				Text:         r.Text,
				ProjectName:  r.ProjectName,
				DocumentName: r.DocumentName,
			},
		})
	}
	return matches, nil
}

// DeleteRecords implements Provider.
func (p *PgVectorProvider) DeleteRecords(ctx context.Context, index string, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	err := p.db.WithContext(ctx).
		Where("index_name = ? AND id IN ?", index, ids).
		Delete(&vectorRecordModel{}).Error
	if err != nil {
		return fmt.Errorf("delete records from %s: %w", index, err)
	}
	return nil
}

func (p *PgVectorProvider) requireIndex(ctx context.Context, name string) error {
	var model vectorIndexModel
	err := p.db.WithContext(ctx).Where("name = ?", strings.TrimSpace(name)).First(&model).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("index %s not found: %w", name, err)
		}
		return fmt.Errorf("lookup index %s: %w", name, err)
	}
	return nil
}
