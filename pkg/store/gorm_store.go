package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"enterprisesearch/pkg/domain"
)

const migrateLockID int64 = 84118411

// GormStore implements Store using GORM + Postgres.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore opens the DB and runs auto-migrations under an advisory lock
// so concurrent replicas do not race each other.
func NewGormStore(dsn string) (*GormStore, error) {
	gormLog := gormlogger.New(
		log.New(os.Stdout, "\r\n", log.LstdFlags),
		gormlogger.Config{
			SlowThreshold:             time.Second,
			LogLevel:                  gormlogger.Warn,
			IgnoreRecordNotFoundError: true,
			Colorful:                  false,
		},
	)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: gormLog})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := withMigrationLock(db, func(tx *gorm.DB) error {
		if err := tx.AutoMigrate(&ProjectModel{}, &DocumentModel{}, &MessageModel{}); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}
		if err := tx.Exec(`
			DO $$
			BEGIN
				DELETE FROM document_models d
				WHERE NOT EXISTS (SELECT 1 FROM project_models p WHERE p.id = d.project_id);
				DELETE FROM message_models m
				WHERE NOT EXISTS (SELECT 1 FROM project_models p WHERE p.id = m.project_id);
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'document_models'
					AND constraint_name = 'document_models_project_id_fkey'
				) THEN
					ALTER TABLE document_models
					ADD CONSTRAINT document_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
				IF NOT EXISTS (
					SELECT 1 FROM information_schema.table_constraints
					WHERE table_schema = 'public'
					AND table_name = 'message_models'
					AND constraint_name = 'message_models_project_id_fkey'
				) THEN
					ALTER TABLE message_models
					ADD CONSTRAINT message_models_project_id_fkey
					FOREIGN KEY (project_id) REFERENCES project_models(id) ON DELETE CASCADE;
				END IF;
			END $$;
		`).Error; err != nil {
			return fmt.Errorf("ensure project foreign keys: %w", err)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	return &GormStore{db: db}, nil
}

func withMigrationLock(db *gorm.DB, fn func(*gorm.DB) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("get sql db: %w", err)
	}
	conn, err := sqlDB.Conn(ctx)
	if err != nil {
		return fmt.Errorf("open sql conn: %w", err)
	}
	defer conn.Close()
	if err := execAdvisory(ctx, conn, "SELECT pg_advisory_lock($1)", migrateLockID); err != nil {
		return fmt.Errorf("acquire migrate lock: %w", err)
	}
	defer func() {
		_ = execAdvisory(ctx, conn, "SELECT pg_advisory_unlock($1)", migrateLockID)
	}()
	return fn(db)
}

func execAdvisory(ctx context.Context, conn *sql.Conn, query string, lockID int64) error {
	_, err := conn.ExecContext(ctx, query, lockID)
	return err
}

// SaveProject creates or updates a project.
func (s *GormStore) SaveProject(p domain.Project) error {
	model, err := projectToModel(p)
	if err != nil {
		return err
	}
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "description", "access_type", "state", "group_ids", "updated_at"}),
	}).Create(&model).Error
}

// GetProject retrieves a project.
func (s *GormStore) GetProject(id string) (domain.Project, bool, error) {
	var model ProjectModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Project{}, false, nil
		}
		return domain.Project{}, false, err
	}
	project, err := projectFromModel(model)
	if err != nil {
		return domain.Project{}, false, err
	}
	return project, true, nil
}

// ListProjects returns all projects ordered by created_at.
func (s *GormStore) ListProjects() ([]domain.Project, error) {
	var models []ProjectModel
	if err := s.db.Order("created_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Project, 0, len(models))
	for _, m := range models {
		project, err := projectFromModel(m)
		if err != nil {
			return nil, err
		}
		res = append(res, project)
	}
	return res, nil
}

// SetProjectState updates the lifecycle state.
func (s *GormStore) SetProjectState(id string, state domain.ProjectState) error {
	return s.db.Model(&ProjectModel{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"state":      string(state),
			"updated_at": time.Now().UTC(),
		}).Error
}

// DeleteProject removes the project row; documents and messages go with it
// via the FK cascade.
func (s *GormStore) DeleteProject(id string) error {
	return s.db.Delete(&ProjectModel{}, "id = ?", id).Error
}

// SaveDocument creates or updates a document.
func (s *GormStore) SaveDocument(d domain.Document) error {
	model := documentToModel(d)
	return s.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "document_type", "file_extension", "size_bytes", "storage_url", "storage_key", "chunk_count"}),
	}).Create(&model).Error
}

// GetDocument retrieves a document.
func (s *GormStore) GetDocument(id string) (domain.Document, bool, error) {
	var model DocumentModel
	if err := s.db.First(&model, "id = ?", id).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return domain.Document{}, false, nil
		}
		return domain.Document{}, false, err
	}
	return documentFromModel(model), true, nil
}

// ListDocumentsByProject returns documents in upload order.
func (s *GormStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	var models []DocumentModel
	if err := s.db.Where("project_id = ?", projectID).Order("uploaded_at ASC").Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Document, 0, len(models))
	for _, m := range models {
		res = append(res, documentFromModel(m))
	}
	return res, nil
}

// SetDocumentChunkCount records how many chunk vectors the document has.
func (s *GormStore) SetDocumentChunkCount(id string, count int) error {
	return s.db.Model(&DocumentModel{}).
		Where("id = ?", id).
		Update("chunk_count", count).Error
}

// DeleteDocument removes a document row.
func (s *GormStore) DeleteDocument(id string) error {
	return s.db.Delete(&DocumentModel{}, "id = ?", id).Error
}

// AppendMessage stores a chat message.
func (s *GormStore) AppendMessage(msg domain.Message) error {
	model := messageToModel(msg)
	return s.db.Create(&model).Error
}

// ListMessages returns messages for a project in chronological order.
func (s *GormStore) ListMessages(projectID string, limit int) ([]domain.Message, error) {
	var models []MessageModel
	tx := s.db.Where("project_id = ?", projectID).Order("created_at ASC, id ASC")
	if limit > 0 {
		tx = tx.Limit(limit)
	}
	if err := tx.Find(&models).Error; err != nil {
		return nil, err
	}
	res := make([]domain.Message, 0, len(models))
	for _, m := range models {
		res = append(res, messageFromModel(m))
	}
	return res, nil
}

func projectToModel(p domain.Project) (ProjectModel, error) {
	groups, err := json.Marshal(p.GroupIDs)
	if err != nil {
		return ProjectModel{}, fmt.Errorf("marshal group ids: %w", err)
	}
	return ProjectModel{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		AccessType:  string(p.AccessType),
		State:       string(p.State),
		GroupIDs:    datatypes.JSON(groups),
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}, nil
}

func projectFromModel(m ProjectModel) (domain.Project, error) {
	var groups []string
	if len(m.GroupIDs) > 0 {
		if err := json.Unmarshal(m.GroupIDs, &groups); err != nil {
			return domain.Project{}, fmt.Errorf("unmarshal group ids: %w", err)
		}
	}
	return domain.Project{
		ID:          m.ID,
		Name:        m.Name,
		Description: m.Description,
		AccessType:  domain.AccessType(m.AccessType),
		State:       domain.ProjectState(m.State),
		GroupIDs:    groups,
		CreatedAt:   m.CreatedAt,
		UpdatedAt:   m.UpdatedAt,
	}, nil
}

func documentToModel(d domain.Document) DocumentModel {
	return DocumentModel{
		ID:            d.ID,
		ProjectID:     d.ProjectID,
		Name:          d.Name,
		DocumentType:  d.DocumentType,
		FileExtension: d.FileExtension,
		SizeBytes:     d.SizeBytes,
		StorageURL:    d.StorageURL,
		StorageKey:    d.StorageKey,
		ChunkCount:    d.ChunkCount,
		UploadedAt:    d.UploadedAt,
	}
}

func documentFromModel(m DocumentModel) domain.Document {
	return domain.Document{
		ID:            m.ID,
		ProjectID:     m.ProjectID,
		Name:          m.Name,
		DocumentType:  m.DocumentType,
		FileExtension: m.FileExtension,
		SizeBytes:     m.SizeBytes,
		StorageURL:    m.StorageURL,
		StorageKey:    m.StorageKey,
		ChunkCount:    m.ChunkCount,
		UploadedAt:    m.UploadedAt,
	}
}

func messageToModel(m domain.Message) MessageModel {
	return MessageModel{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      string(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}

func messageFromModel(m MessageModel) domain.Message {
	return domain.Message{
		ID:        m.ID,
		ProjectID: m.ProjectID,
		UserID:    m.UserID,
		Role:      domain.MessageRole(m.Role),
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
