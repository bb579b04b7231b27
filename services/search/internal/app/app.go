package app

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"enterprisesearch/pkg/domain"
	"enterprisesearch/pkg/ingest"
	"enterprisesearch/pkg/queue"
	"enterprisesearch/pkg/rag"
	"enterprisesearch/pkg/storage"
	"enterprisesearch/pkg/store"
	"enterprisesearch/pkg/vector"
)

const refusalMessage = "I'm sorry, but I can't help with that."

// CleanupEnqueuer schedules retries for external-state deletions that failed
// on the request path.
type CleanupEnqueuer interface {
	Enqueue(ctx context.Context, task queue.Task) (queue.TaskStatus, error)
}

// Config holds the injected collaborators for the core application.
type Config struct {
	Store     store.Store
	Objects   storage.ObjectStore
	Index     *vector.Manager
	Pipeline  *ingest.Pipeline
	Retriever *rag.Retriever
	Guard     *rag.Guard
	Answerer  *rag.Answerer
	// Cleanup is optional; without it failed deletions are only logged.
	Cleanup           CleanupEnqueuer
	TopK              int
	AllowedExtensions []string
	PresignExpiry     time.Duration
}

// App is the core application service wiring storage, ingestion, and chat.
type App struct {
	store         store.Store
	objects       storage.ObjectStore
	index         *vector.Manager
	pipeline      *ingest.Pipeline
	retriever     *rag.Retriever
	guard         *rag.Guard
	answerer      *rag.Answerer
	cleanup       CleanupEnqueuer
	topK          int
	allowedExts   map[string]bool
	presignExpiry time.Duration
}

// New validates config and constructs the application.
func New(cfg Config) (*App, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("store required")
	}
	if cfg.Objects == nil {
		return nil, fmt.Errorf("object store required")
	}
	if cfg.Index == nil {
		return nil, fmt.Errorf("vector index manager required")
	}
	if cfg.Pipeline == nil {
		return nil, fmt.Errorf("ingestion pipeline required")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("retriever required")
	}
	if cfg.Guard == nil {
		return nil, fmt.Errorf("intent guard required")
	}
	if cfg.Answerer == nil {
		return nil, fmt.Errorf("answerer required")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = 5
	}
	presignExpiry := cfg.PresignExpiry
	if presignExpiry <= 0 {
		presignExpiry = 15 * time.Minute
	}
	var allowedExts map[string]bool
	if len(cfg.AllowedExtensions) > 0 {
		allowedExts = make(map[string]bool, len(cfg.AllowedExtensions))
		for _, ext := range cfg.AllowedExtensions {
			ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
			if ext != "" {
				allowedExts[ext] = true
			}
		}
	}
	return &App{
		store:         cfg.Store,
		objects:       cfg.Objects,
		index:         cfg.Index,
		pipeline:      cfg.Pipeline,
		retriever:     cfg.Retriever,
		guard:         cfg.Guard,
		answerer:      cfg.Answerer,
		cleanup:       cfg.Cleanup,
		topK:          topK,
		allowedExts:   allowedExts,
		presignExpiry: presignExpiry,
	}, nil
}

// CreateProject registers a new project and provisions its vector index.
func (a *App) CreateProject(ctx context.Context, name, description string, accessType domain.AccessType, groupIDs []string) (domain.Project, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return domain.Project{}, fmt.Errorf("project name required")
	}
	switch accessType {
	case "":
		accessType = domain.AccessRestricted
	case domain.AccessPublic, domain.AccessRestricted:
	default:
		return domain.Project{}, fmt.Errorf("unknown access type: %s", accessType)
	}
	id := uuid.NewString()
	if err := a.index.EnsureIndex(ctx, id); err != nil {
		return domain.Project{}, fmt.Errorf("provision index: %w", err)
	}
	now := time.Now().UTC()
	project := domain.Project{
		ID:          id,
		Name:        name,
		Description: strings.TrimSpace(description),
		AccessType:  accessType,
		State:       domain.StateDraft,
		GroupIDs:    groupIDs,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := a.store.SaveProject(project); err != nil {
		if deleteErr := a.index.DeleteIndex(ctx, id); deleteErr != nil {
			a.enqueueCleanup(ctx, queue.Task{Kind: queue.KindDeleteIndex, ProjectID: id})
		}
		return domain.Project{}, fmt.Errorf("save project: %w", err)
	}
	return project, nil
}

// ListProjects returns the projects visible to the user.
func (a *App) ListProjects(ctx context.Context, user domain.User) ([]domain.Project, error) {
	projects, err := a.store.ListProjects()
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	visible := make([]domain.Project, 0, len(projects))
	for _, project := range projects {
		if canAccess(user, project) {
			visible = append(visible, project)
		}
	}
	return visible, nil
}

// GetProject returns one project the user can access.
func (a *App) GetProject(ctx context.Context, user domain.User, id string) (domain.Project, error) {
	return a.accessibleProject(user, id)
}

// PublishProject transitions a draft project to the published state.
func (a *App) PublishProject(ctx context.Context, user domain.User, id string) (domain.Project, error) {
	project, err := a.accessibleProject(user, id)
	if err != nil {
		return domain.Project{}, err
	}
	if project.State == domain.StatePublished {
		return project, nil
	}
	if err := a.store.SetProjectState(id, domain.StatePublished); err != nil {
		return domain.Project{}, fmt.Errorf("publish project: %w", err)
	}
	project.State = domain.StatePublished
	project.UpdatedAt = time.Now().UTC()
	return project, nil
}

// DeleteProject removes the project with its documents, messages, vector
// index, and stored files. External deletions are best-effort; failures are
// queued for retry.
func (a *App) DeleteProject(ctx context.Context, user domain.User, id string) error {
	project, err := a.accessibleProject(user, id)
	if err != nil {
		return err
	}
	documents, err := a.store.ListDocumentsByProject(project.ID)
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}
	if err := a.store.DeleteProject(project.ID); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	if err := a.index.DeleteIndex(ctx, project.ID); err != nil {
		a.enqueueCleanup(ctx, queue.Task{Kind: queue.KindDeleteIndex, ProjectID: project.ID})
	}
	for _, doc := range documents {
		if doc.StorageKey == "" {
			continue
		}
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			a.enqueueCleanup(ctx, queue.Task{Kind: queue.KindDeleteObject, ObjectKey: doc.StorageKey})
		}
	}
	return nil
}

// UploadDocument stores the file, registers the document, and ingests it
// into the project's vector index. Partial ingestion returns a report, not
// an error: the document row stays regardless of how many chunks landed.
func (a *App) UploadDocument(ctx context.Context, user domain.User, projectID, filename string, r io.Reader, size int64) (domain.Document, domain.IngestReport, error) {
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return domain.Document{}, domain.IngestReport{}, err
	}
	filename = filepath.Base(strings.TrimSpace(filename))
	if filename == "" || filename == "." {
		return domain.Document{}, domain.IngestReport{}, fmt.Errorf("filename required")
	}
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(filename), "."))
	if a.allowedExts != nil && !a.allowedExts[ext] {
		return domain.Document{}, domain.IngestReport{}, fmt.Errorf("%w: .%s", ErrUnsupportedFileType, ext)
	}
	content, err := io.ReadAll(r)
	if err != nil {
		return domain.Document{}, domain.IngestReport{}, fmt.Errorf("read upload: %w", err)
	}
	if size <= 0 {
		size = int64(len(content))
	}

	id := uuid.NewString()
	key := storage.DocumentKey(project.ID, id, filename)
	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(filename)))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	if err := a.objects.Put(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		return domain.Document{}, domain.IngestReport{}, fmt.Errorf("save file: %w", err)
	}
	doc := domain.Document{
		ID:            id,
		ProjectID:     project.ID,
		Name:          filename,
		DocumentType:  ext,
		FileExtension: ext,
		SizeBytes:     size,
		StorageKey:    key,
		UploadedAt:    time.Now().UTC(),
	}
	if err := a.store.SaveDocument(doc); err != nil {
		if deleteErr := a.objects.Delete(ctx, key); deleteErr != nil {
			a.enqueueCleanup(ctx, queue.Task{Kind: queue.KindDeleteObject, ObjectKey: key})
		}
		return domain.Document{}, domain.IngestReport{}, fmt.Errorf("save document: %w", err)
	}

	report, err := a.pipeline.Ingest(ctx, ingest.Input{
		ProjectID:     project.ID,
		ProjectName:   project.Name,
		DocumentID:    doc.ID,
		DocumentName:  doc.Name,
		FileExtension: ext,
		Content:       content,
	})
	if err != nil {
		// The document row stays; ingestion can be retried by re-upload.
		report.DocumentID = doc.ID
		report.Errors = append(report.Errors, err.Error())
		slog.Error("document ingestion failed", "document_id", doc.ID, "err", err)
	}
	// Chunk record ids run 0..attempted-1; persisting the attempted count
	// lets deletion reconstruct every id even when some chunks failed.
	doc.ChunkCount = report.ChunksAttempted
	if err := a.store.SetDocumentChunkCount(doc.ID, doc.ChunkCount); err != nil {
		// An untracked count would orphan the just-written vectors on a
		// later delete, so they are scheduled for removal instead.
		slog.Warn("persist chunk count failed", "document_id", doc.ID, "err", err)
		if ids := vector.DocumentRecordIDs(doc.ProjectID, doc.ID, report.ChunksAttempted); len(ids) > 0 {
			a.enqueueCleanup(ctx, queue.Task{
				Kind:      queue.KindDeleteRecords,
				ProjectID: doc.ProjectID,
				RecordIDs: ids,
			})
		}
		doc.ChunkCount = 0
		report.Errors = append(report.Errors, fmt.Sprintf("persist chunk count: %v", err))
	}
	return doc, report, nil
}

// ListDocuments returns the project's documents in upload order.
func (a *App) ListDocuments(ctx context.Context, user domain.User, projectID string) ([]domain.Document, error) {
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return nil, err
	}
	documents, err := a.store.ListDocumentsByProject(project.ID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	return documents, nil
}

// GetDocumentURL returns a pre-signed download URL and the original name.
func (a *App) GetDocumentURL(ctx context.Context, user domain.User, projectID, documentID string) (string, string, error) {
	doc, err := a.projectDocument(user, projectID, documentID)
	if err != nil {
		return "", "", err
	}
	if doc.StorageKey == "" {
		return "", "", fmt.Errorf("storage key missing")
	}
	url, err := a.objects.PresignGet(ctx, doc.StorageKey, a.presignExpiry)
	if err != nil {
		return "", "", fmt.Errorf("presign download: %w", err)
	}
	return url, doc.Name, nil
}

// DeleteDocument removes the document row, its chunk vectors, and its file.
func (a *App) DeleteDocument(ctx context.Context, user domain.User, projectID, documentID string) error {
	doc, err := a.projectDocument(user, projectID, documentID)
	if err != nil {
		return err
	}
	recordIDs := vector.DocumentRecordIDs(doc.ProjectID, doc.ID, doc.ChunkCount)
	if len(recordIDs) > 0 {
		if err := a.index.DeleteRecords(ctx, doc.ProjectID, recordIDs); err != nil {
			a.enqueueCleanup(ctx, queue.Task{
				Kind:      queue.KindDeleteRecords,
				ProjectID: doc.ProjectID,
				RecordIDs: recordIDs,
			})
		}
	}
	if doc.StorageKey != "" {
		if err := a.objects.Delete(ctx, doc.StorageKey); err != nil {
			a.enqueueCleanup(ctx, queue.Task{Kind: queue.KindDeleteObject, ObjectKey: doc.StorageKey})
		}
	}
	if err := a.store.DeleteDocument(doc.ID); err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	return nil
}

// Chat answers a question against a published project. The user message is
// always persisted; rejected queries get a persisted refusal instead of a
// generated answer.
func (a *App) Chat(ctx context.Context, user domain.User, projectID, question string) (domain.Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return domain.Answer{}, fmt.Errorf("question required")
	}
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return domain.Answer{}, err
	}
	if project.State != domain.StatePublished {
		return domain.Answer{}, ErrProjectNotPublished
	}
	if err := a.appendMessage(project.ID, user.ID, domain.RoleUser, question); err != nil {
		return domain.Answer{}, err
	}

	decision, err := a.guard.Validate(ctx, project.ID, question)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("validate query: %w", err)
	}
	if !decision.Allowed {
		slog.Info("query rejected", "project_id", project.ID, "reason", decision.Reason)
		answer := domain.Answer{
			ProjectID: project.ID,
			Question:  question,
			Response:  refusalMessage,
			CreatedAt: time.Now().UTC(),
		}
		if err := a.appendMessage(project.ID, user.ID, domain.RoleAssistant, answer.Response); err != nil {
			return domain.Answer{}, err
		}
		return answer, nil
	}

	chunks, err := a.retriever.Retrieve(ctx, project.ID, question, a.topK)
	if err != nil {
		return domain.Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	answer, err := a.answerer.Answer(ctx, project.ID, question, chunks)
	if err != nil {
		return domain.Answer{}, err
	}
	if err := a.appendMessage(project.ID, user.ID, domain.RoleAssistant, answer.Response); err != nil {
		return domain.Answer{}, err
	}
	return answer, nil
}

// ListMessages returns the project's chat history in chronological order.
func (a *App) ListMessages(ctx context.Context, user domain.User, projectID string, limit int) ([]domain.Message, error) {
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return nil, err
	}
	if limit <= 0 || limit > 500 {
		limit = 200
	}
	messages, err := a.store.ListMessages(project.ID, limit)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

// ValidateQuery screens a query and, when it passes, answers it without
// touching the chat history.
func (a *App) ValidateQuery(ctx context.Context, user domain.User, projectID, query string) (rag.Decision, domain.Answer, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return rag.Decision{}, domain.Answer{}, fmt.Errorf("query required")
	}
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return rag.Decision{}, domain.Answer{}, err
	}
	decision, err := a.guard.Validate(ctx, project.ID, query)
	if err != nil {
		return rag.Decision{}, domain.Answer{}, fmt.Errorf("validate query: %w", err)
	}
	if !decision.Allowed {
		return decision, domain.Answer{}, nil
	}
	chunks, err := a.retriever.Retrieve(ctx, project.ID, query, a.topK)
	if err != nil {
		return rag.Decision{}, domain.Answer{}, fmt.Errorf("retrieve context: %w", err)
	}
	answer, err := a.answerer.Answer(ctx, project.ID, query, chunks)
	if err != nil {
		return rag.Decision{}, domain.Answer{}, err
	}
	return decision, answer, nil
}

// CleanupHandler returns the worker callback that retries failed deletions.
func (a *App) CleanupHandler() func(context.Context, queue.Task) error {
	return func(ctx context.Context, task queue.Task) error {
		switch task.Kind {
		case queue.KindDeleteIndex:
			return a.index.DeleteIndex(ctx, task.ProjectID)
		case queue.KindDeleteRecords:
			return a.index.DeleteRecords(ctx, task.ProjectID, task.RecordIDs)
		case queue.KindDeleteObject:
			return a.objects.Delete(ctx, task.ObjectKey)
		default:
			slog.Warn("unknown cleanup task kind", "kind", task.Kind)
			return nil
		}
	}
}

func (a *App) appendMessage(projectID, userID string, role domain.MessageRole, content string) error {
	if err := a.store.AppendMessage(domain.Message{
		ID:        uuid.NewString(),
		ProjectID: projectID,
		UserID:    userID,
		Role:      role,
		Content:   content,
		CreatedAt: time.Now().UTC(),
	}); err != nil {
		return fmt.Errorf("save %s message: %w", role, err)
	}
	return nil
}

func (a *App) accessibleProject(user domain.User, id string) (domain.Project, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Project{}, ErrProjectNotFound
	}
	project, ok, err := a.store.GetProject(id)
	if err != nil {
		return domain.Project{}, fmt.Errorf("load project: %w", err)
	}
	if !ok {
		return domain.Project{}, ErrProjectNotFound
	}
	if !canAccess(user, project) {
		return domain.Project{}, ErrProjectForbidden
	}
	return project, nil
}

func (a *App) projectDocument(user domain.User, projectID, documentID string) (domain.Document, error) {
	project, err := a.accessibleProject(user, projectID)
	if err != nil {
		return domain.Document{}, err
	}
	doc, ok, err := a.store.GetDocument(documentID)
	if err != nil {
		return domain.Document{}, fmt.Errorf("load document: %w", err)
	}
	if !ok || doc.ProjectID != project.ID {
		return domain.Document{}, ErrDocumentNotFound
	}
	return doc, nil
}

func (a *App) enqueueCleanup(ctx context.Context, task queue.Task) {
	if a.cleanup == nil {
		slog.Warn("cleanup not configured, dropping task", "kind", task.Kind)
		return
	}
	if _, err := a.cleanup.Enqueue(ctx, task); err != nil {
		slog.Error("enqueue cleanup task failed", "kind", task.Kind, "err", err)
	}
}

func canAccess(user domain.User, project domain.Project) bool {
	if project.AccessType == domain.AccessPublic {
		return true
	}
	if len(project.GroupIDs) == 0 {
		return true
	}
	for _, group := range project.GroupIDs {
		for _, userGroup := range user.Groups {
			if group == userGroup {
				return true
			}
		}
	}
	return false
}
