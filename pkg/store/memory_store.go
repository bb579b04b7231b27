package store

import (
	"sort"
	"sync"
	"time"

	"enterprisesearch/pkg/domain"
)

// MemoryStore keeps everything in-process. It implements the same Store
// contract as GormStore and backs the test suites.
type MemoryStore struct {
	mu        sync.RWMutex
	projects  map[string]domain.Project
	documents map[string]domain.Document
	messages  map[string][]domain.Message
	order     []string
}

// NewMemoryStore initializes an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		projects:  make(map[string]domain.Project),
		documents: make(map[string]domain.Document),
		messages:  make(map[string][]domain.Message),
	}
}

// SaveProject stores or replaces a project and tracks insertion order.
func (m *MemoryStore) SaveProject(p domain.Project) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.projects[p.ID]; !exists {
		m.order = append(m.order, p.ID)
	}
	m.projects[p.ID] = p
	return nil
}

// GetProject retrieves a project by id.
func (m *MemoryStore) GetProject(id string) (domain.Project, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.projects[id]
	return p, ok, nil
}

// ListProjects returns projects in insertion order.
func (m *MemoryStore) ListProjects() ([]domain.Project, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Project, 0, len(m.order))
	for _, id := range m.order {
		if p, ok := m.projects[id]; ok {
			res = append(res, p)
		}
	}
	return res, nil
}

// SetProjectState updates the lifecycle state.
func (m *MemoryStore) SetProjectState(id string, state domain.ProjectState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.projects[id]
	if !ok {
		return nil
	}
	p.State = state
	p.UpdatedAt = time.Now().UTC()
	m.projects[id] = p
	return nil
}

// DeleteProject removes the project with its documents and messages.
func (m *MemoryStore) DeleteProject(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.projects, id)
	delete(m.messages, id)
	for docID, doc := range m.documents {
		if doc.ProjectID == id {
			delete(m.documents, docID)
		}
	}
	for i, existing := range m.order {
		if existing == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	return nil
}

// SaveDocument stores or replaces a document.
func (m *MemoryStore) SaveDocument(d domain.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.documents[d.ID] = d
	return nil
}

// GetDocument retrieves a document by id.
func (m *MemoryStore) GetDocument(id string) (domain.Document, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.documents[id]
	return d, ok, nil
}

// ListDocumentsByProject returns documents in upload order.
func (m *MemoryStore) ListDocumentsByProject(projectID string) ([]domain.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	res := make([]domain.Document, 0)
	for _, d := range m.documents {
		if d.ProjectID == projectID {
			res = append(res, d)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].UploadedAt.Equal(res[j].UploadedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].UploadedAt.Before(res[j].UploadedAt)
	})
	return res, nil
}

// SetDocumentChunkCount records how many chunk vectors the document has.
func (m *MemoryStore) SetDocumentChunkCount(id string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.documents[id]
	if !ok {
		return nil
	}
	d.ChunkCount = count
	m.documents[id] = d
	return nil
}

// DeleteDocument removes a document.
func (m *MemoryStore) DeleteDocument(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.documents, id)
	return nil
}

// AppendMessage stores a chat message.
func (m *MemoryStore) AppendMessage(msg domain.Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.messages[msg.ProjectID] = append(m.messages[msg.ProjectID], msg)
	return nil
}

// ListMessages returns messages for a project in chronological order.
func (m *MemoryStore) ListMessages(projectID string, limit int) ([]domain.Message, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[projectID]
	res := make([]domain.Message, len(msgs))
	copy(res, msgs)
	sort.SliceStable(res, func(i, j int) bool { return res[i].CreatedAt.Before(res[j].CreatedAt) })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}
