package store

import (
	"enterprisesearch/pkg/domain"
)

// Store defines persistence operations for projects, documents, and chat
// messages.
type Store interface {
	// projects
	SaveProject(domain.Project) error
	GetProject(id string) (domain.Project, bool, error)
	ListProjects() ([]domain.Project, error)
	SetProjectState(id string, state domain.ProjectState) error
	DeleteProject(id string) error

	// documents
	SaveDocument(domain.Document) error
	GetDocument(id string) (domain.Document, bool, error)
	ListDocumentsByProject(projectID string) ([]domain.Document, error)
	SetDocumentChunkCount(id string, count int) error
	DeleteDocument(id string) error

	// messages
	AppendMessage(msg domain.Message) error
	ListMessages(projectID string, limit int) ([]domain.Message, error)
}
