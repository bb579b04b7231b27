package domain

import "time"

type ProjectState string

const (
	StateDraft     ProjectState = "DRAFT"
	StatePublished ProjectState = "PUBLISHED"
)

type AccessType string

const (
	AccessPublic     AccessType = "public"
	AccessRestricted AccessType = "restricted"
)

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type Project struct {
	ID          string       `json:"id"`
	Name        string       `json:"name"`
	Description string       `json:"description,omitempty"`
	AccessType  AccessType   `json:"accessType"`
	State       ProjectState `json:"state"`
	GroupIDs    []string     `json:"groupIds,omitempty"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

type Document struct {
	ID            string    `json:"id"`
	ProjectID     string    `json:"projectId"`
	Name          string    `json:"name"`
	DocumentType  string    `json:"documentType"`
	FileExtension string    `json:"fileExtension,omitempty"`
	SizeBytes     int64     `json:"sizeBytes"`
	StorageURL    string    `json:"storageUrl,omitempty"`
	StorageKey    string    `json:"-"`
	// ChunkCount records how many chunk vectors were upserted for this
	// document; chunk record ids are reconstructed from it on delete.
	ChunkCount int       `json:"chunkCount"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type Message struct {
	ID        string      `json:"id"`
	ProjectID string      `json:"projectId"`
	UserID    string      `json:"userId"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	CreatedAt time.Time   `json:"createdAt"`
}

// User is the authenticated caller as resolved from the bearer token.
// Identity lives in the external auth provider; only the claims the
// backend needs are carried here.
type User struct {
	ID     string   `json:"id"`
	Groups []string `json:"groups,omitempty"`
}

// RetrievedChunk is one similarity-search hit returned by retrieval.
type RetrievedChunk struct {
	RecordID     string  `json:"recordId"`
	ProjectID    string  `json:"projectId"`
	DocumentID   string  `json:"documentId"`
	DocumentName string  `json:"documentName,omitempty"`
	Text         string  `json:"text"`
	Score        float64 `json:"score"`
}

// IngestReport summarizes one document ingestion run. Partial ingestion is
// acceptable: the document row is the source of truth for "this file was
// uploaded" regardless of how many chunks reached the vector store.
type IngestReport struct {
	DocumentID      string   `json:"documentId"`
	ChunksAttempted int      `json:"chunksAttempted"`
	ChunksSucceeded int      `json:"chunksSucceeded"`
	Errors          []string `json:"errors,omitempty"`
}

// Answer is the result of one chat turn.
type Answer struct {
	ProjectID string           `json:"projectId"`
	Question  string           `json:"question"`
	Response  string           `json:"response"`
	Sources   []RetrievedChunk `json:"sources,omitempty"`
	CreatedAt time.Time        `json:"createdAt"`
}
