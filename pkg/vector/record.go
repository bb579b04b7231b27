package vector

import "fmt"

// Metadata is the typed payload stored alongside every chunk vector.
// Text is required; the remaining fields back-reference the owning rows.
type Metadata struct {
	ProjectID    string `json:"project_id"`
	DocumentID   string `json:"document_id"`
	Text         string `json:"text"`
	ProjectName  string `json:"project_name,omitempty"`
	DocumentName string `json:"document_name,omitempty"`
}

// Record is one vector with its id and metadata. Records are idempotent by
// id: upserting the same id twice overwrites, which makes retries safe.
type Record struct {
	ID       string    `json:"id"`
	Values   []float32 `json:"values"`
	Metadata Metadata  `json:"metadata"`
}

// Match is one similarity-search hit, highest score first.
type Match struct {
	ID       string   `json:"id"`
	Score    float64  `json:"score"`
	Metadata Metadata `json:"metadata"`
}

// IndexName returns the deterministic per-project index name.
func IndexName(projectID string) string {
	return "project-" + projectID
}

// RecordID returns the composite chunk record id.
func RecordID(projectID, documentID string, chunkIndex int) string {
	return fmt.Sprintf("project_%s_doc_%s_chunk_%d", projectID, documentID, chunkIndex)
}

// DocumentRecordIDs reconstructs every record id written for a document,
// given the chunk count persisted on its row.
func DocumentRecordIDs(projectID, documentID string, chunkCount int) []string {
	ids := make([]string, 0, chunkCount)
	for i := 0; i < chunkCount; i++ {
		ids = append(ids, RecordID(projectID, documentID, i))
	}
	return ids
}
