package store

import (
	"testing"
	"time"

	"enterprisesearch/pkg/domain"
)

func TestMemoryStoreProjectLifecycle(t *testing.T) {
	s := NewMemoryStore()
	now := time.Now().UTC()
	project := domain.Project{
		ID:         "p1",
		Name:       "HR Policies",
		AccessType: domain.AccessRestricted,
		State:      domain.StateDraft,
		GroupIDs:   []string{"hr"},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.SaveProject(project); err != nil {
		t.Fatalf("save project: %v", err)
	}

	got, ok, err := s.GetProject("p1")
	if err != nil || !ok {
		t.Fatalf("get project: ok=%v err=%v", ok, err)
	}
	if got.Name != "HR Policies" || got.State != domain.StateDraft {
		t.Fatalf("unexpected project: %+v", got)
	}

	if err := s.SetProjectState("p1", domain.StatePublished); err != nil {
		t.Fatalf("set state: %v", err)
	}
	got, _, _ = s.GetProject("p1")
	if got.State != domain.StatePublished {
		t.Fatalf("expected published, got %s", got.State)
	}
	if !got.UpdatedAt.After(now) && !got.UpdatedAt.Equal(now) {
		t.Fatalf("updated_at not advanced: %v", got.UpdatedAt)
	}

	projects, err := s.ListProjects()
	if err != nil || len(projects) != 1 {
		t.Fatalf("list projects: %v (%d)", err, len(projects))
	}
}

func TestMemoryStoreDeleteProjectCascades(t *testing.T) {
	s := NewMemoryStore()
	if err := s.SaveProject(domain.Project{ID: "p1", Name: "KB"}); err != nil {
		t.Fatalf("save project: %v", err)
	}
	if err := s.SaveDocument(domain.Document{ID: "d1", ProjectID: "p1", Name: "a.pdf"}); err != nil {
		t.Fatalf("save document: %v", err)
	}
	if err := s.AppendMessage(domain.Message{ID: "m1", ProjectID: "p1", Role: domain.RoleUser, Content: "hi"}); err != nil {
		t.Fatalf("append message: %v", err)
	}

	if err := s.DeleteProject("p1"); err != nil {
		t.Fatalf("delete project: %v", err)
	}
	if _, ok, _ := s.GetProject("p1"); ok {
		t.Fatal("project still present")
	}
	if _, ok, _ := s.GetDocument("d1"); ok {
		t.Fatal("document not cascaded")
	}
	msgs, _ := s.ListMessages("p1", 0)
	if len(msgs) != 0 {
		t.Fatalf("messages not cascaded: %d", len(msgs))
	}
}

func TestMemoryStoreDocumentChunkCount(t *testing.T) {
	s := NewMemoryStore()
	uploaded := time.Now().UTC()
	docs := []domain.Document{
		{ID: "d2", ProjectID: "p1", Name: "b.txt", UploadedAt: uploaded.Add(time.Second)},
		{ID: "d1", ProjectID: "p1", Name: "a.txt", UploadedAt: uploaded},
		{ID: "dx", ProjectID: "p2", Name: "other.txt", UploadedAt: uploaded},
	}
	for _, d := range docs {
		if err := s.SaveDocument(d); err != nil {
			t.Fatalf("save document: %v", err)
		}
	}
	if err := s.SetDocumentChunkCount("d1", 7); err != nil {
		t.Fatalf("set chunk count: %v", err)
	}

	got, ok, _ := s.GetDocument("d1")
	if !ok || got.ChunkCount != 7 {
		t.Fatalf("chunk count not persisted: %+v", got)
	}

	listed, err := s.ListDocumentsByProject("p1")
	if err != nil {
		t.Fatalf("list documents: %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "d1" || listed[1].ID != "d2" {
		t.Fatalf("unexpected order: %+v", listed)
	}
}

func TestMemoryStoreMessagesChronological(t *testing.T) {
	s := NewMemoryStore()
	base := time.Now().UTC()
	for i, msg := range []domain.Message{
		{ID: "m2", ProjectID: "p1", Role: domain.RoleAssistant, Content: "answer", CreatedAt: base.Add(time.Second)},
		{ID: "m1", ProjectID: "p1", Role: domain.RoleUser, Content: "question", CreatedAt: base},
	} {
		if err := s.AppendMessage(msg); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}
	msgs, err := s.ListMessages("p1", 10)
	if err != nil {
		t.Fatalf("list messages: %v", err)
	}
	if len(msgs) != 2 || msgs[0].ID != "m1" || msgs[1].ID != "m2" {
		t.Fatalf("unexpected ordering: %+v", msgs)
	}
}
