package ingest

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/karrick/godirwalk"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// MockFileSystemWalker implements FileSystemWalker for testing
type MockFileSystemWalker struct {
	FilesToProcess []string
	WalkError      error
}

func (m *MockFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	if m.WalkError != nil {
		return m.WalkError
	}
	for _, filePath := range m.FilesToProcess {
		if err := options.Callback(filePath, nil); err != nil {
			return err
		}
	}
	return nil
}

// MockFileReader implements FileReader for testing
type MockFileReader struct {
	Files map[string]string
}

func (m *MockFileReader) ReadFile(filename string) ([]byte, error) {
	if content, exists := m.Files[filename]; exists {
		return []byte(content), nil
	}
	return nil, errors.New("file not found")
}

// MockSectionStore records upserts for assertions
type MockSectionStore struct {
	mu       sync.Mutex
	Manuals  []models.Manual
	Sections []models.ManualSection
	Vectors  [][]float32

	UpsertSectionErr error
}

func (m *MockSectionStore) KeywordSearch(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
	return nil, nil
}

func (m *MockSectionStore) VectorSearch(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
	return nil, nil
}

func (m *MockSectionStore) UpsertManual(ctx context.Context, man models.Manual) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Manuals = append(m.Manuals, man)
	return nil
}

func (m *MockSectionStore) UpsertSection(ctx context.Context, sec models.ManualSection, vec []float32) error {
	if m.UpsertSectionErr != nil {
		return m.UpsertSectionErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Sections = append(m.Sections, sec)
	m.Vectors = append(m.Vectors, vec)
	return nil
}

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedErr error
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedErr != nil {
		return nil, m.EmbedErr
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	return "", nil
}

func (m *MockAIClient) Dim() int { return 3 }

const manualText = "--- PAGE 1 ---\nSAFETY CONSIDERATIONS\nRead all warnings before operating the unit.\n\n--- PAGE 2 ---\nFAULT CODES\nSee the diagnostic table.\n\n[TABLE] Code | Mode | Cause\n74 | Cool | Dirty coil"

func TestIngestor_Run(t *testing.T) {
	st := &MockSectionStore{}
	in := NewWithDependencies(st, "/manuals", "model-1", &MockAIClient{},
		&MockFileSystemWalker{FilesToProcess: []string{"/manuals/48TC_Service_Manual.txt", "/manuals/.hidden.txt", "/manuals/diagram.pdf"}},
		&MockFileReader{Files: map[string]string{"/manuals/48TC_Service_Manual.txt": manualText}},
	)

	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// manual upserted twice: once processing, once active
	if len(st.Manuals) != 2 {
		t.Fatalf("expected 2 manual upserts, got %d", len(st.Manuals))
	}
	if st.Manuals[0].Status != "processing" || st.Manuals[1].Status != "active" {
		t.Errorf("wrong status transitions: %s -> %s", st.Manuals[0].Status, st.Manuals[1].Status)
	}
	if st.Manuals[0].Title != "48TC Service Manual" {
		t.Errorf("wrong title: %q", st.Manuals[0].Title)
	}
	if st.Manuals[0].Type != "service" {
		t.Errorf("wrong type: %q", st.Manuals[0].Type)
	}
	if st.Manuals[0].PageCount != 2 {
		t.Errorf("wrong page count: %d", st.Manuals[0].PageCount)
	}
	if st.Manuals[0].ModelID != "model-1" {
		t.Errorf("wrong model id: %q", st.Manuals[0].ModelID)
	}

	if len(st.Sections) == 0 {
		t.Fatal("expected sections to be upserted")
	}
	for i, sec := range st.Sections {
		if sec.ManualID != st.Manuals[0].ID {
			t.Errorf("section %d has wrong manual id", i)
		}
		if sec.ID == "" {
			t.Errorf("section %d missing id", i)
		}
		if st.Vectors[i] == nil {
			t.Errorf("section %d missing embedding", i)
		}
	}
}

func TestIngestor_Run_EmbedFailureStoresWithoutVector(t *testing.T) {
	st := &MockSectionStore{}
	in := NewWithDependencies(st, "/manuals", "model-1", &MockAIClient{EmbedErr: errors.New("quota")},
		&MockFileSystemWalker{FilesToProcess: []string{"/manuals/guide.txt"}},
		&MockFileReader{Files: map[string]string{"/manuals/guide.txt": manualText}},
	)

	if err := in.Run(context.Background()); err != nil {
		t.Fatalf("embedding failure must not abort ingestion: %v", err)
	}
	if len(st.Sections) == 0 {
		t.Fatal("sections must still be stored")
	}
	for i := range st.Sections {
		if st.Vectors[i] != nil {
			t.Errorf("section %d should have no embedding", i)
		}
	}
}

func TestIngestor_Run_UpsertFailurePropagates(t *testing.T) {
	st := &MockSectionStore{UpsertSectionErr: errors.New("disk full")}
	in := NewWithDependencies(st, "/manuals", "model-1", &MockAIClient{},
		&MockFileSystemWalker{FilesToProcess: []string{"/manuals/guide.txt"}},
		&MockFileReader{Files: map[string]string{"/manuals/guide.txt": manualText}},
	)

	if err := in.Run(context.Background()); err == nil {
		t.Fatal("expected error from failed section upsert")
	}
}

func TestIngestor_StableIDs(t *testing.T) {
	a := manualID("model-1", "/x/48TC_Service_Manual.txt")
	b := manualID("model-1", "/y/48TC_Service_Manual.txt")
	if a != b {
		t.Error("manual id must depend on file name, not directory")
	}
	if manualID("model-2", "/x/48TC_Service_Manual.txt") == a {
		t.Error("manual id must differ per model")
	}
	if sectionID(a, 0) == sectionID(a, 1) {
		t.Error("section ids must differ per index")
	}
}

func TestShouldSkip(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"/manuals/service.txt", false},
		{"/manuals/Service.TXT", false},
		{"/manuals/.hidden.txt", true},
		{"/manuals/diagram.pdf", true},
		{"/manuals/notes.md", true},
	}
	for _, tt := range tests {
		if got := shouldSkip(tt.path); got != tt.want {
			t.Errorf("shouldSkip(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestManualType(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"48TC_Service_Manual.txt", "service"},
		{"installation_guide.txt", "installation"},
		{"wiring_diagrams.txt", "wiring"},
		{"parts_catalog.txt", "parts"},
		{"owners_handbook.txt", "user"},
		{"misc.txt", "service"},
	}
	for _, tt := range tests {
		if got := manualType(tt.path); got != tt.want {
			t.Errorf("manualType(%q) = %q, want %q", tt.path, got, tt.want)
		}
	}
}
