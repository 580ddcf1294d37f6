package search

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// MockAIClient implements the ai.Client interface for testing
type MockAIClient struct {
	EmbedFunc    func(ctx context.Context, text string) ([]float32, error)
	CompleteFunc func(ctx context.Context, req ai.CompletionRequest) (string, error)
	DimFunc      func() int
}

func (m *MockAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.EmbedFunc != nil {
		return m.EmbedFunc(ctx, text)
	}
	return []float32{0.1, 0.2, 0.3}, nil
}

func (m *MockAIClient) Complete(ctx context.Context, req ai.CompletionRequest) (string, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	return "mock completion", nil
}

func (m *MockAIClient) Dim() int {
	if m.DimFunc != nil {
		return m.DimFunc()
	}
	return 3
}

// MockSectionStore implements the store.SectionStore interface for testing
type MockSectionStore struct {
	KeywordSearchFunc func(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error)
	VectorSearchFunc  func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error)
}

func (m *MockSectionStore) KeywordSearch(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
	if m.KeywordSearchFunc != nil {
		return m.KeywordSearchFunc(ctx, terms, manualIDs, limit)
	}
	return []models.SearchHit{}, nil
}

func (m *MockSectionStore) VectorSearch(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
	if m.VectorSearchFunc != nil {
		return m.VectorSearchFunc(ctx, vec, manualIDs, limit)
	}
	return []store.VectorMatch{}, nil
}

func (m *MockSectionStore) UpsertManual(ctx context.Context, man models.Manual) error {
	return nil
}

func (m *MockSectionStore) UpsertSection(ctx context.Context, sec models.ManualSection, vec []float32) error {
	return nil
}

func hit(id string, sim float64, keyword bool) models.SearchHit {
	return models.SearchHit{
		SectionID:      id,
		ManualID:       "manual-1",
		ManualTitle:    "Service Manual",
		SectionTitle:   "Section " + id,
		SectionType:    models.SectionTroubleshooting,
		Content:        strings.Repeat("troubleshooting content for "+id+" ", 5),
		PageReference:  "Page 12",
		Similarity:     sim,
		IsKeywordMatch: keyword,
	}
}

func TestMerge(t *testing.T) {
	tests := []struct {
		name    string
		keyword []models.SearchHit
		vector  []models.SearchHit
		limit   int
		wantIDs []string
	}{
		{
			name:    "keyword hits outrank vector hits",
			keyword: []models.SearchHit{hit("k1", 1.0, true), hit("k2", 1.0, true)},
			vector:  []models.SearchHit{hit("v1", 0.9, false), hit("v2", 0.8, false)},
			limit:   20,
			wantIDs: []string{"k1", "k2", "v1", "v2"},
		},
		{
			name:    "duplicate section keeps keyword hit",
			keyword: []models.SearchHit{hit("s1", 1.0, true)},
			vector:  []models.SearchHit{hit("s1", 0.7, false), hit("s2", 0.65, false)},
			limit:   20,
			wantIDs: []string{"s1", "s2"},
		},
		{
			name:    "limit truncates after sort",
			keyword: []models.SearchHit{hit("k1", 1.0, true)},
			vector:  []models.SearchHit{hit("v1", 0.9, false), hit("v2", 0.8, false)},
			limit:   2,
			wantIDs: []string{"k1", "v1"},
		},
		{
			name:    "both empty",
			keyword: nil,
			vector:  nil,
			limit:   20,
			wantIDs: []string{},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Merge(tt.keyword, tt.vector, tt.limit)
			if len(got) != len(tt.wantIDs) {
				t.Fatalf("expected %d hits, got %d", len(tt.wantIDs), len(got))
			}
			for i, id := range tt.wantIDs {
				if got[i].SectionID != id {
					t.Errorf("position %d: expected %s, got %s", i, id, got[i].SectionID)
				}
			}
			// dedup check: keyword version must win
			for _, h := range got {
				if h.SectionID == "s1" && !h.IsKeywordMatch {
					t.Error("duplicate resolved to vector hit instead of keyword hit")
				}
			}
		})
	}
}

func TestVector_SimilarityConversion(t *testing.T) {
	st := &MockSectionStore{
		VectorSearchFunc: func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
			return []store.VectorMatch{
				{Hit: hit("close", 0, false), Distance: 0.2},  // similarity 0.90
				{Hit: hit("medium", 0, false), Distance: 0.7}, // similarity 0.65
				{Hit: hit("far", 0, false), Distance: 1.2},    // similarity 0.40, below floor
			}, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{MinSimilarity: 0.55})

	hits, err := svc.Vector(context.Background(), "why is the compressor short cycling", []string{"manual-1"}, 20, 0.55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 2 {
		t.Fatalf("expected 2 hits above floor, got %d", len(hits))
	}
	if hits[0].Similarity != 0.9 {
		t.Errorf("expected similarity 0.9, got %v", hits[0].Similarity)
	}
	if hits[1].Similarity != 0.65 {
		t.Errorf("expected similarity 0.65, got %v", hits[1].Similarity)
	}
	for _, h := range hits {
		if h.IsKeywordMatch {
			t.Error("vector hit flagged as keyword match")
		}
	}
}

func TestVector_OverFetchesStore(t *testing.T) {
	var gotLimit int
	st := &MockSectionStore{
		VectorSearchFunc: func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
			gotLimit = limit
			return nil, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{})

	if _, err := svc.Vector(context.Background(), "filter cleaning", []string{"manual-1"}, 20, 0.55); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotLimit != 40 {
		t.Errorf("expected store limit 40 (2x requested), got %d", gotLimit)
	}
}

func TestVector_FiltersShortSections(t *testing.T) {
	short := hit("short", 0, false)
	short.Content = "STARTUP"
	st := &MockSectionStore{
		VectorSearchFunc: func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
			return []store.VectorMatch{
				{Hit: short, Distance: 0.1},
				{Hit: hit("full", 0, false), Distance: 0.1},
			}, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{})

	hits, err := svc.Vector(context.Background(), "startup procedure", []string{"manual-1"}, 20, 0.55)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 || hits[0].SectionID != "full" {
		t.Errorf("expected only the full section to survive, got %+v", hits)
	}
}

func TestKeyword_AssignsFullSimilarity(t *testing.T) {
	st := &MockSectionStore{
		KeywordSearchFunc: func(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
			return []models.SearchHit{hit("k1", 1.0, true)}, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{})

	hits, err := svc.Keyword(context.Background(), []string{"%74%"}, []string{"manual-1"}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(hits) != 1 {
		t.Fatalf("expected 1 hit, got %d", len(hits))
	}
	if hits[0].Similarity != 1.0 || !hits[0].IsKeywordMatch {
		t.Errorf("keyword hit should carry similarity 1.0 and the keyword flag, got %+v", hits[0])
	}
}

func TestHybrid_MergesBothPasses(t *testing.T) {
	// Scenario: a flash code question with 2 keyword hits and 25 vector
	// hits, limit 20. Keyword hits win, vector fills the rest.
	st := &MockSectionStore{
		KeywordSearchFunc: func(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
			return []models.SearchHit{hit("k1", 1.0, true), hit("k2", 1.0, true)}, nil
		},
		VectorSearchFunc: func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
			var out []store.VectorMatch
			for i := 0; i < 25; i++ {
				out = append(out, store.VectorMatch{
					Hit:      hit(fmt.Sprintf("v%02d", i), 0, false),
					Distance: 0.2 + float64(i)*0.01,
				})
			}
			return out, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{Limit: 20})

	res, err := svc.Hybrid(context.Background(), "what does flash code 74 mean", []string{"manual-1"}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Detection.HasPattern {
		t.Error("expected pattern detection for flash code question")
	}
	if len(res.Hits) != 20 {
		t.Fatalf("expected 20 merged hits, got %d", len(res.Hits))
	}
	if res.Hits[0].SectionID != "k1" || res.Hits[1].SectionID != "k2" {
		t.Errorf("keyword hits should lead the merged set, got %s, %s", res.Hits[0].SectionID, res.Hits[1].SectionID)
	}
	for _, h := range res.Hits[2:] {
		if h.IsKeywordMatch {
			t.Errorf("unexpected keyword hit %s after position 2", h.SectionID)
		}
	}
	if res.Degraded {
		t.Error("unexpected degraded flag")
	}
}

func TestHybrid_SkipsKeywordWithoutPattern(t *testing.T) {
	keywordCalled := false
	st := &MockSectionStore{
		KeywordSearchFunc: func(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
			keywordCalled = true
			return nil, nil
		},
		VectorSearchFunc: func(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]store.VectorMatch, error) {
			return []store.VectorMatch{{Hit: hit("v1", 0, false), Distance: 0.3}}, nil
		},
	}
	svc := NewService(&MockAIClient{}, st, Options{})

	res, err := svc.Hybrid(context.Background(), "hello", []string{"manual-1"}, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if keywordCalled {
		t.Error("keyword search should not run without detected patterns")
	}
	if len(res.Hits) != 1 {
		t.Errorf("expected 1 vector hit, got %d", len(res.Hits))
	}
}

func TestHybrid_DegradesOnEmbeddingFailure(t *testing.T) {
	st := &MockSectionStore{
		KeywordSearchFunc: func(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
			return []models.SearchHit{hit("k1", 1.0, true)}, nil
		},
	}
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("api timeout")
		},
	}
	svc := NewService(client, st, Options{})

	res, err := svc.Hybrid(context.Background(), "flash code 74", []string{"manual-1"}, 20)
	if err != nil {
		t.Fatalf("expected keyword-only degradation, got error: %v", err)
	}
	if !res.Degraded {
		t.Error("expected degraded flag")
	}
	if len(res.Hits) != 1 || res.Hits[0].SectionID != "k1" {
		t.Errorf("expected the keyword hit to survive, got %+v", res.Hits)
	}
}

func TestHybrid_PropagatesEmbeddingFailureWithoutKeywordHits(t *testing.T) {
	client := &MockAIClient{
		EmbedFunc: func(ctx context.Context, text string) ([]float32, error) {
			return nil, errors.New("api timeout")
		},
	}
	svc := NewService(client, &MockSectionStore{}, Options{})

	_, err := svc.Hybrid(context.Background(), "hello", []string{"manual-1"}, 20)
	if err == nil {
		t.Fatal("expected error when embedding fails and no keyword hits exist")
	}
	if !errors.Is(err, ErrEmbedding) {
		t.Errorf("expected ErrEmbedding, got %v", err)
	}
}

func TestHybrid_EmptyResultIsNotError(t *testing.T) {
	svc := NewService(&MockAIClient{}, &MockSectionStore{}, Options{})

	res, err := svc.Hybrid(context.Background(), "something obscure", []string{"manual-1"}, 20)
	if err != nil {
		t.Fatalf("empty retrieval must not error: %v", err)
	}
	if len(res.Hits) != 0 {
		t.Errorf("expected no hits, got %d", len(res.Hits))
	}
}
