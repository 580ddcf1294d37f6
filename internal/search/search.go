package search

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/patterns"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// ErrEmbedding wraps failures of the external embedding call so the
// hybrid path can tell them apart from store failures.
var ErrEmbedding = errors.New("embedding failed")

// Options holds the retrieval tuning for one service instance.
type Options struct {
	// MinSimilarity is the floor below which vector hits are discarded.
	MinSimilarity float64
	// MinSectionLength filters out header-only fragments.
	MinSectionLength int
	// Limit caps the merged result size.
	Limit int
}

// Result is the outcome of one hybrid retrieval.
type Result struct {
	Hits      []models.SearchHit
	Detection patterns.Detection
	// Degraded is set when the embedding call failed and only keyword
	// hits could be returned.
	Degraded bool
}

// Service runs keyword, vector, and hybrid searches over manual
// sections.
type Service struct {
	Client ai.Client
	Store  store.SectionStore
	Opts   Options
}

// NewService creates a search service with the provided AI client,
// section store, and tuning options.
func NewService(client ai.Client, st store.SectionStore, opts Options) *Service {
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = 0.55
	}
	if opts.MinSectionLength <= 0 {
		opts.MinSectionLength = 50
	}
	if opts.Limit <= 0 {
		opts.Limit = 20
	}
	return &Service{Client: client, Store: st, Opts: opts}
}

// Keyword runs exact wildcard matching for the detected terms. All hits
// carry similarity 1.0 and the keyword flag.
func (s *Service) Keyword(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
	hits, err := s.Store.KeywordSearch(ctx, terms, manualIDs, limit)
	if err != nil {
		return nil, err
	}

	kept := hits[:0]
	for _, h := range hits {
		if len(h.Content) < s.Opts.MinSectionLength {
			continue
		}
		kept = append(kept, h)
	}
	if len(kept) != len(hits) {
		log.Debug().Int("dropped", len(hits)-len(kept)).Msg("filtered short keyword sections")
	}
	return kept, nil
}

// Vector embeds the question and returns semantic hits above the
// similarity floor. The store is over-fetched at twice the limit so the
// similarity and length filters don't starve the final set.
func (s *Service) Vector(ctx context.Context, question string, manualIDs []string, limit int, minSimilarity float64) ([]models.SearchHit, error) {
	vec, err := s.Client.Embed(ctx, strings.TrimSpace(question))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrEmbedding, err)
	}

	matches, err := s.Store.VectorSearch(ctx, vec, manualIDs, limit*2)
	if err != nil {
		return nil, err
	}

	out := make([]models.SearchHit, 0, len(matches))
	for _, m := range matches {
		h := m.Hit
		// pgvector's <=> operator is cosine distance in [0,2] on the
		// stored vectors; a different metric would need a different
		// conversion.
		h.Similarity = 1 - m.Distance/2
		h.IsKeywordMatch = false
		if h.Similarity < minSimilarity {
			continue
		}
		if len(h.Content) < s.Opts.MinSectionLength {
			continue
		}
		out = append(out, h)
	}
	return out, nil
}

// Merge combines keyword and vector hit sets: keyword hits first in
// their original order, vector hits filling remaining slots,
// deduplicated by section id, truncated to limit. Pure function.
func Merge(keyword, vector []models.SearchHit, limit int) []models.SearchHit {
	merged := make([]models.SearchHit, 0, len(keyword)+len(vector))
	seen := make(map[string]struct{}, len(keyword))

	for _, h := range keyword {
		if _, ok := seen[h.SectionID]; ok {
			continue
		}
		seen[h.SectionID] = struct{}{}
		merged = append(merged, h)
	}
	for _, h := range vector {
		if _, ok := seen[h.SectionID]; ok {
			continue
		}
		seen[h.SectionID] = struct{}{}
		merged = append(merged, h)
	}

	// Stable keeps keyword order among the 1.0 ties.
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})

	if limit >= 0 && len(merged) > limit {
		merged = merged[:limit]
	}
	return merged
}

// Hybrid runs pattern detection, keyword search (when patterns are
// found), and vector search, then merges the hit sets. Keyword and
// vector passes run concurrently; neither depends on the other's
// output. An empty result is a valid state, not an error.
func (s *Service) Hybrid(ctx context.Context, question string, manualIDs []string, limit int) (Result, error) {
	if limit <= 0 {
		limit = s.Opts.Limit
	}
	res := Result{Detection: patterns.Detect(question)}

	var (
		wg          sync.WaitGroup
		keywordHits []models.SearchHit
		vectorHits  []models.SearchHit
		keywordErr  error
		vectorErr   error
	)

	if res.Detection.HasPattern {
		log.Debug().Strs("patterns", res.Detection.Patterns).Msg("technical patterns detected")
		wg.Add(1)
		go func() {
			defer wg.Done()
			keywordHits, keywordErr = s.Keyword(ctx, res.Detection.SearchTerms, manualIDs, limit)
		}()
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		vectorHits, vectorErr = s.Vector(ctx, question, manualIDs, limit, s.Opts.MinSimilarity)
	}()

	wg.Wait()

	if keywordErr != nil {
		return Result{}, keywordErr
	}
	if vectorErr != nil {
		// An embedding outage degrades to keyword-only results when the
		// keyword pass produced any; otherwise there is nothing to
		// answer from and the error propagates.
		if errors.Is(vectorErr, ErrEmbedding) && len(keywordHits) > 0 {
			log.Warn().Err(vectorErr).Msg("embedding unavailable, continuing keyword-only")
			res.Degraded = true
			vectorHits = nil
		} else {
			return Result{}, vectorErr
		}
	}

	res.Hits = Merge(keywordHits, vectorHits, limit)
	log.Debug().
		Int("keyword", len(keywordHits)).
		Int("vector", len(vectorHits)).
		Int("merged", len(res.Hits)).
		Msg("hybrid search complete")
	return res, nil
}
