// Package answer assembles the per-question ChatContext and renders it
// into the system prompt that grounds the LLM's reply.
package answer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/fieldassist/manualsearch/internal/conversation"
	"github.com/fieldassist/manualsearch/internal/search"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// Options holds the assembler's tuning values.
type Options struct {
	// SectionLimit caps the retrieved section list.
	SectionLimit int
	// LowConfidenceThreshold is the average similarity below which
	// coverage is flagged as low confidence. Zero average is reported
	// as "no sections", a distinct state.
	LowConfidenceThreshold float64
	// ConversationWindow bounds how many prior turns are formatted.
	ConversationWindow int
}

// Assembler orchestrates metadata lookups, hybrid retrieval, and
// history processing into one ChatContext per question.
type Assembler struct {
	Meta       store.MetadataStore
	Search     *search.Service
	Summarizer *conversation.Summarizer
	Opts       Options
}

// NewAssembler creates an Assembler with defaults applied.
func NewAssembler(meta store.MetadataStore, svc *search.Service, summarizer *conversation.Summarizer, opts Options) *Assembler {
	if opts.SectionLimit <= 0 {
		opts.SectionLimit = 20
	}
	if opts.LowConfidenceThreshold <= 0 {
		opts.LowConfidenceThreshold = 0.60
	}
	if opts.ConversationWindow <= 0 {
		opts.ConversationWindow = 10
	}
	return &Assembler{Meta: meta, Search: svc, Summarizer: summarizer, Opts: opts}
}

// GatherChatContext builds the full context for one question. A missing
// unit is fatal (store.ErrUnitNotFound); missing manuals or sections are
// valid states reported through the returned context, not errors.
func (a *Assembler) GatherChatContext(ctx context.Context, unitID, question string, history []models.Turn) (models.ChatContext, error) {
	unit, model, err := a.Meta.GetUnit(ctx, unitID)
	if err != nil {
		return models.ChatContext{}, fmt.Errorf("fetch unit: %w", err)
	}

	manuals, err := a.Meta.ListActiveManuals(ctx, model.ID)
	if err != nil {
		return models.ChatContext{}, fmt.Errorf("list manuals: %w", err)
	}

	cc := models.ChatContext{
		Unit:             unit,
		Model:            model,
		Manuals:          manuals,
		RelevantSections: []models.SearchHit{},
	}

	if len(manuals) == 0 {
		// No manual coverage at all; search would be pointless.
		log.Info().Str("unit", unitID).Str("model", model.ModelNumber).Msg("no active manuals for model")
	} else {
		manualIDs := make([]string, len(manuals))
		for i, m := range manuals {
			manualIDs[i] = m.ID
		}

		res, err := a.Search.Hybrid(ctx, question, manualIDs, a.Opts.SectionLimit)
		if err != nil {
			return models.ChatContext{}, fmt.Errorf("search sections: %w", err)
		}
		cc.RelevantSections = res.Hits
		cc.DegradedSearch = res.Degraded
	}

	if n := len(cc.RelevantSections); n > 0 {
		var sum float64
		for _, h := range cc.RelevantSections {
			sum += h.Similarity
		}
		cc.AvgSimilarity = sum / float64(n)
		cc.LowConfidence = cc.AvgSimilarity < a.Opts.LowConfidenceThreshold
	}

	if len(history) > 0 && a.Summarizer != nil {
		formatted := conversation.FormatTurns(history, a.Opts.ConversationWindow)
		cc.ConversationHistory = a.Summarizer.SummarizeIfNeeded(ctx, formatted)
	}

	log.Info().
		Str("unit", unit.Nickname).
		Str("model", model.OEM+" "+model.ModelNumber).
		Int("manuals", len(manuals)).
		Int("sections", len(cc.RelevantSections)).
		Float64("avg_similarity", cc.AvgSimilarity).
		Bool("low_confidence", cc.LowConfidence).
		Msg("chat context assembled")

	return cc, nil
}
