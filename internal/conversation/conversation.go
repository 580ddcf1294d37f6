// Package conversation formats prior chat turns into a bounded text
// block and compresses it when it would blow out the system prompt.
package conversation

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/pkg/models"
)

const summaryInstruction = "Summarize this equipment troubleshooting conversation in 3-4 concise sentences. Focus on: 1) The main issue being discussed, 2) Key information already provided, 3) Steps already tried or discussed."

// EstimateTokens approximates a token count as characters divided by
// four, rounded up. It is a heuristic, not real tokenization; counts
// can be off by a few percent either way.
func EstimateTokens(s string) int {
	return (len(s) + 3) / 4
}

// FormatTurns renders the most recent window of turns as
// "Role: content" entries joined by blank lines. Trimming to the window
// is normally the caller's responsibility; the slice here is a guard.
func FormatTurns(turns []models.Turn, window int) string {
	if len(turns) == 0 {
		return ""
	}
	if window > 0 && len(turns) > window {
		turns = turns[len(turns)-window:]
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		label := "Assistant"
		if t.Role == models.RoleUser {
			label = "User"
		}
		lines = append(lines, label+": "+t.Content)
	}
	return strings.Join(lines, "\n\n")
}

// Summarizer compresses long conversation history with an LLM call.
type Summarizer struct {
	Client      ai.Client
	TokenBudget int
}

// NewSummarizer creates a Summarizer. A non-positive budget falls back
// to 8000 estimated tokens.
func NewSummarizer(client ai.Client, tokenBudget int) *Summarizer {
	if tokenBudget <= 0 {
		tokenBudget = 8000
	}
	return &Summarizer{Client: client, TokenBudget: tokenBudget}
}

// SummarizeIfNeeded returns the context unchanged while it fits the
// token budget. Above the budget it asks the LLM for a short summary;
// if that call fails, it truncates to the last ten formatted entries
// instead. Summarization is best-effort compression and never fails the
// request.
func (s *Summarizer) SummarizeIfNeeded(ctx context.Context, history string) string {
	if history == "" {
		return ""
	}

	tokens := EstimateTokens(history)
	if tokens <= s.TokenBudget {
		return history
	}

	log.Info().Int("tokens", tokens).Msg("summarizing long conversation")

	summary, err := s.Client.Complete(ctx, ai.CompletionRequest{
		System:      summaryInstruction,
		User:        history,
		Temperature: 0.3,
		MaxTokens:   200,
	})
	if err != nil || strings.TrimSpace(summary) == "" {
		log.Warn().Err(err).Msg("summarization failed, truncating history")
		return truncate(history)
	}

	log.Info().Int("tokens_before", tokens).Int("tokens_after", EstimateTokens(summary)).Msg("conversation summarized")
	return "[Previous conversation summary: " + summary + "]"
}

// truncate keeps the last ten formatted entries, roughly the last five
// exchanges.
func truncate(history string) string {
	entries := strings.Split(history, "\n\n")
	if len(entries) > 10 {
		entries = entries[len(entries)-10:]
	}
	return strings.Join(entries, "\n\n")
}
