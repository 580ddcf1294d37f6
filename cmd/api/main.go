package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/http"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/spf13/pflag"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/answer"
	"github.com/fieldassist/manualsearch/internal/auth"
	"github.com/fieldassist/manualsearch/internal/config"
	"github.com/fieldassist/manualsearch/internal/conversation"
	"github.com/fieldassist/manualsearch/internal/search"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

const maxQuestionLength = 500

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type askRequest struct {
	UnitID   string        `json:"unitId"`
	Question string        `json:"question"`
	Messages []chatMessage `json:"messages,omitempty"`
}

type sourceRef struct {
	ManualTitle   string  `json:"manual_title"`
	SectionTitle  string  `json:"section_title"`
	SectionType   string  `json:"section_type"`
	PageReference string  `json:"page_reference"`
	Similarity    float64 `json:"similarity"`
	KeywordMatch  bool    `json:"keyword_match"`
}

type askResponse struct {
	Answer        string      `json:"answer"`
	Sources       []sourceRef `json:"sources"`
	LowConfidence bool        `json:"low_confidence"`
	AvgSimilarity float64     `json:"avg_similarity"`
	Warnings      []string    `json:"warnings,omitempty"`
	Stats         askStats    `json:"stats"`
}

type askStats struct {
	ProcessingMs int64 `json:"processing_ms"`
	Sections     int   `json:"sections"`
	Manuals      int   `json:"manuals"`
}

func sources(hits []models.SearchHit) []sourceRef {
	out := make([]sourceRef, 0, len(hits))
	for _, h := range hits {
		sim := h.Similarity
		if math.IsNaN(sim) || math.IsInf(sim, 0) {
			sim = 0
		}
		out = append(out, sourceRef{
			ManualTitle:   h.ManualTitle,
			SectionTitle:  h.SectionTitle,
			SectionType:   h.SectionType,
			PageReference: h.PageReference,
			Similarity:    sim,
			KeywordMatch:  h.IsKeywordMatch,
		})
	}
	return out
}

var reasoningRe = regexp.MustCompile(`(?i)\b(troubleshoot|diagnos|why|flash code|error code|fault)\b`)

// askTemperature keeps diagnostic answers tighter than general ones.
func askTemperature(question string) float32 {
	if reasoningRe.MatchString(question) || len(question) > 200 {
		return 0.2
	}
	return 0.4
}

// extractQuestion pulls the effective question from either the plain
// field or the last user message of a chat transcript.
func extractQuestion(req askRequest) (string, []models.Turn) {
	if len(req.Messages) == 0 {
		return strings.TrimSpace(req.Question), nil
	}

	var turns []models.Turn
	question := ""
	for _, m := range req.Messages {
		role := models.RoleUser
		if strings.EqualFold(m.Role, "assistant") {
			role = models.RoleAssistant
		}
		turns = append(turns, models.Turn{Role: role, Content: m.Content})
		if role == models.RoleUser {
			question = strings.TrimSpace(m.Content)
		}
	}
	if len(turns) > 0 {
		turns = turns[:len(turns)-1] // last user message is the question, not history
	}
	return question, turns
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("manualsearch-api", pflag.ExitOnError)

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		log.Fatalf("Invalid log level '%s': %v", cfg.LogLevel, err)
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	logger.Info().Str("provider", cfg.Provider).Str("log_level", cfg.LogLevel).Bool("auth_enabled", cfg.Auth.Enabled).Msg("starting manualsearch api")

	var clientConfig *ai.ClientConfig
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Provider:   ai.ProviderOpenAI,
		}
	case "vertexai", "google":
		clientConfig = &ai.ClientConfig{
			APIKey:     cfg.APIKey,
			EmbedModel: cfg.EmbedModel,
			ChatModel:  cfg.ChatModel,
			Dim:        cfg.Dim,
			ProjectID:  cfg.ProjectID,
			Location:   cfg.Location,
			Provider:   ai.ProviderVertexAI,
		}
	case "stub":
		clientConfig = &ai.ClientConfig{
			Dim:      cfg.Dim,
			Provider: ai.ProviderStub,
		}
	default:
		log.Fatalf("unsupported provider: %s", cfg.Provider)
	}

	authn := auth.New(cfg.Auth.JwtSecret, cfg.Auth.Enabled)
	if authn.Enabled() {
		log.Println("Authentication is ENABLED")
	} else {
		log.Println("Authentication is DISABLED - running in open mode")
	}

	ctx := context.Background()
	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer st.Close()

	client, err := ai.NewClient(clientConfig)
	if err != nil {
		log.Fatalf("Failed to create AI client: %v", err)
	}

	dim := client.Dim()
	logger.Info().Int("embedding_dim", dim).Str("embed_model", clientConfig.EmbedModel).Msg("AI client initialized")

	if err := st.Migrate(ctx, dim); err != nil {
		log.Fatalf("Failed to migrate database: %v", err)
	}

	svc := search.NewService(client, st, search.Options{
		MinSimilarity:    cfg.Retrieval.VectorSimilarityFloor,
		MinSectionLength: cfg.Retrieval.MinSectionLength,
		Limit:            cfg.Retrieval.SectionResultLimit,
	})
	summarizer := conversation.NewSummarizer(client, cfg.Retrieval.SummarizationTokenBudget)
	assembler := answer.NewAssembler(st, svc, summarizer, answer.Options{
		SectionLimit:           cfg.Retrieval.SectionResultLimit,
		LowConfidenceThreshold: cfg.Retrieval.LowConfidenceThreshold,
		ConversationWindow:     cfg.Retrieval.ConversationWindowSize,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := st.Ping(ctx); err != nil {
			http.Error(w, "database unreachable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(200)
	})

	mux.HandleFunc("/auth/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, map[string]bool{"enabled": authn.Enabled()})
	})

	mux.HandleFunc("/units/", authn.Middleware(func(w http.ResponseWriter, r *http.Request) {
		rel := strings.TrimPrefix(r.URL.Path, "/units/")
		rel = strings.TrimSuffix(rel, "/")
		unitID, ok := strings.CutSuffix(rel, "/manuals")
		if !ok || unitID == "" || strings.Contains(unitID, "/") {
			http.NotFound(w, r)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		unit, model, err := st.GetUnit(ctx, unitID)
		if err != nil {
			if errors.Is(err, store.ErrUnitNotFound) {
				writeError(w, http.StatusNotFound, "unit not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		manuals, err := st.ListActiveManuals(ctx, model.ID)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}

		writeJSON(w, 200, map[string]any{
			"unit":    unit,
			"model":   model,
			"manuals": manuals,
		})
	}))

	mux.HandleFunc("/chat/ask", authn.Middleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		start := time.Now()

		var req askRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if strings.TrimSpace(req.UnitID) == "" {
			writeError(w, http.StatusBadRequest, "unitId is required")
			return
		}
		question, history := extractQuestion(req)
		if question == "" {
			writeError(w, http.StatusBadRequest, "question is required")
			return
		}
		if len(question) > maxQuestionLength {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("question exceeds %d characters", maxQuestionLength))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 60*time.Second)
		defer cancel()

		cc, err := assembler.GatherChatContext(ctx, req.UnitID, question, history)
		if err != nil {
			if errors.Is(err, store.ErrUnitNotFound) {
				writeError(w, http.StatusNotFound, "unit not found")
				return
			}
			hlog.FromRequest(r).Error().Err(err).Str("unit", req.UnitID).Msg("context assembly failed")
			writeError(w, http.StatusInternalServerError, "failed to assemble context")
			return
		}

		text, err := client.Complete(ctx, ai.CompletionRequest{
			System:      answer.BuildSystemPrompt(cc),
			User:        question,
			Temperature: askTemperature(question),
			MaxTokens:   1200,
		})
		if err != nil {
			hlog.FromRequest(r).Error().Err(err).Str("unit", req.UnitID).Msg("completion failed")
			writeError(w, http.StatusBadGateway, "answer generation failed")
			return
		}

		elapsed := time.Since(start)

		var warnings []string
		if len(cc.Manuals) == 0 {
			warnings = append(warnings, "no manuals are available for this unit")
		} else if len(cc.RelevantSections) == 0 {
			warnings = append(warnings, "no relevant manual sections matched the question")
		}
		if cc.LowConfidence {
			warnings = append(warnings, "low confidence match, verify against the physical manual")
		}
		if cc.DegradedSearch {
			warnings = append(warnings, "semantic search unavailable, results from keyword match only")
		}

		manualID := ""
		if len(cc.RelevantSections) > 0 {
			manualID = cc.RelevantSections[0].ManualID
		}
		qr := models.QuestionRecord{
			UnitID:       req.UnitID,
			ModelID:      cc.Model.ID,
			ManualID:     manualID,
			QuestionText: question,
			AnswerText:   text,
			Sources:      cc.RelevantSections,
			Confidence:   cc.AvgSimilarity,
			ProcessingMs: elapsed.Milliseconds(),
		}
		// History persistence is best effort, answering still succeeds.
		if err := st.SaveQuestion(ctx, qr); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("unit", req.UnitID).Msg("failed to persist question")
		}

		writeJSON(w, 200, askResponse{
			Answer:        text,
			Sources:       sources(cc.RelevantSections),
			LowConfidence: cc.LowConfidence,
			AvgSimilarity: cc.AvgSimilarity,
			Warnings:      warnings,
			Stats: askStats{
				ProcessingMs: elapsed.Milliseconds(),
				Sections:     len(cc.RelevantSections),
				Manuals:      len(cc.Manuals),
			},
		})

		hlog.FromRequest(r).Info().Str("path", "/chat/ask").Str("unit", req.UnitID).
			Int("sections", len(cc.RelevantSections)).
			Bool("low_confidence", cc.LowConfidence).
			Dur("dur", elapsed).Msg("served")
	}))

	handler := hlog.NewHandler(logger)(
		hlog.AccessHandler(func(r *http.Request, status, size int, dur time.Duration) {
			logger.Info().Str("method", r.Method).Str("path", r.URL.Path).Int("status", status).Int("size", size).Dur("dur", dur).Msg("http")
		})(mux),
	)

	address := fmt.Sprintf(":%d", cfg.Port)
	s := &http.Server{Addr: address, Handler: handler}
	logger.Info().Str("addr", s.Addr).Msg("api server listening")
	log.Fatal(s.ListenAndServe())
}
