package main

import (
	"context"
	"log"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/config"
	"github.com/fieldassist/manualsearch/internal/ingest"
	"github.com/fieldassist/manualsearch/internal/store"
)

func main() {
	_ = godotenv.Load()

	fs := pflag.NewFlagSet("manualsearch-ingest", pflag.ExitOnError)
	root := fs.String("root", ".", "directory of extracted manual text files")
	modelID := fs.String("model-id", "", "equipment model the manuals belong to")

	cfg, err := config.Load("", fs)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	fs.Usage = cfg.Usage

	if strings.TrimSpace(*modelID) == "" {
		log.Fatal("--model-id is required")
	}

	provider := strings.ToLower(cfg.Provider)
	log.Printf("using provider: %s", provider)
	var clientConfig *ai.ClientConfig
	switch provider {
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
		log.Fatalf("unsupported provider: %s", provider)
	}

	ctx := context.Background()

	st, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	in, err := ingest.New(st, *root, *modelID, clientConfig)
	if err != nil {
		log.Fatal(err)
	}

	if in.Client.Dim() == 0 {
		log.Fatal("embedding dimension must be set")
	}

	if err := st.Migrate(ctx, in.Client.Dim()); err != nil {
		log.Fatal(err)
	}

	if err := in.Run(ctx); err != nil {
		log.Fatal(err)
	}
}
