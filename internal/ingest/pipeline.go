package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/karrick/godirwalk"
	"github.com/rs/zerolog/log"

	"github.com/fieldassist/manualsearch/internal/ai"
	"github.com/fieldassist/manualsearch/internal/store"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// FileSystemWalker defines the interface for walking directories
type FileSystemWalker interface {
	Walk(root string, options *godirwalk.Options) error
}

// FileReader defines the interface for reading files
type FileReader interface {
	ReadFile(filename string) ([]byte, error)
}

// DefaultFileSystemWalker implements FileSystemWalker using godirwalk
type DefaultFileSystemWalker struct{}

func (d *DefaultFileSystemWalker) Walk(root string, options *godirwalk.Options) error {
	return godirwalk.Walk(root, options)
}

// DefaultFileReader implements FileReader using os
type DefaultFileReader struct{}

func (d *DefaultFileReader) ReadFile(filename string) ([]byte, error) {
	return os.ReadFile(filename)
}

// Ingestor loads extracted manual text files into the section store.
// Each .txt file under Root is treated as one manual.
type Ingestor struct {
	Store        store.SectionStore
	Client       ai.Client
	Root         string
	ModelID      string
	TargetTokens int
	Walker       FileSystemWalker
	FileReader   FileReader
}

// New creates an Ingestor with the default filesystem dependencies.
func New(s store.SectionStore, root, modelID string, clientConfig *ai.ClientConfig) (*Ingestor, error) {
	client, err := ai.NewClient(clientConfig)
	if err != nil {
		return nil, err
	}
	return &Ingestor{
		Store:      s,
		Client:     client,
		Root:       root,
		ModelID:    modelID,
		Walker:     &DefaultFileSystemWalker{},
		FileReader: &DefaultFileReader{},
	}, nil
}

// NewWithDependencies creates an Ingestor with custom dependencies for testing
func NewWithDependencies(s store.SectionStore, root, modelID string, client ai.Client, walker FileSystemWalker, fileReader FileReader) *Ingestor {
	return &Ingestor{
		Store:      s,
		Client:     client,
		Root:       root,
		ModelID:    modelID,
		Walker:     walker,
		FileReader: fileReader,
	}
}

// idNamespace keeps manual and section IDs stable across re-ingests of
// the same files.
var idNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("manualsearch"))

func manualID(modelID, path string) string {
	return uuid.NewSHA1(idNamespace, []byte(modelID+"/"+filepath.Base(path))).String()
}

func sectionID(manID string, index int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s#%d", manID, index))).String()
}

// manualTitle derives a display title from the file name.
func manualTitle(path string) string {
	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	name = strings.ReplaceAll(name, "_", " ")
	name = strings.ReplaceAll(name, "-", " ")
	return strings.TrimSpace(name)
}

// manualType guesses the manual type from its file name.
func manualType(path string) string {
	lower := strings.ToLower(filepath.Base(path))
	switch {
	case strings.Contains(lower, "service"):
		return "service"
	case strings.Contains(lower, "install"):
		return "installation"
	case strings.Contains(lower, "wiring"):
		return "wiring"
	case strings.Contains(lower, "parts"):
		return "parts"
	case strings.Contains(lower, "user") || strings.Contains(lower, "owner"):
		return "user"
	default:
		return "service"
	}
}

// workItem represents one manual file to be processed
type workItem struct {
	path    string
	content string
}

func (in *Ingestor) processWorkItem(ctx context.Context, item workItem) error {
	manID := manualID(in.ModelID, item.path)
	pages := ParsePages(item.content)
	sections := BuildSections(pages, in.TargetTokens)

	pageCount := 0
	for _, p := range pages {
		if p.Number > pageCount {
			pageCount = p.Number
		}
	}

	manual := models.Manual{
		ID:        manID,
		ModelID:   in.ModelID,
		Title:     manualTitle(item.path),
		Type:      manualType(item.path),
		PageCount: pageCount,
		Status:    "processing",
	}
	if err := in.Store.UpsertManual(ctx, manual); err != nil {
		return fmt.Errorf("upsert manual %s: %w", manual.Title, err)
	}

	for i, sec := range sections {
		ms := models.ManualSection{
			ID:            sectionID(manID, i),
			ManualID:      manID,
			SectionTitle:  sec.Title,
			SectionType:   sec.Type,
			Content:       sec.Content,
			PageReference: sec.PageReference,
			Keywords:      sec.Keywords,
			ModelNumbers:  sec.ModelNumbers,
			PartNumbers:   sec.PartNumbers,
		}

		var embedding []float32
		if in.Client != nil {
			vec, err := in.Client.Embed(ctx, sec.Content)
			if err != nil {
				log.Warn().Err(err).Str("manual", manual.Title).Str("section", sec.Title).
					Msg("embedding failed, storing section without vector")
			} else {
				embedding = vec
			}
		}

		log.Info().Str("manual", manual.Title).
			Str("section", sec.Title).
			Str("type", sec.Type).
			Str("pages", sec.PageReference).
			Bool("embedded", embedding != nil).
			Msg("ingesting section")
		if err := in.Store.UpsertSection(ctx, ms, embedding); err != nil {
			return fmt.Errorf("upsert section %q: %w", sec.Title, err)
		}
	}

	manual.Status = "active"
	if err := in.Store.UpsertManual(ctx, manual); err != nil {
		return fmt.Errorf("activate manual %s: %w", manual.Title, err)
	}

	log.Info().Str("manual", manual.Title).Int("sections", len(sections)).Msg("manual ingested")
	return nil
}

func shouldSkip(path string) bool {
	base := filepath.Base(path)
	if strings.HasPrefix(base, ".") {
		return true
	}
	return !strings.EqualFold(filepath.Ext(base), ".txt")
}

// Run walks Root and ingests every manual text file it finds.
func (in *Ingestor) Run(ctx context.Context) error {
	numWorkers := runtime.NumCPU()
	if numWorkers > 4 {
		numWorkers = 4 // embedding API rate limits bite fast
	}

	log.Info().Int("workers", numWorkers).Str("root", in.Root).Msg("starting ingestion")

	workChan := make(chan workItem, numWorkers*2)
	errorChan := make(chan error, 1)

	var wg sync.WaitGroup
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			log.Debug().Int("worker", workerID).Msg("worker started")

			for item := range workChan {
				if err := in.processWorkItem(ctx, item); err != nil {
					select {
					case errorChan <- err:
					default:
						log.Error().Err(err).Str("path", item.path).Msg("worker processing error")
					}
				}
			}

			log.Debug().Int("worker", workerID).Msg("worker finished")
		}(i)
	}

	go func() {
		wg.Wait()
		close(errorChan)
	}()

	walkErr := in.Walker.Walk(in.Root, &godirwalk.Options{
		Unsorted: true,
		Callback: func(path string, de *godirwalk.Dirent) error {
			if de != nil && de.IsDir() {
				return nil
			}
			if shouldSkip(path) {
				return nil
			}

			b, err := in.FileReader.ReadFile(path)
			if err != nil {
				log.Warn().Err(err).Str("path", path).Msg("failed to read file")
				return nil
			}

			select {
			case workChan <- workItem{path: path, content: string(b)}:
			case <-ctx.Done():
				return ctx.Err()
			}

			return nil
		},
	})

	close(workChan)
	wg.Wait()

	select {
	case err := <-errorChan:
		if err != nil {
			return err
		}
	default:
	}

	return walkErr
}
