package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"

	"github.com/fieldassist/manualsearch/pkg/models"
)

// ErrUnitNotFound is returned when a unit id does not resolve to a
// record. Fatal for the request; never retried.
var ErrUnitNotFound = errors.New("unit not found")

// Store provides methods to interact with the database.
type Store struct {
	pool *pgxpool.Pool
}

// VectorMatch is a raw vector-search row: the section projection plus
// the cosine distance reported by pgvector. Conversion to a similarity
// score happens in the search layer so the formula stays testable.
type VectorMatch struct {
	Hit      models.SearchHit
	Distance float64
}

// MetadataStore covers the unit/model/manual lookups the context
// assembler needs.
type MetadataStore interface {
	GetUnit(ctx context.Context, unitID string) (models.Unit, models.Model, error)
	ListActiveManuals(ctx context.Context, modelID string) ([]models.Manual, error)
	SaveQuestion(ctx context.Context, q models.QuestionRecord) error
}

// SectionStore covers section retrieval and ingestion writes.
type SectionStore interface {
	KeywordSearch(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error)
	VectorSearch(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]VectorMatch, error)
	UpsertManual(ctx context.Context, m models.Manual) error
	UpsertSection(ctx context.Context, s models.ManualSection, vec []float32) error
}

// New creates a new Store instance connected to the given database URL.
func New(ctx context.Context, url string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(url)
	if err != nil {
		return nil, err
	}
	p, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return &Store{pool: p}, nil
}

func (s *Store) Close() { s.pool.Close() }

// Migrate applies necessary database migrations and schema setup.
func (s *Store) Migrate(ctx context.Context, embedDim int) error {
	q := `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS oems (
  id    TEXT PRIMARY KEY,
  name  TEXT NOT NULL UNIQUE
);

CREATE TABLE IF NOT EXISTS product_lines (
  id      TEXT PRIMARY KEY,
  oem_id  TEXT NOT NULL REFERENCES oems(id),
  name    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS models (
  id              TEXT PRIMARY KEY,
  product_line_id TEXT NOT NULL REFERENCES product_lines(id),
  model_number    TEXT NOT NULL,
  specifications  JSONB NOT NULL DEFAULT '{}'::jsonb
);

CREATE TABLE IF NOT EXISTS units (
  id            TEXT PRIMARY KEY,
  model_id      TEXT NOT NULL REFERENCES models(id),
  nickname      TEXT NOT NULL,
  serial_number TEXT,
  location      TEXT,
  install_date  TIMESTAMP WITH TIME ZONE,
  notes         TEXT
);

CREATE TABLE IF NOT EXISTS manuals (
  id          TEXT PRIMARY KEY,
  model_id    TEXT NOT NULL REFERENCES models(id),
  title       TEXT NOT NULL,
  manual_type TEXT NOT NULL DEFAULT 'service',
  page_count  INT NOT NULL DEFAULT 0,
  status      TEXT NOT NULL DEFAULT 'processing'
);

CREATE TABLE IF NOT EXISTS manual_sections (
  id             TEXT PRIMARY KEY,
  manual_id      TEXT NOT NULL REFERENCES manuals(id),
  section_title  TEXT NOT NULL DEFAULT '',
  section_type   TEXT NOT NULL DEFAULT 'general',
  content        TEXT NOT NULL,
  page_reference TEXT NOT NULL DEFAULT '',
  keywords       TEXT[] NOT NULL DEFAULT '{}',
  model_numbers  TEXT[] NOT NULL DEFAULT '{}',
  part_numbers   TEXT[] NOT NULL DEFAULT '{}',
  embedding      vector(%d),
  created_at     TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE TABLE IF NOT EXISTS questions (
  id             TEXT PRIMARY KEY,
  unit_id        TEXT NOT NULL REFERENCES units(id),
  model_id       TEXT NOT NULL REFERENCES models(id),
  manual_id      TEXT,
  question_text  TEXT NOT NULL,
  answer_text    TEXT NOT NULL DEFAULT '',
  sources        JSONB NOT NULL DEFAULT '[]'::jsonb,
  confidence     DOUBLE PRECISION NOT NULL DEFAULT 0,
  processing_ms  BIGINT NOT NULL DEFAULT 0,
  created_at     TIMESTAMP WITH TIME ZONE DEFAULT now()
);

CREATE INDEX IF NOT EXISTS manuals_model_status_idx
  ON manuals (model_id, status);

CREATE INDEX IF NOT EXISTS manual_sections_manual_idx
  ON manual_sections (manual_id);

CREATE INDEX IF NOT EXISTS manual_sections_embedding_idx
  ON manual_sections USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100);
`
	_, err := s.pool.Exec(ctx, fmt.Sprintf(q, embedDim))
	return err
}

// GetUnit fetches a unit with its model, product line, and OEM joined.
func (s *Store) GetUnit(ctx context.Context, unitID string) (models.Unit, models.Model, error) {
	const q = `
SELECT u.id, u.nickname, COALESCE(u.serial_number, ''), COALESCE(u.location, ''),
       u.install_date, COALESCE(u.notes, ''),
       m.id, m.model_number, m.specifications,
       pl.name, o.name
FROM units u
JOIN models m        ON m.id = u.model_id
JOIN product_lines pl ON pl.id = m.product_line_id
JOIN oems o          ON o.id = pl.oem_id
WHERE u.id = $1`

	var (
		unit     models.Unit
		model    models.Model
		specJSON []byte
	)
	err := s.pool.QueryRow(ctx, q, unitID).Scan(
		&unit.ID, &unit.Nickname, &unit.SerialNumber, &unit.Location,
		&unit.InstallDate, &unit.Notes,
		&model.ID, &model.ModelNumber, &specJSON,
		&model.ProductLine, &model.OEM,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Unit{}, models.Model{}, fmt.Errorf("%w: %s", ErrUnitNotFound, unitID)
		}
		return models.Unit{}, models.Model{}, err
	}
	if len(specJSON) > 0 {
		if err := json.Unmarshal(specJSON, &model.Specifications); err != nil {
			return models.Unit{}, models.Model{}, fmt.Errorf("decode specifications: %w", err)
		}
	}
	return unit, model, nil
}

// ListActiveManuals returns the manuals for a model that have finished
// processing. Manuals still processing or quarantined are excluded.
func (s *Store) ListActiveManuals(ctx context.Context, modelID string) ([]models.Manual, error) {
	const q = `
SELECT id, model_id, title, manual_type, page_count, status
FROM manuals
WHERE model_id = $1 AND status = 'active'
ORDER BY title`

	rows, err := s.pool.Query(ctx, q, modelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.Manual
	for rows.Next() {
		var m models.Manual
		if err := rows.Scan(&m.ID, &m.ModelID, &m.Title, &m.Type, &m.PageCount, &m.Status); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// KeywordSearch matches sections whose content contains ANY of the
// wildcard terms, restricted to the given manuals. Hits carry perfect
// similarity by convention; order is whatever the match produced.
func (s *Store) KeywordSearch(ctx context.Context, terms []string, manualIDs []string, limit int) ([]models.SearchHit, error) {
	if len(terms) == 0 || len(manualIDs) == 0 {
		return []models.SearchHit{}, nil
	}

	const q = `
SELECT ms.id, ms.manual_id, COALESCE(NULLIF(ms.section_title, ''), 'Untitled Section'),
       ms.section_type, ms.content,
       COALESCE(NULLIF(ms.page_reference, ''), 'Unknown page'),
       m.title
FROM manual_sections ms
JOIN manuals m ON m.id = ms.manual_id
WHERE ms.manual_id = ANY($1)
  AND ms.content ILIKE ANY($2)
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, manualIDs, terms, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []models.SearchHit
	for rows.Next() {
		var h models.SearchHit
		if err := rows.Scan(&h.SectionID, &h.ManualID, &h.SectionTitle, &h.SectionType,
			&h.Content, &h.PageReference, &h.ManualTitle); err != nil {
			return nil, err
		}
		h.Similarity = 1.0
		h.IsKeywordMatch = true
		out = append(out, h)
	}
	return out, rows.Err()
}

// VectorSearch returns the closest sections by cosine distance,
// restricted to the given manuals. The caller decides how many rows to
// over-fetch for post-filtering.
func (s *Store) VectorSearch(ctx context.Context, vec []float32, manualIDs []string, limit int) ([]VectorMatch, error) {
	if len(manualIDs) == 0 {
		return []VectorMatch{}, nil
	}

	const q = `
SELECT ms.id, ms.manual_id, COALESCE(NULLIF(ms.section_title, ''), 'Untitled Section'),
       ms.section_type, ms.content,
       COALESCE(NULLIF(ms.page_reference, ''), 'Unknown page'),
       m.title,
       ms.embedding <=> $1 AS distance
FROM manual_sections ms
JOIN manuals m ON m.id = ms.manual_id
WHERE ms.manual_id = ANY($2)
  AND ms.embedding IS NOT NULL
ORDER BY ms.embedding <=> $1
LIMIT $3`

	rows, err := s.pool.Query(ctx, q, pgvector.NewVector(vec), manualIDs, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []VectorMatch
	for rows.Next() {
		var vm VectorMatch
		if err := rows.Scan(&vm.Hit.SectionID, &vm.Hit.ManualID, &vm.Hit.SectionTitle,
			&vm.Hit.SectionType, &vm.Hit.Content, &vm.Hit.PageReference,
			&vm.Hit.ManualTitle, &vm.Distance); err != nil {
			return nil, err
		}
		out = append(out, vm)
	}
	return out, rows.Err()
}

// UpsertManual inserts or updates a manual record.
func (s *Store) UpsertManual(ctx context.Context, m models.Manual) error {
	const q = `
INSERT INTO manuals (id, model_id, title, manual_type, page_count, status)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
  title       = EXCLUDED.title,
  manual_type = EXCLUDED.manual_type,
  page_count  = EXCLUDED.page_count,
  status      = EXCLUDED.status`

	_, err := s.pool.Exec(ctx, q, m.ID, m.ModelID, m.Title, m.Type, m.PageCount, m.Status)
	return err
}

// UpsertSection inserts or updates one manual section with its
// embedding.
func (s *Store) UpsertSection(ctx context.Context, sec models.ManualSection, vec []float32) error {
	var ev any
	if vec != nil {
		ev = pgvector.NewVector(vec)
	} else {
		ev = (*pgvector.Vector)(nil)
	}

	const q = `
INSERT INTO manual_sections (
  id, manual_id, section_title, section_type, content, page_reference,
  keywords, model_numbers, part_numbers, embedding, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10, now())
ON CONFLICT (id) DO UPDATE SET
  section_title  = EXCLUDED.section_title,
  section_type   = EXCLUDED.section_type,
  content        = EXCLUDED.content,
  page_reference = EXCLUDED.page_reference,
  keywords       = EXCLUDED.keywords,
  model_numbers  = EXCLUDED.model_numbers,
  part_numbers   = EXCLUDED.part_numbers,
  embedding      = COALESCE(EXCLUDED.embedding, manual_sections.embedding)`

	_, err := s.pool.Exec(ctx, q,
		sec.ID, sec.ManualID, sec.SectionTitle, sec.SectionType, sec.Content,
		sec.PageReference, sec.Keywords, sec.ModelNumbers, sec.PartNumbers, ev,
	)
	return err
}

// SaveQuestion persists an answered question with its sources.
func (s *Store) SaveQuestion(ctx context.Context, qr models.QuestionRecord) error {
	if qr.ID == "" {
		qr.ID = uuid.NewString()
	}
	sources, err := json.Marshal(qr.Sources)
	if err != nil {
		return fmt.Errorf("encode sources: %w", err)
	}

	const q = `
INSERT INTO questions (
  id, unit_id, model_id, manual_id, question_text, answer_text,
  sources, confidence, processing_ms, created_at
) VALUES ($1,$2,$3,NULLIF($4,''),$5,$6,$7,$8,$9, now())`

	_, err = s.pool.Exec(ctx, q,
		qr.ID, qr.UnitID, qr.ModelID, qr.ManualID, qr.QuestionText,
		qr.AnswerText, sources, qr.Confidence, qr.ProcessingMs,
	)
	return err
}

// Ping checks the database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return s.pool.Ping(ctx)
}
