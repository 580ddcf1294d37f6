package models

import "time"

// Section type tags assigned by the ingestion pipeline.
const (
	SectionTroubleshooting = "troubleshooting"
	SectionSpecifications  = "specifications"
	SectionWiring          = "wiring"
	SectionParts           = "parts"
	SectionMaintenance     = "maintenance"
	SectionInstallation    = "installation"
	SectionSafety          = "safety"
	SectionGeneral         = "general"
)

// ManualSection is a contiguous, page-tagged excerpt of manual text.
// Sections are written once by ingestion and never mutated by retrieval.
type ManualSection struct {
	ID            string    `json:"id"`
	ManualID      string    `json:"manual_id"`
	SectionTitle  string    `json:"section_title"`
	SectionType   string    `json:"section_type"`
	Content       string    `json:"content"`
	PageReference string    `json:"page_reference"`
	Keywords      []string  `json:"keywords,omitempty"`
	ModelNumbers  []string  `json:"model_numbers,omitempty"`
	PartNumbers   []string  `json:"part_numbers,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// SearchHit is an in-memory projection of a ManualSection plus retrieval
// scoring. Keyword hits carry Similarity 1.0 by convention.
type SearchHit struct {
	SectionID      string  `json:"section_id"`
	ManualID       string  `json:"manual_id"`
	ManualTitle    string  `json:"manual_title"`
	SectionTitle   string  `json:"section_title"`
	SectionType    string  `json:"section_type"`
	Content        string  `json:"content"`
	PageReference  string  `json:"page_reference"`
	Similarity     float64 `json:"similarity"`
	IsKeywordMatch bool    `json:"is_keyword_match"`
}

// Manual describes one document available for a model.
type Manual struct {
	ID        string `json:"id"`
	ModelID   string `json:"model_id"`
	Title     string `json:"title"`
	Type      string `json:"type"`
	PageCount int    `json:"page_count"`
	Status    string `json:"status"`
}

// Unit is a technician's saved piece of equipment.
type Unit struct {
	ID           string     `json:"id"`
	Nickname     string     `json:"nickname"`
	SerialNumber string     `json:"serial_number,omitempty"`
	Location     string     `json:"location,omitempty"`
	InstallDate  *time.Time `json:"install_date,omitempty"`
	Notes        string     `json:"notes,omitempty"`
}

// Model is the equipment model a unit belongs to, with its product line
// and OEM flattened in.
type Model struct {
	ID             string         `json:"id"`
	ModelNumber    string         `json:"model_number"`
	ProductLine    string         `json:"product_line"`
	OEM            string         `json:"oem"`
	Specifications map[string]any `json:"specifications,omitempty"`
}

// Turn roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Turn is one prior message in a chat conversation.
type Turn struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// ChatContext is the per-question aggregate handed to the prompt builder.
// It is built fresh for every question and never persisted.
type ChatContext struct {
	Unit                Unit        `json:"unit"`
	Model               Model       `json:"model"`
	Manuals             []Manual    `json:"manuals"`
	RelevantSections    []SearchHit `json:"relevant_sections"`
	ConversationHistory string      `json:"conversation_history,omitempty"`

	// Coverage signals. AvgSimilarity is 0 when no sections were found;
	// LowConfidence is set only when sections exist but score poorly.
	AvgSimilarity  float64 `json:"avg_similarity"`
	LowConfidence  bool    `json:"low_confidence"`
	DegradedSearch bool    `json:"degraded_search,omitempty"`
}

// QuestionRecord is the persisted trace of one answered question.
type QuestionRecord struct {
	ID           string      `json:"id"`
	UnitID       string      `json:"unit_id"`
	ModelID      string      `json:"model_id"`
	ManualID     string      `json:"manual_id,omitempty"`
	QuestionText string      `json:"question_text"`
	AnswerText   string      `json:"answer_text"`
	Sources      []SearchHit `json:"sources"`
	Confidence   float64     `json:"confidence"`
	ProcessingMs int64       `json:"processing_ms"`
	CreatedAt    time.Time   `json:"created_at"`
}
