package answer

import (
	"strings"
	"testing"
	"time"

	"github.com/fieldassist/manualsearch/pkg/models"
)

func promptContext() models.ChatContext {
	install := time.Date(2019, 6, 14, 0, 0, 0, 0, time.UTC)
	return models.ChatContext{
		Unit: models.Unit{
			ID:           "unit-1",
			Nickname:     "RTU-3 North Roof",
			SerialNumber: "4521X98765",
			Location:     "Building C roof",
			InstallDate:  &install,
		},
		Model: models.Model{
			ID:             "model-1",
			ModelNumber:    "48TC",
			ProductLine:    "WeatherMaker",
			OEM:            "Carrier",
			Specifications: map[string]any{"tonnage": 7.5, "voltage": "460V"},
		},
		Manuals: []models.Manual{
			{ID: "manual-1", Title: "48TC Service Manual", Type: "service", PageCount: 120},
		},
		RelevantSections: []models.SearchHit{
			{
				SectionID:     "s1",
				ManualTitle:   "48TC Service Manual",
				SectionTitle:  "Flash Code Diagnostics",
				SectionType:   models.SectionTroubleshooting,
				Content:       "[TABLE] 74 | Fault | High pressure switch open | Auto | Cool | Dirty condenser coil | Clean coil",
				PageReference: "Page 52",
				Similarity:    1.0,
			},
			{
				SectionID:     "s2",
				ManualTitle:   "48TC Service Manual",
				SectionTitle:  "Pressure Switch Checks",
				SectionType:   models.SectionTroubleshooting,
				Content:       "Verify switch continuity with the unit de-energized.",
				PageReference: "Pages 53-54",
				Similarity:    0.82,
			},
		},
	}
}

func TestBuildSystemPrompt_UnitContext(t *testing.T) {
	p := BuildSystemPrompt(promptContext())

	for _, want := range []string{
		"Carrier 48TC equipment",
		"**Unit Name**: RTU-3 North Roof",
		"**Model**: 48TC (WeatherMaker)",
		"**Serial Number**: 4521X98765",
		"**Installed**: 2019-06-14",
		"\"tonnage\": 7.5",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
}

func TestBuildSystemPrompt_Sections(t *testing.T) {
	p := BuildSystemPrompt(promptContext())

	for _, want := range []string{
		"### Section 1: Flash Code Diagnostics",
		"### Section 2: Pressure Switch Checks",
		"**Source**: 48TC Service Manual, Page 52",
		"**Type**: troubleshooting | **Relevance**: 100%",
		"**Relevance**: 82%",
		"[TABLE] 74 | Fault",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}

	if idx1, idx2 := strings.Index(p, "### Section 1"), strings.Index(p, "### Section 2"); idx1 > idx2 {
		t.Error("sections rendered out of order")
	}
}

func TestBuildSystemPrompt_RulesWithSections(t *testing.T) {
	p := BuildSystemPrompt(promptContext())

	for _, want := range []string{
		"NEVER say \"I cannot find information\" when sections exist",
		"RULE 0: CASE-INSENSITIVE MATCHING",
		"RULE 1: MANUAL-ONLY RESPONSES",
		"RULE 2: CITE EVERY STATEMENT",
		"Example: \"48TC Service Manual, Page 22\"",
		"NEVER REFUSE IF SECTIONS EXIST",
		"Cool, Heat, AND Both",
		"if there are 11 causes, list all 11",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "NO SECTIONS WERE RETRIEVED") {
		t.Error("zero-section fallback must not appear when sections exist")
	}
}

func TestBuildSystemPrompt_ZeroSectionFallback(t *testing.T) {
	c := promptContext()
	c.RelevantSections = nil
	p := BuildSystemPrompt(c)

	for _, want := range []string{
		"No relevant sections found in the manual.",
		"NO SECTIONS WERE RETRIEVED",
		"Search the manual again with different keywords",
		"clearly marked as NOT from the manual",
		"Suggest contacting Carrier technical support",
	} {
		if !strings.Contains(p, want) {
			t.Errorf("prompt missing %q", want)
		}
	}
	if strings.Contains(p, "NEVER REFUSE IF SECTIONS EXIST") {
		t.Error("section-backed rule must not appear without sections")
	}
}

func TestBuildSystemPrompt_ConversationHistory(t *testing.T) {
	c := promptContext()
	c.ConversationHistory = "User: flash code 74 again\n\nAssistant: that is the high pressure fault"
	p := BuildSystemPrompt(c)

	if !strings.Contains(p, "## CONVERSATION HISTORY") {
		t.Error("history block missing")
	}
	if !strings.Contains(p, "User: flash code 74 again") {
		t.Error("history content missing")
	}

	c.ConversationHistory = ""
	if strings.Contains(BuildSystemPrompt(c), "## CONVERSATION HISTORY") {
		t.Error("history block must be omitted when empty")
	}
}
