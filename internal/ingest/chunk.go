package ingest

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/fieldassist/manualsearch/internal/conversation"
	"github.com/fieldassist/manualsearch/pkg/models"
)

// Page is one page of extracted manual text.
type Page struct {
	Number int
	Text   string
}

// Section is a chunk of manual text ready to be embedded and stored.
type Section struct {
	Title         string
	Type          string
	Content       string
	PageReference string
	Pages         []int
	Keywords      []string
	ModelNumbers  []string
	PartNumbers   []string
}

var pageMarkerRe = regexp.MustCompile(`(?m)^--- PAGE (\d+) ---\s*$`)

// ParsePages splits extracted text at "--- PAGE n ---" markers. Text
// without markers becomes a single page 1.
func ParsePages(content string) []Page {
	locs := pageMarkerRe.FindAllStringSubmatchIndex(content, -1)
	if len(locs) == 0 {
		return []Page{{Number: 1, Text: content}}
	}

	var pages []Page
	for i, loc := range locs {
		num := 0
		fmt.Sscanf(content[loc[2]:loc[3]], "%d", &num)
		start := loc[1]
		end := len(content)
		if i+1 < len(locs) {
			end = locs[i+1][0]
		}
		pages = append(pages, Page{Number: num, Text: strings.TrimSpace(content[start:end])})
	}
	return pages
}

// Section header patterns per coarse type tag.
var sectionTypePatterns = map[string]*regexp.Regexp{
	models.SectionTroubleshooting: regexp.MustCompile(`(?i)troubleshoot|diagnostic|error|fault|problem|issue|repair`),
	models.SectionSpecifications:  regexp.MustCompile(`(?i)specification|spec|rating|capacity|dimension|technical data`),
	models.SectionWiring:          regexp.MustCompile(`(?i)wiring|electrical|circuit|diagram|schematic`),
	models.SectionParts:           regexp.MustCompile(`(?i)parts? list|component|replacement|part number|service parts`),
	models.SectionMaintenance:     regexp.MustCompile(`(?i)maintenance|service|cleaning|filter|inspection|routine`),
	models.SectionInstallation:    regexp.MustCompile(`(?i)install|setup|mounting|connection|piping`),
	models.SectionSafety:          regexp.MustCompile(`(?i)safety|warning|caution|danger|hazard`),
}

// typeOrder keeps classification deterministic across map iteration.
var typeOrder = []string{
	models.SectionTroubleshooting,
	models.SectionSpecifications,
	models.SectionWiring,
	models.SectionParts,
	models.SectionMaintenance,
	models.SectionInstallation,
	models.SectionSafety,
}

// ClassifySectionType tags a section from its title and leading content.
func ClassifySectionType(title, content string) string {
	if len(content) > 200 {
		content = content[:200]
	}
	combined := title + " " + content
	for _, typ := range typeOrder {
		if sectionTypePatterns[typ].MatchString(combined) {
			return typ
		}
	}
	return models.SectionGeneral
}

var (
	modelNumberRes = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z0-9]{5,12}\b`),
		regexp.MustCompile(`\b\d{2}[A-Z]{2,4}\d{1,3}\b`),
	}
	partNumberRes = []*regexp.Regexp{
		regexp.MustCompile(`\b[A-Z]{2,4}-?\d{4,8}-?[A-Z0-9]{0,4}\b`),
		regexp.MustCompile(`(?i)\bP/N[:\s]+([A-Z0-9-]+)`),
	}
	pnPrefixRe = regexp.MustCompile(`(?i)^P/N[:\s]+`)
)

// technicalKeywords is the fixed vocabulary stored as section metadata.
var technicalKeywords = []string{
	"refrigerant", "compressor", "condenser", "evaporator", "coil",
	"fan", "motor", "capacitor", "contactor", "relay", "sensor",
	"thermostat", "valve", "pressure", "temperature", "voltage",
	"current", "circuit", "wire", "fuse", "breaker",
}

func uniqueMatches(text string, res []*regexp.Regexp, max int) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, re := range res {
		for _, m := range re.FindAllString(text, -1) {
			m = pnPrefixRe.ReplaceAllString(m, "")
			if _, ok := seen[m]; ok {
				continue
			}
			seen[m] = struct{}{}
			out = append(out, m)
			if len(out) >= max {
				return out
			}
		}
	}
	return out
}

// ExtractModelNumbers pulls model-number-shaped identifiers from text.
func ExtractModelNumbers(text string) []string {
	return uniqueMatches(text, modelNumberRes, 10)
}

// ExtractPartNumbers pulls part-number-shaped identifiers from text.
func ExtractPartNumbers(text string) []string {
	return uniqueMatches(text, partNumberRes, 20)
}

// ExtractKeywords returns which of the fixed technical vocabulary
// appears in the text.
func ExtractKeywords(text string) []string {
	lower := strings.ToLower(text)
	var out []string
	for _, term := range technicalKeywords {
		if strings.Contains(lower, term) {
			out = append(out, term)
			if len(out) >= 10 {
				break
			}
		}
	}
	return out
}

var (
	flashCodeTableRe = regexp.MustCompile(`(?i)\b(flash|error|fault|diagnostic|trouble)\s*code`)
	numericCodeRe    = regexp.MustCompile(`\b\d{1,3}\b`)
	specTableRe      = regexp.MustCompile(`(?i)\b(specification|rating|capacity|voltage|amperage|pressure|temperature)`)
	partsTableRe     = regexp.MustCompile(`(?i)\b(part\s*number|component|replacement|service\s*parts)`)
	wiringTableRe    = regexp.MustCompile(`(?i)\b(wire|terminal|connection|circuit|schematic)`)
)

// EnrichTableContent prefixes table-heavy text with a natural-language
// context line. Tables embed poorly on their own; the header gives the
// embedding something to latch onto.
func EnrichTableContent(text string) string {
	switch {
	case flashCodeTableRe.MatchString(text):
		codes := make(map[string]struct{})
		for _, c := range numericCodeRe.FindAllString(text, -1) {
			if c != "0" {
				codes[c] = struct{}{}
			}
		}
		list := make([]string, 0, len(codes))
		for c := range codes {
			list = append(list, c)
		}
		sort.Strings(list)
		if len(list) > 0 {
			return "[TABLE CONTEXT: This section contains flash code and error code definitions. Codes present: " +
				strings.Join(list, ", ") + ". Each code has associated actions, causes, and reset information.]\n\n" + text
		}
		return text
	case specTableRe.MatchString(text):
		return "[TABLE CONTEXT: This section contains technical specifications, ratings, and operational parameters for the unit.]\n\n" + text
	case partsTableRe.MatchString(text):
		return "[TABLE CONTEXT: This section contains parts information including part numbers, descriptions, and replacement details.]\n\n" + text
	case wiringTableRe.MatchString(text):
		return "[TABLE CONTEXT: This section contains wiring and electrical connection information including terminals, wire colors, and circuit details.]\n\n" + text
	}
	return text
}

var headerRe = regexp.MustCompile(`^(\d+\.\d*\s+[A-Z].*|[A-Z][A-Z\s/&-]{3,78})$`)

// isHeader reports whether a line looks like a section header: short,
// ALL CAPS, or a numbered section title.
func isHeader(line string) bool {
	line = strings.TrimSpace(line)
	if len(line) < 4 || len(line) > 80 {
		return false
	}
	if line == strings.ToUpper(line) && strings.ContainsAny(line, "ABCDEFGHIJKLMNOPQRSTUVWXYZ") {
		return true
	}
	return headerRe.MatchString(line)
}

// PageRef formats a page span as "Page 5" or "Pages 12-14".
func PageRef(pages []int) string {
	if len(pages) == 0 {
		return "Unknown page"
	}
	lo, hi := pages[0], pages[0]
	for _, p := range pages[1:] {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	if lo == hi {
		return fmt.Sprintf("Page %d", lo)
	}
	return fmt.Sprintf("Pages %d-%d", lo, hi)
}

// BuildSections chunks parsed pages into sections around the target
// token size. Headers start a new section; [TABLE] blocks are never
// split apart from their page.
func BuildSections(pages []Page, targetTokens int) []Section {
	if targetTokens <= 0 {
		targetTokens = 750
	}

	var (
		out     []Section
		title   = "Introduction"
		content strings.Builder
		span    []int
	)

	flush := func() {
		text := strings.TrimSpace(content.String())
		if text == "" {
			content.Reset()
			return
		}
		enriched := EnrichTableContent(text)
		out = append(out, Section{
			Title:         title,
			Type:          ClassifySectionType(title, text),
			Content:       enriched,
			PageReference: PageRef(span),
			Pages:         append([]int(nil), span...),
			Keywords:      ExtractKeywords(text),
			ModelNumbers:  ExtractModelNumbers(text),
			PartNumbers:   ExtractPartNumbers(text),
		})
		content.Reset()
		span = nil
	}

	for _, page := range pages {
		for _, block := range strings.Split(page.Text, "\n\n") {
			block = strings.TrimSpace(block)
			if block == "" {
				continue
			}

			firstLine := block
			if idx := strings.IndexByte(block, '\n'); idx >= 0 {
				firstLine = block[:idx]
			}
			if isHeader(firstLine) && !strings.Contains(block, "[TABLE]") {
				flush()
				title = strings.TrimSpace(firstLine)
			}

			if content.Len() > 0 &&
				conversation.EstimateTokens(content.String()+block) > targetTokens &&
				!strings.Contains(block, "[TABLE]") {
				flush()
			}

			if content.Len() > 0 {
				content.WriteString("\n\n")
			}
			content.WriteString(block)
			if len(span) == 0 || span[len(span)-1] != page.Number {
				span = append(span, page.Number)
			}
		}
	}
	flush()
	return out
}
