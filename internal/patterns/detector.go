// Package patterns recognizes technical vocabulary in free-form
// questions. Embeddings are poor at telling near-identical alphanumeric
// codes apart ("A40" vs "A41"), so anything that looks like a code,
// indicator, part number, spec, or terminal designation is routed to
// exact keyword matching instead.
package patterns

// Detection is the result of scanning a question against all rules.
type Detection struct {
	HasPattern  bool     `json:"has_pattern"`
	Patterns    []string `json:"patterns"`
	SearchTerms []string `json:"search_terms"`
}

// Detect runs the default rule set over the question and collects every
// contributed wildcard term, deduplicated in first-seen order.
func Detect(question string) Detection {
	return DetectWith(DefaultRules, question)
}

// DetectWith runs an explicit rule set. Rules are independent; the
// detection is the union of their matches.
func DetectWith(rules []Rule, question string) Detection {
	d := Detection{Patterns: []string{}, SearchTerms: []string{}}
	seen := make(map[string]struct{})

	for _, rule := range rules {
		for _, m := range rule.Match(question) {
			d.Patterns = append(d.Patterns, m.Pattern)
			for _, term := range m.SearchTerms {
				if _, ok := seen[term]; ok {
					continue
				}
				seen[term] = struct{}{}
				d.SearchTerms = append(d.SearchTerms, term)
			}
		}
	}

	d.HasPattern = len(d.Patterns) > 0
	return d
}
