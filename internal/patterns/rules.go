package patterns

import (
	"regexp"
	"strings"
)

// Match is one recognized technical pattern plus the ILIKE wildcard
// terms it contributes to keyword search.
type Match struct {
	Pattern     string
	SearchTerms []string
}

// Rule recognizes one category of technical vocabulary in a question.
// Rules are deliberately permissive: a false positive only adds a
// wildcard term that keyword search will fail to match, while a false
// negative can hide the one manual row that answers an exact-code
// question.
type Rule interface {
	Name() string
	Match(question string) []Match
}

// DefaultRules is the ordered rule set used by Detect.
var DefaultRules = []Rule{
	diagnosticCodeRule{},
	standaloneCodeRule{},
	indicatorRule{},
	shortIndicatorRule{},
	componentIndicatorRule{},
	partNumberRule{},
	modelNumberRule{},
	serialNumberRule{},
	measurementRule{},
	sizeRule{},
	terminalRule{},
	broadTermRule{},
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// diagnosticCodeRule matches labeled codes: "flash code 74", "error code
// E1", "alarm B12", "code 45".
type diagnosticCodeRule struct{}

var diagnosticCodeRe = regexp.MustCompile(`(?i)\b(?:flash|error|fault|diagnostic|trouble|alarm|the)?\s*code\s*[:\s]*([a-z]+\d+|[a-z]?\d+[a-z]?)\b`)

func (diagnosticCodeRule) Name() string { return "diagnostic-code" }

func (diagnosticCodeRule) Match(q string) []Match {
	var out []Match
	for _, m := range diagnosticCodeRe.FindAllStringSubmatch(q, -1) {
		code := strings.ToUpper(m[1])
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + code + "%",
				"% " + code + "%",
				"%" + code + " %",
				"% " + code + " %",
				"%code%" + code + "%",
				"%Code " + code + "%",
				"%CODE" + code + "%",
				"%" + strings.ToLower(code) + "%",
			},
		})
	}
	return out
}

// standaloneCodeRule matches bare letter+digit codes such as "A40" or
// "E1F" that are likely option or fault identifiers.
type standaloneCodeRule struct{}

var standaloneCodeRe = regexp.MustCompile(`\b([A-Z]\d+[A-Z]?)\b`)

func (standaloneCodeRule) Name() string { return "standalone-code" }

func (standaloneCodeRule) Match(q string) []Match {
	var out []Match
	for _, m := range standaloneCodeRe.FindAllStringSubmatch(strings.ToUpper(q), -1) {
		code := m[1]
		out = append(out, Match{
			Pattern: "standalone:" + code,
			SearchTerms: []string{
				"%" + code + "%",
				"% " + code + "%",
				"%" + code + " %",
				"% " + code + " %",
				"%CODE" + code + "%",
			},
		})
	}
	return out
}

// indicatorRule matches numbered indicator references: "LED 200",
// "light 3", "lamp 12".
type indicatorRule struct{}

var indicatorRe = regexp.MustCompile(`(?i)\b(led|light|indicator|display|lamp)\s*(\d{1,3})\b`)

func (indicatorRule) Name() string { return "indicator" }

func (indicatorRule) Match(q string) []Match {
	var out []Match
	for _, m := range indicatorRe.FindAllStringSubmatch(q, -1) {
		typ, num := m[1], m[2]
		upper := strings.ToUpper(typ)
		lower := strings.ToLower(typ)
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + upper + num + "%",
				"%" + upper + " " + num + "%",
				"%" + lower + num + "%",
				"%" + lower + " " + num + "%",
			},
		})
	}
	return out
}

// shortIndicatorRule matches short-form board LED names like "LD1".
type shortIndicatorRule struct{}

var shortIndicatorRe = regexp.MustCompile(`(?i)\bld(\d+)\b`)

func (shortIndicatorRule) Name() string { return "short-indicator" }

func (shortIndicatorRule) Match(q string) []Match {
	var out []Match
	for _, m := range shortIndicatorRe.FindAllStringSubmatch(q, -1) {
		num := m[1]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%LD" + num + "%",
				"%ld" + num + "%",
				"%LD " + num + "%",
				"%Ld" + num + "%",
			},
		})
	}
	return out
}

// componentIndicatorRule matches a named component immediately followed
// by an indicator word: "status light", "comms led". The component must
// be at least five letters so bare articles don't trigger it.
type componentIndicatorRule struct{}

var componentIndicatorRe = regexp.MustCompile(`(?i)\b([a-z]{5,})\s+(led|light|indicator|display|lamp)\b`)

func (componentIndicatorRule) Name() string { return "component-indicator" }

func (componentIndicatorRule) Match(q string) []Match {
	var out []Match
	for _, m := range componentIndicatorRe.FindAllStringSubmatch(q, -1) {
		full := m[0]
		out = append(out, Match{
			Pattern: full,
			SearchTerms: []string{
				"%" + full + "%",
				"%" + strings.ToUpper(full) + "%",
				"%" + capitalize(full) + "%",
			},
		})
	}
	return out
}

// partNumberRule matches explicitly labeled part identifiers:
// "part number 12345", "P/N: ABC-123".
type partNumberRule struct{}

var partNumberRe = regexp.MustCompile(`(?i)\b(?:part|component|p/n)[:\s#]*([a-z0-9-]{3,})\b`)

func (partNumberRule) Name() string { return "part-number" }

func (partNumberRule) Match(q string) []Match {
	var out []Match
	for _, m := range partNumberRe.FindAllStringSubmatch(q, -1) {
		part := m[1]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + part + "%",
				"%" + strings.ToUpper(part) + "%",
				"%" + strings.ToLower(part) + "%",
			},
		})
	}
	return out
}

// modelNumberRule matches labeled model identifiers: "model 25VNA8".
type modelNumberRule struct{}

var modelNumberRe = regexp.MustCompile(`(?i)\bmodel[:\s]*([a-z0-9-]{3,})\b`)

func (modelNumberRule) Name() string { return "model-number" }

func (modelNumberRule) Match(q string) []Match {
	var out []Match
	for _, m := range modelNumberRe.FindAllStringSubmatch(q, -1) {
		model := m[1]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + model + "%",
				"%" + strings.ToUpper(model) + "%",
			},
		})
	}
	return out
}

// serialNumberRule matches labeled serial identifiers.
type serialNumberRule struct{}

var serialNumberRe = regexp.MustCompile(`(?i)\bserial[:\s#]*([a-z0-9-]{4,})\b`)

func (serialNumberRule) Name() string { return "serial-number" }

func (serialNumberRule) Match(q string) []Match {
	var out []Match
	for _, m := range serialNumberRe.FindAllStringSubmatch(q, -1) {
		serial := m[1]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + serial + "%",
				"%" + strings.ToUpper(serial) + "%",
			},
		})
	}
	return out
}

// measurementRule matches "<number> <unit>" specification references:
// "3 ton", "24 volt", "410 cfm".
type measurementRule struct{}

var measurementRe = regexp.MustCompile(`(?i)\b(\d+\.?\d*)\s*(ton|btuh|btu|volt|amp|hz|cfm|seer|eer|cop)\b`)

func (measurementRule) Name() string { return "measurement" }

func (measurementRule) Match(q string) []Match {
	var out []Match
	for _, m := range measurementRe.FindAllStringSubmatch(q, -1) {
		out = append(out, Match{
			Pattern:     m[0],
			SearchTerms: []string{"%" + m[0] + "%"},
		})
	}
	return out
}

// sizeRule matches size references explicitly prefixed by "size" or
// "model" so bare numbers don't trigger it.
type sizeRule struct{}

var sizeRe = regexp.MustCompile(`(?i)\b(?:size|model)\s+(\d{2,3}[A-Z]?)\b`)

func (sizeRule) Name() string { return "size" }

func (sizeRule) Match(q string) []Match {
	var out []Match
	for _, m := range sizeRe.FindAllStringSubmatch(q, -1) {
		num := m[1]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%Size " + num + "%",
				"%Sizes%" + num + "%",
			},
		})
	}
	return out
}

// terminalRule matches terminal and wiring designators: "terminal R",
// "wire C", "pin Y1".
type terminalRule struct{}

var terminalRe = regexp.MustCompile(`(?i)\b(terminal|wire|connect|pin)\s+([a-z]{1,2}\d*)\b`)

func (terminalRule) Name() string { return "terminal" }

func (terminalRule) Match(q string) []Match {
	var out []Match
	for _, m := range terminalRe.FindAllStringSubmatch(q, -1) {
		term := m[2]
		out = append(out, Match{
			Pattern: m[0],
			SearchTerms: []string{
				"%" + term + "%",
				"%" + strings.ToUpper(term) + "%",
				"%" + strings.ToLower(term) + "%",
			},
		})
	}
	return out
}

// broadTerms is the fixed vocabulary of operational and maintenance
// language matched as case-insensitive substrings.
var broadTerms = []string{
	"reset", "reboot", "restart", "power cycle",
	"troubleshoot", "diagnose", "problem", "issue",
	"startup", "start-up", "start up", "initial startup",
	"shutdown", "shut down", "turn off",
	"maintenance", "service", "cleaning", "filter",
	"calibration", "adjustment", "setting",
	"installation", "install", "mounting",
	"wiring", "electrical", "connection",
	"safety", "warning", "caution",
	"operation", "operating", "how to use",
	"specifications", "spec", "capacity", "rating",
	"overview", "introduction", "description",
	"refrigerant", "r-134a", "r-410a", "r-22", "freon",
	"charging", "charge", "recharge",
	"evacuate", "evacuation", "vacuum",
	"recovery", "recover",
	"transfer", "transferring",
	"pumpout", "pump out", "pump-out",
	"storage", "tank", "storage tank",
	"leak test", "leak check", "leak detection",
	"pressure test", "pressure check",
	"replace", "replacement", "change",
	"repair", "fix",
	"inspect", "inspection", "check",
	"remove", "removal", "disconnect",
	"valve", "valves",
	"compressor", "condenser", "evaporator",
}

type broadTermRule struct{}

func (broadTermRule) Name() string { return "broad-term" }

func (broadTermRule) Match(q string) []Match {
	lower := strings.ToLower(q)
	var out []Match
	for _, term := range broadTerms {
		if !strings.Contains(lower, term) {
			continue
		}
		out = append(out, Match{
			Pattern: "broad:" + term,
			SearchTerms: []string{
				"%" + term + "%",
				"%" + capitalize(term) + "%",
				"%" + strings.ToUpper(term) + "%",
			},
		})
	}
	return out
}
