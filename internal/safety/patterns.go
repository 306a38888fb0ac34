package safety

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

// PII categories. Order matters: scrubbing runs the categories in the
// order of piiCategoryOrder, so the email pass claims addresses before
// the key-like-token pass can swallow long alphanumeric runs.
const (
	CategoryEmail      = "email"
	CategoryPhone      = "phone"
	CategorySSN        = "ssn"
	CategoryCreditCard = "credit_card"
	CategoryIPAddress  = "ip_address"
	CategoryAPIKey     = "api_key"
)

// Prohibited-content categories.
const (
	CategoryViolence   = "violence"
	CategoryHateSpeech = "hate_speech"
	CategoryIllegal    = "illegal"
)

var piiCategoryOrder = []string{
	CategoryEmail,
	CategoryPhone,
	CategorySSN,
	CategoryCreditCard,
	CategoryIPAddress,
	CategoryAPIKey,
}

var prohibitedCategoryOrder = []string{
	CategoryViolence,
	CategoryHateSpeech,
	CategoryIllegal,
}

var defaultPIIPatterns = map[string]string{
	CategoryEmail:      `(?i)\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
	CategoryPhone:      `\b(?:\+?1[-.\s]?)?\(?[0-9]{3}\)?[-.\s]?[0-9]{3}[-.\s]?[0-9]{4}\b`,
	CategorySSN:        `\b[0-9]{3}[-.\s]?[0-9]{2}[-.\s]?[0-9]{4}\b`,
	CategoryCreditCard: `\b(?:4[0-9]{12}(?:[0-9]{3})?|5[1-5][0-9]{14}|3[47][0-9]{13}|3[0-9]{13}|6(?:011|5[0-9]{2})[0-9]{12})\b`,
	CategoryIPAddress:  `\b(?:[0-9]{1,3}\.){3}[0-9]{1,3}\b`,
	CategoryAPIKey:     `\b[A-Za-z0-9]{32,}\b`,
}

var defaultProhibitedPatterns = map[string][]string{
	CategoryViolence: {
		`(?i)\b(?:kill|murder|assassinate|bomb|terrorist|weapon)\b`,
		`(?i)\b(?:violence|violent|attack|assault)\b`,
	},
	CategoryHateSpeech: {
		`(?i)\b(?:hate|racist|discrimination|bigot)\b`,
	},
	CategoryIllegal: {
		`(?i)\b(?:illegal|drug|narcotic|cocaine|heroin)\b`,
		`(?i)\b(?:fraud|scam|money laundering)\b`,
	},
}

// PatternSet holds compiled detection tables. Built once, read-only
// afterwards, so it is safe for concurrent scans.
type PatternSet struct {
	pii        map[string]*regexp.Regexp
	prohibited map[string][]*regexp.Regexp
	disabled   map[string]bool
}

// DefaultPatterns compiles the built-in tables with every category
// enabled.
func DefaultPatterns() *PatternSet {
	ps := &PatternSet{
		pii:        make(map[string]*regexp.Regexp, len(defaultPIIPatterns)),
		prohibited: make(map[string][]*regexp.Regexp, len(defaultProhibitedPatterns)),
		disabled:   make(map[string]bool),
	}
	for category, pattern := range defaultPIIPatterns {
		ps.pii[category] = regexp.MustCompile(pattern)
	}
	for category, patterns := range defaultProhibitedPatterns {
		compiled := make([]*regexp.Regexp, 0, len(patterns))
		for _, pattern := range patterns {
			compiled = append(compiled, regexp.MustCompile(pattern))
		}
		ps.prohibited[category] = compiled
	}
	return ps
}

// Disable turns off a PII category. Disabled categories neither count
// nor redact; their zero count still appears in reports.
func (ps *PatternSet) Disable(categories ...string) {
	for _, c := range categories {
		ps.disabled[c] = true
	}
}

func (ps *PatternSet) enabled(category string) bool {
	return !ps.disabled[category]
}

// patternsFile is the on-disk override format.
type patternsFile struct {
	SchemaVersion int      `yaml:"schema_version"`
	FileType      string   `yaml:"file_type"`
	DisabledPII   []string `yaml:"disabled_pii,omitempty"`
	Prohibited    map[string]struct {
		Terms []string `yaml:"terms"`
	} `yaml:"prohibited,omitempty"`
}

// LoadPatternsFile builds a PatternSet from the defaults plus the
// overrides in a YAML file: PII categories to disable and extra
// prohibited terms per category. Extra terms become one word-bounded,
// case-insensitive alternation per category.
func LoadPatternsFile(path string) (*PatternSet, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read patterns file: %w", err)
	}

	var file patternsFile
	if err := yaml.Unmarshal(content, &file); err != nil {
		return nil, fmt.Errorf("parse patterns file: %w", err)
	}

	ps := DefaultPatterns()
	for _, category := range file.DisabledPII {
		if _, ok := ps.pii[category]; !ok {
			return nil, fmt.Errorf("unknown PII category %q", category)
		}
		ps.Disable(category)
	}

	for category, extra := range file.Prohibited {
		if _, ok := ps.prohibited[category]; !ok {
			return nil, fmt.Errorf("unknown prohibited category %q", category)
		}
		if len(extra.Terms) == 0 {
			continue
		}
		quoted := make([]string, 0, len(extra.Terms))
		for _, term := range extra.Terms {
			quoted = append(quoted, regexp.QuoteMeta(term))
		}
		pattern, err := regexp.Compile(`(?i)\b(?:` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return nil, fmt.Errorf("compile prohibited terms for %q: %w", category, err)
		}
		ps.prohibited[category] = append(ps.prohibited[category], pattern)
	}

	return ps, nil
}
