// Package safety scans text flowing into and out of task execution for
// PII and prohibited content, redacts findings, and computes a bounded
// safety score. The enforcer is stateless apart from its configured
// pattern tables.
package safety

import (
	"regexp"
	"strings"
	"time"

	"github.com/crewops/crewd/internal/events"
)

// Score deductions. PII deducts per hit up to a cap; each prohibited
// category present deducts a fixed penalty regardless of match count,
// and the penalties stack.
const (
	piiDeductionPerHit = 0.05
	piiDeductionCap    = 0.3

	violencePenalty   = 0.4
	hateSpeechPenalty = 0.5
	illegalPenalty    = 0.6
)

// DefaultAlertThreshold is the score below which a safety alert fires.
const DefaultAlertThreshold = 0.7

// Report describes one scanned text fragment. PIIFound carries every
// category, zero counts included; ProhibitedContent omits empty
// categories.
type Report struct {
	OriginalLength    int                 `json:"original_length" yaml:"original_length"`
	PIIFound          map[string]int      `json:"pii_found" yaml:"pii_found"`
	ProhibitedContent map[string][]string `json:"prohibited_content" yaml:"prohibited_content"`
	RedactionsMade    int                 `json:"redactions_made" yaml:"redactions_made"`
	SafetyScore       float64             `json:"safety_score" yaml:"safety_score"`
	Timestamp         time.Time           `json:"timestamp" yaml:"timestamp"`
}

// Enforcer applies the pattern tables and reports findings to the audit
// sink. Safe for concurrent use.
type Enforcer struct {
	patterns       *PatternSet
	audit          events.Sink
	bus            *events.Bus
	alertThreshold float64
}

// NewEnforcer wires an enforcer. sink may be events.NopSink{}; bus may
// be nil when nothing consumes alerts.
func NewEnforcer(patterns *PatternSet, sink events.Sink, bus *events.Bus, alertThreshold float64) *Enforcer {
	if patterns == nil {
		patterns = DefaultPatterns()
	}
	if sink == nil {
		sink = events.NopSink{}
	}
	if alertThreshold <= 0 {
		alertThreshold = DefaultAlertThreshold
	}
	return &Enforcer{
		patterns:       patterns,
		audit:          sink,
		bus:            bus,
		alertThreshold: alertThreshold,
	}
}

// Scan redacts PII from text, checks the redacted text for prohibited
// content, and scores the result. Pure: no audit side effects.
func (e *Enforcer) Scan(text string) (string, Report) {
	report := Report{
		OriginalLength:    len(text),
		PIIFound:          make(map[string]int, len(piiCategoryOrder)),
		ProhibitedContent: make(map[string][]string),
		SafetyScore:       1.0,
		Timestamp:         time.Now().UTC(),
	}

	cleaned := text
	for _, category := range piiCategoryOrder {
		count := 0
		if e.patterns.enabled(category) {
			cleaned, count = scrubCategory(cleaned, category, e.patterns.pii[category])
		}
		report.PIIFound[category] = count
		report.RedactionsMade += count
	}

	// Prohibited pass runs over the redacted text on purpose: redaction
	// tokens must not hide surrounding prohibited terms.
	for _, category := range prohibitedCategoryOrder {
		matches := findProhibited(cleaned, e.patterns.prohibited[category])
		if len(matches) > 0 {
			report.ProhibitedContent[category] = matches
		}
	}

	report.SafetyScore = calculateScore(report.PIIFound, report.ProhibitedContent)
	return cleaned, report
}

// Enforce scans text and records a safety_check audit event; a score
// below the alert threshold additionally raises a safety_alert. The
// alert is a side effect only: enforcement never blocks content.
func (e *Enforcer) Enforce(text, jobID string, context map[string]any) (string, Report) {
	cleaned, report := e.Scan(text)

	_ = e.audit.Record(events.TypeSafetyCheck, map[string]any{
		"safety_report": report,
		"context":       context,
	}, jobID)

	if report.SafetyScore < e.alertThreshold {
		data := map[string]any{
			"alert_type":         "low_safety_score",
			"safety_score":       report.SafetyScore,
			"pii_found":          report.PIIFound,
			"prohibited_content": report.ProhibitedContent,
		}
		_ = e.audit.Record(events.TypeSafetyAlert, data, jobID)
		if e.bus != nil {
			e.bus.Publish(events.EventSafetyAlert, data)
		}
	}

	return cleaned, report
}

// scrubCategory counts and redacts one category's matches. The SSN
// table over-matches (RE2 has no lookahead), so candidates that are not
// plausible national ids pass through untouched and uncounted.
func scrubCategory(text, category string, re *regexp.Regexp) (string, int) {
	count := 0
	redacted := re.ReplaceAllStringFunc(text, func(match string) string {
		if category == CategorySSN && !plausibleSSN(match) {
			return match
		}
		count++
		return redactMatch(category, match)
	})
	return redacted, count
}

func redactMatch(category, match string) string {
	switch category {
	case CategoryEmail:
		return redactEmail(match)
	case CategoryPhone:
		return "[PHONE_REDACTED]"
	case CategorySSN:
		return "XXX-XX-XXXX"
	case CategoryCreditCard:
		return "[CARD_REDACTED]"
	case CategoryIPAddress:
		return "XXX.XXX.XXX.XXX"
	case CategoryAPIKey:
		return "[API_KEY_REDACTED]"
	}
	return match
}

// redactEmail masks the local part, keeping its first and last character
// and the full domain. Local parts of length <= 2 become ***; anything
// without exactly one @ falls back to a literal token.
func redactEmail(email string) string {
	parts := strings.Split(email, "@")
	if len(parts) != 2 {
		return "[EMAIL_REDACTED]"
	}
	local, domain := parts[0], parts[1]
	if len(local) <= 2 {
		return "***@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}

// plausibleSSN rejects area 000/666/9xx, group 00, and serial 0000,
// mirroring what the detection table's lookaheads exclude elsewhere.
func plausibleSSN(candidate string) bool {
	digits := make([]byte, 0, 9)
	for i := 0; i < len(candidate); i++ {
		if candidate[i] >= '0' && candidate[i] <= '9' {
			digits = append(digits, candidate[i])
		}
	}
	if len(digits) != 9 {
		return false
	}
	area, group, serial := string(digits[:3]), string(digits[3:5]), string(digits[5:])
	if area == "000" || area == "666" || area[0] == '9' {
		return false
	}
	if group == "00" || serial == "0000" {
		return false
	}
	return true
}

func findProhibited(text string, patterns []*regexp.Regexp) []string {
	seen := make(map[string]bool)
	var matches []string
	for _, re := range patterns {
		for _, m := range re.FindAllString(text, -1) {
			key := strings.ToLower(m)
			if !seen[key] {
				seen[key] = true
				matches = append(matches, m)
			}
		}
	}
	return matches
}

func calculateScore(piiFound map[string]int, prohibited map[string][]string) float64 {
	score := 1.0

	totalPII := 0
	for _, count := range piiFound {
		totalPII += count
	}
	if totalPII > 0 {
		deduction := float64(totalPII) * piiDeductionPerHit
		if deduction > piiDeductionCap {
			deduction = piiDeductionCap
		}
		score -= deduction
	}

	for category, matches := range prohibited {
		if len(matches) == 0 {
			continue
		}
		switch category {
		case CategoryViolence:
			score -= violencePenalty
		case CategoryHateSpeech:
			score -= hateSpeechPenalty
		case CategoryIllegal:
			score -= illegalPenalty
		}
	}

	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
