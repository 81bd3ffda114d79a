package memory

import (
	"regexp"
	"strings"
)

// MemoryCategory categorizes captured memories.
type MemoryCategory string

const (
	CategoryPreference MemoryCategory = "preference"
	CategoryFact       MemoryCategory = "fact"
	CategoryDecision   MemoryCategory = "decision"
	CategoryEntity     MemoryCategory = "entity"
	CategoryOther      MemoryCategory = "other"
)

// AutoCaptureConfig configures the ingest pass's salience filter.
type AutoCaptureConfig struct {
	// MaxCapturesPerConversation limits captures per turn (default: 3).
	MaxCapturesPerConversation int `yaml:"max_captures_per_conversation"`

	// MinContentLength is the minimum text length to consider (default: 10).
	MinContentLength int `yaml:"min_content_length"`

	// MaxContentLength is the maximum text length to consider (default: 500).
	MaxContentLength int `yaml:"max_content_length"`

	// DuplicateThreshold is the similarity score above which content is
	// considered a near-duplicate and skipped (default: 0.95).
	DuplicateThreshold float32 `yaml:"duplicate_threshold"`

	// DefaultImportance is the importance score recorded for captures
	// (default: 0.7).
	DefaultImportance float32 `yaml:"default_importance"`
}

// AutoRecallConfig configures the recall gating heuristic.
type AutoRecallConfig struct {
	// MaxResults is the maximum number of memories to surface (default: 3).
	MaxResults int `yaml:"max_results"`

	// MinScore is the minimum similarity score for recall (default: 0.3).
	MinScore float32 `yaml:"min_score"`

	// MinQueryLength is the minimum query length to trigger recall
	// (default: 5).
	MinQueryLength int `yaml:"min_query_length"`
}

func (c AutoCaptureConfig) withDefaults() AutoCaptureConfig {
	if c.MaxCapturesPerConversation == 0 {
		c.MaxCapturesPerConversation = 3
	}
	if c.MinContentLength == 0 {
		c.MinContentLength = 10
	}
	if c.MaxContentLength == 0 {
		c.MaxContentLength = 500
	}
	if c.DuplicateThreshold == 0 {
		c.DuplicateThreshold = 0.95
	}
	if c.DefaultImportance == 0 {
		c.DefaultImportance = 0.7
	}
	return c
}

func (c AutoRecallConfig) withDefaults() AutoRecallConfig {
	if c.MaxResults == 0 {
		c.MaxResults = 3
	}
	if c.MinScore == 0 {
		c.MinScore = 0.3
	}
	if c.MinQueryLength == 0 {
		c.MinQueryLength = 5
	}
	return c
}

// memoryTriggers are regex patterns that mark a message as worth capturing.
var memoryTriggers = []*regexp.Regexp{
	// Explicit memory requests
	regexp.MustCompile(`(?i)remember|zapamatuj|pamatuj`),
	// Preferences
	regexp.MustCompile(`(?i)i (like|prefer|hate|love|want|need|always|never)`),
	regexp.MustCompile(`(?i)preferuji|radši|nechci`),
	// Decisions
	regexp.MustCompile(`(?i)(we|i) (decided|will use|are going to)`),
	regexp.MustCompile(`(?i)rozhodli jsme|budeme používat`),
	// Contact info (phone, email)
	regexp.MustCompile(`\+\d{10,}`),
	regexp.MustCompile(`[\w.-]+@[\w.-]+\.\w{2,}`),
	// Personal facts
	regexp.MustCompile(`(?i)my\s+\w+\s+is|is\s+my`),
	regexp.MustCompile(`(?i)můj\s+\w+\s+je|je\s+můj`),
	// Important markers
	regexp.MustCompile(`(?i)important|crucial|key point`),
}

// anaphoraPattern flags a query as referring back to prior context, which
// makes recall more likely to be useful even for a short query.
var anaphoraPattern = regexp.MustCompile(`(?i)\b(it|that|this|those|they|he|she|him|her|again|earlier|before|previously)\b`)

// shouldCapture determines if content is salient enough to ingest as a
// memory candidate.
func shouldCapture(text string, cfg AutoCaptureConfig) bool {
	cfg = cfg.withDefaults()

	if len(text) < cfg.MinContentLength || len(text) > cfg.MaxContentLength {
		return false
	}

	// Skip injected context from memory recall (avoid recursion).
	if strings.Contains(text, "<relevant-memories>") {
		return false
	}

	// Skip system-generated content (XML-like tags).
	if strings.HasPrefix(text, "<") && strings.Contains(text, "</") {
		return false
	}

	// Skip agent summary responses (markdown formatted lists).
	if strings.Contains(text, "**") && strings.Contains(text, "\n-") {
		return false
	}

	// Skip emoji-heavy responses (likely agent output).
	if countEmojis(text) > 3 {
		return false
	}

	for _, pattern := range memoryTriggers {
		if pattern.MatchString(text) {
			return true
		}
	}

	return false
}

// shouldRecall gates the recall operation on a lightweight heuristic: a
// sufficiently long query, or a short one carrying referential anaphora,
// is likely to benefit from recall. Everything else skips the store round
// trip entirely.
func shouldRecall(query string, cfg AutoRecallConfig) bool {
	cfg = cfg.withDefaults()
	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return false
	}
	if len(trimmed) >= cfg.MinQueryLength {
		return true
	}
	return anaphoraPattern.MatchString(trimmed)
}

// detectCategory classifies content for tagging and later decay/cluster
// weighting.
func detectCategory(text string) MemoryCategory {
	lower := strings.ToLower(text)

	if regexp.MustCompile(`(?i)prefer|like|love|hate|want|radši`).MatchString(lower) {
		return CategoryPreference
	}
	if regexp.MustCompile(`(?i)decided|will use|rozhodli|budeme`).MatchString(lower) {
		return CategoryDecision
	}
	if regexp.MustCompile(`(?i)\+\d{10,}|@[\w.-]+\.\w+|is called|jmenuje se`).MatchString(lower) {
		return CategoryEntity
	}
	if regexp.MustCompile(`(?i)\b(is|are|has|have|je|má|jsou)\b`).MatchString(lower) {
		return CategoryFact
	}
	return CategoryOther
}

// countEmojis counts emoji characters in text.
func countEmojis(text string) int {
	count := 0
	for _, r := range text {
		if (r >= 0x1F300 && r <= 0x1F9FF) ||
			(r >= 0x2600 && r <= 0x26FF) ||
			(r >= 0x2700 && r <= 0x27BF) {
			count++
		}
	}
	return count
}

// truncate truncates a string to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
