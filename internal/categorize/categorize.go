// Package categorize assigns a category and tag set to candidate items
// using deterministic keyword heuristics.
package categorize

import (
	"strings"

	"content_radar/internal/model"
)

// DefaultCategory is assigned when no category keyword matches.
const DefaultCategory = "General"

// maxTags caps the tag set per item.
const maxTags = 5

// categoryPriority fixes both the scoring iteration order and the
// tie-break: earlier categories win ties.
var categoryPriority = []string{
	"Research",
	"AI",
	"Security",
	"Engineering",
	"Data",
	"Product",
}

var categoryKeywords = map[string][]string{
	"Research": {"research", "study", "paper", "academic", "science", "experiment", "journal", "thesis", "arxiv"},
	"AI":       {"ai", "ml", "machine learning", "neural", "llm", "model", "deep learning", "transformer", "agent"},
	"Security": {"security", "vulnerability", "exploit", "encryption", "malware", "authentication", "cve", "attack"},
	"Engineering": {"engineering", "framework", "library", "api", "server", "compiler", "kubernetes", "database",
		"performance", "rust", "golang"},
	"Data":    {"data", "analytics", "pipeline", "warehouse", "sql", "visualization", "etl", "streaming"},
	"Product": {"product", "startup", "launch", "design", "user", "growth", "roadmap", "ux"},
}

// tagVocabulary is the controlled vocabulary, in canonical order. Tags are
// emitted in this order regardless of frequency so output is deterministic.
var tagVocabulary = []string{
	"ai",
	"machine-learning",
	"llm",
	"research",
	"security",
	"privacy",
	"open-source",
	"databases",
	"distributed-systems",
	"networking",
	"performance",
	"testing",
	"devops",
	"cloud",
	"web",
	"mobile",
	"data",
	"analytics",
	"tutorial",
	"ethics",
}

// Category returns just the category for item. Used as the duplicate
// detector's blocking key.
func Category(item model.CandidateItem) string {
	category, _ := Categorize(item)
	return category
}

// Categorize scores each fixed category by keyword hits in title and
// description; the highest count wins, ties broken by the fixed priority
// order, zero hits falls back to DefaultCategory. Tags are the intersection
// of the text's tokens with the controlled vocabulary, capped at five.
func Categorize(item model.CandidateItem) (string, []string) {
	text := strings.ToLower(item.Title + " " + item.Description)

	best := DefaultCategory
	bestHits := 0
	for _, category := range categoryPriority {
		hits := 0
		for _, kw := range categoryKeywords[category] {
			hits += countOccurrences(text, kw)
		}
		if hits > bestHits {
			best = category
			bestHits = hits
		}
	}

	return best, matchTags(text)
}

// countOccurrences counts whole-word occurrences of kw in text.
func countOccurrences(text, kw string) int {
	count := 0
	for start := 0; ; {
		i := strings.Index(text[start:], kw)
		if i < 0 {
			break
		}
		pos := start + i
		if isWordBoundary(text, pos, len(kw)) {
			count++
		}
		start = pos + len(kw)
	}
	return count
}

func isWordBoundary(text string, pos, length int) bool {
	if pos > 0 && isWordChar(text[pos-1]) {
		return false
	}
	end := pos + length
	if end < len(text) && isWordChar(text[end]) {
		return false
	}
	return true
}

func isWordChar(c byte) bool {
	return c >= 'a' && c <= 'z' || c >= '0' && c <= '9'
}

func matchTags(text string) []string {
	tokens := make(map[string]struct{})
	for _, tok := range strings.FieldsFunc(text, func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9' || r == '-')
	}) {
		tokens[strings.Trim(tok, "-")] = struct{}{}
	}

	var tags []string
	for _, tag := range tagVocabulary {
		if len(tags) >= maxTags {
			break
		}
		if tagMatches(tag, tokens, text) {
			tags = append(tags, tag)
		}
	}
	return tags
}

// tagMatches accepts either the exact token or, for hyphenated vocabulary
// entries, the spaced phrase in the raw text.
func tagMatches(tag string, tokens map[string]struct{}, text string) bool {
	if _, ok := tokens[tag]; ok {
		return true
	}
	if strings.Contains(tag, "-") {
		phrase := strings.ReplaceAll(tag, "-", " ")
		return strings.Contains(text, phrase)
	}
	return false
}
