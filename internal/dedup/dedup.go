// Package dedup decides whether a candidate item already exists in the
// corpus. Detection is two-stage: exact canonical URL match, then fuzzy
// title match bounded by a blocking key. Detection never mutates state; the
// storage layer's unique-constraint insert is the real correctness boundary
// for concurrent writers.
package dedup

import (
	"fmt"
	"net/url"
	"sort"
	"strings"
	"sync"

	"content_radar/internal/model"
)

// DefaultThreshold is the baseline token-overlap similarity above which two
// same-key titles are considered duplicates.
const DefaultThreshold = 0.8

// Outcome of a duplicate check.
type Outcome int

// Possible outcomes.
const (
	Unique Outcome = iota
	Duplicate
)

// Result describes one duplicate decision.
type Result struct {
	Outcome    Outcome
	MatchedURL string
	Similarity float64
}

// CanonicalURL normalizes raw so that equivalent URLs compare equal:
// https scheme, lower-cased host, no default port, no trailing slash, no
// fragment, query parameters in sorted order.
func CanonicalURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("parse url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("unsupported scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return "", fmt.Errorf("url %q has no host", raw)
	}

	u.Scheme = "https"
	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	u.Host = host

	u.Path = strings.TrimSuffix(u.Path, "/")
	u.Fragment = ""

	if u.RawQuery != "" {
		q := u.Query()
		keys := make([]string, 0, len(q))
		for k := range q {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var b strings.Builder
		for _, k := range keys {
			vals := q[k]
			sort.Strings(vals)
			for _, v := range vals {
				if b.Len() > 0 {
					b.WriteByte('&')
				}
				b.WriteString(url.QueryEscape(k))
				b.WriteByte('=')
				b.WriteString(url.QueryEscape(v))
			}
		}
		u.RawQuery = b.String()
	}

	return u.String(), nil
}

// TitleTokens lower-cases and splits a title into its token set.
func TitleTokens(title string) map[string]struct{} {
	tokens := make(map[string]struct{})
	for _, tok := range strings.Fields(strings.ToLower(title)) {
		tok = strings.Trim(tok, ".,;:!?\"'()[]{}")
		if tok != "" {
			tokens[tok] = struct{}{}
		}
	}
	return tokens
}

// Jaccard computes token-overlap similarity between two token sets.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for tok := range a {
		if _, ok := b[tok]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	return float64(inter) / float64(union)
}

type indexedTitle struct {
	url    string
	tokens map[string]struct{}
}

// Index holds the canonical URLs and blocked titles of the existing corpus.
// Reads and writes are safe for concurrent use; the orchestrator adds each
// accepted item so later candidates in the same run see it.
type Index struct {
	mu     sync.RWMutex
	urls   map[string]struct{}
	titles map[string][]indexedTitle
}

// NewIndex builds an index from a corpus snapshot. keyFunc derives the
// blocking key for each item (typically its category).
func NewIndex(items []model.CorpusItem) *Index {
	idx := &Index{
		urls:   make(map[string]struct{}, len(items)),
		titles: make(map[string][]indexedTitle),
	}
	for _, item := range items {
		idx.Add(item.CanonicalURL, item.Title, item.Category)
	}
	return idx
}

// Add records a canonical URL and its title under the given blocking key.
func (idx *Index) Add(canonicalURL, title, key string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.urls[canonicalURL] = struct{}{}
	idx.titles[key] = append(idx.titles[key], indexedTitle{
		url:    canonicalURL,
		tokens: TitleTokens(title),
	})
}

// HasURL reports whether the canonical URL is already indexed.
func (idx *Index) HasURL(canonicalURL string) bool {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	_, ok := idx.urls[canonicalURL]
	return ok
}

// Detector performs side-effect-free duplicate checks against an Index.
type Detector struct {
	index     *Index
	threshold float64
	keyFunc   func(model.CandidateItem) string
}

// NewDetector creates a detector. keyFunc derives the candidate's blocking
// key; threshold <= 0 selects DefaultThreshold.
func NewDetector(index *Index, threshold float64, keyFunc func(model.CandidateItem) string) *Detector {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Detector{index: index, threshold: threshold, keyFunc: keyFunc}
}

// Check decides whether item duplicates an existing corpus item. The
// canonical URL must already be computed by the caller.
func (d *Detector) Check(item model.CandidateItem, canonicalURL string) Result {
	if d.index.HasURL(canonicalURL) {
		return Result{Outcome: Duplicate, MatchedURL: canonicalURL, Similarity: 1}
	}

	key := d.keyFunc(item)
	tokens := TitleTokens(item.Title)

	d.index.mu.RLock()
	defer d.index.mu.RUnlock()
	for _, existing := range d.index.titles[key] {
		if sim := Jaccard(tokens, existing.tokens); sim > d.threshold {
			return Result{Outcome: Duplicate, MatchedURL: existing.url, Similarity: sim}
		}
	}
	return Result{Outcome: Unique}
}
