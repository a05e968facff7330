// Package source defines the content source adapter contract and the
// registry the orchestrator resolves sources from.
package source

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sort"
	"time"

	"content_radar/internal/model"
)

// HTTPClient is the interface for performing HTTP requests.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Adapter fetches and normalizes candidate content for a query. Adapters are
// the only components allowed to block on network I/O; they must observe ctx
// cancellation. Malformed individual records are skipped, never fatal to the
// whole call.
type Adapter interface {
	// ID returns the stable identifier the adapter is registered under.
	ID() model.SourceID
	// Tier returns the trust tier used as the quality-score baseline.
	Tier() model.SourceTier
	// Discover returns at most limit candidates matching query.
	Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error)
}

// ErrSourceUnavailable signals a network or platform failure. The
// orchestrator retries these with backoff.
var ErrSourceUnavailable = errors.New("source unavailable")

// ErrParse signals a response the adapter could not decode at all.
var ErrParse = errors.New("unparseable source response")

// RateLimitedError signals the source throttled us. RetryAfter is zero when
// the source supplied no hint.
type RateLimitedError struct {
	Source     model.SourceID
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("source %s rate limited, retry after %s", e.Source, e.RetryAfter)
	}
	return fmt.Sprintf("source %s rate limited", e.Source)
}

// Unavailable wraps err as a retryable source failure.
func Unavailable(err error) error {
	return fmt.Errorf("%w: %w", ErrSourceUnavailable, err)
}

// Registry is a lookup table of adapters keyed by SourceID. New sources are
// added by registering a new implementation, never by modifying the
// orchestrator.
type Registry struct {
	adapters map[model.SourceID]Adapter
}

// NewRegistry creates a registry containing the given adapters.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[model.SourceID]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.ID()] = a
	}
	return r
}

// Register adds or replaces an adapter.
func (r *Registry) Register(a Adapter) {
	r.adapters[a.ID()] = a
}

// Lookup returns the adapter registered under id.
func (r *Registry) Lookup(id model.SourceID) (Adapter, bool) {
	a, ok := r.adapters[id]
	return a, ok
}

// IDs returns all registered source ids in lexical order.
func (r *Registry) IDs() []model.SourceID {
	ids := make([]model.SourceID, 0, len(r.adapters))
	for id := range r.adapters {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// NormalizeEngagement maps a raw engagement count (stars, points, likes) to
// [0,1] on a log scale. saturation is the raw value at which the signal is
// considered maxed out.
func NormalizeEngagement(raw, saturation float64) float64 {
	if raw <= 0 || saturation <= 1 {
		return 0
	}
	v := math.Log1p(raw) / math.Log1p(saturation)
	if v > 1 {
		return 1
	}
	return v
}

// retryAfterHint parses a Retry-After response header into a duration.
// Returns 0 when the header is absent or malformed.
func retryAfterHint(resp *http.Response) time.Duration {
	v := resp.Header.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := time.ParseDuration(v + "s"); err == nil {
		return secs
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}

// classifyStatus turns a non-200 response into the matching taxonomy error.
func classifyStatus(id model.SourceID, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &RateLimitedError{Source: id, RetryAfter: retryAfterHint(resp)}
	case resp.StatusCode >= 500:
		return Unavailable(fmt.Errorf("status %d", resp.StatusCode))
	default:
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
}
