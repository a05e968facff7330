package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"

	"content_radar/internal/model"
)

const maxFeedBytes = 5 * 1024 * 1024

// RSS discovers candidates by downloading and parsing an RSS/Atom feed.
// The feed URL may contain a %s placeholder substituted with the
// URL-escaped query; without a placeholder the feed is fetched as-is and
// items are matched against the query client-side.
type RSS struct {
	id      model.SourceID
	tier    model.SourceTier
	feedURL string
	client  HTTPClient
}

// NewRSS creates an RSS adapter for the given feed URL.
func NewRSS(id model.SourceID, tier model.SourceTier, feedURL string, client HTTPClient) *RSS {
	if client == nil {
		client = http.DefaultClient
	}
	return &RSS{id: id, tier: tier, feedURL: feedURL, client: client}
}

// ID implements Adapter.
func (r *RSS) ID() model.SourceID { return r.id }

// Tier implements Adapter.
func (r *RSS) Tier() model.SourceTier { return r.tier }

// Discover implements Adapter.
func (r *RSS) Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error) {
	feedURL := r.feedURL
	filterLocally := true
	if strings.Contains(feedURL, "%s") {
		feedURL = fmt.Sprintf(feedURL, url.QueryEscape(query))
		filterLocally = false
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, feedURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ContentRadar/1.0")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(r.id, resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, Unavailable(fmt.Errorf("read body: %w", err))
	}

	feed, err := gofeed.NewParser().ParseString(string(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	now := time.Now().UTC()
	items := make([]model.CandidateItem, 0, limit)
	for _, item := range feed.Items {
		if len(items) >= limit {
			break
		}
		if item.Link == "" || item.Title == "" {
			continue
		}
		if filterLocally && !matchesQuery(item, query) {
			continue
		}
		items = append(items, model.CandidateItem{
			SourceID:     r.id,
			Title:        item.Title,
			Description:  truncate(item.Description, 500),
			URL:          item.Link,
			Author:       itemAuthor(item),
			RawMetadata:  map[string]any{"feedTitle": feed.Title},
			DiscoveredAt: itemTime(item, now),
		})
	}
	return items, nil
}

func matchesQuery(item *gofeed.Item, query string) bool {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return true
	}
	haystack := strings.ToLower(item.Title + " " + item.Description)
	for _, tok := range strings.Fields(q) {
		if strings.Contains(haystack, tok) {
			return true
		}
	}
	return false
}

func itemAuthor(item *gofeed.Item) string {
	if len(item.Authors) > 0 && item.Authors[0] != nil {
		return item.Authors[0].Name
	}
	return ""
}

func itemTime(item *gofeed.Item, fallback time.Time) time.Time {
	if item.PublishedParsed != nil {
		return item.PublishedParsed.UTC()
	}
	if item.UpdatedParsed != nil {
		return item.UpdatedParsed.UTC()
	}
	return fallback
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
