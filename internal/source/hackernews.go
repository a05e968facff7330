package source

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/goccy/go-json"

	"content_radar/internal/model"
)

const hnSearchURL = "https://hn.algolia.com/api/v1/search"

// HackerNews discovers stories via the Algolia HN search API. Points are the
// engagement signal, log-scaled to [0,1].
type HackerNews struct {
	client  HTTPClient
	baseURL string
	log     *slog.Logger
}

// NewHackerNews creates a Hacker News adapter.
func NewHackerNews(client HTTPClient, log *slog.Logger) *HackerNews {
	if client == nil {
		client = http.DefaultClient
	}
	return &HackerNews{client: client, baseURL: hnSearchURL, log: log}
}

// ID implements Adapter.
func (h *HackerNews) ID() model.SourceID { return "hackernews" }

// Tier implements Adapter.
func (h *HackerNews) Tier() model.SourceTier { return model.TierSocial }

type hnHit struct {
	Title     string    `json:"title"`
	URL       string    `json:"url"`
	Author    string    `json:"author"`
	Points    float64   `json:"points"`
	StoryText string    `json:"story_text"`
	CreatedAt time.Time `json:"created_at"`
}

type hnSearchResponse struct {
	Hits []json.RawMessage `json:"hits"`
}

// Discover implements Adapter.
func (h *HackerNews) Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error) {
	u := fmt.Sprintf("%s?query=%s&tags=story&hitsPerPage=%d",
		h.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "ContentRadar/1.0")

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(h.ID(), resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, Unavailable(fmt.Errorf("read body: %w", err))
	}

	var sr hnSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	now := time.Now().UTC()
	items := make([]model.CandidateItem, 0, len(sr.Hits))
	for _, raw := range sr.Hits {
		if len(items) >= limit {
			break
		}
		var hit hnHit
		if err := json.Unmarshal(raw, &hit); err != nil || hit.Title == "" || hit.URL == "" {
			h.log.Warn("skipping malformed hackernews record", "error", err)
			continue
		}
		items = append(items, model.CandidateItem{
			SourceID:    h.ID(),
			Title:       hit.Title,
			Description: truncate(hit.StoryText, 500),
			URL:         hit.URL,
			Author:      hit.Author,
			RawMetadata: map[string]any{
				model.EngagementKey: NormalizeEngagement(hit.Points, hnPointSaturation),
				"points":            hit.Points,
			},
			DiscoveredAt: discoveredAt(hit.CreatedAt, now),
		})
	}
	return items, nil
}
