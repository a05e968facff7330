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

const githubSearchURL = "https://api.github.com/search/repositories"

// Engagement saturation points per platform: a repo with ~50k stars or a
// story with ~2k points is treated as maximally engaged.
const (
	githubStarSaturation = 50000
	hnPointSaturation    = 2000
)

// GitHub discovers repositories via the GitHub search API. Stars are the
// engagement signal, log-scaled to [0,1].
type GitHub struct {
	client  HTTPClient
	baseURL string
	log     *slog.Logger
}

// NewGitHub creates a GitHub adapter.
func NewGitHub(client HTTPClient, log *slog.Logger) *GitHub {
	if client == nil {
		client = http.DefaultClient
	}
	return &GitHub{client: client, baseURL: githubSearchURL, log: log}
}

// ID implements Adapter.
func (g *GitHub) ID() model.SourceID { return "github" }

// Tier implements Adapter.
func (g *GitHub) Tier() model.SourceTier { return model.TierCommunity }

type githubRepo struct {
	FullName    string    `json:"full_name"`
	Description string    `json:"description"`
	HTMLURL     string    `json:"html_url"`
	Stars       float64   `json:"stargazers_count"`
	CreatedAt   time.Time `json:"created_at"`
	Owner       struct {
		Login string `json:"login"`
	} `json:"owner"`
}

type githubSearchResponse struct {
	Items []json.RawMessage `json:"items"`
}

// Discover implements Adapter.
func (g *GitHub) Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error) {
	u := fmt.Sprintf("%s?q=%s&sort=stars&order=desc&per_page=%d",
		g.baseURL, url.QueryEscape(query), limit)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("User-Agent", "ContentRadar/1.0")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	// GitHub signals search throttling with 403 as well as 429.
	if resp.StatusCode == http.StatusForbidden {
		return nil, &RateLimitedError{Source: g.ID(), RetryAfter: retryAfterHint(resp)}
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(g.ID(), resp)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFeedBytes))
	if err != nil {
		return nil, Unavailable(fmt.Errorf("read body: %w", err))
	}

	var sr githubSearchResponse
	if err := json.Unmarshal(body, &sr); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	now := time.Now().UTC()
	items := make([]model.CandidateItem, 0, len(sr.Items))
	for _, raw := range sr.Items {
		if len(items) >= limit {
			break
		}
		var repo githubRepo
		if err := json.Unmarshal(raw, &repo); err != nil || repo.HTMLURL == "" || repo.FullName == "" {
			// A malformed record is dropped, not fatal to the call.
			g.log.Warn("skipping malformed github record", "error", err)
			continue
		}
		items = append(items, model.CandidateItem{
			SourceID:    g.ID(),
			Title:       repo.FullName,
			Description: repo.Description,
			URL:         repo.HTMLURL,
			Author:      repo.Owner.Login,
			RawMetadata: map[string]any{
				model.EngagementKey: NormalizeEngagement(repo.Stars, githubStarSaturation),
				"stars":             repo.Stars,
			},
			DiscoveredAt: discoveredAt(repo.CreatedAt, now),
		})
	}
	return items, nil
}

func discoveredAt(t time.Time, fallback time.Time) time.Time {
	if t.IsZero() {
		return fallback
	}
	return t.UTC()
}
