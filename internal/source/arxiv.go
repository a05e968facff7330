package source

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"content_radar/internal/model"
)

const arxivSearchURL = "https://arxiv.org/search/"

// Arxiv discovers papers by scraping arXiv search result pages. Academic
// tier; the listing exposes no engagement counter, so no engagement signal
// is emitted.
type Arxiv struct {
	client  HTTPClient
	baseURL string
}

// NewArxiv creates an arXiv adapter.
func NewArxiv(client HTTPClient) *Arxiv {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	return &Arxiv{client: client, baseURL: arxivSearchURL}
}

// ID implements Adapter.
func (a *Arxiv) ID() model.SourceID { return "arxiv" }

// Tier implements Adapter.
func (a *Arxiv) Tier() model.SourceTier { return model.TierAcademic }

// Discover implements Adapter.
func (a *Arxiv) Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error) {
	pageURL := fmt.Sprintf("%s?searchtype=all&query=%s", a.baseURL, url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("User-Agent", "ContentRadar/1.0")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, Unavailable(err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(a.ID(), resp)
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrParse, err)
	}

	now := time.Now().UTC()
	items := make([]model.CandidateItem, 0, limit)
	doc.Find("li.arxiv-result").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		if len(items) >= limit {
			return false
		}
		item, ok := parseResult(s, now)
		if !ok {
			// Malformed entry; skip it and keep scanning.
			return true
		}
		item.SourceID = a.ID()
		items = append(items, item)
		return true
	})

	return items, nil
}

func parseResult(s *goquery.Selection, now time.Time) (model.CandidateItem, bool) {
	href, ok := s.Find("p.list-title a").First().Attr("href")
	if !ok || href == "" {
		return model.CandidateItem{}, false
	}
	title := strings.TrimSpace(s.Find("p.title").Text())
	if title == "" {
		return model.CandidateItem{}, false
	}

	abstract := strings.TrimSpace(s.Find("span.abstract-short").Text())
	if abstract == "" {
		abstract = strings.TrimSpace(s.Find("span.abstract-full").Text())
	}
	author := strings.TrimSpace(s.Find("p.authors a").First().Text())

	return model.CandidateItem{
		Title:       title,
		Description: truncate(abstract, 500),
		URL:         href,
		Author:      author,
		RawMetadata: map[string]any{
			"institution": "arxiv.org",
		},
		DiscoveredAt: now,
	}, true
}
