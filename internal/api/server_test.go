package api

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"

	"content_radar/internal/config"
	"content_radar/internal/crawler"
	"content_radar/internal/metrics"
	"content_radar/internal/model"
	"content_radar/internal/source"
	"content_radar/internal/storage"
)

type fakeAdapter struct {
	id    model.SourceID
	items []model.CandidateItem
}

func (f *fakeAdapter) ID() model.SourceID     { return f.id }
func (f *fakeAdapter) Tier() model.SourceTier { return model.TierCommunity }
func (f *fakeAdapter) Discover(context.Context, string, int) ([]model.CandidateItem, error) {
	return f.items, nil
}

type testEnv struct {
	srv   *httptest.Server
	store *storage.SQLite
}

func newTestEnv(t *testing.T, adapters ...source.Adapter) testEnv {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := crawler.New(source.NewRegistry(adapters...), store,
		metrics.New(prometheus.NewRegistry()), nil, log)

	defaults := config.CrawlDefaults{
		MaxConcurrency: 5,
		TimeoutSeconds: 30,
		MaxAttempts:    3,
		MinQuality:     0.3,
		DedupThreshold: 0.8,
	}
	srv := httptest.NewServer(NewServer(orch, store, defaults, log).Router())
	t.Cleanup(srv.Close)
	return testEnv{srv: srv, store: store}
}

func (e testEnv) get(t *testing.T, path string) (*http.Response, []byte) {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func (e testEnv) send(t *testing.T, method, path string, payload any) (*http.Response, []byte) {
	t.Helper()
	raw, err := json.Marshal(payload)
	if err != nil {
		t.Fatal(err)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer func() { _ = resp.Body.Close() }()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	return resp, body
}

func (e testEnv) seedItem(t *testing.T, id, category string, score float64, tags ...string) {
	t.Helper()
	_, err := e.store.InsertItem(context.Background(), &model.CorpusItem{
		ID:           id,
		CanonicalURL: "https://example.com/" + id,
		ContentHash:  "sha256:" + id,
		Title:        "seeded " + id,
		Description:  "seeded description for " + id,
		Source:       "github",
		Category:     category,
		Tags:         tags,
		QualityScore: score,
		CreatedAt:    time.Now().UTC().Truncate(time.Second),
	})
	if err != nil {
		t.Fatalf("seed %s: %v", id, err)
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t)
	resp, body := env.get(t, "/healthz")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
}

func TestStartCrawlFlow(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{id: "github", items: []model.CandidateItem{
		{SourceID: "github", Title: "useful finding one", URL: "https://example.com/1", DiscoveredAt: now},
		{SourceID: "github", Title: "useful finding two", URL: "https://example.com/2", DiscoveredAt: now},
	}}
	env := newTestEnv(t, adapter)

	resp, body := env.send(t, http.MethodPost, "/api/v1/crawl", map[string]any{
		"sources": []string{"github"},
		"query":   "useful",
	})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	var started struct {
		Operations map[string]string `json:"operations"`
	}
	if err := json.Unmarshal(body, &started); err != nil {
		t.Fatal(err)
	}
	opID, ok := started.Operations["github"]
	if !ok {
		t.Fatalf("no operation handle for github in %s", body)
	}

	op := waitCompleted(t, env, opID)
	if op.ItemsFound != 2 {
		t.Errorf("ItemsFound = %d, want 2", op.ItemsFound)
	}

	resp, body = env.get(t, "/api/v1/crawl")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("list status = %d", resp.StatusCode)
	}
	var listed struct {
		Operations []model.DiscoveryOperation `json:"operations"`
	}
	if err := json.Unmarshal(body, &listed); err != nil {
		t.Fatal(err)
	}
	if len(listed.Operations) != 1 || listed.Operations[0].ID != opID {
		t.Errorf("operation list = %+v", listed.Operations)
	}
}

func waitCompleted(t *testing.T, env testEnv, opID string) model.DiscoveryOperation {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		resp, body := env.get(t, "/api/v1/crawl/"+opID+"/status")
		if resp.StatusCode != http.StatusOK {
			t.Fatalf("status endpoint = %d, body %s", resp.StatusCode, body)
		}
		var op model.DiscoveryOperation
		if err := json.Unmarshal(body, &op); err != nil {
			t.Fatal(err)
		}
		if op.Status.IsTerminal() {
			if op.Status != model.StatusCompleted {
				t.Fatalf("operation ended %s (%s)", op.Status, op.Error)
			}
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("operation never completed")
	return model.DiscoveryOperation{}
}

func TestStartCrawlRejectsBadRequests(t *testing.T) {
	env := newTestEnv(t, &fakeAdapter{id: "github"})

	tests := []struct {
		name    string
		payload map[string]any
	}{
		{name: "no sources", payload: map[string]any{"query": "go"}},
		{name: "empty sources", payload: map[string]any{"sources": []string{}, "query": "go"}},
		{name: "no query", payload: map[string]any{"sources": []string{"github"}}},
		{name: "unknown source", payload: map[string]any{"sources": []string{"myspace"}, "query": "go"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, body := env.send(t, http.MethodPost, "/api/v1/crawl", tt.payload)
			if resp.StatusCode != http.StatusBadRequest {
				t.Errorf("status = %d, body %s", resp.StatusCode, body)
			}
		})
	}
}

func TestCrawlStatusUnknownOperation(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.get(t, "/api/v1/crawl/does-not-exist/status")
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}

func TestStopCrawl(t *testing.T) {
	env := newTestEnv(t)
	resp, _ := env.send(t, http.MethodPost, "/api/v1/crawl/stop", nil)
	if resp.StatusCode != http.StatusAccepted {
		t.Errorf("status = %d, want 202", resp.StatusCode)
	}
}

func TestItemsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, "a", "AI", 0.9)
	env.seedItem(t, "b", "Security", 0.5)

	resp, body := env.get(t, "/api/v1/items?category=AI")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Items []model.CorpusItem `json:"items"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Items) != 1 || out.Items[0].ID != "a" {
		t.Errorf("items = %+v, want only a", out.Items)
	}

	resp, body = env.get(t, "/api/v1/items?featured=true")
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || len(out.Items) != 1 || out.Items[0].ID != "a" {
		t.Errorf("featured items = %+v, want only the high scorer", out.Items)
	}
}

func TestInteractionsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, "a", "AI", 0.9)

	resp, body := env.send(t, http.MethodPost, "/api/v1/interactions", map[string]string{
		"userId": "u1", "contentId": "a", "type": "like",
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}

	item, err := env.store.GetItem(context.Background(), "a")
	if err != nil {
		t.Fatal(err)
	}
	if item.Popularity.Likes != 1 {
		t.Errorf("likes = %d, want 1", item.Popularity.Likes)
	}

	resp, _ = env.send(t, http.MethodPost, "/api/v1/interactions", map[string]string{
		"userId": "u1", "contentId": "missing", "type": "like",
	})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown content status = %d, want 404", resp.StatusCode)
	}

	resp, _ = env.send(t, http.MethodPost, "/api/v1/interactions", map[string]string{
		"userId": "u1", "contentId": "a", "type": "stare",
	})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("bad type status = %d, want 400", resp.StatusCode)
	}
}

func TestProfileEndpoints(t *testing.T) {
	env := newTestEnv(t)

	// Unknown users get the deterministic cold-start profile.
	resp, body := env.get(t, "/api/v1/profiles/u1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var got model.UserProfile
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(*model.DefaultProfile("u1"), got); diff != "" {
		t.Errorf("cold-start profile mismatch (-want +got):\n%s", diff)
	}

	resp, _ = env.send(t, http.MethodPut, "/api/v1/profiles/u1", map[string]any{
		"preferences":   []string{"AI"},
		"interests":     []string{"llm"},
		"activityLevel": "active",
	})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("save status = %d", resp.StatusCode)
	}

	_, body = env.get(t, "/api/v1/profiles/u1")
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatal(err)
	}
	want := model.UserProfile{
		UserID: "u1", Preferences: []string{"AI"}, Interests: []string{"llm"}, ActivityLevel: "active",
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("saved profile mismatch (-want +got):\n%s", diff)
	}
}

func TestRecommendationsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, "ai-item", "AI", 0.9)
	env.seedItem(t, "product-item", "Product", 0.9)

	resp, _ := env.get(t, "/api/v1/recommendations")
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("missing userId status = %d, want 400", resp.StatusCode)
	}

	env.send(t, http.MethodPut, "/api/v1/profiles/u1", map[string]any{
		"preferences": []string{"AI"},
	})

	resp, body := env.get(t, "/api/v1/recommendations?userId=u1")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, body %s", resp.StatusCode, body)
	}
	var out struct {
		Recommendations []struct {
			Item  model.CorpusItem `json:"item"`
			Score float64          `json:"score"`
		} `json:"recommendations"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Recommendations) != 2 {
		t.Fatalf("got %d recommendations, want 2", len(out.Recommendations))
	}
	if out.Recommendations[0].Item.ID != "ai-item" {
		t.Errorf("top recommendation = %s, want the preferred category", out.Recommendations[0].Item.ID)
	}
	if out.Recommendations[0].Score <= out.Recommendations[1].Score {
		t.Errorf("scores not descending: %v then %v",
			out.Recommendations[0].Score, out.Recommendations[1].Score)
	}
}

func TestTrendingEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, "a", "AI", 0.9)

	resp, body := env.get(t, "/api/v1/trending")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Trending []json.RawMessage `json:"trending"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Trending) != 1 {
		t.Errorf("got %d trending entries, want 1", len(out.Trending))
	}
}

func TestSimilarEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.seedItem(t, "ref", "AI", 0.9, "llm")
	env.seedItem(t, "close", "AI", 0.8, "llm")
	env.seedItem(t, "far", "Product", 0.8)

	resp, _ := env.get(t, "/api/v1/similar?contentId=missing")
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("unknown ref status = %d, want 404", resp.StatusCode)
	}

	resp, body := env.get(t, "/api/v1/similar?contentId=ref")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	var out struct {
		Similar []struct {
			Item model.CorpusItem `json:"item"`
		} `json:"similar"`
	}
	if err := json.Unmarshal(body, &out); err != nil {
		t.Fatal(err)
	}
	if len(out.Similar) != 2 {
		t.Fatalf("got %d similar items, want 2 (reference excluded)", len(out.Similar))
	}
	if out.Similar[0].Item.ID != "close" {
		t.Errorf("top similar = %s, want the same-category tag-overlapping item", out.Similar[0].Item.ID)
	}
}
