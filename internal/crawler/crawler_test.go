package crawler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"content_radar/internal/metrics"
	"content_radar/internal/model"
	"content_radar/internal/source"
	"content_radar/internal/storage"
)

// fakeAdapter serves canned candidates, optionally failing a number of
// attempts first, optionally blocking until cancelled.
type fakeAdapter struct {
	id    model.SourceID
	tier  model.SourceTier
	items []model.CandidateItem
	err   error

	mu       sync.Mutex
	failures int
	calls    int

	block bool
}

func (f *fakeAdapter) ID() model.SourceID     { return f.id }
func (f *fakeAdapter) Tier() model.SourceTier { return f.tier }

func (f *fakeAdapter) Discover(ctx context.Context, query string, limit int) ([]model.CandidateItem, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	f.mu.Lock()
	f.calls++
	failing := f.failures > 0
	if failing {
		f.failures--
	}
	f.mu.Unlock()

	if failing {
		return nil, f.err
	}
	if len(f.items) == 0 && f.err != nil {
		return nil, f.err
	}
	if len(f.items) > limit {
		return f.items[:limit], nil
	}
	return f.items, nil
}

func candidates(n int, source model.SourceID, now time.Time) []model.CandidateItem {
	out := make([]model.CandidateItem, n)
	for i := range out {
		out[i] = model.CandidateItem{
			SourceID:     source,
			Title:        fmt.Sprintf("finding number %s", numberWords[i%len(numberWords)]),
			Description:  "a reasonably detailed write-up of the finding in question",
			URL:          fmt.Sprintf("https://example.com/%s/%d", source, i),
			DiscoveredAt: now,
		}
	}
	return out
}

// Distinct words keep title similarity low within a category block.
var numberWords = []string{
	"one", "two", "three", "four", "five", "six",
	"seven", "eight", "nine", "ten", "eleven", "twelve",
}

type fixture struct {
	orch  *Orchestrator
	store *storage.SQLite
}

func newFixture(t *testing.T, notifier Notifier, adapters ...source.Adapter) fixture {
	t.Helper()
	store, err := storage.NewSQLite(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	registry := source.NewRegistry()
	for _, a := range adapters {
		registry.Register(a)
	}

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	m := metrics.New(prometheus.NewRegistry())
	return fixture{orch: New(registry, store, m, notifier, log), store: store}
}

func waitTerminal(t *testing.T, orch *Orchestrator, opID string) model.DiscoveryOperation {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		op, ok := orch.GetStatus(opID)
		if !ok {
			t.Fatalf("operation %s disappeared", opID)
		}
		if op.Status.IsTerminal() {
			return op
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("operation %s never reached a terminal state", opID)
	return model.DiscoveryOperation{}
}

func TestStartCrawlValidation(t *testing.T) {
	fx := newFixture(t, nil, &fakeAdapter{id: "github", tier: model.TierCommunity})
	ctx := context.Background()

	tests := []struct {
		name    string
		sources []model.SourceID
		query   string
		limit   int
	}{
		{name: "no sources", sources: nil, query: "go", limit: 10},
		{name: "empty query", sources: []model.SourceID{"github"}, query: "", limit: 10},
		{name: "zero limit", sources: []model.SourceID{"github"}, query: "go", limit: 0},
		{name: "unknown source", sources: []model.SourceID{"myspace"}, query: "go", limit: 10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := fx.orch.StartCrawl(ctx, tt.sources, tt.query, tt.limit, CrawlConfig{})
			var verr *ValidationError
			if !errors.As(err, &verr) {
				t.Fatalf("StartCrawl error = %v, want ValidationError", err)
			}
			if got := len(fx.orch.ListOperations()); got != 0 {
				t.Errorf("%d operations created by a rejected request", got)
			}
		})
	}
}

func TestCrawlFaultIsolation(t *testing.T) {
	now := time.Now().UTC()
	good := &fakeAdapter{id: "github", tier: model.TierCommunity, items: candidates(12, "github", now)}
	bad := &fakeAdapter{id: "hackernews", tier: model.TierSocial,
		err: errors.New("schema drift: unexpected payload")}
	fx := newFixture(t, nil, good, bad)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github", "hackernews"}, "caching", 20, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}

	goodOp := waitTerminal(t, fx.orch, handles["github"])
	badOp := waitTerminal(t, fx.orch, handles["hackernews"])

	if goodOp.Status != model.StatusCompleted {
		t.Errorf("github op = %s (%s), want completed", goodOp.Status, goodOp.Error)
	}
	if goodOp.ItemsFound != 12 {
		t.Errorf("github ItemsFound = %d, want 12", goodOp.ItemsFound)
	}
	if badOp.Status != model.StatusFailed {
		t.Errorf("hackernews op = %s, want failed", badOp.Status)
	}
	if badOp.Error == "" {
		t.Error("failed op carries no error message")
	}
	if badOp.CompletedAt == nil || goodOp.CompletedAt == nil {
		t.Error("terminal operations must record CompletedAt")
	}

	items, err := fx.store.ListItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 12 {
		t.Errorf("corpus has %d items, want 12 from the healthy source", len(items))
	}
}

func TestCrawlIdempotent(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{id: "github", tier: model.TierCommunity, items: candidates(5, "github", now)}
	fx := newFixture(t, nil, adapter)
	ctx := context.Background()

	handles, err := fx.orch.StartCrawl(ctx, []model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	first := waitTerminal(t, fx.orch, handles["github"])
	if first.ItemsFound != 5 {
		t.Fatalf("first run ItemsFound = %d, want 5", first.ItemsFound)
	}

	handles, err = fx.orch.StartCrawl(ctx, []model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	second := waitTerminal(t, fx.orch, handles["github"])
	if second.Status != model.StatusCompleted {
		t.Fatalf("second run = %s, want completed", second.Status)
	}
	if second.ItemsFound != 0 || second.Duplicates != 5 {
		t.Errorf("second run found=%d dup=%d, want found=0 dup=5",
			second.ItemsFound, second.Duplicates)
	}

	items, err := fx.store.ListItems(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 5 {
		t.Errorf("corpus has %d items after a repeated crawl, want 5", len(items))
	}
}

func TestCrawlPipelineTallies(t *testing.T) {
	now := time.Now().UTC()
	stale := now.Add(-90 * 24 * time.Hour)
	adapter := &fakeAdapter{id: "github", tier: model.TierCommunity, items: []model.CandidateItem{
		{SourceID: "github", Title: "", URL: "https://example.com/no-title", DiscoveredAt: now},
		{SourceID: "github", Title: "unparseable link target", URL: "ftp://example.com/x", DiscoveredAt: now},
		{SourceID: "github", Title: "stale low scorer", URL: "https://example.com/stale", DiscoveredAt: stale},
		{SourceID: "github", Title: "fresh keeper entry", URL: "https://example.com/keeper",
			Description: "a fresh candidate with enough substance to clear the quality gate easily",
			Author:      "someone", DiscoveredAt: now},
	}}
	fx := newFixture(t, nil, adapter)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github"}, "anything", 10, CrawlConfig{MinQuality: 0.5})
	if err != nil {
		t.Fatal(err)
	}
	op := waitTerminal(t, fx.orch, handles["github"])

	if op.Status != model.StatusCompleted {
		t.Fatalf("op = %s (%s), want completed", op.Status, op.Error)
	}
	if op.ParseSkips != 2 {
		t.Errorf("ParseSkips = %d, want 2", op.ParseSkips)
	}
	if op.LowQuality != 1 {
		t.Errorf("LowQuality = %d, want 1", op.LowQuality)
	}
	if op.ItemsFound != 1 {
		t.Errorf("ItemsFound = %d, want 1", op.ItemsFound)
	}
}

func TestCrawlRetriesTransientFailures(t *testing.T) {
	now := time.Now().UTC()
	adapter := &fakeAdapter{
		id: "github", tier: model.TierCommunity,
		items:    candidates(2, "github", now),
		failures: 1,
		err:      source.Unavailable(errors.New("upstream 503")),
	}
	fx := newFixture(t, nil, adapter)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	op := waitTerminal(t, fx.orch, handles["github"])
	if op.Status != model.StatusCompleted {
		t.Fatalf("op = %s (%s), want completed after retry", op.Status, op.Error)
	}
	if op.ItemsFound != 2 {
		t.Errorf("ItemsFound = %d, want 2", op.ItemsFound)
	}

	adapter.mu.Lock()
	calls := adapter.calls
	adapter.mu.Unlock()
	if calls != 2 {
		t.Errorf("adapter called %d times, want 2 (one failure, one success)", calls)
	}
}

func TestCrawlPermanentFailureDoesNotRetry(t *testing.T) {
	adapter := &fakeAdapter{
		id: "github", tier: model.TierCommunity,
		failures: 10,
		err:      errors.New("bad credentials"),
	}
	fx := newFixture(t, nil, adapter)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	op := waitTerminal(t, fx.orch, handles["github"])
	if op.Status != model.StatusFailed {
		t.Fatalf("op = %s, want failed", op.Status)
	}

	adapter.mu.Lock()
	calls := adapter.calls
	adapter.mu.Unlock()
	if calls != 1 {
		t.Errorf("adapter called %d times, want 1 (no retry on permanent errors)", calls)
	}
}

func TestStopAllCancelsAndDiscards(t *testing.T) {
	blocking := &fakeAdapter{id: "github", tier: model.TierCommunity, block: true}
	fx := newFixture(t, nil, blocking)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}

	// Let the worker reach the blocking fetch before pulling the plug.
	time.Sleep(20 * time.Millisecond)
	fx.orch.StopAll()

	op := waitTerminal(t, fx.orch, handles["github"])
	if op.Status != model.StatusCancelled {
		t.Fatalf("op = %s, want cancelled", op.Status)
	}

	items, err := fx.store.ListItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 0 {
		t.Errorf("cancelled crawl persisted %d items, want 0", len(items))
	}
}

func TestCrossSourceDuplicateCollapses(t *testing.T) {
	now := time.Now().UTC()
	shared := model.CandidateItem{
		Title:        "the one shared write-up everyone links",
		Description:  "the same canonical article surfacing on two sources at once",
		URL:          "http://Example.com/shared/",
		DiscoveredAt: now,
	}
	a := shared
	a.SourceID = "github"
	b := shared
	b.SourceID = "hackernews"
	b.URL = "https://example.com/shared#comments"

	fx := newFixture(t, nil,
		&fakeAdapter{id: "github", tier: model.TierCommunity, items: []model.CandidateItem{a}},
		&fakeAdapter{id: "hackernews", tier: model.TierSocial, items: []model.CandidateItem{b}},
	)

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github", "hackernews"}, "shared", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	opA := waitTerminal(t, fx.orch, handles["github"])
	opB := waitTerminal(t, fx.orch, handles["hackernews"])

	if got := opA.ItemsFound + opB.ItemsFound; got != 1 {
		t.Errorf("accepted %d items across sources, want 1", got)
	}
	if got := opA.Duplicates + opB.Duplicates; got != 1 {
		t.Errorf("flagged %d duplicates across sources, want 1", got)
	}

	items, err := fx.store.ListItems(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("corpus has %d rows, want 1", len(items))
	}
	if items[0].CanonicalURL != "https://example.com/shared" {
		t.Errorf("canonical url = %q", items[0].CanonicalURL)
	}
}

type captureNotifier struct {
	mu  sync.Mutex
	ops []model.DiscoveryOperation
}

func (c *captureNotifier) NotifyOperation(op model.DiscoveryOperation) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.ops = append(c.ops, op)
}

func TestNotifierReceivesFinishedOperations(t *testing.T) {
	now := time.Now().UTC()
	notifier := &captureNotifier{}
	fx := newFixture(t, notifier,
		&fakeAdapter{id: "github", tier: model.TierCommunity, items: candidates(3, "github", now)})

	handles, err := fx.orch.StartCrawl(context.Background(),
		[]model.SourceID{"github"}, "caching", 10, CrawlConfig{})
	if err != nil {
		t.Fatal(err)
	}
	waitTerminal(t, fx.orch, handles["github"])

	notifier.mu.Lock()
	defer notifier.mu.Unlock()
	if len(notifier.ops) != 1 {
		t.Fatalf("notifier saw %d operations, want 1", len(notifier.ops))
	}
	if notifier.ops[0].Status != model.StatusCompleted {
		t.Errorf("notified status = %s, want completed", notifier.ops[0].Status)
	}
}
