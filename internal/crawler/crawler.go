// Package crawler implements the discovery orchestrator: it fans a query
// out to the selected source adapters on a bounded worker pool, runs the
// accept pipeline (score, dedupe, categorize) over every candidate and
// hands accepted items to the persistence gateway.
package crawler

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/semaphore"

	"content_radar/internal/categorize"
	"content_radar/internal/dedup"
	"content_radar/internal/metrics"
	"content_radar/internal/model"
	"content_radar/internal/scoring"
	"content_radar/internal/source"
	"content_radar/internal/storage"
)

// Defaults for CrawlConfig fields left at their zero value.
const (
	DefaultMaxConcurrency = 5
	DefaultTimeout        = 30 * time.Second
	DefaultMaxAttempts    = 3
	DefaultMinQuality     = 0.3

	initialBackoff   = 500 * time.Millisecond
	maxRateLimitWait = 30 * time.Second
)

// CrawlConfig tunes one StartCrawl call.
type CrawlConfig struct {
	MaxConcurrency int           `json:"maxConcurrency" validate:"gte=0,lte=64"`
	Timeout        time.Duration `json:"-"`
	MaxAttempts    int           `json:"maxAttempts" validate:"gte=0,lte=10"`
	MinQuality     float64       `json:"minQuality" validate:"gte=0,lte=1"`
	DedupThreshold float64       `json:"dedupThreshold" validate:"gte=0,lte=1"`
}

func (c CrawlConfig) withDefaults() CrawlConfig {
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = DefaultMaxConcurrency
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.MinQuality <= 0 {
		c.MinQuality = DefaultMinQuality
	}
	if c.DedupThreshold <= 0 {
		c.DedupThreshold = dedup.DefaultThreshold
	}
	return c
}

// ValidationError reports a malformed crawl request. It is returned
// synchronously by StartCrawl before any work is scheduled.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "invalid crawl request: " + e.Reason }

// Notifier receives finished operations. Implementations must be safe for
// concurrent use.
type Notifier interface {
	NotifyOperation(op model.DiscoveryOperation)
}

// Orchestrator coordinates concurrent per-source crawls. It is constructed
// once at process start and shared by reference; there is no package-level
// instance.
type Orchestrator struct {
	registry *source.Registry
	store    storage.Storage
	log      *slog.Logger
	metrics  *metrics.Metrics
	notifier Notifier

	mu      sync.RWMutex
	ops     map[string]*model.DiscoveryOperation
	cancels map[string]context.CancelFunc
}

// New creates an Orchestrator. notifier may be nil.
func New(registry *source.Registry, store storage.Storage, m *metrics.Metrics,
	notifier Notifier, log *slog.Logger) *Orchestrator {
	return &Orchestrator{
		registry: registry,
		store:    store,
		log:      log,
		metrics:  m,
		notifier: notifier,
		ops:      make(map[string]*model.DiscoveryOperation),
		cancels:  make(map[string]context.CancelFunc),
	}
}

// StartCrawl validates the request, creates one pending operation per
// source and dispatches them onto a worker pool bounded by
// cfg.MaxConcurrency. It returns immediately with the operation ids; ctx is
// used only for the validation-time corpus snapshot, the crawls themselves
// run until done or StopAll.
func (o *Orchestrator) StartCrawl(ctx context.Context, sources []model.SourceID, query string,
	limit int, cfg CrawlConfig) (map[model.SourceID]string, error) {

	if len(sources) == 0 {
		return nil, &ValidationError{Reason: "no sources given"}
	}
	if query == "" {
		return nil, &ValidationError{Reason: "empty query"}
	}
	if limit <= 0 {
		return nil, &ValidationError{Reason: "limit must be positive"}
	}

	adapters := make(map[model.SourceID]source.Adapter, len(sources))
	for _, id := range sources {
		a, ok := o.registry.Lookup(id)
		if !ok {
			return nil, &ValidationError{Reason: fmt.Sprintf("unknown source %q", id)}
		}
		adapters[id] = a
	}
	cfg = cfg.withDefaults()

	// One corpus snapshot per crawl; accepted items are added to the index
	// as the run progresses so sources racing within this run see each
	// other's writes before hitting the storage constraint.
	existing, err := o.store.ListItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("snapshot corpus: %w", err)
	}
	index := dedup.NewIndex(existing)
	detector := dedup.NewDetector(index, cfg.DedupThreshold, categorize.Category)

	crawlCtx, cancel := context.WithCancel(context.Background())
	sem := semaphore.NewWeighted(int64(cfg.MaxConcurrency))

	handles := make(map[model.SourceID]string, len(sources))
	o.mu.Lock()
	for id := range adapters {
		op := &model.DiscoveryOperation{
			ID:        uuid.New().String(),
			Source:    id,
			Query:     query,
			Status:    model.StatusPending,
			StartedAt: time.Now().UTC(),
		}
		o.ops[op.ID] = op
		o.cancels[op.ID] = cancel
		handles[id] = op.ID
	}
	o.mu.Unlock()

	var wg sync.WaitGroup
	for id, opID := range handles {
		wg.Add(1)
		go func(a source.Adapter, opID string) {
			defer wg.Done()
			o.runOne(crawlCtx, sem, a, opID, query, limit, cfg, detector, index)
		}(adapters[id], opID)
	}
	go func() {
		wg.Wait()
		cancel()
		o.mu.Lock()
		for _, opID := range handles {
			delete(o.cancels, opID)
		}
		o.mu.Unlock()
	}()

	return handles, nil
}

// runOne executes a single per-source crawl: queue on the pool, fetch with
// retries, then pipeline the candidates. A failure here never touches the
// sibling operations.
func (o *Orchestrator) runOne(ctx context.Context, sem *semaphore.Weighted, adapter source.Adapter,
	opID, query string, limit int, cfg CrawlConfig, detector *dedup.Detector, index *dedup.Index) {

	if err := sem.Acquire(ctx, 1); err != nil {
		o.finish(opID, model.StatusCancelled, "")
		return
	}
	defer sem.Release(1)

	if !o.transition(opID, model.StatusRunning) {
		return
	}
	log := o.log.With("operation_id", opID, "source", adapter.ID(), "query", query)
	log.Debug("crawl started")

	candidates, err := o.fetchWithRetry(ctx, adapter, query, limit, cfg)
	if err != nil {
		if ctx.Err() != nil {
			log.Info("crawl cancelled")
			o.finish(opID, model.StatusCancelled, "")
			return
		}
		log.Error("crawl failed", "error", err)
		o.metrics.CrawlFailures.WithLabelValues(string(adapter.ID())).Inc()
		o.finish(opID, model.StatusFailed, err.Error())
		return
	}

	o.metrics.CandidatesFound.WithLabelValues(string(adapter.ID())).Add(float64(len(candidates)))
	o.pipeline(ctx, opID, adapter, candidates, cfg, detector, index)

	if ctx.Err() != nil {
		log.Info("crawl cancelled")
		o.finish(opID, model.StatusCancelled, "")
		return
	}
	op := o.finish(opID, model.StatusCompleted, "")
	if op != nil {
		log.Info("crawl completed", "items_found", op.ItemsFound,
			"duplicates", op.Duplicates, "low_quality", op.LowQuality, "parse_skips", op.ParseSkips)
	}
}

// fetchWithRetry wraps one adapter call with a per-attempt timeout and
// exponential backoff on transient failures. Rate-limit hints from the
// source are honored up to a cap.
func (o *Orchestrator) fetchWithRetry(ctx context.Context, adapter source.Adapter,
	query string, limit int, cfg CrawlConfig) ([]model.CandidateItem, error) {

	backoff := retry.WithMaxRetries(uint64(cfg.MaxAttempts-1), retry.NewExponential(initialBackoff))

	var candidates []model.CandidateItem
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		attemptCtx, cancel := context.WithTimeout(ctx, cfg.Timeout)
		defer cancel()

		items, err := adapter.Discover(attemptCtx, query, limit)
		if err == nil {
			candidates = items
			return nil
		}

		var rl *source.RateLimitedError
		switch {
		case errors.As(err, &rl):
			if wait := rl.RetryAfter; wait > 0 {
				if wait > maxRateLimitWait {
					wait = maxRateLimitWait
				}
				select {
				case <-time.After(wait):
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			return retry.RetryableError(err)
		case errors.Is(err, source.ErrSourceUnavailable),
			errors.Is(err, context.DeadlineExceeded):
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return retry.RetryableError(err)
		default:
			return err
		}
	})
	if err != nil {
		return nil, err
	}
	return candidates, nil
}

// pipeline runs score -> dedupe -> categorize -> insert over the candidates
// in adapter order. Cancellation discards everything not yet committed.
func (o *Orchestrator) pipeline(ctx context.Context, opID string, adapter source.Adapter,
	candidates []model.CandidateItem, cfg CrawlConfig, detector *dedup.Detector, index *dedup.Index) {

	src := string(adapter.ID())
	now := time.Now().UTC()

	for _, candidate := range candidates {
		if ctx.Err() != nil {
			return
		}

		if candidate.Title == "" || candidate.URL == "" {
			o.tally(opID, func(op *model.DiscoveryOperation) { op.ParseSkips++ })
			o.metrics.ParseSkips.WithLabelValues(src).Inc()
			continue
		}
		canonical, err := dedup.CanonicalURL(candidate.URL)
		if err != nil {
			o.log.Debug("dropping candidate with bad url", "url", candidate.URL, "error", err)
			o.tally(opID, func(op *model.DiscoveryOperation) { op.ParseSkips++ })
			o.metrics.ParseSkips.WithLabelValues(src).Inc()
			continue
		}

		score := scoring.Score(candidate, adapter.Tier(), now)
		if score < cfg.MinQuality {
			o.tally(opID, func(op *model.DiscoveryOperation) { op.LowQuality++ })
			o.metrics.LowQuality.WithLabelValues(src).Inc()
			continue
		}

		if result := detector.Check(candidate, canonical); result.Outcome == dedup.Duplicate {
			o.tally(opID, func(op *model.DiscoveryOperation) { op.Duplicates++ })
			o.metrics.Duplicates.WithLabelValues(src).Inc()
			continue
		}

		category, tags := categorize.Categorize(candidate)
		item := &model.CorpusItem{
			ID:           uuid.New().String(),
			CanonicalURL: canonical,
			ContentHash:  contentHash(candidate),
			Title:        candidate.Title,
			Description:  candidate.Description,
			Source:       candidate.SourceID,
			Category:     category,
			Tags:         tags,
			QualityScore: score,
			CreatedAt:    time.Now().UTC(),
		}

		// Cancellation means discard, never persist.
		if ctx.Err() != nil {
			return
		}
		result, err := o.store.InsertItem(ctx, item)
		if err != nil {
			o.log.Error("insert item", "url", canonical, "error", err)
			continue
		}
		if result == storage.InsertConflict {
			// Lost the race on the unique constraint; an ordinary duplicate.
			o.tally(opID, func(op *model.DiscoveryOperation) { op.Duplicates++ })
			o.metrics.Duplicates.WithLabelValues(src).Inc()
			continue
		}

		index.Add(canonical, candidate.Title, category)
		o.tally(opID, func(op *model.DiscoveryOperation) { op.ItemsFound++ })
		o.metrics.ItemsAccepted.WithLabelValues(src).Inc()
	}
}

// GetStatus returns a point-in-time snapshot of one operation.
func (o *Orchestrator) GetStatus(opID string) (model.DiscoveryOperation, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	op, ok := o.ops[opID]
	if !ok {
		return model.DiscoveryOperation{}, false
	}
	return *op, true
}

// ListOperations returns snapshots of all known operations.
func (o *Orchestrator) ListOperations() []model.DiscoveryOperation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]model.DiscoveryOperation, 0, len(o.ops))
	for _, op := range o.ops {
		out = append(out, *op)
	}
	return out
}

// StopAll cancels every in-flight crawl. Cancellation is cooperative:
// adapters observe the shared context, and anything not yet committed is
// discarded.
func (o *Orchestrator) StopAll() {
	o.mu.Lock()
	cancels := make([]context.CancelFunc, 0, len(o.cancels))
	for _, cancel := range o.cancels {
		cancels = append(cancels, cancel)
	}
	o.cancels = make(map[string]context.CancelFunc)
	o.mu.Unlock()

	for _, cancel := range cancels {
		cancel()
	}
	o.log.Info("stop requested", "cancelled_crawls", len(cancels))
}

// transition moves an operation to status unless it is already terminal.
func (o *Orchestrator) transition(opID string, status model.OperationStatus) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	op, ok := o.ops[opID]
	if !ok || op.Status.IsTerminal() {
		return false
	}
	op.Status = status
	return true
}

// finish moves an operation to a terminal state and fires the notifier.
// Returns the final snapshot, or nil if the operation was already terminal.
func (o *Orchestrator) finish(opID string, status model.OperationStatus, errMsg string) *model.DiscoveryOperation {
	o.mu.Lock()
	op, ok := o.ops[opID]
	if !ok || op.Status.IsTerminal() {
		o.mu.Unlock()
		return nil
	}
	now := time.Now().UTC()
	op.Status = status
	op.CompletedAt = &now
	op.Error = errMsg
	snapshot := *op
	o.mu.Unlock()

	if o.notifier != nil {
		o.notifier.NotifyOperation(snapshot)
	}
	return &snapshot
}

func (o *Orchestrator) tally(opID string, update func(*model.DiscoveryOperation)) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if op, ok := o.ops[opID]; ok {
		update(op)
	}
}

func contentHash(c model.CandidateItem) string {
	h := sha256.Sum256([]byte(c.Title + "|" + c.Description))
	return fmt.Sprintf("sha256:%x", h[:16])
}
