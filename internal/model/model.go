// Package model defines the domain types used across the application.
package model

import "time"

// SourceID identifies a registered content source.
type SourceID string

// SourceTier groups sources by baseline trust for quality scoring.
type SourceTier string

// Supported source tiers, from most to least curated.
const (
	TierAcademic  SourceTier = "academic"
	TierCurated   SourceTier = "curated"
	TierCommunity SourceTier = "community"
	TierSocial    SourceTier = "social"
)

// OperationStatus is the lifecycle state of a per-source crawl.
type OperationStatus string

// Operation lifecycle states. Completed, failed and cancelled are terminal.
const (
	StatusPending   OperationStatus = "pending"
	StatusRunning   OperationStatus = "running"
	StatusCompleted OperationStatus = "completed"
	StatusFailed    OperationStatus = "failed"
	StatusCancelled OperationStatus = "cancelled"
)

// IsTerminal reports whether no further transitions are allowed.
func (s OperationStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// DiscoveryOperation tracks one per-source crawl dispatched by the
// orchestrator. The counters record every pipeline outcome so that skips and
// drops stay observable.
type DiscoveryOperation struct {
	ID          string          `json:"id"`
	Source      SourceID        `json:"source"`
	Query       string          `json:"query"`
	Status      OperationStatus `json:"status"`
	StartedAt   time.Time       `json:"startedAt"`
	CompletedAt *time.Time      `json:"completedAt,omitempty"`
	ItemsFound  int             `json:"itemsFound"`
	Duplicates  int             `json:"duplicates"`
	LowQuality  int             `json:"lowQuality"`
	ParseSkips  int             `json:"parseSkips"`
	Error       string          `json:"error,omitempty"`
}

// CandidateItem is a normalized item pulled from one source for one query.
// It is never persisted directly; the pipeline either promotes it to a
// CorpusItem or drops it.
type CandidateItem struct {
	SourceID     SourceID
	Title        string
	Description  string
	URL          string
	Author       string
	RawMetadata  map[string]any
	DiscoveredAt time.Time
}

// EngagementKey is the RawMetadata key under which adapters store their
// normalized [0,1] engagement signal.
const EngagementKey = "engagement"

// Engagement returns the adapter-supplied normalized engagement signal,
// or 0 if the adapter produced none.
func (c CandidateItem) Engagement() float64 {
	if c.RawMetadata == nil {
		return 0
	}
	v, ok := c.RawMetadata[EngagementKey].(float64)
	if !ok {
		return 0
	}
	return v
}

// Popularity holds per-item interaction counters.
type Popularity struct {
	Views     int64 `json:"views"`
	Likes     int64 `json:"likes"`
	Shares    int64 `json:"shares"`
	Bookmarks int64 `json:"bookmarks"`
}

// CorpusItem is the persisted, deduplicated, categorized record backing the
// directory. Exactly one CorpusItem exists per canonical URL.
type CorpusItem struct {
	ID           string     `json:"id"`
	CanonicalURL string     `json:"canonicalUrl"`
	ContentHash  string     `json:"contentHash"`
	Title        string     `json:"title"`
	Description  string     `json:"description"`
	Source       SourceID   `json:"source"`
	Category     string     `json:"category"`
	Tags         []string   `json:"tags"`
	QualityScore float64    `json:"qualityScore"`
	Embedding    []float64  `json:"embedding,omitempty"`
	Popularity   Popularity `json:"popularity"`
	CreatedAt    time.Time  `json:"createdAt"`
}

// InteractionType classifies a user interaction event.
type InteractionType string

// Supported interaction types.
const (
	InteractionView     InteractionType = "view"
	InteractionLike     InteractionType = "like"
	InteractionShare    InteractionType = "share"
	InteractionBookmark InteractionType = "bookmark"
)

// ValidInteractionType reports whether t is one of the supported types.
func ValidInteractionType(t InteractionType) bool {
	switch t {
	case InteractionView, InteractionLike, InteractionShare, InteractionBookmark:
		return true
	}
	return false
}

// UserInteraction is an immutable interaction event, written once and never
// mutated.
type UserInteraction struct {
	UserID    string          `json:"userId"`
	ContentID string          `json:"contentId"`
	Type      InteractionType `json:"type"`
	Timestamp time.Time       `json:"timestamp"`
}

// UserProfile holds a user's preferences for personalized ranking.
type UserProfile struct {
	UserID        string   `json:"userId"`
	Preferences   []string `json:"preferences"`
	Interests     []string `json:"interests"`
	ActivityLevel string   `json:"activityLevel"`
}

// DefaultProfile is the deterministic cold-start profile used when a user
// has no stored profile.
func DefaultProfile(userID string) *UserProfile {
	return &UserProfile{
		UserID:        userID,
		Preferences:   []string{},
		Interests:     []string{},
		ActivityLevel: "new",
	}
}
