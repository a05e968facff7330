// Package storage defines the persistence gateway and its implementations.
package storage

import (
	"context"
	"time"

	"content_radar/internal/model"
)

// InsertResult is the outcome of an atomic corpus insert.
type InsertResult int

// Insert outcomes. A conflict means another writer already owns the
// canonical URL; callers treat it as an ordinary duplicate, not an error.
const (
	InsertAccepted InsertResult = iota
	InsertConflict
)

// ItemFilter narrows a corpus query. Zero values mean "no restriction";
// Limit <= 0 selects a default page size.
type ItemFilter struct {
	Category string
	Search   string
	Featured bool
	Limit    int
}

// Storage is the interface for all persistence operations.
type Storage interface {
	InsertItem(ctx context.Context, item *model.CorpusItem) (InsertResult, error)
	GetItem(ctx context.Context, id string) (*model.CorpusItem, error)
	QueryItems(ctx context.Context, f ItemFilter) ([]model.CorpusItem, error)
	ListItems(ctx context.Context) ([]model.CorpusItem, error)

	RecordInteraction(ctx context.Context, in model.UserInteraction) error
	ListInteractions(ctx context.Context, since time.Time) ([]model.UserInteraction, error)

	GetProfile(ctx context.Context, userID string) (*model.UserProfile, error)
	SaveProfile(ctx context.Context, p *model.UserProfile) error

	Close() error
}
