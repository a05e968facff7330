package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/goccy/go-json"
	_ "modernc.org/sqlite" // SQLite driver registration.

	"content_radar/internal/model"
	"content_radar/migrations"
)

const timeLayout = "2006-01-02T15:04:05Z"

// featuredThreshold is the minimum quality score for the featured filter.
const featuredThreshold = 0.75

const defaultQueryLimit = 50

const itemColumns = `id, canonical_url, content_hash, title, description, source, category, tags,
	quality_score, embedding, views, likes, shares, bookmarks, created_at`

// SQLite implements Storage backed by a SQLite database.
type SQLite struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at dsn and runs pending migrations.
func NewSQLite(dsn string) (*SQLite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection: keeps :memory: databases coherent and serializes
	// concurrent pipeline writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	if err := migrations.Run(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLite{db: db}, nil
}

// Close closes the underlying database connection.
func (s *SQLite) Close() error {
	return s.db.Close()
}

// InsertItem atomically inserts a corpus item keyed on canonical URL.
// A second writer discovering the same URL gets InsertConflict, never an
// error: the unique constraint is the correctness boundary for concurrent
// crawls.
func (s *SQLite) InsertItem(ctx context.Context, item *model.CorpusItem) (InsertResult, error) {
	tags, err := json.Marshal(item.Tags)
	if err != nil {
		return 0, fmt.Errorf("marshal tags: %w", err)
	}
	var embedding *string
	if len(item.Embedding) > 0 {
		raw, err := json.Marshal(item.Embedding)
		if err != nil {
			return 0, fmt.Errorf("marshal embedding: %w", err)
		}
		v := string(raw)
		embedding = &v
	}
	if item.CreatedAt.IsZero() {
		item.CreatedAt = time.Now().UTC()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO items (id, canonical_url, content_hash, title, description, source, category, tags,
		                    quality_score, embedding, views, likes, shares, bookmarks, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, 0, 0, ?)
		 ON CONFLICT(canonical_url) DO NOTHING`,
		item.ID, item.CanonicalURL, item.ContentHash, item.Title, item.Description,
		string(item.Source), item.Category, string(tags), item.QualityScore, embedding,
		item.CreatedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("insert item: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return InsertConflict, nil
	}
	return InsertAccepted, nil
}

// GetItem returns a single corpus item by its ID, or nil if absent.
func (s *SQLite) GetItem(ctx context.Context, id string) (*model.CorpusItem, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM items WHERE id = ?`, id)
	item, err := scanItem(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return item, err
}

// QueryItems returns corpus items matching the filter, newest first.
func (s *SQLite) QueryItems(ctx context.Context, f ItemFilter) ([]model.CorpusItem, error) {
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}

	builder := sq.Select(itemColumns).
		From("items").
		OrderBy("created_at DESC, id").
		Limit(uint64(limit))

	if f.Category != "" {
		builder = builder.Where(sq.Eq{"category": f.Category})
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		builder = builder.Where(sq.Or{
			sq.Like{"title": like},
			sq.Like{"description": like},
		})
	}
	if f.Featured {
		builder = builder.Where(sq.GtOrEq{"quality_score": featuredThreshold})
	}

	query, args, err := builder.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// ListItems returns the full corpus, newest first.
func (s *SQLite) ListItems(ctx context.Context) ([]model.CorpusItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+itemColumns+` FROM items ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	defer func() { _ = rows.Close() }()
	return scanItems(rows)
}

// RecordInteraction appends an interaction event and bumps the matching
// popularity counter on the item.
func (s *SQLite) RecordInteraction(ctx context.Context, in model.UserInteraction) error {
	if !model.ValidInteractionType(in.Type) {
		return fmt.Errorf("unknown interaction type %q", in.Type)
	}
	if in.Timestamp.IsZero() {
		in.Timestamp = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO interactions (user_id, content_id, type, created_at) VALUES (?, ?, ?, ?)`,
		in.UserID, in.ContentID, string(in.Type), in.Timestamp.UTC().Format(timeLayout),
	); err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}

	counter := map[model.InteractionType]string{
		model.InteractionView:     "views",
		model.InteractionLike:     "likes",
		model.InteractionShare:    "shares",
		model.InteractionBookmark: "bookmarks",
	}[in.Type]
	if _, err := tx.ExecContext(ctx,
		`UPDATE items SET `+counter+` = `+counter+` + 1 WHERE id = ?`, in.ContentID,
	); err != nil {
		return fmt.Errorf("bump %s: %w", counter, err)
	}

	return tx.Commit()
}

// ListInteractions returns interaction events recorded at or after since.
func (s *SQLite) ListInteractions(ctx context.Context, since time.Time) ([]model.UserInteraction, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT user_id, content_id, type, created_at FROM interactions
		 WHERE created_at >= ? ORDER BY created_at, id`,
		since.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("query interactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []model.UserInteraction
	for rows.Next() {
		var in model.UserInteraction
		var typ, created string
		if err := rows.Scan(&in.UserID, &in.ContentID, &typ, &created); err != nil {
			return nil, fmt.Errorf("scan interaction: %w", err)
		}
		in.Type = model.InteractionType(typ)
		in.Timestamp, _ = time.Parse(timeLayout, created)
		out = append(out, in)
	}
	return out, rows.Err()
}

// GetProfile returns the stored profile for userID, or nil if absent.
func (s *SQLite) GetProfile(ctx context.Context, userID string) (*model.UserProfile, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT user_id, preferences, interests, activity_level FROM profiles WHERE user_id = ?`,
		userID,
	)
	var p model.UserProfile
	var prefs, interests string
	err := row.Scan(&p.UserID, &prefs, &interests, &p.ActivityLevel)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan profile: %w", err)
	}
	if err := json.Unmarshal([]byte(prefs), &p.Preferences); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	if err := json.Unmarshal([]byte(interests), &p.Interests); err != nil {
		return nil, fmt.Errorf("decode interests: %w", err)
	}
	return &p, nil
}

// SaveProfile inserts or replaces a user profile.
func (s *SQLite) SaveProfile(ctx context.Context, p *model.UserProfile) error {
	prefs, err := json.Marshal(p.Preferences)
	if err != nil {
		return fmt.Errorf("marshal preferences: %w", err)
	}
	interests, err := json.Marshal(p.Interests)
	if err != nil {
		return fmt.Errorf("marshal interests: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO profiles (user_id, preferences, interests, activity_level)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		   preferences = excluded.preferences,
		   interests = excluded.interests,
		   activity_level = excluded.activity_level`,
		p.UserID, string(prefs), string(interests), p.ActivityLevel,
	)
	if err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func scanItem(row scannable) (*model.CorpusItem, error) {
	var item model.CorpusItem
	var source, tags, created string
	var embedding sql.NullString
	err := row.Scan(&item.ID, &item.CanonicalURL, &item.ContentHash, &item.Title,
		&item.Description, &source, &item.Category, &tags, &item.QualityScore,
		&embedding, &item.Popularity.Views, &item.Popularity.Likes,
		&item.Popularity.Shares, &item.Popularity.Bookmarks, &created)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("scan item: %w", err)
	}
	item.Source = model.SourceID(source)
	if err := json.Unmarshal([]byte(tags), &item.Tags); err != nil {
		return nil, fmt.Errorf("decode tags: %w", err)
	}
	if embedding.Valid {
		if err := json.Unmarshal([]byte(embedding.String), &item.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding: %w", err)
		}
	}
	item.CreatedAt, _ = time.Parse(timeLayout, created)
	return &item, nil
}

func scanItems(rows *sql.Rows) ([]model.CorpusItem, error) {
	var items []model.CorpusItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *item)
	}
	return items, rows.Err()
}
