// Package store persists feeds, items, and per-item read/starred state in
// SQLite. It uses WAL mode for concurrent readers, forward-only numbered
// migrations, and ON DELETE CASCADE so removing a feed removes its items
// and their state in one statement.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"rivulet/internal/domain"
	"rivulet/internal/errkind"
)

// migrations are applied in order, each exactly once, tracked in
// schema_migrations. Migrations are never edited after release; a change
// ships as a new, higher-numbered entry.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS feeds (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		url TEXT NOT NULL UNIQUE,
		title TEXT,
		description TEXT,
		etag TEXT,
		last_modified TEXT,
		last_fetched TEXT,
		created_at TEXT NOT NULL,
		fetch_error_count INTEGER NOT NULL DEFAULT 0,
		last_fetch_error TEXT
	);
	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		feed_id INTEGER NOT NULL REFERENCES feeds(id) ON DELETE CASCADE,
		title TEXT,
		link TEXT,
		content TEXT,
		content_type TEXT NOT NULL DEFAULT 'html',
		summary TEXT,
		author TEXT,
		published TEXT,
		fetched_at TEXT NOT NULL
	);
	CREATE TABLE IF NOT EXISTS item_state (
		item_id TEXT PRIMARY KEY REFERENCES items(id) ON DELETE CASCADE,
		is_read INTEGER NOT NULL DEFAULT 0,
		is_starred INTEGER NOT NULL DEFAULT 0,
		read_at TEXT,
		starred_at TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_items_feed_id ON items(feed_id);
	CREATE INDEX IF NOT EXISTS idx_items_published ON items(published DESC);
	CREATE INDEX IF NOT EXISTS idx_item_state_is_read ON item_state(is_read);`,
}

// Store wraps a SQLite connection with Rivulet's schema and query set.
type Store struct {
	db *sql.DB
}

// Open opens (creating if absent) the SQLite database at path, enables WAL
// mode and foreign key enforcement, and applies any pending migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("%w: open database: %v", errkind.ErrStorage, err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL
	)`); err != nil {
		return fmt.Errorf("%w: create schema_migrations: %v", errkind.ErrStorage, err)
	}

	var applied int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM schema_migrations`).Scan(&applied); err != nil {
		return fmt.Errorf("%w: read schema_migrations: %v", errkind.ErrStorage, err)
	}

	for version := applied; version < len(migrations); version++ {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("%w: begin migration %d: %v", errkind.ErrStorage, version, err)
		}
		if _, err := tx.Exec(migrations[version]); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: apply migration %d: %v", errkind.ErrStorage, version, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
			version, time.Now().UTC().Format(time.RFC3339)); err != nil {
			tx.Rollback()
			return fmt.Errorf("%w: record migration %d: %v", errkind.ErrStorage, version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("%w: commit migration %d: %v", errkind.ErrStorage, version, err)
		}
	}
	return nil
}

// UpsertFeed inserts a new feed by URL, or reconciles an existing
// subscription: title/description are filled in from non-null values only
// when the existing row doesn't already have one (a title, once set,
// is never overwritten by a later re-import or fetch — this preserves a
// user-visible rename). ETag/Last-Modified are never touched here; only
// UpdateFeedCache sets those, after a fetch.
func (s *Store) UpsertFeed(url string, title, description *string) (*domain.Feed, error) {
	existing, err := s.GetFeedByURL(url)
	if err == nil {
		if (title != nil && existing.Title == nil) || (description != nil && existing.Description == nil) {
			if uerr := s.fillFeedMetadata(existing.ID, title, description); uerr != nil {
				return nil, uerr
			}
			return s.GetFeedByID(existing.ID)
		}
		return existing, nil
	}
	if err != errkind.ErrNotFound {
		return nil, err
	}

	now := time.Now().UTC()
	result, err := s.db.Exec(`
		INSERT INTO feeds (url, title, description, created_at) VALUES (?, ?, ?, ?)
	`, url, title, description, now.Format(time.RFC3339))
	if err != nil {
		if isUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: feed %s already subscribed: %v", errkind.ErrConflict, url, err)
		}
		return nil, fmt.Errorf("%w: insert feed: %v", errkind.ErrStorage, err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("%w: last insert id: %v", errkind.ErrStorage, err)
	}
	return s.GetFeedByID(id)
}

// fillFeedMetadata sets title/description only where the column is
// currently null, leaving an already-set value untouched.
func (s *Store) fillFeedMetadata(id int64, title, description *string) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			title = COALESCE(title, ?),
			description = COALESCE(description, ?)
		WHERE id = ?
	`, title, description, id)
	if err != nil {
		return fmt.Errorf("%w: fill feed metadata: %v", errkind.ErrStorage, err)
	}
	return nil
}

const feedColumns = `id, url, title, description, etag, last_modified, last_fetched, created_at, fetch_error_count, last_fetch_error`

// GetFeedByURL returns the feed subscribed at url, or errkind.ErrNotFound.
func (s *Store) GetFeedByURL(url string) (*domain.Feed, error) {
	row := s.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE url = ?`, url)
	return scanFeed(row)
}

// GetFeedByID returns the feed with the given ID, or errkind.ErrNotFound.
func (s *Store) GetFeedByID(id int64) (*domain.Feed, error) {
	row := s.db.QueryRow(`SELECT `+feedColumns+` FROM feeds WHERE id = ?`, id)
	return scanFeed(row)
}

// GetAllFeeds returns every subscribed feed ordered by title
// (case-insensitive), URL as tiebreak; feeds with no title sort after
// titled feeds.
func (s *Store) GetAllFeeds() ([]domain.Feed, error) {
	rows, err := s.db.Query(`
		SELECT ` + feedColumns + ` FROM feeds
		ORDER BY title IS NULL, LOWER(title), url
	`)
	if err != nil {
		return nil, fmt.Errorf("%w: query feeds: %v", errkind.ErrStorage, err)
	}
	defer rows.Close()

	var feeds []domain.Feed
	for rows.Next() {
		feed, err := scanFeedRow(rows)
		if err != nil {
			return nil, err
		}
		feeds = append(feeds, *feed)
	}
	return feeds, rows.Err()
}

// FillFeedMetadata records title/description learned from a fresh parse,
// but only into columns that are still null — an already-set title is a
// user-visible identity that a later fetch must not silently rename.
func (s *Store) FillFeedMetadata(id int64, title, description *string) error {
	return s.fillFeedMetadata(id, title, description)
}

// UpdateFeedCache records a successful fetch's cache headers and clears any
// prior error streak.
func (s *Store) UpdateFeedCache(id int64, etag, lastModified *string, lastFetched time.Time) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			etag = ?, last_modified = ?, last_fetched = ?,
			fetch_error_count = 0, last_fetch_error = NULL
		WHERE id = ?
	`, etag, lastModified, lastFetched.UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("%w: update feed cache: %v", errkind.ErrStorage, err)
	}
	return nil
}

// UpdateFeedError records a failed fetch attempt, incrementing the
// feed's error streak counter (UpdateFeedCache resets it on success).
func (s *Store) UpdateFeedError(id int64, message string) error {
	_, err := s.db.Exec(`
		UPDATE feeds SET
			fetch_error_count = fetch_error_count + 1,
			last_fetch_error = ?,
			last_fetched = ?
		WHERE id = ?
	`, message, time.Now().UTC().Format(time.RFC3339), id)
	if err != nil {
		return fmt.Errorf("%w: update feed error: %v", errkind.ErrStorage, err)
	}
	return nil
}

// DeleteFeed removes a feed and, via ON DELETE CASCADE, all of its items
// and their read/starred state.
func (s *Store) DeleteFeed(id int64) error {
	result, err := s.db.Exec(`DELETE FROM feeds WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete feed: %v", errkind.ErrStorage, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: delete feed rows affected: %v", errkind.ErrStorage, err)
	}
	if affected == 0 {
		return errkind.ErrNotFound
	}
	return nil
}

// AddItems inserts new items for a feed, ignoring any whose ID already
// exists (content-addressed IDs make re-fetched duplicates a no-op rather
// than a conflict). Returns the number of rows actually inserted.
func (s *Store) AddItems(items []domain.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("%w: begin add items: %v", errkind.ErrStorage, err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT OR IGNORE INTO items
			(id, feed_id, title, link, content, content_type, summary, author, published, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return 0, fmt.Errorf("%w: prepare add items: %v", errkind.ErrStorage, err)
	}
	defer stmt.Close()

	var inserted int
	for _, item := range items {
		var published *string
		if item.Published != nil {
			formatted := item.Published.UTC().Format(time.RFC3339)
			published = &formatted
		}
		result, err := stmt.Exec(
			item.ID, item.FeedID, item.Title, item.Link, item.Content,
			item.ContentType, item.Summary, item.Author, published,
			item.FetchedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return 0, fmt.Errorf("%w: insert item %s: %v", errkind.ErrStorage, item.ID, err)
		}
		affected, err := result.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("%w: item rows affected: %v", errkind.ErrStorage, err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("%w: commit add items: %v", errkind.ErrStorage, err)
	}
	return inserted, nil
}

// ItemExists reports whether an item with the given content-addressed ID
// is already stored.
func (s *Store) ItemExists(id string) (bool, error) {
	var exists int
	err := s.db.QueryRow(`SELECT 1 FROM items WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: item exists: %v", errkind.ErrStorage, err)
	}
	return true, nil
}

// UpdateItemContent replaces an item's content after background scraping
// extracts the full article body.
func (s *Store) UpdateItemContent(id string, content *string, contentType string, summary *string) error {
	_, err := s.db.Exec(`
		UPDATE items SET content = ?, content_type = ?, summary = COALESCE(?, summary)
		WHERE id = ?
	`, content, contentType, summary, id)
	if err != nil {
		return fmt.Errorf("%w: update item content: %v", errkind.ErrStorage, err)
	}
	return nil
}

const itemColumns = `id, feed_id, title, link, content, content_type, summary, author, published, fetched_at`

// GetItemsByFeed returns up to limit items for feedID, most recently
// published first (items with a null published date sort last), breaking
// ties by ID for stable pagination.
func (s *Store) GetItemsByFeed(feedID int64, limit, offset int) ([]domain.Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM items
		WHERE feed_id = ?
		ORDER BY published IS NULL, published DESC, id ASC
		LIMIT ? OFFSET ?
	`, feedID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query items by feed: %v", errkind.ErrStorage, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetAllItems returns up to limit items across all feeds, most recently
// published first.
func (s *Store) GetAllItems(limit, offset int) ([]domain.Item, error) {
	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM items
		ORDER BY published IS NULL, published DESC, id ASC
		LIMIT ? OFFSET ?
	`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("%w: query all items: %v", errkind.ErrStorage, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// ItemsNeedingScraping returns up to limit items with a link but little or
// no content, ordered oldest-fetched first so the scrape queue works
// through a backlog fairly.
func (s *Store) ItemsNeedingScraping(threshold, limit int) ([]domain.Item, error) {
	if threshold <= 0 {
		threshold = domain.DefaultScrapeThreshold
	}
	rows, err := s.db.Query(`
		SELECT `+itemColumns+` FROM items
		WHERE link IS NOT NULL AND link != ''
		  AND (content IS NULL OR LENGTH(content) < ?)
		ORDER BY fetched_at ASC
		LIMIT ?
	`, threshold, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: query items needing scraping: %v", errkind.ErrStorage, err)
	}
	defer rows.Close()
	return scanItems(rows)
}

// GetItemState returns item's read/starred state, or a zero-value state
// (both flags false, both timestamps nil) if no state row exists yet.
func (s *Store) GetItemState(itemID string) (*domain.ItemState, error) {
	row := s.db.QueryRow(`
		SELECT item_id, is_read, is_starred, read_at, starred_at
		FROM item_state WHERE item_id = ?
	`, itemID)

	var state domain.ItemState
	var isRead, isStarred int
	var readAt, starredAt sql.NullString
	err := row.Scan(&state.ItemID, &isRead, &isStarred, &readAt, &starredAt)
	if err == sql.ErrNoRows {
		return &domain.ItemState{ItemID: itemID}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: get item state: %v", errkind.ErrStorage, err)
	}
	state.IsRead = isRead != 0
	state.IsStarred = isStarred != 0
	if readAt.Valid {
		t, err := time.Parse(time.RFC3339, readAt.String)
		if err == nil {
			state.ReadAt = &t
		}
	}
	if starredAt.Valid {
		t, err := time.Parse(time.RFC3339, starredAt.String)
		if err == nil {
			state.StarredAt = &t
		}
	}
	return &state, nil
}

// SetRead marks an item read (stamping read_at) or unread (clearing it).
func (s *Store) SetRead(itemID string, read bool) error {
	var readAt *string
	if read {
		formatted := time.Now().UTC().Format(time.RFC3339)
		readAt = &formatted
	}
	_, err := s.db.Exec(`
		INSERT INTO item_state (item_id, is_read, read_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET is_read = excluded.is_read, read_at = excluded.read_at
	`, itemID, boolToInt(read), readAt)
	if err != nil {
		return fmt.Errorf("%w: set read: %v", errkind.ErrStorage, err)
	}
	return nil
}

// SetStarred marks an item starred (stamping starred_at) or unstarred.
func (s *Store) SetStarred(itemID string, starred bool) error {
	var starredAt *string
	if starred {
		formatted := time.Now().UTC().Format(time.RFC3339)
		starredAt = &formatted
	}
	_, err := s.db.Exec(`
		INSERT INTO item_state (item_id, is_starred, starred_at) VALUES (?, ?, ?)
		ON CONFLICT(item_id) DO UPDATE SET is_starred = excluded.is_starred, starred_at = excluded.starred_at
	`, itemID, boolToInt(starred), starredAt)
	if err != nil {
		return fmt.Errorf("%w: set starred: %v", errkind.ErrStorage, err)
	}
	return nil
}

// UnreadCount returns the number of items with no state row or is_read=0,
// restricted to feedID when non-zero, or across every feed when feedID is 0
// (the three-pane UI's overall unread badge).
func (s *Store) UnreadCount(feedID int64) (int, error) {
	var count int
	var err error
	if feedID == 0 {
		err = s.db.QueryRow(`
			SELECT COUNT(*) FROM items i
			LEFT JOIN item_state st ON st.item_id = i.id
			WHERE st.is_read IS NULL OR st.is_read = 0
		`).Scan(&count)
	} else {
		err = s.db.QueryRow(`
			SELECT COUNT(*) FROM items i
			LEFT JOIN item_state st ON st.item_id = i.id
			WHERE i.feed_id = ? AND (st.is_read IS NULL OR st.is_read = 0)
		`, feedID).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("%w: unread count: %v", errkind.ErrStorage, err)
	}
	return count, nil
}

// isUniqueConstraintError reports whether err is a SQLite UNIQUE constraint
// violation (e.g. a concurrent insert racing on feeds.url), as opposed to a
// generic storage failure.
func isUniqueConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrConstraint && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanFeed(row scanner) (*domain.Feed, error) {
	feed, err := scanFeedRow(row)
	if err == sql.ErrNoRows {
		return nil, errkind.ErrNotFound
	}
	return feed, err
}

func scanFeedRow(row scanner) (*domain.Feed, error) {
	var feed domain.Feed
	var title, description, etag, lastModified, lastFetched, createdAt, lastFetchError sql.NullString

	err := row.Scan(
		&feed.ID, &feed.URL, &title, &description, &etag, &lastModified,
		&lastFetched, &createdAt, &feed.FetchErrorCount, &lastFetchError,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("%w: scan feed: %v", errkind.ErrStorage, err)
	}

	if title.Valid {
		feed.Title = &title.String
	}
	if description.Valid {
		feed.Description = &description.String
	}
	if etag.Valid {
		feed.ETag = &etag.String
	}
	if lastModified.Valid {
		feed.LastModified = &lastModified.String
	}
	if lastFetchError.Valid {
		feed.LastFetchError = &lastFetchError.String
	}
	if lastFetched.Valid {
		t, err := time.Parse(time.RFC3339, lastFetched.String)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid last_fetched %q: %v", errkind.ErrStorage, lastFetched.String, err)
		}
		feed.LastFetched = &t
	}
	if createdAt.Valid {
		t, err := time.Parse(time.RFC3339, createdAt.String)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid created_at %q: %v", errkind.ErrStorage, createdAt.String, err)
		}
		feed.CreatedAt = t
	}
	return &feed, nil
}

func scanItems(rows *sql.Rows) ([]domain.Item, error) {
	var items []domain.Item
	for rows.Next() {
		var item domain.Item
		var title, link, content, summary, author, published sql.NullString
		var fetchedAt string

		err := rows.Scan(
			&item.ID, &item.FeedID, &title, &link, &content, &item.ContentType,
			&summary, &author, &published, &fetchedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("%w: scan item: %v", errkind.ErrStorage, err)
		}

		if title.Valid {
			item.Title = &title.String
		}
		if link.Valid {
			item.Link = &link.String
		}
		if content.Valid {
			item.Content = &content.String
		}
		if summary.Valid {
			item.Summary = &summary.String
		}
		if author.Valid {
			item.Author = &author.String
		}
		if published.Valid {
			t, err := time.Parse(time.RFC3339, published.String)
			if err != nil {
				return nil, fmt.Errorf("%w: invalid published %q: %v", errkind.ErrStorage, published.String, err)
			}
			item.Published = &t
		}
		t, err := time.Parse(time.RFC3339, fetchedAt)
		if err != nil {
			return nil, fmt.Errorf("%w: invalid fetched_at %q: %v", errkind.ErrStorage, fetchedAt, err)
		}
		item.FetchedAt = t

		items = append(items, item)
	}
	return items, rows.Err()
}
