// Package domain holds Rivulet's value types (Feed, Item, ItemState) and
// the content-addressed item identity scheme. Optional fields are nil
// pointers rather than empty strings, so "absent" and "empty" are never
// confused when round-tripping through the store.
package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Feed is a subscribed syndication source identified by URL.
type Feed struct {
	ID              int64
	URL             string
	Title           *string
	Description     *string
	ETag            *string
	LastModified    *string
	LastFetched     *time.Time
	CreatedAt       time.Time
	FetchErrorCount int
	LastFetchError  *string
}

// Item is a single entry within a feed, identified by a content-addressed
// ID derived from (feed URL, entry identifier). See ItemID.
type Item struct {
	ID          string
	FeedID      int64
	Title       *string
	Link        *string
	Content     *string
	ContentType string // "html" or "text"
	Summary     *string
	Author      *string
	Published   *time.Time // UTC
	FetchedAt   time.Time
}

// ItemState holds per-item read/starred flags. A missing row is
// equivalent to both flags false with null timestamps (left-join
// semantics in the store).
type ItemState struct {
	ItemID    string
	IsRead    bool
	IsStarred bool
	ReadAt    *time.Time
	StarredAt *time.Time
}

// DefaultScrapeThreshold is the content length (in runes) below which an
// item with a link is considered sparse enough to need scraping.
const DefaultScrapeThreshold = 200

// EntryIdentifier picks the stable per-entry identifier used to derive an
// item's content-addressed ID: the feed-provided entry ID/GUID if
// non-empty, else the entry link, else the entry title.
func EntryIdentifier(guid, link, title string) string {
	if guid != "" {
		return guid
	}
	if link != "" {
		return link
	}
	return title
}

// ItemID derives the content-addressed item ID: the lowercase hex SHA-256
// digest of feedURL concatenated with entryIdentifier. Deterministic: the
// same (feedURL, entryIdentifier) pair always yields the same ID,
// independent of insertion order or run.
func ItemID(feedURL, entryIdentifier string) string {
	h := sha256.New()
	h.Write([]byte(feedURL))
	h.Write([]byte(entryIdentifier))
	return hex.EncodeToString(h.Sum(nil))
}

// NeedsScraping reports whether item should be queued for background
// content extraction: it has a link, and its content is absent or shorter
// than threshold. A threshold <= 0 uses DefaultScrapeThreshold.
func NeedsScraping(item Item, threshold int) bool {
	if item.Link == nil || *item.Link == "" {
		return false
	}
	if threshold <= 0 {
		threshold = DefaultScrapeThreshold
	}
	if item.Content == nil {
		return true
	}
	return len([]rune(*item.Content)) < threshold
}
