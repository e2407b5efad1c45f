package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/domain"
	"rivulet/internal/errkind"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rivulet.db")
	st, err := Open(path)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	return st
}

func TestUpsertFeedDuplicateInsertIsAConflict(t *testing.T) {
	st := openTestStore(t)
	_, err := st.UpsertFeed("https://race.example.com/feed", nil, nil)
	require.NoError(t, err)

	// UpsertFeed's own check-then-insert can't fully close the race window
	// between two concurrent callers; simulate the resulting UNIQUE
	// violation directly to confirm it classifies as errkind.ErrConflict.
	_, err = st.db.Exec(`INSERT INTO feeds (url, created_at) VALUES (?, ?)`,
		"https://race.example.com/feed", time.Now().UTC().Format(time.RFC3339))
	require.Error(t, err)
	assert.True(t, isUniqueConstraintError(err))
}

func TestUpsertFeedInsertsThenPreservesSetTitle(t *testing.T) {
	st := openTestStore(t)

	title := "Original Title"
	feed, err := st.UpsertFeed("https://example.com/rss", &title, nil)
	require.NoError(t, err)
	assert.Equal(t, "Original Title", *feed.Title)

	renamed := "Renamed By Fetch"
	again, err := st.UpsertFeed("https://example.com/rss", &renamed, nil)
	require.NoError(t, err)
	assert.Equal(t, feed.ID, again.ID, "upserting an existing URL updates in place, no duplicate row")
	assert.Equal(t, "Original Title", *again.Title, "a title once set is never overwritten by re-fetch")
}

func TestUpsertFeedFillsMissingTitle(t *testing.T) {
	st := openTestStore(t)

	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)
	assert.Nil(t, feed.Title)

	title := "Discovered Title"
	again, err := st.UpsertFeed("https://example.com/rss", &title, nil)
	require.NoError(t, err)
	require.NotNil(t, again.Title)
	assert.Equal(t, "Discovered Title", *again.Title)
}

func TestAddItemsIsIdempotent(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	item := domain.Item{
		ID:          domain.ItemID(feed.URL, "guid-1"),
		FeedID:      feed.ID,
		ContentType: "html",
		FetchedAt:   time.Now().UTC(),
	}

	inserted, err := st.AddItems([]domain.Item{item, item})
	require.NoError(t, err)
	assert.Equal(t, 1, inserted, "inserting the same item twice in one batch is a no-op the second time")

	insertedAgain, err := st.AddItems([]domain.Item{item})
	require.NoError(t, err)
	assert.Equal(t, 0, insertedAgain, "re-inserting an existing ID on a later call is also a no-op")

	items, err := st.GetItemsByFeed(feed.ID, 10, 0)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestDeleteFeedCascades(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	other, err := st.UpsertFeed("https://example.org/rss", nil, nil)
	require.NoError(t, err)

	itemA := domain.Item{ID: domain.ItemID(feed.URL, "a"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	itemB := domain.Item{ID: domain.ItemID(other.URL, "b"), FeedID: other.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	_, err = st.AddItems([]domain.Item{itemA, itemB})
	require.NoError(t, err)

	require.NoError(t, st.SetRead(itemA.ID, true))

	require.NoError(t, st.DeleteFeed(feed.ID))

	remaining, err := st.GetAllItems(10, 0)
	require.NoError(t, err)
	require.Len(t, remaining, 1)
	assert.Equal(t, itemB.ID, remaining[0].ID, "deleting one feed must not touch another feed's items")

	exists, err := st.ItemExists(itemA.ID)
	require.NoError(t, err)
	assert.False(t, exists)

	state, err := st.GetItemState(itemA.ID)
	require.NoError(t, err)
	assert.False(t, state.IsRead, "state row is gone after cascade, so it reads back as the zero value")
}

func TestDeleteFeedNotFound(t *testing.T) {
	st := openTestStore(t)
	err := st.DeleteFeed(999)
	assert.ErrorIs(t, err, errkind.ErrNotFound)
}

func TestGetItemsByFeedOrdering(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	older := time.Now().Add(-48 * time.Hour).UTC()
	newer := time.Now().Add(-1 * time.Hour).UTC()

	withNull := domain.Item{ID: domain.ItemID(feed.URL, "null-date"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	withOlder := domain.Item{ID: domain.ItemID(feed.URL, "older"), FeedID: feed.ID, ContentType: "html", Published: &older, FetchedAt: time.Now().UTC()}
	withNewer := domain.Item{ID: domain.ItemID(feed.URL, "newer"), FeedID: feed.ID, ContentType: "html", Published: &newer, FetchedAt: time.Now().UTC()}

	_, err = st.AddItems([]domain.Item{withOlder, withNull, withNewer})
	require.NoError(t, err)

	items, err := st.GetItemsByFeed(feed.ID, 10, 0)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, withNewer.ID, items[0].ID, "published DESC: most recent first")
	assert.Equal(t, withOlder.ID, items[1].ID)
	assert.Equal(t, withNull.ID, items[2].ID, "null published sorts last")
}

func TestSetReadTogglesReadAtTimestamp(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	item := domain.Item{ID: domain.ItemID(feed.URL, "a"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	_, err = st.AddItems([]domain.Item{item})
	require.NoError(t, err)

	require.NoError(t, st.SetRead(item.ID, true))
	state, err := st.GetItemState(item.ID)
	require.NoError(t, err)
	assert.True(t, state.IsRead)
	assert.NotNil(t, state.ReadAt)

	require.NoError(t, st.SetRead(item.ID, false))
	state, err = st.GetItemState(item.ID)
	require.NoError(t, err)
	assert.False(t, state.IsRead)
	assert.Nil(t, state.ReadAt)
}

func TestUnreadCountCountsItemsWithoutStateAsUnread(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	itemA := domain.Item{ID: domain.ItemID(feed.URL, "a"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	itemB := domain.Item{ID: domain.ItemID(feed.URL, "b"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	_, err = st.AddItems([]domain.Item{itemA, itemB})
	require.NoError(t, err)

	count, err := st.UnreadCount(0)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	require.NoError(t, st.SetRead(itemA.ID, true))
	count, err = st.UnreadCount(0)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestUnreadCountFiltersByFeed(t *testing.T) {
	st := openTestStore(t)
	feedA, err := st.UpsertFeed("https://a.example.com/rss", nil, nil)
	require.NoError(t, err)
	feedB, err := st.UpsertFeed("https://b.example.com/rss", nil, nil)
	require.NoError(t, err)

	itemA := domain.Item{ID: domain.ItemID(feedA.URL, "a"), FeedID: feedA.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	itemB1 := domain.Item{ID: domain.ItemID(feedB.URL, "b1"), FeedID: feedB.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	itemB2 := domain.Item{ID: domain.ItemID(feedB.URL, "b2"), FeedID: feedB.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	_, err = st.AddItems([]domain.Item{itemA, itemB1, itemB2})
	require.NoError(t, err)

	countA, err := st.UnreadCount(feedA.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, countA)

	countB, err := st.UnreadCount(feedB.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, countB)

	countAll, err := st.UnreadCount(0)
	require.NoError(t, err)
	assert.Equal(t, 3, countAll)
}

func TestUpdateFeedCacheNeverClearsHeadersOnNotModified(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	etag := `"abc"`
	lastModified := "Mon, 01 Jan 2024 00:00:00 GMT"
	require.NoError(t, st.UpdateFeedCache(feed.ID, &etag, &lastModified, time.Now().UTC()))

	// Simulate a 304 response: caller passes the feed's own still-current
	// cache headers back through, rather than nils.
	refreshed, err := st.GetFeedByID(feed.ID)
	require.NoError(t, err)
	require.NoError(t, st.UpdateFeedCache(feed.ID, refreshed.ETag, refreshed.LastModified, time.Now().UTC()))

	final, err := st.GetFeedByID(feed.ID)
	require.NoError(t, err)
	require.NotNil(t, final.ETag)
	assert.Equal(t, etag, *final.ETag)
}

func TestItemsNeedingScraping(t *testing.T) {
	st := openTestStore(t)
	feed, err := st.UpsertFeed("https://example.com/rss", nil, nil)
	require.NoError(t, err)

	link := "https://example.com/article"
	shortContent := "short"
	withLink := domain.Item{ID: domain.ItemID(feed.URL, "a"), FeedID: feed.ID, Link: &link, Content: &shortContent, ContentType: "html", FetchedAt: time.Now().UTC()}
	noLink := domain.Item{ID: domain.ItemID(feed.URL, "b"), FeedID: feed.ID, ContentType: "html", FetchedAt: time.Now().UTC()}
	_, err = st.AddItems([]domain.Item{withLink, noLink})
	require.NoError(t, err)

	candidates, err := st.ItemsNeedingScraping(200, 10)
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, withLink.ID, candidates[0].ID)
}
