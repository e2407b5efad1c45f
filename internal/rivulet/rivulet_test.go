package rivulet

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/fetcher"
	"rivulet/internal/logging"
	"rivulet/internal/normalizer"
	"rivulet/internal/opml"
	"rivulet/internal/ratelimit"
	"rivulet/internal/store"
)

const sampleFeed = `<?xml version="1.0"?>
<rss version="2.0"><channel><title>Example</title>
<item><title>Post One</title><guid>g1</guid><link>https://example.com/one</link></item>
<item><title>Post Two</title><guid>g2</guid><link>https://example.com/two</link></item>
</channel></rss>`

func newTestContext(t *testing.T) *Context {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "rivulet.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	return &Context{
		Store:       st,
		Fetcher:     fetcher.NewForTesting(),
		Normalizer:  normalizer.New(),
		RateLimiter: ratelimit.New(6000, 100),
		Logger:      logging.New("error"),
	}
}

func TestAddFeedStoresItemsOnFirstFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("ETag", `"v1"`)
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ctx := newTestContext(t)
	result, err := ctx.AddFeed(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 2, result.ItemsInserted)

	feed, err := ctx.Store.GetFeedByID(result.FeedID)
	require.NoError(t, err)
	require.NotNil(t, feed.Title)
	assert.Equal(t, "Example", *feed.Title)
	require.NotNil(t, feed.ETag)
	assert.Equal(t, `"v1"`, *feed.ETag)
}

func TestAddFeedTwiceDoesNotDuplicateItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ctx := newTestContext(t)
	_, err := ctx.AddFeed(context.Background(), srv.URL)
	require.NoError(t, err)
	result2, err := ctx.AddFeed(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, 0, result2.ItemsInserted, "re-adding the same feed must not duplicate its items")

	items, err := ctx.Store.GetAllItems(100, 0)
	require.NoError(t, err)
	assert.Len(t, items, 2)
}

func TestRemoveFeedDeletesItsItems(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ctx := newTestContext(t)
	_, err := ctx.AddFeed(context.Background(), srv.URL)
	require.NoError(t, err)

	require.NoError(t, ctx.RemoveFeed(srv.URL))

	_, err = ctx.Store.GetFeedByURL(srv.URL)
	assert.Error(t, err)

	items, err := ctx.Store.GetAllItems(100, 0)
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestUpdateAllSweepsAddedFeeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer srv.Close()

	ctx := newTestContext(t)
	_, err := ctx.Store.UpsertFeed(srv.URL, nil, nil)
	require.NoError(t, err)

	result, err := ctx.UpdateAll(context.Background(), 2)
	require.NoError(t, err)
	require.Len(t, result.Results, 1)
	assert.Equal(t, 2, result.Results[0].ItemsStored)
}

func TestImportOPMLAddsEveryFeedIndependently(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer good.Close()

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()

	opmlPath := filepath.Join(t.TempDir(), "subs.opml")
	data, err := opml.Export([]opml.ImportedFeed{
		{FeedURL: good.URL},
		{FeedURL: bad.URL},
	}, opml.Metadata{Title: "Subs"})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(opmlPath, data, 0644))

	ctx := newTestContext(t)
	result, err := ctx.ImportOPML(context.Background(), opmlPath, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Total)
	assert.Equal(t, 1, result.Added)
	require.Len(t, result.Failed, 1)
	assert.Equal(t, bad.URL, result.Failed[0].URL)
}

func TestExportOPMLRoundTripsSubscribedFeeds(t *testing.T) {
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(sampleFeed))
	}))
	defer good.Close()

	ctx := newTestContext(t)
	_, err := ctx.AddFeed(context.Background(), good.URL)
	require.NoError(t, err)

	exportPath := filepath.Join(t.TempDir(), "export.opml")
	require.NoError(t, ctx.ExportOPML(exportPath))

	data, err := os.ReadFile(exportPath)
	require.NoError(t, err)
	parsed, err := opml.Parse(data)
	require.NoError(t, err)
	require.Len(t, parsed, 1)
	assert.Equal(t, good.URL, parsed[0].FeedURL)
}

func TestScrapeReturnsErrorWhenDisabled(t *testing.T) {
	ctx := newTestContext(t)
	_, err := ctx.Scrape(context.Background(), "", 10, 1)
	assert.Error(t, err)
}

func TestCloseClosesStoreEvenWithoutScraper(t *testing.T) {
	ctx := newTestContext(t)
	require.NoError(t, ctx.Close(time.Second))
}
