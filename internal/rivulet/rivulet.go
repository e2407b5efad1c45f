// Package rivulet is the application context: it owns the store, fetcher,
// normalizer, and optional scraper service, and exposes the composed
// pipeline operations (add, remove, update, import, scrape) that the CLI
// and terminal UI call into.
package rivulet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rivulet/internal/domain"
	"rivulet/internal/errkind"
	"rivulet/internal/fetcher"
	"rivulet/internal/logging"
	"rivulet/internal/normalizer"
	"rivulet/internal/opml"
	"rivulet/internal/orchestrator"
	"rivulet/internal/ratelimit"
	"rivulet/internal/scraper"
	"rivulet/internal/store"
)

// Context composes every collaborator needed to run Rivulet's pipeline
// operations. It is the single owner of the store, fetcher, and scraper
// service handles and closes them in Close; the fields are exported, so
// callers may also read through them directly (the CLI's list command
// queries Store).
type Context struct {
	Store       *store.Store
	Fetcher     *fetcher.Fetcher
	Normalizer  *normalizer.Normalizer
	RateLimiter *ratelimit.Manager
	Scraper     *scraper.Service // nil when the scraper is disabled
	Logger      logging.Logger

	// LogFilter, when set, supplies per-module loggers (see loggerFor) so
	// RIVULET_LOG's module=level overrides reach collaborators this Context
	// constructs internally (e.g. the orchestrator built fresh on every
	// UpdateAll call). Nil falls back to Logger for every module.
	LogFilter *logging.Filter

	ScrapeThreshold int
}

// loggerFor returns a logger scoped to module via LogFilter when one is
// configured, or the context's single Logger otherwise.
func (c *Context) loggerFor(module string) logging.Logger {
	if c.LogFilter != nil {
		return c.LogFilter.For(module)
	}
	return c.Logger
}

// AddFeed subscribes to url: upsert the feed row, fetch it, and on a fresh
// (non-304) response normalize and insert its items, then queue the parsed
// items that need scraping. Every parsed item is a candidate, not only the
// newly inserted ones, so items already stored are queued again unless the
// scraper service already has them in flight.
func (c *Context) AddFeed(ctx context.Context, url string) (*AddFeedResult, error) {
	feed, err := c.Store.UpsertFeed(url, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("add feed %s: %w", url, err)
	}

	fetched, err := c.Fetcher.Fetch(ctx, url, feed.ETag, feed.LastModified)
	if err != nil {
		if logErr := c.Store.UpdateFeedError(feed.ID, err.Error()); logErr != nil {
			c.Logger.Error("record fetch error for %s: %v", url, logErr)
		}
		return nil, fmt.Errorf("fetch feed %s: %w", url, err)
	}

	result := &AddFeedResult{FeedID: feed.ID}

	if fetched.Kind == fetcher.KindNotModified {
		if err := c.Store.UpdateFeedCache(feed.ID, feed.ETag, feed.LastModified, fetched.FetchedAt); err != nil {
			return nil, fmt.Errorf("update feed cache: %w", err)
		}
		return result, nil
	}

	metadata, items, err := c.Normalizer.Parse(ctx, fetched.Body, url, fetched.FetchedAt)
	if err != nil {
		if logErr := c.Store.UpdateFeedError(feed.ID, err.Error()); logErr != nil {
			c.Logger.Error("record parse error for %s: %v", url, logErr)
		}
		return nil, fmt.Errorf("parse feed %s: %w", url, err)
	}
	for i := range items {
		items[i].FeedID = feed.ID
	}

	inserted, err := c.Store.AddItems(items)
	if err != nil {
		return nil, fmt.Errorf("store items for %s: %w", url, err)
	}
	result.ItemsInserted = inserted

	if err := c.Store.FillFeedMetadata(feed.ID, metadata.Title, metadata.Description); err != nil {
		c.Logger.Error("fill feed metadata for %s: %v", url, err)
	}
	if err := c.Store.UpdateFeedCache(feed.ID, fetched.ETag, fetched.LastModified, fetched.FetchedAt); err != nil {
		return nil, fmt.Errorf("update feed cache: %w", err)
	}

	c.queueScraping(items)
	return result, nil
}

// AddFeedResult reports what AddFeed did.
type AddFeedResult struct {
	FeedID        int64
	ItemsInserted int
}

// RemoveFeed unsubscribes from url, cascading the delete to its items and
// their state.
func (c *Context) RemoveFeed(url string) error {
	feed, err := c.Store.GetFeedByURL(url)
	if err != nil {
		return fmt.Errorf("remove feed %s: %w", url, err)
	}
	return c.Store.DeleteFeed(feed.ID)
}

// UpdateAll sweeps every subscribed feed with bounded concurrency. When a
// scraper is configured, each feed that stored N new items causes up to N
// items needing scraping to be queued; those are the oldest-fetched
// candidates across all feeds, so they are not necessarily the items this
// sweep inserted.
func (c *Context) UpdateAll(ctx context.Context, workers int) (*orchestrator.SweepResult, error) {
	sweeper := orchestrator.New(c.Store, c.Fetcher, c.Normalizer, c.RateLimiter, c.loggerFor("orchestrator"), orchestrator.Config{
		Concurrency: workers,
	})
	result, err := sweeper.Sweep(ctx)
	if err != nil {
		return nil, err
	}

	if c.Scraper != nil {
		for _, feedResult := range result.Results {
			if feedResult.Err != nil || feedResult.ItemsStored == 0 {
				continue
			}
			items, err := c.Store.ItemsNeedingScraping(c.ScrapeThreshold, feedResult.ItemsStored)
			if err != nil {
				c.Logger.Error("list items needing scraping for feed %d: %v", feedResult.FeedID, err)
				continue
			}
			c.queueScraping(items)
		}
	}

	return result, nil
}

// ImportOPML parses an OPML subscription list and adds each contained
// feed, bounded to concurrency simultaneous adds. One feed's failure does
// not abort the import.
func (c *Context) ImportOPML(ctx context.Context, path string, concurrency int) (*ImportResult, error) {
	feeds, err := opml.ParseFile(path)
	if err != nil {
		return nil, err
	}
	if concurrency < 1 {
		concurrency = 4
	}

	result := &ImportResult{Total: len(feeds)}
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(concurrency)

	for _, feed := range feeds {
		feed := feed
		group.Go(func() error {
			_, err := c.AddFeed(groupCtx, feed.FeedURL)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				result.Failed = append(result.Failed, FailedImport{URL: feed.FeedURL, Err: err})
			} else {
				result.Added++
			}
			return nil
		})
	}
	_ = group.Wait()

	return result, nil
}

// ImportResult aggregates the outcome of an OPML import.
type ImportResult struct {
	Total  int
	Added  int
	Failed []FailedImport
}

// FailedImport records one feed that could not be added during import.
type FailedImport struct {
	URL string
	Err error
}

// ExportOPML writes every subscribed feed to path as an OPML 2.0 document.
func (c *Context) ExportOPML(path string) error {
	feeds, err := c.Store.GetAllFeeds()
	if err != nil {
		return err
	}
	exported := make([]opml.ImportedFeed, 0, len(feeds))
	for _, feed := range feeds {
		exported = append(exported, opml.ImportedFeed{Title: feed.Title, FeedURL: feed.URL})
	}
	return opml.WriteFile(path, exported, opml.Metadata{Title: "Rivulet Subscriptions"})
}

// Scrape synchronously scrapes up to limit candidate items (optionally
// restricted to a single feed), writing extracted content back to the
// store once the whole batch has been scraped, before returning.
func (c *Context) Scrape(ctx context.Context, feedURL string, limit, concurrency int) (*ScrapeSummary, error) {
	if c.Scraper == nil {
		return nil, fmt.Errorf("%w: scraper is disabled", errkind.ErrScrape)
	}

	var feedID int64
	if feedURL != "" {
		feed, err := c.Store.GetFeedByURL(feedURL)
		if err != nil {
			return nil, err
		}
		feedID = feed.ID
	}

	candidates, err := c.Store.ItemsNeedingScraping(c.ScrapeThreshold, limit)
	if err != nil {
		return nil, err
	}
	if feedID != 0 {
		filtered := candidates[:0]
		for _, item := range candidates {
			if item.FeedID == feedID {
				filtered = append(filtered, item)
			}
		}
		candidates = filtered
	}

	results := c.Scraper.ScrapeSync(ctx, candidates, concurrency)
	summary := &ScrapeSummary{}
	for _, r := range results {
		if r.Err != nil {
			summary.Failed++
			continue
		}
		summary.Scraped++
	}
	return summary, nil
}

// ScrapeSummary reports the outcome of a synchronous Scrape call.
type ScrapeSummary struct {
	Scraped int
	Failed  int
}

func (c *Context) queueScraping(items []domain.Item) {
	if c.Scraper == nil {
		return
	}
	var candidates []domain.Item
	for _, item := range items {
		if domain.NeedsScraping(item, c.ScrapeThreshold) {
			candidates = append(candidates, item)
		}
	}
	if len(candidates) > 0 {
		c.Scraper.Queue(candidates)
	}
}

// Close releases the context's owned resources (store connection, and the
// scraper's browser process, if enabled) within a grace period.
func (c *Context) Close(shutdownGrace time.Duration) error {
	if c.Scraper != nil {
		c.Scraper.Shutdown(shutdownGrace)
	}
	return c.Store.Close()
}
