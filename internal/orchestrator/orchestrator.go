// Package orchestrator sweeps every subscribed feed concurrently, bounding
// fan-out and per-domain request rate while isolating one feed's failure
// from the rest of the sweep.
package orchestrator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"rivulet/internal/domain"
	"rivulet/internal/fetcher"
	"rivulet/internal/logging"
	"rivulet/internal/normalizer"
	"rivulet/internal/ratelimit"
	"rivulet/internal/store"
)

// Config tunes a sweep's concurrency, per-request timeout, and retry count.
type Config struct {
	Concurrency    int
	RequestTimeout time.Duration
	MaxRetries     int
}

// FeedResult reports the outcome of fetching a single feed during a sweep.
type FeedResult struct {
	FeedID      int64
	URL         string
	NotModified bool
	ItemsStored int
	Err         error
}

// SweepResult aggregates every feed's outcome from one sweep.
type SweepResult struct {
	Results   []FeedResult
	Cancelled bool
}

// Sweeper coordinates the fetcher, normalizer, rate limiter, and store to
// refresh every subscribed feed.
type Sweeper struct {
	store       *store.Store
	fetcher     *fetcher.Fetcher
	normalizer  *normalizer.Normalizer
	rateLimiter *ratelimit.Manager
	logger      logging.Logger
	cfg         Config
}

// New creates a Sweeper from its collaborators. A zero Concurrency falls
// back to 4 and a zero RequestTimeout to 30s; a negative MaxRetries falls
// back to 2, while zero means a single attempt with no retry.
func New(st *store.Store, f *fetcher.Fetcher, n *normalizer.Normalizer, rl *ratelimit.Manager, logger logging.Logger, cfg Config) *Sweeper {
	if cfg.Concurrency < 1 {
		cfg.Concurrency = 4
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 30 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}
	return &Sweeper{store: st, fetcher: f, normalizer: n, rateLimiter: rl, logger: logger, cfg: cfg}
}

// Sweep fetches every subscribed feed, bounded to cfg.Concurrency at a
// time, and returns once all feeds have been attempted or ctx is
// cancelled. A single feed's failure never aborts the rest of the sweep;
// it is recorded on that feed's FeedResult.Err instead.
func (s *Sweeper) Sweep(ctx context.Context) (*SweepResult, error) {
	feeds, err := s.store.GetAllFeeds()
	if err != nil {
		return nil, fmt.Errorf("list feeds: %w", err)
	}

	results := make([]FeedResult, len(feeds))
	var mu sync.Mutex

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.cfg.Concurrency)

	for i, feed := range feeds {
		i, feed := i, feed
		group.Go(func() error {
			result := s.fetchOne(groupCtx, feed)
			mu.Lock()
			results[i] = result
			mu.Unlock()
			return nil
		})
	}

	// group.Wait only returns an error if a goroutine itself returns one;
	// none does, so Wait always returns nil here. Cancellation shows up as
	// per-feed ctx errors from fetchOne and in SweepResult.Cancelled.
	_ = group.Wait()

	return &SweepResult{
		Results:   results,
		Cancelled: ctx.Err() != nil,
	}, nil
}

func (s *Sweeper) fetchOne(ctx context.Context, feed domain.Feed) FeedResult {
	result := FeedResult{FeedID: feed.ID, URL: feed.URL}

	if ctx.Err() != nil {
		result.Err = ctx.Err()
		return result
	}

	if err := s.rateLimiter.Wait(ctx, feed.URL); err != nil {
		result.Err = fmt.Errorf("rate limit wait: %w", err)
		return result
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.cfg.RequestTimeout)
	defer cancel()

	fetched, err := s.fetcher.FetchWithRetry(fetchCtx, feed.URL, feed.ETag, feed.LastModified, s.cfg.MaxRetries)
	if err != nil {
		if logErr := s.store.UpdateFeedError(feed.ID, err.Error()); logErr != nil {
			s.logger.Error("record fetch error for %s: %v", feed.URL, logErr)
		}
		result.Err = err
		return result
	}

	if fetched.Kind == fetcher.KindNotModified {
		if err := s.store.UpdateFeedCache(feed.ID, feed.ETag, feed.LastModified, fetched.FetchedAt); err != nil {
			s.logger.Error("update feed cache for %s: %v", feed.URL, err)
		}
		result.NotModified = true
		return result
	}

	metadata, items, err := s.normalizer.Parse(ctx, fetched.Body, feed.URL, fetched.FetchedAt)
	if err != nil {
		if logErr := s.store.UpdateFeedError(feed.ID, err.Error()); logErr != nil {
			s.logger.Error("record parse error for %s: %v", feed.URL, logErr)
		}
		result.Err = err
		return result
	}

	for i := range items {
		items[i].FeedID = feed.ID
	}

	stored, err := s.store.AddItems(items)
	if err != nil {
		result.Err = err
		return result
	}

	if err := s.store.FillFeedMetadata(feed.ID, metadata.Title, metadata.Description); err != nil {
		s.logger.Error("update feed metadata for %s: %v", feed.URL, err)
	}
	if err := s.store.UpdateFeedCache(feed.ID, fetched.ETag, fetched.LastModified, fetched.FetchedAt); err != nil {
		s.logger.Error("update feed cache for %s: %v", feed.URL, err)
	}

	result.ItemsStored = stored
	return result
}
