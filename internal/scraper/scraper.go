// Package scraper augments sparse feed items with full article HTML
// fetched through a headless Chromium-family browser, using short-lived
// pages and a selector-based extraction script. Every Scrape call starts
// its own browser process from one shared allocator; pages do not share a
// single browser process.
package scraper

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/fetch"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"

	"rivulet/internal/domain"
	"rivulet/internal/errkind"
	"rivulet/internal/normalizer"
)

// Config tunes the browser pipeline: navigation timeout, settle delay
// after load, resource blocking, and the selector pipeline used for
// extraction.
type Config struct {
	UserAgent        string
	TimeoutSecs      int
	WaitAfterLoadMs  int
	BlockImages      bool
	BlockStylesheets bool
	BlockFonts       bool
	RemoveSelectors  []string
	ContentSelectors []string
	Visible          bool // run with a visible window instead of headless (debugging)
}

// DefaultConfig matches the extraction pipeline's documented defaults.
func DefaultConfig() Config {
	return Config{
		TimeoutSecs:      20,
		WaitAfterLoadMs:  500,
		BlockImages:      true,
		BlockStylesheets: true,
		BlockFonts:       true,
		RemoveSelectors: []string{
			"script", "style", "nav", "header", "footer",
			".advertisement", ".ad", ".social-share", ".comments",
		},
		ContentSelectors: []string{
			"article", "main", "[role=main]", ".post-content", ".entry-content", "#content",
		},
	}
}

// ScrapeResult is the outcome of a single-page extraction.
type ScrapeResult struct {
	Content string
	IsHTML  bool
}

// Scraper holds a browser allocator and extracts article content from
// individual pages; each Scrape call runs in a browser process of its own.
type Scraper struct {
	allocCtx    context.Context
	allocCancel context.CancelFunc
	cfg         Config
	sanitizer   *normalizer.Normalizer
}

// New creates the browser allocator; no browser starts until Scrape runs.
// Close must be called to terminate any browser processes it started.
func New(cfg Config, sanitizer *normalizer.Normalizer) *Scraper {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", !cfg.Visible),
		chromedp.Flag("disable-gpu", true),
	)
	allocCtx, allocCancel := chromedp.NewExecAllocator(context.Background(), opts...)
	return &Scraper{allocCtx: allocCtx, allocCancel: allocCancel, cfg: cfg, sanitizer: sanitizer}
}

// Close cancels the allocator, terminating its browser processes.
func (s *Scraper) Close() {
	s.allocCancel()
}

// Scrape extracts a single page's article content.
func (s *Scraper) Scrape(ctx context.Context, url string) (*ScrapeResult, error) {
	timeout := time.Duration(s.cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	pageCtx, cancel := chromedp.NewContext(s.allocCtx)
	defer cancel()
	pageCtx, timeoutCancel := context.WithTimeout(pageCtx, timeout)
	defer timeoutCancel()

	var html string
	err := chromedp.Run(pageCtx,
		s.installInterceptor(),
		chromedp.Navigate(url),
		chromedp.Sleep(time.Duration(s.cfg.WaitAfterLoadMs)*time.Millisecond),
		chromedp.Evaluate(s.extractionScript(), &html),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: scrape %s: %v", errkind.ErrScrape, url, err)
	}

	content := strings.TrimSpace(html)
	if content == "" {
		return nil, fmt.Errorf("%w: no content extracted from %s", errkind.ErrScrape, url)
	}

	return &ScrapeResult{Content: s.sanitizer.SanitizeHTML(content), IsHTML: true}, nil
}

// blockedResourceTypes returns the network.ResourceType set that should be
// failed outright rather than fetched, per the configured block flags.
func (s *Scraper) blockedResourceTypes() map[network.ResourceType]bool {
	blocked := make(map[network.ResourceType]bool)
	if s.cfg.BlockImages {
		blocked[network.ResourceTypeImage] = true
	}
	if s.cfg.BlockStylesheets {
		blocked[network.ResourceTypeStylesheet] = true
	}
	if s.cfg.BlockFonts {
		blocked[network.ResourceTypeFont] = true
	}
	return blocked
}

// installInterceptor blocks configured resource types (image, stylesheet,
// font) so page loads stay fast and cheap; everything else is allowed
// through unmodified. Blocking is implemented via the Fetch domain: every
// request is paused, then either failed (blocked type) or continued.
func (s *Scraper) installInterceptor() chromedp.ActionFunc {
	return func(ctx context.Context) error {
		if err := network.Enable().Do(ctx); err != nil {
			return err
		}
		if s.cfg.UserAgent != "" {
			if err := network.SetUserAgentOverride(s.cfg.UserAgent).Do(ctx); err != nil {
				return err
			}
		}

		blocked := s.blockedResourceTypes()
		if len(blocked) == 0 {
			return nil
		}

		chromedp.ListenTarget(ctx, func(ev interface{}) {
			pausedEvent, ok := ev.(*fetch.EventRequestPaused)
			if !ok {
				return
			}
			go func() {
				execCtx := cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Target)
				if blocked[pausedEvent.ResourceType] {
					fetch.FailRequest(pausedEvent.RequestID, network.ErrorReasonBlockedByClient).Do(execCtx)
					return
				}
				fetch.ContinueRequest(pausedEvent.RequestID).Do(execCtx)
			}()
		})

		return fetch.Enable().Do(ctx)
	}
}

// extractionScript mirrors the documented extraction algorithm: strip
// noise selectors, then return the first content selector whose text
// exceeds 100 characters, falling back to the whole body.
func (s *Scraper) extractionScript() string {
	remove := jsStringArray(s.cfg.RemoveSelectors)
	content := jsStringArray(s.cfg.ContentSelectors)
	return fmt.Sprintf(`(function() {
		var removeSelectors = %s;
		var contentSelectors = %s;
		removeSelectors.forEach(function(sel) {
			document.querySelectorAll(sel).forEach(function(node) { node.remove(); });
		});
		for (var i = 0; i < contentSelectors.length; i++) {
			var el = document.querySelector(contentSelectors[i]);
			if (el && el.textContent && el.textContent.trim().length > 100) {
				return el.innerHTML;
			}
		}
		return document.body ? document.body.innerHTML : "";
	})()`, remove, content)
}

func jsStringArray(values []string) string {
	quoted := make([]string, len(values))
	for i, v := range values {
		quoted[i] = fmt.Sprintf("%q", v)
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// ItemResult pairs an item ID with its scrape outcome.
type ItemResult struct {
	ItemID string
	Result *ScrapeResult
	Err    error
}

// ScrapeItems scrapes items in parallel, bounded to concurrency pages at
// once. Items without a link are not scraped; their result carries
// errkind.ErrScrape.
func (s *Scraper) ScrapeItems(ctx context.Context, items []domain.Item, concurrency int) []ItemResult {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	results := make([]ItemResult, len(items))
	done := make(chan int, len(items))

	pending := 0
	for i, item := range items {
		if item.Link == nil || *item.Link == "" {
			results[i] = ItemResult{ItemID: item.ID, Err: errkind.ErrScrape}
			continue
		}
		pending++
		go func(i int, item domain.Item) {
			sem <- struct{}{}
			defer func() { <-sem }()
			result, err := s.Scrape(ctx, *item.Link)
			results[i] = ItemResult{ItemID: item.ID, Result: result, Err: err}
			done <- i
		}(i, item)
	}
	for n := 0; n < pending; n++ {
		<-done
	}
	return results
}

// NeedsScraping exposes the shared domain predicate for callers that only
// have a scraper dependency in scope.
func NeedsScraping(item domain.Item, threshold int) bool {
	return domain.NeedsScraping(item, threshold)
}
