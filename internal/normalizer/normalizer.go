// Package normalizer parses RSS 0.9x/1.0/2.0, Atom, and JSON Feed bytes
// into Rivulet's canonical domain.Item/domain.Feed shape, sanitizing HTML
// content to prevent stored XSS from untrusted feed origins.
package normalizer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/microcosm-cc/bluemonday"
	"github.com/mmcdole/gofeed"

	"rivulet/internal/domain"
	"rivulet/internal/errkind"
)

// FeedMetadata carries feed-level attributes extracted alongside its items.
type FeedMetadata struct {
	Title       *string
	Description *string
}

// Normalizer parses feed bytes and sanitizes entry content.
type Normalizer struct {
	parser    *gofeed.Parser
	sanitizer *bluemonday.Policy
}

// New creates a Normalizer with a UGC-safe sanitization policy: only
// http/https URL schemes are allowed, and alt/title/href attributes survive
// on img/a elements.
func New() *Normalizer {
	policy := bluemonday.UGCPolicy()
	policy.AllowURLSchemes("http", "https")
	policy.AllowAttrs("alt", "title").OnElements("img")
	policy.AllowAttrs("href", "title").OnElements("a")

	return &Normalizer{
		parser:    gofeed.NewParser(),
		sanitizer: policy,
	}
}

// Parse parses feedData fetched from feedURL and returns feed metadata plus
// normalized items. Individual malformed entries are skipped rather than
// failing the whole feed; a feed that fails to parse at all returns
// errkind.ErrFeedParse. Given the same bytes and feedURL, Parse is
// deterministic: item order and IDs never vary between runs.
func (n *Normalizer) Parse(ctx context.Context, feedData []byte, feedURL string, fetchTime time.Time) (*FeedMetadata, []domain.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	feed, err := n.parser.ParseString(string(feedData))
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %v", errkind.ErrFeedParse, err)
	}

	metadata := &FeedMetadata{}
	if title := strings.TrimSpace(feed.Title); title != "" {
		metadata.Title = &title
	}
	if desc := strings.TrimSpace(feed.Description); desc != "" {
		metadata.Description = &desc
	}

	items := make([]domain.Item, 0, len(feed.Items))
	for _, raw := range feed.Items {
		if raw == nil {
			continue
		}
		item, ok := n.normalizeItem(raw, feed, feedURL, fetchTime)
		if !ok {
			continue
		}
		items = append(items, item)
	}

	return metadata, items, nil
}

func (n *Normalizer) normalizeItem(item *gofeed.Item, feed *gofeed.Feed, feedURL string, fetchTime time.Time) (domain.Item, bool) {
	identifier := domain.EntryIdentifier(item.GUID, item.Link, strings.TrimSpace(item.Title))
	if identifier == "" {
		return domain.Item{}, false
	}

	out := domain.Item{
		ID:        domain.ItemID(feedURL, identifier),
		FetchedAt: fetchTime,
	}

	if title := strings.TrimSpace(item.Title); title != "" {
		out.Title = &title
	}

	if item.Link != "" {
		link := item.Link
		if resolved, err := resolveURL(item.Link, feedURL); err == nil {
			link = resolved
		}
		out.Link = &link
	}

	if author := extractAuthor(item, feed); author != "" {
		out.Author = &author
	}

	out.Published = extractPublished(item)

	content, contentType := n.extractContent(item, feed)
	if content != "" {
		out.Content = &content
	}
	out.ContentType = contentType

	if summary := n.extractSummary(item, content, feedURL); summary != "" {
		out.Summary = &summary
	}

	return out, true
}

// extractContent prefers full content (content:encoded / Atom content /
// JSON Feed content_html or content_text) over the feed's summary/
// description field.
func (n *Normalizer) extractContent(item *gofeed.Item, feed *gofeed.Feed) (string, string) {
	if item.Content != "" {
		return n.contentFor(feed, item.Content)
	}
	if item.Description != "" {
		return n.contentFor(feed, item.Description)
	}
	return "", "html"
}

// contentFor classifies raw as "text" (returned trimmed, not sanitized)
// only for a JSON Feed entry whose content has no markup at all; anything
// else is sanitized and classified as "html". gofeed
// collapses JSON Feed's content_html/content_text into a single Content
// field, so the absence of any tag is the only signal content_text (plain
// text) rather than content_html was the source.
func (n *Normalizer) contentFor(feed *gofeed.Feed, raw string) (string, string) {
	if feed.FeedType == "json" && !strings.ContainsAny(raw, "<>") {
		return strings.TrimSpace(raw), "text"
	}
	return n.sanitizeHTML(raw), "html"
}

// extractSummary returns the feed's description as a distinct summary only
// when full content was also available (otherwise description already
// became the content and would be a redundant duplicate).
func (n *Normalizer) extractSummary(item *gofeed.Item, content string, feedURL string) string {
	if item.Description == "" || item.Content == "" {
		return ""
	}
	return n.sanitizeHTML(item.Description)
}

func extractAuthor(item *gofeed.Item, feed *gofeed.Feed) string {
	if item.Author != nil && item.Author.Name != "" {
		return item.Author.Name
	}
	if len(item.Authors) > 0 && item.Authors[0].Name != "" {
		return item.Authors[0].Name
	}
	if feed.Author != nil && feed.Author.Name != "" {
		return feed.Author.Name
	}
	return ""
}

// extractPublished prefers the entry's own published date, falling back to
// its updated date. A feed/entry with neither leaves Published nil rather
// than substituting fetch time, so "unknown" is never confused with "just
// published now".
func extractPublished(item *gofeed.Item) *time.Time {
	if item.PublishedParsed != nil && !item.PublishedParsed.IsZero() {
		t := item.PublishedParsed.UTC()
		return &t
	}
	if item.UpdatedParsed != nil && !item.UpdatedParsed.IsZero() {
		t := item.UpdatedParsed.UTC()
		return &t
	}
	return nil
}

func (n *Normalizer) sanitizeHTML(html string) string {
	return strings.TrimSpace(n.sanitizer.Sanitize(html))
}

func resolveURL(href, baseURL string) (string, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return "", err
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	return base.ResolveReference(ref).String(), nil
}

// SanitizeHTML exposes the normalizer's sanitization policy to callers that
// need to clean scraped article content after the fact (see scraper).
func (n *Normalizer) SanitizeHTML(html string) string {
	return n.sanitizeHTML(html)
}
