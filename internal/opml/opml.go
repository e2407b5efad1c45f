// Package opml imports and exports OPML subscription lists, supporting
// both OPML 1.0 (url/text) and 2.0 (xmlUrl/title) attribute variants for
// compatibility with readers and writers in the wild.
package opml

import (
	"encoding/xml"
	"fmt"
	"os"
	"time"

	"rivulet/internal/errkind"
	"rivulet/internal/timeprovider"
)

// document is the raw OPML XML shape.
type document struct {
	XMLName xml.Name `xml:"opml"`
	Version string   `xml:"version,attr"`
	Head    head     `xml:"head"`
	Body    body     `xml:"body"`
}

type head struct {
	Title       string `xml:"title"`
	DateCreated string `xml:"dateCreated,omitempty"`
	OwnerName   string `xml:"ownerName,omitempty"`
	OwnerEmail  string `xml:"ownerEmail,omitempty"`
}

type body struct {
	Outlines []outline `xml:"outline"`
}

type outline struct {
	Text     string    `xml:"text,attr"`
	Title    string    `xml:"title,attr,omitempty"`
	Type     string    `xml:"type,attr,omitempty"`
	XMLUrl   string    `xml:"xmlUrl,attr,omitempty"`
	Url      string    `xml:"url,attr,omitempty"`
	HTMLUrl  string    `xml:"htmlUrl,attr,omitempty"`
	Outlines []outline `xml:"outline,omitempty"`
}

// ImportedFeed is one feed subscription extracted from an OPML document.
// Title is nil when the document supplied neither a title nor text
// attribute; callers fall back to the feed URL only at display time, never
// by storing it as the title.
type ImportedFeed struct {
	Title   *string
	FeedURL string
	WebURL  string
}

// Metadata describes the owning subscription list, used when exporting.
type Metadata struct {
	Title      string
	OwnerName  string
	OwnerEmail string
}

// Parse reads an OPML document from bytes and extracts every feed
// subscription, flattening nested category outlines. Outlines without a
// resolvable feed URL (neither xmlUrl nor url) are skipped.
func Parse(data []byte) ([]ImportedFeed, error) {
	var doc document
	if err := xml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("%w: %v", errkind.ErrOPML, err)
	}

	var feeds []ImportedFeed
	collectFeeds(doc.Body.Outlines, &feeds)
	return feeds, nil
}

// ParseFile reads and parses an OPML document from disk.
func ParseFile(path string) ([]ImportedFeed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read file: %v", errkind.ErrOPML, err)
	}
	return Parse(data)
}

func collectFeeds(outlines []outline, feeds *[]ImportedFeed) {
	for _, o := range outlines {
		feedURL := o.XMLUrl
		if feedURL == "" {
			feedURL = o.Url
		}

		if feedURL != "" {
			title := o.Title
			if title == "" {
				title = o.Text
			}
			var titlePtr *string
			if title != "" {
				titlePtr = &title
			}
			*feeds = append(*feeds, ImportedFeed{
				Title:   titlePtr,
				FeedURL: feedURL,
				WebURL:  o.HTMLUrl,
			})
		}

		if len(o.Outlines) > 0 {
			collectFeeds(o.Outlines, feeds)
		}
	}
}

// Export serializes feeds as an OPML 2.0 document, using the system clock
// for dateCreated.
func Export(feeds []ImportedFeed, metadata Metadata) ([]byte, error) {
	return ExportWithClock(feeds, metadata, timeprovider.WallClock{})
}

// ExportWithClock is Export with an injectable clock, for deterministic tests.
func ExportWithClock(feeds []ImportedFeed, metadata Metadata, clock timeprovider.TimeProvider) ([]byte, error) {
	outlines := make([]outline, 0, len(feeds))
	for _, feed := range feeds {
		title := feed.FeedURL
		if feed.Title != nil && *feed.Title != "" {
			title = *feed.Title
		}
		outlines = append(outlines, outline{
			Text:    title,
			Title:   title,
			Type:    "rss",
			XMLUrl:  feed.FeedURL,
			HTMLUrl: feed.WebURL,
		})
	}

	doc := document{
		Version: "2.0",
		Head: head{
			Title:       metadata.Title,
			DateCreated: FormatRFC822(clock.Now()),
			OwnerName:   metadata.OwnerName,
			OwnerEmail:  metadata.OwnerEmail,
		},
		Body: body{Outlines: outlines},
	}

	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("%w: marshal: %v", errkind.ErrOPML, err)
	}
	return append([]byte(xml.Header), out...), nil
}

// WriteFile exports feeds as OPML and writes them to path.
func WriteFile(path string, feeds []ImportedFeed, metadata Metadata) error {
	data, err := Export(feeds, metadata)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("%w: write file: %v", errkind.ErrOPML, err)
	}
	return nil
}

// FormatRFC822 formats t per the OPML spec's RFC 822 dateCreated requirement.
func FormatRFC822(t time.Time) string {
	return t.Format(time.RFC1123Z)
}

// ParseRFC822 parses an RFC 822 date, accepting both numeric (-0700) and
// named (EST) time zone forms.
func ParseRFC822(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC1123Z, s); err == nil {
		return t, nil
	}
	if t, err := time.Parse(time.RFC1123, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: parse RFC 822 date %q", errkind.ErrOPML, s)
}
