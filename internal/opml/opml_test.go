package opml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"rivulet/internal/errkind"
	"rivulet/internal/timeprovider"
)

func TestParseTitleFallbackChain(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>My Feeds</title></head>
  <body>
    <outline xmlUrl="https://a.example.com/rss" title="a"/>
    <outline xmlUrl="https://b.example.com/rss"/>
  </body>
</opml>`

	feeds, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 2)

	require.NotNil(t, feeds[0].Title)
	assert.Equal(t, "a", *feeds[0].Title)
	assert.Equal(t, "https://a.example.com/rss", feeds[0].FeedURL)

	assert.Nil(t, feeds[1].Title, "missing title and text attributes store as nil, not the URL")
	assert.Equal(t, "https://b.example.com/rss", feeds[1].FeedURL)
}

func TestParseFallsBackToURLAttribute(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<opml version="1.0">
  <head><title>My Feeds</title></head>
  <body>
    <outline url="https://c.example.com/rss" text="c"/>
  </body>
</opml>`

	feeds, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 1)
	assert.Equal(t, "https://c.example.com/rss", feeds[0].FeedURL)
	require.NotNil(t, feeds[0].Title)
	assert.Equal(t, "c", *feeds[0].Title)
}

func TestParseFlattensNestedCategoryOutlines(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>My Feeds</title></head>
  <body>
    <outline text="Tech">
      <outline xmlUrl="https://a.example.com/rss" title="a"/>
      <outline xmlUrl="https://b.example.com/rss" title="b"/>
    </outline>
  </body>
</opml>`

	feeds, err := Parse([]byte(doc))
	require.NoError(t, err)
	require.Len(t, feeds, 2)
	assert.Equal(t, "https://a.example.com/rss", feeds[0].FeedURL)
	assert.Equal(t, "https://b.example.com/rss", feeds[1].FeedURL)
}

func TestParseSkipsOutlinesWithoutFeedURL(t *testing.T) {
	const doc = `<?xml version="1.0"?>
<opml version="2.0">
  <head><title>My Feeds</title></head>
  <body>
    <outline text="just a category label"/>
  </body>
</opml>`

	feeds, err := Parse([]byte(doc))
	require.NoError(t, err)
	assert.Empty(t, feeds)
}

func TestParseMalformedDocumentReturnsErrOPML(t *testing.T) {
	_, err := Parse([]byte("not xml"))
	assert.ErrorIs(t, err, errkind.ErrOPML)
}

func TestExportFallsBackToURLOnlyAtSerialization(t *testing.T) {
	clock := timeprovider.NewFakeClock(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	feeds := []ImportedFeed{
		{Title: nil, FeedURL: "https://example.com/rss"},
	}

	data, err := ExportWithClock(feeds, Metadata{Title: "My Feeds"}, clock)
	require.NoError(t, err)

	roundTripped, err := Parse(data)
	require.NoError(t, err)
	require.Len(t, roundTripped, 1)
	require.NotNil(t, roundTripped[0].Title, "exporting a nil title still writes the URL as the displayed title/text attribute")
	assert.Equal(t, "https://example.com/rss", *roundTripped[0].Title)
}

func TestFormatAndParseRFC822RoundTrip(t *testing.T) {
	ts := time.Date(2024, 3, 15, 9, 30, 0, 0, time.UTC)
	formatted := FormatRFC822(ts)
	parsed, err := ParseRFC822(formatted)
	require.NoError(t, err)
	assert.True(t, ts.Equal(parsed))
}
