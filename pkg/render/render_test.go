package render

import (
	"errors"
	"testing"
	"time"

	"github.com/mmcdole/gofeed"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Sternrassler/feedcache/pkg/item"
)

func testItems() []item.Item {
	older := item.Item{
		ID:          "tx-1",
		TimeCreated: 1700000000,
		Fields: map[string]any{
			"title":  "First",
			"link":   "https://example.com/1",
			"author": "alice",
		},
	}
	newer := item.Item{
		ID:          "tx-2",
		TimeCreated: 1700000600,
		Fields: map[string]any{
			"title":       "Second",
			"description": "second item",
		},
	}.WithImage(item.ImageMetadata{
		IsImage:  true,
		URL:      "https://gw.example/tx-2",
		MimeType: "image/png",
		Size:     2048,
		Format:   "png",
	})
	return []item.Item{older, newer}
}

func testChannel() Channel {
	return Channel{
		Title:       "Articles",
		Description: "Latest articles",
		Link:        "https://example.com",
		SelfLink:    "https://feeds.example.com/articles/json?v=42",
		TTL:         5 * time.Minute,
	}
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in      string
		want    Format
		wantErr bool
	}{
		{in: "rss", want: FormatRSS},
		{in: "ATOM", want: FormatAtom},
		{in: " json ", want: FormatJSON},
		{in: "xml", wantErr: true},
		{in: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseFormat(tt.in)
			if tt.wantErr {
				assert.True(t, errors.Is(err, ErrInvalidFormat))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatContentType(t *testing.T) {
	assert.Equal(t, ContentTypeRSS, FormatRSS.ContentType())
	assert.Equal(t, ContentTypeAtom, FormatAtom.ContentType())
	assert.Equal(t, ContentTypeJSON, FormatJSON.ContentType())
}

func TestRender_AllFormatsParse(t *testing.T) {
	r := NewFeedRenderer()

	for _, format := range Formats {
		t.Run(string(format), func(t *testing.T) {
			body, contentType, err := r.Render(format, testChannel(), testItems())
			require.NoError(t, err)
			assert.Equal(t, format.ContentType(), contentType)

			feed, err := gofeed.NewParser().ParseString(body)
			require.NoError(t, err)

			assert.Equal(t, "Articles", feed.Title)
			require.Len(t, feed.Items, 2)
			assert.Equal(t, "Second", feed.Items[0].Title, "newest item first")
			assert.Equal(t, "First", feed.Items[1].Title)
		})
	}
}

func TestRender_ImageEnclosure(t *testing.T) {
	r := NewFeedRenderer()

	body, _, err := r.Render(FormatRSS, testChannel(), testItems())
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(body)
	require.NoError(t, err)
	require.Len(t, feed.Items, 2)

	withImage := feed.Items[0]
	require.Len(t, withImage.Enclosures, 1)
	assert.Equal(t, "https://gw.example/tx-2", withImage.Enclosures[0].URL)
	assert.Equal(t, "image/png", withImage.Enclosures[0].Type)
	assert.Equal(t, "2048", withImage.Enclosures[0].Length)

	assert.Empty(t, feed.Items[1].Enclosures)
	assert.Equal(t, "https://example.com/1", feed.Items[1].Link)
}

func TestRender_JSONSelfLink(t *testing.T) {
	r := NewFeedRenderer()

	body, _, err := r.Render(FormatJSON, testChannel(), testItems())
	require.NoError(t, err)

	feed, err := gofeed.NewParser().ParseString(body)
	require.NoError(t, err)
	assert.Equal(t, "https://feeds.example.com/articles/json?v=42", feed.FeedLink)
	assert.Equal(t, "https://example.com", feed.Link)
}

func TestRender_EmptyItems(t *testing.T) {
	r := NewFeedRenderer()

	for _, format := range Formats {
		body, _, err := r.Render(format, testChannel(), nil)
		require.NoError(t, err, format)

		feed, err := gofeed.NewParser().ParseString(body)
		require.NoError(t, err, format)
		assert.Empty(t, feed.Items, format)
	}
}

func TestRender_DoesNotReorderInput(t *testing.T) {
	items := testItems()
	_, _, err := NewFeedRenderer().Render(FormatAtom, testChannel(), items)
	require.NoError(t, err)

	assert.Equal(t, "tx-1", items[0].ID)
	assert.Equal(t, "tx-2", items[1].ID)
}

func TestRender_InvalidFormat(t *testing.T) {
	_, _, err := NewFeedRenderer().Render(Format("xml"), testChannel(), testItems())
	assert.ErrorIs(t, err, ErrInvalidFormat)
}
