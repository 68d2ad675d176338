// Package render turns a cached item list into RSS, Atom or JSON Feed
// markup using github.com/gorilla/feeds.
package render

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/feeds"

	"github.com/Sternrassler/feedcache/pkg/item"
)

// Format is an output feed format.
type Format string

const (
	FormatRSS  Format = "rss"
	FormatAtom Format = "atom"
	FormatJSON Format = "json"
)

// Formats lists every supported format.
var Formats = []Format{FormatRSS, FormatAtom, FormatJSON}

// Content types per format.
const (
	ContentTypeRSS  = "application/rss+xml; charset=utf-8"
	ContentTypeAtom = "application/atom+xml; charset=utf-8"
	ContentTypeJSON = "application/feed+json; charset=utf-8"
)

// ErrInvalidFormat is returned for anything but rss, atom or json.
var ErrInvalidFormat = errors.New("invalid feed format")

// ParseFormat parses a format name case-insensitively.
func ParseFormat(s string) (Format, error) {
	f := Format(strings.ToLower(strings.TrimSpace(s)))
	switch f {
	case FormatRSS, FormatAtom, FormatJSON:
		return f, nil
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidFormat, s)
}

// ContentType returns the response content type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatAtom:
		return ContentTypeAtom
	case FormatJSON:
		return ContentTypeJSON
	default:
		return ContentTypeRSS
	}
}

// Channel is the feed-level metadata.
type Channel struct {
	Title       string
	Description string
	// Link is the site the feed belongs to. Defaults to SelfLink.
	Link string
	// SelfLink is the URL the feed was requested from, including any
	// cache-busting parameter.
	SelfLink string
	// Author is optional.
	Author string
	// TTL is advertised in RSS <ttl> (minutes, rounded up).
	TTL time.Duration
}

// Item field names read by the renderer.
const (
	FieldTitle       = "title"
	FieldDescription = "description"
	FieldContent     = "content"
	FieldLink        = "link"
	FieldURL         = "url"
	FieldAuthor      = "author"
)

// FeedRenderer renders feeds. The zero value is ready to use.
type FeedRenderer struct{}

// NewFeedRenderer returns a renderer.
func NewFeedRenderer() *FeedRenderer {
	return &FeedRenderer{}
}

// Render produces the feed body for format. Items are emitted newest first;
// the input slice is not modified.
func (r *FeedRenderer) Render(format Format, ch Channel, items []item.Item) (string, string, error) {
	if _, err := ParseFormat(string(format)); err != nil {
		return "", "", err
	}

	feed := buildFeed(ch, items)

	var (
		body string
		err  error
	)
	switch format {
	case FormatRSS:
		rss := (&feeds.Rss{Feed: feed}).RssFeed()
		if ch.TTL > 0 {
			rss.Ttl = int((ch.TTL + time.Minute - 1) / time.Minute)
		}
		body, err = feeds.ToXML(rss)
	case FormatAtom:
		atom := (&feeds.Atom{Feed: feed}).AtomFeed()
		if ch.SelfLink != "" {
			atom.Id = ch.SelfLink
		}
		body, err = feeds.ToXML(atom)
	case FormatJSON:
		jf := (&feeds.JSON{Feed: feed}).JSONFeed()
		jf.FeedUrl = ch.SelfLink
		if jf.Items == nil {
			jf.Items = []*feeds.JSONItem{}
		}
		var data []byte
		data, err = json.MarshalIndent(jf, "", "  ")
		body = string(data)
	}
	if err != nil {
		return "", "", fmt.Errorf("render %s: %w", format, err)
	}
	return body, format.ContentType(), nil
}

func buildFeed(ch Channel, items []item.Item) *feeds.Feed {
	link := ch.Link
	if link == "" {
		link = ch.SelfLink
	}

	feed := &feeds.Feed{
		Title:       ch.Title,
		Description: ch.Description,
		Link:        &feeds.Link{Href: link},
		Id:          link,
	}
	if ch.Author != "" {
		feed.Author = &feeds.Author{Name: ch.Author}
	}

	sorted := make([]item.Item, len(items))
	copy(sorted, items)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].TimeCreated > sorted[j].TimeCreated
	})

	for _, it := range sorted {
		feed.Items = append(feed.Items, feedItem(it))
	}
	if len(sorted) > 0 {
		feed.Updated = time.Unix(sorted[0].TimeCreated, 0).UTC()
		feed.Created = feed.Updated
	}
	return feed
}

func feedItem(it item.Item) *feeds.Item {
	fi := &feeds.Item{
		Id:          it.ID,
		Title:       it.String(FieldTitle),
		Description: it.String(FieldDescription),
		Content:     it.String(FieldContent),
		Created:     time.Unix(it.TimeCreated, 0).UTC(),
	}
	if fi.Title == "" {
		fi.Title = it.ID
	}

	link := it.String(FieldLink)
	if link == "" {
		link = it.String(FieldURL)
	}
	if link == "" && it.Image != nil {
		link = it.Image.URL
	}
	// RSS and Atom dereference Link unconditionally.
	fi.Link = &feeds.Link{Href: link}

	if author := it.String(FieldAuthor); author != "" {
		fi.Author = &feeds.Author{Name: author}
	}

	if img := it.Image; img != nil && img.IsImage {
		fi.Enclosure = &feeds.Enclosure{
			Url:    img.URL,
			Type:   img.MimeType,
			Length: strconv.FormatInt(img.Size, 10),
		}
	}
	return fi
}
