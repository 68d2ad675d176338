// Package item defines the content item model shared by the cache, the
// upstream fetcher and the feed renderer.
package item

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Reserved JSON field names of an item.
const (
	FieldID          = "id"
	FieldTimeCreated = "timeCreated"
)

// ImageMetadata describes what the image gateways know about a transaction.
type ImageMetadata struct {
	IsImage  bool   `json:"isImage"`
	URL      string `json:"url"`
	MimeType string `json:"mimeType,omitempty"`
	Width    int    `json:"width,omitempty"`
	Height   int    `json:"height,omitempty"`
	Size     int64  `json:"size,omitempty"`
	Format   string `json:"format,omitempty"`
}

// Item is a single upstream content item.
//
// ID and TimeCreated are the only fields the cache layer interprets; every
// other upstream field is carried in Fields and handed to the renderer
// untouched.
type Item struct {
	ID          string
	TimeCreated int64
	Fields      map[string]any

	// Enrichment. Never persisted.
	Image    *ImageMetadata `json:"-"`
	HasImage bool           `json:"-"`
}

// String returns the field value for key if it is a string.
func (i Item) String(key string) string {
	if i.Fields == nil {
		return ""
	}
	if s, ok := i.Fields[key].(string); ok {
		return s
	}
	return ""
}

// Lookup resolves key against the reserved fields first, then Fields.
func (i Item) Lookup(key string) (string, bool) {
	switch key {
	case FieldID:
		return i.ID, i.ID != ""
	case FieldTimeCreated:
		return strconv.FormatInt(i.TimeCreated, 10), true
	}
	s := i.String(key)
	return s, s != ""
}

// WithImage returns a copy of the item carrying image enrichment.
func (i Item) WithImage(meta ImageMetadata) Item {
	m := meta
	i.Image = &m
	i.HasImage = meta.IsImage
	return i
}

// MarshalJSON flattens the item into a single JSON object.
func (i Item) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(i.Fields)+2)
	for k, v := range i.Fields {
		out[k] = v
	}
	out[FieldID] = i.ID
	out[FieldTimeCreated] = i.TimeCreated
	return json.Marshal(out)
}

// UnmarshalJSON accepts the flat upstream form. The id may be a string or a
// number; timeCreated must be numeric when present.
func (i *Item) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw map[string]any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	id, err := normalizeID(raw[FieldID])
	if err != nil {
		return err
	}

	var created int64
	if v, ok := raw[FieldTimeCreated]; ok && v != nil {
		n, ok := v.(json.Number)
		if !ok {
			return fmt.Errorf("item %q: timeCreated must be numeric, got %T", id, v)
		}
		created, err = n.Int64()
		if err != nil {
			f, ferr := n.Float64()
			if ferr != nil {
				return fmt.Errorf("item %q: parse timeCreated: %w", id, err)
			}
			created = int64(f)
		}
	}

	delete(raw, FieldID)
	delete(raw, FieldTimeCreated)
	for k, v := range raw {
		raw[k] = plainNumbers(v)
	}

	*i = Item{ID: id, TimeCreated: created, Fields: raw}
	return nil
}

func normalizeID(v any) (string, error) {
	switch id := v.(type) {
	case string:
		if id == "" {
			return "", fmt.Errorf("item id is empty")
		}
		return id, nil
	case json.Number:
		return id.String(), nil
	case nil:
		return "", fmt.Errorf("item id is missing")
	default:
		return "", fmt.Errorf("item id has unsupported type %T", v)
	}
}

// plainNumbers converts json.Number values back to float64 so pass-through
// fields look the same as with a default decoder.
func plainNumbers(v any) any {
	switch t := v.(type) {
	case json.Number:
		if f, err := t.Float64(); err == nil {
			return f
		}
		return t.String()
	case map[string]any:
		for k, vv := range t {
			t[k] = plainNumbers(vv)
		}
		return t
	case []any:
		for idx, vv := range t {
			t[idx] = plainNumbers(vv)
		}
		return t
	default:
		return v
	}
}
