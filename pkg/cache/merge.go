package cache

import "github.com/Sternrassler/feedcache/pkg/item"

// Watermark returns the highest TimeCreated among items, or 0 for none.
func Watermark(items []item.Item) int64 {
	var max int64
	for _, it := range items {
		if it.TimeCreated > max {
			max = it.TimeCreated
		}
	}
	return max
}

// FilterNewItems returns the items created strictly after watermark, in input
// order.
func FilterNewItems(all []item.Item, watermark int64) []item.Item {
	var out []item.Item
	for _, it := range all {
		if it.TimeCreated > watermark {
			out = append(out, it)
		}
	}
	return out
}

// MergeItems folds newItems into cached by id. An item whose id is already
// cached replaces the cached copy in place (upstream edits win); unseen ids
// are appended in the order they were discovered. Duplicate ids are
// collapsed, so MergeItems(MergeItems(a, b), nil) equals MergeItems(a, b).
func MergeItems(cached, newItems []item.Item) []item.Item {
	out := make([]item.Item, 0, len(cached)+len(newItems))
	index := make(map[string]int, len(cached)+len(newItems))

	add := func(it item.Item) {
		if idx, ok := index[it.ID]; ok {
			out[idx] = it
			return
		}
		index[it.ID] = len(out)
		out = append(out, it)
	}

	for _, it := range cached {
		add(it)
	}
	for _, it := range newItems {
		add(it)
	}
	return out
}
