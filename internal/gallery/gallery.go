// Package gallery maintains a locally-owned, reorderable, taggable view of
// a collection and merges authoritative refetches into it without losing
// in-flight edits or visibly moving the focused item.
//
// The reconciler classifies every refetch by comparing id-sets: a refetch
// carrying the same ids is a reorder-or-refresh, a different id-set is a
// structural change. Identity is the only correlation key; position and tag
// edits never make an item "new".
package gallery

import (
	"sort"

	"github.com/quartershq/quarters/internal/store"
)

// Item is a member of the reconciled collection. The first tag is the
// primary tag.
type Item struct {
	ID     string   `json:"id"`
	Order  int      `json:"order"`
	Tags   []string `json:"tags,omitempty"`
	Hidden bool     `json:"hidden,omitempty"`
}

// ItemsFromRows maps store rows to collection items, preserving row order.
func ItemsFromRows(rows []store.Row) []Item {
	items := make([]Item, 0, len(rows))
	for i, row := range rows {
		item := Item{
			ID:     row.ID(),
			Order:  i,
			Tags:   row.Strings("tags"),
			Hidden: row.Bool("hidden"),
		}
		if _, ok := row["position"]; ok {
			item.Order = row.Int("position")
		}
		items = append(items, item)
	}
	return items
}

// sameIDSet compares two id-sets order-independently.
func sameIDSet(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	for i := range as {
		if as[i] != bs[i] {
			return false
		}
	}
	return true
}

func indexOf(order []string, id string) int {
	for i, v := range order {
		if v == id {
			return i
		}
	}
	return -1
}

func clamp(idx, n int) int {
	if idx >= n {
		idx = n - 1
	}
	if idx < 0 {
		idx = 0
	}
	return idx
}
