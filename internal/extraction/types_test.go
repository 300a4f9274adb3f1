package extraction

import (
	"errors"
	"testing"
	"time"

	"github.com/quartershq/quarters/internal/store"
)

func TestParseType(t *testing.T) {
	for _, typ := range Types {
		got, err := ParseType(string(typ))
		if err != nil || got != typ {
			t.Errorf("ParseType(%q) = %v, %v", typ, got, err)
		}
	}
	if _, err := ParseType("menu-set"); !errors.Is(err, ErrUnknownType) {
		t.Errorf("ParseType(menu-set) error = %v, want ErrUnknownType", err)
	}
}

func TestTypeTable(t *testing.T) {
	for _, typ := range Types {
		if typ.Table() == "" {
			t.Errorf("%s has no table", typ)
		}
	}
}

func TestNewPredicate_RowSets(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pred := TypeImageSet.NewPredicate(start)

	if pred(nil) {
		t.Error("empty rows satisfied the predicate")
	}
	stale := []store.Row{{"id": "img-1", "created_at": "2026-02-28T00:00:00Z", "updated_at": "2026-02-28T00:00:00Z"}}
	if pred(stale) {
		t.Error("rows older than the start satisfied the predicate")
	}
	fresh := []store.Row{{"id": "img-2", "created_at": "2026-03-01T12:00:05Z"}}
	if !pred(fresh) {
		t.Error("row created after the start did not satisfy the predicate")
	}
	updated := []store.Row{{"id": "img-1", "created_at": "2026-02-28T00:00:00Z", "updated_at": "2026-03-01T12:00:05Z"}}
	if !pred(updated) {
		t.Error("row updated after the start did not satisfy the predicate")
	}
	untimed := []store.Row{{"id": "img-3"}}
	if !pred(untimed) {
		t.Error("row without timestamps must count by presence")
	}
}

func TestNewPredicate_BrandProfile(t *testing.T) {
	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	pred := TypeBrandProfile.NewPredicate(start)

	empty := []store.Row{{"id": "bp-1", "summary": "", "updated_at": "2026-03-01T12:01:00Z"}}
	if pred(empty) {
		t.Error("profile with empty summary satisfied the predicate")
	}
	stale := []store.Row{{"id": "bp-1", "summary": "A boutique residence.", "created_at": "2026-01-01T00:00:00Z", "updated_at": "2026-01-01T00:00:00Z"}}
	if pred(stale) {
		t.Error("profile untouched since the start satisfied the predicate")
	}
	filled := []store.Row{{"id": "bp-1", "summary": "A boutique residence.", "updated_at": "2026-03-01T12:01:00Z"}}
	if !pred(filled) {
		t.Error("freshly filled profile did not satisfy the predicate")
	}
}
