package store

import (
	"fmt"
	"regexp"
	"time"
)

// Row is a single row of a store table, decoded from JSON.
type Row map[string]any

// String returns the string value of a column, or "" when absent.
func (r Row) String(key string) string {
	s, _ := r[key].(string)
	return s
}

// Bool returns the boolean value of a column, or false when absent.
func (r Row) Bool(key string) bool {
	b, _ := r[key].(bool)
	return b
}

// Int returns the integer value of a column, or 0 when absent.
// JSON numbers decode as float64.
func (r Row) Int(key string) int {
	switch v := r[key].(type) {
	case float64:
		return int(v)
	case int:
		return v
	}
	return 0
}

// Time parses a column as RFC3339, returning the zero time when absent
// or malformed.
func (r Row) Time(key string) time.Time {
	s, ok := r[key].(string)
	if !ok {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

// Strings returns the string-slice value of a column. A missing or
// mistyped column yields nil; non-string elements are skipped.
func (r Row) Strings(key string) []string {
	raw, ok := r[key].([]any)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	return out
}

// ID returns the row's primary key.
func (r Row) ID() string {
	return r.String("id")
}

// idPattern matches row and entity identifiers (uuid or simple slug).
// IDs are validated before interpolation into request paths.
var idPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidateID checks that a string is safe to use as a row or entity id
// in a REST request path.
func ValidateID(id string) error {
	if id == "" {
		return fmt.Errorf("empty ID")
	}
	if len(id) > 128 {
		return fmt.Errorf("ID too long: %d characters", len(id))
	}
	if !idPattern.MatchString(id) {
		return fmt.Errorf("invalid ID format: contains unsafe characters")
	}
	return nil
}

// Extraction output tables keyed through EntityColumn.
const (
	TablePropertyImages = "property_images"
	TableAmenities      = "amenities"
	TableFloorPlans     = "floor_plans"
	TableBrandProfiles  = "brand_profiles"
	TableOffers         = "offers"
	TableReviews        = "reviews"
	TableCompetitors    = "competitors"
)

// orderColumn returns the position column for tables with a user-defined
// ordering, or "" for tables ordered by the store.
func orderColumn(table string) string {
	switch table {
	case TablePropertyImages, TableFloorPlans:
		return "position"
	default:
		return ""
	}
}
