package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrNoDefault is returned when no default value exists for a config key.
var ErrNoDefault = errors.New("no default exists")

// DefaultEntries returns the default runtime setting entries.
// These are seeded into the settings table on first run.
func DefaultEntries() []Entry {
	return []Entry{
		// ===================
		// Engine tuning
		// ===================
		{
			Key:         "engine.job_timeout_seconds",
			Value:       600,
			Description: "Maximum running duration of an extraction job before it errors out",
		},
		{
			Key:         "engine.poll_interval_seconds",
			Value:       15,
			Description: "Completion watcher fallback poll cadence",
		},
		{
			Key:         "engine.save_window_ms",
			Value:       1000,
			Description: "Focus guard window opened when an edit begins persisting",
		},
		{
			Key:         "engine.nav_window_ms",
			Value:       1000,
			Description: "Focus guard window opened after hiding the focused item",
		},
		{
			Key:         "engine.debounce_ms",
			Value:       400,
			Description: "Delay before pending gallery edits are written",
		},
		{
			Key:         "engine.session_idle_minutes",
			Value:       30,
			Description: "Idle time after which an unused session is pruned",
		},

		// ===================
		// Extraction options
		// ===================
		{
			Key:         "extraction.image-set.max_images",
			Value:       40,
			Description: "Default cap on images collected per property",
		},
		{
			Key:         "extraction.image-set.include_floor_plans",
			Value:       false,
			Description: "Whether image extraction also pulls floor plan renders",
		},
		{
			Key:         "extraction.review-set.max_reviews",
			Value:       200,
			Description: "Default cap on reviews collected per property",
		},
		{
			Key:         "extraction.competitor-set.radius_km",
			Value:       5.0,
			Description: "Search radius for competitor discovery",
		},
		{
			Key:         "extraction.competitor-set.max_competitors",
			Value:       10,
			Description: "Default cap on competitors collected per property",
		},

		// ===================
		// Gallery defaults
		// ===================
		{
			Key:         "gallery.tags",
			Value:       []string{"exterior", "interior", "amenity", "pool", "floor-plan", "neighborhood"},
			Description: "Tag vocabulary offered for gallery items; order is display order",
		},
	}
}

// SeedDefaults seeds default setting entries into the store.
// This is idempotent - existing entries are not overwritten.
func SeedDefaults(ctx context.Context, store Store, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	defaults := DefaultEntries()
	seeded := 0
	skipped := 0

	for _, entry := range defaults {
		// Check if key already exists
		existing, err := store.Get(ctx, entry.Key)
		if err != nil {
			return fmt.Errorf("failed to check key %q: %w", entry.Key, err)
		}

		if existing != nil {
			skipped++
			continue
		}

		// Create the entry
		if err := store.Set(ctx, entry.Key, entry.Value, entry.Description); err != nil {
			return fmt.Errorf("failed to seed key %q: %w", entry.Key, err)
		}
		seeded++
	}

	if seeded > 0 {
		logger.Info("seeded default setting entries", "seeded", seeded, "skipped", skipped)
	}
	return nil
}

// GetDefault returns the default value for a config key.
// Returns nil if no default exists for the key.
func GetDefault(key string) *Entry {
	for _, entry := range DefaultEntries() {
		if entry.Key == key {
			return &entry
		}
	}
	return nil
}

// ResetToDefault resets a config key to its default value.
// Returns ErrNoDefault if no default exists for the key.
func ResetToDefault(ctx context.Context, store Store, key string) error {
	def := GetDefault(key)
	if def == nil {
		return fmt.Errorf("%w for key %q", ErrNoDefault, key)
	}
	return store.Set(ctx, key, def.Value, def.Description)
}
