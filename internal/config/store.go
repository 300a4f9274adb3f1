package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unicode"

	"github.com/quartershq/quarters/internal/store"
)

// TableSettings is the store table holding runtime-tunable settings.
const TableSettings = "app_settings"

// ErrInvalidKey is returned when a config key contains invalid characters.
var ErrInvalidKey = errors.New("invalid config key")

// ValidateKey checks if a config key contains only allowed characters.
// Valid keys contain: letters, digits, dots, underscores, and hyphens.
// This protects against typos and malformed keys.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("%w: key cannot be empty", ErrInvalidKey)
	}
	for i, r := range key {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '.' && r != '_' && r != '-' {
			return fmt.Errorf("%w: invalid character %q at position %d", ErrInvalidKey, r, i)
		}
	}
	// Don't allow keys starting or ending with dots
	if key[0] == '.' || key[len(key)-1] == '.' {
		return fmt.Errorf("%w: key cannot start or end with a dot", ErrInvalidKey)
	}
	return nil
}

// Store provides access to settings kept in the shared relational store.
// No caching - reads fresh from the store each time, so settings changed by
// another session are picked up immediately.
type Store interface {
	// Get returns a single config entry by key.
	Get(ctx context.Context, key string) (*Entry, error)

	// Set creates or updates a config entry.
	Set(ctx context.Context, key string, value any, description string) error

	// GetAll returns all config entries.
	GetAll(ctx context.Context) (map[string]Entry, error)

	// GetByPrefix returns config entries matching the prefix.
	GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error)

	// Delete removes a config entry.
	Delete(ctx context.Context, key string) error
}

// Entry represents a single configuration entry.
type Entry struct {
	Key         string `json:"key"`
	Value       any    `json:"value"`
	Description string `json:"description"`
	RowID       string `json:"row_id,omitempty"` // store row id
}

// RestStore implements Store against the hosted relational store.
type RestStore struct {
	client *store.Client
}

// NewStore creates a store-backed settings store.
func NewStore(client *store.Client) *RestStore {
	return &RestStore{client: client}
}

// Get returns a single config entry by key.
func (s *RestStore) Get(ctx context.Context, key string) (*Entry, error) {
	rows, err := s.client.RowsWhere(ctx, TableSettings, "key", key)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	if len(rows) == 0 {
		return nil, nil // Not found
	}
	entry := parseEntry(rows[0])
	return &entry, nil
}

// Set creates or updates a config entry.
func (s *RestStore) Set(ctx context.Context, key string, value any, description string) error {
	if err := ValidateKey(key); err != nil {
		return err
	}

	existing, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to check existing: %w", err)
	}

	// Serialize value to JSON for storage
	valueJSON, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	input := map[string]any{
		"key":         key,
		"value":       string(valueJSON),
		"description": description,
	}

	if existing != nil {
		if _, err := s.client.UpdateRow(ctx, TableSettings, existing.RowID, input); err != nil {
			return fmt.Errorf("update failed: %w", err)
		}
		return nil
	}
	if _, err := s.client.InsertRow(ctx, TableSettings, input); err != nil {
		return fmt.Errorf("create failed: %w", err)
	}
	return nil
}

// GetAll returns all config entries.
func (s *RestStore) GetAll(ctx context.Context) (map[string]Entry, error) {
	rows, err := s.client.RowsWhere(ctx, TableSettings, "", "")
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}

	result := make(map[string]Entry, len(rows))
	for _, row := range rows {
		e := parseEntry(row)
		result[e.Key] = e
	}
	return result, nil
}

// GetByPrefix returns config entries matching the prefix.
// Filtered client-side: the REST filter grammar has no LIKE.
func (s *RestStore) GetByPrefix(ctx context.Context, prefix string) (map[string]Entry, error) {
	all, err := s.GetAll(ctx)
	if err != nil {
		return nil, err
	}

	result := make(map[string]Entry)
	for key, entry := range all {
		if strings.HasPrefix(key, prefix) {
			result[key] = entry
		}
	}
	return result, nil
}

// Delete removes a config entry by key.
func (s *RestStore) Delete(ctx context.Context, key string) error {
	existing, err := s.Get(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to find entry: %w", err)
	}
	if existing == nil {
		return nil // Already doesn't exist
	}

	if err := s.client.DeleteRow(ctx, TableSettings, existing.RowID); err != nil {
		return fmt.Errorf("delete failed: %w", err)
	}
	return nil
}

// parseEntry maps a settings row to an Entry. Values are stored as JSON
// strings; a value that fails to parse is kept as the raw string.
func parseEntry(row store.Row) Entry {
	entry := Entry{
		Key:         row.String("key"),
		Description: row.String("description"),
		RowID:       row.ID(),
	}

	raw := row.String("value")
	if raw == "" {
		entry.Value = row["value"]
		return entry
	}

	var parsed any
	if err := json.Unmarshal([]byte(raw), &parsed); err != nil {
		slog.Debug("config value is not valid JSON, using as raw string",
			"key", entry.Key,
			"error", err)
		entry.Value = raw
		return entry
	}
	entry.Value = parsed
	return entry
}
