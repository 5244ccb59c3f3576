package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Keys used in the local key/value store.
const (
	KeyCategories = "categories"
	KeyLastUpdate = "lastUpdate"
	KeyActive     = "active"
)

// TimestampLayout matches JavaScript's Date.toISOString output.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Document is the unit persisted and exchanged with the remote store.
type Document struct {
	LastUpdate string     `json:"lastUpdate" yaml:"lastUpdate" toml:"lastUpdate"`
	Categories []Category `json:"todoListData" yaml:"todoListData" toml:"todoListData"`
}

// FormatTimestamp renders t as an ISO-8601 UTC instant with milliseconds.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// ParseTimestamp parses an ISO-8601 instant.
func ParseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}

// Time returns the parsed LastUpdate.
func (d *Document) Time() (time.Time, error) {
	return ParseTimestamp(d.LastUpdate)
}

// Validate checks the timestamp and the category list.
func (d *Document) Validate() error {
	if d.LastUpdate == "" {
		return fmt.Errorf("lastUpdate is required")
	}
	if _, err := d.Time(); err != nil {
		return err
	}
	return ValidateCategories(d.Categories)
}

// ValidateCategories validates each category and checks id uniqueness.
func ValidateCategories(categories []Category) error {
	seen := make(map[string]bool, len(categories))
	for n := range categories {
		if err := categories[n].Validate(); err != nil {
			return fmt.Errorf("category %d: %w", n, err)
		}
		if seen[categories[n].ID] {
			return fmt.Errorf("%w: %s", ErrDuplicateCategory, categories[n].ID)
		}
		seen[categories[n].ID] = true
	}
	return nil
}

// IndexOfCategory returns the position of the category with the given id.
func IndexOfCategory(categories []Category, id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for n := range categories {
		if categories[n].ID == id {
			return n, true
		}
	}
	return -1, false
}

// CloneCategories deep-copies a category list. A nil list stays nil.
func CloneCategories(categories []Category) []Category {
	if categories == nil {
		return nil
	}
	out := make([]Category, len(categories))
	for n, c := range categories {
		out[n] = c.Clone()
	}
	return out
}

// EncodeCategories serializes a list for the local store.
func EncodeCategories(categories []Category) (string, error) {
	if categories == nil {
		categories = []Category{}
	}
	data, err := json.Marshal(categories)
	if err != nil {
		return "", fmt.Errorf("failed to marshal categories: %w", err)
	}
	return string(data), nil
}

// DecodeCategories parses a list written by EncodeCategories or by the
// browser client.
func DecodeCategories(raw string) ([]Category, error) {
	var categories []Category
	if err := json.Unmarshal([]byte(raw), &categories); err != nil {
		return nil, fmt.Errorf("failed to parse categories: %w", err)
	}
	for n := range categories {
		if categories[n].TodoItems == nil {
			categories[n].TodoItems = []Item{}
		}
	}
	return categories, nil
}
