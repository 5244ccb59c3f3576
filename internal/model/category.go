package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrCategoryNotFound is returned when a category id is not in the list.
	ErrCategoryNotFound = errors.New("category not found")

	// ErrItemNotFound is returned when an item id is not in the category.
	ErrItemNotFound = errors.New("item not found")

	// ErrDuplicateCategory is returned when a category id is already taken.
	ErrDuplicateCategory = errors.New("duplicate category id")
)

var colorPattern = regexp.MustCompile(`^#([0-9a-fA-F]{3}|[0-9a-fA-F]{6})$`)

// Item is a single todo entry.
type Item struct {
	ID        string            `json:"id,omitempty" yaml:"id,omitempty" toml:"id,omitempty"`
	Text      string            `json:"text" yaml:"text" toml:"text"`
	Completed bool              `json:"completed" yaml:"completed" toml:"completed"`
	Due       *time.Time        `json:"due,omitempty" yaml:"due,omitempty" toml:"due,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty" toml:"metadata,omitempty"`

	// Extra holds JSON members written by other clients.
	Extra map[string]json.RawMessage `json:"-" yaml:"-" toml:"-"`
}

// NewItem returns an uncompleted item with a fresh id.
func NewItem(text string) Item {
	return Item{
		ID:   uuid.NewString(),
		Text: text,
	}
}

// Validate checks a new item before it is added.
func (i *Item) Validate() error {
	if strings.TrimSpace(i.Text) == "" {
		return fmt.Errorf("item text is required")
	}
	return nil
}

// Label is the text shown for the item. Items written by other clients may
// keep their text under "title" or "name" instead.
func (i Item) Label() string {
	if i.Text != "" {
		return i.Text
	}
	for _, key := range []string{"title", "name"} {
		var s string
		if raw, ok := i.Extra[key]; ok && json.Unmarshal(raw, &s) == nil && s != "" {
			return s
		}
	}
	return ""
}

// Category is a named, colored bucket of items.
type Category struct {
	ID        string `json:"id" yaml:"id" toml:"id"`
	Title     string `json:"title" yaml:"title" toml:"title"`
	Color     string `json:"color" yaml:"color" toml:"color"`
	TodoItems []Item `json:"todoItems" yaml:"todoItems" toml:"todoItems"`

	// Extra holds JSON members written by other clients.
	Extra map[string]json.RawMessage `json:"-" yaml:"-" toml:"-"`
}

// DefaultCategory is the category a fresh installation starts with.
func DefaultCategory() Category {
	return Category{
		ID:        "inbox",
		Title:     "Inbox",
		Color:     "#804040",
		TodoItems: []Item{},
	}
}

// Validate checks the category's own fields. Items are not checked: the list
// may hold items written by other clients in shapes this package does not
// model.
func (c *Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("category id is required")
	}
	if strings.TrimSpace(c.Title) == "" {
		return fmt.Errorf("category title is required")
	}
	if c.Color != "" && !colorPattern.MatchString(c.Color) {
		return fmt.Errorf("category color must be #rgb or #rrggbb (got %q)", c.Color)
	}
	return nil
}

// EnsureID fills a missing category id and item slice. Items are left as
// they are.
func (c *Category) EnsureID() {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.TodoItems == nil {
		c.TodoItems = []Item{}
	}
}

// SetDefaults is EnsureID plus fresh ids for items that have none.
func (c *Category) SetDefaults() {
	c.EnsureID()
	for n := range c.TodoItems {
		if c.TodoItems[n].ID == "" {
			c.TodoItems[n].ID = uuid.NewString()
		}
	}
}

// IndexOfItem returns the position of the item with the given id. Items
// without an id are only reachable by position.
func (c *Category) IndexOfItem(id string) (int, bool) {
	if id == "" {
		return -1, false
	}
	for n := range c.TodoItems {
		if c.TodoItems[n].ID == id {
			return n, true
		}
	}
	return -1, false
}

// RemoveItem deletes the item with the given id, keeping the order of the rest.
func (c *Category) RemoveItem(id string) error {
	n, ok := c.IndexOfItem(id)
	if !ok {
		return fmt.Errorf("%w: %s in category %s", ErrItemNotFound, id, c.ID)
	}
	c.TodoItems = append(c.TodoItems[:n], c.TodoItems[n+1:]...)
	return nil
}

// ClearCompleted drops every completed item and returns how many were removed.
// The relative order of the remaining items is preserved.
func (c *Category) ClearCompleted() int {
	kept := make([]Item, 0, len(c.TodoItems))
	for _, item := range c.TodoItems {
		if !item.Completed {
			kept = append(kept, item)
		}
	}
	removed := len(c.TodoItems) - len(kept)
	c.TodoItems = kept
	return removed
}

// Pending returns the number of items not yet completed.
func (c *Category) Pending() int {
	count := 0
	for _, item := range c.TodoItems {
		if !item.Completed {
			count++
		}
	}
	return count
}

// Clone returns a deep copy of the category.
func (c Category) Clone() Category {
	out := c
	out.Extra = cloneExtra(c.Extra)
	out.TodoItems = make([]Item, len(c.TodoItems))
	for n, item := range c.TodoItems {
		out.TodoItems[n] = item.clone()
	}
	return out
}

func (i Item) clone() Item {
	out := i
	out.Extra = cloneExtra(i.Extra)
	if i.Due != nil {
		due := *i.Due
		out.Due = &due
	}
	if i.Metadata != nil {
		out.Metadata = make(map[string]string, len(i.Metadata))
		for k, v := range i.Metadata {
			out.Metadata[k] = v
		}
	}
	return out
}
