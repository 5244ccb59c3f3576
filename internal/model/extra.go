package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// Other clients write to the same remote document, so members the Go types
// do not model, or model with a different type, are kept verbatim in Extra
// and written back out. Known fields win over Extra once they hold a value.

func isNull(raw json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}

func splitObject(data []byte, what string) (map[string]json.RawMessage, error) {
	var members map[string]json.RawMessage
	if err := json.Unmarshal(data, &members); err != nil {
		return nil, fmt.Errorf("%s must be a JSON object: %w", what, err)
	}
	return members, nil
}

func cloneExtra(extra map[string]json.RawMessage) map[string]json.RawMessage {
	if extra == nil {
		return nil
	}
	out := make(map[string]json.RawMessage, len(extra))
	for k, v := range extra {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// objectWriter overlays known fields on a copy of the extra members.
type objectWriter struct {
	members map[string]json.RawMessage
	err     error
}

func newObjectWriter(extra map[string]json.RawMessage) *objectWriter {
	members := make(map[string]json.RawMessage, len(extra)+5)
	for k, v := range extra {
		members[k] = v
	}
	return &objectWriter{members: members}
}

func (w *objectWriter) has(key string) bool {
	_, ok := w.members[key]
	return ok
}

func (w *objectWriter) set(key string, v interface{}) {
	if w.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		w.err = fmt.Errorf("failed to encode %s: %w", key, err)
		return
	}
	w.members[key] = data
}

func (w *objectWriter) encode() ([]byte, error) {
	if w.err != nil {
		return nil, w.err
	}
	return json.Marshal(w.members)
}

// UnmarshalJSON decodes an item, keeping members it does not model.
func (i *Item) UnmarshalJSON(data []byte) error {
	members, err := splitObject(data, "item")
	if err != nil {
		return err
	}

	var out Item
	for key, raw := range members {
		ok := false
		if !isNull(raw) {
			switch key {
			case "id":
				ok = json.Unmarshal(raw, &out.ID) == nil && out.ID != ""
			case "text":
				ok = json.Unmarshal(raw, &out.Text) == nil && out.Text != ""
			case "completed":
				ok = json.Unmarshal(raw, &out.Completed) == nil
			case "due":
				var due time.Time
				if ok = json.Unmarshal(raw, &due) == nil; ok {
					out.Due = &due
				}
			case "metadata":
				var md map[string]string
				if ok = json.Unmarshal(raw, &md) == nil; ok {
					out.Metadata = md
				}
			}
		}
		if !ok {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = append(json.RawMessage(nil), raw...)
		}
	}
	*i = out
	return nil
}

// MarshalJSON encodes an item together with the members kept in Extra.
func (i Item) MarshalJSON() ([]byte, error) {
	type plain Item
	if len(i.Extra) == 0 {
		return json.Marshal(plain(i))
	}

	w := newObjectWriter(i.Extra)
	if i.ID != "" {
		w.set("id", i.ID)
	}
	if i.Text != "" {
		w.set("text", i.Text)
	}
	if i.Completed || !w.has("completed") {
		w.set("completed", i.Completed)
	}
	if i.Due != nil {
		w.set("due", i.Due)
	}
	if i.Metadata != nil {
		w.set("metadata", i.Metadata)
	}
	return w.encode()
}

// UnmarshalJSON decodes a category, keeping members it does not model.
func (c *Category) UnmarshalJSON(data []byte) error {
	members, err := splitObject(data, "category")
	if err != nil {
		return err
	}

	var out Category
	for key, raw := range members {
		ok := false
		if !isNull(raw) {
			switch key {
			case "id":
				ok = json.Unmarshal(raw, &out.ID) == nil && out.ID != ""
			case "title":
				ok = json.Unmarshal(raw, &out.Title) == nil
			case "color":
				ok = json.Unmarshal(raw, &out.Color) == nil
			case "todoItems":
				var items []Item
				if ok = json.Unmarshal(raw, &items) == nil; ok {
					out.TodoItems = items
				}
			}
		}
		if !ok {
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[key] = append(json.RawMessage(nil), raw...)
		}
	}
	*c = out
	return nil
}

// MarshalJSON encodes a category together with the members kept in Extra.
func (c Category) MarshalJSON() ([]byte, error) {
	type plain Category
	if len(c.Extra) == 0 {
		return json.Marshal(plain(c))
	}

	w := newObjectWriter(c.Extra)
	if c.ID != "" {
		w.set("id", c.ID)
	}
	if c.Title != "" || !w.has("title") {
		w.set("title", c.Title)
	}
	if c.Color != "" || !w.has("color") {
		w.set("color", c.Color)
	}
	if len(c.TodoItems) > 0 || !w.has("todoItems") {
		items := c.TodoItems
		if items == nil {
			items = []Item{}
		}
		w.set("todoItems", items)
	}
	return w.encode()
}
