package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/mschirtzinger/todosync/internal/model"
)

// minIDPrefix is the shortest id prefix accepted as a reference.
const minIDPrefix = 4

// resolveCategory finds a category by 1-based position, id or
// case-insensitive title.
func resolveCategory(cats []model.Category, ref string) (model.Category, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(cats) {
			return model.Category{}, fmt.Errorf("%w: no category #%d", model.ErrCategoryNotFound, n)
		}
		return cats[n-1], nil
	}
	if i, ok := model.IndexOfCategory(cats, ref); ok {
		return cats[i], nil
	}
	var match *model.Category
	for i := range cats {
		if strings.EqualFold(cats[i].Title, ref) {
			if match != nil {
				return model.Category{}, fmt.Errorf("%q matches several categories; use the id", ref)
			}
			match = &cats[i]
		}
	}
	if match == nil {
		return model.Category{}, fmt.Errorf("%w: %s", model.ErrCategoryNotFound, ref)
	}
	return *match, nil
}

// resolveItem finds an item by 1-based position, id or unique id prefix and
// returns its index.
func resolveItem(cat model.Category, ref string) (int, model.Item, error) {
	ref = strings.TrimSpace(ref)
	if n, err := strconv.Atoi(ref); err == nil {
		if n < 1 || n > len(cat.TodoItems) {
			return -1, model.Item{}, fmt.Errorf("%w: no item #%d in %s", model.ErrItemNotFound, n, cat.Title)
		}
		return n - 1, cat.TodoItems[n-1], nil
	}
	if i, ok := cat.IndexOfItem(ref); ok {
		return i, cat.TodoItems[i], nil
	}
	if len(ref) >= minIDPrefix {
		match := -1
		for i := range cat.TodoItems {
			if strings.HasPrefix(cat.TodoItems[i].ID, ref) {
				if match >= 0 {
					return -1, model.Item{}, fmt.Errorf("id prefix %q is ambiguous", ref)
				}
				match = i
			}
		}
		if match >= 0 {
			return match, cat.TodoItems[match], nil
		}
	}
	return -1, model.Item{}, fmt.Errorf("%w: %s in %s", model.ErrItemNotFound, ref, cat.Title)
}

var dueParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// parseDue accepts RFC 3339, a plain date, or English phrases such as
// "tomorrow 9am" or "next friday", relative to now.
func parseDue(text string, now time.Time) (time.Time, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return time.Time{}, fmt.Errorf("empty due date")
	}
	if t, err := time.Parse(time.RFC3339, text); err == nil {
		return t, nil
	}
	if t, err := time.ParseInLocation("2006-01-02", text, now.Location()); err == nil {
		return t, nil
	}
	r, err := dueParser.Parse(text, now)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse due date %q: %w", text, err)
	}
	if r == nil {
		return time.Time{}, fmt.Errorf("could not understand due date %q", text)
	}
	return r.Time, nil
}
