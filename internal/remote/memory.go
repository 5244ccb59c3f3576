package remote

import (
	"context"
	"sync"

	"github.com/mschirtzinger/todosync/internal/model"
)

// Memory is an in-process Store. Errors can be injected to simulate an
// unreachable server.
type Memory struct {
	mu         sync.Mutex
	doc        *model.Document
	fetchErr   error
	replaceErr error
	fetches    int
	replaces   int
}

// NewMemory returns a Memory holding doc (nil means no document yet).
func NewMemory(doc *model.Document) *Memory {
	m := &Memory{}
	if doc != nil {
		m.doc = cloneDocument(doc)
	}
	return m
}

// Fetch implements Store.Fetch.
func (m *Memory) Fetch(ctx context.Context) (*model.Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetches++
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if m.fetchErr != nil {
		return nil, m.fetchErr
	}
	if m.doc == nil {
		return nil, ErrNoDocument
	}
	return cloneDocument(m.doc), nil
}

// Replace implements Store.Replace.
func (m *Memory) Replace(ctx context.Context, doc *model.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.replaces++
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.replaceErr != nil {
		return m.replaceErr
	}
	m.doc = cloneDocument(doc)
	return nil
}

// SetErrors makes subsequent calls fail with the given errors (nil clears).
func (m *Memory) SetErrors(fetchErr, replaceErr error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchErr = fetchErr
	m.replaceErr = replaceErr
}

// Document returns a copy of the stored document, or nil.
func (m *Memory) Document() *model.Document {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.doc == nil {
		return nil
	}
	return cloneDocument(m.doc)
}

// Calls returns how many Fetch and Replace calls were made.
func (m *Memory) Calls() (fetches, replaces int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches, m.replaces
}

func cloneDocument(doc *model.Document) *model.Document {
	return &model.Document{
		LastUpdate: doc.LastUpdate,
		Categories: model.CloneCategories(doc.Categories),
	}
}
