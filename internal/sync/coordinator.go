package sync

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	stdsync "sync"
	"sync/atomic"
	"time"

	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/model"
	"github.com/mschirtzinger/todosync/internal/remote"
)

var (
	// ErrCorruptLocal is returned when stored local state cannot be decoded.
	ErrCorruptLocal = errors.New("corrupt local state")

	// ErrNothingToPublish is returned when there is no local timestamp yet.
	ErrNothingToPublish = errors.New("no local document to publish")

	// ErrNoRemote is returned by Publish when no remote store is configured.
	ErrNoRemote = errors.New("no remote store configured")

	// ErrAlreadyRunning is returned when Run is called twice.
	ErrAlreadyRunning = errors.New("coordinator loop already running")
)

// Options tunes a Coordinator.
type Options struct {
	// Logger receives progress messages (default: stderr, "[sync] " prefix).
	Logger *log.Logger

	// Clock stamps local writes (default time.Now).
	Clock func() time.Time

	// PublishRetries is the number of extra publish attempts after a failure.
	PublishRetries int

	// RetryBackoff is the delay before the first retry; it doubles each time.
	RetryBackoff time.Duration

	// CacheRemote writes adopted remote documents through to the local store.
	CacheRemote bool
}

// DefaultOptions returns the options used when New is given nil.
func DefaultOptions() *Options {
	return &Options{
		Logger:         log.New(os.Stderr, "[sync] ", log.LstdFlags),
		Clock:          time.Now,
		PublishRetries: 2,
		RetryBackoff:   500 * time.Millisecond,
		CacheRemote:    true,
	}
}

// Coordinator owns the category list and keeps the local and remote copies
// converged.
type Coordinator struct {
	local  localstore.Store
	remote remote.Store
	opts   Options
	logger *log.Logger

	mu          stdsync.Mutex
	categories  []model.Category
	active      int
	knownUpdate string
	last        Result

	obsMu     stdsync.RWMutex
	observers []Observer

	// runMu serializes reconciliations and publishes.
	runMu   stdsync.Mutex
	kick    chan struct{}
	running atomic.Bool
}

// New creates a Coordinator. rem may be nil for local-only operation.
//
// If opts is nil, DefaultOptions is used. A nil Logger or Clock in opts is
// replaced by the default.
func New(local localstore.Store, rem remote.Store, opts *Options) *Coordinator {
	if opts == nil {
		opts = DefaultOptions()
	}
	o := *opts
	if o.Logger == nil {
		o.Logger = DefaultOptions().Logger
	}
	if o.Clock == nil {
		o.Clock = time.Now
	}
	if o.PublishRetries < 0 {
		o.PublishRetries = 0
	}

	return &Coordinator{
		local:      local,
		remote:     rem,
		opts:       o,
		logger:     o.Logger,
		categories: []model.Category{model.DefaultCategory()},
		kick:       make(chan struct{}, 1),
	}
}

// HasRemote reports whether a remote store is configured.
func (c *Coordinator) HasRemote() bool {
	return c.remote != nil
}

// Initialize loads local state and reconciles with the remote.
//
// Missing local state yields the default inbox. A reconciliation failure is
// logged but does not fail initialization.
func (c *Coordinator) Initialize(ctx context.Context) error {
	c.mu.Lock()
	err := c.loadLocalLocked()
	if err == nil {
		err = c.loadActiveLocked()
	}
	c.mu.Unlock()
	if err != nil {
		return err
	}

	c.RequestReconcile(ctx)
	return nil
}

// loadLocalLocked replaces the in-memory list with the stored one. With
// nothing stored, the list holds just the default inbox.
func (c *Coordinator) loadLocalLocked() error {
	raw, ok, err := c.local.Get(model.KeyCategories)
	if err != nil {
		return fmt.Errorf("failed to read local categories: %w", err)
	}
	categories := []model.Category{model.DefaultCategory()}
	if ok {
		categories, err = model.DecodeCategories(raw)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCorruptLocal, err)
		}
	}

	ts, _, err := c.local.Get(model.KeyLastUpdate)
	if err != nil {
		return fmt.Errorf("failed to read local timestamp: %w", err)
	}

	c.categories = categories
	c.knownUpdate = ts
	c.clampActiveLocked()
	return nil
}

func (c *Coordinator) loadActiveLocked() error {
	raw, ok, err := c.local.Get(model.KeyActive)
	if err != nil {
		return fmt.Errorf("failed to read active category: %w", err)
	}
	if ok {
		if n, err := strconv.Atoi(raw); err == nil {
			c.active = n
		}
	}
	c.clampActiveLocked()
	return nil
}

func (c *Coordinator) clampActiveLocked() {
	switch {
	case len(c.categories) == 0 || c.active < 0:
		c.active = 0
	case c.active >= len(c.categories):
		c.active = len(c.categories) - 1
	}
}

// ReloadIfChanged reloads local state when another process has written a
// newer timestamp. It reports whether a reload happened.
func (c *Coordinator) ReloadIfChanged() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts, ok, err := c.local.Get(model.KeyLastUpdate)
	if err != nil {
		return false, fmt.Errorf("failed to read local timestamp: %w", err)
	}
	if !ok || ts == c.knownUpdate {
		return false, nil
	}
	if err := c.loadLocalLocked(); err != nil {
		return false, err
	}
	if err := c.loadActiveLocked(); err != nil {
		return false, err
	}
	c.logger.Printf("Reloaded local state (lastUpdate=%s)", ts)
	return true, nil
}

// PersistLocal stamps the current list with the clock, writes both keys to the
// local store, and then requests a reconciliation.
func (c *Coordinator) PersistLocal(ctx context.Context) error {
	c.mu.Lock()
	ev, err := c.persistLocked()
	c.mu.Unlock()
	if err != nil {
		return err
	}
	c.emit(ev)
	c.RequestReconcile(ctx)
	return nil
}

func (c *Coordinator) persistLocked() (Event, error) {
	raw, err := model.EncodeCategories(c.categories)
	if err != nil {
		return Event{}, fmt.Errorf("failed to encode categories: %w", err)
	}
	now := c.opts.Clock()
	ts := model.FormatTimestamp(now)

	values := map[string]string{
		model.KeyCategories: raw,
		model.KeyLastUpdate: ts,
		model.KeyActive:     strconv.Itoa(c.active),
	}
	if err := localstore.SetAll(c.local, values); err != nil {
		return Event{}, fmt.Errorf("failed to persist local state: %w", err)
	}
	c.knownUpdate = ts

	return Event{
		Kind:       EventLocalPersisted,
		At:         now,
		LastUpdate: ts,
		Categories: len(c.categories),
	}, nil
}

// mutate applies fn to the in-memory state and persists it. If fn or the
// local write fails, the previous state is restored.
func (c *Coordinator) mutate(ctx context.Context, fn func() error) error {
	c.mu.Lock()
	prev := model.CloneCategories(c.categories)
	prevActive := c.active

	if err := fn(); err != nil {
		c.categories, c.active = prev, prevActive
		c.mu.Unlock()
		return err
	}
	c.clampActiveLocked()

	ev, err := c.persistLocked()
	if err != nil {
		c.categories, c.active = prev, prevActive
		c.mu.Unlock()
		return err
	}
	c.mu.Unlock()

	c.emit(ev)
	c.RequestReconcile(ctx)
	return nil
}

// Categories returns a copy of the current list.
func (c *Coordinator) Categories() []model.Category {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.CloneCategories(c.categories)
}

// Category returns a copy of the category with the given id.
func (c *Coordinator) Category(id string) (model.Category, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := model.IndexOfCategory(c.categories, id)
	if !ok {
		return model.Category{}, false
	}
	return c.categories[n].Clone(), true
}

// Snapshot returns the current list together with the last known local
// timestamp.
func (c *Coordinator) Snapshot() model.Document {
	c.mu.Lock()
	defer c.mu.Unlock()
	return model.Document{
		LastUpdate: c.knownUpdate,
		Categories: model.CloneCategories(c.categories),
	}
}

// LastResult returns the result of the most recent reconciliation.
func (c *Coordinator) LastResult() Result {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

// Active returns the active category index.
func (c *Coordinator) Active() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}

// ActiveCategory returns a copy of the active category. ok is false when the
// list is empty.
func (c *Coordinator) ActiveCategory() (model.Category, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.categories) == 0 {
		return model.Category{}, false
	}
	return c.categories[c.active].Clone(), true
}

// SetActive selects the category at index. The selection is remembered in
// the local store but does not change the document timestamp.
func (c *Coordinator) SetActive(index int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.categories) {
		return fmt.Errorf("%w: index %d out of range [0, %d)", model.ErrCategoryNotFound, index, len(c.categories))
	}
	c.active = index
	if err := c.local.Set(model.KeyActive, strconv.Itoa(index)); err != nil {
		return fmt.Errorf("failed to store active category: %w", err)
	}
	return nil
}

// SetActiveCategory selects the category with the given id.
func (c *Coordinator) SetActiveCategory(id string) error {
	c.mu.Lock()
	n, ok := model.IndexOfCategory(c.categories, id)
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, id)
	}
	return c.SetActive(n)
}

// PushCategory appends a category and persists. Missing ids are generated.
func (c *Coordinator) PushCategory(ctx context.Context, cat model.Category) (model.Category, error) {
	cat = cat.Clone()
	cat.SetDefaults()
	if err := cat.Validate(); err != nil {
		return model.Category{}, err
	}

	err := c.mutate(ctx, func() error {
		if _, exists := model.IndexOfCategory(c.categories, cat.ID); exists {
			return fmt.Errorf("%w: %s", model.ErrDuplicateCategory, cat.ID)
		}
		c.categories = append(c.categories, cat.Clone())
		return nil
	})
	if err != nil {
		return model.Category{}, err
	}
	c.logger.Printf("Added category: %s (%s)", cat.ID, cat.Title)
	return cat, nil
}

// UpdateCategory replaces the title and color of an existing category. Its
// items are kept and not revalidated.
func (c *Coordinator) UpdateCategory(ctx context.Context, cat model.Category) error {
	err := c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, cat.ID)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, cat.ID)
		}
		updated := c.categories[n]
		updated.Title = cat.Title
		updated.Color = cat.Color
		if err := updated.Validate(); err != nil {
			return err
		}
		c.categories[n] = updated
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Printf("Updated category: %s", cat.ID)
	return nil
}

// DeleteCategory removes a category. Deleting the active category selects the
// one before it; deleting any other category leaves the index alone. The
// index is then clamped to the shortened list.
func (c *Coordinator) DeleteCategory(ctx context.Context, id string) error {
	err := c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, id)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, id)
		}
		if n == c.active {
			c.active--
		}
		c.categories = append(c.categories[:n], c.categories[n+1:]...)
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Printf("Deleted category: %s", id)
	return nil
}

// PushItem appends an item to a category and persists. A missing item id is
// generated.
func (c *Coordinator) PushItem(ctx context.Context, categoryID string, item model.Item) (model.Item, error) {
	if item.ID == "" {
		item.ID = model.NewItem(item.Text).ID
	}
	if err := item.Validate(); err != nil {
		return model.Item{}, err
	}

	err := c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, categoryID)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, categoryID)
		}
		cat := &c.categories[n]
		if _, exists := cat.IndexOfItem(item.ID); exists {
			return fmt.Errorf("item %s already exists in category %s", item.ID, categoryID)
		}
		cat.TodoItems = append(cat.TodoItems, item)
		return nil
	})
	if err != nil {
		return model.Item{}, err
	}
	c.logger.Printf("Added item %s to %s", item.ID, categoryID)
	return item, nil
}

// DeleteItem removes an item from a category.
func (c *Coordinator) DeleteItem(ctx context.Context, categoryID, itemID string) error {
	return c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, categoryID)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, categoryID)
		}
		return c.categories[n].RemoveItem(itemID)
	})
}

// DeleteItemAt removes the item at a position. Items written by other
// clients may have no id and are addressed this way.
func (c *Coordinator) DeleteItemAt(ctx context.Context, categoryID string, index int) error {
	return c.mutate(ctx, func() error {
		cat, err := c.itemAtLocked(categoryID, index)
		if err != nil {
			return err
		}
		cat.TodoItems = append(cat.TodoItems[:index], cat.TodoItems[index+1:]...)
		return nil
	})
}

// SetItemCompleted marks an item done or not done.
func (c *Coordinator) SetItemCompleted(ctx context.Context, categoryID, itemID string, completed bool) error {
	return c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, categoryID)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, categoryID)
		}
		cat := &c.categories[n]
		i, ok := cat.IndexOfItem(itemID)
		if !ok {
			return fmt.Errorf("%w: %s in category %s", model.ErrItemNotFound, itemID, categoryID)
		}
		cat.TodoItems[i].Completed = completed
		return nil
	})
}

// SetItemCompletedAt marks the item at a position done or not done.
func (c *Coordinator) SetItemCompletedAt(ctx context.Context, categoryID string, index int, completed bool) error {
	return c.mutate(ctx, func() error {
		cat, err := c.itemAtLocked(categoryID, index)
		if err != nil {
			return err
		}
		cat.TodoItems[index].Completed = completed
		return nil
	})
}

func (c *Coordinator) itemAtLocked(categoryID string, index int) (*model.Category, error) {
	n, ok := model.IndexOfCategory(c.categories, categoryID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", model.ErrCategoryNotFound, categoryID)
	}
	cat := &c.categories[n]
	if index < 0 || index >= len(cat.TodoItems) {
		return nil, fmt.Errorf("%w: no item at %d in category %s", model.ErrItemNotFound, index, categoryID)
	}
	return cat, nil
}

// ClearCompleted removes completed items from a category and returns how
// many were dropped. The list is persisted even when nothing was removed.
func (c *Coordinator) ClearCompleted(ctx context.Context, categoryID string) (int, error) {
	var removed int
	err := c.mutate(ctx, func() error {
		n, ok := model.IndexOfCategory(c.categories, categoryID)
		if !ok {
			return fmt.Errorf("%w: %s", model.ErrCategoryNotFound, categoryID)
		}
		removed = c.categories[n].ClearCompleted()
		return nil
	})
	if err != nil {
		return 0, err
	}
	c.logger.Printf("Cleared %d completed item(s) from %s", removed, categoryID)
	return removed, nil
}

// Replace swaps in a whole category list, as an import does, and persists it.
func (c *Coordinator) Replace(ctx context.Context, categories []model.Category) error {
	next := model.CloneCategories(categories)
	if next == nil {
		next = []model.Category{}
	}
	for n := range next {
		next[n].SetDefaults()
	}
	if err := model.ValidateCategories(next); err != nil {
		return err
	}
	err := c.mutate(ctx, func() error {
		c.categories = next
		return nil
	})
	if err != nil {
		return err
	}
	c.logger.Printf("Replaced category list (%d categories)", len(next))
	return nil
}
