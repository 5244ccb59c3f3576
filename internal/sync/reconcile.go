package sync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/model"
	"github.com/mschirtzinger/todosync/internal/remote"
)

// Reconcile fetches the remote document and converges both copies on the
// newer one.
//
// Calls are serialized: a Reconcile or Publish already in flight finishes
// before this one starts.
func (c *Coordinator) Reconcile(ctx context.Context) (Result, error) {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	res := Result{StartedAt: time.Now()}
	if c.remote == nil {
		res.Outcome = OutcomeLocalOnly
		res.LocalUpdate = c.localUpdate()
		return c.finish(res, nil)
	}

	doc, err := c.remote.Fetch(ctx)
	if errors.Is(err, remote.ErrDocumentTooLarge) {
		c.logger.Printf("Remote unreadable, not publishing: %v", err)
		c.emit(Event{Kind: EventRemoteUnreadable, Err: err.Error(), LastUpdate: c.localUpdate()})

		res.Outcome = OutcomeRemoteUnreadable
		res.LocalUpdate = c.localUpdate()
		return c.finish(res, err)
	}
	if err != nil {
		c.logger.Printf("Remote unavailable: %v", err)
		c.emit(Event{Kind: EventRemoteUnavailable, Err: err.Error(), LastUpdate: c.localUpdate()})

		res.Outcome = OutcomeRemoteUnavailable
		ts, perr := c.publishLocked(ctx)
		res.LocalUpdate = ts
		res.Published = perr == nil
		return c.finish(res, perr)
	}
	res.RemoteUpdate = doc.LastUpdate

	c.mu.Lock()
	localTS, adopt, err := c.decideLocked(doc)
	if err != nil {
		c.mu.Unlock()
		return c.finish(res, err)
	}
	res.LocalUpdate = localTS

	if adopt {
		ev, err := c.adoptLocked(doc)
		c.mu.Unlock()
		res.Outcome = OutcomeAdoptedRemote
		c.logger.Printf("Adopted remote document (remote=%s, local=%s)", doc.LastUpdate, displayTS(localTS))
		c.emit(ev)
		return c.finish(res, err)
	}

	// Local is authoritative: re-read it so the published list is exactly
	// what was persisted.
	err = c.loadLocalLocked()
	c.mu.Unlock()
	if err != nil {
		return c.finish(res, err)
	}

	res.Outcome = OutcomePublishedLocal
	_, err = c.publishLocked(ctx)
	res.Published = err == nil
	return c.finish(res, err)
}

// decideLocked reports the local timestamp and whether doc should replace the
// local list.
func (c *Coordinator) decideLocked(doc *model.Document) (string, bool, error) {
	ts, tsOK, err := c.local.Get(model.KeyLastUpdate)
	if err != nil {
		return "", false, fmt.Errorf("failed to read local timestamp: %w", err)
	}
	_, listOK, err := c.local.Get(model.KeyCategories)
	if err != nil {
		return "", false, fmt.Errorf("failed to read local categories: %w", err)
	}
	if !tsOK || !listOK || ts == "" {
		return ts, true, nil
	}

	localTime, err := model.ParseTimestamp(ts)
	if err != nil {
		c.logger.Printf("Warning: ignoring local timestamp: %v", err)
		return ts, true, nil
	}
	remoteTime, err := doc.Time()
	if err != nil {
		c.logger.Printf("Warning: ignoring remote document: %v", err)
		return ts, false, nil
	}
	return ts, remoteTime.After(localTime), nil
}

// adoptLocked makes doc's list the in-memory list and, when configured,
// caches it locally under the remote's own timestamp. Items are taken as
// they are; only categories lacking an id get one.
func (c *Coordinator) adoptLocked(doc *model.Document) (Event, error) {
	categories := model.CloneCategories(doc.Categories)
	if categories == nil {
		categories = []model.Category{}
	}
	for n := range categories {
		categories[n].EnsureID()
	}
	c.categories = categories
	c.clampActiveLocked()

	ev := Event{
		Kind:       EventAdoptedRemote,
		LastUpdate: doc.LastUpdate,
		Categories: len(categories),
	}
	if !c.opts.CacheRemote {
		return ev, nil
	}

	raw, err := model.EncodeCategories(categories)
	if err != nil {
		return ev, fmt.Errorf("failed to encode adopted categories: %w", err)
	}
	values := map[string]string{
		model.KeyCategories: raw,
		model.KeyLastUpdate: doc.LastUpdate,
	}
	if err := localstore.SetAll(c.local, values); err != nil {
		return ev, fmt.Errorf("failed to cache remote document: %w", err)
	}
	c.knownUpdate = doc.LastUpdate
	return ev, nil
}

// Publish sends the locally persisted list to the remote store as a full
// replacement.
func (c *Coordinator) Publish(ctx context.Context) error {
	c.runMu.Lock()
	defer c.runMu.Unlock()
	_, err := c.publishLocked(ctx)
	return err
}

// publishLocked publishes with retries. The caller holds runMu. It returns
// the timestamp that was sent.
func (c *Coordinator) publishLocked(ctx context.Context) (string, error) {
	if c.remote == nil {
		return "", ErrNoRemote
	}

	c.mu.Lock()
	ts, ok, err := c.local.Get(model.KeyLastUpdate)
	doc := &model.Document{
		LastUpdate: ts,
		Categories: model.CloneCategories(c.categories),
	}
	c.mu.Unlock()
	if err != nil {
		return "", fmt.Errorf("failed to read local timestamp: %w", err)
	}
	if !ok || ts == "" {
		c.logger.Printf("Nothing to publish yet")
		return "", ErrNothingToPublish
	}

	backoff := c.opts.RetryBackoff
	attempts := 0
	for {
		attempts++
		err = c.remote.Replace(ctx, doc)
		if err == nil {
			break
		}
		if attempts > c.opts.PublishRetries || ctx.Err() != nil {
			break
		}
		c.logger.Printf("Publish attempt %d failed: %v (retrying in %v)", attempts, err, backoff)
		if !sleepContext(ctx, backoff) {
			err = ctx.Err()
			break
		}
		backoff *= 2
	}

	if err != nil {
		c.logger.Printf("Publish failed after %d attempt(s): %v", attempts, err)
		c.emit(Event{Kind: EventPublishFailed, LastUpdate: ts, Categories: len(doc.Categories), Err: err.Error()})
		return ts, fmt.Errorf("failed to publish after %d attempt(s): %w", attempts, err)
	}

	c.logger.Printf("Published %d categories (lastUpdate=%s)", len(doc.Categories), ts)
	c.emit(Event{Kind: EventPublished, LastUpdate: ts, Categories: len(doc.Categories)})
	return ts, nil
}

func (c *Coordinator) finish(res Result, err error) (Result, error) {
	res.Err = err
	res.Duration = time.Since(res.StartedAt)

	c.mu.Lock()
	c.last = res
	c.mu.Unlock()
	return res, err
}

func (c *Coordinator) localUpdate() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.knownUpdate
}

// RequestReconcile asks for a reconciliation. While Run is active the request
// is handed to the loop, and requests made during a run collapse into a
// single follow-up. Otherwise it reconciles inline and logs any failure.
func (c *Coordinator) RequestReconcile(ctx context.Context) {
	if c.running.Load() {
		select {
		case c.kick <- struct{}{}:
		default:
		}
		return
	}
	if _, err := c.Reconcile(ctx); err != nil && !errors.Is(err, ErrNothingToPublish) {
		c.logger.Printf("Reconcile failed: %v", err)
	}
}

// Run reconciles in the background whenever RequestReconcile is called,
// until ctx is cancelled.
func (c *Coordinator) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer c.running.Store(false)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-c.kick:
			if _, err := c.Reconcile(ctx); err != nil && ctx.Err() == nil && !errors.Is(err, ErrNothingToPublish) {
				c.logger.Printf("Reconcile failed: %v", err)
			}
		}
	}
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func displayTS(ts string) string {
	if ts == "" {
		return "none"
	}
	return ts
}
