package sync

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	stdsync "sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mschirtzinger/todosync/internal/localstore"
	"github.com/mschirtzinger/todosync/internal/model"
	"github.com/mschirtzinger/todosync/internal/remote"
)

// seedLocal writes a document into a fresh local store.
func seedLocal(t *testing.T, ts string, categories ...model.Category) *localstore.Memory {
	t.Helper()
	local := localstore.NewMemory()
	if categories == nil {
		return local
	}
	raw, err := model.EncodeCategories(categories)
	if err != nil {
		t.Fatalf("EncodeCategories() failed: %v", err)
	}
	values := map[string]string{model.KeyCategories: raw}
	if ts != "" {
		values[model.KeyLastUpdate] = ts
	}
	if err := local.SetAll(values); err != nil {
		t.Fatalf("SetAll() failed: %v", err)
	}
	return local
}

func remoteDoc(ts string, categories ...model.Category) *model.Document {
	return &model.Document{LastUpdate: ts, Categories: categories}
}

func TestReconcile_LaterTimestampWins(t *testing.T) {
	tests := []struct {
		name        string
		localTS     string
		remoteTS    string
		wantOutcome Outcome
		wantID      string
	}{
		{"remote newer", "2024-01-01T00:00:00.000Z", "2024-01-02T00:00:00.000Z", OutcomeAdoptedRemote, "remote"},
		{"local newer", "2024-01-02T00:00:00.000Z", "2024-01-01T00:00:00.000Z", OutcomePublishedLocal, "local"},
		{"remote newer by a millisecond", "2024-01-01T00:00:00.000Z", "2024-01-01T00:00:00.001Z", OutcomeAdoptedRemote, "remote"},
		{"equal keeps local", "2024-01-01T00:00:00.000Z", "2024-01-01T00:00:00.000Z", OutcomePublishedLocal, "local"},
		{"offset timestamps compare as instants", "2024-01-01T12:00:00.000Z", "2024-01-01T13:00:00.000+02:00", OutcomePublishedLocal, "local"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := seedLocal(t, tt.localTS, category("local", "Local"))
			rem := remote.NewMemory(remoteDoc(tt.remoteTS, category("remote", "Remote")))
			c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
			if err := c.Initialize(context.Background()); err != nil {
				t.Fatalf("Initialize() failed: %v", err)
			}

			res := c.LastResult()
			if res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %s, want %s (err=%v)", res.Outcome, tt.wantOutcome, res.Err)
			}
			cats := c.Categories()
			if len(cats) != 1 || cats[0].ID != tt.wantID {
				t.Errorf("in-memory categories = %+v, want %s", cats, tt.wantID)
			}

			// Both sides end up holding the winner.
			stored := rem.Document()
			if stored == nil || len(stored.Categories) != 1 || stored.Categories[0].ID != tt.wantID {
				t.Errorf("remote holds %+v, want %s", stored, tt.wantID)
			}
		})
	}
}

func TestReconcile_AdoptScenario(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("inbox", "Inbox"))
	remoteCats := []model.Category{
		{ID: "inbox", Title: "Inbox", Color: "#804040", TodoItems: []model.Item{{ID: "i1", Text: "from the browser"}}},
		category("work", "Work"),
	}
	rem := remote.NewMemory(remoteDoc("2024-01-02T00:00:00.000Z", remoteCats...))

	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}

	got := c.Categories()
	if len(got) != 2 || got[0].TodoItems[0].Text != "from the browser" || got[1].ID != "work" {
		t.Errorf("categories = %+v, want remote's todoListData", got)
	}
	if _, replaces := rem.Calls(); replaces != 0 {
		t.Errorf("adopting must not publish, got %d replaces", replaces)
	}

	// Adopted document is cached locally with the remote timestamp.
	ts, _, _ := local.Get(model.KeyLastUpdate)
	if ts != "2024-01-02T00:00:00.000Z" {
		t.Errorf("local lastUpdate = %q, want remote timestamp", ts)
	}
}

func TestReconcile_AdoptWithoutCache(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("inbox", "Inbox"))
	rem := remote.NewMemory(remoteDoc("2024-01-02T00:00:00.000Z", category("work", "Work")))

	opts := testOptions(newFakeClock("2024-03-01T00:00:00Z"))
	opts.CacheRemote = false
	c := New(local, rem, opts)
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if cats := c.Categories(); cats[0].ID != "work" {
		t.Errorf("expected remote list in memory, got %+v", cats)
	}
	if ts, _, _ := local.Get(model.KeyLastUpdate); ts != "2024-01-01T00:00:00.000Z" {
		t.Errorf("local store should be untouched, lastUpdate = %q", ts)
	}
}

func TestReconcile_NoLocalTimestampAdopts(t *testing.T) {
	tests := []struct {
		name  string
		local *localstore.Memory
	}{
		{"empty store", localstore.NewMemory()},
		{"list without timestamp", seedLocal(t, "", category("local", "Local"))},
		{"unparsable timestamp", seedLocal(t, "yesterday", category("local", "Local"))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// An ancient remote still wins when local has no usable timestamp.
			rem := remote.NewMemory(remoteDoc("1999-01-01T00:00:00.000Z", category("remote", "Remote")))
			c := New(tt.local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
			if err := c.Initialize(context.Background()); err != nil {
				t.Fatal(err)
			}
			if res := c.LastResult(); res.Outcome != OutcomeAdoptedRemote {
				t.Errorf("Outcome = %s, want adopted_remote", res.Outcome)
			}
			if cats := c.Categories(); len(cats) != 1 || cats[0].ID != "remote" {
				t.Errorf("categories = %+v", cats)
			}
		})
	}
}

func TestReconcile_UnparsableRemoteTimestampKeepsLocal(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := remote.NewMemory(remoteDoc("garbage", category("remote", "Remote")))
	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}

	if res := c.LastResult(); res.Outcome != OutcomePublishedLocal {
		t.Errorf("Outcome = %s, want published_local", res.Outcome)
	}
	if doc := rem.Document(); doc.LastUpdate != "2024-01-01T00:00:00.000Z" {
		t.Errorf("remote lastUpdate = %q, want local timestamp", doc.LastUpdate)
	}
}

func TestReconcile_RemoteUnavailablePublishes(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := remote.NewMemory(remoteDoc("2030-01-01T00:00:00.000Z", category("remote", "Remote")))
	rem.SetErrors(errors.New("connection refused"), nil)

	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	var kinds []EventKind
	c.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	res, err := c.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile() failed: %v", err)
	}
	if res.Outcome != OutcomeRemoteUnavailable || !res.Published {
		t.Errorf("result = %+v", res)
	}

	doc := rem.Document()
	if doc.LastUpdate != "2024-01-01T00:00:00.000Z" || doc.Categories[0].ID != "local" {
		t.Errorf("published %+v, want the local document", doc)
	}
	if len(kinds) != 2 || kinds[0] != EventRemoteUnavailable || kinds[1] != EventPublished {
		t.Errorf("events = %v", kinds)
	}
}

func TestReconcile_UnreadableRemoteIsNotOverwritten(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := remote.NewMemory(remoteDoc("2030-01-01T00:00:00.000Z", category("remote", "Remote")))
	rem.SetErrors(fmt.Errorf("%w: GET returned more than 5242880 bytes", remote.ErrDocumentTooLarge), nil)

	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatal(err)
	}
	var kinds []EventKind
	c.Subscribe(func(ev Event) { kinds = append(kinds, ev.Kind) })

	res, err := c.Reconcile(context.Background())
	if !errors.Is(err, remote.ErrDocumentTooLarge) {
		t.Fatalf("Reconcile() error = %v, want ErrDocumentTooLarge", err)
	}
	if res.Outcome != OutcomeRemoteUnreadable || res.Published {
		t.Errorf("result = %+v", res)
	}
	if _, replaces := rem.Calls(); replaces != 0 {
		t.Errorf("published over an unreadable document (%d replaces)", replaces)
	}
	if doc := rem.Document(); doc.Categories[0].ID != "remote" {
		t.Errorf("remote = %+v, want it untouched", doc)
	}
	if len(kinds) != 1 || kinds[0] != EventRemoteUnreadable {
		t.Errorf("events = %v", kinds)
	}

	// Local edits still persist; the failed sync is reported.
	if _, err := c.PushItem(context.Background(), "local", model.NewItem("offline edit")); err != nil {
		t.Fatalf("PushItem() failed: %v", err)
	}
	if got := c.LastResult(); got.Outcome != OutcomeRemoteUnreadable || got.Err == nil {
		t.Errorf("last result = %+v", got)
	}
}

func TestReconcile_EmptyRemotePublishes(t *testing.T) {
	c, local := setupCoordinator(t, remote.NewMemory(nil))
	ctx := context.Background()

	rem := c.remote.(*remote.Memory)
	if doc := rem.Document(); doc != nil {
		t.Fatalf("nothing should be published before a local write, got %+v", doc)
	}

	if _, err := c.PushItem(ctx, "inbox", model.NewItem("first")); err != nil {
		t.Fatal(err)
	}
	ts, _, _ := local.Get(model.KeyLastUpdate)
	doc := rem.Document()
	if doc == nil || doc.LastUpdate != ts || len(doc.Categories[0].TodoItems) != 1 {
		t.Errorf("remote = %+v, want local document at %s", doc, ts)
	}
}

func TestPublish_NothingToPublish(t *testing.T) {
	c := New(localstore.NewMemory(), remote.NewMemory(nil), testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Publish(context.Background()); !errors.Is(err, ErrNothingToPublish) {
		t.Errorf("Publish() = %v, want ErrNothingToPublish", err)
	}
}

func TestPublish_NoRemote(t *testing.T) {
	c := New(localstore.NewMemory(), nil, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Publish(context.Background()); !errors.Is(err, ErrNoRemote) {
		t.Errorf("Publish() = %v, want ErrNoRemote", err)
	}
}

// flakyRemote fails the first n Replace calls.
type flakyRemote struct {
	*remote.Memory
	failures atomic.Int32
	attempts atomic.Int32
}

func (f *flakyRemote) Replace(ctx context.Context, doc *model.Document) error {
	f.attempts.Add(1)
	if f.failures.Add(-1) >= 0 {
		return errors.New("503 service unavailable")
	}
	return f.Memory.Replace(ctx, doc)
}

func TestPublish_Retries(t *testing.T) {
	tests := []struct {
		name         string
		failures     int32
		retries      int
		wantErr      bool
		wantAttempts int32
	}{
		{"succeeds first time", 0, 2, false, 1},
		{"recovers on retry", 2, 2, false, 3},
		{"gives up", 5, 2, true, 3},
		{"no retries", 1, 0, true, 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
			rem := &flakyRemote{Memory: remote.NewMemory(nil)}
			rem.failures.Store(tt.failures)

			opts := testOptions(newFakeClock("2024-03-01T00:00:00Z"))
			opts.PublishRetries = tt.retries
			opts.RetryBackoff = time.Millisecond
			c := New(local, rem, opts)

			var failed []Event
			c.Subscribe(func(ev Event) {
				if ev.Kind == EventPublishFailed {
					failed = append(failed, ev)
				}
			})

			err := c.Publish(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("Publish() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got := rem.attempts.Load(); got != tt.wantAttempts {
				t.Errorf("attempts = %d, want %d", got, tt.wantAttempts)
			}
			if tt.wantErr && (len(failed) != 1 || failed[0].Err == "") {
				t.Errorf("expected one publish_failed event, got %+v", failed)
			}
		})
	}
}

func TestPublish_CancelledDuringBackoff(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := &flakyRemote{Memory: remote.NewMemory(nil)}
	rem.failures.Store(10)

	opts := testOptions(newFakeClock("2024-03-01T00:00:00Z"))
	opts.PublishRetries = 5
	opts.RetryBackoff = time.Hour
	c := New(local, rem, opts)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	if err := c.Publish(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Publish() = %v, want deadline exceeded", err)
	}
	if time.Since(start) > 5*time.Second {
		t.Error("Publish() did not stop waiting on cancellation")
	}
}

func TestReconcile_LocalOnly(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	if c.HasRemote() {
		t.Fatal("HasRemote() = true for nil remote")
	}
	res, err := c.Reconcile(context.Background())
	if err != nil || res.Outcome != OutcomeLocalOnly {
		t.Errorf("Reconcile() = %+v, %v", res, err)
	}
}

// blockingRemote holds every Fetch until released so runs can overlap.
type blockingRemote struct {
	*remote.Memory
	started chan struct{}
	release chan struct{}
	fetches atomic.Int32
}

func (b *blockingRemote) Fetch(ctx context.Context) (*model.Document, error) {
	b.fetches.Add(1)
	b.started <- struct{}{}
	<-b.release
	return b.Memory.Fetch(ctx)
}

func TestRun_CoalescesRequests(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := &blockingRemote{
		Memory:  remote.NewMemory(nil),
		started: make(chan struct{}, 10),
		release: make(chan struct{}),
	}
	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx) }()

	// Wait for the loop to start accepting requests.
	deadline := time.Now().Add(2 * time.Second)
	for !c.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("Run() did not start")
		}
		time.Sleep(time.Millisecond)
	}

	c.RequestReconcile(ctx)
	<-rem.started // first run is now in flight

	for n := 0; n < 5; n++ {
		c.RequestReconcile(ctx)
	}
	close(rem.release)

	// Exactly one follow-up run for the five queued requests.
	select {
	case <-rem.started:
	case <-time.After(2 * time.Second):
		t.Fatal("follow-up reconciliation never ran")
	}
	time.Sleep(50 * time.Millisecond)
	if got := rem.fetches.Load(); got != 2 {
		t.Errorf("fetches = %d, want 2", got)
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() returned %v", err)
	}
}

func TestRun_AlreadyRunning(t *testing.T) {
	c, _ := setupCoordinator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() { _ = c.Run(ctx) }()
	deadline := time.Now().Add(2 * time.Second)
	for !c.running.Load() {
		if time.Now().After(deadline) {
			t.Fatal("Run() did not start")
		}
		time.Sleep(time.Millisecond)
	}
	if err := c.Run(ctx); !errors.Is(err, ErrAlreadyRunning) {
		t.Errorf("second Run() = %v, want ErrAlreadyRunning", err)
	}
}

func TestReconcile_Serialized(t *testing.T) {
	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("local", "Local"))
	rem := &countingRemote{Memory: remote.NewMemory(nil)}
	c := New(local, rem, &Options{Logger: log.New(io.Discard, "", 0)})

	var wg stdsync.WaitGroup
	for n := 0; n < 8; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = c.Reconcile(context.Background())
		}()
	}
	wg.Wait()

	if rem.maxInFlight.Load() != 1 {
		t.Errorf("max concurrent fetches = %d, want 1", rem.maxInFlight.Load())
	}
}

type countingRemote struct {
	*remote.Memory
	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func (c *countingRemote) Fetch(ctx context.Context) (*model.Document, error) {
	n := c.inFlight.Add(1)
	defer c.inFlight.Add(-1)
	for {
		peak := c.maxInFlight.Load()
		if n <= peak || c.maxInFlight.CompareAndSwap(peak, n) {
			break
		}
	}
	time.Sleep(2 * time.Millisecond)
	return c.Memory.Fetch(ctx)
}

func TestReconcile_AdoptKeepsForeignItemFields(t *testing.T) {
	// Written by the browser client: the item has no id, no text and
	// members this package does not model.
	const written = `{"lastUpdate":"2024-01-02T00:00:00.000Z","todoListData":[` +
		`{"id":"inbox","title":"Inbox","color":"#804040","pinned":true,"todoItems":[` +
		`{"title":"buy milk","completed":false,"createdAt":"2024-01-01"}]}]}`
	var doc model.Document
	if err := json.Unmarshal([]byte(written), &doc); err != nil {
		t.Fatalf("Unmarshal() failed: %v", err)
	}

	local := seedLocal(t, "2024-01-01T00:00:00.000Z", category("inbox", "Inbox"))
	rem := remote.NewMemory(&doc)
	c := New(local, rem, testOptions(newFakeClock("2024-03-01T00:00:00Z")))
	if err := c.Initialize(context.Background()); err != nil {
		t.Fatalf("Initialize() failed: %v", err)
	}
	if res := c.LastResult(); res.Outcome != OutcomeAdoptedRemote {
		t.Fatalf("Outcome = %s, want %s", res.Outcome, OutcomeAdoptedRemote)
	}

	wantItem := `{"completed":false,"createdAt":"2024-01-01","title":"buy milk"}`
	checkItem := func(where string, cats []model.Category) {
		t.Helper()
		if len(cats) != 1 || len(cats[0].TodoItems) != 1 {
			t.Fatalf("%s: categories = %+v", where, cats)
		}
		got, err := json.Marshal(cats[0].TodoItems[0])
		if err != nil {
			t.Fatal(err)
		}
		if string(got) != wantItem {
			t.Errorf("%s: item = %s, want %s", where, got, wantItem)
		}
		if string(cats[0].Extra["pinned"]) != "true" {
			t.Errorf("%s: category lost pinned: %v", where, cats[0].Extra)
		}
	}

	raw, _, _ := local.Get(model.KeyCategories)
	cached, err := model.DecodeCategories(raw)
	if err != nil {
		t.Fatal(err)
	}
	checkItem("local cache", cached)

	// A local edit publishes the whole list back.
	if err := c.UpdateCategory(context.Background(), model.Category{ID: "inbox", Title: "Home", Color: "#804040"}); err != nil {
		t.Fatalf("UpdateCategory() failed: %v", err)
	}
	stored := rem.Document()
	if stored.Categories[0].Title != "Home" {
		t.Fatalf("remote was not updated: %+v", stored.Categories[0])
	}
	checkItem("published", stored.Categories)
}
