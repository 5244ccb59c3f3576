// Package sync reconciles the locally persisted todo list with the remote
// document store.
//
// Overview
//
// The Coordinator owns the in-memory category list and the active-category
// index. It reads and writes a localstore.Store and exchanges whole documents
// with a remote.Store:
//
//	 localstore (categories, lastUpdate)
//	          ↑ PersistLocal / load
//	     Coordinator ── Reconcile ──→ remote (lastUpdate, todoListData)
//	          ↑
//	   CLI / daemon mutations
//
// Reconciliation
//
// The policy is last write wins on the document timestamp:
//
//   - remote strictly newer than local: adopt the remote list
//   - local newer or equal: reload local and publish it
//   - local has no timestamp or list: adopt the remote list
//   - remote unreachable or empty: publish local
//
// Documents are replaced whole; nothing is merged field by field.
//
// Usage
//
//	store, err := localstore.Open("local.db")
//	if err != nil {
//	    return err
//	}
//	defer store.Close()
//
//	client, err := remote.New(remote.Config{URL: url, Token: token})
//	if err != nil {
//	    return err
//	}
//
//	coord := sync.New(store, client, nil)
//	if err := coord.Initialize(ctx); err != nil {
//	    return err
//	}
//
//	// Every mutation persists locally, then reconciles.
//	item, err := coord.PushItem(ctx, "inbox", model.NewItem("buy milk"))
//
// Concurrency
//
// The Coordinator is safe for concurrent use:
//
//   - In-memory state is guarded by a mutex that is never held across
//     network calls
//   - At most one reconciliation runs at a time; Reconcile and Publish
//     callers queue behind the one in flight
//   - While Run is active, RequestReconcile only signals the loop, and
//     requests arriving during a run coalesce into one follow-up run
//   - Without Run, RequestReconcile reconciles inline
//
// Error Handling
//
//   - Malformed local state is reported as ErrCorruptLocal
//   - Unknown category or item ids return model.ErrCategoryNotFound or
//     model.ErrItemNotFound and leave the list untouched
//   - A failed publish is retried with exponential backoff, then returned
//     to the caller, logged, and emitted as an EventPublishFailed event
package sync
