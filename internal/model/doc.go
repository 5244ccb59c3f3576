// Package model defines the synchronized todo-list data: categories, items and
// the timestamped document exchanged between local and remote storage.
//
// # Document Format
//
// The document is stored remotely (and exported) as a single JSON object:
//
//	{
//	  "lastUpdate": "2024-01-02T00:00:00.000Z",
//	  "todoListData": [
//	    {
//	      "id": "inbox",
//	      "title": "Inbox",
//	      "color": "#804040",
//	      "todoItems": [
//	        {"id": "3f0c...", "text": "buy milk", "completed": false}
//	      ]
//	    }
//	  ]
//	}
//
// Locally the category list and the timestamp live under separate keys
// (KeyCategories, KeyLastUpdate) of a string key/value store.
//
// # Timestamps
//
// lastUpdate is an ISO-8601 instant written with millisecond precision in UTC,
// the same shape JavaScript's Date.toISOString produces, so documents written
// by browser clients compare correctly with ours. Parsing accepts any RFC 3339
// instant.
//
// # Identity
//
// Categories are identified by id, unique within a list. Items carry their own
// id; NewItem and the coordinator fill it with a random UUID when empty.
// Lookups return (index, ok) and never a sentinel index.
//
// # Design Principles
//
//   - Whole-document replacement, no field-level merging (last write wins)
//   - Flat JSON compatible with the original browser client
//   - Validation before anything is written
package model
