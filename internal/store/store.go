package store

import (
	"context"
	"errors"
)

// Document is a flat set of named fields, the unit of storage.
type Document map[string]any

// Doc is a stored document together with its ID.
type Doc struct {
	ID   string
	Data Document
}

// Filter is an equality constraint on a document field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents from a collection. OrderBy names a field holding
// a numeric timestamp; ordered queries need a matching registered index and
// fail with ErrIndexRequired when none exists.
type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Snapshot is the current result set of a subscribed query.
type Snapshot struct {
	Docs []Doc
}

var (
	// ErrIndexRequired means an ordered query has no supporting index.
	// Recoverable: retry the same query without ordering.
	ErrIndexRequired = errors.New("store: query requires a composite index")

	// ErrNotFound means the document does not exist.
	ErrNotFound = errors.New("store: document not found")

	// ErrExists means Create found the document already present.
	ErrExists = errors.New("store: document already exists")

	// ErrFieldExists means SetIfAbsent found the field already set.
	ErrFieldExists = errors.New("store: field already set")
)

// Store is the real-time document store the sync core runs on: point reads,
// merge writes, one atomic conditional write, and subscribable queries.
type Store interface {
	// Read returns the document or ErrNotFound.
	Read(ctx context.Context, collection, id string) (Document, error)

	// Write stores fields under id. With merge, existing fields not named
	// in fields are kept; without, the document is replaced.
	Write(ctx context.Context, collection, id string, fields Document, merge bool) error

	// Create stores a new document, failing with ErrExists if one is
	// already present. Concurrent creators converge: exactly one wins.
	Create(ctx context.Context, collection, id string, fields Document) error

	// Insert stores a new document under a generated ID and returns it.
	Insert(ctx context.Context, collection string, fields Document) (string, error)

	// SetIfAbsent atomically sets field on an existing document only if the
	// field is currently unset. Returns ErrFieldExists if it is already
	// set, ErrNotFound if the document does not exist.
	SetIfAbsent(ctx context.Context, collection, id, field string, value any) error

	// Subscribe delivers the query's result set to fn, once immediately
	// and again after any change to the collection. Deliveries to a single
	// subscription are serialized. The returned func cancels the
	// subscription; an ordered query without a supporting index returns
	// ErrIndexRequired.
	Subscribe(ctx context.Context, q Query, fn func(Snapshot)) (func(), error)
}
