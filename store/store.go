// Package store defines the document store contract the sync core and the
// mutation dispatcher consume. The store owns persistence, ordering and
// access control; this package only names the operations and the
// field-level delta vocabulary.
package store

import (
	"context"
	"encoding/json"
	"errors"
)

// Doc is one document in a snapshot, tagged with its store-assigned id.
type Doc struct {
	ID   string
	Data json.RawMessage
}

// Decode unmarshals the document payload into v.
func (d Doc) Decode(v any) error {
	return json.Unmarshal(d.Data, v)
}

// Snapshot is the entire current result set of a subscribed query,
// delivered in full on every change. Never a diff.
type Snapshot []Doc

// SnapshotFunc receives snapshots. A non-nil err signals a delivery
// failure; the previous snapshot stays valid and delivery may resume.
type SnapshotFunc func(snap Snapshot, err error)

// CancelFunc releases a live watch. It must be called on every exit path
// of the owning scope; after it returns no further delivery occurs.
type CancelFunc func()

// Filter is an equality constraint on a top-level document field.
type Filter struct {
	Field string
	Value any
}

// Query selects documents in one collection. A non-empty DocID narrows
// the watch to a single document; the snapshot is then empty or has
// exactly one element.
type Query struct {
	Collection string
	DocID      string
	Filters    []Filter
	OrderBy    string
	Descending bool
	Limit      int
}

// Where appends an equality filter.
func (q Query) Where(field string, value any) Query {
	q.Filters = append(q.Filters, Filter{Field: field, Value: value})
	return q
}

type WriteKind int

const (
	WriteSet WriteKind = iota
	WriteCreate
	WriteUpdate
	WriteDelete
)

// ErrExists is returned when a WriteCreate targets an id that is already
// taken. The whole batch fails with it.
var ErrExists = errors.New("document already exists")

// Write is one operation inside an atomic batch. WriteCreate is a Set
// that fails with ErrExists instead of overwriting; reservation documents
// use it so uniqueness is enforced by the store, not only by a read
// before the batch.
type Write struct {
	Kind       WriteKind
	Collection string
	ID         string
	Value      any            // WriteSet, WriteCreate
	Fields     map[string]any // WriteUpdate, values may be deltas
}

// Store is the document store surface. Implementations deliver causally
// ordered snapshots per subscription; no ordering holds across distinct
// subscriptions, and a local write is not guaranteed to be reflected
// before the next unrelated snapshot.
type Store interface {
	// Subscribe establishes a live watch of q and invokes fn with the full
	// result set on every change, including once on establishment.
	Subscribe(ctx context.Context, q Query, fn SnapshotFunc) (CancelFunc, error)

	// Get fetches a single document.
	Get(ctx context.Context, collection, id string) (Doc, error)

	// Add creates a document with a store-assigned id and returns it.
	Add(ctx context.Context, collection string, value any) (string, error)

	// Set fully overwrites (or creates) a document.
	Set(ctx context.Context, collection, id string, value any) error

	// Update applies field-level changes. Values may be plain values or
	// the delta types Increment, ArrayUnion and ArrayRemove; deltas
	// compose with concurrent updates from other writers.
	Update(ctx context.Context, collection, id string, fields map[string]any) error

	// Delete removes a document.
	Delete(ctx context.Context, collection, id string) error

	// Batch applies all writes atomically, both-or-neither.
	Batch(ctx context.Context, writes []Write) error
}
