// Package store is the document store the competition rooms live in: named
// collections of JSON documents with generated ids, atomic field-level
// updates addressed by path, filtered/ordered queries and push-based watches
// on single documents and on query results.
//
// Two backends implement Store: Memory (tests, single-process dev) and
// Postgres (JSONB rows, LISTEN/NOTIFY for change push).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrNotFound = errors.New("store: document not found")
var ErrUnavailable = errors.New("store: unavailable")
var ErrInvalidPath = errors.New("store: invalid field path")
var ErrInvalidQuery = errors.New("store: invalid query")

// Doc is a decoded JSON document. Numbers are float64, nested objects are
// Doc-compatible map[string]any values.
type Doc map[string]any

// Snapshot is one observed version of a document. A watch on a deleted (or
// never created) document yields a Snapshot with Exists == false.
type Snapshot struct {
	ID      string
	Exists  bool
	Version int64
	Data    Doc
}

// Decode unmarshals the document into v.
func (s Snapshot) Decode(v any) error {
	if !s.Exists {
		return ErrNotFound
	}
	b, err := json.Marshal(s.Data)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, v)
}

// Path addresses a (possibly nested) field, one segment per level.
type Path []string

func P(segments ...string) Path { return Path(segments) }

func (p Path) String() string { return strings.Join(p, ".") }

func (p Path) validate() error {
	if len(p) == 0 {
		return ErrInvalidPath
	}
	for _, s := range p {
		if s == "" {
			return fmt.Errorf("%w: %q", ErrInvalidPath, p.String())
		}
	}
	return nil
}

// Patch sets or removes the value at Path. Intermediate objects are created
// as needed.
type Patch struct {
	Path   Path
	Value  any
	Delete bool
}

func Set(p Path, v any) Patch { return Patch{Path: p, Value: v} }

func Unset(p Path) Patch { return Patch{Path: p, Delete: true} }

// UpdateFunc receives a private copy of the current document and returns the
// patches to apply. Returning an error aborts the update and the error is
// handed back to the caller unchanged. Returning no patches is a no-op: no
// version bump, no watch notification.
type UpdateFunc func(Doc) ([]Patch, error)

type Op string

const (
	OpEq  Op = "=="
	OpLt  Op = "<"
	OpLte Op = "<="
	OpGt  Op = ">"
	OpGte Op = ">="
)

type Filter struct {
	Path  Path
	Op    Op
	Value any
}

func Where(p Path, op Op, v any) Filter { return Filter{Path: p, Op: op, Value: v} }

type Query struct {
	Collection string
	Filters    []Filter
	OrderBy    Path // nil orders by insertion
	Desc       bool
	Limit      int // 0 means unlimited
}

func (q Query) validate() error {
	if q.Collection == "" {
		return fmt.Errorf("%w: missing collection", ErrInvalidQuery)
	}
	for _, f := range q.Filters {
		if err := f.Path.validate(); err != nil {
			return err
		}
		switch f.Op {
		case OpEq, OpLt, OpLte, OpGt, OpGte:
		default:
			return fmt.Errorf("%w: operator %q", ErrInvalidQuery, f.Op)
		}
	}
	if q.OrderBy != nil {
		if err := q.OrderBy.validate(); err != nil {
			return err
		}
	}
	if q.Limit < 0 {
		return fmt.Errorf("%w: negative limit", ErrInvalidQuery)
	}
	return nil
}

type createOptions struct {
	serverTime []string
}

type CreateOption func(*createOptions)

// WithServerTime stamps the top-level field with a store-assigned timestamp
// (unix microseconds). Timestamps assigned by one store are strictly
// increasing in commit order.
func WithServerTime(field string) CreateOption {
	return func(o *createOptions) { o.serverTime = append(o.serverTime, field) }
}

type Store interface {
	Create(ctx context.Context, collection string, data any, opts ...CreateOption) (Snapshot, error)
	Get(ctx context.Context, collection, id string) (Snapshot, error)
	Update(ctx context.Context, collection, id string, fn UpdateFunc) (Snapshot, error)
	// Delete is idempotent: deleting a missing document is not an error.
	Delete(ctx context.Context, collection, id string) error
	DeleteCollection(ctx context.Context, collection string) (int, error)
	Find(ctx context.Context, q Query) ([]Snapshot, error)
	// WatchDoc yields the current snapshot immediately and again after every
	// committed change. Values are coalesced for slow readers; each one is a
	// full replacement. The channel closes when ctx is done.
	WatchDoc(ctx context.Context, collection, id string) (<-chan Snapshot, error)
	// WatchQuery is WatchDoc for the result set of q.
	WatchQuery(ctx context.Context, q Query) (<-chan []Snapshot, error)
	Close() error
}

// PatchDoc applies a fixed set of patches atomically.
func PatchDoc(ctx context.Context, s Store, collection, id string, patches ...Patch) (Snapshot, error) {
	return s.Update(ctx, collection, id, func(Doc) ([]Patch, error) { return patches, nil })
}

// Sub names the sub-collection `name` below document parent/id.
func Sub(parent, id, name string) string {
	return parent + "/" + id + "/" + name
}
