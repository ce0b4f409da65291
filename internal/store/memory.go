package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type record struct {
	doc     Doc
	seq     int64
	version int64
}

// Memory is an in-process Store. Every commit and every watch delivery runs
// under one lock, so watchers observe commits in order.
type Memory struct {
	mu      sync.Mutex
	cols    map[string]map[string]*record
	seq     int64
	lastTS  int64
	now     func() time.Time
	watches *watchSet
	closed  bool
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		cols:    make(map[string]map[string]*record),
		now:     time.Now,
		watches: newWatchSet(),
	}
}

// SetClock replaces the wall clock used for server timestamps.
func (m *Memory) SetClock(now func() time.Time) {
	m.mu.Lock()
	m.now = now
	m.mu.Unlock()
}

func (m *Memory) Create(ctx context.Context, collection string, data any, opts ...CreateOption) (Snapshot, error) {
	var o createOptions
	for _, opt := range opts {
		opt(&o)
	}
	doc, err := ToDoc(data)
	if err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return Snapshot{}, err
	}
	if len(o.serverTime) > 0 {
		ts := m.now().UnixMicro()
		if ts <= m.lastTS {
			ts = m.lastTS + 1
		}
		m.lastTS = ts
		for _, f := range o.serverTime {
			doc[f] = float64(ts)
		}
	}
	col, ok := m.cols[collection]
	if !ok {
		col = make(map[string]*record)
		m.cols[collection] = col
	}
	m.seq++
	id := uuid.NewString()
	col[id] = &record{doc: doc, seq: m.seq, version: 1}
	m.notifyLocked(collection, id)
	return m.snapshotLocked(collection, id), nil
}

func (m *Memory) Get(ctx context.Context, collection, id string) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return Snapshot{}, err
	}
	s := m.snapshotLocked(collection, id)
	if !s.Exists {
		return Snapshot{}, ErrNotFound
	}
	return s, nil
}

func (m *Memory) Update(ctx context.Context, collection, id string, fn UpdateFunc) (Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return Snapshot{}, err
	}
	rec, ok := m.cols[collection][id]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	patches, err := fn(cloneDoc(rec.doc))
	if err != nil {
		return Snapshot{}, err
	}
	if len(patches) == 0 {
		return m.snapshotLocked(collection, id), nil
	}
	next := cloneDoc(rec.doc)
	if err := applyPatches(next, patches); err != nil {
		return Snapshot{}, err
	}
	rec.doc = next
	rec.version++
	m.notifyLocked(collection, id)
	return m.snapshotLocked(collection, id), nil
}

func (m *Memory) Delete(ctx context.Context, collection, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return err
	}
	if _, ok := m.cols[collection][id]; !ok {
		return nil
	}
	delete(m.cols[collection], id)
	m.notifyLocked(collection, id)
	return nil
}

func (m *Memory) DeleteCollection(ctx context.Context, collection string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return 0, err
	}
	n := len(m.cols[collection])
	if n == 0 {
		return 0, nil
	}
	delete(m.cols, collection)
	m.notifyLocked(collection, "")
	return n, nil
}

func (m *Memory) Find(ctx context.Context, q Query) ([]Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return nil, err
	}
	return m.findLocked(q)
}

func (m *Memory) WatchDoc(ctx context.Context, collection, id string) (<-chan Snapshot, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return nil, err
	}
	wid, w := m.watches.addDoc(collection, id)
	m.watches.offerDoc(w, m.watches.ticket(), m.snapshotLocked(collection, id))
	go func() {
		<-ctx.Done()
		m.watches.remove(wid)
	}()
	return w.feed.ch, nil
}

func (m *Memory) WatchQuery(ctx context.Context, q Query) (<-chan []Snapshot, error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.usable(ctx); err != nil {
		return nil, err
	}
	res, err := m.findLocked(q)
	if err != nil {
		return nil, err
	}
	wid, w := m.watches.addQuery(q)
	m.watches.offerQuery(w, m.watches.ticket(), res)
	go func() {
		<-ctx.Done()
		m.watches.remove(wid)
	}()
	return w.feed.ch, nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.watches.closeAll()
	return nil
}

func (m *Memory) usable(ctx context.Context) error {
	if m.closed {
		return ErrUnavailable
	}
	return ctx.Err()
}

func (m *Memory) snapshotLocked(collection, id string) Snapshot {
	rec, ok := m.cols[collection][id]
	if !ok {
		return Snapshot{ID: id}
	}
	return Snapshot{ID: id, Exists: true, Version: rec.version, Data: cloneDoc(rec.doc)}
}

func (m *Memory) findLocked(q Query) ([]Snapshot, error) {
	type hit struct {
		id  string
		rec *record
	}
	var hits []hit
	for id, rec := range m.cols[q.Collection] {
		ok, err := matches(rec.doc, q.Filters)
		if err != nil {
			return nil, err
		}
		if ok {
			hits = append(hits, hit{id, rec})
		}
	}
	sort.Slice(hits, func(i, j int) bool {
		a, b := hits[i], hits[j]
		if q.OrderBy != nil {
			av, _ := lookup(a.rec.doc, q.OrderBy)
			bv, _ := lookup(b.rec.doc, q.OrderBy)
			if less(av, bv) {
				return !q.Desc
			}
			if less(bv, av) {
				return q.Desc
			}
		}
		if q.Desc {
			return a.rec.seq > b.rec.seq
		}
		return a.rec.seq < b.rec.seq
	})
	if q.Limit > 0 && len(hits) > q.Limit {
		hits = hits[:q.Limit]
	}
	out := make([]Snapshot, 0, len(hits))
	for _, h := range hits {
		out = append(out, Snapshot{ID: h.id, Exists: true, Version: h.rec.version, Data: cloneDoc(h.rec.doc)})
	}
	return out, nil
}

// notifyLocked pushes fresh state to every watch the change may affect. An
// empty id means the whole collection changed.
func (m *Memory) notifyLocked(collection, id string) {
	for _, w := range m.watches.docTargets(collection, id) {
		m.watches.offerDoc(w, m.watches.ticket(), m.snapshotLocked(w.collection, w.id))
	}
	for _, w := range m.watches.queryTargets(collection) {
		res, err := m.findLocked(w.query)
		if err != nil {
			continue
		}
		m.watches.offerQuery(w, m.watches.ticket(), res)
	}
}
