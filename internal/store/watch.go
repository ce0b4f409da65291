package store

import (
	"sync"
	"sync/atomic"
)

// feed is a one-slot, latest-wins channel. Offers and close must be
// serialized by the owning watchSet lock.
type feed[T any] struct {
	ch     chan T
	closed bool
	last   uint64
}

func newFeed[T any]() *feed[T] {
	return &feed[T]{ch: make(chan T, 1)}
}

// offer delivers v unless a value fetched later (higher ticket) was already
// delivered. A pending undelivered value is replaced.
func (f *feed[T]) offer(ticket uint64, v T) {
	if f.closed || ticket < f.last {
		return
	}
	f.last = ticket
	for {
		select {
		case f.ch <- v:
			return
		default:
		}
		select {
		case <-f.ch:
		default:
		}
	}
}

func (f *feed[T]) close() {
	if f.closed {
		return
	}
	f.closed = true
	close(f.ch)
}

type docWatch struct {
	collection string
	id         string
	feed       *feed[Snapshot]
}

type queryWatch struct {
	query Query
	feed  *feed[[]Snapshot]
}

type watchSet struct {
	mu      sync.Mutex
	nextID  int
	tickets atomic.Uint64
	docs    map[int]*docWatch
	queries map[int]*queryWatch
}

func newWatchSet() *watchSet {
	return &watchSet{
		docs:    make(map[int]*docWatch),
		queries: make(map[int]*queryWatch),
	}
}

// ticket must be taken before reading the state that will be offered.
func (ws *watchSet) ticket() uint64 { return ws.tickets.Add(1) }

func (ws *watchSet) addDoc(collection, id string) (int, *docWatch) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.nextID++
	w := &docWatch{collection: collection, id: id, feed: newFeed[Snapshot]()}
	ws.docs[ws.nextID] = w
	return ws.nextID, w
}

func (ws *watchSet) addQuery(q Query) (int, *queryWatch) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	ws.nextID++
	w := &queryWatch{query: q, feed: newFeed[[]Snapshot]()}
	ws.queries[ws.nextID] = w
	return ws.nextID, w
}

func (ws *watchSet) remove(id int) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	if w, ok := ws.docs[id]; ok {
		w.feed.close()
		delete(ws.docs, id)
	}
	if w, ok := ws.queries[id]; ok {
		w.feed.close()
		delete(ws.queries, id)
	}
}

// docTargets lists watches on collection/id; an empty id matches the whole
// collection.
func (ws *watchSet) docTargets(collection, id string) []*docWatch {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var out []*docWatch
	for _, w := range ws.docs {
		if w.collection == collection && (id == "" || w.id == id) {
			out = append(out, w)
		}
	}
	return out
}

func (ws *watchSet) queryTargets(collection string) []*queryWatch {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	var out []*queryWatch
	for _, w := range ws.queries {
		if w.query.Collection == collection {
			out = append(out, w)
		}
	}
	return out
}

func (ws *watchSet) offerDoc(w *docWatch, ticket uint64, s Snapshot) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w.feed.offer(ticket, s)
}

func (ws *watchSet) offerQuery(w *queryWatch, ticket uint64, s []Snapshot) {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	w.feed.offer(ticket, s)
}

func (ws *watchSet) closeAll() {
	ws.mu.Lock()
	defer ws.mu.Unlock()
	for id, w := range ws.docs {
		w.feed.close()
		delete(ws.docs, id)
	}
	for id, w := range ws.queries {
		w.feed.close()
		delete(ws.queries, id)
	}
}
