package store

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store. Ordered subscriptions require an index
// registered with RegisterIndex, mirroring the hosted store's behavior of
// rejecting ordered queries without a composite index.
//
// Snapshot deliveries happen synchronously on the writing goroutine;
// deliveries to one subscription are serialized by a per-subscription mutex.
type Memory struct {
	mu      sync.RWMutex
	data    map[string]map[string]Document
	indexes map[string]bool
	subs    map[int]*memSub
	nextSub int
}

type memSub struct {
	mu     sync.Mutex
	query  Query
	fn     func(Snapshot)
	closed bool
}

// NewMemory creates an empty in-memory store with no indexes.
func NewMemory() *Memory {
	return &Memory{
		data:    make(map[string]map[string]Document),
		indexes: make(map[string]bool),
		subs:    make(map[int]*memSub),
	}
}

// RegisterIndex allows ordered queries on collection that filter on exactly
// the given equality fields and order by orderBy.
func (m *Memory) RegisterIndex(collection string, equalityFields []string, orderBy string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexes[indexKey(collection, equalityFields, orderBy)] = true
}

func indexKey(collection string, equalityFields []string, orderBy string) string {
	fields := append([]string(nil), equalityFields...)
	sort.Strings(fields)
	return collection + "|" + strings.Join(fields, ",") + "|" + orderBy
}

// Read returns a copy of the document.
func (m *Memory) Read(_ context.Context, collection, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.data[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyDoc(doc), nil
}

// Write stores fields under id, merging or replacing.
func (m *Memory) Write(_ context.Context, collection, id string, fields Document, merge bool) error {
	m.mu.Lock()
	coll := m.collection(collection)
	if existing, ok := coll[id]; ok && merge {
		for k, v := range fields {
			existing[k] = v
		}
	} else {
		coll[id] = copyDoc(fields)
	}
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Create stores a new document or fails with ErrExists.
func (m *Memory) Create(_ context.Context, collection, id string, fields Document) error {
	m.mu.Lock()
	coll := m.collection(collection)
	if _, ok := coll[id]; ok {
		m.mu.Unlock()
		return ErrExists
	}
	coll[id] = copyDoc(fields)
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Insert stores a new document under a generated ID.
func (m *Memory) Insert(_ context.Context, collection string, fields Document) (string, error) {
	id := uuid.New().String()
	m.mu.Lock()
	m.collection(collection)[id] = copyDoc(fields)
	m.mu.Unlock()

	m.notify(collection)
	return id, nil
}

// SetIfAbsent sets field only if it is currently unset on the document.
func (m *Memory) SetIfAbsent(_ context.Context, collection, id, field string, value any) error {
	m.mu.Lock()
	doc, ok := m.data[collection][id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if existing, set := doc[field]; set && existing != nil {
		m.mu.Unlock()
		return ErrFieldExists
	}
	doc[field] = value
	m.mu.Unlock()

	m.notify(collection)
	return nil
}

// Subscribe registers fn for the query and delivers the initial snapshot
// before returning.
func (m *Memory) Subscribe(_ context.Context, q Query, fn func(Snapshot)) (func(), error) {
	if q.OrderBy != "" {
		fields := make([]string, 0, len(q.Filters))
		for _, f := range q.Filters {
			fields = append(fields, f.Field)
		}
		m.mu.RLock()
		indexed := m.indexes[indexKey(q.Collection, fields, q.OrderBy)]
		m.mu.RUnlock()
		if !indexed {
			return nil, ErrIndexRequired
		}
	}

	sub := &memSub{query: q, fn: fn}
	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = sub
	m.mu.Unlock()

	sub.deliver(m.evaluate(q))

	unsubscribe := func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
		sub.mu.Lock()
		sub.closed = true
		sub.mu.Unlock()
	}
	return unsubscribe, nil
}

func (s *memSub) deliver(snap Snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.fn(snap)
}

func (m *Memory) notify(collection string) {
	m.mu.RLock()
	subs := make([]*memSub, 0, len(m.subs))
	for _, sub := range m.subs {
		if sub.query.Collection == collection {
			subs = append(subs, sub)
		}
	}
	m.mu.RUnlock()

	for _, sub := range subs {
		sub.deliver(m.evaluate(sub.query))
	}
}

func (m *Memory) evaluate(q Query) Snapshot {
	m.mu.RLock()
	var docs []Doc
	for id, data := range m.data[q.Collection] {
		if matches(data, q.Filters) {
			docs = append(docs, Doc{ID: id, Data: copyDoc(data)})
		}
	}
	m.mu.RUnlock()

	if q.OrderBy != "" {
		sort.Slice(docs, func(i, j int) bool {
			a := orderValue(docs[i].Data[q.OrderBy])
			b := orderValue(docs[j].Data[q.OrderBy])
			if q.Descending {
				return a > b
			}
			return a < b
		})
	} else {
		// Deterministic iteration for unordered queries.
		sort.Slice(docs, func(i, j int) bool { return docs[i].ID < docs[j].ID })
	}
	if q.Limit > 0 && len(docs) > q.Limit {
		docs = docs[:q.Limit]
	}
	return Snapshot{Docs: docs}
}

func (m *Memory) collection(name string) map[string]Document {
	coll, ok := m.data[name]
	if !ok {
		coll = make(map[string]Document)
		m.data[name] = coll
	}
	return coll
}

func matches(doc Document, filters []Filter) bool {
	for _, f := range filters {
		v, ok := doc[f.Field]
		if !ok || !reflect.DeepEqual(v, f.Value) {
			return false
		}
	}
	return true
}

func copyDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}

// orderValue coerces a timestamp-ish field value to a comparable float.
func orderValue(v any) float64 {
	switch t := v.(type) {
	case int64:
		return float64(t)
	case int:
		return float64(t)
	case float64:
		return t
	case time.Time:
		return float64(t.UnixMilli())
	case string:
		var f float64
		fmt.Sscanf(t, "%f", &f)
		return f
	default:
		return 0
	}
}
