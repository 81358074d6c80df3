package docstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps collections in process memory. It backs tests and the
// "memory" store driver for local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]map[string]map[string]any)}
}

func (s *MemoryStore) Query(ctx context.Context, collection string, q Query) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateQuery(q); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []Document
	for id, data := range s.collections[collection] {
		if q.After != "" && id <= q.After {
			continue
		}
		if !Match(data, q.Filters) {
			continue
		}
		if q.OrderBy != nil {
			if _, ok := q.OrderBy.Path.Lookup(data); !ok {
				continue
			}
		}
		out = append(out, Document{ID: id, Data: copyMap(data)})
	}
	sortDocuments(out, q.OrderBy)
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return Document{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.collections[collection][id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return Document{ID: id, Data: copyMap(data)}, nil
}

func (s *MemoryStore) Set(ctx context.Context, collection, id string, data map[string]any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(collection, id, copyMap(data))
	return nil
}

func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	id := newID()
	if err := s.Set(ctx, collection, id, data); err != nil {
		return "", err
	}
	return id, nil
}

// BatchWrite applies every operation or none of them.
func (s *MemoryStore) BatchWrite(ctx context.Context, ops []WriteOp) error {
	if err := validateBatch(ops); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, op := range ops {
		current, exists := s.collections[op.Collection][op.ID]
		if op.Kind == WriteUpdate && !exists {
			return fmt.Errorf("update %s/%s: %w", op.Collection, op.ID, ErrNotFound)
		}
		if len(op.Require) > 0 && (!exists || !Match(current, op.Require)) {
			return fmt.Errorf("%s %s/%s: %w", op.Kind, op.Collection, op.ID, ErrConditionFailed)
		}
	}

	for _, op := range ops {
		switch op.Kind {
		case WriteDelete:
			delete(s.collections[op.Collection], op.ID)
		case WriteUpdate:
			doc := s.collections[op.Collection][op.ID]
			for k, v := range op.Data {
				doc[k] = copyValue(v)
			}
		case WriteSet:
			s.put(op.Collection, op.ID, copyMap(op.Data))
		}
	}
	return nil
}

func (s *MemoryStore) Count(ctx context.Context, collection string, filters []Filter) (int, error) {
	docs, err := s.Query(ctx, collection, Query{Filters: filters})
	if err != nil {
		return 0, err
	}
	return len(docs), nil
}

// Len reports the number of documents in a collection.
func (s *MemoryStore) Len(collection string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.collections[collection])
}

func (s *MemoryStore) put(collection, id string, data map[string]any) {
	c, ok := s.collections[collection]
	if !ok {
		c = make(map[string]map[string]any)
		s.collections[collection] = c
	}
	c[id] = data
}

// sortDocuments orders by the requested field, falling back to document ID.
func sortDocuments(docs []Document, order *Order) {
	sort.SliceStable(docs, func(i, j int) bool {
		if order != nil {
			a, _ := order.Path.Lookup(docs[i].Data)
			b, _ := order.Path.Lookup(docs[j].Data)
			if c, ok := compare(a, b); ok && c != 0 {
				if order.Descending {
					return c > 0
				}
				return c < 0
			}
		}
		return docs[i].ID < docs[j].ID
	})
}

func copyMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = copyValue(v)
	}
	return out
}

func copyValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return copyMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = copyValue(t[i])
		}
		return out
	case []string:
		out := make([]string, len(t))
		copy(out, t)
		return out
	}
	return v
}

func newID() string { return uuid.New().String() }
