package docstore

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps collections in process memory. Every batch runs under
// one lock, so each write's condition is evaluated against the state at
// write time. Suitable for single-node deployments and tests.
type MemoryStore struct {
	mu          sync.Mutex
	collections map[string]map[string]Document
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]Document),
	}
}

func (s *MemoryStore) Fetch(ctx context.Context, collection string, ids []string) ([]Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	out := make([]Document, len(ids))
	for i, id := range ids {
		if doc, ok := docs[id]; ok {
			out[i] = doc.Clone()
		}
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, collection, id string) (Document, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.collections[collection][id]
	if !ok {
		return nil, ErrNotFound
	}
	return doc.Clone(), nil
}

func (s *MemoryStore) BatchConditionalWrite(ctx context.Context, collection string, specs []WriteSpec) ([]WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]Document)
		s.collections[collection] = docs
	}

	results := make([]WriteResult, len(specs))
	for i, spec := range specs {
		id := spec.ID
		if spec.Kind == WriteInsert {
			id = uuid.NewString()
		}
		change, err := evalWrite(spec, id, docs[id])
		if err != nil {
			var ce *ConsistencyError
			if errors.As(err, &ce) {
				return nil, err
			}
			results[i] = WriteResult{Err: err}
			continue
		}
		docs[id] = change.New
		results[i] = WriteResult{Change: Change{Old: change.Old.Clone(), New: change.New.Clone()}}
	}
	return results, nil
}
