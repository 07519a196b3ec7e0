package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/pesio-ai/be-docflow/internal/errors"
)

// MemoryDocumentStore is an in-process DocumentStore. A single mutex makes
// every ConditionalUpdate an atomic check-then-set.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]*Document
}

// NewMemoryDocumentStore creates an empty store.
func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]*Document)}
}

func (s *MemoryDocumentStore) Get(_ context.Context, id string) (*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	return doc.Clone(), nil
}

func (s *MemoryDocumentStore) Find(_ context.Context, filter DocumentFilter) ([]*Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Document
	for _, doc := range s.docs {
		if filter.Matches(doc) {
			out = append(out, doc.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		switch filter.Order {
		case OrderSubmissionDesc:
			if !out[i].SubmissionDate.Equal(out[j].SubmissionDate) {
				return out[i].SubmissionDate.After(out[j].SubmissionDate)
			}
		default:
			if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
				return out[i].LastUpdated.After(out[j].LastUpdated)
			}
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *MemoryDocumentStore) Count(_ context.Context, filter DocumentFilter) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, doc := range s.docs {
		if filter.Matches(doc) {
			n++
		}
	}
	return n, nil
}

func (s *MemoryDocumentStore) Create(_ context.Context, doc *Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if doc.ID == "" {
		doc.ID = uuid.NewString()
	}
	if _, exists := s.docs[doc.ID]; exists {
		return errors.Conflict("document already exists: " + doc.ID)
	}
	doc.Version = 1
	s.docs[doc.ID] = doc.Clone()
	return nil
}

func (s *MemoryDocumentStore) ConditionalUpdate(_ context.Context, id string, cond Condition, patch DocumentPatch) (*Document, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[id]
	if !ok {
		return nil, errors.NotFound("document", id)
	}
	if !cond.Holds(doc) {
		return nil, ErrConditionNotMet
	}

	updated := doc.Clone()
	patch.Apply(updated)
	s.docs[id] = updated
	return updated.Clone(), nil
}
