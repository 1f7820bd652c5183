package memory

import (
	"context"
	"sort"
	"sync"

	"edudesk/internal/domain/resource"
)

// ResourceRepository хранит документы в памяти процесса
type ResourceRepository struct {
	mu   sync.RWMutex
	docs map[string]map[string]resource.Document
	seq  map[string]map[string]int
	next int
}

func NewResourceRepository() *ResourceRepository {
	return &ResourceRepository{
		docs: make(map[string]map[string]resource.Document),
		seq:  make(map[string]map[string]int),
	}
}

func (r *ResourceRepository) List(_ context.Context, collection string) ([]resource.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	docs := make([]resource.Document, 0, len(r.docs[collection]))
	for _, doc := range r.docs[collection] {
		docs = append(docs, clone(doc))
	}

	order := r.seq[collection]
	sort.Slice(docs, func(i, j int) bool {
		return order[docs[i].ID] < order[docs[j].ID]
	})
	return docs, nil
}

func (r *ResourceRepository) Get(_ context.Context, collection, id string) (*resource.Document, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	doc, ok := r.docs[collection][id]
	if !ok {
		return nil, resource.ErrNotFound
	}
	doc = clone(doc)
	return &doc, nil
}

func (r *ResourceRepository) Create(_ context.Context, doc *resource.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[doc.Collection][doc.ID]; ok {
		return resource.ErrConflict
	}
	if r.docs[doc.Collection] == nil {
		r.docs[doc.Collection] = make(map[string]resource.Document)
		r.seq[doc.Collection] = make(map[string]int)
	}

	r.next++
	r.docs[doc.Collection][doc.ID] = clone(*doc)
	r.seq[doc.Collection][doc.ID] = r.next
	return nil
}

func (r *ResourceRepository) Update(_ context.Context, doc *resource.Document) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.docs[doc.Collection][doc.ID]
	if !ok {
		return resource.ErrNotFound
	}

	updated := clone(*doc)
	updated.CreatedAt = current.CreatedAt
	updated.Version = current.Version + 1
	r.docs[doc.Collection][doc.ID] = updated
	doc.Version = updated.Version
	return nil
}

func (r *ResourceRepository) Delete(_ context.Context, collection, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[collection][id]; !ok {
		return resource.ErrNotFound
	}
	delete(r.docs[collection], id)
	delete(r.seq[collection], id)
	return nil
}

func clone(doc resource.Document) resource.Document {
	doc.Data = append([]byte(nil), doc.Data...)
	return doc
}
