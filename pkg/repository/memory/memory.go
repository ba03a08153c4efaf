// Package memory is an in-process Repository. Values are stored as JSON so
// callers never share memory with the store.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/platinummonkey/ledger/pkg/repository"
	"github.com/platinummonkey/ledger/pkg/sentinel"
)

// Repository keeps documents in insertion order
type Repository[T any] struct {
	mu    sync.RWMutex
	docs  map[string][]byte
	order []string
	newT  func() T
	now   func() time.Time
}

var _ repository.Repository[any] = (*Repository[any])(nil)

// New creates an empty repository. newT returns a zero value to decode into,
// usually a pointer to a fresh struct.
func New[T any](newT func() T) *Repository[T] {
	return &Repository[T]{
		docs: make(map[string][]byte),
		newT: newT,
		now:  time.Now,
	}
}

func (r *Repository[T]) Save(ctx context.Context, id string, e T, asNew bool) (T, error) {
	var zero T
	data, err := json.Marshal(e)
	if err != nil {
		return zero, fmt.Errorf("failed to encode %q: %w", id, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, exists := r.docs[id]
	if exists && asNew {
		return zero, fmt.Errorf("id %q already stored: %w", id, sentinel.ErrDuplicate)
	}
	if !exists {
		r.order = append(r.order, id)
	}
	r.docs[id] = data

	return r.decode(data)
}

func (r *Repository[T]) FindByID(ctx context.Context, id string) (T, bool, error) {
	r.mu.RLock()
	data, ok := r.docs[id]
	r.mu.RUnlock()

	if !ok {
		var zero T
		return zero, false, nil
	}
	v, err := r.decode(data)
	return v, err == nil, err
}

func (r *Repository[T]) FindAll(ctx context.Context) ([]T, error) {
	return r.Query(ctx, nil)
}

func (r *Repository[T]) Query(ctx context.Context, pred func(T) bool) ([]T, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, 0, len(r.order))
	for _, id := range r.order {
		v, err := r.decode(r.docs[id])
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v) {
			out = append(out, v)
		}
	}
	return out, nil
}

func (r *Repository[T]) QueryPage(ctx context.Context, pred func(T) bool, page, size int) ([]T, error) {
	items, err := r.Query(ctx, pred)
	if err != nil {
		return nil, err
	}
	return repository.Window(items, page, size), nil
}

func (r *Repository[T]) DeleteByID(ctx context.Context, id string) (*time.Time, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.docs[id]; !ok {
		return nil, nil
	}
	delete(r.docs, id)
	for i, existing := range r.order {
		if existing == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}

	now := r.now()
	return &now, nil
}

// Len returns the number of stored documents
func (r *Repository[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.docs)
}

func (r *Repository[T]) decode(data []byte) (T, error) {
	v := r.newT()
	if err := json.Unmarshal(data, v); err != nil {
		var zero T
		return zero, fmt.Errorf("failed to decode document: %w", err)
	}
	return v, nil
}
