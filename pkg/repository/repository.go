// Package repository defines the persistence contract used by the lifecycle
// manager. Sub-packages provide in-memory, SQL and Redis implementations.
package repository

import (
	"context"
	"time"
)

// DefaultPageSize is used when a page request asks for fewer than one item
const DefaultPageSize = 20

// Repository persists entities of one type keyed by id
type Repository[T any] interface {
	// Save stores e under id. With asNew set, an existing id fails with
	// sentinel.ErrDuplicate.
	Save(ctx context.Context, id string, e T, asNew bool) (T, error)
	FindByID(ctx context.Context, id string) (T, bool, error)
	FindAll(ctx context.Context) ([]T, error)
	Query(ctx context.Context, pred func(T) bool) ([]T, error)
	QueryPage(ctx context.Context, pred func(T) bool, page, size int) ([]T, error)
	// DeleteByID removes id and returns the removal time, or nil if nothing
	// was removed.
	DeleteByID(ctx context.Context, id string) (*time.Time, error)
}

// Page selects a window of a result set. Page starts at 0.
type Page struct {
	Page int
	Size int
}

// Normalize clamps a page request to valid bounds
func (p Page) Normalize() Page {
	if p.Page < 0 {
		p.Page = 0
	}
	if p.Size < 1 {
		p.Size = DefaultPageSize
	}
	return p
}

// Window returns the page of items, ordered as given
func Window[T any](items []T, page, size int) []T {
	p := Page{Page: page, Size: size}.Normalize()
	start := p.Page * p.Size
	if start >= len(items) {
		return []T{}
	}
	end := start + p.Size
	if end > len(items) {
		end = len(items)
	}
	return items[start:end]
}

// Filter keeps the items matching pred; a nil pred keeps everything
func Filter[T any](items []T, pred func(T) bool) []T {
	out := make([]T, 0, len(items))
	for _, item := range items {
		if pred == nil || pred(item) {
			out = append(out, item)
		}
	}
	return out
}
