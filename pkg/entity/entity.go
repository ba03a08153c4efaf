// Package entity defines the persisted record types managed by the lifecycle
// manager. Every type embeds Base, which carries the id and the soft-delete
// timestamps, and lists its audited fields explicitly.
package entity

import (
	"strings"
	"time"

	"github.com/platinummonkey/ledger/pkg/audit"
)

// Entity is any persisted record with an id and soft-delete timestamps.
// GetDeleted returns nil exactly when the entity is Active.
type Entity interface {
	GetID() string
	SetID(id string)
	GetAdded() time.Time
	SetAdded(t time.Time)
	GetDeleted() *time.Time
	SetDeleted(t *time.Time)
	IsSoftDeleted() bool
}

// Base is embedded by every concrete entity type
type Base struct {
	ID      string     `json:"id"`
	Added   time.Time  `json:"added"`
	Deleted *time.Time `json:"deleted"`
}

func (b *Base) GetID() string           { return b.ID }
func (b *Base) SetID(id string)         { b.ID = id }
func (b *Base) GetAdded() time.Time     { return b.Added }
func (b *Base) SetAdded(t time.Time)    { b.Added = t }
func (b *Base) GetDeleted() *time.Time  { return b.Deleted }
func (b *Base) SetDeleted(t *time.Time) { b.Deleted = t }
func (b *Base) IsSoftDeleted() bool     { return b.Deleted != nil }

// BaseFields returns the audited fields shared by every entity
func (b *Base) BaseFields() []audit.Field {
	added := FormatTime(b.Added)
	return []audit.Field{
		{Name: "id", Value: &b.ID},
		{Name: "added", Value: &added},
		{Name: "deleted", Value: FormatTimePtr(b.Deleted)},
	}
}

// FormatTime renders t the way audit values store timestamps
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// FormatTimePtr is FormatTime for optional timestamps
func FormatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := FormatTime(*t)
	return &s
}

func joinList(items []string) *string {
	if len(items) == 0 {
		return nil
	}
	s := strings.Join(items, ",")
	return &s
}
