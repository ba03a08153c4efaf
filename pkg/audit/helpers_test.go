package audit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type testUser struct {
	ID        string
	Username  string
	Email     *string
	Password  string
	LastLogin string
}

func (u *testUser) ItemType() ItemType { return ItemTypeUser }

func (u *testUser) AuditFields() []Field {
	return []Field{
		{Name: "username", Value: &u.Username},
		{Name: "email", Value: u.Email},
		{Name: "password", Value: &u.Password, Sensitive: true},
		{Name: "lastLogin", Value: &u.LastLogin, NotLogged: true},
	}
}

type testGroup struct {
	Name string
}

func (g *testGroup) ItemType() ItemType { return ItemTypeGroup }

func (g *testGroup) AuditFields() []Field {
	return []Field{{Name: "name", Value: &g.Name}}
}

type testToken struct {
	Hash string
}

func (t *testToken) ItemType() ItemType   { return ItemTypeAPIToken }
func (t *testToken) AuditDisabled() bool  { return true }
func (t *testToken) AuditFields() []Field { return []Field{{Name: "hash", Value: &t.Hash}} }

type testWidget struct {
	Name string
}

func (w *testWidget) ItemType() ItemType   { return ItemType("AWidget") }
func (w *testWidget) AuditFields() []Field { return []Field{{Name: "name", Value: &w.Name}} }

// fakeSink stores artifacts in memory and fails on demand
type fakeSink struct {
	mu         sync.Mutex
	events     []*Event
	records    []*AuditRecord
	persistErr error
	censored   []string
}

func (s *fakeSink) PersistEvent(ctx context.Context, event *Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.events = append(s.events, event)
	return nil
}

func (s *fakeSink) PersistChanges(ctx context.Context, record *AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.persistErr != nil {
		return s.persistErr
	}
	s.records = append(s.records, record)
	return nil
}

func (s *fakeSink) QueryEvents(ctx context.Context, q Query) ([]*Event, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Event
	for _, e := range s.events {
		if q.MatchEvent(e) {
			out = append(out, e)
		}
	}
	return window(out, q), nil
}

func (s *fakeSink) QueryChanges(ctx context.Context, q Query) ([]*AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*AuditRecord
	for _, r := range s.records {
		if q.MatchRecord(r) {
			out = append(out, r)
		}
	}
	return window(out, q), nil
}

func (s *fakeSink) Censor(ctx context.Context, fieldNames []string, itemID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.censored, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestRotation(t *testing.T, ext string, clock *fakeClock) *RotationManager {
	t.Helper()
	m, err := NewRotationManager(RotationConfig{
		Directory: t.TempDir(),
		Prefix:    "audit",
		Extension: ext,
		Rotate:    true,
		Period:    24 * time.Hour,
		Clock:     clock.Now,
	})
	require.NoError(t, err)
	return m
}

func sp(s string) *string { return &s }
