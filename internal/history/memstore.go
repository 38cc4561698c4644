package history

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"
)

// MemStore is an in-process Store used when no database is configured.
type MemStore struct {
	mu       sync.Mutex
	nextID   int64
	sessions []Session
}

// NewMemStore returns an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{}
}

// RecordSession stores s and assigns it an ID.
func (m *MemStore) RecordSession(_ context.Context, s Session) (Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	s.ID = m.nextID
	m.sessions = append(m.sessions, s)
	return s, nil
}

// ListSessions returns one page of sessions, newest first.
func (m *MemStore) ListSessions(_ context.Context, limit, offset int) ([]Session, error) {
	limit, offset = Page(limit, offset)
	all := m.sorted(func(Session) bool { return true })
	if offset >= len(all) {
		return []Session{}, nil
	}
	end := min(offset+limit, len(all))
	return all[offset:end], nil
}

// SessionsSince returns sessions that ended after since, newest first.
func (m *MemStore) SessionsSince(_ context.Context, since time.Time) ([]Session, error) {
	return m.sorted(func(s Session) bool { return s.EndedAt.After(since) }), nil
}

// DeleteSession removes one session.
func (m *MemStore) DeleteSession(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.sessions {
		if s.ID == id {
			m.sessions = append(m.sessions[:i], m.sessions[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("%w: id %d", ErrSessionNotFound, id)
}

// CountSessions returns the number of stored sessions.
func (m *MemStore) CountSessions(context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions), nil
}

// PruneBefore deletes sessions that ended before the cutoff.
func (m *MemStore) PruneBefore(_ context.Context, before time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.sessions[:0]
	var n int64
	for _, s := range m.sessions {
		if s.EndedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, s)
	}
	m.sessions = kept
	return n, nil
}

func (m *MemStore) sorted(keep func(Session) bool) []Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		if keep(s) {
			out = append(out, s)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].EndedAt.Equal(out[j].EndedAt) {
			return out[i].EndedAt.After(out[j].EndedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}
