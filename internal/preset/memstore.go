package preset

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// MemStore is an in-process Store used when no database is configured.
type MemStore struct {
	mu      sync.Mutex
	now     func() time.Time
	nextID  int64
	presets map[int64]Preset
}

// NewMemStore returns an empty MemStore. now stamps CreatedAt and UpdatedAt.
//
// Precondition: now must be non-nil.
func NewMemStore(now func() time.Time) *MemStore {
	return &MemStore{now: now, presets: make(map[int64]Preset)}
}

// GetPresets returns every preset, newest first.
func (m *MemStore) GetPresets(context.Context) ([]Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Preset, 0, len(m.presets))
	for _, p := range m.presets {
		out = append(out, p)
	}
	SortNewestFirst(out)
	return out, nil
}

// GetPreset returns the preset with the given ID.
func (m *MemStore) GetPreset(_ context.Context, id int64) (Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.presets[id]
	if !ok {
		return Preset{}, fmt.Errorf("%w: id %d", ErrPresetNotFound, id)
	}
	return p, nil
}

// SavePreset inserts or updates p.
func (m *MemStore) SavePreset(_ context.Context, p Preset) (Preset, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now().UTC()
	if p.ID == 0 {
		m.nextID++
		p.ID = m.nextID
		p.CreatedAt = now
		p.UpdatedAt = now
		m.presets[p.ID] = p
		return p, nil
	}
	cur, ok := m.presets[p.ID]
	if !ok {
		return Preset{}, fmt.Errorf("%w: id %d", ErrPresetNotFound, p.ID)
	}
	p.IsDefault = cur.IsDefault
	p.CreatedAt = cur.CreatedAt
	p.UpdatedAt = now
	m.presets[p.ID] = p
	return p, nil
}

// DeletePreset removes the preset with the given ID.
func (m *MemStore) DeletePreset(_ context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.presets[id]; !ok {
		return fmt.Errorf("%w: id %d", ErrPresetNotFound, id)
	}
	delete(m.presets, id)
	return nil
}
