package storage

import (
	"sync"

	"github.com/itsshri/NightSafe/internal/models"
)

// TripArchive persists completed trips durably, outside the realtime
// store, for long-term history display.
type TripArchive interface {
	SaveTrip(t *models.Trip) error
	UpdateTrip(t *models.Trip) error
	TripsFor(identity string, limit int) ([]models.Trip, error)
}

type MemoryArchive struct {
	mu    sync.RWMutex
	trips map[string]*models.Trip
	order []string
}

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{trips: make(map[string]*models.Trip)}
}

func (m *MemoryArchive) SaveTrip(t *models.Trip) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.trips[t.ID]; !ok {
		m.order = append(m.order, t.ID)
	}
	cp := *t
	m.trips[t.ID] = &cp
	return nil
}

func (m *MemoryArchive) UpdateTrip(t *models.Trip) error {
	return m.SaveTrip(t)
}

func (m *MemoryArchive) TripsFor(identity string, limit int) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Trip, 0, limit)
	for i := len(m.order) - 1; i >= 0; i-- {
		t := m.trips[m.order[i]]
		if t == nil || t.Identity != identity {
			continue
		}
		out = append(out, *t)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryArchive) Get(id string) (models.Trip, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.trips[id]
	if !ok {
		return models.Trip{}, false
	}
	return *t, true
}
