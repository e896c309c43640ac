package store

import (
	"context"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/itsshri/NightSafe/internal/geo"
	"github.com/itsshri/NightSafe/internal/models"
)

// MemoryStore is the in-process Store used by tests and local runs
// without Redis.
type MemoryStore struct {
	mu             sync.RWMutex
	presence       map[string]models.PresenceRecord
	tracks         map[string][]models.Position
	trackMeta      map[string]int64
	alerts         map[string]models.Alert
	alertOrder     []string
	registry       map[string]models.RegistryEntry
	trips          map[string][]models.Trip
	maxTrackPoints int

	wmu      sync.Mutex
	watchers map[int]chan Event
	nextWID  int
}

func NewMemoryStore(maxTrackPoints int) *MemoryStore {
	return &MemoryStore{
		presence:       make(map[string]models.PresenceRecord),
		tracks:         make(map[string][]models.Position),
		trackMeta:      make(map[string]int64),
		alerts:         make(map[string]models.Alert),
		registry:       make(map[string]models.RegistryEntry),
		trips:          make(map[string][]models.Trip),
		maxTrackPoints: maxTrackPoints,
		watchers:       make(map[int]chan Event),
	}
}

func (m *MemoryStore) SetPresence(ctx context.Context, rec models.PresenceRecord) error {
	m.mu.Lock()
	m.presence[rec.Identity] = rec
	m.mu.Unlock()
	m.notify(Event{Type: EventPresence, Identity: rec.Identity})
	return nil
}

func (m *MemoryStore) Presence(ctx context.Context, identity string) (models.PresenceRecord, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.presence[identity]
	return rec, ok, nil
}

func (m *MemoryStore) PresenceAll(ctx context.Context, identities []string) (map[string]models.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]models.PresenceRecord, len(identities))
	for _, id := range identities {
		if rec, ok := m.presence[id]; ok {
			out[id] = rec
		}
	}
	return out, nil
}

// naive scan; the Redis store uses GEO commands instead
func (m *MemoryStore) Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.PresenceRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	type pair struct {
		rec  models.PresenceRecord
		dist float64
	}
	arr := make([]pair, 0, len(m.presence))
	for _, rec := range m.presence {
		d := geo.Haversine(lat, lng, rec.Lat, rec.Lng)
		if d <= radiusM {
			arr = append(arr, pair{rec, d})
		}
	}
	sort.Slice(arr, func(i, j int) bool { return arr[i].dist < arr[j].dist })
	if limit > 0 && len(arr) > limit {
		arr = arr[:limit]
	}
	out := make([]models.PresenceRecord, 0, len(arr))
	for _, p := range arr {
		out = append(out, p.rec)
	}
	return out, nil
}

func (m *MemoryStore) AppendTrackPoint(ctx context.Context, identity string, p models.Position) error {
	m.mu.Lock()
	pts := append(m.tracks[identity], p)
	if m.maxTrackPoints > 0 && len(pts) > m.maxTrackPoints {
		pts = pts[len(pts)-m.maxTrackPoints:]
	}
	m.tracks[identity] = pts
	m.mu.Unlock()
	m.notify(Event{Type: EventTrack, Identity: identity})
	return nil
}

func (m *MemoryStore) Track(ctx context.Context, identity string) ([]models.Position, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pts, ok := m.tracks[identity]
	if !ok {
		return nil, nil
	}
	out := make([]models.Position, len(pts))
	copy(out, pts)
	return out, nil
}

func (m *MemoryStore) SetTrackMeta(ctx context.Context, identity string, lastUpdated int64) error {
	m.mu.Lock()
	m.trackMeta[identity] = lastUpdated
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteTrack(ctx context.Context, identity string) error {
	m.mu.Lock()
	delete(m.tracks, identity)
	delete(m.trackMeta, identity)
	m.mu.Unlock()
	m.notify(Event{Type: EventTrack, Identity: identity})
	return nil
}

func (m *MemoryStore) TrackIdentities(ctx context.Context) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.tracks))
	for id := range m.tracks {
		out = append(out, id)
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryStore) AppendAlert(ctx context.Context, a models.Alert) (models.Alert, error) {
	a.ID = uuid.NewString()
	m.mu.Lock()
	m.alerts[a.ID] = a
	m.alertOrder = append(m.alertOrder, a.ID)
	m.mu.Unlock()
	m.notify(Event{Type: EventAlertAdded, AlertID: a.ID})
	return a, nil
}

func (m *MemoryStore) Alert(ctx context.Context, id string) (models.Alert, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.alerts[id]
	return a, ok, nil
}

func (m *MemoryStore) Alerts(ctx context.Context) ([]models.Alert, error) {
	m.mu.RLock()
	out := make([]models.Alert, 0, len(m.alerts))
	for _, id := range m.alertOrder {
		if a, ok := m.alerts[id]; ok {
			out = append(out, a)
		}
	}
	m.mu.RUnlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out, nil
}

func (m *MemoryStore) DeleteAlert(ctx context.Context, id string) error {
	m.mu.Lock()
	_, existed := m.alerts[id]
	delete(m.alerts, id)
	m.mu.Unlock()
	if existed {
		m.notify(Event{Type: EventAlertDeleted, AlertID: id})
	}
	return nil
}

func (m *MemoryStore) RegistryEntry(ctx context.Context, normalizedID string) (models.RegistryEntry, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.registry[normalizedID]
	return e, ok, nil
}

func (m *MemoryStore) PutRegistryEntry(ctx context.Context, normalizedID string, e models.RegistryEntry) error {
	m.mu.Lock()
	m.registry[normalizedID] = e
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) AppendTrip(ctx context.Context, t models.Trip) (models.Trip, error) {
	t.ID = uuid.NewString()
	m.mu.Lock()
	m.trips[t.Identity] = append(m.trips[t.Identity], t)
	m.mu.Unlock()
	return t, nil
}

func (m *MemoryStore) Trip(ctx context.Context, identity, tripID string) (models.Trip, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, t := range m.trips[identity] {
		if t.ID == tripID {
			return t, true, nil
		}
	}
	return models.Trip{}, false, nil
}

func (m *MemoryStore) SetTripStatus(ctx context.Context, identity, tripID string, status models.TripStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.trips[identity] {
		if t.ID == tripID {
			m.trips[identity][i].Status = status
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) SetTripFeedback(ctx context.Context, identity, tripID, feedback string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, t := range m.trips[identity] {
		if t.ID == tripID {
			m.trips[identity][i].Feedback = feedback
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Trips(ctx context.Context, identity string, limit int) ([]models.Trip, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src := m.trips[identity]
	// newest first
	out := make([]models.Trip, 0, len(src))
	for i := len(src) - 1; i >= 0; i-- {
		out = append(out, src[i])
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out, nil
}

func (m *MemoryStore) DeleteTrip(ctx context.Context, identity, tripID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	src := m.trips[identity]
	for i, t := range src {
		if t.ID == tripID {
			m.trips[identity] = append(src[:i:i], src[i+1:]...)
			return nil
		}
	}
	return nil
}

func (m *MemoryStore) Watch(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	m.wmu.Lock()
	id := m.nextWID
	m.nextWID++
	m.watchers[id] = ch
	m.wmu.Unlock()

	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.wmu.Lock()
			delete(m.watchers, id)
			m.wmu.Unlock()
			close(done)
			close(ch)
		})
	}
	if ctx != nil {
		go func() {
			select {
			case <-ctx.Done():
				cancel()
			case <-done:
			}
		}()
	}
	return ch, cancel
}

// notify is best-effort: a watcher with a full buffer misses the event
// and recovers on its next snapshot re-read.
func (m *MemoryStore) notify(ev Event) {
	m.wmu.Lock()
	defer m.wmu.Unlock()
	for _, ch := range m.watchers {
		select {
		case ch <- ev:
		default:
		}
	}
}

func (m *MemoryStore) Close() error { return nil }
