// Package store abstracts the shared realtime storage that every
// NightSafe component reads and writes. Redis backs it in production;
// an in-memory implementation backs tests and local runs.
//
// The store is the single source of truth. Client-side maps built from
// Watch events are caches and must be safe to discard and rebuild at
// any time.
package store

import (
	"context"

	"github.com/itsshri/NightSafe/internal/models"
)

// EventType labels a change notification.
type EventType string

const (
	EventPresence     EventType = "presence"
	EventTrack        EventType = "track"
	EventAlertAdded   EventType = "alert_added"
	EventAlertDeleted EventType = "alert_deleted"
)

// Event is a coarse change notification. It carries no payload: a
// watcher re-reads the collection it cares about, so delivery is
// snapshot-replace tolerant and never assumes incremental deltas.
type Event struct {
	Type     EventType `json:"type"`
	Identity string    `json:"identity,omitempty"`
	AlertID  string    `json:"alert_id,omitempty"`
}

// Store is the shared-storage surface. Every mutation is either a
// blind append or a single-key overwrite, so callers need no
// client-side locking.
type Store interface {
	// Presence: one record per identity, overwritten on every update.
	SetPresence(ctx context.Context, rec models.PresenceRecord) error
	Presence(ctx context.Context, identity string) (models.PresenceRecord, bool, error)
	PresenceAll(ctx context.Context, identities []string) (map[string]models.PresenceRecord, error)
	// Nearby returns up to limit presence records within radiusM
	// meters of the given point, nearest first.
	Nearby(ctx context.Context, lat, lng, radiusM float64, limit int) ([]models.PresenceRecord, error)

	// Tracks: append-ordered position history per identity. Track
	// returns points in insertion order; callers must re-sort by
	// timestamp before use.
	AppendTrackPoint(ctx context.Context, identity string, p models.Position) error
	Track(ctx context.Context, identity string) ([]models.Position, error)
	SetTrackMeta(ctx context.Context, identity string, lastUpdated int64) error
	DeleteTrack(ctx context.Context, identity string) error
	// TrackIdentities lists every identity with a stored track, for
	// the all-routes view.
	TrackIdentities(ctx context.Context) ([]string, error)

	// Alerts: globally shared append-only collection. AppendAlert
	// assigns the id. DeleteAlert is delete-if-exists: removing an
	// already-removed id is not an error.
	AppendAlert(ctx context.Context, a models.Alert) (models.Alert, error)
	Alert(ctx context.Context, id string) (models.Alert, bool, error)
	Alerts(ctx context.Context) ([]models.Alert, error)
	DeleteAlert(ctx context.Context, id string) error

	// Trust registry: externally curated, read-only from the client's
	// perspective. PutRegistryEntry exists for seeding and tests.
	RegistryEntry(ctx context.Context, normalizedID string) (models.RegistryEntry, bool, error)
	PutRegistryEntry(ctx context.Context, normalizedID string, e models.RegistryEntry) error

	// Trips: partitioned per identity, append on create with
	// field-level status/feedback updates.
	AppendTrip(ctx context.Context, t models.Trip) (models.Trip, error)
	Trip(ctx context.Context, identity, tripID string) (models.Trip, bool, error)
	SetTripStatus(ctx context.Context, identity, tripID string, status models.TripStatus) error
	SetTripFeedback(ctx context.Context, identity, tripID, feedback string) error
	Trips(ctx context.Context, identity string, limit int) ([]models.Trip, error)
	DeleteTrip(ctx context.Context, identity, tripID string) error

	// Watch delivers change events until cancel is called or ctx ends.
	// After cancel returns no further events are delivered.
	Watch(ctx context.Context) (<-chan Event, func())

	Close() error
}
