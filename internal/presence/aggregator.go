// Package presence merges client-observed state from shared storage
// into a consistent, bounded view: the latest presence record per
// watched identity, or the full timestamp-ordered track per identity.
package presence

import (
	"context"
	"log/slog"
	"sort"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/store"
)

type Mode string

const (
	// ModeCurrent delivers the latest presence record per identity.
	ModeCurrent Mode = "current"
	// ModeTrack delivers the full re-sorted track per identity.
	ModeTrack Mode = "track"
)

// Snapshot is one full view of the watched identities. Absence of an
// identity from the maps means "no data yet"; an identity mapped to an
// empty track means "actively empty". The two never collapse into a
// fabricated (0,0).
type Snapshot struct {
	Presence map[string]models.PresenceRecord `json:"presence,omitempty"`
	Tracks   map[string][]models.Position     `json:"tracks,omitempty"`
}

type Aggregator struct {
	Store  store.Store
	Logger *slog.Logger
}

func New(st store.Store, logger *slog.Logger) *Aggregator {
	return &Aggregator{Store: st, Logger: logger}
}

// SortTrack orders points by timestamp. Storage keeps insertion order,
// which concurrent writers or clock skew can leave out of order.
func SortTrack(pts []models.Position) []models.Position {
	out := make([]models.Position, len(pts))
	copy(out, pts)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp < out[j].Timestamp })
	return out
}

// Current returns the latest presence record for each identity that
// has one. Identities with no record are simply absent from the map.
func (a *Aggregator) Current(ctx context.Context, identities []string) (map[string]models.PresenceRecord, error) {
	return a.Store.PresenceAll(ctx, identities)
}

// Track returns the re-sorted track for one identity. A nil result
// means no data was ever published for it.
func (a *Aggregator) Track(ctx context.Context, identity string) ([]models.Position, error) {
	pts, err := a.Store.Track(ctx, identity)
	if err != nil {
		return nil, err
	}
	if pts == nil {
		return nil, nil
	}
	return SortTrack(pts), nil
}

// Tracks returns re-sorted tracks for the given identities, or for
// every identity with a track when identities is empty (route view).
func (a *Aggregator) Tracks(ctx context.Context, identities []string) (map[string][]models.Position, error) {
	if len(identities) == 0 {
		var err error
		identities, err = a.Store.TrackIdentities(ctx)
		if err != nil {
			return nil, err
		}
	}
	out := make(map[string][]models.Position, len(identities))
	for _, id := range identities {
		pts, err := a.Store.Track(ctx, id)
		if err != nil {
			return nil, err
		}
		if pts == nil {
			continue
		}
		out[id] = SortTrack(pts)
	}
	return out, nil
}

// Subscribe streams full snapshots of the watched identities. The
// first snapshot is delivered immediately; afterwards one is rebuilt
// whenever a relevant storage event arrives. Snapshots are always
// re-read from storage wholesale, so a full-collection replace at any
// point is indistinguishable from incremental updates. The returned
// cancel func stops the stream; no emission happens after it returns.
func (a *Aggregator) Subscribe(ctx context.Context, identities []string, mode Mode) (<-chan Snapshot, func()) {
	out := make(chan Snapshot, 1)
	events, cancelWatch := a.Store.Watch(ctx)
	subCtx, cancelCtx := context.WithCancel(ctx)

	watched := make(map[string]bool, len(identities))
	for _, id := range identities {
		watched[id] = true
	}

	emit := func() {
		snap, err := a.snapshot(subCtx, identities, mode)
		if err != nil {
			if subCtx.Err() == nil {
				a.Logger.Warn("snapshot rebuild failed", "error", err)
			}
			return
		}
		// replace any pending snapshot; subscribers only ever need
		// the latest view
		select {
		case out <- snap:
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- snap:
			default:
			}
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		emit()
		for {
			select {
			case <-subCtx.Done():
				return
			case ev, ok := <-events:
				if !ok {
					return
				}
				if !a.relevant(ev, watched, mode) {
					continue
				}
				emit()
			}
		}
	}()

	cancel := func() {
		cancelCtx()
		cancelWatch()
		<-done
	}
	return out, cancel
}

func (a *Aggregator) relevant(ev store.Event, watched map[string]bool, mode Mode) bool {
	switch ev.Type {
	case store.EventPresence:
		if mode != ModeCurrent {
			return false
		}
	case store.EventTrack:
		if mode != ModeTrack {
			return false
		}
	default:
		return false
	}
	if len(watched) == 0 {
		return true
	}
	return watched[ev.Identity]
}

func (a *Aggregator) snapshot(ctx context.Context, identities []string, mode Mode) (Snapshot, error) {
	switch mode {
	case ModeTrack:
		tracks, err := a.Tracks(ctx, identities)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Tracks: tracks}, nil
	default:
		recs, err := a.Current(ctx, identities)
		if err != nil {
			return Snapshot{}, err
		}
		return Snapshot{Presence: recs}, nil
	}
}
