// Package alerts manages the globally shared community alert feed:
// posting, SOS broadcast, owner-only deletion, 48h retention and the
// periodic hard-delete sweep.
package alerts

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/observability"
	"github.com/itsshri/NightSafe/internal/store"
)

// Notifier pushes a newly created alert to an out-of-band channel
// (guardian webhook, websocket fan-out). Best-effort.
type Notifier interface {
	NotifyAlert(a models.Alert)
}

type Manager struct {
	Store     store.Store
	Logger    *slog.Logger
	Retention time.Duration
	Notifier  Notifier // optional
	Now       func() time.Time
}

func NewManager(st store.Store, logger *slog.Logger, retention time.Duration) *Manager {
	return &Manager{Store: st, Logger: logger, Retention: retention, Now: time.Now}
}

func (m *Manager) now() time.Time {
	if m.Now != nil {
		return m.Now()
	}
	return time.Now()
}

// Post appends a USER_POST alert. Both a message and a known position
// are required.
func (m *Manager) Post(ctx context.Context, authorID, message string, pos *models.Position) (models.Alert, error) {
	message = strings.TrimSpace(message)
	if message == "" {
		return models.Alert{}, fmt.Errorf("%w: empty message", nserr.ErrInvalidInput)
	}
	if pos == nil {
		return models.Alert{}, fmt.Errorf("%w: position unknown", nserr.ErrInvalidInput)
	}
	a := models.Alert{
		AuthorID:  authorID,
		Kind:      models.AlertUserPost,
		Message:   message,
		Lat:       &pos.Lat,
		Lng:       &pos.Lng,
		Timestamp: m.now().UnixMilli(),
	}
	return m.append(ctx, a)
}

// BroadcastSOS appends an SOS alert with an auto-generated message.
// A location-less SOS is not posted to the feed; the SMS side channel
// still fires independently at the caller.
func (m *Manager) BroadcastSOS(ctx context.Context, authorID string, pos *models.Position) (models.Alert, error) {
	if pos == nil {
		return models.Alert{}, fmt.Errorf("%w: SOS requires a position", nserr.ErrLocationUnavailable)
	}
	a := models.Alert{
		AuthorID:  authorID,
		Kind:      models.AlertSOS,
		Message:   fmt.Sprintf("%s triggered SOS", authorID),
		Lat:       &pos.Lat,
		Lng:       &pos.Lng,
		Timestamp: m.now().UnixMilli(),
	}
	alert, err := m.append(ctx, a)
	if err == nil {
		observability.SOSTriggered.Inc()
	}
	return alert, err
}

// CabWarning appends a CAB_WARNING alert on behalf of the trust
// workflow. Coordinates may be unknown.
func (m *Manager) CabWarning(ctx context.Context, authorID, vehicleID string, pos *models.Position) (models.Alert, error) {
	a := models.Alert{
		AuthorID:  authorID,
		Kind:      models.AlertCabWarning,
		Message:   fmt.Sprintf("Unverified cab boarded: %s", vehicleID),
		Timestamp: m.now().UnixMilli(),
	}
	if pos != nil {
		a.Lat, a.Lng = &pos.Lat, &pos.Lng
	}
	return m.append(ctx, a)
}

func (m *Manager) append(ctx context.Context, a models.Alert) (models.Alert, error) {
	created, err := m.Store.AppendAlert(ctx, a)
	if err != nil {
		return models.Alert{}, err
	}
	observability.AlertsPosted.WithLabelValues(string(created.Kind)).Inc()
	if m.Notifier != nil {
		m.Notifier.NotifyAlert(created)
	}
	return created, nil
}

// Delete removes an alert. The manager is the ownership authority: a
// hidden delete button in a UI is no protection, so the author check
// happens here regardless of the caller.
func (m *Manager) Delete(ctx context.Context, alertID, requesterID string) error {
	a, ok, err := m.Store.Alert(ctx, alertID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: alert %s", nserr.ErrNotFound, alertID)
	}
	if a.AuthorID != requesterID {
		return fmt.Errorf("%w: alert %s belongs to %s", nserr.ErrPermissionDenied, alertID, a.AuthorID)
	}
	return m.Store.DeleteAlert(ctx, alertID)
}

// Recent returns the feed ascending by timestamp, filtered to the
// retention window.
func (m *Manager) Recent(ctx context.Context) ([]models.Alert, error) {
	all, err := m.Store.Alerts(ctx)
	if err != nil {
		return nil, err
	}
	cutoff := m.now().Add(-m.Retention).UnixMilli()
	out := make([]models.Alert, 0, len(all))
	for _, a := range all {
		if a.Timestamp >= cutoff {
			out = append(out, a)
		}
	}
	return out, nil
}

// Subscribe streams the filtered, time-ordered feed: one slice
// immediately, then a fresh one on every alert change. Cancel stops
// the stream and guarantees no emission afterwards.
func (m *Manager) Subscribe(ctx context.Context) (<-chan []models.Alert, func()) {
	out := make(chan []models.Alert, 1)
	events, cancelWatch := m.Store.Watch(ctx)
	subCtx, cancelCtx := context.WithCancel(ctx)

	emit := func() {
		feed, err := m.Recent(subCtx)
		if err != nil {
			if subCtx.Err() == nil {
				m.Logger.Warn("alert feed refresh failed", "error", err)
			}
			return
		}
		select {
		case out <- feed:
		default:
			select {
			case <-out:
			default:
			}
			select {
			case out <- feed:
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
				if ev.Type != store.EventAlertAdded && ev.Type != store.EventAlertDeleted {
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
