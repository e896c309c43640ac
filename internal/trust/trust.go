// Package trust implements the cab verification workflow: normalize a
// vehicle identifier, look it up in the curated registry, and drive
// the trusted or untrusted side-effect pipeline.
package trust

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/itsshri/NightSafe/internal/alerts"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/observability"
	"github.com/itsshri/NightSafe/internal/storage"
	"github.com/itsshri/NightSafe/internal/store"
)

// placeholderDriver fills the driver snapshot on the untrusted path.
var placeholderDriver = models.RegistryEntry{
	DriverName: "Unknown",
	Company:    "Unregistered",
	Rating:     "N/A",
	Phone:      "N/A",
}

// Outcome is the result of one verification.
type Outcome struct {
	Trusted    bool                 `json:"trusted"`
	VehicleID  string               `json:"vehicle_id"`
	TripID     string               `json:"trip_id"`
	DriverInfo models.RegistryEntry `json:"driver_info,omitempty"`
	Alert      *models.Alert        `json:"alert,omitempty"`
}

type Workflow struct {
	Store   store.Store
	Alerts  *alerts.Manager
	Logger  *slog.Logger
	Cache   *registryCache      // optional
	Archive storage.TripArchive // optional durable mirror
	Now     func() time.Time
}

func NewWorkflow(st store.Store, am *alerts.Manager, logger *slog.Logger) *Workflow {
	return &Workflow{
		Store:  st,
		Alerts: am,
		Logger: logger,
		Cache:  newRegistryCache(5 * time.Minute),
		Now:    time.Now,
	}
}

// archiveTrip mirrors a trip into the durable archive. Archive
// failures never fail the caller's request.
func (w *Workflow) archiveTrip(t models.Trip, update bool) {
	if w.Archive == nil {
		return
	}
	var err error
	if update {
		err = w.Archive.UpdateTrip(&t)
	} else {
		err = w.Archive.SaveTrip(&t)
	}
	if err != nil {
		w.Logger.Error("trip archive write failed", "trip_id", t.ID, "error", err)
	}
}

// NormalizeVehicleID strips every non-alphanumeric rune and
// uppercases the rest, so "tn-38-ab-1234" and "TN38AB1234" look up the
// same registry row.
func NormalizeVehicleID(raw string) (string, error) {
	var b strings.Builder
	for _, r := range raw {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r)
		case r >= 'a' && r <= 'z':
			b.WriteRune(r - 'a' + 'A')
		}
	}
	if b.Len() == 0 {
		return "", fmt.Errorf("%w: empty vehicle identifier", nserr.ErrInvalidInput)
	}
	return b.String(), nil
}

// Verify runs the workflow. The untrusted path performs two writes
// (trip + warning alert) with no atomicity between them; each outcome
// is logged on its own and a failure of one never rolls back the
// other.
func (w *Workflow) Verify(ctx context.Context, rawID, requesterID string, pos *models.Position) (Outcome, error) {
	id, err := NormalizeVehicleID(rawID)
	if err != nil {
		return Outcome{}, err
	}

	entry, found, err := w.lookup(ctx, id)
	if err != nil {
		return Outcome{}, err
	}

	if found {
		trip, err := w.Store.AppendTrip(ctx, models.Trip{
			Identity:  requesterID,
			VehicleID: id,
			Verified:  true,
			StartTime: w.Now().UnixMilli(),
			Status:    models.TripActive,
			Driver:    entry,
		})
		if err != nil {
			return Outcome{}, err
		}
		w.archiveTrip(trip, false)
		observability.CabVerifications.WithLabelValues("trusted").Inc()
		w.Logger.Info("cab verified", "vehicle_id", id, "requester", requesterID, "trip_id", trip.ID)
		return Outcome{Trusted: true, VehicleID: id, TripID: trip.ID, DriverInfo: entry}, nil
	}

	out := Outcome{Trusted: false, VehicleID: id}

	trip, tripErr := w.Store.AppendTrip(ctx, models.Trip{
		Identity:  requesterID,
		VehicleID: id,
		Verified:  false,
		StartTime: w.Now().UnixMilli(),
		Status:    models.TripUnverified,
		Driver:    placeholderDriver,
	})
	if tripErr != nil {
		w.Logger.Error("unverified trip write failed", "vehicle_id", id, "requester", requesterID, "error", tripErr)
	} else {
		out.TripID = trip.ID
		w.archiveTrip(trip, false)
	}

	alert, alertErr := w.Alerts.CabWarning(ctx, requesterID, id, pos)
	if alertErr != nil {
		w.Logger.Error("cab warning alert failed", "vehicle_id", id, "requester", requesterID, "error", alertErr)
	} else {
		out.Alert = &alert
	}

	observability.CabVerifications.WithLabelValues("untrusted").Inc()
	if tripErr != nil && alertErr != nil {
		return Outcome{}, tripErr
	}
	return out, nil
}

func (w *Workflow) lookup(ctx context.Context, id string) (models.RegistryEntry, bool, error) {
	if w.Cache != nil {
		if e, ok := w.Cache.Get(id); ok {
			return e, true, nil
		}
	}
	e, found, err := w.Store.RegistryEntry(ctx, id)
	if err != nil {
		return models.RegistryEntry{}, false, err
	}
	if found && w.Cache != nil {
		w.Cache.Set(id, e)
	}
	return e, found, nil
}

// EndTrip marks the requester's trip completed. Idempotent: ending an
// already-completed trip is a no-op.
func (w *Workflow) EndTrip(ctx context.Context, tripID, requesterID string) error {
	t, ok, err := w.Store.Trip(ctx, requesterID, tripID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: trip %s", nserr.ErrNotFound, tripID)
	}
	if t.Status == models.TripCompleted {
		return nil
	}
	if err := w.Store.SetTripStatus(ctx, requesterID, tripID, models.TripCompleted); err != nil {
		return err
	}
	t.Status = models.TripCompleted
	w.archiveTrip(t, true)
	return nil
}

// SubmitFeedback records rider feedback once the trip is no longer
// active. Last write wins; there is no feedback history.
func (w *Workflow) SubmitFeedback(ctx context.Context, tripID, requesterID, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return fmt.Errorf("%w: empty feedback", nserr.ErrInvalidInput)
	}
	t, ok, err := w.Store.Trip(ctx, requesterID, tripID)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: trip %s", nserr.ErrNotFound, tripID)
	}
	if t.Status == models.TripActive {
		return fmt.Errorf("%w: trip still active", nserr.ErrInvalidInput)
	}
	if err := w.Store.SetTripFeedback(ctx, requesterID, tripID, value); err != nil {
		return err
	}
	t.Feedback = value
	w.archiveTrip(t, true)
	return nil
}

// History returns the requester's most recent trips, newest first.
func (w *Workflow) History(ctx context.Context, requesterID string, limit int) ([]models.Trip, error) {
	return w.Store.Trips(ctx, requesterID, limit)
}

// DeleteTrip removes one of the requester's own trips. Trips are
// partitioned per identity, so ownership is implicit in the lookup.
func (w *Workflow) DeleteTrip(ctx context.Context, tripID, requesterID string) error {
	return w.Store.DeleteTrip(ctx, requesterID, tripID)
}
