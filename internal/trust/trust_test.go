package trust

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itsshri/NightSafe/internal/alerts"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/storage"
	"github.com/itsshri/NightSafe/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestWorkflow(t *testing.T) (*Workflow, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore(0)
	am := alerts.NewManager(st, testLogger(), 48*time.Hour)
	return NewWorkflow(st, am, testLogger()), st
}

func TestNormalizeVehicleID(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"tn-38-ab-1234", "TN38AB1234"},
		{"TN38AB1234", "TN38AB1234"},
		{"tn 38 ab 1234", "TN38AB1234"},
		{"Tn.38/Ab_1234", "TN38AB1234"},
	}
	for _, c := range cases {
		got, err := NormalizeVehicleID(c.in)
		if err != nil {
			t.Fatalf("%q: %v", c.in, err)
		}
		if got != c.want {
			t.Fatalf("%q: got %q want %q", c.in, got, c.want)
		}
	}

	// idempotence: normalizing twice changes nothing
	once, _ := NormalizeVehicleID("tn-38-ab-1234")
	twice, _ := NormalizeVehicleID(once)
	if once != twice {
		t.Fatalf("normalization not idempotent: %q vs %q", once, twice)
	}

	if _, err := NormalizeVehicleID("---"); !errors.Is(err, nserr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for empty result, got %v", err)
	}
}

func TestVerify_TrustedPath(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	entry := models.RegistryEntry{DriverName: "Ravi", Company: "SafeCabs", Rating: "4.8", Phone: "+911111111111"}
	_ = st.PutRegistryEntry(ctx, "TN38AB1234", entry)

	out, err := w.Verify(ctx, "tn-38-ab-1234", "rider1", &models.Position{Lat: 1, Lng: 2, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if !out.Trusted || out.VehicleID != "TN38AB1234" || out.TripID == "" {
		t.Fatalf("unexpected outcome %+v", out)
	}
	if out.DriverInfo != entry {
		t.Fatalf("expected registry driver info, got %+v", out.DriverInfo)
	}
	if out.Alert != nil {
		t.Fatal("trusted path must not raise an alert")
	}

	trip, ok, _ := st.Trip(ctx, "rider1", out.TripID)
	if !ok || !trip.Verified || trip.Status != models.TripActive {
		t.Fatalf("unexpected trip %+v", trip)
	}

	// no warning in the feed
	feed, _ := st.Alerts(ctx)
	if len(feed) != 0 {
		t.Fatalf("expected empty feed, got %+v", feed)
	}
}

func TestVerify_UntrustedPathDualSideEffects(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	out, err := w.Verify(ctx, "ka-01-zz-9999", "rider1", &models.Position{Lat: 1, Lng: 2, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if out.Trusted {
		t.Fatal("unknown vehicle must not be trusted")
	}
	if out.TripID == "" || out.Alert == nil {
		t.Fatalf("expected both trip and alert, got %+v", out)
	}

	trip, ok, _ := st.Trip(ctx, "rider1", out.TripID)
	if !ok || trip.Verified || trip.Status != models.TripUnverified {
		t.Fatalf("unexpected trip %+v", trip)
	}
	if trip.Driver != (models.RegistryEntry{DriverName: "Unknown", Company: "Unregistered", Rating: "N/A", Phone: "N/A"}) {
		t.Fatalf("expected placeholder driver, got %+v", trip.Driver)
	}

	feed, _ := st.Alerts(ctx)
	if len(feed) != 1 || feed[0].Kind != models.AlertCabWarning {
		t.Fatalf("expected exactly one cab warning, got %+v", feed)
	}
	if feed[0].Message != "Unverified cab boarded: KA01ZZ9999" {
		t.Fatalf("unexpected warning message %q", feed[0].Message)
	}
}

func TestVerify_RegistryCacheServesRepeatLookups(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	entry := models.RegistryEntry{DriverName: "Ravi", Company: "SafeCabs", Rating: "4.8", Phone: "+911111111111"}
	_ = st.PutRegistryEntry(ctx, "TN38AB1234", entry)

	if _, err := w.Verify(ctx, "TN38AB1234", "rider1", nil); err != nil {
		t.Fatal(err)
	}
	// the cached row answers even after the store row disappears
	_ = st.PutRegistryEntry(ctx, "TN38AB1234", models.RegistryEntry{})
	e, ok := w.Cache.Get("TN38AB1234")
	if !ok || e != entry {
		t.Fatalf("expected cached entry, got ok=%v %+v", ok, e)
	}
}

func TestEndTrip_Idempotent(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	_ = st.PutRegistryEntry(ctx, "TN38AB1234", models.RegistryEntry{DriverName: "Ravi"})
	out, err := w.Verify(ctx, "TN38AB1234", "rider1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.EndTrip(ctx, out.TripID, "rider1"); err != nil {
		t.Fatal(err)
	}
	if err := w.EndTrip(ctx, out.TripID, "rider1"); err != nil {
		t.Fatalf("second end must be a no-op, got %v", err)
	}
	trip, _, _ := st.Trip(ctx, "rider1", out.TripID)
	if trip.Status != models.TripCompleted {
		t.Fatalf("expected completed trip, got %+v", trip)
	}

	if err := w.EndTrip(ctx, "missing", "rider1"); !errors.Is(err, nserr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSubmitFeedback_RejectedWhileActiveThenOverwrites(t *testing.T) {
	w, st := newTestWorkflow(t)
	ctx := context.Background()

	_ = st.PutRegistryEntry(ctx, "TN38AB1234", models.RegistryEntry{DriverName: "Ravi"})
	out, err := w.Verify(ctx, "TN38AB1234", "rider1", nil)
	if err != nil {
		t.Fatal(err)
	}

	if err := w.SubmitFeedback(ctx, out.TripID, "rider1", "great"); !errors.Is(err, nserr.ErrInvalidInput) {
		t.Fatalf("expected rejection while active, got %v", err)
	}

	if err := w.EndTrip(ctx, out.TripID, "rider1"); err != nil {
		t.Fatal(err)
	}
	if err := w.SubmitFeedback(ctx, out.TripID, "rider1", "great"); err != nil {
		t.Fatal(err)
	}
	// last write wins
	if err := w.SubmitFeedback(ctx, out.TripID, "rider1", "actually mediocre"); err != nil {
		t.Fatal(err)
	}
	trip, _, _ := st.Trip(ctx, "rider1", out.TripID)
	if trip.Feedback != "actually mediocre" {
		t.Fatalf("expected overwritten feedback, got %q", trip.Feedback)
	}

	if err := w.SubmitFeedback(ctx, out.TripID, "rider1", "  "); !errors.Is(err, nserr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank feedback, got %v", err)
	}
}

func TestWorkflow_ArchiveMirrorsLifecycle(t *testing.T) {
	w, st := newTestWorkflow(t)
	arch := storage.NewMemoryArchive()
	w.Archive = arch
	ctx := context.Background()

	_ = st.PutRegistryEntry(ctx, "TN38AB1234", models.RegistryEntry{DriverName: "Ravi"})
	out, err := w.Verify(ctx, "TN38AB1234", "rider1", nil)
	if err != nil {
		t.Fatal(err)
	}

	archived, ok := arch.Get(out.TripID)
	if !ok || archived.Status != models.TripActive {
		t.Fatalf("expected archived active trip, got ok=%v %+v", ok, archived)
	}

	if err := w.EndTrip(ctx, out.TripID, "rider1"); err != nil {
		t.Fatal(err)
	}
	archived, _ = arch.Get(out.TripID)
	if archived.Status != models.TripCompleted {
		t.Fatalf("expected archive to follow completion, got %+v", archived)
	}

	if err := w.SubmitFeedback(ctx, out.TripID, "rider1", "good"); err != nil {
		t.Fatal(err)
	}
	archived, _ = arch.Get(out.TripID)
	if archived.Feedback != "good" {
		t.Fatalf("expected archive to carry feedback, got %+v", archived)
	}
}

func TestHistory_NewestFirstDefaultWindow(t *testing.T) {
	w, _ := newTestWorkflow(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		ts := int64(1000 + i)
		w.Now = func() time.Time { return time.UnixMilli(ts) }
		if _, err := w.Verify(ctx, "TN38AB1234", "rider1", nil); err != nil {
			t.Fatal(err)
		}
	}

	trips, err := w.History(ctx, "rider1", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(trips) != 2 {
		t.Fatalf("expected 2 trips, got %d", len(trips))
	}
	if trips[0].StartTime < trips[1].StartTime {
		t.Fatalf("expected newest first, got %+v", trips)
	}
}
