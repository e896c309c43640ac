package alerts

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/store"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestManager(t *testing.T) (*Manager, *store.MemoryStore) {
	t.Helper()
	m := store.NewMemoryStore(0)
	mgr := NewManager(m, testLogger(), 48*time.Hour)
	return mgr, m
}

func TestPost_RequiresMessageAndPosition(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()
	pos := &models.Position{Lat: 10.93, Lng: 76.91, Timestamp: 1}

	if _, err := mgr.Post(ctx, "u1", "   ", pos); !errors.Is(err, nserr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for blank message, got %v", err)
	}
	if _, err := mgr.Post(ctx, "u1", "stay away from the bridge", nil); !errors.Is(err, nserr.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput for nil position, got %v", err)
	}

	a, err := mgr.Post(ctx, "u1", "stay away from the bridge", pos)
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != models.AlertUserPost || a.ID == "" || a.Lat == nil {
		t.Fatalf("unexpected alert %+v", a)
	}
}

func TestBroadcastSOS_MessageAndLocationGate(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	if _, err := mgr.BroadcastSOS(ctx, "u1", nil); !errors.Is(err, nserr.ErrLocationUnavailable) {
		t.Fatalf("expected ErrLocationUnavailable, got %v", err)
	}

	a, err := mgr.BroadcastSOS(ctx, "u1", &models.Position{Lat: 1, Lng: 2, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if a.Kind != models.AlertSOS {
		t.Fatalf("expected SOS kind, got %q", a.Kind)
	}
	if a.Message != "u1 triggered SOS" {
		t.Fatalf("unexpected message %q", a.Message)
	}
}

func TestCabWarning_CoordinatesOptional(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	a, err := mgr.CabWarning(ctx, "u1", "TN38AB1234", nil)
	if err != nil {
		t.Fatal(err)
	}
	if a.Message != "Unverified cab boarded: TN38AB1234" {
		t.Fatalf("unexpected message %q", a.Message)
	}
	if a.Lat != nil || a.Lng != nil {
		t.Fatalf("expected nil coordinates, got %+v", a)
	}
}

func TestDelete_OwnershipEnforced(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	a, err := mgr.Post(ctx, "owner", "watch out", &models.Position{Lat: 1, Lng: 2, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}

	if err := mgr.Delete(ctx, a.ID, "stranger"); !errors.Is(err, nserr.ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if err := mgr.Delete(ctx, a.ID, "owner"); err != nil {
		t.Fatal(err)
	}
	if err := mgr.Delete(ctx, a.ID, "owner"); !errors.Is(err, nserr.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}
}

func TestRecent_FiltersRetentionWindow(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	now := time.Now()
	mgr.Now = func() time.Time { return now }

	fresh := now.Add(-time.Hour).UnixMilli()
	stale := now.Add(-49 * time.Hour).UnixMilli()
	_, _ = st.AppendAlert(ctx, models.Alert{AuthorID: "u1", Kind: models.AlertUserPost, Message: "fresh", Timestamp: fresh})
	_, _ = st.AppendAlert(ctx, models.Alert{AuthorID: "u1", Kind: models.AlertUserPost, Message: "stale", Timestamp: stale})

	feed, err := mgr.Recent(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(feed) != 1 || feed[0].Message != "fresh" {
		t.Fatalf("expected only the fresh alert, got %+v", feed)
	}
}

func TestSweepOnce_HardDeletesExpiredIdempotently(t *testing.T) {
	mgr, st := newTestManager(t)
	ctx := context.Background()

	now := time.Now()
	mgr.Now = func() time.Time { return now }

	_, _ = st.AppendAlert(ctx, models.Alert{AuthorID: "u1", Message: "stale", Timestamp: now.Add(-50 * time.Hour).UnixMilli()})
	kept, _ := st.AppendAlert(ctx, models.Alert{AuthorID: "u1", Message: "fresh", Timestamp: now.UnixMilli()})

	sw := NewSweeper(mgr, time.Minute)
	sw.SweepOnce(ctx)
	sw.SweepOnce(ctx) // second sweep is a no-op

	all, err := st.Alerts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 1 || all[0].ID != kept.ID {
		t.Fatalf("expected only the fresh alert to survive, got %+v", all)
	}
}

type recordingNotifier struct {
	got []models.Alert
}

func (r *recordingNotifier) NotifyAlert(a models.Alert) { r.got = append(r.got, a) }

func TestPost_NotifiesOutOfBand(t *testing.T) {
	mgr, _ := newTestManager(t)
	n := &recordingNotifier{}
	mgr.Notifier = n
	ctx := context.Background()

	a, err := mgr.Post(ctx, "u1", "hello", &models.Position{Lat: 1, Lng: 2, Timestamp: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(n.got) != 1 || n.got[0].ID != a.ID {
		t.Fatalf("expected one notification for %s, got %+v", a.ID, n.got)
	}
}

func TestSubscribe_StreamsFeedChanges(t *testing.T) {
	mgr, _ := newTestManager(t)
	ctx := context.Background()

	feeds, cancel := mgr.Subscribe(ctx)

	select {
	case feed := <-feeds:
		if len(feed) != 0 {
			t.Fatalf("expected empty initial feed, got %+v", feed)
		}
	case <-time.After(time.Second):
		t.Fatal("no initial feed")
	}

	if _, err := mgr.Post(ctx, "u1", "hello", &models.Position{Lat: 1, Lng: 2, Timestamp: 1}); err != nil {
		t.Fatal(err)
	}

	deadline := time.After(time.Second)
	for {
		select {
		case feed := <-feeds:
			if len(feed) == 1 {
				cancel()
				return
			}
		case <-deadline:
			t.Fatal("never observed updated feed")
		}
	}
}
