package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/itsshri/NightSafe/internal/config"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/store"
)

func newTestServer(t *testing.T) (*Server, *store.MemoryStore) {
	t.Helper()
	// pin the knobs a developer shell might have exported
	for _, key := range []string{"KAFKA_BROKERS", "REDIS_ADDR", "PG_DSN", "GUARDIAN_WEBHOOK", "HAZARD_FILE", "DEMO_CABS"} {
		t.Setenv(key, "")
	}
	cfg, err := config.LoadServerConfig()
	if err != nil {
		t.Fatal(err)
	}
	st := store.NewMemoryStore(cfg.MaxTrackPoints)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return NewServer(cfg, st, logger), st
}

func doJSON(t *testing.T, s *Server, method, path, identity string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rd = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rd)
	if identity != "" {
		req.Header.Set("X-Identity", identity)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	if err := json.NewDecoder(rec.Body).Decode(v); err != nil {
		t.Fatalf("decode response: %v", err)
	}
}

func TestPublishAndPresenceRoundTrip(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/locations", "", map[string]any{
		"identity": "u1", "lat": 10.9343, "lng": 76.9175, "ts": 1700000000000,
	})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("publish: got %d body=%s", rec.Code, rec.Body)
	}

	rec = doJSON(t, s, "GET", "/api/v1/presence?ids=u1,ghost", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("presence: got %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Presence map[string]models.PresenceRecord `json:"presence"`
	}
	decode(t, rec, &resp)
	if resp.Presence["u1"].Lat != 10.9343 {
		t.Fatalf("unexpected presence %+v", resp.Presence)
	}
	if _, ok := resp.Presence["ghost"]; ok {
		t.Fatal("identity with no data must be absent")
	}

	rec = doJSON(t, s, "GET", "/api/v1/presence", "", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without ids, got %d", rec.Code)
	}
}

func TestTrackEndpointReportsLength(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()

	// out of order on purpose
	_ = st.AppendTrackPoint(ctx, "u1", models.Position{Lat: 2, Timestamp: 200})
	_ = st.AppendTrackPoint(ctx, "u1", models.Position{Lat: 1, Timestamp: 100})

	rec := doJSON(t, s, "GET", "/api/v1/routes/u1", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Points []models.Position `json:"points"`
		Length int               `json:"length"`
	}
	decode(t, rec, &resp)
	if resp.Length != 2 || resp.Points[0].Timestamp != 100 {
		t.Fatalf("expected sorted 2-point track, got %+v", resp)
	}
}

func TestDeleteTrack_OwnOnly(t *testing.T) {
	s, st := newTestServer(t)
	_ = st.AppendTrackPoint(context.Background(), "u1", models.Position{Timestamp: 1})

	rec := doJSON(t, s, "DELETE", "/api/v1/routes/u1", "intruder", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, s, "DELETE", "/api/v1/routes/u1", "u1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d body=%s", rec.Code, rec.Body)
	}
}

func TestAlertLifecycleOverHTTP(t *testing.T) {
	s, _ := newTestServer(t)

	rec := doJSON(t, s, "POST", "/api/v1/alerts", "u1", map[string]any{
		"msg": "broken streetlight", "lat": 10.93, "lng": 76.91,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("post: got %d body=%s", rec.Code, rec.Body)
	}
	var created models.Alert
	decode(t, rec, &created)
	if created.ID == "" || created.Kind != models.AlertUserPost {
		t.Fatalf("unexpected alert %+v", created)
	}

	// missing position is refused
	rec = doJSON(t, s, "POST", "/api/v1/alerts", "u1", map[string]any{"msg": "no location"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}

	// stranger cannot delete
	rec = doJSON(t, s, "DELETE", "/api/v1/alerts/"+created.ID, "stranger", nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
	rec = doJSON(t, s, "DELETE", "/api/v1/alerts/"+created.ID, "u1", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rec.Code)
	}
}

func TestSOS_AlwaysReturnsSMSURI(t *testing.T) {
	s, _ := newTestServer(t)

	// no known position at all: feed refuses, SMS still composes
	rec := doJSON(t, s, "POST", "/api/v1/sos", "u1", map[string]any{})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["posted"] != false {
		t.Fatalf("expected posted=false, got %+v", resp)
	}
	uri, _ := resp["sms_uri"].(string)
	if !strings.HasPrefix(uri, "sms:") || !strings.Contains(uri, "body=") {
		t.Fatalf("unexpected sms uri %q", uri)
	}

	// with a position the alert posts
	rec = doJSON(t, s, "POST", "/api/v1/sos", "u1", map[string]any{"lat": 10.93, "lng": 76.91})
	decode(t, rec, &resp)
	if resp["posted"] != true {
		t.Fatalf("expected posted=true, got %+v", resp)
	}
}

func TestVerifyCabOverHTTP(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	_ = st.PutRegistryEntry(ctx, "TN38AB1234", models.RegistryEntry{DriverName: "Ravi", Company: "SafeCabs", Rating: "4.8", Phone: "+911111111111"})

	rec := doJSON(t, s, "POST", "/api/v1/cabs/verify", "rider1", map[string]any{"vehicle_id": "tn-38-ab-1234"})
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body)
	}
	var resp map[string]any
	decode(t, rec, &resp)
	out := resp["outcome"].(map[string]any)
	if out["trusted"] != true {
		t.Fatalf("expected trusted outcome, got %+v", resp)
	}
	if _, ok := resp["whatsapp_uri"]; !ok {
		t.Fatal("trusted verification should include a whatsapp share")
	}

	rec = doJSON(t, s, "POST", "/api/v1/cabs/verify", "rider1", map[string]any{"vehicle_id": "ka-01-zz-9999"})
	decode(t, rec, &resp)
	out = resp["outcome"].(map[string]any)
	if out["trusted"] != false {
		t.Fatalf("expected untrusted outcome, got %+v", resp)
	}
	if _, ok := resp["sms_uri"]; !ok {
		t.Fatal("untrusted verification should include the warning sms uri")
	}
}

func TestVoiceTranscriptFiresOnce(t *testing.T) {
	s, st := newTestServer(t)
	_ = st.SetPresence(context.Background(), models.PresenceRecord{Identity: "u1", Lat: 10.93, Lng: 76.91, Timestamp: 1})

	rec := doJSON(t, s, "POST", "/api/v1/voice/transcript", "u1", map[string]any{"transcript": "someone help me"})
	var resp map[string]any
	decode(t, rec, &resp)
	if resp["triggered"] != true {
		t.Fatalf("expected trigger, got %+v", resp)
	}
	if _, ok := resp["sms_uri"]; !ok {
		t.Fatal("expected sms uri on trigger")
	}

	// inside the cooldown window the same identity does not re-fire
	rec = doJSON(t, s, "POST", "/api/v1/voice/transcript", "u1", map[string]any{"transcript": "help me again"})
	decode(t, rec, &resp)
	if resp["triggered"] != false {
		t.Fatalf("expected cooldown suppression, got %+v", resp)
	}
}

func TestTripHistoryDefaultsToFive(t *testing.T) {
	s, st := newTestServer(t)
	ctx := context.Background()
	for i := 0; i < 7; i++ {
		_, _ = st.AppendTrip(ctx, models.Trip{Identity: "u1", VehicleID: "X", StartTime: int64(i)})
	}

	rec := doJSON(t, s, "GET", "/api/v1/trips", "u1", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d body=%s", rec.Code, rec.Body)
	}
	var resp struct {
		Trips []models.Trip `json:"trips"`
	}
	decode(t, rec, &resp)
	if len(resp.Trips) != 5 || resp.Trips[0].StartTime != 6 {
		t.Fatalf("expected 5 newest-first trips, got %+v", resp.Trips)
	}
}

func TestCORSHeadersApplied(t *testing.T) {
	s, _ := newTestServer(t)

	req := httptest.NewRequest("GET", "/healthz", nil)
	req.Header.Set("Origin", "https://app.example.com")
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("missing CORS header, got %q", rec.Header().Get("Access-Control-Allow-Origin"))
	}

	// preflight for a custom header route
	req = httptest.NewRequest("OPTIONS", "/api/v1/alerts", nil)
	req.Header.Set("Origin", "https://app.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	req.Header.Set("Access-Control-Request-Headers", "X-Identity")
	rec = httptest.NewRecorder()
	s.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("preflight: got %d", rec.Code)
	}
	if !strings.Contains(rec.Header().Get("Access-Control-Allow-Headers"), "X-Identity") {
		t.Fatalf("preflight headers missing X-Identity: %q", rec.Header().Get("Access-Control-Allow-Headers"))
	}
}

func TestHealthz(t *testing.T) {
	s, _ := newTestServer(t)
	rec := doJSON(t, s, "GET", "/healthz", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("got %d", rec.Code)
	}
}

func TestServerStartStop(t *testing.T) {
	s, st := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.Start(ctx)
	_ = st.SetPresence(ctx, models.PresenceRecord{Identity: "u1", Lat: 1, Timestamp: 1})
	time.Sleep(20 * time.Millisecond)
	s.Stop()
}
