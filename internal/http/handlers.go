package httpapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/nserr"
	"github.com/itsshri/NightSafe/internal/sms"
)

// identityFrom reads the caller identity. Auth proper is outside this
// service; the header is what the gateway forwards.
func identityFrom(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Identity"))
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps the error taxonomy to HTTP statuses with a
// specific, immediate message.
func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, nserr.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, nserr.ErrPermissionDenied):
		status = http.StatusForbidden
	case errors.Is(err, nserr.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, nserr.ErrLocationUnavailable):
		status = http.StatusConflict
	case errors.Is(err, nserr.ErrUnavailable):
		status = http.StatusServiceUnavailable
	case errors.Is(err, nserr.ErrStorageFailure):
		status = http.StatusBadGateway
	}
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

type locationRequest struct {
	Identity string  `json:"identity"`
	Lat      float64 `json:"lat"`
	Lng      float64 `json:"lng"`
	Ts       int64   `json:"ts"`
}

func (s *Server) handlePublishLocation(w http.ResponseWriter, r *http.Request) {
	var req locationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.publisher.PublishOnce(r.Context(), req.Identity, models.Position{
		Lat: req.Lat, Lng: req.Lng, Timestamp: req.Ts,
	}); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	ids := splitIDs(r.URL.Query().Get("ids"))
	if len(ids) == 0 {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("ids query parameter required")))
		return
	}
	recs, err := s.aggregator.Current(r.Context(), ids)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"presence": recs})
}

func (s *Server) handleNearby(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := latLngQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.store.Nearby(r.Context(), lat, lng, s.cfg.NearbyRadiusM, s.cfg.NearbyLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"nearby": recs})
}

func (s *Server) handleAllRoutes(w http.ResponseWriter, r *http.Request) {
	tracks, err := s.aggregator.Tracks(r.Context(), nil)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"routes": tracks})
}

func (s *Server) handleTrack(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	track, err := s.aggregator.Track(r.Context(), identity)
	if err != nil {
		s.writeError(w, err)
		return
	}
	// length lets the drawing layer apply its no-line-under-2-points
	// rule; nil points means no data was ever published.
	s.writeJSON(w, http.StatusOK, map[string]any{
		"identity": identity,
		"points":   track,
		"length":   len(track),
	})
}

func (s *Server) handleDeleteTrack(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	if identityFrom(r) != identity {
		s.writeError(w, nserr.ErrPermissionDenied)
		return
	}
	if err := s.store.DeleteTrack(r.Context(), identity); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	feed, err := s.alerts.Recent(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"alerts": feed})
}

type postAlertRequest struct {
	Message string   `json:"msg"`
	Lat     *float64 `json:"lat"`
	Lng     *float64 `json:"lng"`
}

func (s *Server) handlePostAlert(w http.ResponseWriter, r *http.Request) {
	author := identityFrom(r)
	if author == "" {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("X-Identity header required")))
		return
	}
	var req postAlertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var pos *models.Position
	if req.Lat != nil && req.Lng != nil {
		pos = &models.Position{Lat: *req.Lat, Lng: *req.Lng}
	}
	a, err := s.alerts.Post(r.Context(), author, req.Message, pos)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, a)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	requester := identityFrom(r)
	if err := s.alerts.Delete(r.Context(), mux.Vars(r)["id"], requester); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type sosRequest struct {
	Lat *float64 `json:"lat"`
	Lng *float64 `json:"lng"`
}

// handleSOS broadcasts to the community feed and always returns the
// SMS composer URI. A location-less SOS is refused by the feed but the
// SMS side channel still fires.
func (s *Server) handleSOS(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity == "" {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("X-Identity header required")))
		return
	}
	var req sosRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req)
	}
	var pos *models.Position
	if req.Lat != nil && req.Lng != nil {
		pos = &models.Position{Lat: *req.Lat, Lng: *req.Lng}
	} else {
		pos = s.knownPosition(r.Context(), identity)
	}

	resp := map[string]any{
		"sms_uri":      s.SMSURIFor(identity, pos),
		"whatsapp_uri": sms.ComposeWhatsApp(sms.SOSBody(identity, pos)),
	}
	a, err := s.alerts.BroadcastSOS(r.Context(), identity, pos)
	switch {
	case err == nil:
		resp["alert"] = a
		resp["posted"] = true
	case errors.Is(err, nserr.ErrLocationUnavailable):
		resp["posted"] = false
		resp["reason"] = err.Error()
	default:
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type transcriptRequest struct {
	Transcript string `json:"transcript"`
}

func (s *Server) handleVoiceTranscript(w http.ResponseWriter, r *http.Request) {
	identity := identityFrom(r)
	if identity == "" {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("X-Identity header required")))
		return
	}
	var req transcriptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fired := s.detector.Feed(identity, req.Transcript)
	resp := map[string]any{"triggered": fired}
	if fired {
		resp["sms_uri"] = s.SMSURIFor(identity, s.knownPosition(r.Context(), identity))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type verifyRequest struct {
	VehicleID string   `json:"vehicle_id"`
	Lat       *float64 `json:"lat"`
	Lng       *float64 `json:"lng"`
}

func (s *Server) handleVerifyCab(w http.ResponseWriter, r *http.Request) {
	requester := identityFrom(r)
	if requester == "" {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("X-Identity header required")))
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	var pos *models.Position
	if req.Lat != nil && req.Lng != nil {
		pos = &models.Position{Lat: *req.Lat, Lng: *req.Lng}
	} else {
		pos = s.knownPosition(r.Context(), requester)
	}
	out, err := s.trust.Verify(r.Context(), req.VehicleID, requester, pos)
	if err != nil {
		s.writeError(w, err)
		return
	}
	resp := map[string]any{"outcome": out}
	if out.Trusted {
		resp["whatsapp_uri"] = sms.ComposeWhatsApp(sms.CabShareText(out.VehicleID, out.DriverInfo, pos))
	} else {
		resp["sms_uri"] = sms.ComposeSMS(s.cfg.EmergencyContacts, sms.UnverifiedCabBody(requester, out.VehicleID))
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleNearbyCabs(w http.ResponseWriter, r *http.Request) {
	lat, lng, err := latLngQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	recs, err := s.store.Nearby(r.Context(), lat, lng, s.cfg.NearbyRadiusM, s.cfg.NearbyLimit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	cabs := recs[:0]
	for _, rec := range recs {
		if strings.HasPrefix(rec.Identity, "cab:") {
			cabs = append(cabs, rec)
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"cabs": cabs})
}

func (s *Server) handleTripHistory(w http.ResponseWriter, r *http.Request) {
	requester := identityFrom(r)
	if requester == "" {
		s.writeError(w, errors.Join(nserr.ErrInvalidInput, errors.New("X-Identity header required")))
		return
	}
	limit := 5
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	trips, err := s.trust.History(r.Context(), requester, limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"trips": trips})
}

func (s *Server) handleEndTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.trust.EndTrip(r.Context(), mux.Vars(r)["id"], identityFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type feedbackRequest struct {
	Value string `json:"value"`
}

func (s *Server) handleTripFeedback(w http.ResponseWriter, r *http.Request) {
	var req feedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := s.trust.SubmitFeedback(r.Context(), mux.Vars(r)["id"], identityFrom(r), req.Value); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDeleteTrip(w http.ResponseWriter, r *http.Request) {
	if err := s.trust.DeleteTrip(r.Context(), mux.Vars(r)["id"], identityFrom(r)); err != nil {
		s.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleHazards(w http.ResponseWriter, r *http.Request) {
	if s.hazards == nil {
		s.writeJSON(w, http.StatusOK, map[string]any{"hazards": []any{}})
		return
	}
	lat, lng, err := latLngQuery(r)
	if err != nil {
		s.writeError(w, err)
		return
	}
	radius := s.cfg.NearbyRadiusM
	if v := r.URL.Query().Get("radius"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			radius = f
		}
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"hazards": s.hazards.Nearby(lat, lng, radius)})
}

var upgrader = websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	identity := mux.Vars(r)["identity"]
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		http.Error(w, "upgrade failed", http.StatusBadRequest)
		return
	}
	s.wsreg.Add(identity, conn)
	// reader loop only to observe close; watchers receive, not send
	go func() {
		defer s.wsreg.Remove(identity, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}

func splitIDs(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func latLngQuery(r *http.Request) (float64, float64, error) {
	lat, err1 := strconv.ParseFloat(r.URL.Query().Get("lat"), 64)
	lng, err2 := strconv.ParseFloat(r.URL.Query().Get("lng"), 64)
	if err1 != nil || err2 != nil {
		return 0, 0, errors.Join(nserr.ErrInvalidInput, errors.New("lat and lng query parameters required"))
	}
	return lat, lng, nil
}
