package httpapi

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/itsshri/NightSafe/internal/alerts"
	"github.com/itsshri/NightSafe/internal/config"
	"github.com/itsshri/NightSafe/internal/dispatch"
	"github.com/itsshri/NightSafe/internal/hazard"
	"github.com/itsshri/NightSafe/internal/ingest"
	"github.com/itsshri/NightSafe/internal/logging"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/presence"
	"github.com/itsshri/NightSafe/internal/publisher"
	"github.com/itsshri/NightSafe/internal/sms"
	"github.com/itsshri/NightSafe/internal/storage"
	"github.com/itsshri/NightSafe/internal/store"
	"github.com/itsshri/NightSafe/internal/trust"
	"github.com/itsshri/NightSafe/internal/voice"
)

// Server wires every NightSafe component behind the HTTP API.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	store      store.Store
	publisher  *publisher.Publisher
	aggregator *presence.Aggregator
	alerts     *alerts.Manager
	sweeper    *alerts.Sweeper
	trust      *trust.Workflow
	detector   *voice.Detector
	hazards    *hazard.Index
	wsreg      *dispatch.WSRegistry
	kafka      *ingest.KafkaProducer
	mux        *mux.Router
	handler    http.Handler

	demoHandles []*publisher.Handle
	bridgeStop  func()
	sweepStop   context.CancelFunc
}

// NewServer assembles the server from explicit dependencies so tests
// can substitute fakes for the store and sensor source.
func NewServer(cfg config.ServerConfig, st store.Store, logger *slog.Logger) *Server {
	wsreg := dispatch.NewWSRegistry(logging.For(logger, "ws"))

	am := alerts.NewManager(st, logging.For(logger, "alerts"), cfg.AlertRetention)
	var notifiers dispatch.FanoutNotifier
	notifiers = append(notifiers, wsreg)
	if cfg.GuardianWebhook != "" {
		notifiers = append(notifiers, dispatch.NewWebhookNotifier(cfg.GuardianWebhook, logging.For(logger, "webhook")))
	}
	am.Notifier = notifiers

	var kp *ingest.KafkaProducer
	if len(cfg.KafkaBrokers) > 0 {
		kp = ingest.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
	}

	var src publisher.PositionSource
	if cfg.DemoCabs > 0 {
		src = publisher.NewSimSource(cfg.DemoCenterLat, cfg.DemoCenterLng)
	}
	pub := publisher.New(st, src, logging.For(logger, "publisher"))
	if kp != nil {
		pub.Sink = kp
	}

	var archive storage.TripArchive = storage.NewMemoryArchive()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresArchive(cfg.PGDSN)
		if err != nil {
			logger.Warn("postgres archive unavailable, keeping in-memory archive", "error", err)
		} else {
			archive = pg
		}
	}

	tw := trust.NewWorkflow(st, am, logging.For(logger, "trust"))
	tw.Archive = archive

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		store:      st,
		publisher:  pub,
		aggregator: presence.New(st, logging.For(logger, "presence")),
		alerts:     am,
		sweeper:    alerts.NewSweeper(am, cfg.SweepInterval),
		trust:      tw,
		wsreg:      wsreg,
		kafka:      kp,
		mux:        mux.NewRouter(),
	}
	s.detector = voice.NewDetector(cfg.VoiceCooldown, s.voiceSOS)

	if cfg.HazardFile != "" {
		zones, err := hazard.LoadFile(cfg.HazardFile)
		if err != nil {
			logger.Warn("hazard file load failed", "path", cfg.HazardFile, "error", err)
		} else if idx, err := hazard.NewIndex(zones); err != nil {
			logger.Warn("hazard index build failed", "error", err)
		} else {
			s.hazards = idx
		}
	}

	s.registerMiddleware()
	s.routes()
	s.handler = handlers.CORS(
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{"GET", "POST", "DELETE", "OPTIONS"}),
		handlers.AllowedHeaders([]string{"Content-Type", "X-Identity", "X-Request-ID"}),
	)(s.mux)
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/locations", s.handlePublishLocation).Methods("POST")
	api.HandleFunc("/presence", s.handlePresence).Methods("GET")
	api.HandleFunc("/presence/nearby", s.handleNearby).Methods("GET")
	api.HandleFunc("/routes", s.handleAllRoutes).Methods("GET")
	api.HandleFunc("/routes/{identity}", s.handleTrack).Methods("GET")
	api.HandleFunc("/routes/{identity}", s.handleDeleteTrack).Methods("DELETE")
	api.HandleFunc("/alerts", s.handleListAlerts).Methods("GET")
	api.HandleFunc("/alerts", s.handlePostAlert).Methods("POST")
	api.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods("DELETE")
	api.HandleFunc("/sos", s.handleSOS).Methods("POST")
	api.HandleFunc("/voice/transcript", s.handleVoiceTranscript).Methods("POST")
	api.HandleFunc("/cabs/verify", s.handleVerifyCab).Methods("POST")
	api.HandleFunc("/cabs/nearby", s.handleNearbyCabs).Methods("GET")
	api.HandleFunc("/trips", s.handleTripHistory).Methods("GET")
	api.HandleFunc("/trips/{id}/end", s.handleEndTrip).Methods("POST")
	api.HandleFunc("/trips/{id}/feedback", s.handleTripFeedback).Methods("POST")
	api.HandleFunc("/trips/{id}", s.handleDeleteTrip).Methods("DELETE")
	api.HandleFunc("/hazards", s.handleHazards).Methods("GET")

	s.mux.HandleFunc("/ws/{identity}", s.handleWS)
	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods("GET")
	s.mux.Handle("/metrics", promhttp.Handler())
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

// Start launches the background loops: the expiry sweep, the
// presence-to-websocket bridge, and demo cab publishers when
// configured. Stop tears all of them down.
func (s *Server) Start(ctx context.Context) {
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	s.sweepStop = cancelSweep
	go s.sweeper.Run(sweepCtx)

	events, cancelWatch := s.store.Watch(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range events {
			if ev.Type != store.EventPresence {
				continue
			}
			rec, ok, err := s.store.Presence(ctx, ev.Identity)
			if err != nil || !ok {
				continue
			}
			s.wsreg.NotifyPresence(rec)
		}
	}()
	s.bridgeStop = func() {
		cancelWatch()
		<-done
	}

	for i := 0; i < s.cfg.DemoCabs; i++ {
		id := fmt.Sprintf("cab:demo-%d", i+1)
		h, err := s.publisher.Start(ctx, id)
		if err != nil {
			s.logger.Warn("demo cab start failed", "identity", id, "error", err)
			continue
		}
		s.demoHandles = append(s.demoHandles, h)
	}
}

func (s *Server) Stop() {
	for _, h := range s.demoHandles {
		h.Stop()
	}
	s.publisher.StopAll()
	if s.sweepStop != nil {
		s.sweepStop()
	}
	if s.bridgeStop != nil {
		s.bridgeStop()
	}
	if s.kafka != nil {
		_ = s.kafka.Close()
	}
}

// voiceSOS runs when the detector fires: broadcast to the feed when a
// position is known, log otherwise. The SMS URI reaches the caller in
// the transcript response.
func (s *Server) voiceSOS(identity, transcript string) {
	ctx := context.Background()
	pos := s.knownPosition(ctx, identity)
	if _, err := s.alerts.BroadcastSOS(ctx, identity, pos); err != nil {
		s.logger.Warn("voice SOS broadcast failed", "identity", identity, "error", err)
	}
}

// knownPosition returns the identity's last presence as a position,
// or nil when none was ever published.
func (s *Server) knownPosition(ctx context.Context, identity string) *models.Position {
	rec, ok, err := s.store.Presence(ctx, identity)
	if err != nil || !ok {
		return nil
	}
	return &models.Position{Lat: rec.Lat, Lng: rec.Lng, Timestamp: rec.Timestamp}
}

// SMSURIFor composes the emergency SMS deep link for an identity.
func (s *Server) SMSURIFor(identity string, pos *models.Position) string {
	return sms.ComposeSMS(s.cfg.EmergencyContacts, sms.SOSBody(identity, pos))
}

func newID() string { b := make([]byte, 8); _, _ = rand.Read(b); return hex.EncodeToString(b) }
