package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/itsshri/NightSafe/internal/ingest"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/store"
)

var (
	msgsConsumed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_samples_consumed_total",
		Help: "Total position samples consumed",
	})
	msgsInvalid = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_samples_invalid_total",
		Help: "Total invalid messages received",
	})
	storeUpdates = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_updates_total",
		Help: "Total successful store updates",
	})
	storeErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "consumer_store_errors_total",
		Help: "Total store errors",
	})
)

func init() {
	prometheus.MustRegister(msgsConsumed, msgsInvalid, storeUpdates, storeErrors)
}

func main() {
	var metricsAddr string
	flag.StringVar(&metricsAddr, "metrics-addr", ":2112", "address to serve prometheus metrics on")
	flag.Parse()

	brokersEnv := os.Getenv("KAFKA_BROKERS")
	if brokersEnv == "" {
		brokersEnv = os.Getenv("KAFKA_BROKER")
	}
	brokers := []string{}
	if brokersEnv != "" {
		for _, b := range strings.Split(brokersEnv, ",") {
			if s := strings.TrimSpace(b); s != "" {
				brokers = append(brokers, s)
			}
		}
	} else {
		brokers = []string{"localhost:9092"}
	}

	topic := os.Getenv("KAFKA_TOPIC")
	if topic == "" {
		topic = "position-samples"
	}
	group := os.Getenv("KAFKA_GROUP")
	if group == "" {
		group = "nightsafe-consumer"
	}

	redisAddr := os.Getenv("REDIS_ADDR")
	if redisAddr == "" {
		redisAddr = "localhost:6379"
	}
	maxTrackPoints := 500
	rs := store.NewRedisStore(redisAddr, os.Getenv("REDIS_PASSWORD"), maxTrackPoints)

	// metrics and health server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) })
		mux.HandleFunc("/ready", func(w http.ResponseWriter, r *http.Request) {
			// readiness: check redis connectivity
			if err := rs.Ping(r.Context()); err != nil {
				http.Error(w, "redis not ready", 503)
				return
			}
			w.WriteHeader(200)
			w.Write([]byte("ready"))
		})
		log.Printf("metrics/health listening on %s", metricsAddr)
		if err := http.ListenAndServe(metricsAddr, mux); err != nil {
			log.Printf("metrics server stopped: %v", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	r := kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 10e3, MaxBytes: 10e6})
	defer func() {
		_ = r.Close()
		_ = rs.Close()
	}()

	log.Printf("consumer listening topic=%s brokers=%v group=%s", topic, brokers, group)

	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				log.Println("shutting down consumer")
				return
			}
			log.Printf("kafka read error: %v; backing off %s", err, backoff)
			time.Sleep(backoff)
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		// reset backoff on success
		backoff = time.Second

		msgsConsumed.Inc()

		var sample ingest.Sample
		if err := json.Unmarshal(m.Value, &sample); err != nil || sample.Identity == "" {
			msgsInvalid.Inc()
			log.Printf("invalid message: %v", err)
			continue
		}

		if err := updateStoreWithRetry(ctx, rs, sample, 3, 200*time.Millisecond); err != nil {
			storeErrors.Inc()
			log.Printf("store update failed for identity=%s: %v", sample.Identity, err)
			continue
		}
		storeUpdates.Inc()
	}
}

// StoreUpdater is the subset of store operations the consumer needs,
// small enough to fake in tests.
type StoreUpdater interface {
	AppendTrackPoint(ctx context.Context, identity string, p models.Position) error
	SetPresence(ctx context.Context, rec models.PresenceRecord) error
	SetTrackMeta(ctx context.Context, identity string, lastUpdated int64) error
}

// updateStoreWithRetry applies one sample: track append first, then
// the presence overwrite, then route meta. Each step retries on its
// own with backoff — the track append is not idempotent, so a
// succeeded step must never re-run when a later one fails.
func updateStoreWithRetry(ctx context.Context, su StoreUpdater, s ingest.Sample, attempts int, delay time.Duration) error {
	steps := []func() error{
		func() error { return su.AppendTrackPoint(ctx, s.Identity, s.Position) },
		func() error {
			return su.SetPresence(ctx, models.PresenceRecord{
				Identity: s.Identity, Lat: s.Position.Lat, Lng: s.Position.Lng, Timestamp: s.Position.Timestamp,
			})
		},
		func() error { return su.SetTrackMeta(ctx, s.Identity, s.Position.Timestamp) },
	}
	for _, step := range steps {
		if err := retryStep(step, attempts, delay); err != nil {
			return err
		}
	}
	return nil
}

func retryStep(step func() error, attempts int, delay time.Duration) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = step(); err == nil {
			return nil
		}
		if i < attempts-1 {
			time.Sleep(delay)
			delay *= 2
		}
	}
	return err
}
