package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures all tunable parameters for the NightSafe API
// process. Values are loaded from environment variables with sane
// defaults so the binary can run locally without excessive setup.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	RedisAddr     string
	RedisPassword string

	KafkaBrokers []string
	KafkaTopic   string

	PGDSN         string
	RunMigrations bool

	// Alert feed
	AlertRetention time.Duration
	SweepInterval  time.Duration

	// Tracks
	MaxTrackPoints int

	// Nearby queries
	NearbyRadiusM float64
	NearbyLimit   int

	// Voice SOS
	VoiceCooldown time.Duration

	// Comma-separated numbers the SOS SMS composer targets.
	EmergencyContacts []string

	// Optional guardian webhook notified on every SOS/CAB_WARNING.
	GuardianWebhook string

	AllowedOrigins []string

	HazardFile string

	// Optional JSON seed of the trusted-cab registry for local runs;
	// in production, curation happens out of band.
	TrustedCabsFile string

	// Synthetic cabs published around the demo center, for the
	// nearby-cabs view without real devices.
	DemoCabs      int
	DemoCenterLat float64
	DemoCenterLng float64

	LogLevel string
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:          ":8080",
		ReadTimeout:       5 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
		ShutdownTimeout:   15 * time.Second,
		KafkaTopic:        "position-samples",
		AlertRetention:    48 * time.Hour,
		SweepInterval:     time.Minute,
		MaxTrackPoints:    500,
		NearbyRadiusM:     5000,
		NearbyLimit:       20,
		VoiceCooldown:     30 * time.Second,
		EmergencyContacts: []string{"+911234567890", "+919876543210"},
		AllowedOrigins:    []string{"*"},
		DemoCenterLat:     10.9343,
		DemoCenterLng:     76.9175,
		LogLevel:          "info",
	}
}

func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	cfg.PGDSN = os.Getenv("PG_DSN")
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	setDurationFromEnv(&cfg.AlertRetention, "ALERT_RETENTION", &errs)
	setDurationFromEnv(&cfg.SweepInterval, "ALERT_SWEEP_INTERVAL", &errs)
	setIntFromEnv(&cfg.MaxTrackPoints, "MAX_TRACK_POINTS", &errs)
	setFloatFromEnv(&cfg.NearbyRadiusM, "NEARBY_RADIUS_M", &errs)
	setIntFromEnv(&cfg.NearbyLimit, "NEARBY_LIMIT", &errs)
	setDurationFromEnv(&cfg.VoiceCooldown, "VOICE_COOLDOWN", &errs)

	if contacts := os.Getenv("EMERGENCY_CONTACTS"); contacts != "" {
		cfg.EmergencyContacts = splitAndTrim(contacts)
	}
	cfg.GuardianWebhook = strings.TrimSpace(os.Getenv("GUARDIAN_WEBHOOK"))
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = splitAndTrim(origins)
	}
	setStringFromEnv(&cfg.HazardFile, "HAZARD_FILE")
	setStringFromEnv(&cfg.TrustedCabsFile, "TRUSTED_CABS_FILE")
	setIntFromEnv(&cfg.DemoCabs, "DEMO_CABS", &errs)
	setFloatFromEnv(&cfg.DemoCenterLat, "DEMO_CENTER_LAT", &errs)
	setFloatFromEnv(&cfg.DemoCenterLng, "DEMO_CENTER_LNG", &errs)

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}

	if cfg.AlertRetention <= 0 {
		errs = append(errs, fmt.Errorf("ALERT_RETENTION must be > 0"))
	}
	if cfg.SweepInterval <= 0 {
		errs = append(errs, fmt.Errorf("ALERT_SWEEP_INTERVAL must be > 0"))
	}
	if cfg.NearbyLimit <= 0 {
		errs = append(errs, fmt.Errorf("NEARBY_LIMIT must be > 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setIntFromEnv(target *int, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		i, err := strconv.Atoi(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = i
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
