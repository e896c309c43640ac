package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	_ "github.com/lib/pq"

	"github.com/itsshri/NightSafe/internal/config"
	httpapi "github.com/itsshri/NightSafe/internal/http"
	"github.com/itsshri/NightSafe/internal/logging"
	"github.com/itsshri/NightSafe/internal/models"
	"github.com/itsshri/NightSafe/internal/store"
	"github.com/itsshri/NightSafe/internal/trust"
)

func main() {
	cfg, err := config.LoadServerConfig()
	logger := logging.NewLogger(cfg.LogLevel)
	if err != nil {
		logger.Error("config load failed", "error", err)
		os.Exit(1)
	}

	var st store.Store
	if cfg.RedisAddr != "" {
		st = store.NewRedisStore(cfg.RedisAddr, cfg.RedisPassword, cfg.MaxTrackPoints)
	} else {
		logger.Warn("REDIS_ADDR not set, using in-memory store")
		st = store.NewMemoryStore(cfg.MaxTrackPoints)
	}
	defer st.Close()

	if cfg.PGDSN != "" && cfg.RunMigrations {
		runMigrations(cfg.PGDSN, logger)
	}

	if cfg.TrustedCabsFile != "" {
		seedRegistry(context.Background(), st, cfg.TrustedCabsFile, logger)
	}

	srv := httpapi.NewServer(cfg, st, logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	srv.Start(ctx)
	defer srv.Stop()

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		_ = httpSrv.Shutdown(shutdownCtx)
	}()

	logger.Info("nightsafe listening", "addr", cfg.HTTPAddr)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func runMigrations(dsn string, logger *slog.Logger) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		logger.Error("migration db open failed", "error", err)
		return
	}
	defer db.Close()
	b, err := os.ReadFile(filepath.Join("migrations", "001_create_trips.sql"))
	if err != nil {
		logger.Error("migration read failed", "error", err)
		return
	}
	if _, err := db.Exec(string(b)); err != nil {
		logger.Error("migration exec failed", "error", err)
	}
}

func seedRegistry(ctx context.Context, st store.Store, path string, logger *slog.Logger) {
	b, err := os.ReadFile(path)
	if err != nil {
		logger.Warn("trusted cabs seed read failed", "path", path, "error", err)
		return
	}
	var entries map[string]models.RegistryEntry
	if err := json.Unmarshal(b, &entries); err != nil {
		logger.Warn("trusted cabs seed parse failed", "path", path, "error", err)
		return
	}
	seeded := 0
	for raw, e := range entries {
		id, err := trust.NormalizeVehicleID(raw)
		if err != nil {
			continue
		}
		if err := st.PutRegistryEntry(ctx, id, e); err != nil {
			logger.Warn("trusted cab seed failed", "vehicle_id", id, "error", err)
			continue
		}
		seeded++
	}
	logger.Info("trusted cab registry seeded", "entries", seeded)
}
