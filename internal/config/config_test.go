package config

import (
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AlertRetention != 48*time.Hour {
		t.Fatalf("retention = %v", cfg.AlertRetention)
	}
	if cfg.SweepInterval != time.Minute {
		t.Fatalf("sweep = %v", cfg.SweepInterval)
	}
	if cfg.MaxTrackPoints != 500 {
		t.Fatalf("max track points = %d", cfg.MaxTrackPoints)
	}
}

func TestLoadServerConfigOverrides(t *testing.T) {
	t.Setenv("ALERT_RETENTION", "24h")
	t.Setenv("EMERGENCY_CONTACTS", "+100, +200 ,")
	t.Setenv("MAX_TRACK_POINTS", "50")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.AlertRetention != 24*time.Hour {
		t.Fatalf("retention = %v", cfg.AlertRetention)
	}
	if len(cfg.EmergencyContacts) != 2 || cfg.EmergencyContacts[1] != "+200" {
		t.Fatalf("contacts = %v", cfg.EmergencyContacts)
	}
	if cfg.MaxTrackPoints != 50 {
		t.Fatalf("max track points = %d", cfg.MaxTrackPoints)
	}
}

func TestLoadServerConfigInvalid(t *testing.T) {
	t.Setenv("ALERT_SWEEP_INTERVAL", "soon")
	if _, err := LoadServerConfig(); err == nil {
		t.Fatal("expected error for bad duration")
	}
}
