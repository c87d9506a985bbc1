package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `mqtt:
  broker: "tcp://localhost:1883"
  client_id: "surgecast"
  signal_topic: "surge/signals/#"
  use_tls: false
ingest:
  half_life_seconds: 120
  staleness_seconds: 300
surge:
  max_cap: 4.0
  tick_seconds: 10
forecast:
  confidence_cap: 90
  horizon_hours: 12
override:
  max_cap: 4.0
  default_ttl_minutes: 60
audit:
  backend: "sqlite"
  path: "audit.db"
api:
  addr: ":9000"
zones:
  - id: "downtown"
    name: "Downtown"
    kind: "downtown"
    lat: 36.373
    lng: -94.209
    radius_km: 2.0
  - id: "lax"
    name: "Airport"
    kind: "airport"
    lat: 36.385
    lng: -94.220
    radius_km: 1.0
    parent_id: "downtown"
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load error: %v", err)
	}
	checks := []struct {
		name string
		got  any
		want any
	}{
		{"broker", cfg.MQTT.Broker, "tcp://localhost:1883"},
		{"client_id", cfg.MQTT.ClientID, "surgecast"},
		{"signal_topic", cfg.MQTT.SignalTopic, "surge/signals/#"},
		{"half_life", cfg.Ingest.HalfLifeSeconds, 120},
		{"staleness", cfg.Ingest.StalenessSeconds, 300},
		{"queue_size_default", cfg.Ingest.QueueSize, 256},
		{"max_cap", cfg.Surge.MaxCap, 4.0},
		{"tick", cfg.Surge.TickSeconds, 10},
		{"confidence_cap", cfg.Forecast.ConfidenceCap, 90.0},
		{"horizon", cfg.Forecast.HorizonHours, 12},
		{"override_ttl", cfg.Override.DefaultTTLMinutes, 60},
		{"audit_backend", cfg.Audit.Backend, "sqlite"},
		{"api_addr", cfg.API.Addr, ":9000"},
		{"zones", len(cfg.Zones), 2},
		{"zone_parent", cfg.Zones[1].ParentID, "downtown"},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s mismatch: %v", c.name, c.got)
		}
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	data := `surge:
  max_cap: 0.5
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected validation error for max_cap below 1.0")
	}
}

func TestLoadUnsupportedFormat(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	if err := os.WriteFile(path, []byte("x = 1"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatalf("expected unsupported format error")
	}
}
