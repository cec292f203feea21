package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if cfg.PtpmServerConnectTimeoutMs != 300000 ||
		cfg.PtpmConnectRequestIntervalMs != 10000 ||
		cfg.PtpmConnectTimeoutMs != 300000 ||
		cfg.HTTPPort != 5980 ||
		cfg.UDPPort != 5990 {
		t.Fatalf("defaults = %#v", cfg)
	}

	if cfg.CaptureTimeout() != 5*time.Minute {
		t.Fatalf("capture timeout = %v", cfg.CaptureTimeout())
	}
	if cfg.ReminderInterval() != 10*time.Second {
		t.Fatalf("reminder interval = %v", cfg.ReminderInterval())
	}
	if cfg.ConnectTimeout() != 5*time.Minute {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout())
	}
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orion.yaml")
	raw := "httpPort: 8080\nptpmConnectRequestIntervalMs: 2500\n"
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("httpPort = %d", cfg.HTTPPort)
	}
	if cfg.ReminderInterval() != 2500*time.Millisecond {
		t.Fatalf("reminder interval = %v", cfg.ReminderInterval())
	}
	// Unset options keep their defaults.
	if cfg.UDPPort != 5990 {
		t.Fatalf("udpPort = %d", cfg.UDPPort)
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "orion.yaml")
	if err := os.WriteFile(path, []byte("udpPort: 7000\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("ORION_UDP_PORT", "7100")
	t.Setenv("ORION_PTPM_CONNECT_TIMEOUT_MS", "60000")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.UDPPort != 7100 {
		t.Fatalf("udpPort = %d", cfg.UDPPort)
	}
	if cfg.ConnectTimeout() != time.Minute {
		t.Fatalf("connect timeout = %v", cfg.ConnectTimeout())
	}
}

func TestLoadErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("httpPort: [not an int\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("malformed yaml accepted")
	}

	t.Setenv("ORION_HTTP_PORT", "not-a-number")
	if _, err := Load(""); err == nil {
		t.Fatal("non-numeric env value accepted")
	}
}
