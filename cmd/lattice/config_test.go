package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadConfig(t *testing.T) {
	t.Run("reads yaml defaults", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		cfgDir := filepath.Join(dir, "lattice")
		if err := os.MkdirAll(cfgDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		yaml := "beam_size: 12\nctc_weight: 0.4\nsearch_type: alsd\nserver_address: 0.0.0.0:9090\nlog_level: debug\n"
		if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte(yaml), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}

		cfg := LoadConfig()
		if cfg.BeamSize == nil || *cfg.BeamSize != 12 {
			t.Fatalf("beam_size: got %v, want 12", cfg.BeamSize)
		}
		if cfg.CTCWeight == nil || *cfg.CTCWeight != 0.4 {
			t.Fatalf("ctc_weight: got %v, want 0.4", cfg.CTCWeight)
		}
		if cfg.SearchType != "alsd" {
			t.Fatalf("search_type: got %q, want %q", cfg.SearchType, "alsd")
		}
		if cfg.ServerAddress != "0.0.0.0:9090" {
			t.Fatalf("server_address: got %q", cfg.ServerAddress)
		}
		if cfg.LogLevel != "debug" {
			t.Fatalf("log_level: got %q, want %q", cfg.LogLevel, "debug")
		}
		if cfg.NBest != nil {
			t.Fatalf("nbest: got %v, want nil", cfg.NBest)
		}
	})

	t.Run("missing file yields zero config", func(t *testing.T) {
		t.Setenv("XDG_CONFIG_HOME", t.TempDir())
		cfg := LoadConfig()
		if cfg.BeamSize != nil || cfg.SearchType != "" || cfg.ServerAddress != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("malformed file yields zero config", func(t *testing.T) {
		dir := t.TempDir()
		t.Setenv("XDG_CONFIG_HOME", dir)
		cfgDir := filepath.Join(dir, "lattice")
		if err := os.MkdirAll(cfgDir, 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(filepath.Join(cfgDir, "config.yaml"), []byte("beam_size: ["), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg := LoadConfig()
		if cfg.BeamSize != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})
}

func TestConfigPathUsesUserConfigDir(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)
	want := filepath.Join(dir, "lattice", "config.yaml")
	if got := configPath(); got != want {
		t.Fatalf("configPath: got %q, want %q", got, want)
	}
}
