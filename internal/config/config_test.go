package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 8501 {
		t.Errorf("port = %d, want 8501", cfg.Server.Port)
	}
	if cfg.Storage.MaxUploadSizeMB != 100 {
		t.Errorf("max upload = %d, want 100", cfg.Storage.MaxUploadSizeMB)
	}
	if cfg.Pipeline.Engine != "whisper" {
		t.Errorf("engine = %q, want whisper", cfg.Pipeline.Engine)
	}
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9000
storage:
  max_upload_size_mb: 10
pipeline:
  engine: demo
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.Port != 9000 {
		t.Errorf("port = %d, want 9000", cfg.Server.Port)
	}
	if got := cfg.MaxUploadBytes(); got != 10*1024*1024 {
		t.Errorf("MaxUploadBytes = %d, want %d", got, 10*1024*1024)
	}
	if cfg.Pipeline.Engine != "demo" {
		t.Errorf("engine = %q, want demo", cfg.Pipeline.Engine)
	}
	// Untouched sections keep defaults.
	if cfg.Cleanup.MaxAgeHours != 24 {
		t.Errorf("max age = %d, want 24", cfg.Cleanup.MaxAgeHours)
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"zero port", func(c *Config) { c.Server.Port = 0 }},
		{"negative upload limit", func(c *Config) { c.Storage.MaxUploadSizeMB = -1 }},
		{"unknown engine", func(c *Config) { c.Pipeline.Engine = "carrier-pigeon" }},
		{"inverted clip bounds", func(c *Config) { c.Pipeline.Clips.MaxSeconds = 1 }},
		{"zero timeout", func(c *Config) { c.Timeouts.ProcessMinutes = 0 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			tc.mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}
