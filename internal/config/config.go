package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Storage struct {
		DataDir         string `yaml:"data_dir"`
		Database        string `yaml:"database"`
		MaxUploadSizeMB int    `yaml:"max_upload_size_mb"`
		IngestDir       string `yaml:"ingest_dir"`
	} `yaml:"storage"`

	Pipeline struct {
		Engine  string `yaml:"engine"` // "whisper" or "demo"
		Whisper struct {
			Model   string `yaml:"model"`
			Threads int    `yaml:"threads"`
		} `yaml:"whisper"`
		Clips struct {
			MinSeconds float64 `yaml:"min_seconds"`
			MaxSeconds float64 `yaml:"max_seconds"`
			MaxClips   int     `yaml:"max_clips"`
		} `yaml:"clips"`
		Render struct {
			Width  int `yaml:"width"`
			Height int `yaml:"height"`
		} `yaml:"render"`
	} `yaml:"pipeline"`

	Timeouts struct {
		TranscribeMinutes int `yaml:"transcribe_minutes"`
		FindClipsSeconds  int `yaml:"find_clips_seconds"`
		ProcessMinutes    int `yaml:"process_minutes"`
	} `yaml:"timeouts"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	TokenValidation struct {
		Endpoint string `yaml:"endpoint"`
	} `yaml:"token_validation"`
}

// Default returns a configuration with working defaults for every section.
func Default() *Config {
	cfg := &Config{}
	cfg.Server.Host = "0.0.0.0"
	cfg.Server.Port = 8501
	cfg.Storage.DataDir = "data"
	cfg.Storage.Database = filepath.Join("data", "clipforge.db")
	cfg.Storage.MaxUploadSizeMB = 100
	cfg.Pipeline.Engine = "whisper"
	cfg.Pipeline.Whisper.Model = "small"
	cfg.Pipeline.Whisper.Threads = 4
	cfg.Pipeline.Clips.MinSeconds = 10
	cfg.Pipeline.Clips.MaxSeconds = 60
	cfg.Pipeline.Clips.MaxClips = 10
	cfg.Pipeline.Render.Width = 1080
	cfg.Pipeline.Render.Height = 1920
	cfg.Timeouts.TranscribeMinutes = 30
	cfg.Timeouts.FindClipsSeconds = 60
	cfg.Timeouts.ProcessMinutes = 10
	cfg.Cleanup.IntervalMinutes = 60
	cfg.Cleanup.MaxAgeHours = 24
	cfg.GoogleDrive.FolderName = "ClipForge"
	cfg.TokenValidation.Endpoint = "https://huggingface.co/api/models/pyannote/speaker-diarization-3.0"
	return cfg
}

// Load reads a YAML configuration file over the defaults.
// A missing file is not an error; defaults are returned.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks values that would otherwise fail at an awkward time.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Storage.MaxUploadSizeMB <= 0 {
		return fmt.Errorf("max_upload_size_mb must be positive, got %d", c.Storage.MaxUploadSizeMB)
	}
	if c.Pipeline.Engine != "whisper" && c.Pipeline.Engine != "demo" {
		return fmt.Errorf("unknown pipeline engine: %q", c.Pipeline.Engine)
	}
	if c.Pipeline.Clips.MinSeconds <= 0 || c.Pipeline.Clips.MaxSeconds <= c.Pipeline.Clips.MinSeconds {
		return fmt.Errorf("clip bounds invalid: min=%.1f max=%.1f",
			c.Pipeline.Clips.MinSeconds, c.Pipeline.Clips.MaxSeconds)
	}
	if c.Timeouts.TranscribeMinutes <= 0 || c.Timeouts.FindClipsSeconds <= 0 || c.Timeouts.ProcessMinutes <= 0 {
		return fmt.Errorf("stage timeouts must be positive")
	}
	return nil
}

// MaxUploadBytes returns the upload size limit in bytes.
func (c *Config) MaxUploadBytes() int64 {
	return int64(c.Storage.MaxUploadSizeMB) * 1024 * 1024
}
