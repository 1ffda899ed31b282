package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server struct {
		Port int    `yaml:"port"`
		Host string `yaml:"host"`
	} `yaml:"server"`

	Whisper struct {
		Python      string `yaml:"python"`
		Model       string `yaml:"model"`
		Device      string `yaml:"device"`
		ComputeType string `yaml:"compute_type"`
		Threads     int    `yaml:"threads"`
		Language    string `yaml:"language"`
		BeamSize    int    `yaml:"beam_size"`
	} `yaml:"whisper"`

	FFmpeg struct {
		FFmpegPath  string `yaml:"ffmpeg_path"`
		FFprobePath string `yaml:"ffprobe_path"`
	} `yaml:"ffmpeg"`

	OpenAI struct {
		APIKey  string `yaml:"api_key"`
		BaseURL string `yaml:"base_url"`
		Model   string `yaml:"model"`
	} `yaml:"openai"`

	Workers struct {
		Count     int `yaml:"count"`
		QueueSize int `yaml:"queue_size"`
	} `yaml:"workers"`

	Storage struct {
		UploadDir string `yaml:"upload_dir"`
		OutputDir string `yaml:"output_dir"`
		Database  string `yaml:"database"`
	} `yaml:"storage"`

	Cleanup struct {
		IntervalMinutes int `yaml:"interval_minutes"`
		MaxAgeHours     int `yaml:"max_age_hours"`
	} `yaml:"cleanup"`

	GoogleDrive struct {
		CredentialsFile string `yaml:"credentials_file"`
		TokenFile       string `yaml:"token_file"`
		FolderName      string `yaml:"folder_name"`
	} `yaml:"google_drive"`

	S3 struct {
		Bucket string `yaml:"bucket"`
		Prefix string `yaml:"prefix"`
		Region string `yaml:"region"`
	} `yaml:"s3"`

	Watch struct {
		InboxDir       string `yaml:"inbox_dir"`
		AutoTranscribe bool   `yaml:"auto_transcribe"`
	} `yaml:"watch"`

	Limits struct {
		MaxFileSizeMB int `yaml:"max_file_size_mb"`
	} `yaml:"limits"`
}

// Load reads a YAML file, fills defaults and applies environment overrides.
// A missing file yields the default configuration.
func Load(path string) (*Config, error) {
	var cfg Config

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	if key := getenv("OPENAI_API_KEY"); key != "" {
		c.OpenAI.APIKey = key
	}
	if strings.EqualFold(getenv("USE_GPU"), "true") {
		c.Whisper.Device = "cuda"
		c.Whisper.ComputeType = "float16"
	}
}

func (c *Config) applyDefaults() {
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}

	if c.Whisper.Python == "" {
		c.Whisper.Python = "python3"
	}
	if c.Whisper.Model == "" {
		c.Whisper.Model = "large-v3"
	}
	if c.Whisper.Device == "" {
		c.Whisper.Device = "cpu"
	}
	if c.Whisper.ComputeType == "" {
		if c.Whisper.Device == "cuda" {
			c.Whisper.ComputeType = "float16"
		} else {
			c.Whisper.ComputeType = "int8"
		}
	}
	if c.Whisper.Language == "" {
		c.Whisper.Language = "tr"
	}
	if c.Whisper.BeamSize == 0 {
		c.Whisper.BeamSize = 5
	}

	if c.OpenAI.Model == "" {
		c.OpenAI.Model = "gpt-5-nano"
	}

	if c.Workers.Count == 0 {
		c.Workers.Count = 1
	}
	if c.Workers.QueueSize == 0 {
		c.Workers.QueueSize = 100
	}

	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = "./uploads"
	}
	if c.Storage.OutputDir == "" {
		c.Storage.OutputDir = "./output"
	}
	if c.Storage.Database == "" {
		c.Storage.Database = "./voice_analyzer.db"
	}

	if c.Cleanup.IntervalMinutes == 0 {
		c.Cleanup.IntervalMinutes = 30
	}
	if c.Cleanup.MaxAgeHours == 0 {
		c.Cleanup.MaxAgeHours = 6
	}

	if c.GoogleDrive.FolderName == "" {
		c.GoogleDrive.FolderName = "Call Transcripts"
	}

	if c.Limits.MaxFileSizeMB == 0 {
		c.Limits.MaxFileSizeMB = 500
	}
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var result *multierror.Error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		result = multierror.Append(result, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	switch c.Whisper.Device {
	case "cpu", "cuda", "auto":
	default:
		result = multierror.Append(result, fmt.Errorf("whisper.device %q must be cpu, cuda or auto", c.Whisper.Device))
	}
	if c.Whisper.Threads < 0 {
		result = multierror.Append(result, fmt.Errorf("whisper.threads must not be negative"))
	}
	if c.Whisper.BeamSize < 1 {
		result = multierror.Append(result, fmt.Errorf("whisper.beam_size must be positive"))
	}
	if c.Workers.Count < 1 {
		result = multierror.Append(result, fmt.Errorf("workers.count must be positive"))
	}
	if c.Workers.QueueSize < 1 {
		result = multierror.Append(result, fmt.Errorf("workers.queue_size must be positive"))
	}
	if c.Cleanup.IntervalMinutes < 1 {
		result = multierror.Append(result, fmt.Errorf("cleanup.interval_minutes must be positive"))
	}
	if c.Cleanup.MaxAgeHours < 1 {
		result = multierror.Append(result, fmt.Errorf("cleanup.max_age_hours must be positive"))
	}
	if c.Limits.MaxFileSizeMB < 1 {
		result = multierror.Append(result, fmt.Errorf("limits.max_file_size_mb must be positive"))
	}

	return result.ErrorOrNil()
}

// Addr is the listen address of the HTTP server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}
