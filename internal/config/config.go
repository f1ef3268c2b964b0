package config

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config struct for environment variables.
type Config struct {
	ParserBaseURL  string        `envconfig:"PARSER_BASE_URL" default:"http://localhost:8000"`
	ParsePath      string        `envconfig:"PARSE_PATH" default:"/parse"`
	RequestTimeout time.Duration `envconfig:"REQUEST_TIMEOUT" default:"2m"`

	DownloadDir      string `envconfig:"DOWNLOAD_DIR" required:"true"`
	StagingDir       string `envconfig:"STAGING_DIR"`
	MaxSniffParallel int    `envconfig:"MAX_SNIFF_PARALLEL" default:"4"`
	LogLevel         string `envconfig:"LOG_LEVEL" default:"INFO"`

	Telemetry struct {
		Enabled        bool   `split_words:"true" default:"true"`
		ServiceName    string `split_words:"true" default:"statement-uploader"`
		ServiceVersion string `split_words:"true" default:"dev"`
	}

	Web struct {
		BindAddress     string        `split_words:"true" default:"127.0.0.1:8080"`
		ReadTimeout     time.Duration `split_words:"true" default:"30s"`
		WriteTimeout    time.Duration `split_words:"true" default:"5m"`
		IdleTimeout     time.Duration `split_words:"true" default:"5s"`
		ShutdownTimeout time.Duration `split_words:"true" default:"30s"`
	}
}

// LoadConfig reads environment variables and populates the Config struct.
func LoadConfig() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("error processing env: %w", err)
	}

	if cfg.StagingDir == "" {
		cfg.StagingDir = os.TempDir()
	}

	return &cfg, nil
}

func (c *Config) SlogLevel() slog.Level {
	switch strings.ToUpper(c.LogLevel) {
	case "DEBUG":
		return slog.LevelDebug
	case "INFO":
		return slog.LevelInfo
	case "WARN":
		return slog.LevelWarn
	case "ERROR":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
