// Package config loads image-edit settings from the environment and
// optional dotenv files.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// DotenvFiles are read, in order, before the environment is parsed.
// Variables already set in the process environment win.
var DotenvFiles = []string{".env", ".env.local"}

// Config is the full runtime configuration.
type Config struct {
	APIKey            string `env:"GEMINI_API_KEY"`
	Model             string `env:"GEMINI_IMAGE_MODEL" envDefault:"gemini-3-pro-image-preview"`
	ValidationModel   string `env:"GEMINI_VALIDATION_MODEL" envDefault:"gemini-2.5-flash-lite"`
	SystemInstruction string `env:"IMAGE_EDIT_SYSTEM_INSTRUCTION"`

	LogLevel string `env:"IMAGE_EDIT_LOG_LEVEL" envDefault:"info"`
	Metrics  bool   `env:"IMAGE_EDIT_METRICS"`

	OutputDir string `env:"IMAGE_EDIT_OUTPUT_DIR" envDefault:"."`
	S3Bucket  string `env:"IMAGE_EDIT_S3_BUCKET"`
	S3Prefix  string `env:"IMAGE_EDIT_S3_PREFIX" envDefault:"edits"`

	PreviewMaxDimension int           `env:"IMAGE_EDIT_PREVIEW_MAX_DIMENSION" envDefault:"1024"`
	PreviewMaxPixels    int64         `env:"IMAGE_EDIT_PREVIEW_MAX_PIXELS" envDefault:"64000000"`
	MaxImageBytes       int64         `env:"IMAGE_EDIT_MAX_IMAGE_BYTES" envDefault:"20971520"`
	FetchTimeout        time.Duration `env:"IMAGE_EDIT_FETCH_TIMEOUT" envDefault:"30s"`
	EditTimeout         time.Duration `env:"IMAGE_EDIT_EDIT_TIMEOUT" envDefault:"120s"`
	HistorySize         int           `env:"IMAGE_EDIT_HISTORY_SIZE" envDefault:"5"`
}

// Load reads the dotenv files that exist, then parses the environment.
func Load() (Config, error) {
	for _, f := range DotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load %s: %w", f, err)
		}
	}
	return Parse()
}

// Parse builds a Config from the process environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate rejects values no component can run with.
func (c Config) Validate() error {
	var errs []error
	if c.Model == "" {
		errs = append(errs, errors.New("GEMINI_IMAGE_MODEL must not be empty"))
	}
	if c.PreviewMaxDimension < 1 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_PREVIEW_MAX_DIMENSION must be positive, got %d", c.PreviewMaxDimension))
	}
	if c.PreviewMaxPixels < 1 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_PREVIEW_MAX_PIXELS must be positive, got %d", c.PreviewMaxPixels))
	}
	if c.MaxImageBytes < 1 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_MAX_IMAGE_BYTES must be positive, got %d", c.MaxImageBytes))
	}
	if c.FetchTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_FETCH_TIMEOUT must be positive, got %s", c.FetchTimeout))
	}
	if c.EditTimeout <= 0 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_EDIT_TIMEOUT must be positive, got %s", c.EditTimeout))
	}
	if c.HistorySize < 1 {
		errs = append(errs, fmt.Errorf("IMAGE_EDIT_HISTORY_SIZE must be positive, got %d", c.HistorySize))
	}
	return errors.Join(errs...)
}
