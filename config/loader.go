package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix marks the environment variables read by Load.
	EnvPrefix = "BALER_"

	// DefaultInterBatchDelay is the pause between ingestion batches.
	DefaultInterBatchDelay = time.Second

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// ErrConfigTooLarge is returned for configuration files over 1MB.
var ErrConfigTooLarge = errors.New("config file too large")

// Load reads configuration from the YAML file at path, then overrides it
// with environment variables.
//
// Precedence (highest to lowest):
//  1. Environment variables (BALER_STORE_PATH, BALER_AI_PROVIDER, ...)
//  2. YAML file at path, when path is not empty
//  3. Defaults
//
// Variables map to keys by dropping the prefix and splitting on the first
// underscore:
//
//	BALER_INGEST_BATCH_SIZE -> ingest.batch_size
//	BALER_AI_GEMINI_MODEL   -> ai.gemini_model
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		content, err := readFile(path)
		if err != nil {
			return nil, err
		}
		if err := k.Load(rawbytes.Provider(content), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	applyDefaults(&cfg)
	// Zero is a meaningful delay, so the default only fills an absent key.
	if !k.Exists("ingest.inter_batch_delay") {
		cfg.Ingest.InterBatchDelay = Duration(DefaultInterBatchDelay)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	var cfg Config
	applyDefaults(&cfg)
	cfg.Ingest.InterBatchDelay = Duration(DefaultInterBatchDelay)
	return &cfg
}

// envKey maps BALER_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	section, field, ok := strings.Cut(lower, "_")
	if !ok {
		return lower
	}
	return section + "." + field
}

func readFile(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if info.Size() > maxConfigFileSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrConfigTooLarge, info.Size())
	}

	return io.ReadAll(f)
}
