package config

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "EMA_LIVE_"

// Load builds the configuration from defaults, the YAML file at path (if
// path is non-empty), a .env file in the working directory and finally the
// EMA_LIVE_* environment variables.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("config: load .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("config: open %q: %w", path, err)
		}
		defer f.Close()

		if err := decode(f, cfg); err != nil {
			return nil, fmt.Errorf("config: parse %q: %w", path, err)
		}
	}

	if err := ApplyEnv(cfg, os.LookupEnv); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadFromReader decodes YAML from r on top of the defaults and validates
// the result. Environment variables are not consulted.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	if err := decode(r, cfg); err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func decode(r io.Reader, cfg *Config) error {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config: decode yaml: %w", err)
	}
	return nil
}

// ApplyEnv overrides cfg with EMA_LIVE_* variables found through lookup.
func ApplyEnv(cfg *Config, lookup func(key string) (string, bool)) error {
	var errs []error

	str := func(name string, target *string) {
		if value, ok := lookup(EnvPrefix + name); ok {
			*target = strings.TrimSpace(value)
		}
	}
	str("BACKEND_URL", &cfg.Backend.URL)
	str("SESSION_PATH", &cfg.Backend.SessionPath)
	str("RELAY_PATH", &cfg.Backend.RelayPath)
	str("SESSION_ID", &cfg.Session.ID)
	str("SESSION_STATE_FILE", &cfg.Session.StateFile)
	str("METRICS_ADDR", &cfg.Telemetry.MetricsAddr)
	str("SERVICE_NAME", &cfg.Telemetry.ServiceName)
	str("LOG_FILE", &cfg.Log.File)

	if value, ok := lookup(EnvPrefix + "AUDIO_BACKEND"); ok {
		cfg.Audio.Backend = AudioBackend(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup(EnvPrefix + "LOG_LEVEL"); ok {
		cfg.Log.Level = LogLevel(strings.ToLower(strings.TrimSpace(value)))
	}
	if value, ok := lookup(EnvPrefix + "AUDIO_BLOCK_SIZE"); ok {
		size, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sAUDIO_BLOCK_SIZE: %w", EnvPrefix, err))
		} else {
			cfg.Audio.BlockSize = size
		}
	}
	if value, ok := lookup(EnvPrefix + "HEALTH_INTERVAL"); ok {
		interval, err := time.ParseDuration(strings.TrimSpace(value))
		if err != nil {
			errs = append(errs, fmt.Errorf("%sHEALTH_INTERVAL: %w", EnvPrefix, err))
		} else {
			cfg.Backend.HealthInterval = interval
		}
	}

	return errors.Join(errs...)
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if u, err := url.Parse(cfg.Backend.URL); err != nil {
		errs = append(errs, fmt.Errorf("backend.url %q is invalid: %w", cfg.Backend.URL, err))
	} else if u.Scheme != "http" && u.Scheme != "https" {
		errs = append(errs, fmt.Errorf("backend.url %q must use http or https", cfg.Backend.URL))
	}
	if !strings.Contains(cfg.Backend.SessionPath, "{session_id}") {
		errs = append(errs, fmt.Errorf("backend.session_path %q must contain {session_id}", cfg.Backend.SessionPath))
	}
	if !strings.Contains(cfg.Backend.RelayPath, "{session_id}") {
		errs = append(errs, fmt.Errorf("backend.relay_path %q must contain {session_id}", cfg.Backend.RelayPath))
	}
	if cfg.Backend.HealthInterval < 0 {
		errs = append(errs, fmt.Errorf("backend.health_interval %s must not be negative", cfg.Backend.HealthInterval))
	}

	if !cfg.Audio.Backend.IsValid() {
		errs = append(errs, fmt.Errorf("audio.backend %q is invalid; valid values: miniaudio, portaudio, none", cfg.Audio.Backend))
	}
	if cfg.Audio.BlockSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.block_size %d must be positive", cfg.Audio.BlockSize))
	}
	if cfg.Audio.Backend == AudioPortaudio && cfg.Audio.BufferSize <= 0 {
		errs = append(errs, fmt.Errorf("audio.buffer_size %d must be positive for portaudio", cfg.Audio.BufferSize))
	}

	if !cfg.Log.Level.IsValid() {
		errs = append(errs, fmt.Errorf("log.level %q is invalid; valid values: debug, info, warn, error", cfg.Log.Level))
	}

	return errors.Join(errs...)
}
