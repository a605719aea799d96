// Package config holds the settings of the ema-live client: where the agent
// backend lives, which audio backend to use and how to report telemetry.
package config

import (
	"log/slog"
	"time"
)

// LogLevel controls log verbosity.
type LogLevel string

const (
	LogDebug LogLevel = "debug"
	LogInfo  LogLevel = "info"
	LogWarn  LogLevel = "warn"
	LogError LogLevel = "error"
)

// IsValid reports whether l is a recognised log level.
func (l LogLevel) IsValid() bool {
	switch l {
	case LogDebug, LogInfo, LogWarn, LogError:
		return true
	}
	return false
}

// Slog maps l onto a slog level. Unknown levels map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	}
	return slog.LevelInfo
}

// AudioBackend selects the native audio library.
type AudioBackend string

const (
	AudioMiniaudio AudioBackend = "miniaudio"
	AudioPortaudio AudioBackend = "portaudio"
	// AudioNone runs text-only, without microphone or speaker.
	AudioNone AudioBackend = "none"
)

func (b AudioBackend) IsValid() bool {
	switch b {
	case AudioMiniaudio, AudioPortaudio, AudioNone:
		return true
	}
	return false
}

// Config is the root configuration structure. It is typically loaded with
// [Load] and always starts from [Default].
type Config struct {
	Backend   BackendConfig   `yaml:"backend"`
	Session   SessionConfig   `yaml:"session"`
	Audio     AudioConfig     `yaml:"audio"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	Log       LogConfig       `yaml:"log"`
}

// BackendConfig locates the agent backend.
type BackendConfig struct {
	// URL is the HTTP(S) base of the backend. Duplex connections use the
	// matching ws(s) scheme.
	URL string `yaml:"url"`

	// SessionPath is the conversation connection path. Must contain
	// {session_id}.
	SessionPath string `yaml:"session_path"`

	// RelayPath is the call monitoring connection path. Must contain
	// {session_id}.
	RelayPath string `yaml:"relay_path"`

	// HealthInterval is how often /health is polled. Zero disables polling.
	HealthInterval time.Duration `yaml:"health_interval"`
}

type SessionConfig struct {
	// ID pins the session id. When empty the id stored in StateFile is
	// reused, or a new one is generated.
	ID string `yaml:"id"`

	// StateFile persists the session id between runs. Empty disables
	// persistence.
	StateFile string `yaml:"state_file"`
}

type AudioConfig struct {
	Backend AudioBackend `yaml:"backend"`

	// BlockSize is the number of 16 kHz samples per outbound frame.
	BlockSize int `yaml:"block_size"`

	// BufferSize is the portaudio callback buffer in frames.
	BufferSize int `yaml:"buffer_size"`
}

type TelemetryConfig struct {
	ServiceName string `yaml:"service_name"`

	// MetricsAddr serves Prometheus metrics on /metrics when set, e.g.
	// ":9464".
	MetricsAddr string `yaml:"metrics_addr"`
}

type LogConfig struct {
	Level LogLevel `yaml:"level"`

	// File receives log output while the terminal UI owns the screen.
	File string `yaml:"file"`
}

// Default returns a configuration that talks to a backend on localhost.
func Default() *Config {
	return &Config{
		Backend: BackendConfig{
			URL:            "http://localhost:8000",
			SessionPath:    "/ws/{session_id}",
			RelayPath:      "/relay/{session_id}",
			HealthInterval: 30 * time.Second,
		},
		Session: SessionConfig{
			StateFile: ".ema-live-session",
		},
		Audio: AudioConfig{
			Backend:    AudioMiniaudio,
			BlockSize:  1024,
			BufferSize: 512,
		},
		Telemetry: TelemetryConfig{
			ServiceName: "ema-live",
		},
		Log: LogConfig{
			Level: LogInfo,
			File:  "ema-live.log",
		},
	}
}
