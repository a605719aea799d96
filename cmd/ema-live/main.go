// Command ema-live is a terminal client for a full-duplex voice agent: it
// streams the microphone to the agent and plays its answers back, stopping
// playback as soon as the user talks over it.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	tea "github.com/charmbracelet/bubbletea"

	orchestration "github.com/koscakluka/ema-live/core"
	"github.com/koscakluka/ema-live/core/audio/miniaudio"
	"github.com/koscakluka/ema-live/core/audio/portaudio"
	"github.com/koscakluka/ema-live/core/calls"
	"github.com/koscakluka/ema-live/core/capture"
	"github.com/koscakluka/ema-live/core/events"
	"github.com/koscakluka/ema-live/core/messages"
	"github.com/koscakluka/ema-live/core/session"
	"github.com/koscakluka/ema-live/internal/config"
	"github.com/koscakluka/ema-live/internal/observe"
)

var version = "dev"

type options struct {
	configPath  string
	sessionID   string
	phoneNumber string
	metricsAddr string
	printSchema bool
}

func main() {
	var opt options
	flag.StringVar(&opt.configPath, "config", "", "path to a YAML config file")
	flag.StringVar(&opt.sessionID, "session", "", "session id to resume (overrides config and stored id)")
	flag.StringVar(&opt.phoneNumber, "call", "", "place an outbound call to this number and monitor it")
	flag.StringVar(&opt.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address (overrides config)")
	flag.BoolVar(&opt.printSchema, "print-schema", false, "print the JSON schema of inbound messages and exit")
	flag.Parse()

	if err := run(opt); err != nil {
		fmt.Fprintf(os.Stderr, "ema-live: %v\n", err)
		os.Exit(1)
	}
}

func run(opt options) error {
	if opt.printSchema {
		schema, err := messages.Schema()
		if err != nil {
			return err
		}
		_, err = os.Stdout.Write(append(schema, '\n'))
		return err
	}

	cfg, err := config.Load(opt.configPath)
	if err != nil {
		return err
	}
	if opt.metricsAddr != "" {
		cfg.Telemetry.MetricsAddr = opt.metricsAddr
	}

	logFile, err := tea.LogToFile(cfg.Log.File, "ema-live")
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer logFile.Close()
	slog.SetDefault(slog.New(slog.NewTextHandler(logFile, &slog.HandlerOptions{Level: cfg.Log.Level.Slog()})))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
	})
	if err != nil {
		return fmt.Errorf("failed to init telemetry: %w", err)
	}
	defer func() {
		if err := provider.Shutdown(context.Background()); err != nil {
			slog.Warn("failed to shut down telemetry", "error", err)
		}
	}()
	if cfg.Telemetry.MetricsAddr != "" {
		go func() {
			if err := provider.ServeMetrics(ctx, cfg.Telemetry.MetricsAddr); err != nil {
				slog.Error("metrics server failed", "addr", cfg.Telemetry.MetricsAddr, "error", err)
			}
		}()
	}

	sessionID, err := resolveSessionID(opt, cfg)
	if err != nil {
		return err
	}

	callsClient, err := calls.NewClient(cfg.Backend.URL)
	if err != nil {
		return err
	}

	orchestratorOpts := []orchestration.OrchestratorOption{
		orchestration.WithEndpoint(session.Endpoint{BaseURL: cfg.Backend.URL, Path: cfg.Backend.SessionPath}),
		orchestration.WithRelayEndpoint(session.Endpoint{BaseURL: cfg.Backend.URL, Path: cfg.Backend.RelayPath}),
		orchestration.WithSessionID(sessionID),
		orchestration.WithCallsClient(callsClient),
		orchestration.WithHealthCheck(cfg.Backend.HealthInterval),
		orchestration.WithCaptureOptions(capture.WithBlockSize(cfg.Audio.BlockSize)),
	}
	closeAudio, audioOpts, err := openAudio(cfg.Audio)
	if err != nil {
		return err
	}
	defer closeAudio()
	orchestratorOpts = append(orchestratorOpts, audioOpts...)

	orchestrator := orchestration.NewOrchestrator(orchestratorOpts...)
	defer orchestrator.Close()

	ui := newModel(orchestrator, cfg.Audio.Backend != config.AudioNone)
	program := tea.NewProgram(ui, tea.WithAltScreen(), tea.WithContext(ctx))

	if err := orchestrator.Start(ctx, orchestration.WithEventCallback(func(event events.Event) {
		program.Send(eventMsg{event})
	})); err != nil {
		return err
	}
	persistSessionID(cfg, orchestrator.SessionID())
	slog.Info("session started", "session_id", orchestrator.SessionID(), "backend", cfg.Backend.URL)

	if opt.phoneNumber != "" {
		go func() {
			call, err := orchestrator.MonitorCall(ctx, opt.phoneNumber)
			if err != nil {
				program.Send(errMsg{err})
				return
			}
			slog.Info("call placed", "call_id", call.ID, "status", call.Status)
		}()
	}

	_, err = program.Run()
	if errors.Is(err, tea.ErrProgramKilled) && ctx.Err() != nil {
		err = nil
	}
	persistSessionID(cfg, orchestrator.SessionID())
	return err
}

func resolveSessionID(opt options, cfg *config.Config) (string, error) {
	if opt.sessionID != "" {
		return opt.sessionID, nil
	}
	if cfg.Session.ID != "" {
		return cfg.Session.ID, nil
	}
	return config.LoadSessionID(cfg.Session.StateFile)
}

func persistSessionID(cfg *config.Config, id string) {
	if err := config.SaveSessionID(cfg.Session.StateFile, id); err != nil {
		slog.Warn("failed to persist session id", "error", err)
	}
}

func openAudio(cfg config.AudioConfig) (func(), []orchestration.OrchestratorOption, error) {
	switch cfg.Backend {
	case config.AudioMiniaudio:
		client, err := miniaudio.NewClient()
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open miniaudio: %w", err)
		}
		return client.Close, []orchestration.OrchestratorOption{
			orchestration.WithAudioInput(client),
			orchestration.WithAudioOutput(client),
		}, nil
	case config.AudioPortaudio:
		client, err := portaudio.NewClient(cfg.BufferSize)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open portaudio: %w", err)
		}
		return client.Close, []orchestration.OrchestratorOption{
			orchestration.WithAudioInput(client),
			orchestration.WithAudioOutput(client),
		}, nil
	}
	return func() {}, nil, nil
}
