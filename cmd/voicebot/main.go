// Command voicebot reads chat messages from one Discord text channel aloud
// in its voice channel, synthesizing speech through a local VOICEVOX or
// AivisSpeech engine.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/bot"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/config"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/health"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/observe"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ── Flags ───────────────────────────────────────────────────────────────
	// All runtime configuration is environment-driven; flags exist so that
	// --help documents where the knobs live.
	flag.Usage = usage
	flag.Parse()

	// ── Load configuration ──────────────────────────────────────────────────
	cfg, err := config.FromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebot: %v\n", err)
		return 1
	}

	// ── Logging ─────────────────────────────────────────────────────────────
	logOut, closeLog, err := logWriter(cfg.LogFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "voicebot: %v\n", err)
		return 1
	}
	defer closeLog()
	slog.SetDefault(newLogger(cfg.LogLevel, logOut))

	slog.Info("voicebot starting",
		"engine", cfg.Engine,
		"channel_id", cfg.TargetChannelID,
		"log_level", cfg.LogLevel,
	)

	// ── Shutdown signals ────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Telemetry ─────────────────────────────────────────────────────────────
	// Must come before the bot constructor so every instrument binds to the
	// real meter provider instead of the no-op global.
	shutdownTelemetry, err := observe.InitProvider(ctx, observe.ProviderConfig{
		ServiceName: "discord-voice-bot",
	})
	if err != nil {
		slog.Error("failed to initialise telemetry", "err", err)
		return 1
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(flushCtx); err != nil {
			slog.Warn("telemetry shutdown error", "err", err)
		}
	}()

	// ── Discord bot ───────────────────────────────────────────────────────────
	b, err := bot.New(ctx, cfg)
	if err != nil {
		slog.Error("failed to start bot", "err", err)
		return 1
	}

	// ── Diagnostics server (optional) ─────────────────────────────────────────
	var diag *http.Server
	if cfg.MetricsAddr != "" {
		diag = diagnosticsServer(cfg.MetricsAddr, b.Monitor())
		go func() {
			slog.Info("diagnostics listening", "addr", cfg.MetricsAddr)
			if err := diag.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("diagnostics server error", "err", err)
			}
		}()
	}

	runErr := b.Run(ctx)

	// ── Teardown ────────────────────────────────────────────────────────────
	slog.Info("shutting down")
	if err := b.Close(); err != nil {
		slog.Warn("bot close error", "err", err)
	}
	if diag != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := diag.Shutdown(shutdownCtx); err != nil {
			slog.Warn("diagnostics shutdown error", "err", err)
		}
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		slog.Error("run error", "err", runErr)
		return 1
	}
	slog.Info("voicebot stopped")
	return 0
}

// diagnosticsServer serves Prometheus metrics and the health probes.
func diagnosticsServer(addr string, monitor *health.Monitor) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	health.NewHandler(monitor).Register(mux)

	return &http.Server{
		Addr:              addr,
		Handler:           observe.Middleware(observe.DefaultMetrics())(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// ── Logging helpers ────────────────────────────────────────────────────────────

// logWriter returns the destination for log output. With LOG_FILE set, log
// lines go to both stderr and the file.
func logWriter(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("open log file: %w", err)
	}
	return io.MultiWriter(os.Stderr, f), func() { _ = f.Close() }, nil
}

func newLogger(level config.LogLevel, w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level.Slog()}))
}

// ── Usage ──────────────────────────────────────────────────────────────────────

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(), `Usage: %s

Reads messages from the configured Discord text channel aloud in its voice
channel. All configuration comes from the environment:

  DISCORD_BOT_TOKEN              bot token (required)
  TARGET_VOICE_CHANNEL_ID        voice channel to join and read from (required)
  TTS_ENGINE                     voicevox (default) or aivis
  TTS_SPEAKER                    default speaker name, resolved at startup
  VOICEVOX_URL                   default %s
  AIVIS_URL                      default %s
  SPEAKER_MAPPING_FILE           YAML cross-engine speaker mapping
  COMMAND_PREFIX                 chat command prefix (default %q)
  MAX_MESSAGE_LENGTH             drop longer messages (default %d)
  MESSAGE_QUEUE_SIZE             synthesis queue capacity (default %d)
  RECONNECT_DELAY                seconds between voice connects (default %d)
  RATE_LIMIT_MESSAGES            per-user message budget (default %d)
  RATE_LIMIT_PERIOD              budget window in seconds (default %d)
  LOG_LEVEL                      debug, info, warn, or error
  LOG_FILE                       also append logs to this file
  DEBUG                          force debug logging
  ENABLE_SELF_MESSAGE_PROCESSING read the bot's own messages too
  METRICS_ADDR                   serve /metrics, /healthz, /readyz here

`,
		os.Args[0],
		config.DefaultVoicevoxURL,
		config.DefaultAivisURL,
		config.DefaultCommandPrefix,
		config.DefaultMaxMessageLength,
		config.DefaultQueueSize,
		int(config.DefaultReconnectDelay/time.Second),
		config.DefaultRateLimitCount,
		int(config.DefaultRateLimitPeriod/time.Second),
	)
	flag.PrintDefaults()
}
