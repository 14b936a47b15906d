// Package config loads and validates the bot's environment-driven
// configuration.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// LogLevel controls log verbosity for the bot process.
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

// Slog maps l onto the corresponding slog level. Unknown values map to info.
func (l LogLevel) Slog() slog.Level {
	switch l {
	case LogDebug:
		return slog.LevelDebug
	case LogWarn:
		return slog.LevelWarn
	case LogError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Defaults applied by [FromEnv] when the corresponding variable is unset.
const (
	DefaultVoicevoxURL      = "http://127.0.0.1:50021"
	DefaultAivisURL         = "http://127.0.0.1:10101"
	DefaultCommandPrefix    = "!"
	DefaultMaxMessageLength = 10000
	DefaultQueueSize        = 100
	DefaultReconnectDelay   = 5 * time.Second
	DefaultRateLimitCount   = 5
	DefaultRateLimitPeriod  = 60 * time.Second
)

// Config is the root configuration for the bot. Every field maps to one
// environment variable; [FromEnv] applies defaults and [Config.Validate]
// reports every problem at once.
type Config struct {
	// Token is the Discord bot credential (DISCORD_BOT_TOKEN). Required.
	Token string

	// TargetChannelID is the voice channel the bot serves
	// (TARGET_VOICE_CHANNEL_ID). Text is read from, and replies are sent
	// to, this channel's chat. Required.
	TargetChannelID string

	// Engine is the default TTS engine tag (TTS_ENGINE): "voicevox" or
	// "aivis". Defaults to "voicevox".
	Engine string

	// SpeakerName optionally names the default speaker within the engine
	// (TTS_SPEAKER), e.g. "ずんだもん" or "Anneli/ノーマル". Resolved against
	// the engine's speaker listing at startup; empty keeps the engine's
	// built-in default.
	SpeakerName string

	// VoicevoxURL and AivisURL are the engines' HTTP roots
	// (VOICEVOX_URL, AIVIS_URL).
	VoicevoxURL string
	AivisURL    string

	// MappingFile optionally points at an external cross-engine speaker
	// mapping table (SPEAKER_MAPPING_FILE) replacing the built-in one.
	MappingFile string

	// CommandPrefix triggers the text command surface in the target
	// channel (COMMAND_PREFIX), e.g. "!skip". Defaults to "!".
	CommandPrefix string

	// MaxMessageLength caps accepted message length in runes before
	// truncation applies (MAX_MESSAGE_LENGTH).
	MaxMessageLength int

	// QueueSize bounds the synthesis queue (MESSAGE_QUEUE_SIZE).
	QueueSize int

	// ReconnectDelay is the cool-down between voice reconnect attempts
	// (RECONNECT_DELAY, seconds).
	ReconnectDelay time.Duration

	// RateLimitCount and RateLimitPeriod bound per-author message
	// admission: at most RateLimitCount messages per RateLimitPeriod
	// (RATE_LIMIT_MESSAGES, RATE_LIMIT_PERIOD in seconds).
	RateLimitCount  int
	RateLimitPeriod time.Duration

	// LogLevel controls verbosity (LOG_LEVEL). DEBUG=1 forces debug.
	LogLevel LogLevel

	// LogFile, when set, duplicates log output into this file (LOG_FILE).
	LogFile string

	// Debug reports whether DEBUG was set truthy.
	Debug bool

	// ProcessSelfMessages lets the bot read its own messages back
	// (ENABLE_SELF_MESSAGE_PROCESSING). Off by default.
	ProcessSelfMessages bool

	// MetricsAddr, when non-empty, enables the diagnostics listener
	// (METRICS_ADDR), serving /metrics, /healthz and /readyz.
	MetricsAddr string
}

// FromEnv builds a Config from the process environment and validates it.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Token:               strings.TrimSpace(os.Getenv("DISCORD_BOT_TOKEN")),
		TargetChannelID:     strings.TrimSpace(os.Getenv("TARGET_VOICE_CHANNEL_ID")),
		Engine:              strings.ToLower(strings.TrimSpace(os.Getenv("TTS_ENGINE"))),
		SpeakerName:         strings.TrimSpace(os.Getenv("TTS_SPEAKER")),
		VoicevoxURL:         envOr("VOICEVOX_URL", DefaultVoicevoxURL),
		AivisURL:            envOr("AIVIS_URL", DefaultAivisURL),
		MappingFile:         strings.TrimSpace(os.Getenv("SPEAKER_MAPPING_FILE")),
		CommandPrefix:       envOr("COMMAND_PREFIX", DefaultCommandPrefix),
		LogLevel:            LogLevel(strings.ToLower(envOr("LOG_LEVEL", string(LogInfo)))),
		LogFile:             strings.TrimSpace(os.Getenv("LOG_FILE")),
		MetricsAddr:         strings.TrimSpace(os.Getenv("METRICS_ADDR")),
		Debug:               boolEnv("DEBUG"),
		ProcessSelfMessages: boolEnv("ENABLE_SELF_MESSAGE_PROCESSING"),
	}
	if cfg.Engine == "" {
		cfg.Engine = tts.EngineVoicevox
	}
	if cfg.Debug {
		cfg.LogLevel = LogDebug
	}

	var errs []error
	cfg.MaxMessageLength = intEnv("MAX_MESSAGE_LENGTH", DefaultMaxMessageLength, &errs)
	cfg.QueueSize = intEnv("MESSAGE_QUEUE_SIZE", DefaultQueueSize, &errs)
	cfg.RateLimitCount = intEnv("RATE_LIMIT_MESSAGES", DefaultRateLimitCount, &errs)
	cfg.ReconnectDelay = secondsEnv("RECONNECT_DELAY", DefaultReconnectDelay, &errs)
	cfg.RateLimitPeriod = secondsEnv("RATE_LIMIT_PERIOD", DefaultRateLimitPeriod, &errs)
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that c contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func (c *Config) Validate() error {
	var errs []error

	if c.Token == "" {
		errs = append(errs, errors.New("DISCORD_BOT_TOKEN is required"))
	}
	if c.TargetChannelID == "" {
		errs = append(errs, errors.New("TARGET_VOICE_CHANNEL_ID is required"))
	} else if !isSnowflake(c.TargetChannelID) {
		errs = append(errs, fmt.Errorf("TARGET_VOICE_CHANNEL_ID %q is not a numeric channel id", c.TargetChannelID))
	}
	if !tts.KnownTag(c.Engine) {
		errs = append(errs, fmt.Errorf("TTS_ENGINE %q is invalid; valid values: %s, %s", c.Engine, tts.EngineVoicevox, tts.EngineAivis))
	}
	if !c.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("LOG_LEVEL %q is invalid; valid values: debug, info, warn, error", c.LogLevel))
	}
	if err := validateBaseURL("VOICEVOX_URL", c.VoicevoxURL); err != nil {
		errs = append(errs, err)
	}
	if err := validateBaseURL("AIVIS_URL", c.AivisURL); err != nil {
		errs = append(errs, err)
	}
	if c.CommandPrefix == "" {
		errs = append(errs, errors.New("COMMAND_PREFIX must not be empty"))
	}
	if c.MaxMessageLength <= 0 {
		errs = append(errs, fmt.Errorf("MAX_MESSAGE_LENGTH %d must be positive", c.MaxMessageLength))
	}
	if c.QueueSize <= 0 {
		errs = append(errs, fmt.Errorf("MESSAGE_QUEUE_SIZE %d must be positive", c.QueueSize))
	}
	if c.RateLimitCount <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_MESSAGES %d must be positive", c.RateLimitCount))
	}
	if c.RateLimitPeriod <= 0 {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_PERIOD %s must be positive", c.RateLimitPeriod))
	}
	if c.ReconnectDelay < 0 {
		errs = append(errs, fmt.Errorf("RECONNECT_DELAY %s must not be negative", c.ReconnectDelay))
	}

	return errors.Join(errs...)
}

// EngineURL returns the configured base URL for the given engine tag.
func (c *Config) EngineURL(tag string) string {
	if tag == tts.EngineAivis {
		return c.AivisURL
	}
	return c.VoicevoxURL
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}

func boolEnv(key string) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	}
	return false
}

func intEnv(key string, def int, errs *[]error) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not an integer", key, raw))
		return def
	}
	return n
}

// secondsEnv reads an integer number of seconds.
func secondsEnv(key string, def time.Duration, errs *[]error) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		*errs = append(*errs, fmt.Errorf("%s %q is not a number of seconds", key, raw))
		return def
	}
	return time.Duration(n) * time.Second
}

func isSnowflake(s string) bool {
	if s == "" {
		return false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func validateBaseURL(name, raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s %q is not a valid URL: %w", name, raw, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%s %q must use http or https", name, raw)
	}
	if u.Host == "" {
		return fmt.Errorf("%s %q is missing a host", name, raw)
	}
	return nil
}
