// Package bot wires every subsystem into the running Discord bot. It owns
// the discordgo session lifecycle, feeds gateway events into admission and
// the voice controller, runs the pipeline workers and health loops under one
// errgroup, and serves the slash and prefix command surfaces.
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/errgroup"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/admission"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/config"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/governor"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/health"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/observe"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/pipeline"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/speaker"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/voice"
	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// Startup voice connect policy: a fresh process gets a few tries to reach
// the target channel before giving up.
const (
	startupAttempts = 3
	startupSpacing  = 10 * time.Second
)

// Bot owns the Discord gateway connection and every subsystem behind it.
type Bot struct {
	cfg *config.Config

	mu          sync.RWMutex
	session     *discordgo.Session
	guildID     string
	channelName string
	registered  []*discordgo.ApplicationCommand

	gov     *governor.Governor
	client  *tts.Client
	voices  *speaker.Router
	gate    *admission.Gate
	pipe    *pipeline.Pipeline
	voice   *voice.Controller
	monitor *health.Monitor
	metrics *observe.Metrics
	router  *CommandRouter

	synth    *pipeline.SynthWorker
	playback *pipeline.PlaybackWorker

	started   time.Time
	closeOnce sync.Once
}

// New creates a Bot, connects to Discord, and wires all subsystems. The
// returned Bot is not yet in the voice channel; [Bot.Run] drives it there.
func New(ctx context.Context, cfg *config.Config) (*Bot, error) {
	b := &Bot{
		cfg:     cfg,
		metrics: observe.DefaultMetrics(),
		started: time.Now(),
	}

	// ── 1. Discord session ──────────────────────────────────────────────
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("bot: create session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentGuilds |
		discordgo.IntentGuildMessages |
		discordgo.IntentGuildVoiceStates |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("bot: open session: %w", err)
	}
	b.session = session

	// ── 2. Target channel → guild ───────────────────────────────────────
	ch, err := session.Channel(cfg.TargetChannelID, discordgo.WithContext(ctx))
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("bot: resolve target channel %s: %w", cfg.TargetChannelID, err)
	}
	b.guildID = ch.GuildID
	b.channelName = ch.Name

	// ── 3. TTS stack ────────────────────────────────────────────────────
	b.gov = governor.New(governor.Config{Name: "tts"})

	engine := tts.Voicevox(cfg.VoicevoxURL)
	other := tts.Aivis(cfg.AivisURL)
	if cfg.Engine == tts.EngineAivis {
		engine, other = other, engine
	}
	if cfg.SpeakerName != "" {
		resolveDefaultSpeaker(ctx, b.gov, &engine, cfg.SpeakerName)
	}

	registry, err := tts.NewRegistry(cfg.Engine, engine, other)
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("bot: build engine registry: %w", err)
	}
	b.client = tts.NewClient(registry, tts.WithGovernor(b.gov))

	if ok, detail := b.client.Ping(ctx, engine); ok {
		slog.Info("TTS engine reachable", "engine", engine.Tag, "url", engine.BaseURL)
	} else {
		slog.Warn("TTS engine unreachable at startup, messages will be dropped until it recovers",
			"engine", engine.Tag, "url", engine.BaseURL, "detail", detail)
	}

	// ── 4. Voice preferences ────────────────────────────────────────────
	prefPath, err := speaker.DefaultPath()
	if err != nil {
		_ = session.Close()
		return nil, fmt.Errorf("bot: locate preferences file: %w", err)
	}
	store := speaker.NewStore(prefPath)
	if n, err := store.Migrate(); err != nil {
		slog.Warn("preference migration failed", "err", err)
	} else if n > 0 {
		slog.Info("migrated legacy speaker preferences", "count", n)
	}

	mapping := speaker.DefaultMapping()
	if cfg.MappingFile != "" {
		mapping, err = speaker.LoadMappingFile(cfg.MappingFile)
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("bot: load speaker mapping: %w", err)
		}
	}
	b.voices = speaker.NewRouter(store, mapping, registry)

	// ── 5. Admission ────────────────────────────────────────────────────
	selfID := ""
	if u := session.State.User; u != nil {
		selfID = u.ID
	}
	b.gate = admission.NewGate(admission.Config{
		TargetChannelID:     cfg.TargetChannelID,
		SelfID:              selfID,
		ProcessSelfMessages: cfg.ProcessSelfMessages,
		RateLimit:           cfg.RateLimitCount,
		RatePeriod:          cfg.RateLimitPeriod,
		MaxLength:           cfg.MaxMessageLength,
	})

	// ── 6. Pipeline ─────────────────────────────────────────────────────
	b.pipe = pipeline.New(pipeline.Config{SynthesisQueueCapacity: cfg.QueueSize})
	if err := b.metrics.ObserveQueues(func() (int64, int64, int64) {
		s, a := b.pipe.QueueSizes()
		return int64(s), int64(a), b.pipe.BufferedBytes()
	}); err != nil {
		slog.Warn("queue gauge registration failed", "err", err)
	}

	// ── 7. Voice controller ─────────────────────────────────────────────
	b.voice = voice.NewController(voice.Config{
		Gateway:   voice.NewSessionGateway(session, b.guildID),
		ChannelID: cfg.TargetChannelID,
		Cooldown:  cfg.ReconnectDelay,
		OnDrop:    func() { b.monitor.Ledger().RecordVoiceDisconnect() },
		Metrics:   b.metrics,
	})

	b.synth = pipeline.NewSynthWorker(b.pipe, b.client, b.voices, b.metrics)
	b.playback = pipeline.NewPlaybackWorker(b.pipe, b.voice, b.metrics, nil)

	// ── 8. Health monitor ───────────────────────────────────────────────
	b.monitor = health.NewMonitor(health.Config{
		TTS:                health.Checker{Name: "tts_engine", Check: b.checkTTS},
		Voice:              health.Checker{Name: "voice_session", Check: b.checkVoice},
		ChannelPermissions: health.Checker{Name: "channel_permissions", Check: b.checkChannelPermissions},
		GuildPermissions:   health.Checker{Name: "guild_permissions", Check: b.checkGuildPermissions},
	})

	// ── 9. Commands + event handlers ────────────────────────────────────
	b.router = NewCommandRouter()
	newVoiceCommands(b).Register(b.router)

	session.AddHandler(b.handleReady)
	session.AddHandler(b.handleMessageCreate)
	session.AddHandler(b.handleVoiceStateUpdate)
	session.AddHandler(b.handleVoiceServerUpdate)
	session.AddHandler(b.handleDisconnect)
	session.AddHandler(b.handleResume)
	session.AddHandler(func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		b.router.Handle(s, i)
	})

	slog.Info("bot connected",
		"guild_id", b.guildID,
		"channel", b.channelName,
		"engine", cfg.Engine,
	)
	return b, nil
}

// resolveDefaultSpeaker looks the configured speaker name up in the engine's
// catalogue and rewrites the engine default. Failures keep the built-in
// default; a missing voice should not stop the bot.
func resolveDefaultSpeaker(ctx context.Context, gov *governor.Governor, engine *tts.Engine, name string) {
	reg, err := tts.NewRegistry(engine.Tag, *engine)
	if err != nil {
		return
	}
	probe := tts.NewClient(reg, tts.WithGovernor(gov))
	defer probe.Close()

	speakers, err := probe.Speakers(ctx, *engine)
	if err != nil {
		slog.Warn("could not resolve TTS_SPEAKER, keeping engine default",
			"name", name, "engine", engine.Tag, "err", err)
		return
	}
	id, ok := tts.FindSpeaker(speakers, name)
	if !ok {
		slog.Warn("TTS_SPEAKER not found in engine catalogue, keeping engine default",
			"name", name, "engine", engine.Tag)
		return
	}
	engine.DefaultSpeakerID = id
	engine.DefaultSpeakerName = name
	slog.Info("default speaker resolved", "name", name, "id", id, "engine", engine.Tag)
}

// Session returns the underlying discordgo session. Used by the diagnostics
// surfaces that need direct API access.
func (b *Bot) Session() *discordgo.Session {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.session
}

// Monitor returns the health monitor so main can expose /healthz.
func (b *Bot) Monitor() *health.Monitor { return b.monitor }

// Run joins the voice channel, registers slash commands, and drives the
// workers and health loops until ctx is cancelled or a fatal condition
// arises. A non-nil, non-cancellation return means the process should exit
// with a failure status.
func (b *Bot) Run(ctx context.Context) error {
	// ── startup voice connect ───────────────────────────────────────────
	if err := connectStartup(ctx, b.voice, b.cfg.TargetChannelID); err != nil {
		return err
	}

	// ── slash command registration ──────────────────────────────────────
	appID := b.session.State.User.ID
	cmds := b.router.ApplicationCommands()
	if len(cmds) > 0 {
		registered, err := b.session.ApplicationCommandBulkOverwrite(appID, b.guildID, cmds)
		if err != nil {
			return fmt.Errorf("bot: register commands: %w", err)
		}
		b.mu.Lock()
		b.registered = registered
		b.mu.Unlock()
		slog.Info("slash commands registered", "count", len(registered))
	}

	// ── worker + health loops ───────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return b.synth.Run(gctx) })
	g.Go(func() error { return b.playback.Run(gctx) })
	g.Go(func() error { return b.voice.Monitor(gctx) })
	g.Go(func() error { return b.monitor.Run(gctx) })
	g.Go(func() error { return b.monitor.RunPermissionSweep(gctx) })
	g.Go(func() error {
		select {
		case <-gctx.Done():
			return gctx.Err()
		case reason := <-b.monitor.Terminated():
			return fmt.Errorf("bot: health termination: %s", reason)
		}
	})

	slog.Info("bot running", "channel", b.channelName)
	return g.Wait()
}

// connectStartup tries to join the target channel a fixed number of times,
// spacing the attempts so a slow voice server gets a chance to come around.
func connectStartup(ctx context.Context, c *voice.Controller, channelID string) error {
	var lastErr error
	for attempt := 1; attempt <= startupAttempts; attempt++ {
		err := c.Connect(ctx, channelID)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("startup voice connect failed",
			"attempt", attempt, "of", startupAttempts, "err", err)

		if attempt == startupAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(startupSpacing):
		}
	}
	return fmt.Errorf("bot: could not join voice channel after %d attempts: %w", startupAttempts, lastErr)
}

// Close unregisters commands, leaves the voice channel, and closes the
// Discord session. Safe to call more than once.
func (b *Bot) Close() error {
	var closeErr error
	b.closeOnce.Do(func() {
		b.mu.Lock()
		session := b.session
		registered := b.registered
		guildID := b.guildID
		b.mu.Unlock()

		if session != nil && len(registered) > 0 {
			appID := ""
			if u := session.State.User; u != nil {
				appID = u.ID
			}
			for _, cmd := range registered {
				if err := session.ApplicationCommandDelete(appID, guildID, cmd.ID); err != nil {
					slog.Warn("command delete failed", "name", cmd.Name, "err", err)
				}
			}
		}

		if err := b.voice.Disconnect(); err != nil && !errors.Is(err, voice.ErrNotConnected) {
			slog.Warn("voice disconnect failed", "err", err)
		}

		b.client.Close()

		if session != nil {
			if err := session.Close(); err != nil {
				closeErr = fmt.Errorf("bot: close session: %w", err)
			}
		}

		slog.Info("bot closed")
	})
	return closeErr
}
