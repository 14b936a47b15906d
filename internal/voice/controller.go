// Package voice manages the bot's presence in the target Discord voice
// channel: joining, moving, and leaving, reacting to gateway voice events,
// and streaming synthesized audio as paced Opus frames.
//
// [Controller] serializes every connect/disconnect transition behind one
// mutex. Gateway event handlers feed it observations (session id, endpoint,
// external drops); the orchestrator drives it (connect at startup,
// disconnect at shutdown); the playback worker streams through it.
package voice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/observe"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/pipeline"
)

// Compile-time interface assertion.
var _ pipeline.VoiceTransport = (*Controller)(nil)

// Default transition timings.
const (
	// defaultCooldown is the minimum gap between connection attempts.
	defaultCooldown = 5 * time.Second

	// defaultSettle is how long a fresh transport gets to finish its
	// handshake before readiness is checked.
	defaultSettle = 500 * time.Millisecond
)

// ErrNotConnected is returned by Play when no voice transport is live.
var ErrNotConnected = errors.New("voice: not connected to a voice channel")

// State is the lifecycle phase of the voice session.
type State int32

// Session states. Transitions: Disconnected → Connecting → Connected →
// Reconnecting → Connecting or Disconnected.
const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Controller owns the bot's voice session.
//
// All methods are safe for concurrent use.
type Controller struct {
	gw      Gateway
	target  string
	onDrop  func()
	metrics *observe.Metrics

	cooldown time.Duration
	settle   time.Duration

	// connMu serializes connect/disconnect transitions end to end,
	// including the settle wait. mu guards the snapshot fields below and
	// is never held across I/O.
	connMu sync.Mutex

	mu          sync.Mutex
	state       State
	link        Link
	channelID   string
	sessionID   string
	endpoint    string
	lastAttempt time.Time

	dropped chan struct{} // buffered 1; signals the monitor loop

	player *player
}

// Config configures a [Controller].
type Config struct {
	// Gateway provides channel lookup and voice transport establishment.
	Gateway Gateway

	// ChannelID is the target voice channel, used by drop-triggered
	// reconnections and by [Controller.Probe].
	ChannelID string

	// Cooldown is the minimum gap between connection attempts.
	// Defaults to 5s if zero.
	Cooldown time.Duration

	// Settle is the wait after joining before transport readiness is
	// re-checked. Defaults to 500ms if zero.
	Settle time.Duration

	// OnDrop is invoked for every externally-detected transport drop,
	// before reconnection starts. May be nil.
	OnDrop func()

	// Metrics receives the voice disconnect counter. May be nil.
	Metrics *observe.Metrics

	// Decode overrides the WAV-to-PCM conversion used for playback.
	// Defaults to the external decoder with a native fallback.
	Decode DecodeFunc
}

// NewController creates a new [Controller] with the given configuration.
func NewController(cfg Config) *Controller {
	cooldown := cfg.Cooldown
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	settle := cfg.Settle
	if settle <= 0 {
		settle = defaultSettle
	}
	decode := cfg.Decode
	if decode == nil {
		decode = defaultDecode()
	}
	return &Controller{
		gw:       cfg.Gateway,
		target:   cfg.ChannelID,
		onDrop:   cfg.OnDrop,
		metrics:  cfg.Metrics,
		cooldown: cooldown,
		settle:   settle,
		dropped:  make(chan struct{}, 1),
		player:   newPlayer(decode),
	}
}

// Connect joins the given voice channel. It enforces the attempt cool-down,
// validates that the channel exists and carries voice, no-ops when already
// connected there, moves when connected elsewhere (falling back to a fresh
// connect if the move fails), and verifies transport readiness after a
// settle delay. On stage channels the bot unsuppresses itself.
func (c *Controller) Connect(ctx context.Context, channelID string) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if err := c.awaitCooldown(ctx); err != nil {
		return err
	}

	ch, err := c.gw.Channel(channelID)
	if err != nil {
		return fmt.Errorf("voice: channel %s lookup: %w", channelID, err)
	}
	if !voiceCapable(ch.Type) {
		return fmt.Errorf("voice: channel %s is not voice-capable (type %d)", channelID, ch.Type)
	}

	c.mu.Lock()
	link, current, state := c.link, c.channelID, c.state
	c.mu.Unlock()

	if state == StateConnected && link != nil {
		if current == channelID {
			return nil
		}

		// Moving keeps the existing transport alive; only tear down when
		// the move itself fails.
		mErr := link.Move(channelID)
		if mErr == nil {
			c.mu.Lock()
			c.channelID = channelID
			c.mu.Unlock()
			slog.Info("voice channel moved", "from", current, "to", channelID)
			return nil
		}
		slog.Warn("voice move failed, reconnecting fresh",
			"from", current, "to", channelID, "error", mErr)
		_ = c.disconnect()
	}

	c.setState(StateConnecting)

	link, err = c.gw.Join(channelID)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("voice: join channel %s: %w", channelID, err)
	}

	// Give the voice handshake a moment, then make sure it held.
	select {
	case <-ctx.Done():
		_ = link.Disconnect()
		c.setState(StateDisconnected)
		return ctx.Err()
	case <-time.After(c.settle):
	}
	if !link.Ready() {
		_ = link.Disconnect()
		c.setState(StateDisconnected)
		return fmt.Errorf("voice: transport not ready %s after joining channel %s", c.settle, channelID)
	}

	if ch.Type == discordgo.ChannelTypeGuildStageVoice {
		if uErr := c.gw.Unsuppress(channelID); uErr != nil {
			slog.Warn("stage unsuppress failed", "channel_id", channelID, "error", uErr)
		}
	}

	c.mu.Lock()
	c.link = link
	c.channelID = channelID
	c.state = StateConnected
	c.mu.Unlock()

	slog.Info("voice connected", "channel_id", channelID)
	return nil
}

// Disconnect leaves the current voice channel. Safe to call when already
// disconnected.
func (c *Controller) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.disconnect()
}

// disconnect assumes connMu is held. State is cleared even when the
// transport teardown errors, so a second call is a no-op.
func (c *Controller) disconnect() error {
	c.player.Stop()

	c.mu.Lock()
	link := c.link
	c.link = nil
	c.channelID = ""
	c.state = StateDisconnected
	c.mu.Unlock()

	if link == nil {
		return nil
	}
	if err := link.Disconnect(); err != nil {
		slog.Warn("voice disconnect error", "error", err)
		return err
	}
	slog.Info("voice disconnected")
	return nil
}

// Monitor blocks until ctx is cancelled, reconnecting to the target channel
// after each externally-detected drop. At most one reconnection runs at a
// time; drop signals arriving during an attempt coalesce into one more.
func (c *Controller) Monitor(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.dropped:
			c.reconnect(ctx)
		}
	}
}

// reconnect performs one cleanup + connect cycle against the target channel.
func (c *Controller) reconnect(ctx context.Context) {
	slog.Info("reconnecting after external drop", "channel_id", c.target)
	_ = c.Disconnect()
	if err := c.Connect(ctx, c.target); err != nil {
		slog.Error("voice reconnection failed", "channel_id", c.target, "error", err)
		return
	}
	slog.Info("voice reconnection successful", "channel_id", c.target)
}

// HandleVoiceStateUpdate processes a gateway voice-state event for the bot
// user: it records the session id, confirms the connection when the
// transport reports ready, and detects external disconnection (previous
// channel non-empty, new channel empty) while a transport is still held.
// A detected drop is reported through OnDrop and wakes the monitor loop.
func (c *Controller) HandleVoiceStateUpdate(ev *discordgo.VoiceStateUpdate) {
	if ev == nil || ev.VoiceState == nil || ev.UserID != c.gw.BotUserID() {
		return
	}

	c.mu.Lock()
	c.sessionID = ev.SessionID
	link := c.link
	if link != nil && ev.ChannelID != "" && link.Ready() {
		c.state = StateConnected
	}
	c.mu.Unlock()

	if link == nil || ev.ChannelID != "" || ev.BeforeUpdate == nil || ev.BeforeUpdate.ChannelID == "" {
		return
	}

	slog.Warn("voice transport dropped externally",
		"channel_id", ev.BeforeUpdate.ChannelID, "session_id", ev.SessionID)
	if c.metrics != nil {
		c.metrics.VoiceDisconnects.Add(context.Background(), 1)
	}
	if c.onDrop != nil {
		c.onDrop()
	}

	c.setState(StateReconnecting)

	select {
	case c.dropped <- struct{}{}:
	default:
		// A reconnection is already pending.
	}
}

// HandleVoiceServerUpdate records the assigned voice endpoint for
// diagnostics, stripping any URL scheme.
func (c *Controller) HandleVoiceServerUpdate(ev *discordgo.VoiceServerUpdate) {
	if ev == nil {
		return
	}
	endpoint := ev.Endpoint
	if i := strings.Index(endpoint, "://"); i >= 0 {
		endpoint = endpoint[i+3:]
	}
	c.mu.Lock()
	c.endpoint = endpoint
	c.mu.Unlock()
	slog.Debug("voice server update", "endpoint", endpoint)
}

// Connected reports whether audio can currently be transmitted.
func (c *Controller) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == StateConnected && c.link != nil && c.link.Ready()
}

// Playing reports whether a transmission is in progress.
func (c *Controller) Playing() bool { return c.player.Playing() }

// Play streams a whole WAV payload into the connected channel, returning
// when it finishes, ctx is cancelled, or [Controller.Stop] aborts it.
func (c *Controller) Play(ctx context.Context, wav []byte) error {
	c.mu.Lock()
	link, state := c.link, c.state
	c.mu.Unlock()
	if state != StateConnected || link == nil {
		return ErrNotConnected
	}
	return c.player.Play(ctx, link, wav)
}

// Stop aborts the in-flight transmission, if any.
func (c *Controller) Stop() { c.player.Stop() }

// State returns the current session state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ChannelID returns the channel the session is currently on, or "" when
// disconnected.
func (c *Controller) ChannelID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.channelID
}

// SessionID returns the last session id seen in a voice-state update.
func (c *Controller) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Endpoint returns the last voice endpoint seen in a voice-server update.
func (c *Controller) Endpoint() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.endpoint
}

// ProbeReport is a point-in-time diagnosis of the voice session.
type ProbeReport struct {
	ClientExists      bool     `json:"voice_client_exists"`
	ClientConnected   bool     `json:"voice_client_connected"`
	ChannelAccessible bool     `json:"channel_accessible"`
	PlaybackReady     bool     `json:"audio_playback_ready"`
	Issues            []string `json:"issues,omitempty"`
	Recommendations   []string `json:"recommendations,omitempty"`
}

// Probe inspects the session and the target channel and returns a report
// suitable for the health monitor and the status command.
func (c *Controller) Probe() ProbeReport {
	c.mu.Lock()
	link := c.link
	c.mu.Unlock()

	var r ProbeReport
	r.ClientExists = link != nil
	switch {
	case link == nil:
		r.Issues = append(r.Issues, "no voice transport")
		r.Recommendations = append(r.Recommendations, "connect to the target voice channel")
	case !link.Ready():
		r.Issues = append(r.Issues, "voice transport not ready")
		r.Recommendations = append(r.Recommendations, "wait for reconnection or restart the bot")
	default:
		r.ClientConnected = true
	}

	if _, err := c.gw.Channel(c.target); err != nil {
		r.Issues = append(r.Issues, fmt.Sprintf("target channel inaccessible: %v", err))
		r.Recommendations = append(r.Recommendations, "verify the channel id and the bot's view permission")
	} else {
		r.ChannelAccessible = true
	}

	r.PlaybackReady = r.ClientConnected
	return r
}

// awaitCooldown sleeps out the remainder of the attempt cool-down, then
// stamps this attempt.
func (c *Controller) awaitCooldown(ctx context.Context) error {
	c.mu.Lock()
	last := c.lastAttempt
	c.mu.Unlock()

	if !last.IsZero() {
		if wait := c.cooldown - time.Since(last); wait > 0 {
			slog.Debug("voice connect cooling down", "wait", wait)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}
	}

	c.mu.Lock()
	c.lastAttempt = time.Now()
	c.mu.Unlock()
	return nil
}

// setState updates the session state under the snapshot lock.
func (c *Controller) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// voiceCapable reports whether a channel type can carry voice.
func voiceCapable(t discordgo.ChannelType) bool {
	return t == discordgo.ChannelTypeGuildVoice || t == discordgo.ChannelTypeGuildStageVoice
}
