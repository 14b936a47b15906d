package bot

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/governor"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/pipeline"
	"github.com/Rokurolize/discord-voice-bot-sub000/internal/voice"
)

// Embed colors, shared by every embed surface.
const (
	embedColorHealthy = 0x2ECC71
	embedColorIssue   = 0xE74C3C
	embedColorNeutral = 0x3498DB
)

// Status is a point-in-time aggregate of every subsystem, backing the
// /status command and the prefix status reply.
type Status struct {
	Uptime         time.Duration
	GatewayLatency time.Duration

	VoiceState   voice.State
	VoiceChannel string
	Playing      bool

	SynthesisQueue int
	AudioQueue     int
	BufferedBytes  int64

	Engine       string
	BreakerState governor.State

	Pipeline pipeline.Snapshot

	Healthy bool
	Issues  []string
}

// Status returns the current aggregate. Exposed for the diagnostics
// surfaces; the command handlers use it through collectStatus.
func (b *Bot) Status() Status { return b.collectStatus() }

func (b *Bot) collectStatus() Status {
	synthQ, audioQ := b.pipe.QueueSizes()
	hs := b.monitor.Status()
	return Status{
		Uptime:         time.Since(b.started),
		GatewayLatency: b.Session().HeartbeatLatency(),
		VoiceState:     b.voice.State(),
		VoiceChannel:   b.voice.ChannelID(),
		Playing:        b.voice.Playing(),
		SynthesisQueue: synthQ,
		AudioQueue:     audioQ,
		BufferedBytes:  b.pipe.BufferedBytes(),
		Engine:         b.cfg.Engine,
		BreakerState:   b.gov.Breaker().State(),
		Pipeline:       b.pipe.Stats().Snapshot(),
		Healthy:        hs.Healthy,
		Issues:         hs.Issues,
	}
}

// statusEmbed renders a Status for Discord.
func statusEmbed(st Status) *discordgo.MessageEmbed {
	color := embedColorHealthy
	desc := "All systems healthy."
	if !st.Healthy {
		color = embedColorIssue
		desc = "Issues: " + strings.Join(st.Issues, "; ")
	}

	voiceLine := st.VoiceState.String()
	if st.VoiceChannel != "" {
		voiceLine += fmt.Sprintf(" — <#%s>", st.VoiceChannel)
	}
	if st.Playing {
		voiceLine += " · speaking"
	}

	drops := st.Pipeline.DroppedQueueFull + st.Pipeline.DroppedBufferFull +
		st.Pipeline.DroppedOversize + st.Pipeline.DroppedMalformed

	return &discordgo.MessageEmbed{
		Title:       "Voice bot status",
		Description: desc,
		Color:       color,
		Fields: []*discordgo.MessageEmbedField{
			{
				Name:   "Voice",
				Value:  voiceLine,
				Inline: true,
			},
			{
				Name:   "Engine",
				Value:  fmt.Sprintf("%s · breaker %s", st.Engine, st.BreakerState),
				Inline: true,
			},
			{
				Name:   "Gateway",
				Value:  formatLatency(st.GatewayLatency),
				Inline: true,
			},
			{
				Name: "Queues",
				Value: fmt.Sprintf("synthesis %d · audio %d · buffered %s",
					st.SynthesisQueue, st.AudioQueue, formatBytes(st.BufferedBytes)),
				Inline: true,
			},
			{
				Name: "Activity",
				Value: fmt.Sprintf("messages %d · chunks %d · played %d · skipped %d",
					st.Pipeline.MessagesSubmitted, st.Pipeline.ChunksSynthesized,
					st.Pipeline.ArtifactsPlayed, st.Pipeline.Skipped),
				Inline: true,
			},
			{
				Name: "Errors",
				Value: fmt.Sprintf("synthesis %d · playback %d · dropped %d",
					st.Pipeline.SynthesisErrors, st.Pipeline.PlaybackErrors, drops),
				Inline: true,
			},
			{
				Name:   "Synthesis latency",
				Value:  formatLatency(st.Pipeline.AvgSynthesisLatency),
				Inline: true,
			},
		},
		Footer: &discordgo.MessageEmbedFooter{
			Text: "up " + formatUptime(st.Uptime),
		},
	}
}

// formatUptime renders a duration as "3d 4h 5m" / "4h 5m" / "5m 6s".
func formatUptime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	minutes := int(d.Minutes()) % 60
	seconds := int(d.Seconds()) % 60

	switch {
	case days > 0:
		return fmt.Sprintf("%dd %dh %dm", days, hours, minutes)
	case hours > 0:
		return fmt.Sprintf("%dh %dm", hours, minutes)
	default:
		return fmt.Sprintf("%dm %ds", minutes, seconds)
	}
}

// formatLatency rounds to whole milliseconds. Zero means "not measured yet".
func formatLatency(d time.Duration) string {
	if d <= 0 {
		return "n/a"
	}
	return d.Round(time.Millisecond).String()
}

// formatBytes renders a byte count with a binary unit.
func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
