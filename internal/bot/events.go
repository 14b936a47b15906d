package bot

import (
	"context"
	"log/slog"

	"github.com/bwmarrin/discordgo"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/admission"
)

// handleReady fires on the initial connect and on every re-identify, so the
// presence survives gateway reconnections.
func (b *Bot) handleReady(s *discordgo.Session, r *discordgo.Ready) {
	slog.Info("gateway ready", "user", r.User.Username, "session_id", r.SessionID)
	if err := s.UpdateListeningStatus("#" + b.channelName); err != nil {
		slog.Warn("presence update failed", "err", err)
	}
}

// handleMessageCreate feeds chat into the command surface first and the
// admission gate second. The gate rejects all command-prefixed content on
// its own, so bot commands must be picked off before it runs.
func (b *Bot) handleMessageCreate(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil {
		return
	}
	if b.dispatchPrefix(s, m) {
		return
	}

	ev := eventFromMessage(m)
	msg, reason := b.gate.Admit(ev)
	b.metrics.RecordAdmission(context.Background(), string(reason))
	if reason != admission.RejectNone {
		return
	}
	if !b.pipe.Submit(msg) {
		slog.Warn("pipeline refused message", "group_id", msg.GroupID, "chunks", len(msg.Chunks))
	}
}

// eventFromMessage converts a gateway message into the admission event
// shape. Replies carry user text, so they count as default-kind; webhook
// posts count as automated authors.
func eventFromMessage(m *discordgo.MessageCreate) admission.TextEvent {
	kind := admission.KindSystem
	switch m.Type {
	case discordgo.MessageTypeDefault, discordgo.MessageTypeReply:
		kind = admission.KindDefault
	}

	ev := admission.TextEvent{
		ID:        m.ID,
		ChannelID: m.ChannelID,
		Content:   m.Content,
		Kind:      kind,
		Timestamp: m.Timestamp,
	}
	if m.Author != nil {
		ev.AuthorID = m.Author.ID
		ev.AuthorName = m.Author.Username
		ev.AuthorIsBot = m.Author.Bot || m.WebhookID != ""
	}
	return ev
}

// handleVoiceStateUpdate forwards the bot's own voice-state observations to
// the controller, which detects external moves and kicks.
func (b *Bot) handleVoiceStateUpdate(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	b.voice.HandleVoiceStateUpdate(ev)
}

// handleVoiceServerUpdate records voice server endpoint changes.
func (b *Bot) handleVoiceServerUpdate(_ *discordgo.Session, ev *discordgo.VoiceServerUpdate) {
	b.voice.HandleVoiceServerUpdate(ev)
}

// handleDisconnect logs websocket drops; discordgo reconnects on its own,
// and voice-level drops are handled by the controller.
func (b *Bot) handleDisconnect(_ *discordgo.Session, _ *discordgo.Disconnect) {
	slog.Warn("gateway connection lost, reconnecting")
}

func (b *Bot) handleResume(_ *discordgo.Session, _ *discordgo.Resumed) {
	slog.Info("gateway session resumed")
}
