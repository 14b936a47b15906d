package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/Rokurolize/discord-voice-bot-sub000/internal/speaker"
	"github.com/Rokurolize/discord-voice-bot-sub000/pkg/tts"
)

// commandTimeout bounds the TTS round-trips a command handler may need.
const commandTimeout = 10 * time.Second

// voiceListLimit caps the /voice list output so it fits an embed.
const voiceListLimit = 20

// voiceCommands holds the bot's slash command surface.
type voiceCommands struct {
	bot *Bot
}

func newVoiceCommands(b *Bot) *voiceCommands {
	return &voiceCommands{bot: b}
}

// Register wires every command and subcommand into the router.
func (vc *voiceCommands) Register(router *CommandRouter) {
	voiceDef := vc.voiceDefinition()
	router.RegisterCommand("voice", voiceDef, func(s *discordgo.Session, i *discordgo.InteractionCreate) {
		RespondEphemeral(s, i, "Please use a subcommand: `/voice set`, `/voice current`, `/voice list` or `/voice reset`.")
	})
	router.RegisterHandler("voice/set", vc.handleVoiceSet)
	router.RegisterHandler("voice/current", vc.handleVoiceCurrent)
	router.RegisterHandler("voice/list", vc.handleVoiceList)
	router.RegisterHandler("voice/reset", vc.handleVoiceReset)

	router.RegisterCommand("skip", vc.skipDefinition(), vc.handleSkip)
	router.RegisterCommand("clear", vc.clearDefinition(), vc.handleClear)
	router.RegisterCommand("status", vc.statusDefinition(), vc.handleStatus)
}

// ─── definitions ─────────────────────────────────────────────────────────────

func (vc *voiceCommands) voiceDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "voice",
		Description: "Manage the voice that reads your messages",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "set",
				Description: "Choose your speaker by name, name/style, or style id",
				Options: []*discordgo.ApplicationCommandOption{
					{
						Type:        discordgo.ApplicationCommandOptionString,
						Name:        "speaker",
						Description: "Speaker name (e.g. ずんだもん or Anneli/ノーマル) or numeric style id",
						Required:    true,
					},
				},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "current",
				Description: "Show the voice currently assigned to you",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List the voices available on the active engine",
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "reset",
				Description: "Forget your stored voice and use the default",
			},
		},
	}
}

func (vc *voiceCommands) skipDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "skip",
		Description: "Stop the current message and drop its remaining chunks",
	}
}

func (vc *voiceCommands) clearDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "clear",
		Description: "Drop everything queued for reading",
	}
}

func (vc *voiceCommands) statusDefinition() *discordgo.ApplicationCommand {
	return &discordgo.ApplicationCommand{
		Name:        "status",
		Description: "Show connection, queue, and engine status",
	}
}

// ─── handlers ────────────────────────────────────────────────────────────────

func (vc *voiceCommands) handleVoiceSet(s *discordgo.Session, i *discordgo.InteractionCreate) {
	input := stringOption(subOptions(i.ApplicationCommandData()), "speaker")
	userID := interactionUserID(i)
	if userID == "" {
		RespondEphemeral(s, i, "Could not identify you; try again from the server.")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	vc.bot.metrics.RecordCommand(ctx, "voice_set")

	pref, err := vc.bot.setVoice(ctx, userID, input)
	if err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEphemeral(s, i, fmt.Sprintf("Voice set to %s.", describePreference(pref)))
}

func (vc *voiceCommands) handleVoiceCurrent(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if userID == "" {
		RespondEphemeral(s, i, "Could not identify you; try again from the server.")
		return
	}
	vc.bot.metrics.RecordCommand(context.Background(), "voice_current")
	RespondEmbed(s, i, vc.bot.currentVoiceEmbed(userID))
}

func (vc *voiceCommands) handleVoiceList(s *discordgo.Session, i *discordgo.InteractionCreate) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()
	vc.bot.metrics.RecordCommand(ctx, "voice_list")

	embed, err := vc.bot.voiceListEmbed(ctx)
	if err != nil {
		RespondError(s, i, err)
		return
	}
	RespondEmbed(s, i, embed)
}

func (vc *voiceCommands) handleVoiceReset(s *discordgo.Session, i *discordgo.InteractionCreate) {
	userID := interactionUserID(i)
	if userID == "" {
		RespondEphemeral(s, i, "Could not identify you; try again from the server.")
		return
	}
	vc.bot.metrics.RecordCommand(context.Background(), "voice_reset")

	existed, err := vc.bot.voices.ClearPreference(userID)
	if err != nil {
		RespondError(s, i, err)
		return
	}
	if !existed {
		RespondEphemeral(s, i, "You had no stored voice; the default applies.")
		return
	}
	RespondEphemeral(s, i, "Voice preference cleared; the default applies from now on.")
}

func (vc *voiceCommands) handleSkip(s *discordgo.Session, i *discordgo.InteractionCreate) {
	vc.bot.metrics.RecordCommand(context.Background(), "skip")
	removed, stopped := vc.bot.skipCurrent()
	RespondEphemeral(s, i, skipReply(removed, stopped))
}

func (vc *voiceCommands) handleClear(s *discordgo.Session, i *discordgo.InteractionCreate) {
	vc.bot.metrics.RecordCommand(context.Background(), "clear")
	removed, stopped := vc.bot.clearAll()
	RespondEphemeral(s, i, clearReply(removed, stopped))
}

func (vc *voiceCommands) handleStatus(s *discordgo.Session, i *discordgo.InteractionCreate) {
	vc.bot.metrics.RecordCommand(context.Background(), "status")
	RespondEmbed(s, i, statusEmbed(vc.bot.collectStatus()))
}

// ─── prefix surface ──────────────────────────────────────────────────────────

// dispatchPrefix handles COMMAND_PREFIX commands in the target channel.
// It reports whether the message was consumed as a command.
func (b *Bot) dispatchPrefix(s *discordgo.Session, m *discordgo.MessageCreate) bool {
	if m.ChannelID != b.cfg.TargetChannelID || m.Author.Bot {
		return false
	}
	cmd, ok := prefixCommand(m.Content, b.cfg.CommandPrefix)
	if !ok {
		return false
	}
	b.metrics.RecordCommand(context.Background(), cmd)

	switch cmd {
	case "skip":
		removed, stopped := b.skipCurrent()
		replyText(s, m.Message, skipReply(removed, stopped))
	case "clear":
		removed, stopped := b.clearAll()
		replyText(s, m.Message, clearReply(removed, stopped))
	case "status":
		replyEmbed(s, m.Message, statusEmbed(b.collectStatus()))
	}
	return true
}

// prefixCommand extracts a known command word from content when it starts
// with the configured prefix. Anything else is left for admission to judge.
func prefixCommand(content, prefix string) (string, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(content), prefix)
	if !ok {
		return "", false
	}
	switch cmd := strings.ToLower(strings.TrimSpace(rest)); cmd {
	case "skip", "clear", "status":
		return cmd, true
	}
	return "", false
}

// ─── command cores ───────────────────────────────────────────────────────────

// setVoice resolves the user's input — a numeric style id, a speaker name,
// or "speaker/style" — and stores the preference.
func (b *Bot) setVoice(ctx context.Context, authorID, input string) (speaker.Preference, error) {
	input = strings.TrimSpace(input)
	if input == "" {
		return speaker.Preference{}, errors.New("no speaker given")
	}

	if id, err := strconv.Atoi(input); err == nil {
		name := b.lookupSpeakerName(ctx, id)
		return b.voices.SetPreference(authorID, id, name, "")
	}

	engine := b.voices.Engines().Default()
	speakers, err := b.client.Speakers(ctx, engine)
	if err != nil {
		return speaker.Preference{}, fmt.Errorf("speaker listing unavailable on %s: %w", engine.Tag, err)
	}
	id, ok := tts.FindSpeaker(speakers, input)
	if !ok {
		return speaker.Preference{}, fmt.Errorf("no speaker named %q on %s; try /voice list", input, engine.Tag)
	}
	return b.voices.SetPreference(authorID, id, input, engine.Tag)
}

// lookupSpeakerName fetches the display name behind a numeric style id from
// the catalogue of the engine that id belongs to. Best effort; an empty
// name is fine.
func (b *Bot) lookupSpeakerName(ctx context.Context, id int) string {
	engine, ok := b.voices.Engines().Get(tts.InferTag(id))
	if !ok {
		return ""
	}
	speakers, err := b.client.Speakers(ctx, engine)
	if err != nil {
		return ""
	}
	for _, sp := range speakers {
		for _, st := range sp.Styles {
			if st.ID == id {
				return sp.Name + "/" + st.Name
			}
		}
	}
	return ""
}

// skipCurrent drops the playing group from both queues and stops the
// in-flight transmission.
func (b *Bot) skipCurrent() (removed int, stopped bool) {
	removed = b.pipe.SkipGroup("")
	if b.voice.Playing() {
		b.voice.Stop()
		stopped = true
	}
	if b.metrics != nil {
		b.metrics.RecordItemsSkipped(context.Background(), removed)
	}
	return removed, stopped
}

// clearAll drops everything queued and stops the in-flight transmission.
func (b *Bot) clearAll() (removed int, stopped bool) {
	removed = b.pipe.ClearAll()
	if b.voice.Playing() {
		b.voice.Stop()
		stopped = true
	}
	if b.metrics != nil {
		b.metrics.RecordItemsSkipped(context.Background(), removed)
	}
	return removed, stopped
}

// currentVoiceEmbed describes the stored preference and what will actually
// play on the active engine, which differ when cross-engine mapping kicks in.
func (b *Bot) currentVoiceEmbed(authorID string) *discordgo.MessageEmbed {
	activeID, activeEngine := b.voices.Resolve(authorID)

	stored := "none — the default voice applies"
	if pref, ok := b.voices.Preference(authorID); ok {
		stored = describePreference(pref)
	}

	return &discordgo.MessageEmbed{
		Title: "Your voice",
		Color: embedColorNeutral,
		Fields: []*discordgo.MessageEmbedField{
			{Name: "Stored preference", Value: stored},
			{Name: "Plays as", Value: fmt.Sprintf("style id %d on %s", activeID, activeEngine.Tag)},
		},
	}
}

// voiceListEmbed renders the active engine's catalogue.
func (b *Bot) voiceListEmbed(ctx context.Context) (*discordgo.MessageEmbed, error) {
	engine := b.voices.Engines().Default()
	speakers, err := b.client.Speakers(ctx, engine)
	if err != nil {
		return nil, fmt.Errorf("speaker listing unavailable on %s: %w", engine.Tag, err)
	}
	return speakerListEmbed(engine.Tag, speakers), nil
}

// speakerListEmbed formats a catalogue into one embed, truncated to
// voiceListLimit speakers.
func speakerListEmbed(engineTag string, speakers []tts.Speaker) *discordgo.MessageEmbed {
	var sb strings.Builder
	shown := 0
	for _, sp := range speakers {
		if shown == voiceListLimit {
			break
		}
		if len(sp.Styles) == 0 {
			continue
		}
		styles := make([]string, 0, len(sp.Styles))
		for _, st := range sp.Styles {
			styles = append(styles, fmt.Sprintf("%s(%d)", st.Name, st.ID))
		}
		fmt.Fprintf(&sb, "**%s** — %s\n", sp.Name, strings.Join(styles, ", "))
		shown++
	}
	if sb.Len() == 0 {
		sb.WriteString("No speakers installed.")
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Voices on %s", engineTag),
		Description: sb.String(),
		Color:       embedColorNeutral,
	}
	if rest := len(speakers) - shown; rest > 0 {
		embed.Footer = &discordgo.MessageEmbedFooter{
			Text: fmt.Sprintf("…and %d more — set by style id with /voice set", rest),
		}
	}
	return embed
}

// ─── small helpers ───────────────────────────────────────────────────────────

func describePreference(pref speaker.Preference) string {
	if pref.SpeakerName != "" {
		return fmt.Sprintf("%s (style id %d, %s)", pref.SpeakerName, pref.SpeakerID, pref.Engine)
	}
	return fmt.Sprintf("style id %d (%s)", pref.SpeakerID, pref.Engine)
}

func skipReply(removed int, stopped bool) string {
	switch {
	case removed == 0 && !stopped:
		return "Nothing is playing."
	case removed == 0:
		return "Stopped the current message."
	case !stopped:
		return fmt.Sprintf("Dropped %d queued chunk(s).", removed)
	default:
		return fmt.Sprintf("Stopped the current message and dropped %d queued chunk(s).", removed)
	}
}

func clearReply(removed int, stopped bool) string {
	switch {
	case removed == 0 && !stopped:
		return "The queue is already empty."
	case removed == 0:
		return "Stopped the current message; the queue was empty."
	default:
		return fmt.Sprintf("Cleared %d queued item(s).", removed)
	}
}

// subOptions returns the options of the invoked subcommand, or the top-level
// options when no subcommand is involved.
func subOptions(data discordgo.ApplicationCommandInteractionData) []*discordgo.ApplicationCommandInteractionDataOption {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Options[0].Options
	}
	return data.Options
}

func stringOption(opts []*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	for _, o := range opts {
		if o.Name == name {
			return o.StringValue()
		}
	}
	return ""
}

// interactionUserID works for both guild (Member) and DM (User) invocations.
func interactionUserID(i *discordgo.InteractionCreate) string {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User.ID
	}
	if i.User != nil {
		return i.User.ID
	}
	return ""
}
