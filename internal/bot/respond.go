package bot

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
)

// respond answers an interaction with a channel message. Failures are
// logged, not returned; handlers have no recovery path for them.
func respond(s *discordgo.Session, i *discordgo.InteractionCreate, data *discordgo.InteractionResponseData) {
	err := s.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: data,
	})
	if err != nil {
		slog.Warn("interaction response failed", "err", err)
	}
}

// RespondEphemeral answers an interaction with text only the invoker sees.
func RespondEphemeral(s *discordgo.Session, i *discordgo.InteractionCreate, content string) {
	respond(s, i, &discordgo.InteractionResponseData{
		Content: content,
		Flags:   discordgo.MessageFlagsEphemeral,
	})
}

// RespondEmbed answers an interaction with an embed the whole channel sees.
func RespondEmbed(s *discordgo.Session, i *discordgo.InteractionCreate, embed *discordgo.MessageEmbed) {
	respond(s, i, &discordgo.InteractionResponseData{
		Embeds: []*discordgo.MessageEmbed{embed},
	})
}

// RespondError reports err to the invoker without exposing it to the channel.
func RespondError(s *discordgo.Session, i *discordgo.InteractionCreate, err error) {
	RespondEphemeral(s, i, fmt.Sprintf("Error: %v", err))
}

// replyEmbed posts an embed as a reply to a plain chat message. The prefix
// command surface has no interaction to respond to.
func replyEmbed(s *discordgo.Session, m *discordgo.Message, embed *discordgo.MessageEmbed) {
	_, err := s.ChannelMessageSendComplex(m.ChannelID, &discordgo.MessageSend{
		Embeds:    []*discordgo.MessageEmbed{embed},
		Reference: m.Reference(),
	})
	if err != nil {
		slog.Warn("embed reply failed", "err", err)
	}
}

// replyText posts a plain-text reply to a chat message.
func replyText(s *discordgo.Session, m *discordgo.Message, content string) {
	_, err := s.ChannelMessageSendReply(m.ChannelID, content, m.Reference())
	if err != nil {
		slog.Warn("text reply failed", "err", err)
	}
}
