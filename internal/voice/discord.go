package voice

import (
	"net/http"

	"github.com/bwmarrin/discordgo"
)

// Compile-time interface assertions.
var (
	_ Gateway = (*SessionGateway)(nil)
	_ Link    = (*discordLink)(nil)
)

// Gateway is the slice of the Discord session the controller depends on.
// [SessionGateway] adapts *discordgo.Session; tests substitute fakes.
type Gateway interface {
	// Channel resolves a channel by id.
	Channel(id string) (*discordgo.Channel, error)

	// Join establishes a voice transport on the given channel.
	Join(channelID string) (Link, error)

	// Unsuppress clears the bot's suppressed flag on a stage channel.
	Unsuppress(channelID string) error

	// BotUserID returns the bot's own user id.
	BotUserID() string
}

// Link is an established voice transport.
type Link interface {
	// Ready reports whether the transport finished its handshake.
	Ready() bool

	// Move switches the transport to another channel in the same guild.
	Move(channelID string) error

	// Speaking toggles the speaking indicator. It must be on for audio
	// to be heard.
	Speaking(on bool) error

	// Send returns the channel Opus packets are written to.
	Send() chan<- []byte

	// Disconnect tears the transport down.
	Disconnect() error
}

// SessionGateway adapts *discordgo.Session to [Gateway] for one guild.
type SessionGateway struct {
	session *discordgo.Session
	guildID string
}

// NewSessionGateway creates a [SessionGateway] for the given session and guild.
func NewSessionGateway(session *discordgo.Session, guildID string) *SessionGateway {
	return &SessionGateway{session: session, guildID: guildID}
}

// Channel resolves a channel from gateway state first, falling back to REST.
func (g *SessionGateway) Channel(id string) (*discordgo.Channel, error) {
	if ch, err := g.session.State.Channel(id); err == nil {
		return ch, nil
	}
	return g.session.Channel(id)
}

// Join connects to the channel unmuted and deafened: the bot only speaks.
func (g *SessionGateway) Join(channelID string) (Link, error) {
	vc, err := g.session.ChannelVoiceJoin(g.guildID, channelID, false, true)
	if err != nil {
		return nil, err
	}
	return &discordLink{vc: vc}, nil
}

// Unsuppress patches the bot's own voice state so it is audible on stage
// channels. discordgo has no wrapper for this endpoint.
func (g *SessionGateway) Unsuppress(channelID string) error {
	endpoint := discordgo.EndpointGuild(g.guildID) + "/voice-states/@me"
	payload := struct {
		ChannelID string `json:"channel_id"`
		Suppress  bool   `json:"suppress"`
	}{ChannelID: channelID, Suppress: false}
	_, err := g.session.RequestWithBucketID(http.MethodPatch, endpoint, payload, endpoint)
	return err
}

// BotUserID returns the bot user's id, or "" before the ready event.
func (g *SessionGateway) BotUserID() string {
	if u := g.session.State.User; u != nil {
		return u.ID
	}
	return ""
}

// discordLink adapts *discordgo.VoiceConnection to [Link].
type discordLink struct {
	vc *discordgo.VoiceConnection
}

func (l *discordLink) Ready() bool {
	l.vc.RLock()
	defer l.vc.RUnlock()
	return l.vc.Ready
}

func (l *discordLink) Move(channelID string) error {
	return l.vc.ChangeChannel(channelID, false, true)
}

func (l *discordLink) Speaking(on bool) error { return l.vc.Speaking(on) }

func (l *discordLink) Send() chan<- []byte { return l.vc.OpusSend }

func (l *discordLink) Disconnect() error { return l.vc.Disconnect() }
