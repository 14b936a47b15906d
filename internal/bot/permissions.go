package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// The bot is useless without these three permissions on the target channel:
// it must see the channel, join it, and transmit audio.
var criticalPermissions = []struct {
	bit  int64
	name string
}{
	{discordgo.PermissionViewChannel, "view_channel"},
	{discordgo.PermissionVoiceConnect, "connect"},
	{discordgo.PermissionVoiceSpeak, "speak"},
}

// missingPermissions names the critical permissions absent from perms.
func missingPermissions(perms int64) []string {
	if perms&discordgo.PermissionAdministrator != 0 {
		return nil
	}
	var missing []string
	for _, p := range criticalPermissions {
		if perms&p.bit == 0 {
			missing = append(missing, p.name)
		}
	}
	return missing
}

// checkTTS probes the active engine. Wired as the health monitor's TTS
// checker; its failures drive the consecutive-unavailability clock.
func (b *Bot) checkTTS(ctx context.Context) error {
	engine := b.client.Engines().Default()
	ok, detail := b.client.Ping(ctx, engine)
	b.metrics.RecordProbe(ctx, engine.Tag, detail)
	if !ok {
		return fmt.Errorf("engine %s unavailable: %s", engine.Tag, detail)
	}
	return nil
}

// checkVoice diagnoses the voice session through the controller's probe.
func (b *Bot) checkVoice(context.Context) error {
	report := b.voice.Probe()
	if len(report.Issues) > 0 {
		return errors.New(strings.Join(report.Issues, "; "))
	}
	return nil
}

// checkChannelPermissions verifies the critical permissions on the target
// voice channel, state-first with a REST fallback.
func (b *Bot) checkChannelPermissions(ctx context.Context) error {
	session := b.Session()
	botID := ""
	if u := session.State.User; u != nil {
		botID = u.ID
	}
	if botID == "" {
		return errors.New("bot identity not known yet")
	}

	perms, err := session.UserChannelPermissions(botID, b.cfg.TargetChannelID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("permission lookup: %w", err)
	}
	if missing := missingPermissions(perms); len(missing) > 0 {
		return fmt.Errorf("missing on channel %s: %s", b.cfg.TargetChannelID, strings.Join(missing, ", "))
	}
	return nil
}

// checkGuildPermissions recomputes the bot's guild-wide role permissions
// fresh from the API. Wired as the slow permission sweep; a failure here
// terminates the process.
func (b *Bot) checkGuildPermissions(ctx context.Context) error {
	session := b.Session()
	botID := ""
	if u := session.State.User; u != nil {
		botID = u.ID
	}
	if botID == "" {
		return errors.New("bot identity not known yet")
	}

	member, err := session.GuildMember(b.guildID, botID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("member lookup: %w", err)
	}
	roles, err := session.GuildRoles(b.guildID, discordgo.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("role lookup: %w", err)
	}

	perms := guildPermissions(b.guildID, member.Roles, roles)
	if missing := missingPermissions(perms); len(missing) > 0 {
		return fmt.Errorf("missing in guild %s: %s", b.guildID, strings.Join(missing, ", "))
	}
	return nil
}

// guildPermissions ORs the @everyone role (whose id equals the guild id)
// with every role the member holds. Channel overwrites are intentionally
// not applied; those are the channel checker's concern.
func guildPermissions(guildID string, memberRoles []string, roles []*discordgo.Role) int64 {
	held := make(map[string]bool, len(memberRoles)+1)
	held[guildID] = true
	for _, id := range memberRoles {
		held[id] = true
	}

	var perms int64
	for _, role := range roles {
		if held[role.ID] {
			perms |= role.Permissions
		}
	}
	return perms
}
