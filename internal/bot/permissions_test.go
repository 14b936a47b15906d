package bot

import (
	"reflect"
	"testing"

	"github.com/bwmarrin/discordgo"
)

const allCritical = discordgo.PermissionViewChannel |
	discordgo.PermissionVoiceConnect |
	discordgo.PermissionVoiceSpeak

func TestMissingPermissions(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		perms int64
		want  []string
	}{
		{
			name:  "all present",
			perms: allCritical,
			want:  nil,
		},
		{
			name:  "administrator implies everything",
			perms: discordgo.PermissionAdministrator,
			want:  nil,
		},
		{
			name:  "none present",
			perms: 0,
			want:  []string{"view_channel", "connect", "speak"},
		},
		{
			name:  "can see but not speak",
			perms: discordgo.PermissionViewChannel | discordgo.PermissionVoiceConnect,
			want:  []string{"speak"},
		},
		{
			name:  "unrelated bits do not count",
			perms: discordgo.PermissionManageMessages | discordgo.PermissionVoiceSpeak,
			want:  []string{"view_channel", "connect"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := missingPermissions(tt.perms); !reflect.DeepEqual(got, tt.want) {
				t.Errorf("missingPermissions(%#x) = %v, want %v", tt.perms, got, tt.want)
			}
		})
	}
}

func TestGuildPermissions(t *testing.T) {
	t.Parallel()

	const guildID = "g1"
	roles := []*discordgo.Role{
		{ID: guildID, Permissions: discordgo.PermissionViewChannel}, // @everyone
		{ID: "r-voice", Permissions: discordgo.PermissionVoiceConnect | discordgo.PermissionVoiceSpeak},
		{ID: "r-mod", Permissions: discordgo.PermissionManageMessages},
	}

	tests := []struct {
		name        string
		memberRoles []string
		want        int64
	}{
		{
			name:        "everyone only",
			memberRoles: nil,
			want:        discordgo.PermissionViewChannel,
		},
		{
			name:        "held roles accumulate",
			memberRoles: []string{"r-voice"},
			want:        allCritical,
		},
		{
			name:        "unheld roles ignored",
			memberRoles: []string{"r-voice", "r-unknown"},
			want:        allCritical,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := guildPermissions(guildID, tt.memberRoles, roles); got != tt.want {
				t.Errorf("guildPermissions = %#x, want %#x", got, tt.want)
			}
		})
	}
}
