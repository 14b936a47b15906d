package bot

import (
	"log/slog"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// HandlerFunc handles one slash command interaction.
type HandlerFunc func(s *discordgo.Session, i *discordgo.InteractionCreate)

// CommandRouter maps slash command invocations onto handlers. Keys are a
// bare command name or "parent/sub" for subcommands; the parent owns the
// Discord-side definition in both cases.
type CommandRouter struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
	defs     []*discordgo.ApplicationCommand
}

// NewCommandRouter returns a router with no commands bound.
func NewCommandRouter() *CommandRouter {
	return &CommandRouter{handlers: make(map[string]HandlerFunc)}
}

// RegisterCommand binds handler to key and records cmd for API
// registration, skipping definitions whose name is already recorded so a
// parent shared across subcommand keys is pushed once.
func (r *CommandRouter) RegisterCommand(key string, cmd *discordgo.ApplicationCommand, handler HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.handlers[key] = handler
	if cmd == nil {
		return
	}
	for _, d := range r.defs {
		if d.Name == cmd.Name {
			return
		}
	}
	r.defs = append(r.defs, cmd)
}

// RegisterHandler binds a handler under a key whose parent definition was
// registered separately, as with "voice/set" under "voice".
func (r *CommandRouter) RegisterHandler(key string, handler HandlerFunc) {
	r.RegisterCommand(key, nil, handler)
}

// ApplicationCommands lists the top-level definitions to push to Discord.
func (r *CommandRouter) ApplicationCommands() []*discordgo.ApplicationCommand {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.defs) == 0 {
		return nil
	}
	out := make([]*discordgo.ApplicationCommand, len(r.defs))
	copy(out, r.defs)
	return out
}

// Handle routes an interaction to its handler. Anything other than an
// application command is ignored; the bot registers no components, modals,
// or autocomplete sources.
func (r *CommandRouter) Handle(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		slog.Debug("ignoring interaction", "type", i.Type)
		return
	}

	key := commandKey(i.ApplicationCommandData())
	r.mu.RLock()
	handler := r.handlers[key]
	r.mu.RUnlock()

	if handler == nil {
		slog.Warn("unknown command", "key", key)
		RespondEphemeral(s, i, "Unknown command.")
		return
	}
	handler(s, i)
}

// commandKey derives the lookup key, descending one level when the first
// option is a subcommand.
func commandKey(data discordgo.ApplicationCommandInteractionData) string {
	if len(data.Options) > 0 && data.Options[0].Type == discordgo.ApplicationCommandOptionSubCommand {
		return data.Name + "/" + data.Options[0].Name
	}
	return data.Name
}
