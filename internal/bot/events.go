package bot

import (
	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/warikanbot/internal/commands"
	"go.uber.org/zap"
)

func (b *Bot) onReady(s *discordgo.Session, event *discordgo.Ready) {
	b.logger.Info("connected to discord", zap.String("user", event.User.Username))

	// Register commands for all guilds
	for _, guild := range event.Guilds {
		if err := b.registerGuildCommands(guild.ID); err != nil {
			b.logger.Error("failed to register commands", zap.String("guild_id", guild.ID), zap.Error(err))
		}
	}
}

func (b *Bot) onGuildCreate(s *discordgo.Session, event *discordgo.GuildCreate) {
	b.logger.Info("guild available, ensuring commands", zap.String("guild", event.Name), zap.String("guild_id", event.ID))
	if err := b.registerGuildCommands(event.ID); err != nil {
		b.logger.Error("failed to register commands", zap.String("guild_id", event.ID), zap.Error(err))
	}
}

func (b *Bot) registerGuildCommands(guildID string) error {
	cmds := commands.GetCommands()
	// Delete existing commands and register new ones
	_, err := b.session.ApplicationCommandBulkOverwrite(b.session.State.User.ID, guildID, cmds)
	if err != nil {
		return err
	}

	b.logger.Debug("registered application commands", zap.String("guild_id", guildID))
	return nil
}

func (b *Bot) onInteractionCreate(s *discordgo.Session, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}
	switch i.ApplicationCommandData().Name {
	case "warikan":
		commands.HandleWarikan(s, i, b.ledger, b.logger)
	}
}
