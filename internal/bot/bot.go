package bot

import (
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/susu3304/warikanbot/internal/ledger"
	"go.uber.org/zap"
)

type Bot struct {
	session *discordgo.Session
	ledger  *ledger.Service
	logger  *zap.Logger
}

// NewSession creates the Discord session shared by the bot and the DM
// notifier. The notifier has to exist before the ledger service, which the
// bot in turn depends on.
func NewSession(token string) (*discordgo.Session, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsDirectMessages
	return session, nil
}

func New(session *discordgo.Session, svc *ledger.Service, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	bot := &Bot{
		session: session,
		ledger:  svc,
		logger:  logger,
	}

	// Register event handlers
	session.AddHandler(bot.onReady)
	session.AddHandler(bot.onGuildCreate)
	session.AddHandler(bot.onInteractionCreate)

	return bot
}

func (b *Bot) Start() error {
	if err := b.session.Open(); err != nil {
		return fmt.Errorf("failed to open discord session: %w", err)
	}
	b.logger.Info("discord bot is running")
	return nil
}

func (b *Bot) Stop() error {
	return b.session.Close()
}
