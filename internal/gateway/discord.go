package gateway

import (
	"context"
	"fmt"

	"github.com/bwmarrin/discordgo"
	"github.com/rs/zerolog"
)

type DiscordGateway struct {
	session *discordgo.Session
	handler Handler
	done    chan struct{}
	log     zerolog.Logger
}

func NewDiscordGateway(token string, handler Handler, log zerolog.Logger) (*DiscordGateway, error) {
	session, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, fmt.Errorf("discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsDirectMessages | discordgo.IntentMessageContent

	g := &DiscordGateway{
		session: session,
		handler: handler,
		done:    make(chan struct{}),
		log:     log.With().Str("gateway", "discord").Logger(),
	}
	session.AddHandler(g.onMessage)
	return g, nil
}

func (g *DiscordGateway) onMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author.ID == s.State.User.ID || m.Author.Bot {
		return
	}
	g.log.Debug().Str("channel", m.ChannelID).Str("author", m.Author.Username).Msg("message received")
	g.handler.HandleInbound(context.Background(), m.ChannelID, m.Content)
}

func (g *DiscordGateway) Start() error {
	if err := g.session.Open(); err != nil {
		return fmt.Errorf("discord connect: %w", err)
	}
	g.log.Info().Str("account", g.session.State.User.Username).Msg("connected")
	<-g.done
	return nil
}

func (g *DiscordGateway) Send(chatID string, text string) error {
	_, err := g.session.ChannelMessageSend(chatID, text)
	return err
}

func (g *DiscordGateway) Stop() error {
	close(g.done)
	return g.session.Close()
}
