package gateway

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog"
)

type TelegramGateway struct {
	bot     *tgbotapi.BotAPI
	handler Handler
	welcome string
	log     zerolog.Logger
}

func NewTelegramGateway(token string, handler Handler, welcome string, log zerolog.Logger) (*TelegramGateway, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("telegram auth: %w", err)
	}

	log = log.With().Str("gateway", "telegram").Logger()
	log.Info().Str("account", bot.Self.UserName).Msg("authorized")

	return &TelegramGateway{bot: bot, handler: handler, welcome: welcome, log: log}, nil
}

func (tg *TelegramGateway) Start() error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	for update := range tg.bot.GetUpdatesChan(u) {
		if update.Message == nil {
			continue
		}
		chatID := strconv.FormatInt(update.Message.Chat.ID, 10)
		text := update.Message.Text
		tg.log.Debug().Str("chat_id", chatID).Str("from", update.Message.From.UserName).Msg("message received")

		if strings.HasPrefix(text, "/start") {
			if err := tg.Send(chatID, tg.welcome); err != nil {
				tg.log.Error().Err(err).Str("chat_id", chatID).Msg("welcome failed")
			}
			continue
		}
		tg.handler.HandleInbound(context.Background(), chatID, text)
	}
	return nil
}

func (tg *TelegramGateway) Send(chatID string, text string) error {
	id, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid chat ID %q: %w", chatID, err)
	}
	msg := tgbotapi.NewMessage(id, text)
	_, err = tg.bot.Send(msg)
	return err
}

func (tg *TelegramGateway) Stop() error {
	tg.bot.StopReceivingUpdates()
	return nil
}
