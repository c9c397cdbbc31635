package channels

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rs/zerolog/log"
)

// TelegramConfig configures the telegram channel.
type TelegramConfig struct {
	BotToken       string
	AllowedUserIDs []int64
}

// TelegramChannel bridges Telegram long polling into the dispatch flow. One
// bot serves all allowed users; replies go back to the originating chat.
type TelegramChannel struct {
	api     *tgbotapi.BotAPI
	allowed map[int64]bool

	mu      sync.Mutex
	running bool
}

// NewTelegramChannel authenticates the bot and prepares the channel.
func NewTelegramChannel(cfg TelegramConfig) (*TelegramChannel, error) {
	if cfg.BotToken == "" {
		return nil, fmt.Errorf("bot token is required")
	}

	api, err := tgbotapi.NewBotAPI(cfg.BotToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot API: %w", err)
	}

	allowed := make(map[int64]bool, len(cfg.AllowedUserIDs))
	for _, id := range cfg.AllowedUserIDs {
		allowed[id] = true
	}

	log.Info().
		Str("username", api.Self.UserName).
		Int64("id", api.Self.ID).
		Msg("Telegram bot authenticated")

	return &TelegramChannel{api: api, allowed: allowed}, nil
}

// Name returns the channel name.
func (c *TelegramChannel) Name() string {
	return "telegram"
}

// Start begins long polling for updates.
func (c *TelegramChannel) Start(ctx context.Context, dispatch DispatchFunc) error {
	if dispatch == nil {
		return fmt.Errorf("dispatch function is required")
	}

	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("telegram channel is already running")
	}
	c.running = true
	c.mu.Unlock()

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := c.api.GetUpdatesChan(u)

	go c.processUpdates(ctx, updates, dispatch)

	log.Info().Msg("Telegram channel started")
	return nil
}

func (c *TelegramChannel) processUpdates(ctx context.Context, updates tgbotapi.UpdatesChannel, dispatch DispatchFunc) {
	for update := range updates {
		if ctx.Err() != nil {
			return
		}
		if update.Message == nil || update.Message.Text == "" {
			continue
		}

		userID := update.Message.From.ID
		if len(c.allowed) > 0 && !c.allowed[userID] {
			log.Warn().Int64("user_id", userID).Msg("Message from unauthorized user ignored")
			continue
		}

		reply, err := dispatch(ctx, InboundMessage{
			Channel:  c.Name(),
			SenderID: strconv.FormatInt(userID, 10),
			Content:  update.Message.Text,
			Metadata: map[string]interface{}{
				"chat_id":    update.Message.Chat.ID,
				"message_id": update.Message.MessageID,
			},
		})
		if err != nil {
			reply = fmt.Sprintf("error: %v", err)
		}
		if reply == "" {
			continue
		}

		msg := tgbotapi.NewMessage(update.Message.Chat.ID, reply)
		msg.ReplyToMessageID = update.Message.MessageID
		if _, err := c.api.Send(msg); err != nil {
			log.Error().Err(err).Int64("chat_id", update.Message.Chat.ID).Msg("Failed to send reply")
		}
	}
}

// Stop ends long polling.
func (c *TelegramChannel) Stop(ctx context.Context) error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = false
	c.mu.Unlock()

	c.api.StopReceivingUpdates()
	log.Info().Msg("Telegram channel stopped")
	return nil
}
