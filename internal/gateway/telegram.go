package gateway

import (
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/pkg/constants"
)

// telegramCredentials is the slice of the opaque credentials blob the
// Telegram adapter understands.
type telegramCredentials struct {
	Token string `json:"token"`
}

// TelegramGateway logs accounts in against Telegram using long polling.
type TelegramGateway struct{}

// NewTelegramGateway creates a Telegram-backed gateway.
func NewTelegramGateway() *TelegramGateway {
	return &TelegramGateway{}
}

// Login validates the token against the Telegram API and returns a handle.
func (g *TelegramGateway) Login(creds Credentials, opts Options) (Handle, error) {
	var tc telegramCredentials
	if err := json.Unmarshal(creds, &tc); err != nil {
		return nil, fmt.Errorf("invalid telegram credentials: %w", err)
	}
	if tc.Token == "" {
		return nil, fmt.Errorf("telegram credentials missing token")
	}

	logger.WithField("token", maskSecret(tc.Token)).Info("telegram-login-started")

	bot, err := tgbotapi.NewBotAPI(tc.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize telegram bot: %w", err)
	}

	logger.WithFields(logrus.Fields{
		"bot_username": bot.Self.UserName,
		"bot_id":       bot.Self.ID,
	}).Info("telegram-login-succeeded")

	return &telegramHandle{
		bot:        bot,
		userID:     strconv.FormatInt(bot.Self.ID, 10),
		selfListen: opts.SelfListen,
	}, nil
}

// telegramHandle is one logged-in Telegram bot account.
type telegramHandle struct {
	mu         sync.RWMutex
	bot        *tgbotapi.BotAPI
	userID     string
	selfListen bool
}

func (h *telegramHandle) SendMessage(text, threadID, replyTo string) (*SendReceipt, error) {
	h.mu.RLock()
	bot := h.bot
	h.mu.RUnlock()
	if bot == nil {
		return nil, fmt.Errorf("telegram session is closed")
	}

	chatID, err := strconv.ParseInt(threadID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid telegram chat id %q: %w", threadID, err)
	}

	if len(text) > constants.MaxTelegramMessageLength {
		logger.WithFields(logrus.Fields{
			"original_length": len(text),
			"max_length":      constants.MaxTelegramMessageLength,
		}).Info("truncating-message-for-telegram-limit")
		text = "..." + text[len(text)-constants.MaxTelegramMessageLength+3:]
	}

	msg := tgbotapi.NewMessage(chatID, text)
	if replyTo != "" {
		if replyID, err := strconv.Atoi(replyTo); err == nil {
			msg.ReplyToMessageID = replyID
		}
	}

	sent, err := bot.Send(msg)
	if err != nil {
		return nil, fmt.Errorf("failed to send message to chat %s: %w", threadID, err)
	}

	return &SendReceipt{
		MessageID: strconv.Itoa(sent.MessageID),
		ThreadID:  threadID,
		SentAt:    time.Now(),
	}, nil
}

func (h *telegramHandle) Listen(onEvent func(Event)) (StopFunc, error) {
	h.mu.RLock()
	bot := h.bot
	h.mu.RUnlock()
	if bot == nil {
		return nil, fmt.Errorf("telegram session is closed")
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(constants.DefaultPollTimeout.Seconds())
	updates := bot.GetUpdatesChan(u)

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case update, ok := <-updates:
				if !ok {
					logger.Info("telegram-updates-channel-closed")
					return
				}
				if update.Message == nil || update.Message.From == nil {
					continue
				}
				if !h.selfListen && strconv.FormatInt(update.Message.From.ID, 10) == h.userID {
					continue
				}
				onEvent(Event{
					Type:      EventTypeMessage,
					ThreadID:  strconv.FormatInt(update.Message.Chat.ID, 10),
					MessageID: strconv.Itoa(update.Message.MessageID),
					SenderID:  strconv.FormatInt(update.Message.From.ID, 10),
					Body:      update.Message.Text,
					Timestamp: time.Now(),
				})
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			bot.StopReceivingUpdates()
		})
	}, nil
}

// Logout stops polling. Telegram bot tokens have no session to invalidate,
// so teardown is local.
func (h *telegramHandle) Logout() error {
	h.mu.Lock()
	bot := h.bot
	h.bot = nil
	h.mu.Unlock()

	if bot != nil {
		bot.StopReceivingUpdates()
	}
	return nil
}

func (h *telegramHandle) CurrentUserID() string {
	return h.userID
}
