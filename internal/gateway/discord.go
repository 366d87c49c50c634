package gateway

import (
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/pkg/constants"
)

// discordCredentials is the slice of the opaque credentials blob the
// Discord adapter understands.
type discordCredentials struct {
	Token string `json:"token"`
}

// DiscordGateway logs accounts in against Discord.
type DiscordGateway struct{}

// NewDiscordGateway creates a Discord-backed gateway.
func NewDiscordGateway() *DiscordGateway {
	return &DiscordGateway{}
}

// Login opens a Discord session for the token carried in creds and returns
// a handle bound to it. Open blocks until the READY event, so the returned
// handle always knows its own user id.
func (g *DiscordGateway) Login(creds Credentials, opts Options) (Handle, error) {
	var dc discordCredentials
	if err := json.Unmarshal(creds, &dc); err != nil {
		return nil, fmt.Errorf("invalid discord credentials: %w", err)
	}
	if dc.Token == "" {
		return nil, fmt.Errorf("discord credentials missing token")
	}

	logger.WithField("token", maskSecret(dc.Token)).Info("discord-login-started")

	session, err := discordgo.New("Bot " + dc.Token)
	if err != nil {
		return nil, fmt.Errorf("failed to create discord session: %w", err)
	}
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentMessageContent

	if err := session.Open(); err != nil {
		return nil, fmt.Errorf("failed to open discord connection: %w", err)
	}

	userID := ""
	if session.State != nil && session.State.User != nil {
		userID = session.State.User.ID
	}

	logger.WithField("user_id", userID).Info("discord-login-succeeded")

	return &discordHandle{
		session:    session,
		userID:     userID,
		selfListen: opts.SelfListen,
	}, nil
}

// discordHandle is one logged-in Discord account.
type discordHandle struct {
	mu         sync.RWMutex
	session    *discordgo.Session
	userID     string
	selfListen bool
}

func (h *discordHandle) SendMessage(text, threadID, replyTo string) (*SendReceipt, error) {
	h.mu.RLock()
	session := h.session
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("discord session is closed")
	}

	// Discord limit: message length. Keep the newest content.
	if len(text) > constants.MaxDiscordMessageLength {
		logger.WithFields(logrus.Fields{
			"original_length": len(text),
			"max_length":      constants.MaxDiscordMessageLength,
		}).Info("truncating-message-for-discord-limit")
		text = "..." + text[len(text)-constants.MaxDiscordMessageLength+3:]
	}

	var (
		msg *discordgo.Message
		err error
	)
	if replyTo != "" {
		msg, err = session.ChannelMessageSendReply(threadID, text, &discordgo.MessageReference{
			MessageID: replyTo,
			ChannelID: threadID,
		})
	} else {
		msg, err = session.ChannelMessageSend(threadID, text)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to send message to channel %s: %w", threadID, err)
	}

	return &SendReceipt{
		MessageID: msg.ID,
		ThreadID:  threadID,
		SentAt:    time.Now(),
	}, nil
}

func (h *discordHandle) Listen(onEvent func(Event)) (StopFunc, error) {
	h.mu.RLock()
	session := h.session
	h.mu.RUnlock()
	if session == nil {
		return nil, fmt.Errorf("discord session is closed")
	}

	remove := session.AddHandler(func(s *discordgo.Session, m *discordgo.MessageCreate) {
		if m.Author == nil {
			return
		}
		if !h.selfListen && (m.Author.Bot || m.Author.ID == h.userID) {
			return
		}

		logger.WithFields(logrus.Fields{
			"user_id":    m.Author.ID,
			"channel":    m.ChannelID,
			"message_id": m.ID,
		}).Debug("received-discord-message")

		onEvent(Event{
			Type:      EventTypeMessage,
			ThreadID:  m.ChannelID,
			MessageID: m.ID,
			SenderID:  m.Author.ID,
			Body:      m.Content,
			Timestamp: time.Now(),
		})
	})

	var once sync.Once
	return func() {
		once.Do(remove)
	}, nil
}

func (h *discordHandle) Logout() error {
	h.mu.Lock()
	session := h.session
	h.session = nil
	h.mu.Unlock()

	if session == nil {
		return nil
	}
	if err := session.Close(); err != nil {
		return fmt.Errorf("failed to close discord session: %w", err)
	}
	return nil
}

func (h *discordHandle) CurrentUserID() string {
	return h.userID
}

// StartPresence keeps the account visibly online by refreshing its status.
func (h *discordHandle) StartPresence(interval time.Duration) StopFunc {
	if interval <= 0 {
		interval = constants.DefaultPresenceInterval
	}
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				h.mu.RLock()
				session := h.session
				h.mu.RUnlock()
				if session == nil {
					return
				}
				if err := session.UpdateGameStatus(0, ""); err != nil {
					logger.WithField("error", err).Warn("discord-presence-update-failed")
				}
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() { close(done) })
	}
}
