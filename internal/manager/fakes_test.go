package manager

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/store"
)

// fakeGateway hands out pre-built handles and optionally delays or fails
// the login.
type fakeGateway struct {
	mu         sync.Mutex
	loginErr   error
	loginDelay time.Duration
	handles    []*fakeHandle
	logins     int
}

func (g *fakeGateway) Login(creds gateway.Credentials, opts gateway.Options) (gateway.Handle, error) {
	g.mu.Lock()
	g.logins++
	delay := g.loginDelay
	err := g.loginErr
	g.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	if err != nil {
		return nil, err
	}

	h := &fakeHandle{userID: "user-" + string(creds)}
	g.mu.Lock()
	g.handles = append(g.handles, h)
	g.mu.Unlock()
	return h, nil
}

func (g *fakeGateway) loginCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.logins
}

func (g *fakeGateway) lastHandle() *fakeHandle {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.handles) == 0 {
		return nil
	}
	return g.handles[len(g.handles)-1]
}

type sentMessage struct {
	Text     string
	ThreadID string
	ReplyTo  string
}

// fakeHandle records sends and captures the event callback so tests can
// inject inbound events.
type fakeHandle struct {
	mu        sync.Mutex
	userID    string
	sendErr   error
	sent      []sentMessage
	onEvent   func(gateway.Event)
	loggedOut bool
}

func (h *fakeHandle) SendMessage(text, threadID, replyTo string) (*gateway.SendReceipt, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.sendErr != nil {
		return nil, h.sendErr
	}
	h.sent = append(h.sent, sentMessage{Text: text, ThreadID: threadID, ReplyTo: replyTo})
	return &gateway.SendReceipt{MessageID: "m1", ThreadID: threadID, SentAt: time.Now()}, nil
}

func (h *fakeHandle) Listen(onEvent func(gateway.Event)) (gateway.StopFunc, error) {
	h.mu.Lock()
	h.onEvent = onEvent
	h.mu.Unlock()
	return func() {}, nil
}

func (h *fakeHandle) Logout() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.loggedOut = true
	return nil
}

func (h *fakeHandle) CurrentUserID() string {
	return h.userID
}

func (h *fakeHandle) deliver(ev gateway.Event) {
	h.mu.Lock()
	onEvent := h.onEvent
	h.mu.Unlock()
	if onEvent != nil {
		onEvent(ev)
	}
}

func (h *fakeHandle) sentMessages() []sentMessage {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]sentMessage, len(h.sent))
	copy(out, h.sent)
	return out
}

func (h *fakeHandle) isLoggedOut() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.loggedOut
}

func (h *fakeHandle) setSendErr(err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.sendErr = err
}

// memStore is an in-memory Store for lifecycle tests.
type memStore struct {
	mu       sync.Mutex
	configs  map[string]*store.BotConfig
	commands map[string]map[string]*store.CustomCommand
}

func newMemStore() *memStore {
	return &memStore{
		configs:  make(map[string]*store.BotConfig),
		commands: make(map[string]map[string]*store.CustomCommand),
	}
}

func (s *memStore) UpsertBotConfig(_ context.Context, input *store.UpsertBotConfigInput) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := &store.BotConfig{
		ID:           input.ID,
		Credentials:  append(json.RawMessage(nil), input.Credentials...),
		RemoteUserID: input.RemoteUserID,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if existing, ok := s.configs[input.ID]; ok {
		cfg.CreatedAt = existing.CreatedAt
		cfg.SecretHash = existing.SecretHash
	}
	if input.Secret != "" {
		cfg.SecretHash = "hashed:" + input.Secret
	}
	s.configs[input.ID] = cfg
	return nil
}

func (s *memStore) GetBotConfig(_ context.Context, id string) (*store.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return nil, store.ErrBotConfigNotFound
	}
	return cfg, nil
}

func (s *memStore) ListBotConfigs(_ context.Context) ([]*store.BotConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.BotConfig, 0, len(s.configs))
	for _, cfg := range s.configs {
		out = append(out, cfg)
	}
	return out, nil
}

func (s *memStore) DeleteBotConfig(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.configs[id]; !ok {
		return store.ErrBotConfigNotFound
	}
	delete(s.configs, id)
	delete(s.commands, id)
	return nil
}

func (s *memStore) UpsertCustomCommand(_ context.Context, cmd *store.CustomCommand) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	table, ok := s.commands[cmd.BotID]
	if !ok {
		table = make(map[string]*store.CustomCommand)
		s.commands[cmd.BotID] = table
	}
	table[cmd.Name] = cmd
	return nil
}

func (s *memStore) ListCustomCommands(_ context.Context, botID string) ([]*store.CustomCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.CustomCommand, 0, len(s.commands[botID]))
	for _, cmd := range s.commands[botID] {
		out = append(out, cmd)
	}
	return out, nil
}

func (s *memStore) GetCustomCommand(_ context.Context, botID, name string) (*store.CustomCommand, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cmd, ok := s.commands[botID][name]
	if !ok {
		return nil, store.ErrCommandNotFound
	}
	return cmd, nil
}

func (s *memStore) DeleteCustomCommand(_ context.Context, botID, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.commands[botID][name]; !ok {
		return store.ErrCommandNotFound
	}
	delete(s.commands[botID], name)
	return nil
}

func (s *memStore) VerifySecret(_ context.Context, id, secret string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cfg, ok := s.configs[id]
	if !ok {
		return false, store.ErrBotConfigNotFound
	}
	if cfg.SecretHash == "" || secret == "" {
		return false, nil
	}
	return cfg.SecretHash == "hashed:"+secret, nil
}

var errSendRefused = errors.New("transport refused the send")
