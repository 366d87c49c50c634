// Package manager implements the bot lifecycle core: a supervised
// collection of logged-in bot sessions with serialized per-id lifecycle
// transitions, guaranteed teardown ordering, and dispatch of inbound events
// to command handlers.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/command"
	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/internal/store"
	"github.com/botfleet/botfleet/pkg/constants"
)

// EventType classifies manager notifications.
type EventType string

const (
	// EventSessionAdded fires when a session reaches online
	EventSessionAdded EventType = "session_added"
	// EventSessionRemoved fires after a session's teardown completed
	EventSessionRemoved EventType = "session_removed"
	// EventSessionError fires when a login attempt fails
	EventSessionError EventType = "session_error"
)

// Event is one manager notification.
type Event struct {
	Type         EventType
	BotID        string
	RemoteUserID string
	Detail       string
	Timestamp    time.Time
}

// NotifyFunc receives manager notifications. Called synchronously; must not
// block.
type NotifyFunc func(Event)

// Options tunes lifecycle behavior.
type Options struct {
	// Prefix is the command prefix; empty means every message is a candidate
	Prefix string
	// LoginTimeout bounds a gateway login attempt
	LoginTimeout time.Duration
	// LogoutTimeout bounds a logout call during teardown
	LogoutTimeout time.Duration
	// SettleDelay is the transport-drain pause between remove and re-add
	// during restart
	SettleDelay time.Duration
	// PresenceInterval enables the keep-alive loop when > 0 and the handle
	// supports it
	PresenceInterval time.Duration
	// SelfListen forwards the account's own messages when true
	SelfListen bool
}

func (o *Options) applyDefaults() {
	if o.LoginTimeout <= 0 {
		o.LoginTimeout = constants.DefaultLoginTimeout
	}
	if o.LogoutTimeout <= 0 {
		o.LogoutTimeout = constants.DefaultLogoutTimeout
	}
	if o.SettleDelay <= 0 {
		o.SettleDelay = constants.DefaultSettleDelay
	}
}

// Config holds the collaborators for a Manager.
type Config struct {
	Gateway  gateway.Gateway
	Store    store.Store
	Registry *command.Registry
	Options  Options
	Notify   NotifyFunc
}

// Manager owns the live session collection. All lifecycle transitions for a
// given id are serialized through a per-id mutex; the collection itself is
// guarded by an RWMutex. No other component mutates the collection or the
// per-bot command tables.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*BotSession

	gateway    gateway.Gateway
	store      store.Store
	registry   *command.Registry
	dispatcher *Dispatcher
	opts       Options
	notify     NotifyFunc

	locks keyedMutex

	totalSent     atomic.Uint64
	totalReceived atomic.Uint64
}

// New creates a Manager.
func New(cfg *Config) (*Manager, error) {
	if cfg == nil {
		return nil, ErrNilConfig
	}
	if cfg.Gateway == nil {
		return nil, ErrNilGateway
	}
	if cfg.Store == nil {
		return nil, ErrNilStore
	}
	if cfg.Registry == nil {
		return nil, ErrNilRegistry
	}

	opts := cfg.Options
	opts.applyDefaults()

	return &Manager{
		sessions:   make(map[string]*BotSession),
		gateway:    cfg.Gateway,
		store:      cfg.Store,
		registry:   cfg.Registry,
		dispatcher: NewDispatcher(cfg.Registry, opts.Prefix),
		opts:       opts,
		notify:     cfg.Notify,
	}, nil
}

// AddBot creates a session for id and logs it in. The duplicate check and
// placeholder insertion are one atomic step, so a concurrent AddBot for the
// same id observes the duplicate even before login completes. On login
// failure the session is retained in the error state and the error is
// returned.
func (m *Manager) AddBot(ctx context.Context, id string, creds gateway.Credentials, secret string) (Snapshot, error) {
	unlock := m.locks.lock(id)
	defer unlock()
	return m.addBot(ctx, id, creds, secret)
}

func (m *Manager) addBot(ctx context.Context, id string, creds gateway.Credentials, secret string) (Snapshot, error) {
	// Step 1: atomic duplicate check + placeholder insert, before the
	// asynchronous login
	m.mu.Lock()
	if _, exists := m.sessions[id]; exists {
		m.mu.Unlock()
		return Snapshot{}, fmt.Errorf("bot %q: %w", id, ErrDuplicateSession)
	}
	sess := newBotSession(id, creds)
	m.sessions[id] = sess
	m.mu.Unlock()

	logger.WithField("bot_id", id).Info("session-login-started")

	// Step 2: login, bounded by the configured timeout
	handle, err := m.loginWithTimeout(ctx, creds)
	if err != nil {
		// Step 3: keep the session visible in the error state
		sess.markError(err.Error())
		m.emit(Event{Type: EventSessionError, BotID: id, Detail: err.Error()})
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"error":  err,
		}).Error("session-login-failed")
		return sess.Snapshot(), fmt.Errorf("login failed for bot %q: %w", id, err)
	}

	// Step 4: attach the handle and wire everything up
	sess.attach(handle)

	if err := m.store.UpsertBotConfig(ctx, &store.UpsertBotConfigInput{
		ID:           id,
		Credentials:  creds,
		RemoteUserID: handle.CurrentUserID(),
		Secret:       secret,
	}); err != nil {
		// The local credentials copy still covers restart
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"error":  err,
		}).Warn("failed-to-persist-bot-config")
	}

	m.loadCustomCommands(ctx, id)

	stop, err := handle.Listen(func(ev gateway.Event) {
		m.onInboundEvent(id, ev)
	})
	if err != nil {
		m.logoutWithTimeout(id, handle)
		sess.markError(err.Error())
		m.emit(Event{Type: EventSessionError, BotID: id, Detail: err.Error()})
		return sess.Snapshot(), fmt.Errorf("failed to subscribe bot %q: %w", id, err)
	}
	sess.setListening(stop)

	if pk, ok := handle.(gateway.PresenceKeeper); ok && m.opts.PresenceInterval > 0 {
		sess.setPresence(pk.StartPresence(m.opts.PresenceInterval))
	}

	// Step 5: announce
	m.emit(Event{Type: EventSessionAdded, BotID: id, RemoteUserID: handle.CurrentUserID()})
	logger.WithFields(logrus.Fields{
		"bot_id":  id,
		"user_id": handle.CurrentUserID(),
	}).Info("session-online")

	return sess.Snapshot(), nil
}

// RemoveBot tears a session down and deletes it. The ordering is strict:
// the session is marked offline and its handle nilled before the logout
// call, so in-flight events arriving during a slow logout are already
// rejected by the dispatch guard.
func (m *Manager) RemoveBot(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()
	return m.removeBot(ctx, id, false)
}

// removeBot runs the teardown sequence. keepConfig skips the persisted
// credential deletion so a restart can re-add under the same stored record,
// secret hash included.
func (m *Manager) removeBot(ctx context.Context, id string, keepConfig bool) error {
	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("bot %q: %w", id, ErrSessionNotFound)
	}

	// Steps 1-4: offline marker, capability strip, handle capture. After
	// beginTeardown returns no event for this id passes the liveness gate.
	handle, stopListen, stopPresence := sess.beginTeardown()

	if stopPresence != nil {
		stopPresence()
	}
	if stopListen != nil {
		stopListen()
	}

	// Step 5: logout; failures are logged, never propagated, because
	// teardown must still complete
	if handle != nil {
		m.logoutWithTimeout(id, handle)
	}

	// Steps 6-8: remove from the collection, drop command table, drop
	// persisted credentials
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()

	m.registry.ClearForBot(id)

	if !keepConfig {
		if err := m.store.DeleteBotConfig(ctx, id); err != nil && !errors.Is(err, store.ErrBotConfigNotFound) {
			logger.WithFields(logrus.Fields{
				"bot_id": id,
				"error":  err,
			}).Warn("failed-to-delete-bot-config")
		}
	}

	// Step 9: announce
	m.emit(Event{Type: EventSessionRemoved, BotID: id})
	logger.WithField("bot_id", id).Info("session-removed")

	return nil
}

// RestartBot removes and re-adds a session under the same id, recovering
// credentials from the store with the session's local copy as fallback.
func (m *Manager) RestartBot(ctx context.Context, id string) error {
	unlock := m.locks.lock(id)
	defer unlock()

	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()
	if sess == nil {
		return fmt.Errorf("bot %q: %w", id, ErrSessionNotFound)
	}

	// Recover credentials, preferring the store
	var creds gateway.Credentials
	if cfg, err := m.store.GetBotConfig(ctx, id); err == nil {
		creds = cfg.Credentials
	} else if !errors.Is(err, store.ErrBotConfigNotFound) {
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"error":  err,
		}).Warn("failed-to-read-bot-config-for-restart")
	}
	if len(creds) == 0 {
		creds = sess.credentialsCopy()
	}
	if len(creds) == 0 {
		return fmt.Errorf("bot %q: %w", id, ErrConfigurationMissing)
	}

	// Clear stale bindings and any capability left over from a partial
	// failure, then run the full teardown
	m.registry.ClearForBot(id)
	sess.stripStale()

	if err := m.removeBot(ctx, id, true); err != nil {
		return err
	}

	// Let the transport drain asynchronous teardown before logging back in.
	// Conservative guard, not a correctness proof; the liveness gate covers
	// events that still slip through.
	select {
	case <-time.After(m.opts.SettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	logger.WithField("bot_id", id).Info("session-restarting")

	if _, err := m.addBot(ctx, id, creds, ""); err != nil {
		return err
	}
	return nil
}

// BroadcastResult is the outcome of one session's broadcast attempt.
type BroadcastResult struct {
	ID      string `json:"id"`
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// Broadcast sends message to threadID from every online session. Sessions
// that are not online are skipped entirely; one session's failure never
// prevents attempts on the rest.
func (m *Manager) Broadcast(ctx context.Context, message, threadID string) []BroadcastResult {
	m.mu.RLock()
	online := make([]*BotSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		if sess.Status() == StatusOnline {
			online = append(online, sess)
		}
	}
	m.mu.RUnlock()

	sort.Slice(online, func(i, j int) bool { return online[i].id < online[j].id })

	results := make([]BroadcastResult, 0, len(online))
	for _, sess := range online {
		result := BroadcastResult{ID: sess.id}
		if err := m.sendFromSession(sess, message, threadID, ""); err != nil {
			result.Error = err.Error()
			logger.WithFields(logrus.Fields{
				"bot_id": sess.id,
				"error":  err,
			}).Warn("broadcast-send-failed")
		} else {
			result.Success = true
		}
		results = append(results, result)

		select {
		case <-ctx.Done():
			return results
		default:
		}
	}

	logger.WithFields(logrus.Fields{
		"thread_id": threadID,
		"attempted": len(results),
	}).Info("broadcast-completed")

	return results
}

// StopAll tears down every live session concurrently. Per-session logout
// failures are swallowed so one misbehaving session cannot block shutdown
// of the rest. Afterwards the collection and all per-bot command tables are
// cleared.
func (m *Manager) StopAll(ctx context.Context) {
	m.mu.RLock()
	sessions := make([]*BotSession, 0, len(m.sessions))
	for _, sess := range m.sessions {
		sessions = append(sessions, sess)
	}
	m.mu.RUnlock()

	logger.WithField("sessions", len(sessions)).Info("stopping-all-sessions")

	var wg sync.WaitGroup
	for _, sess := range sessions {
		wg.Add(1)
		go func(sess *BotSession) {
			defer wg.Done()
			handle, stopListen, stopPresence := sess.beginTeardown()
			if stopPresence != nil {
				stopPresence()
			}
			if stopListen != nil {
				stopListen()
			}
			if handle != nil {
				m.logoutWithTimeout(sess.id, handle)
			}
		}(sess)
	}
	wg.Wait()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.sessions = make(map[string]*BotSession)
	m.mu.Unlock()

	for _, id := range ids {
		m.registry.ClearForBot(id)
	}

	logger.Info("all-sessions-stopped")
}

// GetBot returns a snapshot of one session.
func (m *Manager) GetBot(id string) (Snapshot, bool) {
	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()
	if sess == nil {
		return Snapshot{}, false
	}
	return sess.Snapshot(), true
}

// ListBots returns snapshots of all sessions, sorted by id.
func (m *Manager) ListBots() []Snapshot {
	m.mu.RLock()
	snapshots := make([]Snapshot, 0, len(m.sessions))
	for _, sess := range m.sessions {
		snapshots = append(snapshots, sess.Snapshot())
	}
	m.mu.RUnlock()

	sort.Slice(snapshots, func(i, j int) bool { return snapshots[i].ID < snapshots[j].ID })
	return snapshots
}

// Stats are the aggregate counters over the live collection.
type Stats struct {
	TotalSessions    int    `json:"total_sessions"`
	ActiveSessions   int    `json:"active_sessions"`
	ErrorSessions    int    `json:"error_sessions"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesReceived uint64 `json:"messages_received"`
}

// GetStats recomputes the aggregates from the live collection and the
// monotonic send/receive counters. Pure read; repeated calls with no
// intervening mutation return identical values.
func (m *Manager) GetStats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := Stats{
		TotalSessions:    len(m.sessions),
		MessagesSent:     m.totalSent.Load(),
		MessagesReceived: m.totalReceived.Load(),
	}
	for _, sess := range m.sessions {
		switch sess.Status() {
		case StatusOnline:
			stats.ActiveSessions++
		case StatusError:
			stats.ErrorSessions++
		}
	}
	return stats
}

// Health is the coarse liveness summary for the health endpoint.
type Health struct {
	Healthy        bool      `json:"healthy"`
	ActiveSessions int       `json:"active_sessions"`
	TotalSessions  int       `json:"total_sessions"`
	Timestamp      time.Time `json:"timestamp"`
}

// GetHealthStatus reports healthy when at least one session is online.
func (m *Manager) GetHealthStatus() Health {
	stats := m.GetStats()
	return Health{
		Healthy:        stats.ActiveSessions > 0,
		ActiveSessions: stats.ActiveSessions,
		TotalSessions:  stats.TotalSessions,
		Timestamp:      time.Now(),
	}
}

// onInboundEvent is the subscription callback for one bot id. It re-fetches
// the session on every delivery and gates on liveness: events delivered
// after teardown began (zombie events) are dropped before any counter or
// handler is touched.
func (m *Manager) onInboundEvent(id string, ev gateway.Event) {
	m.mu.RLock()
	sess := m.sessions[id]
	m.mu.RUnlock()

	if sess == nil || !sess.isLive() {
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"type":   ev.Type,
		}).Debug("dropping-event-for-terminated-session")
		return
	}

	if ev.Type == gateway.EventTypeMessage {
		sess.received.Add(1)
		m.totalReceived.Add(1)
	}

	m.dispatcher.HandleInboundEvent(context.Background(), sess, &sessionSender{m: m, sess: sess}, ev)
}

// loadCustomCommands loads the bot's stored custom commands into the
// registry. Failures are logged; a bot without its custom commands is
// still serviceable through the global table.
func (m *Manager) loadCustomCommands(ctx context.Context, id string) {
	commands, err := m.store.ListCustomCommands(ctx, id)
	if err != nil {
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"error":  err,
		}).Warn("failed-to-load-custom-commands")
		return
	}
	for _, cmd := range commands {
		m.registry.RegisterForBot(id, cmd)
	}
	if len(commands) > 0 {
		logger.WithFields(logrus.Fields{
			"bot_id": id,
			"count":  len(commands),
		}).Info("custom-commands-loaded")
	}
}

// sendFromSession sends through the session's live handle, incrementing the
// send counters on success and the error counter on failure.
func (m *Manager) sendFromSession(sess *BotSession, text, threadID, replyTo string) error {
	handle := sess.liveHandle()
	if handle == nil {
		return fmt.Errorf("bot %q: %w", sess.id, ErrSessionNotOnline)
	}

	if _, err := handle.SendMessage(text, threadID, replyTo); err != nil {
		sess.errCount.Add(1)
		return err
	}

	sess.sent.Add(1)
	m.totalSent.Add(1)
	return nil
}

// sessionSender is the counter-wrapped send capability handlers receive.
type sessionSender struct {
	m    *Manager
	sess *BotSession
}

// Send implements command.Sender.
func (s *sessionSender) Send(text, threadID, replyTo string) error {
	return s.m.sendFromSession(s.sess, text, threadID, replyTo)
}

type loginResult struct {
	handle gateway.Handle
	err    error
}

// loginWithTimeout runs the gateway login, bounded by the configured
// timeout. A handle that arrives after the deadline is logged out in the
// background so it does not leak a connection.
func (m *Manager) loginWithTimeout(ctx context.Context, creds gateway.Credentials) (gateway.Handle, error) {
	resultCh := make(chan loginResult, 1)

	go func() {
		handle, err := m.gateway.Login(creds, gateway.Options{
			SelfListen:       m.opts.SelfListen,
			PresenceInterval: m.opts.PresenceInterval,
		})
		resultCh <- loginResult{handle: handle, err: err}
	}()

	select {
	case r := <-resultCh:
		return r.handle, r.err
	case <-time.After(m.opts.LoginTimeout):
		go discardLateHandle(resultCh)
		return nil, fmt.Errorf("%w: login exceeded %s", ErrSessionTimeout, m.opts.LoginTimeout)
	case <-ctx.Done():
		go discardLateHandle(resultCh)
		return nil, ctx.Err()
	}
}

func discardLateHandle(resultCh <-chan loginResult) {
	r := <-resultCh
	if r.handle != nil {
		_ = r.handle.Logout()
	}
}

// logoutWithTimeout runs logout bounded by the configured timeout. Errors
// and timeouts are logged only; teardown already completed as far as the
// manager is concerned.
func (m *Manager) logoutWithTimeout(id string, handle gateway.Handle) {
	errCh := make(chan error, 1)
	go func() {
		errCh <- handle.Logout()
	}()

	select {
	case err := <-errCh:
		if err != nil {
			logger.WithFields(logrus.Fields{
				"bot_id": id,
				"error":  err,
			}).Warn("logout-failed")
		}
	case <-time.After(m.opts.LogoutTimeout):
		logger.WithFields(logrus.Fields{
			"bot_id":  id,
			"timeout": m.opts.LogoutTimeout,
		}).Warn("logout-timed-out")
	}
}

func (m *Manager) emit(ev Event) {
	if m.notify == nil {
		return
	}
	ev.Timestamp = time.Now()
	m.notify(ev)
}

// keyedMutex serializes lifecycle operations per bot id.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func (k *keyedMutex) lock(id string) func() {
	k.mu.Lock()
	if k.locks == nil {
		k.locks = make(map[string]*sync.Mutex)
	}
	l, ok := k.locks[id]
	if !ok {
		l = &sync.Mutex{}
		k.locks[id] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}
