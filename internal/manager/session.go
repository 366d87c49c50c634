package manager

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/botfleet/botfleet/internal/gateway"
)

// Status represents the lifecycle state of a bot session
type Status string

const (
	// StatusConnecting is the placeholder state between AddBot and login
	StatusConnecting Status = "connecting"
	// StatusOnline means the session has a live handle and is listening
	StatusOnline Status = "online"
	// StatusError means login failed; the session is retained for inspection
	StatusError Status = "error"
	// StatusOffline is the transient marker set as the first step of teardown
	StatusOffline Status = "offline"
)

// BotSession is one logical bot account tracked by the manager.
//
// The handle is non-nil exactly while the status is online. Teardown nils
// the handle before any slow transport call so that events arriving during
// a slow logout are already rejected by the liveness gate.
type BotSession struct {
	id string

	mu           sync.RWMutex
	status       Status
	credentials  gateway.Credentials
	handle       gateway.Handle
	stopListen   gateway.StopFunc
	stopPresence gateway.StopFunc
	remoteUserID string
	errorDetail  string
	startedAt    time.Time

	received  atomic.Uint64
	sent      atomic.Uint64
	errCount  atomic.Uint64
	createdAt time.Time
}

func newBotSession(id string, creds gateway.Credentials) *BotSession {
	return &BotSession{
		id:          id,
		status:      StatusConnecting,
		credentials: creds,
		createdAt:   time.Now(),
	}
}

// ID returns the immutable session id.
func (s *BotSession) ID() string {
	return s.id
}

// Status returns the current lifecycle state.
func (s *BotSession) Status() Status {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status
}

// isLive reports whether events for this session may still be dispatched.
// Checked on every inbound event; false as soon as teardown has begun.
func (s *BotSession) isLive() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.status == StatusOnline && s.handle != nil
}

// liveHandle returns the handle if the session is online, nil otherwise.
func (s *BotSession) liveHandle() gateway.Handle {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.status != StatusOnline {
		return nil
	}
	return s.handle
}

// credentialsCopy returns the locally retained credentials blob, used as
// the restart fallback when the store has no record.
func (s *BotSession) credentialsCopy() gateway.Credentials {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.credentials
}

// attach transitions connecting -> online with a live handle.
func (s *BotSession) attach(handle gateway.Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handle = handle
	s.remoteUserID = handle.CurrentUserID()
	s.status = StatusOnline
	s.errorDetail = ""
	s.startedAt = time.Now()
}

// setListening stores the subscription stop capability.
func (s *BotSession) setListening(stop gateway.StopFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopListen = stop
}

// setPresence stores the presence stop capability.
func (s *BotSession) setPresence(stop gateway.StopFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stopPresence = stop
}

// markError transitions to the error state, recording the diagnostic. The
// session stays in the live collection for operator remediation.
func (s *BotSession) markError(detail string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = StatusError
	s.errorDetail = detail
	s.handle = nil
	s.stopListen = nil
	s.stopPresence = nil
	s.errCount.Add(1)
}

// beginTeardown atomically marks the session offline and strips its
// capabilities, returning the previous handle and stop functions. All
// subsequent liveness checks fail from this point on, even while the slow
// logout call is still in flight. Safe to call more than once; later calls
// return nils.
func (s *BotSession) beginTeardown() (gateway.Handle, gateway.StopFunc, gateway.StopFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()

	handle := s.handle
	stopListen := s.stopListen
	stopPresence := s.stopPresence

	s.status = StatusOffline
	s.handle = nil
	s.stopListen = nil
	s.stopPresence = nil

	return handle, stopListen, stopPresence
}

// stripStale forcibly invokes a leftover stop capability and nils the
// handle without changing status. Covers a previous partial teardown
// before a restart runs the full removal sequence.
func (s *BotSession) stripStale() {
	s.mu.Lock()
	stop := s.stopListen
	s.stopListen = nil
	s.handle = nil
	s.mu.Unlock()

	if stop != nil {
		stop()
	}
}

// Snapshot is a read-only view of a session for external reporting.
type Snapshot struct {
	ID               string    `json:"id"`
	RemoteUserID     string    `json:"remote_user_id,omitempty"`
	Status           Status    `json:"status"`
	ErrorDetail      string    `json:"error_detail,omitempty"`
	MessagesReceived uint64    `json:"messages_received"`
	MessagesSent     uint64    `json:"messages_sent"`
	Errors           uint64    `json:"errors"`
	StartedAt        time.Time `json:"started_at,omitempty"`
	UptimeSeconds    int64     `json:"uptime_seconds"`
}

// Snapshot returns the current read-only view.
func (s *BotSession) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		ID:               s.id,
		RemoteUserID:     s.remoteUserID,
		Status:           s.status,
		ErrorDetail:      s.errorDetail,
		MessagesReceived: s.received.Load(),
		MessagesSent:     s.sent.Load(),
		Errors:           s.errCount.Load(),
		StartedAt:        s.startedAt,
	}
	if s.status == StatusOnline && !s.startedAt.IsZero() {
		snap.UptimeSeconds = int64(time.Since(s.startedAt).Seconds())
	}
	return snap
}
