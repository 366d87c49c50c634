// Package gateway defines the session transport consumed by the bot manager.
//
// A Gateway logs a single account in and returns a Handle, which is the only
// object the rest of the system uses to talk to the platform: sending
// messages, subscribing to inbound events, and logging out. Two reference
// adapters are provided (Discord and Telegram); the manager itself never
// depends on a concrete platform.
//
// # Thread Safety
//
// Handles are safe for concurrent use. The event callback passed to Listen
// may be invoked from transport goroutines at any time until the returned
// stop function has taken effect; callers must gate delivery on their own
// liveness checks because cancellation is not guaranteed to be immediate.
package gateway

import (
	"encoding/json"
	"time"
)

// EventTypeMessage is the event type for inbound chat messages.
const EventTypeMessage = "message"

// Credentials is the opaque blob an operator supplies for one account.
// Adapters decode only the fields they understand.
type Credentials = json.RawMessage

// Event represents one inbound event delivered by a listening handle.
type Event struct {
	Type      string    `json:"type"`
	ThreadID  string    `json:"thread_id"`
	MessageID string    `json:"message_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

// SendReceipt is returned for a successfully sent message.
type SendReceipt struct {
	MessageID string
	ThreadID  string
	SentAt    time.Time
}

// StopFunc terminates a subscription or a presence loop. Implementations
// must be idempotent; delivery may continue briefly after it returns.
type StopFunc func()

// Options carries per-login tuning shared by all adapters.
type Options struct {
	// SelfListen controls whether the account's own messages are delivered
	SelfListen bool
	// PresenceInterval is the keep-alive cadence for adapters that support it
	PresenceInterval time.Duration
}

// Handle is one logged-in account.
type Handle interface {
	// SendMessage sends text to a thread. replyTo optionally references the
	// message being replied to; adapters that cannot reference messages
	// ignore it.
	SendMessage(text, threadID, replyTo string) (*SendReceipt, error)

	// Listen subscribes to inbound events. Delivery continues until the
	// returned stop function is called, with no guarantee of immediate
	// cessation after it returns.
	Listen(onEvent func(Event)) (StopFunc, error)

	// Logout terminates the platform session. May be slow.
	Logout() error

	// CurrentUserID returns the platform identity of the logged-in account.
	CurrentUserID() string
}

// PresenceKeeper is implemented by handles that support a keep-alive loop.
type PresenceKeeper interface {
	StartPresence(interval time.Duration) StopFunc
}

// Gateway logs accounts in. Login is single-shot: a failed login returns an
// error and no handle; retrying is the caller's decision.
type Gateway interface {
	Login(creds Credentials, opts Options) (Handle, error)
}
