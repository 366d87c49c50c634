package constants

import "time"

// Message length limits for different platforms
const (
	// MaxDiscordMessageLength is Discord's message character limit
	MaxDiscordMessageLength = 2000
	// MaxTelegramMessageLength is Telegram's message character limit
	MaxTelegramMessageLength = 4096
)

// Lifecycle timeouts and delays
const (
	// DefaultLoginTimeout bounds a single gateway login attempt
	DefaultLoginTimeout = 60 * time.Second
	// DefaultLogoutTimeout bounds a logout call during teardown
	DefaultLogoutTimeout = 15 * time.Second
	// DefaultSendTimeout bounds a single outbound message send
	DefaultSendTimeout = 30 * time.Second
	// DefaultSettleDelay is the pause between remove and re-add during restart,
	// letting the transport drain any asynchronous teardown
	DefaultSettleDelay = 500 * time.Millisecond
	// DefaultPresenceInterval is how often presence keep-alive fires
	DefaultPresenceInterval = 20 * time.Minute
	// DefaultPollTimeout is the timeout for long polling transports
	DefaultPollTimeout = 60 * time.Second
	// DefaultCommandTimeout bounds a single custom command execution
	DefaultCommandTimeout = 10 * time.Second
)

// Command limits
const (
	// MaxCommandBodyLength is the maximum stored script body size in bytes
	MaxCommandBodyLength = 64 * 1024
	// MaxInboundBodyLength is the longest message body the dispatcher will parse
	MaxInboundBodyLength = 16 * 1024
)

// Secret masking
const (
	// MinSecretLengthForMasking is the minimum secret length to apply masking
	MinSecretLengthForMasking = 10
	// SecretMaskPrefixLength is the length of prefix to show before masking
	SecretMaskPrefixLength = 4
	// SecretMaskSuffixLength is the length of suffix to show after masking
	SecretMaskSuffixLength = 4
)

// Logging defaults
const (
	// DefaultLogMaxSize is the default maximum log file size in MB
	DefaultLogMaxSize = 100
	// DefaultLogMaxAge is the default maximum number of days to retain old logs
	DefaultLogMaxAge = 30
)
