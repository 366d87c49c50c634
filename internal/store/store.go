// Package store persists bot credentials, operator secret hashes, and
// per-bot custom command definitions.
//
// The canonical implementation is Redis-backed (see redis.go). Values are
// stored as JSON; operator secrets are stored only as bcrypt hashes.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/botfleet/botfleet/internal/gateway"
)

// Sentinel errors returned by Store implementations.
var (
	// ErrBotConfigNotFound is returned when no config exists for a bot id
	ErrBotConfigNotFound = errors.New("bot config not found")
	// ErrCommandNotFound is returned when a custom command does not exist
	ErrCommandNotFound = errors.New("custom command not found")
)

// BotConfig is the persisted record for one bot account.
type BotConfig struct {
	ID           string              `json:"id"`
	Credentials  gateway.Credentials `json:"credentials"`
	RemoteUserID string              `json:"remote_user_id,omitempty"`
	SecretHash   string              `json:"secret_hash,omitempty"`
	CreatedAt    time.Time           `json:"created_at"`
	UpdatedAt    time.Time           `json:"updated_at"`
}

// CustomCommand is an operator-authored command scoped to one bot id.
type CustomCommand struct {
	ID          string    `json:"id"`
	BotID       string    `json:"bot_id"`
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Usage       string    `json:"usage,omitempty"`
	Aliases     []string  `json:"aliases,omitempty"`
	Body        string    `json:"body"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// UpsertBotConfigInput carries the fields for saving a bot config.
// Secret is the plaintext operator secret; it is hashed before storage and
// never persisted as-is. An empty Secret preserves any existing hash.
type UpsertBotConfigInput struct {
	ID           string
	Credentials  gateway.Credentials
	RemoteUserID string
	Secret       string
}

// Store is the persistence contract consumed by the manager and the
// control-plane.
type Store interface {
	UpsertBotConfig(ctx context.Context, input *UpsertBotConfigInput) error
	GetBotConfig(ctx context.Context, id string) (*BotConfig, error)
	ListBotConfigs(ctx context.Context) ([]*BotConfig, error)
	DeleteBotConfig(ctx context.Context, id string) error

	UpsertCustomCommand(ctx context.Context, cmd *CustomCommand) error
	ListCustomCommands(ctx context.Context, botID string) ([]*CustomCommand, error)
	GetCustomCommand(ctx context.Context, botID, name string) (*CustomCommand, error)
	DeleteCustomCommand(ctx context.Context, botID, name string) error

	// VerifySecret reports whether the plaintext secret matches the stored
	// hash for id. A bot with no stored secret never verifies.
	VerifySecret(ctx context.Context, id, secret string) (bool, error)
}
