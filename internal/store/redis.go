package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"
)

const (
	// Key prefixes for Redis
	botConfigKeyPrefix = "botcfg:"
	botConfigIndexKey  = "botcfg:index"
	commandKeyPrefix   = "botcmd:"
)

// Config holds configuration for the Redis store
type Config struct {
	// Redis client
	RedisClient *redis.Client
}

// redisStore implements the Store interface using Redis
type redisStore struct {
	client *redis.Client
}

// NewRedis creates a new Redis-backed store
func NewRedis(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if cfg.RedisClient == nil {
		return nil, errors.New("redis client cannot be nil")
	}

	// Test connection
	if err := cfg.RedisClient.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &redisStore{client: cfg.RedisClient}, nil
}

func botConfigKey(id string) string {
	return botConfigKeyPrefix + id
}

func commandKey(botID string) string {
	return commandKeyPrefix + botID
}

// UpsertBotConfig persists a bot config, hashing the secret if one is given.
// An empty secret preserves the previously stored hash.
func (s *redisStore) UpsertBotConfig(ctx context.Context, input *UpsertBotConfigInput) error {
	if input == nil || input.ID == "" {
		return errors.New("input and bot id cannot be empty")
	}

	now := time.Now().UTC()
	cfg := &BotConfig{
		ID:           input.ID,
		Credentials:  input.Credentials,
		RemoteUserID: input.RemoteUserID,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	// Carry over creation time and secret hash from an existing record
	existing, err := s.GetBotConfig(ctx, input.ID)
	if err != nil && !errors.Is(err, ErrBotConfigNotFound) {
		return err
	}
	if existing != nil {
		cfg.CreatedAt = existing.CreatedAt
		cfg.SecretHash = existing.SecretHash
		if cfg.RemoteUserID == "" {
			cfg.RemoteUserID = existing.RemoteUserID
		}
	}

	if input.Secret != "" {
		hash, err := bcrypt.GenerateFromPassword([]byte(input.Secret), bcrypt.DefaultCost)
		if err != nil {
			return fmt.Errorf("failed to hash secret: %w", err)
		}
		cfg.SecretHash = string(hash)
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal bot config: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, botConfigKey(cfg.ID), data, 0)
	pipe.SAdd(ctx, botConfigIndexKey, cfg.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to save bot config: %w", err)
	}

	return nil
}

// GetBotConfig retrieves a bot config by id
func (s *redisStore) GetBotConfig(ctx context.Context, id string) (*BotConfig, error) {
	if id == "" {
		return nil, errors.New("bot id cannot be empty")
	}

	data, err := s.client.Get(ctx, botConfigKey(id)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrBotConfigNotFound
		}
		return nil, fmt.Errorf("failed to get bot config: %w", err)
	}

	var cfg BotConfig
	if err := json.Unmarshal([]byte(data), &cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal bot config: %w", err)
	}

	return &cfg, nil
}

// ListBotConfigs retrieves all stored bot configs
func (s *redisStore) ListBotConfigs(ctx context.Context) ([]*BotConfig, error) {
	ids, err := s.client.SMembers(ctx, botConfigIndexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list bot ids: %w", err)
	}

	configs := make([]*BotConfig, 0, len(ids))
	for _, id := range ids {
		cfg, err := s.GetBotConfig(ctx, id)
		if err != nil {
			if errors.Is(err, ErrBotConfigNotFound) {
				// Index out of sync with data; self-heal
				s.client.SRem(ctx, botConfigIndexKey, id)
				continue
			}
			return nil, err
		}
		configs = append(configs, cfg)
	}

	return configs, nil
}

// DeleteBotConfig removes a bot config and its custom commands
func (s *redisStore) DeleteBotConfig(ctx context.Context, id string) error {
	if id == "" {
		return errors.New("bot id cannot be empty")
	}

	pipe := s.client.Pipeline()
	del := pipe.Del(ctx, botConfigKey(id))
	pipe.SRem(ctx, botConfigIndexKey, id)
	pipe.Del(ctx, commandKey(id))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete bot config: %w", err)
	}

	if del.Val() == 0 {
		return ErrBotConfigNotFound
	}
	return nil
}

// UpsertCustomCommand persists a custom command under its bot's hash
func (s *redisStore) UpsertCustomCommand(ctx context.Context, cmd *CustomCommand) error {
	if cmd == nil || cmd.BotID == "" || cmd.Name == "" {
		return errors.New("command, bot id and name cannot be empty")
	}

	now := time.Now().UTC()
	stored := *cmd
	stored.UpdatedAt = now

	if existing, err := s.GetCustomCommand(ctx, cmd.BotID, cmd.Name); err == nil {
		stored.ID = existing.ID
		stored.CreatedAt = existing.CreatedAt
	} else if errors.Is(err, ErrCommandNotFound) {
		stored.ID = uuid.NewString()
		stored.CreatedAt = now
	} else {
		return err
	}

	data, err := json.Marshal(&stored)
	if err != nil {
		return fmt.Errorf("failed to marshal custom command: %w", err)
	}

	if err := s.client.HSet(ctx, commandKey(cmd.BotID), cmd.Name, data).Err(); err != nil {
		return fmt.Errorf("failed to save custom command: %w", err)
	}

	cmd.ID = stored.ID
	cmd.CreatedAt = stored.CreatedAt
	cmd.UpdatedAt = stored.UpdatedAt
	return nil
}

// GetCustomCommand retrieves one custom command by bot id and name
func (s *redisStore) GetCustomCommand(ctx context.Context, botID, name string) (*CustomCommand, error) {
	if botID == "" || name == "" {
		return nil, errors.New("bot id and command name cannot be empty")
	}

	data, err := s.client.HGet(ctx, commandKey(botID), name).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrCommandNotFound
		}
		return nil, fmt.Errorf("failed to get custom command: %w", err)
	}

	var cmd CustomCommand
	if err := json.Unmarshal([]byte(data), &cmd); err != nil {
		return nil, fmt.Errorf("failed to unmarshal custom command: %w", err)
	}
	return &cmd, nil
}

// ListCustomCommands retrieves all custom commands for a bot
func (s *redisStore) ListCustomCommands(ctx context.Context, botID string) ([]*CustomCommand, error) {
	if botID == "" {
		return nil, errors.New("bot id cannot be empty")
	}

	entries, err := s.client.HGetAll(ctx, commandKey(botID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list custom commands: %w", err)
	}

	commands := make([]*CustomCommand, 0, len(entries))
	for name, data := range entries {
		var cmd CustomCommand
		if err := json.Unmarshal([]byte(data), &cmd); err != nil {
			return nil, fmt.Errorf("failed to unmarshal custom command %q: %w", name, err)
		}
		commands = append(commands, &cmd)
	}
	return commands, nil
}

// DeleteCustomCommand removes one custom command
func (s *redisStore) DeleteCustomCommand(ctx context.Context, botID, name string) error {
	if botID == "" || name == "" {
		return errors.New("bot id and command name cannot be empty")
	}

	removed, err := s.client.HDel(ctx, commandKey(botID), name).Result()
	if err != nil {
		return fmt.Errorf("failed to delete custom command: %w", err)
	}
	if removed == 0 {
		return ErrCommandNotFound
	}
	return nil
}

// VerifySecret compares a plaintext secret against the stored bcrypt hash
func (s *redisStore) VerifySecret(ctx context.Context, id, secret string) (bool, error) {
	cfg, err := s.GetBotConfig(ctx, id)
	if err != nil {
		return false, err
	}
	if cfg.SecretHash == "" || secret == "" {
		return false, nil
	}

	if err := bcrypt.CompareHashAndPassword([]byte(cfg.SecretHash), []byte(secret)); err != nil {
		if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			return false, nil
		}
		return false, fmt.Errorf("failed to verify secret: %w", err)
	}
	return true, nil
}
