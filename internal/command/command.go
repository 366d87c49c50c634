// Package command holds the command registry: global built-in commands plus
// per-bot custom command tables, with bot-specific definitions shadowing
// global ones on lookup.
//
// Custom command bodies are Lua scripts supplied by operators through the
// control-plane. They are compiled lazily so a malformed body never fails
// registration; the error surfaces when the command is executed, inside the
// dispatcher's failure boundary.
package command

import (
	"context"

	"github.com/botfleet/botfleet/internal/gateway"
)

// Sender is the session capability a handler receives for talking back on
// the bot account that received the event.
type Sender interface {
	Send(text, threadID, replyTo string) error
}

// SharedConfig is the shared configuration slice exposed to handlers.
type SharedConfig struct {
	Prefix string
	BotID  string
}

// Invocation carries the four handler parameters: the session capability,
// the triggering event, the parsed argument list, and shared config.
type Invocation struct {
	API    Sender
	Event  gateway.Event
	Args   []string
	Config *SharedConfig
}

// Handler executes one resolved command.
type Handler interface {
	Execute(ctx context.Context, inv *Invocation) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// Execute implements Handler.
func (f HandlerFunc) Execute(ctx context.Context, inv *Invocation) error {
	return f(ctx, inv)
}

// Entry is one registered command with its metadata.
type Entry struct {
	Name        string
	Description string
	Usage       string
	Aliases     []string
	Handler     Handler
}
