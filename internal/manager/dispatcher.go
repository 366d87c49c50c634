package manager

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/botfleet/botfleet/internal/command"
	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/logger"
	"github.com/botfleet/botfleet/pkg/constants"
)

// Dispatcher routes inbound message events to command handlers. It never
// mutates the session collection; its only side effects are handler
// execution and the error reply on handler failure.
type Dispatcher struct {
	registry *command.Registry
	prefix   string
}

// NewDispatcher creates a Dispatcher with the given command prefix. An
// empty prefix makes every message a command candidate.
func NewDispatcher(registry *command.Registry, prefix string) *Dispatcher {
	return &Dispatcher{registry: registry, prefix: prefix}
}

// HandleInboundEvent parses and dispatches one event. Non-message events,
// empty bodies, oversized bodies, unprefixed messages, and unknown command
// names are all dropped silently. A handler error or panic is reported back
// to the originating thread with a generic message; handler internals never
// reach the remote user.
func (d *Dispatcher) HandleInboundEvent(ctx context.Context, sess *BotSession, api command.Sender, ev gateway.Event) {
	if sess == nil || !sess.isLive() {
		return
	}
	if ev.Type != gateway.EventTypeMessage {
		return
	}

	body := strings.TrimSpace(ev.Body)
	if body == "" || len(body) > constants.MaxInboundBodyLength {
		return
	}

	if d.prefix != "" {
		if !strings.HasPrefix(body, d.prefix) {
			return
		}
		body = body[len(d.prefix):]
	}

	fields := strings.Fields(body)
	if len(fields) == 0 {
		return
	}
	name := strings.ToLower(fields[0])
	args := fields[1:]

	entry := d.registry.Resolve(sess.ID(), name)
	if entry == nil {
		return
	}

	logger.WithFields(logrus.Fields{
		"bot_id":    sess.ID(),
		"command":   entry.Name,
		"thread_id": ev.ThreadID,
		"sender_id": ev.SenderID,
	}).Info("command-dispatched")

	inv := &command.Invocation{
		API:   api,
		Event: ev,
		Args:  args,
		Config: &command.SharedConfig{
			Prefix: d.prefix,
			BotID:  sess.ID(),
		},
	}

	if err := execute(ctx, entry.Handler, inv); err != nil {
		sess.errCount.Add(1)
		logger.WithFields(logrus.Fields{
			"bot_id":  sess.ID(),
			"command": entry.Name,
			"error":   err,
		}).Warn("command-execution-failed")

		reply := fmt.Sprintf("❌ Error executing command %q. Please try again.", entry.Name)
		if sendErr := api.Send(reply, ev.ThreadID, ev.MessageID); sendErr != nil {
			logger.WithFields(logrus.Fields{
				"bot_id": sess.ID(),
				"error":  sendErr,
			}).Warn("failed-to-send-error-reply")
		}
	}
}

// execute runs a handler, converting a panic into an error so one broken
// command cannot take down the session's event loop.
func execute(ctx context.Context, h command.Handler, inv *command.Invocation) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("command panicked: %v", r)
		}
	}()
	return h.Execute(ctx, inv)
}
