package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/store"
)

// fakeSender captures handler output for assertions.
type fakeSender struct {
	sent []struct {
		Text     string
		ThreadID string
		ReplyTo  string
	}
}

func (s *fakeSender) Send(text, threadID, replyTo string) error {
	s.sent = append(s.sent, struct {
		Text     string
		ThreadID string
		ReplyTo  string
	}{text, threadID, replyTo})
	return nil
}

func (s *fakeSender) lastText() string {
	if len(s.sent) == 0 {
		return ""
	}
	return s.sent[len(s.sent)-1].Text
}

func newInvocation(api Sender, args ...string) *Invocation {
	return &Invocation{
		API: api,
		Event: gateway.Event{
			Type:      gateway.EventTypeMessage,
			ThreadID:  "t1",
			MessageID: "m1",
			SenderID:  "u9",
		},
		Args:   args,
		Config: &SharedConfig{Prefix: "!", BotID: "alpha"},
	}
}

func noopEntry(name string, aliases ...string) *Entry {
	return &Entry{
		Name:    name,
		Aliases: aliases,
		Handler: HandlerFunc(func(ctx context.Context, inv *Invocation) error { return nil }),
	}
}

func TestRegistryGlobalResolve(t *testing.T) {
	r := NewRegistry()
	entry := noopEntry("ping", "p")
	r.RegisterGlobal(entry)

	assert.Same(t, entry, r.Resolve("any-bot", "ping"))
	assert.Same(t, entry, r.Resolve("any-bot", "p"))
	assert.Same(t, entry, r.Resolve("any-bot", "PING"), "lookup is case-insensitive")
	assert.Nil(t, r.Resolve("any-bot", "pong"))
}

func TestRegistryBotScopedShadowsGlobal(t *testing.T) {
	r := NewRegistry()
	r.RegisterGlobal(noopEntry("greet"))
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "greet", Body: `api.reply("custom")`})

	resolved := r.Resolve("alpha", "greet")
	require.NotNil(t, resolved)
	_, isLua := resolved.Handler.(*luaHandler)
	assert.True(t, isLua, "bot-scoped entry should shadow the global one")

	other := r.Resolve("beta", "greet")
	require.NotNil(t, other)
	_, isLua = other.Handler.(*luaHandler)
	assert.False(t, isLua, "other bots still resolve the global entry")
}

func TestRegistryUnregisterForBot(t *testing.T) {
	r := NewRegistry()
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "greet", Aliases: []string{"hi"}, Body: "x = 1"})

	r.UnregisterForBot("alpha", "greet")
	assert.Nil(t, r.Resolve("alpha", "greet"))
	assert.Nil(t, r.Resolve("alpha", "hi"), "aliases are removed with the entry")
}

func TestRegistryUnregisterKeepsReassignedAlias(t *testing.T) {
	r := NewRegistry()
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "greet", Aliases: []string{"hi"}, Body: "x = 1"})
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "hi", Body: "x = 2"})

	r.UnregisterForBot("alpha", "greet")
	assert.NotNil(t, r.Resolve("alpha", "hi"), "alias overwritten by a later command must survive")
}

func TestRegistryClearForBot(t *testing.T) {
	r := NewRegistry()
	r.RegisterGlobal(noopEntry("ping"))
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "greet", Body: "x = 1"})
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "bye", Body: "x = 2"})

	r.ClearForBot("alpha")

	assert.Nil(t, r.Resolve("alpha", "greet"))
	assert.Nil(t, r.Resolve("alpha", "bye"))
	assert.NotNil(t, r.Resolve("alpha", "ping"), "global table is untouched")
}

func TestRegistryEntriesAreDistinct(t *testing.T) {
	r := NewRegistry()
	r.RegisterGlobal(noopEntry("ping", "p", "test"))
	r.RegisterGlobal(noopEntry("echo"))

	entries := r.GlobalEntries()
	assert.Len(t, entries, 2, "aliases must not produce duplicate entries")
}

func TestBuiltinPing(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, time.Now().Add(-90*time.Second))

	entry := r.Resolve("alpha", "ping")
	require.NotNil(t, entry)

	api := &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api)))

	require.Len(t, api.sent, 2)
	assert.Equal(t, "🏓 Pinging...", api.sent[0].Text)
	assert.Contains(t, api.sent[1].Text, "Latency:")
	assert.Contains(t, api.sent[1].Text, "Uptime:")
}

func TestBuiltinEcho(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, time.Now())
	entry := r.Resolve("alpha", "echo")
	require.NotNil(t, entry)

	api := &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api, "hello", "world")))
	assert.Equal(t, "🔊 hello world", api.lastText())

	api = &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api)))
	assert.Contains(t, api.lastText(), "Please provide a message")
}

func TestBuiltinHelpListsCustomCommands(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, time.Now())
	r.RegisterForBot("alpha", &store.CustomCommand{Name: "greet", Description: "Say hello", Body: "x = 1"})

	entry := r.Resolve("alpha", "help")
	require.NotNil(t, entry)

	api := &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api)))

	out := api.lastText()
	assert.Contains(t, out, "!ping")
	assert.Contains(t, out, "!greet - Say hello")

	// Listed commands appear sorted by name
	assert.Less(t, strings.Index(out, "!echo"), strings.Index(out, "!ping"))
}

func TestBuiltinHelpDetailView(t *testing.T) {
	r := NewRegistry()
	RegisterBuiltins(r, time.Now())
	entry := r.Resolve("alpha", "help")
	require.NotNil(t, entry)

	api := &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api, "echo")))
	assert.Contains(t, api.lastText(), "Usage: !echo <message>")
	assert.Contains(t, api.lastText(), "Aliases: say, repeat")

	api = &fakeSender{}
	require.NoError(t, entry.Handler.Execute(context.Background(), newInvocation(api, "nope")))
	assert.Contains(t, api.lastText(), "not found")
}
