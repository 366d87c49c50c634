package command

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/botfleet/pkg/constants"
)

func TestLuaHandlerReply(t *testing.T) {
	h := newLuaHandler("greet", `api.reply("hello " .. event.sender_id)`)
	api := &fakeSender{}

	require.NoError(t, h.Execute(context.Background(), newInvocation(api)))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "hello u9", api.sent[0].Text)
	assert.Equal(t, "t1", api.sent[0].ThreadID)
	assert.Equal(t, "m1", api.sent[0].ReplyTo)
}

func TestLuaHandlerSendDefaultsToEventThread(t *testing.T) {
	h := newLuaHandler("announce", `api.send("ready")`)
	api := &fakeSender{}

	require.NoError(t, h.Execute(context.Background(), newInvocation(api)))

	require.Len(t, api.sent, 1)
	assert.Equal(t, "t1", api.sent[0].ThreadID)
	assert.Empty(t, api.sent[0].ReplyTo, "send is not a reply")
}

func TestLuaHandlerSendExplicitThread(t *testing.T) {
	h := newLuaHandler("announce", `api.send("ready", "t99")`)
	api := &fakeSender{}

	require.NoError(t, h.Execute(context.Background(), newInvocation(api)))
	require.Len(t, api.sent, 1)
	assert.Equal(t, "t99", api.sent[0].ThreadID)
}

func TestLuaHandlerArgsAndConfig(t *testing.T) {
	h := newLuaHandler("join", `api.reply(config.prefix .. config.bot_id .. ":" .. table.concat(args, ","))`)
	api := &fakeSender{}

	require.NoError(t, h.Execute(context.Background(), newInvocation(api, "one", "two")))
	assert.Equal(t, "!alpha:one,two", api.lastText())
}

func TestLuaHandlerCompileErrorCached(t *testing.T) {
	h := newLuaHandler("bad", `this is not lua (`)
	api := &fakeSender{}

	err := h.Execute(context.Background(), newInvocation(api))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")

	// The cached compile error comes back on every execution
	err2 := h.Execute(context.Background(), newInvocation(api))
	assert.Equal(t, err.Error(), err2.Error())
	assert.Empty(t, api.sent)
}

func TestLuaHandlerRuntimeError(t *testing.T) {
	h := newLuaHandler("boom", `error("kaput")`)
	err := h.Execute(context.Background(), newInvocation(&fakeSender{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaput")
}

func TestLuaHandlerBodyTooLarge(t *testing.T) {
	h := newLuaHandler("huge", strings.Repeat("-", constants.MaxCommandBodyLength+1))
	err := h.Execute(context.Background(), newInvocation(&fakeSender{}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds")
}

func TestLuaHandlerSandboxWithholdsFileAccess(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{name: "io withheld", body: `if io ~= nil then error("io leaked") end`},
		{name: "os withheld", body: `if os ~= nil then error("os leaked") end`},
		{name: "dofile removed", body: `if dofile ~= nil then error("dofile leaked") end`},
		{name: "loadstring removed", body: `if loadstring ~= nil then error("loadstring leaked") end`},
		{name: "string available", body: `api.reply(string.upper("ok"))`},
		{name: "math available", body: `api.reply(tostring(math.max(1, 2)))`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newLuaHandler(tt.name, tt.body)
			assert.NoError(t, h.Execute(context.Background(), newInvocation(&fakeSender{})))
		})
	}
}

func TestLuaHandlerHonorsContextDeadline(t *testing.T) {
	h := newLuaHandler("spin", `while true do end`)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := h.Execute(ctx, newInvocation(&fakeSender{}))
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second, "runaway script must be cut off")
}

func TestLuaHandlerSendFailurePropagates(t *testing.T) {
	h := newLuaHandler("greet", `api.reply("hello")`)
	api := &failingSender{}

	err := h.Execute(context.Background(), newInvocation(api))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "reply failed")
}

type failingSender struct{}

func (failingSender) Send(string, string, string) error {
	return assert.AnError
}
