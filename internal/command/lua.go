package command

import (
	"context"
	"fmt"
	"strings"
	"sync"

	lua "github.com/yuin/gopher-lua"
	"github.com/yuin/gopher-lua/parse"

	"github.com/botfleet/botfleet/pkg/constants"
)

// luaHandler executes an operator-authored Lua script body. The body is
// compiled once on first execution; compile errors are cached and returned
// on every call rather than raised at registration time.
//
// Each execution runs in a fresh state with only the base, table, string,
// and math libraries opened. The io/os libraries are withheld and the
// file-loading base functions removed, since script bodies are semi-trusted
// operator input. Execution is bounded by a context timeout.
type luaHandler struct {
	name string
	body string

	compileOnce sync.Once
	proto       *lua.FunctionProto
	compileErr  error
}

func newLuaHandler(name, body string) *luaHandler {
	return &luaHandler{name: name, body: body}
}

func (h *luaHandler) compile() (*lua.FunctionProto, error) {
	h.compileOnce.Do(func() {
		if len(h.body) > constants.MaxCommandBodyLength {
			h.compileErr = fmt.Errorf("command body exceeds %d bytes", constants.MaxCommandBodyLength)
			return
		}
		chunk, err := parse.Parse(strings.NewReader(h.body), h.name)
		if err != nil {
			h.compileErr = fmt.Errorf("failed to parse command %q: %w", h.name, err)
			return
		}
		proto, err := lua.Compile(chunk, h.name)
		if err != nil {
			h.compileErr = fmt.Errorf("failed to compile command %q: %w", h.name, err)
			return
		}
		h.proto = proto
	})
	return h.proto, h.compileErr
}

// Execute implements Handler.
func (h *luaHandler) Execute(ctx context.Context, inv *Invocation) error {
	proto, err := h.compile()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, constants.DefaultCommandTimeout)
	defer cancel()

	L := lua.NewState(lua.Options{SkipOpenLibs: true})
	defer L.Close()
	L.SetContext(ctx)

	openSafeLibs(L)
	bindInvocation(L, inv)

	L.Push(L.NewFunctionFromProto(proto))
	if err := L.PCall(0, lua.MultRet, nil); err != nil {
		return fmt.Errorf("command %q failed: %w", h.name, err)
	}
	return nil
}

// openSafeLibs opens the whitelisted standard libraries and strips the
// file-loading entry points OpenBase installs.
func openSafeLibs(L *lua.LState) {
	for _, lib := range []struct {
		name string
		fn   lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.fn))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}

	L.SetGlobal("dofile", lua.LNil)
	L.SetGlobal("loadfile", lua.LNil)
	L.SetGlobal("load", lua.LNil)
	L.SetGlobal("loadstring", lua.LNil)
}

// bindInvocation exposes the four handler parameters to the script:
// api (send/reply), event, args, and config.
func bindInvocation(L *lua.LState, inv *Invocation) {
	api := L.NewTable()
	L.SetField(api, "send", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		threadID := L.OptString(2, inv.Event.ThreadID)
		if err := inv.API.Send(text, threadID, ""); err != nil {
			L.RaiseError("send failed: %s", err.Error())
		}
		return 0
	}))
	L.SetField(api, "reply", L.NewFunction(func(L *lua.LState) int {
		text := L.CheckString(1)
		if err := inv.API.Send(text, inv.Event.ThreadID, inv.Event.MessageID); err != nil {
			L.RaiseError("reply failed: %s", err.Error())
		}
		return 0
	}))
	L.SetGlobal("api", api)

	event := L.NewTable()
	L.SetField(event, "type", lua.LString(inv.Event.Type))
	L.SetField(event, "thread_id", lua.LString(inv.Event.ThreadID))
	L.SetField(event, "message_id", lua.LString(inv.Event.MessageID))
	L.SetField(event, "sender_id", lua.LString(inv.Event.SenderID))
	L.SetField(event, "body", lua.LString(inv.Event.Body))
	L.SetGlobal("event", event)

	args := L.NewTable()
	for _, arg := range inv.Args {
		args.Append(lua.LString(arg))
	}
	L.SetGlobal("args", args)

	config := L.NewTable()
	if inv.Config != nil {
		L.SetField(config, "prefix", lua.LString(inv.Config.Prefix))
		L.SetField(config, "bot_id", lua.LString(inv.Config.BotID))
	}
	L.SetGlobal("config", config)
}
