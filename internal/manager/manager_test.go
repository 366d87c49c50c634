package manager

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/botfleet/botfleet/internal/command"
	"github.com/botfleet/botfleet/internal/gateway"
	"github.com/botfleet/botfleet/internal/store"
)

func testCreds(token string) gateway.Credentials {
	return gateway.Credentials(`{"token":"` + token + `"}`)
}

func newTestManager(t *testing.T, gw gateway.Gateway, st store.Store) *Manager {
	t.Helper()
	m, err := New(&Config{
		Gateway:  gw,
		Store:    st,
		Registry: command.NewRegistry(),
		Options: Options{
			Prefix:        "!",
			LoginTimeout:  time.Second,
			LogoutTimeout: time.Second,
			SettleDelay:   time.Millisecond,
		},
	})
	require.NoError(t, err)
	return m
}

func TestNewValidation(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	reg := command.NewRegistry()

	_, err := New(nil)
	assert.ErrorIs(t, err, ErrNilConfig)
	_, err = New(&Config{Store: st, Registry: reg})
	assert.ErrorIs(t, err, ErrNilGateway)
	_, err = New(&Config{Gateway: gw, Registry: reg})
	assert.ErrorIs(t, err, ErrNilStore)
	_, err = New(&Config{Gateway: gw, Store: st})
	assert.ErrorIs(t, err, ErrNilRegistry)
}

func TestAddBotSuccess(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	m := newTestManager(t, gw, st)

	snap, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "s3cret")
	require.NoError(t, err)

	assert.Equal(t, "alpha", snap.ID)
	assert.Equal(t, StatusOnline, snap.Status)
	assert.NotEmpty(t, snap.RemoteUserID)

	cfg, err := st.GetBotConfig(context.Background(), "alpha")
	require.NoError(t, err)
	assert.Equal(t, testCreds("tok-a"), cfg.Credentials)
	assert.NotEmpty(t, cfg.SecretHash)

	require.NotNil(t, gw.lastHandle().onEvent, "listen subscription not installed")
}

func TestAddBotDuplicate(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)

	_, err = m.AddBot(context.Background(), "alpha", testCreds("tok-b"), "")
	assert.ErrorIs(t, err, ErrDuplicateSession)
	assert.Equal(t, 1, gw.loginCount(), "duplicate add must not attempt a login")
}

func TestAddBotLoginFailureRetainsSession(t *testing.T) {
	gw := &fakeGateway{loginErr: errors.New("bad token")}
	m := newTestManager(t, gw, newMemStore())

	snap, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad token")

	assert.Equal(t, StatusError, snap.Status)
	assert.Equal(t, "bad token", snap.ErrorDetail)

	got, ok := m.GetBot("alpha")
	require.True(t, ok, "failed session should stay visible")
	assert.Equal(t, StatusError, got.Status)

	stats := m.GetStats()
	assert.Equal(t, 1, stats.TotalSessions)
	assert.Equal(t, 0, stats.ActiveSessions)
	assert.Equal(t, 1, stats.ErrorSessions)
}

func TestAddBotLoadsCustomCommands(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	require.NoError(t, st.UpsertCustomCommand(context.Background(), &store.CustomCommand{
		BotID: "alpha",
		Name:  "greet",
		Body:  `api.reply("hello")`,
	}))

	m := newTestManager(t, gw, st)
	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)

	assert.NotNil(t, m.registry.Resolve("alpha", "greet"))
	assert.Nil(t, m.registry.Resolve("beta", "greet"), "custom command must stay bot-scoped")
}

func TestRemoveBot(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	m := newTestManager(t, gw, st)

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)
	handle := gw.lastHandle()

	require.NoError(t, m.RemoveBot(context.Background(), "alpha"))

	assert.True(t, handle.isLoggedOut())
	_, ok := m.GetBot("alpha")
	assert.False(t, ok)

	_, err = st.GetBotConfig(context.Background(), "alpha")
	assert.ErrorIs(t, err, store.ErrBotConfigNotFound)
}

func TestRemoveBotUnknown(t *testing.T) {
	m := newTestManager(t, &fakeGateway{}, newMemStore())
	err := m.RemoveBot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestZombieEventDropped(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)
	handle := gw.lastHandle()

	require.NoError(t, m.RemoveBot(context.Background(), "alpha"))

	// The transport delivers one more event after teardown completed
	handle.deliver(gateway.Event{
		Type:     gateway.EventTypeMessage,
		ThreadID: "t1",
		Body:     "!ping",
	})

	stats := m.GetStats()
	assert.Equal(t, uint64(0), stats.MessagesReceived, "zombie event must not touch counters")
	assert.Empty(t, handle.sentMessages(), "zombie event must not reach a handler")
}

func TestInboundEventCountsAndDispatches(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	var invoked bool
	m.registry.RegisterGlobal(&command.Entry{
		Name: "hi",
		Handler: command.HandlerFunc(func(ctx context.Context, inv *command.Invocation) error {
			invoked = true
			return inv.API.Send("hello "+inv.Event.SenderID, inv.Event.ThreadID, "")
		}),
	})

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)
	handle := gw.lastHandle()

	handle.deliver(gateway.Event{
		Type:     gateway.EventTypeMessage,
		ThreadID: "t1",
		SenderID: "u9",
		Body:     "!hi",
	})

	assert.True(t, invoked)
	stats := m.GetStats()
	assert.Equal(t, uint64(1), stats.MessagesReceived)
	assert.Equal(t, uint64(1), stats.MessagesSent)

	snap, _ := m.GetBot("alpha")
	assert.Equal(t, uint64(1), snap.MessagesReceived)
	assert.Equal(t, uint64(1), snap.MessagesSent)
}

func TestRestartBot(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	m := newTestManager(t, gw, st)

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "s3cret")
	require.NoError(t, err)
	oldHandle := gw.lastHandle()

	require.NoError(t, m.RestartBot(context.Background(), "alpha"))

	assert.True(t, oldHandle.isLoggedOut())
	assert.Equal(t, 2, gw.loginCount())

	snap, ok := m.GetBot("alpha")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, snap.Status)

	// The restart must not wipe the stored secret hash
	cfg, err := st.GetBotConfig(context.Background(), "alpha")
	require.NoError(t, err)
	assert.NotEmpty(t, cfg.SecretHash)
}

func TestRestartBotUnknown(t *testing.T) {
	m := newTestManager(t, &fakeGateway{}, newMemStore())
	err := m.RestartBot(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestRestartBotRecoversErrorSession(t *testing.T) {
	gw := &fakeGateway{loginErr: errors.New("transient outage")}
	st := newMemStore()
	m := newTestManager(t, gw, st)

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.Error(t, err)

	gw.mu.Lock()
	gw.loginErr = nil
	gw.mu.Unlock()

	require.NoError(t, m.RestartBot(context.Background(), "alpha"))

	snap, ok := m.GetBot("alpha")
	require.True(t, ok)
	assert.Equal(t, StatusOnline, snap.Status)
}

func TestRestartBotNoCredentials(t *testing.T) {
	gw := &fakeGateway{}
	st := newMemStore()
	m := newTestManager(t, gw, st)

	_, err := m.AddBot(context.Background(), "alpha", nil, "")
	require.NoError(t, err)
	require.NoError(t, st.DeleteBotConfig(context.Background(), "alpha"))

	err = m.RestartBot(context.Background(), "alpha")
	assert.ErrorIs(t, err, ErrConfigurationMissing)
}

func TestBroadcast(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)
	alphaHandle := gw.lastHandle()

	_, err = m.AddBot(context.Background(), "beta", testCreds("tok-b"), "")
	require.NoError(t, err)
	betaHandle := gw.lastHandle()
	betaHandle.setSendErr(errSendRefused)

	results := m.Broadcast(context.Background(), "maintenance at noon", "t1")
	require.Len(t, results, 2)

	assert.Equal(t, "alpha", results[0].ID)
	assert.True(t, results[0].Success)
	assert.Equal(t, "beta", results[1].ID)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "transport refused")

	require.Len(t, alphaHandle.sentMessages(), 1)
	assert.Equal(t, "maintenance at noon", alphaHandle.sentMessages()[0].Text)
}

func TestBroadcastSkipsNonOnline(t *testing.T) {
	gw := &fakeGateway{loginErr: errors.New("bad token")}
	m := newTestManager(t, gw, newMemStore())

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.Error(t, err)

	results := m.Broadcast(context.Background(), "hello", "t1")
	assert.Empty(t, results, "error sessions must be skipped, not reported")
}

func TestStopAll(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	for _, id := range []string{"alpha", "beta", "gamma"} {
		_, err := m.AddBot(context.Background(), id, testCreds("tok-"+id), "")
		require.NoError(t, err)
	}

	m.StopAll(context.Background())

	assert.Empty(t, m.ListBots())
	for _, h := range gw.handles {
		assert.True(t, h.isLoggedOut())
	}
}

func TestLoginTimeout(t *testing.T) {
	gw := &fakeGateway{loginDelay: 100 * time.Millisecond}
	m, err := New(&Config{
		Gateway:  gw,
		Store:    newMemStore(),
		Registry: command.NewRegistry(),
		Options: Options{
			LoginTimeout:  10 * time.Millisecond,
			LogoutTimeout: time.Second,
			SettleDelay:   time.Millisecond,
		},
	})
	require.NoError(t, err)

	_, err = m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	assert.ErrorIs(t, err, ErrSessionTimeout)

	snap, ok := m.GetBot("alpha")
	require.True(t, ok)
	assert.Equal(t, StatusError, snap.Status)

	// The handle that arrived after the deadline gets logged out so the
	// connection does not leak
	assert.Eventually(t, func() bool {
		h := gw.lastHandle()
		return h != nil && h.isLoggedOut()
	}, time.Second, 10*time.Millisecond)
}

func TestGetHealthStatus(t *testing.T) {
	gw := &fakeGateway{}
	m := newTestManager(t, gw, newMemStore())

	health := m.GetHealthStatus()
	assert.False(t, health.Healthy, "no sessions means unhealthy")

	_, err := m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)

	health = m.GetHealthStatus()
	assert.True(t, health.Healthy)
	assert.Equal(t, 1, health.ActiveSessions)
}

func TestNotifications(t *testing.T) {
	gw := &fakeGateway{}
	var events []Event
	m, err := New(&Config{
		Gateway:  gw,
		Store:    newMemStore(),
		Registry: command.NewRegistry(),
		Options:  Options{SettleDelay: time.Millisecond},
		Notify:   func(ev Event) { events = append(events, ev) },
	})
	require.NoError(t, err)

	_, err = m.AddBot(context.Background(), "alpha", testCreds("tok-a"), "")
	require.NoError(t, err)
	require.NoError(t, m.RemoveBot(context.Background(), "alpha"))

	require.Len(t, events, 2)
	assert.Equal(t, EventSessionAdded, events[0].Type)
	assert.Equal(t, "alpha", events[0].BotID)
	assert.Equal(t, EventSessionRemoved, events[1].Type)
}
