package service_test

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synthome/cmdbus/config"
	"github.com/synthome/cmdbus/src/daemon"
	"github.com/synthome/cmdbus/src/service"
	"github.com/synthome/cmdbus/src/types"
)

func newTestService(t *testing.T) *service.Service {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Addr = "127.0.0.1:0"
	cfg.Heartbeat = false
	d := daemon.New(cfg, zerolog.Nop())
	return service.New(d, zerolog.Nop())
}

func TestRegisterDaemonAndDispatch(t *testing.T) {
	svc := newTestService(t)

	handler := types.HandlerFunc{Type: "persona_get", Fn: func(_ context.Context, env types.Envelope) types.Result {
		return types.Result{Success: true, Data: map[string]any{"name": "ada"}}
	}}
	require.NoError(t, svc.RegisterDaemon("persona", handler))

	resp := svc.Daemon().Router().Dispatch(context.Background(), types.Envelope{
		Type:      "persona_get",
		RequestID: "r1",
	})
	assert.Equal(t, "persona_get_response", resp.Type)
	assert.Equal(t, "r1", resp.RequestID)
	assert.True(t, resp.Success)
	assert.Equal(t, "persona", resp.ProcessedBy)
}

func TestRegisterDaemonConflictSurfaced(t *testing.T) {
	svc := newTestService(t)

	h := types.HandlerFunc{Type: "op", Fn: func(context.Context, types.Envelope) types.Result {
		return types.Result{Success: true}
	}}
	require.NoError(t, svc.RegisterDaemon("one", h))

	err := svc.RegisterDaemon("two", h)
	require.Error(t, err)
	var conflict *types.HandlerConflictError
	assert.ErrorAs(t, err, &conflict)
}

func TestUnregisterDaemon(t *testing.T) {
	svc := newTestService(t)

	h := types.HandlerFunc{Type: "op", Fn: func(context.Context, types.Envelope) types.Result {
		return types.Result{Success: true}
	}}
	require.NoError(t, svc.RegisterDaemon("owner", h))
	require.True(t, svc.Daemon().Handlers().HasHandlers("op"))

	svc.UnregisterDaemon("owner")
	assert.False(t, svc.Daemon().Handlers().HasHandlers("op"))
}

func TestBroadcastWhileStopped(t *testing.T) {
	svc := newTestService(t)
	assert.Equal(t, 0, svc.Broadcast("event", map[string]any{"k": "v"}, nil))
}

func TestSendToClientUnknown(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Daemon().Start())
	t.Cleanup(func() { _ = svc.Daemon().Stop() })

	err := svc.SendToClient("ghost", "event", nil)
	assert.Error(t, err)
}

func TestCoreDaemonHealth(t *testing.T) {
	svc := newTestService(t)
	core := service.NewCoreDaemon(svc)

	assert.Equal(t, []string{service.TypeExecuteCommand}, core.MessageTypes())

	res := core.Handle(context.Background(), types.Envelope{
		Type: service.TypeExecuteCommand,
		Data: map[string]any{"command": "health"},
	})
	require.True(t, res.Success)
	assert.Equal(t, true, res.Data["success"])
	inner, ok := res.Data["data"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "healthy", inner["status"])
}

func TestCoreDaemonStats(t *testing.T) {
	svc := newTestService(t)
	core := service.NewCoreDaemon(svc)

	res := core.Handle(context.Background(), types.Envelope{
		Type: service.TypeExecuteCommand,
		Data: map[string]any{"command": "stats"},
	})
	require.True(t, res.Success)

	stats, ok := res.Data["data"].(types.RegistryStats)
	require.True(t, ok)
	assert.Equal(t, 0, stats.TotalClients)
}

func TestCoreDaemonUnknownCommand(t *testing.T) {
	svc := newTestService(t)
	core := service.NewCoreDaemon(svc)

	res := core.Handle(context.Background(), types.Envelope{
		Type: service.TypeExecuteCommand,
		Data: map[string]any{"command": "reboot_universe"},
	})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "unknown command")

	res = core.Handle(context.Background(), types.Envelope{Type: service.TypeExecuteCommand})
	assert.False(t, res.Success)
	assert.Contains(t, res.Error, "missing command")
}

func TestUptime(t *testing.T) {
	svc := newTestService(t)
	time.Sleep(10 * time.Millisecond)
	assert.Greater(t, svc.Uptime(), time.Duration(0))
}
