package registry

import (
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/synthome/cmdbus/src/types"
)

func namedHandler(name string) types.MessageHandler {
	return types.HandlerFunc{
		Type: "test",
		Fn: func(context.Context, types.Envelope) types.Result {
			return types.Result{Success: true, Data: map[string]any{"handler": name}}
		},
	}
}

func TestRegisterConflictsByDefault(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	_, err := r.Register("chat_message", namedHandler("a"), "chat", RegisterOptions{})
	require.NoError(t, err)

	_, err = r.Register("chat_message", namedHandler("b"), "chat-v2", RegisterOptions{})
	require.Error(t, err)

	var conflict *types.HandlerConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, "chat_message", conflict.Type)
	assert.Equal(t, "chat", conflict.OwnedBy)
	assert.Equal(t, "chat-v2", conflict.Claiming)

	// The original registration is untouched.
	regs := r.Handlers("chat_message")
	require.Len(t, regs, 1)
	assert.Equal(t, "chat", regs[0].DaemonName)
}

func TestAllowReplaceOrdersByPriority(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	_, err := r.Register("event", namedHandler("low"), "d1", RegisterOptions{Priority: 1})
	require.NoError(t, err)
	_, err = r.Register("event", namedHandler("high"), "d2", RegisterOptions{Priority: 10, AllowReplace: true})
	require.NoError(t, err)
	_, err = r.Register("event", namedHandler("mid"), "d3", RegisterOptions{Priority: 5, AllowReplace: true})
	require.NoError(t, err)

	regs := r.Handlers("event")
	require.Len(t, regs, 3)
	assert.Equal(t, "d2", regs[0].DaemonName)
	assert.Equal(t, "d3", regs[1].DaemonName)
	assert.Equal(t, "d1", regs[2].DaemonName)
}

func TestPriorityTiesBreakByRegistrationOrder(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	_, err := r.Register("event", namedHandler("first"), "first", RegisterOptions{Priority: 5})
	require.NoError(t, err)
	_, err = r.Register("event", namedHandler("second"), "second", RegisterOptions{Priority: 5, AllowReplace: true})
	require.NoError(t, err)

	regs := r.Handlers("event")
	require.Len(t, regs, 2)
	assert.Equal(t, "first", regs[0].DaemonName)
	assert.Equal(t, "second", regs[1].DaemonName)
}

func TestUnregisterRemovesExactlyOne(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	reg1, err := r.Register("event", namedHandler("a"), "d1", RegisterOptions{})
	require.NoError(t, err)
	reg2, err := r.Register("event", namedHandler("b"), "d2", RegisterOptions{AllowReplace: true})
	require.NoError(t, err)

	assert.True(t, r.Unregister(reg1))
	assert.False(t, r.Unregister(reg1), "double unregister is a no-op")

	regs := r.Handlers("event")
	require.Len(t, regs, 1)
	assert.Equal(t, "d2", regs[0].DaemonName)

	assert.True(t, r.Unregister(reg2))
	assert.False(t, r.HasHandlers("event"), "type reverts to unhandled")
}

func TestUnregisterDaemonDropsAllOwned(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	_, err := r.Register("a", namedHandler("x"), "chat", RegisterOptions{})
	require.NoError(t, err)
	_, err = r.Register("b", namedHandler("x"), "chat", RegisterOptions{})
	require.NoError(t, err)
	_, err = r.Register("b", namedHandler("y"), "files", RegisterOptions{AllowReplace: true})
	require.NoError(t, err)

	assert.Equal(t, 2, r.UnregisterDaemon("chat"))
	assert.False(t, r.HasHandlers("a"))
	require.True(t, r.HasHandlers("b"))
	assert.Equal(t, "files", r.Handlers("b")[0].DaemonName)
}

func TestHandlersReturnsSnapshot(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	reg1, err := r.Register("event", namedHandler("a"), "d1", RegisterOptions{})
	require.NoError(t, err)
	_, err = r.Register("event", namedHandler("b"), "d2", RegisterOptions{AllowReplace: true})
	require.NoError(t, err)

	snapshot := r.Handlers("event")
	require.Len(t, snapshot, 2)

	// Mutating the live registry must not corrupt the snapshot.
	r.Unregister(reg1)
	require.Len(t, snapshot, 2)
	assert.Equal(t, "d1", snapshot[0].DaemonName)
	assert.Equal(t, "d2", snapshot[1].DaemonName)
}

func TestClear(t *testing.T) {
	r := NewHandlerRegistry(zerolog.Nop())

	_, err := r.Register("a", namedHandler("x"), "d1", RegisterOptions{})
	require.NoError(t, err)
	_, err = r.Register("b", namedHandler("y"), "d2", RegisterOptions{})
	require.NoError(t, err)
	require.Equal(t, 2, r.Len())

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Types())
}
