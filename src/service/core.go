package service

import (
	"context"
	"fmt"

	"github.com/synthome/cmdbus/src/types"
)

// TypeExecuteCommand is the reserved command envelope type served by the
// core daemon.
const TypeExecuteCommand = "execute_command"

// CoreDaemon serves execute_command requests against the bus itself:
// health, stats, and client listing. It is registered under the name
// "core" by the daemon binary.
type CoreDaemon struct {
	svc *Service
}

// NewCoreDaemon creates the builtin command daemon.
func NewCoreDaemon(svc *Service) *CoreDaemon {
	return &CoreDaemon{svc: svc}
}

func (c *CoreDaemon) MessageTypes() []string {
	return []string{TypeExecuteCommand}
}

// Handle executes one command. The reply data mirrors the command contract:
// {success, data?, error?}.
func (c *CoreDaemon) Handle(_ context.Context, env types.Envelope) types.Result {
	command, _ := env.Data["command"].(string)

	switch command {
	case "health":
		return types.Result{Success: true, Data: map[string]any{
			"success": true,
			"data": map[string]any{
				"status":    "healthy",
				"uptime_ms": c.svc.Uptime().Milliseconds(),
			},
		}}
	case "stats":
		return types.Result{Success: true, Data: map[string]any{
			"success": true,
			"data":    c.svc.Stats(),
		}}
	case "clients":
		return types.Result{Success: true, Data: map[string]any{
			"success": true,
			"data":    map[string]any{"clients": c.svc.GetConnectedClients()},
		}}
	case "":
		return types.Result{Success: false, Error: "missing command"}
	default:
		return types.Result{
			Success: false,
			Error:   fmt.Sprintf("unknown command %q", command),
		}
	}
}
