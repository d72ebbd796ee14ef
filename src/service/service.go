package service

import (
	"time"

	"github.com/rs/zerolog"
	"github.com/synthome/cmdbus/src/daemon"
	"github.com/synthome/cmdbus/src/registry"
	"github.com/synthome/cmdbus/src/types"
)

// Service is the collaborator-facing API over the daemon. Subsystems that
// register handlers import this package and never touch transport details.
type Service struct {
	daemon    *daemon.Daemon
	logger    zerolog.Logger
	startedAt time.Time
}

// New creates a service backed by the given daemon.
func New(d *daemon.Daemon, logger zerolog.Logger) *Service {
	return &Service{
		daemon:    d,
		logger:    logger.With().Str("component", "service").Logger(),
		startedAt: time.Now(),
	}
}

// Daemon returns the underlying daemon.
func (s *Service) Daemon() *daemon.Daemon { return s.daemon }

// Uptime reports how long the service has been wired up.
func (s *Service) Uptime() time.Duration { return time.Since(s.startedAt) }

// RegisterDaemon registers a collaborating daemon's handlers.
func (s *Service) RegisterDaemon(name string, handler types.MessageHandler) error {
	if err := s.daemon.RegisterDaemon(name, handler); err != nil {
		return err
	}
	s.logger.Debug().Str("daemon", name).Msg("daemon registered")
	return nil
}

// RegisterDaemonWith registers a collaborating daemon with explicit
// priority and replace options.
func (s *Service) RegisterDaemonWith(name string, handler types.MessageHandler, opts registry.RegisterOptions) error {
	return s.daemon.RegisterDaemonWith(name, handler, opts)
}

// UnregisterDaemon removes every handler owned by the named daemon.
func (s *Service) UnregisterDaemon(name string) {
	s.daemon.UnregisterDaemon(name)
}

// Broadcast pushes a message to all connected clients matching the filter
// (nil matches all). Returns how many clients it was queued for.
func (s *Service) Broadcast(msgType string, data map[string]any, filter func(types.ClientInfo) bool) int {
	return s.daemon.Broadcast(types.Envelope{
		Type:      msgType,
		Data:      data,
		Timestamp: types.Now(),
	}, filter)
}

// SendToClient queues a message for a specific client.
func (s *Service) SendToClient(clientID, msgType string, data map[string]any) error {
	return s.daemon.SendToClient(clientID, types.Envelope{
		Type:      msgType,
		Data:      data,
		ClientID:  clientID,
		Timestamp: types.Now(),
	})
}

// OnConnection registers a callback for new connections.
func (s *Service) OnConnection(cb func(clientID string)) {
	s.daemon.OnConnect(cb)
}

// OnDisconnection registers a callback for disconnections and evictions.
func (s *Service) OnDisconnection(cb func(clientID string)) {
	s.daemon.OnDisconnect(cb)
}

// GetConnectedClients returns IDs of all connected clients.
func (s *Service) GetConnectedClients() []string {
	return s.daemon.ConnectedClients()
}

// GetClientInfo returns info for a connected client, or nil.
func (s *Service) GetClientInfo(clientID string) *types.ClientInfo {
	return s.daemon.ClientInfo(clientID)
}

// Stats returns the connection registry summary.
func (s *Service) Stats() types.RegistryStats {
	return s.daemon.Stats()
}
