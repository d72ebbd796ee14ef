package daemon

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog"
	"github.com/synthome/cmdbus/config"
	"github.com/synthome/cmdbus/src/registry"
	"github.com/synthome/cmdbus/src/router"
	"github.com/synthome/cmdbus/src/types"
	"github.com/valyala/fasthttp"
)

// Daemon is the orchestrator: it owns the listening socket and upgrade
// handshake, composes the connection registry with the message router, and
// exposes RegisterDaemon, Start, Stop, and Broadcast.
type Daemon struct {
	cfg    *config.DaemonConfig
	logger zerolog.Logger

	handlers *registry.HandlerRegistry
	router   *router.Router

	mu        sync.RWMutex
	running   bool
	clients   *registry.ConnectionRegistry
	ln        net.Listener
	server    *fasthttp.Server
	app       *fiber.App
	ctx       context.Context
	cancel    context.CancelFunc
	onConnect []func(clientID string)
	onDisconn []func(clientID string)
	daemons   map[string][]*registry.HandlerRegistration

	connWg     sync.WaitGroup
	dispatches sync.WaitGroup
}

// New creates a daemon. Handlers may be registered before Start; the
// connection registry is constructed at Start and torn down at Stop so no
// client state leaks across runs.
func New(cfg *config.DaemonConfig, logger zerolog.Logger) *Daemon {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	handlers := registry.NewHandlerRegistry(logger)
	return &Daemon{
		cfg:      cfg,
		logger:   logger.With().Str("component", "daemon").Logger(),
		handlers: handlers,
		router:   router.New(handlers, cfg.CommandTimeout, logger),
		daemons:  make(map[string][]*registry.HandlerRegistration),
	}
}

// Handlers exposes the handler registry.
func (d *Daemon) Handlers() *registry.HandlerRegistry { return d.handlers }

// Router exposes the message router.
func (d *Daemon) Router() *router.Router { return d.router }

// RegisterDaemon bulk-registers the declared message types of a
// collaborating daemon. On any conflict the whole registration is rolled
// back and the conflict returned. This runs on every wiring path and stays
// far below scheduling latency regardless of registry size.
func (d *Daemon) RegisterDaemon(name string, handler types.MessageHandler) error {
	return d.RegisterDaemonWith(name, handler, registry.RegisterOptions{})
}

// RegisterDaemonWith is RegisterDaemon with explicit registration options.
func (d *Daemon) RegisterDaemonWith(name string, handler types.MessageHandler, opts registry.RegisterOptions) error {
	regs := make([]*registry.HandlerRegistration, 0, len(handler.MessageTypes()))
	for _, msgType := range handler.MessageTypes() {
		reg, err := d.handlers.Register(msgType, handler, name, opts)
		if err != nil {
			for _, done := range regs {
				d.handlers.Unregister(done)
			}
			return fmt.Errorf("register daemon %q: %w", name, err)
		}
		regs = append(regs, reg)
	}

	d.mu.Lock()
	d.daemons[name] = append(d.daemons[name], regs...)
	d.mu.Unlock()

	d.logger.Info().Str("daemon", name).Int("types", len(regs)).Msg("daemon registered")
	return nil
}

// UnregisterDaemon tears down every registration owned by a named daemon.
func (d *Daemon) UnregisterDaemon(name string) {
	dropped := d.handlers.UnregisterDaemon(name)
	d.mu.Lock()
	delete(d.daemons, name)
	d.mu.Unlock()
	d.logger.Info().Str("daemon", name).Int("dropped", dropped).Msg("daemon unregistered")
}

// SetTimeout overrides the dispatch timeout for one message type.
func (d *Daemon) SetTimeout(msgType string, timeout time.Duration) {
	d.router.SetTimeout(msgType, timeout)
}

// OnConnect registers a callback fired when a client is admitted. Survives
// Stop/Start cycles.
func (d *Daemon) OnConnect(cb func(clientID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onConnect = append(d.onConnect, cb)
	if d.clients != nil {
		d.clients.OnConnect(cb)
	}
}

// OnDisconnect registers a callback fired when a client disconnects, is
// evicted, or is closed by shutdown. Survives Stop/Start cycles.
func (d *Daemon) OnDisconnect(cb func(clientID string)) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.onDisconn = append(d.onDisconn, cb)
	if d.clients != nil {
		d.clients.OnDisconnect(cb)
	}
}

// Start binds the listener and begins accepting connections. Idempotent:
// starting a running daemon is a no-op.
func (d *Daemon) Start() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running {
		return nil
	}

	ln, err := net.Listen("tcp", d.cfg.Addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", d.cfg.Addr, err)
	}

	d.ctx, d.cancel = context.WithCancel(context.Background())
	d.clients = registry.NewConnectionRegistry(d.cfg, d.logger)
	for _, cb := range d.onConnect {
		d.clients.OnConnect(cb)
	}
	for _, cb := range d.onDisconn {
		d.clients.OnDisconnect(cb)
	}
	d.clients.Start()

	d.ln = ln
	d.app = d.buildApp()
	d.server = &fasthttp.Server{
		Handler:         d.httpHandler(),
		Name:            "cmdbus",
		ReadBufferSize:  d.cfg.ReadBufferSize,
		WriteBufferSize: d.cfg.WriteBufferSize,
	}

	go func(srv *fasthttp.Server, ln net.Listener) {
		if err := srv.Serve(ln); err != nil {
			d.logger.Debug().Err(err).Msg("server loop ended")
		}
	}(d.server, ln)

	d.running = true
	d.logger.Info().Str("addr", ln.Addr().String()).Str("ws_path", d.cfg.WSPath).Msg("daemon started")
	return nil
}

// Stop gracefully shuts the daemon down: close every open connection, wait
// a bounded grace period for pumps and in-flight dispatches, then give up
// on stragglers. Afterwards an immediate Start accepts fresh connections
// with zero residual client or handler state. Idempotent.
func (d *Daemon) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	clients := d.clients
	server := d.server
	cancel := d.cancel
	d.clients = nil
	d.server = nil
	d.ln = nil
	d.app = nil
	d.mu.Unlock()

	if server != nil {
		if err := server.Shutdown(); err != nil {
			d.logger.Warn().Err(err).Msg("server shutdown error")
		}
	}

	// Signal close to every client, then wait out the grace period.
	clients.Stop()
	settled := make(chan struct{})
	go func() {
		d.connWg.Wait()
		d.dispatches.Wait()
		close(settled)
	}()
	select {
	case <-settled:
	case <-time.After(d.cfg.GracePeriod):
		d.logger.Warn().Dur("grace_period", d.cfg.GracePeriod).Msg("grace period elapsed, abandoning stragglers")
	}

	cancel()
	d.handlers.Clear()
	d.mu.Lock()
	d.daemons = make(map[string][]*registry.HandlerRegistration)
	d.mu.Unlock()

	d.logger.Info().Msg("daemon stopped")
	return nil
}

// Running reports whether the daemon is accepting connections.
func (d *Daemon) Running() bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.running
}

// Addr returns the bound listen address, or "" when stopped. Useful with
// an ":0" configured address.
func (d *Daemon) Addr() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ln == nil {
		return ""
	}
	return d.ln.Addr().String()
}

// registryRef returns the live connection registry, or nil when stopped.
func (d *Daemon) registryRef() *registry.ConnectionRegistry {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.clients
}

// runCtx returns the context for the current run. Dispatches started on a
// previous run keep their own context.
func (d *Daemon) runCtx() context.Context {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.ctx == nil {
		return context.Background()
	}
	return d.ctx
}

// Broadcast pushes an envelope to every connected client matching the
// filter (nil matches all). Iterates a snapshot, never the live set; a
// failed or full client is skipped without aborting delivery to the rest.
// Returns the number of clients the message was queued for.
func (d *Daemon) Broadcast(env types.Envelope, filter func(types.ClientInfo) bool) int {
	reg := d.registryRef()
	if reg == nil {
		return 0
	}
	if env.Timestamp == "" {
		env.Timestamp = types.Now()
	}

	delivered := 0
	for _, c := range reg.Snapshot() {
		if filter != nil && !filter(c.Info()) {
			continue
		}
		if c.TrySend(env) {
			delivered++
		} else {
			broadcastDropsTotal.Inc()
			d.logger.Warn().Str("client_id", c.ID).Msg("broadcast dropped, send buffer full")
		}
	}
	broadcastsTotal.Inc()
	return delivered
}

// SendToClient queues an envelope for one client.
func (d *Daemon) SendToClient(clientID string, env types.Envelope) error {
	reg := d.registryRef()
	if reg == nil {
		return fmt.Errorf("daemon not running")
	}
	c, ok := reg.Get(clientID)
	if !ok {
		return fmt.Errorf("client %s not found", clientID)
	}
	if env.Timestamp == "" {
		env.Timestamp = types.Now()
	}
	if !c.TrySend(env) {
		return fmt.Errorf("client %s send buffer full", clientID)
	}
	return nil
}

// ClientInfo returns info for a connected client, or nil.
func (d *Daemon) ClientInfo(clientID string) *types.ClientInfo {
	reg := d.registryRef()
	if reg == nil {
		return nil
	}
	c, ok := reg.Get(clientID)
	if !ok {
		return nil
	}
	info := c.Info()
	return &info
}

// ConnectedClients returns the IDs of all connected clients.
func (d *Daemon) ConnectedClients() []string {
	reg := d.registryRef()
	if reg == nil {
		return nil
	}
	snapshot := reg.Snapshot()
	ids := make([]string, 0, len(snapshot))
	for _, c := range snapshot {
		ids = append(ids, c.ID)
	}
	return ids
}

// Stats returns the connection registry summary. A stopped daemon reports
// zero clients.
func (d *Daemon) Stats() types.RegistryStats {
	reg := d.registryRef()
	if reg == nil {
		return types.RegistryStats{
			MaxClients:          d.cfg.MaxClients,
			HeartbeatEnabled:    d.cfg.Heartbeat,
			HeartbeatIntervalMs: d.cfg.PingInterval.Milliseconds(),
		}
	}
	return reg.Stats()
}
