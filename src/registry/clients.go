package registry

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/synthome/cmdbus/config"
	"github.com/synthome/cmdbus/src/types"
)

// Client wraps an admitted connection and its bookkeeping. Clients are
// exclusively owned by the ConnectionRegistry; collaborators see only the
// ID and ClientInfo.
type Client struct {
	ID          string
	conn        types.Conn
	Send        chan any
	connectedAt time.Time

	mu           sync.RWMutex
	lastActivity time.Time
	metadata     map[string]any
	connected    bool
	done         chan struct{}
}

func newClient(id string, conn types.Conn, sendBuffer int) *Client {
	now := time.Now()
	return &Client{
		ID:           id,
		conn:         conn,
		Send:         make(chan any, sendBuffer),
		connectedAt:  now,
		lastActivity: now,
		metadata:     make(map[string]any),
		connected:    true,
		done:         make(chan struct{}),
	}
}

// Conn returns the underlying connection.
func (c *Client) Conn() types.Conn { return c.conn }

// Done is closed when the client is shut down.
func (c *Client) Done() <-chan struct{} { return c.done }

// Touch records inbound activity for heartbeat accounting.
func (c *Client) Touch() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

// LastActivity returns the time of the most recent inbound frame.
func (c *Client) LastActivity() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastActivity
}

// Connected reports whether the client is still admitted.
func (c *Client) Connected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetMeta stores a free-form metadata value on the client.
func (c *Client) SetMeta(key string, value any) {
	c.mu.Lock()
	c.metadata[key] = value
	c.mu.Unlock()
}

// Meta returns a metadata value previously stored with SetMeta.
func (c *Client) Meta(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.metadata[key]
	return v, ok
}

// Info returns a copy of the client's metadata.
func (c *Client) Info() types.ClientInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	meta := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		meta[k] = v
	}
	return types.ClientInfo{
		ID:           c.ID,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastActivity,
		Metadata:     meta,
	}
}

// TrySend queues a frame without blocking. Returns false when the send
// buffer is full or the client is already closed.
func (c *Client) TrySend(v any) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.connected {
		return false
	}
	select {
	case c.Send <- v:
		return true
	default:
		return false
	}
}

// Close signals the client's pumps to stop and closes the connection.
// Safe to call more than once.
func (c *Client) Close() {
	c.mu.Lock()
	if !c.connected {
		c.mu.Unlock()
		return
	}
	c.connected = false
	close(c.done)
	c.mu.Unlock()
	c.conn.Close()
}

// ConnectionRegistry owns the set of live clients: admission against
// maxClients, heartbeat probing, and eviction of silent clients. It holds
// no domain knowledge of what a disconnect means to any collaborator;
// interested parties subscribe via OnDisconnect.
type ConnectionRegistry struct {
	cfg    *config.DaemonConfig
	logger zerolog.Logger

	mu        sync.RWMutex
	clients   map[string]*Client
	stopped   bool
	onConnect []func(clientID string)
	onDisconn []func(clientID string)

	loopOnce sync.Once
	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

// NewConnectionRegistry creates an empty registry. Call Start to begin
// heartbeat probing.
func NewConnectionRegistry(cfg *config.DaemonConfig, logger zerolog.Logger) *ConnectionRegistry {
	return &ConnectionRegistry{
		cfg:     cfg,
		logger:  logger.With().Str("component", "connections").Logger(),
		clients: make(map[string]*Client),
		done:    make(chan struct{}),
	}
}

// Start launches the heartbeat loop if heartbeating is enabled.
func (r *ConnectionRegistry) Start() {
	if !r.cfg.Heartbeat {
		return
	}
	r.loopOnce.Do(func() {
		r.wg.Add(1)
		go r.heartbeatLoop()
	})
}

// ErrRegistryClosed is returned by Accept once Stop has begun. Without
// the refusal, a connection admitted during shutdown would land in a
// registry that is already being swept and never be closed.
var ErrRegistryClosed = errors.New("connection registry closed")

// Stop halts the heartbeat loop and closes every remaining client. The
// registry refuses new admissions from this point on.
func (r *ConnectionRegistry) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()

	for _, c := range r.Snapshot() {
		r.Remove(c.ID)
	}
}

// Accept admits a raw connection, assigning a unique client ID. Returns a
// ConnectionLimitError when the registry is at capacity, or
// ErrRegistryClosed once Stop has begun.
func (r *ConnectionRegistry) Accept(conn types.Conn) (*Client, error) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil, ErrRegistryClosed
	}
	if len(r.clients) >= r.cfg.MaxClients {
		r.mu.Unlock()
		return nil, &types.ConnectionLimitError{Max: r.cfg.MaxClients}
	}
	client := newClient(uuid.New().String(), conn, r.cfg.SendBuffer)
	r.clients[client.ID] = client
	total := len(r.clients)
	callbacks := append([]func(string){}, r.onConnect...)
	r.mu.Unlock()

	clientsConnected.Set(float64(total))
	connectionsTotal.Inc()
	r.logger.Info().Str("client_id", client.ID).Int("total", total).Msg("client admitted")

	for _, cb := range callbacks {
		cb(client.ID)
	}
	return client, nil
}

// Remove closes a client and drops it from the registry. Disconnect
// callbacks fire exactly once per client.
func (r *ConnectionRegistry) Remove(id string) {
	r.mu.Lock()
	client, ok := r.clients[id]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.clients, id)
	total := len(r.clients)
	callbacks := append([]func(string){}, r.onDisconn...)
	r.mu.Unlock()

	client.Close()
	clientsConnected.Set(float64(total))
	r.logger.Info().Str("client_id", id).Int("total", total).Msg("client removed")

	for _, cb := range callbacks {
		cb(id)
	}
}

// Get returns a client by ID.
func (r *ConnectionRegistry) Get(id string) (*Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Snapshot returns a copy of the current client set. Broadcast and
// heartbeat iterate this copy, never the live map.
func (r *ConnectionRegistry) Snapshot() []*Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		out = append(out, c)
	}
	return out
}

// Len returns the number of admitted clients.
func (r *ConnectionRegistry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clients)
}

// OnConnect registers a callback fired after a client is admitted.
func (r *ConnectionRegistry) OnConnect(cb func(clientID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onConnect = append(r.onConnect, cb)
}

// OnDisconnect registers a callback fired after a client is removed,
// whether by disconnect, eviction, or shutdown.
func (r *ConnectionRegistry) OnDisconnect(cb func(clientID string)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onDisconn = append(r.onDisconn, cb)
}

// Stats summarizes the registry state.
func (r *ConnectionRegistry) Stats() types.RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := types.RegistryStats{
		TotalClients:        len(r.clients),
		MaxClients:          r.cfg.MaxClients,
		HeartbeatEnabled:    r.cfg.Heartbeat,
		HeartbeatIntervalMs: r.cfg.PingInterval.Milliseconds(),
	}
	if len(r.clients) == 0 {
		return stats
	}

	now := time.Now()
	var totalMs float64
	var oldest time.Duration
	for _, c := range r.clients {
		age := now.Sub(c.connectedAt)
		totalMs += float64(age.Milliseconds())
		if age > oldest {
			oldest = age
		}
	}
	stats.AverageConnectionTime = totalMs / float64(len(r.clients))
	stats.OldestConnectionAgeMs = oldest.Milliseconds()
	return stats
}

// heartbeatLoop probes clients every PingInterval and evicts any that
// showed no activity within ClientTimeout. Eviction of one client never
// affects the others.
func (r *ConnectionRegistry) heartbeatLoop() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.probe()
		case <-r.done:
			return
		}
	}
}

func (r *ConnectionRegistry) probe() {
	cutoff := time.Now().Add(-r.cfg.ClientTimeout)
	for _, c := range r.Snapshot() {
		if c.LastActivity().Before(cutoff) {
			r.logger.Warn().
				Str("client_id", c.ID).
				Dur("client_timeout", r.cfg.ClientTimeout).
				Msg("client silent, evicting")
			evictionsTotal.Inc()
			r.Remove(c.ID)
			continue
		}
		if !c.TrySend(types.Envelope{Type: types.TypePing, Timestamp: types.Now()}) {
			r.logger.Warn().Str("client_id", c.ID).Msg("ping dropped, send buffer full")
		}
	}
}
