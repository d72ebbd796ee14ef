package daemon

import (
	"fmt"

	"github.com/synthome/cmdbus/src/registry"
	"github.com/synthome/cmdbus/src/types"
)

// Admit registers an upgraded connection with the connection registry and
// starts its write pump. The caller runs the read pump (ReadPump blocks
// until the connection drops).
func (d *Daemon) Admit(conn types.Conn) (*registry.Client, error) {
	d.mu.RLock()
	running, reg := d.running, d.clients
	d.mu.RUnlock()
	if !running || reg == nil {
		return nil, fmt.Errorf("daemon not running")
	}
	client, err := reg.Accept(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	d.connWg.Add(1)
	go func() {
		defer d.connWg.Done()
		d.writePump(client)
	}()
	return client, nil
}

// ReadPump reads frames from the client until the connection drops, then
// removes the client from the registry.
func (d *Daemon) ReadPump(c *registry.Client) {
	defer func() {
		if reg := d.registryRef(); reg != nil {
			reg.Remove(c.ID)
		} else {
			c.Close()
		}
	}()

	for {
		raw, err := c.Conn().ReadMessage()
		if err != nil {
			return
		}
		c.Touch()
		d.handleInbound(c, raw)
	}
}

// writePump drains the client's send queue onto the wire.
func (d *Daemon) writePump(c *registry.Client) {
	defer c.Conn().Close()

	for {
		select {
		case v := <-c.Send:
			if err := c.Conn().WriteJSON(v); err != nil {
				return
			}
		case <-c.Done():
			return
		}
	}
}

// handleInbound parses one frame, answers system types directly, and hands
// everything else to the router. Dispatch initiation follows arrival order
// per connection; completion order is up to the handlers, so callers
// correlate by requestId.
func (d *Daemon) handleInbound(c *registry.Client, raw []byte) {
	env, err := d.router.Parse(raw)
	if err != nil {
		// Malformed frame: answer with the error, keep the connection.
		c.TrySend(d.router.FailureResponse(env, err))
		return
	}
	env.ClientID = c.ID

	switch env.Type {
	case types.TypeClientInit:
		if env.SessionID != "" {
			c.SetMeta("sessionId", env.SessionID)
		}
		c.TrySend(types.Envelope{
			Type:      types.TypeConnectionConfirmed,
			RequestID: env.RequestID,
			ClientID:  c.ID,
			Data:      map[string]any{"clientId": c.ID},
			Timestamp: types.Now(),
		})
	case types.TypePing:
		c.TrySend(types.Envelope{
			Type:      types.TypePong,
			RequestID: env.RequestID,
			ClientID:  c.ID,
			Timestamp: types.Now(),
		})
	case types.TypePong:
		// Heartbeat reply; Touch already recorded the activity.
	default:
		// Begin runs here, in the read loop, so handler initiation follows
		// arrival order; only the timeout race and the reply send happen off
		// this goroutine.
		ctx := d.runCtx()
		pd := d.router.Begin(ctx, env)
		d.dispatches.Add(1)
		go func() {
			defer d.dispatches.Done()
			resp := pd.Wait(ctx)
			if !c.TrySend(resp) {
				d.logger.Warn().
					Str("client_id", c.ID).
					Str("type", resp.Type).
					Msg("response dropped, send buffer full")
			}
		}()
	}
}
