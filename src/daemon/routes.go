package daemon

import (
	"errors"
	"net"
	"strings"
	"time"

	"github.com/fasthttp/websocket"
	"github.com/gofiber/fiber/v3"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/valyala/fasthttp"
	"github.com/valyala/fasthttp/fasthttpadaptor"

	"github.com/synthome/cmdbus/src/types"
)

// buildApp assembles the HTTP info surface served next to the WebSocket
// endpoint.
func (d *Daemon) buildApp() *fiber.App {
	app := fiber.New()
	app.Get("/info", d.handleInfo)
	app.Get("/stats", d.handleStats)
	return app
}

func (d *Daemon) handleInfo(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"websocket": true,
		"endpoint":  d.cfg.WSPath,
		"clients":   len(d.ConnectedClients()),
		"types":     d.handlers.Types(),
	})
}

func (d *Daemon) handleStats(c fiber.Ctx) error {
	return c.JSON(d.Stats())
}

// httpHandler routes the WebSocket path to the upgrader, /metrics to
// Prometheus, and everything else to the Fiber app. The upgrade must use a
// raw fasthttp handler since Fiber v3 does not expose *fasthttp.RequestCtx.
func (d *Daemon) httpHandler() fasthttp.RequestHandler {
	appHandler := d.app.Handler()
	metricsHandler := fasthttpadaptor.NewFastHTTPHandler(promhttp.Handler())
	wsHandler := d.wsHandler()

	return func(ctx *fasthttp.RequestCtx) {
		switch string(ctx.Path()) {
		case d.cfg.WSPath:
			wsHandler(ctx)
		case "/metrics":
			metricsHandler(ctx)
		default:
			appHandler(ctx)
		}
	}
}

// wsHandler performs the upgrade handshake, bounded by UpgradeTimeout so a
// hung negotiation releases its resources instead of pinning them.
func (d *Daemon) wsHandler() fasthttp.RequestHandler {
	upgrader := websocket.FastHTTPUpgrader{
		HandshakeTimeout: d.cfg.UpgradeTimeout,
		ReadBufferSize:   d.cfg.ReadBufferSize,
		WriteBufferSize:  d.cfg.WriteBufferSize,
	}

	return func(ctx *fasthttp.RequestCtx) {
		upgrade := string(ctx.Request.Header.Peek("Upgrade"))
		if !strings.EqualFold(upgrade, "websocket") {
			ctx.SetStatusCode(fasthttp.StatusUpgradeRequired)
			ctx.SetBodyString(`{"error":"upgrade_required","message":"WebSocket upgrade required"}`)
			return
		}

		// Refuse early when at capacity; Admit re-checks after the
		// upgrade since connections may race in between.
		if reg := d.registryRef(); reg == nil || reg.Len() >= d.cfg.MaxClients {
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(`{"error":"connection_limit","message":"server at capacity"}`)
			return
		}

		err := upgrader.Upgrade(ctx, func(conn *websocket.Conn) {
			client, err := d.Admit(&wsConn{conn})
			if err != nil {
				d.logger.Warn().Err(err).Msg("connection refused after upgrade")
				return
			}
			d.ReadPump(client)
		})
		if err != nil {
			d.logger.Error().
				Err(classifyUpgradeError(err, d.cfg.UpgradeTimeout)).
				Msg("websocket upgrade failed")
		}
	}
}

// classifyUpgradeError maps a timed-out handshake onto UpgradeTimeoutError
// so it is distinguishable from a malformed upgrade request. Other upgrade
// failures pass through unchanged.
func classifyUpgradeError(err error, timeout time.Duration) error {
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &types.UpgradeTimeoutError{Timeout: timeout}
	}
	return err
}

// wsConn wraps fasthttp/websocket.Conn to satisfy types.Conn.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) ReadMessage() ([]byte, error) {
	_, p, err := w.conn.ReadMessage()
	return p, err
}

func (w *wsConn) WriteJSON(v any) error { return w.conn.WriteJSON(v) }
func (w *wsConn) Close() error          { return w.conn.Close() }
