package api

import (
	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"
)

// wsHandler upgrades HTTP connections to WebSocket and delegates to
// ConnectionManager, per §6.2: path /ws/events, optional ?since=<event_id>
// query for reconnect backfill.
func (s *Server) wsHandler(c *echo.Context) error {
	if s.connManager == nil {
		return echo.NewHTTPError(503, "WebSocket not available")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		// Origin validation is out of scope for this repo's core (§1); a
		// production deployment would replace this with an OriginPatterns
		// allowlist sourced from config.
		InsecureSkipVerify: true,
	})
	if err != nil {
		return err
	}

	since := c.QueryParam("since")
	// HandleConnection blocks until the WebSocket closes.
	s.connManager.HandleConnection(c.Request().Context(), conn, since)
	return nil
}
