package api

import (
	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
)

// wsHandler upgrades GET /ws and hands the connection to the manager.
// The server binds to loopback by default; origin checks are skipped so
// local dashboards on any port can connect.
func (s *Server) wsHandler(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		return
	}
	s.connManager.HandleConnection(c.Request.Context(), conn)
}
