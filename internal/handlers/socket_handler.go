package handlers

import (
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
)

// ConnectionServer runs an upgraded connection until it closes
type ConnectionServer interface {
	Serve(conn *websocket.Conn, userID uint, reconnect bool)
}

// SocketHandler upgrades authenticated requests to websocket connections
type SocketHandler struct {
	server   ConnectionServer
	upgrader websocket.Upgrader
}

func NewSocketHandler(server ConnectionServer) *SocketHandler {
	return &SocketHandler{
		server: server,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// CORS is open for the REST API as well; the JWT is the gate
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

func (h *SocketHandler) RegisterSocketRoutes(g *echo.Group) {
	g.GET("/ws", h.Connect)
}

// Connect upgrades the request. ?reconnect=1 marks a client coming back after a drop.
func (h *SocketHandler) Connect(c echo.Context) error {
	userID, err := requireUser(c)
	if err != nil {
		return err
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// the upgrader already wrote the error response
		return nil
	}
	h.server.Serve(conn, userID, c.QueryParam("reconnect") == "1")
	return nil
}
