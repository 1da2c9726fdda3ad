package a2a

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/zeromicro/go-zero/core/logx"
)

// WSHandler is the WebSocket leg of the A2A wire: one persistent
// connection carries many JSON-RPC requests/responses.
type WSHandler struct {
	gw       *Gateway
	upgrader websocket.Upgrader
}

func NewWSHandler(gw *Gateway) *WSHandler {
	return &WSHandler{
		gw: gw,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

const wsWriteTimeout = 10 * time.Second

func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logx.Errorf("a2a: ws upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	send := make(chan Response, 16)
	done := make(chan struct{})
	go h.writePump(conn, send, done)
	h.readPump(r, conn, send, done)
}

func (h *WSHandler) readPump(r *http.Request, conn *websocket.Conn, send chan<- Response, done chan<- struct{}) {
	defer close(done)
	for {
		var req Request
		if err := conn.ReadJSON(&req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logx.Errorf("a2a: ws read error: %v", err)
			}
			return
		}
		// Requests are dispatched one at a time in arrival order; each gets
		// its own response, and a request the gateway rejects is answered
		// with an error response without closing the connection.
		resp := h.gw.Dispatch(r.Context(), req)
		select {
		case send <- resp:
		case <-r.Context().Done():
			return
		}
	}
}

func (h *WSHandler) writePump(conn *websocket.Conn, send <-chan Response, done <-chan struct{}) {
	for {
		select {
		case resp, ok := <-send:
			if !ok {
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(resp); err != nil {
				logx.Errorf("a2a: ws write error: %v", err)
				return
			}
		case <-done:
			return
		}
	}
}
