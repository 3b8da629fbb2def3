package server

import (
	"bytes"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The line protocol has no cookie-based auth to protect, so
	// cross-origin browser clients are allowed.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// HandleWebSocket upgrades an HTTP request and runs the regular message
// loop over it. Each text message is one wire record; the newline framing
// is reconstructed on read and stripped on write.
func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		errorLog.Printf("WebSocket upgrade failed for %s: %v", r.RemoteAddr, err)
		return
	}

	s.handleConnection(newWSNetConn(ws))
}

// wsNetConn adapts a websocket connection to net.Conn so the TCP message
// loop can run unchanged on top of it.
type wsNetConn struct {
	ws  *websocket.Conn
	buf bytes.Buffer
}

func newWSNetConn(ws *websocket.Conn) *wsNetConn {
	return &wsNetConn{ws: ws}
}

func (c *wsNetConn) Read(p []byte) (int, error) {
	for c.buf.Len() == 0 {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return 0, err
		}
		c.buf.Write(data)
		if len(data) == 0 || data[len(data)-1] != '\n' {
			c.buf.WriteByte('\n')
		}
	}
	return c.buf.Read(p)
}

func (c *wsNetConn) Write(p []byte) (int, error) {
	payload := bytes.TrimSuffix(p, []byte("\n"))
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (c *wsNetConn) Close() error                { return c.ws.Close() }
func (c *wsNetConn) LocalAddr() net.Addr         { return c.ws.LocalAddr() }
func (c *wsNetConn) RemoteAddr() net.Addr        { return c.ws.RemoteAddr() }
func (c *wsNetConn) SetDeadline(time.Time) error { return nil }

func (c *wsNetConn) SetReadDeadline(t time.Time) error {
	return c.ws.SetReadDeadline(t)
}

func (c *wsNetConn) SetWriteDeadline(t time.Time) error {
	return c.ws.SetWriteDeadline(t)
}
