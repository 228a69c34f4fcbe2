package ws

import (
	"sync"

	"csms/internal/station"

	"github.com/gorilla/websocket"
)

// Conn adapts a gorilla websocket connection to the station.Transport
// frame interface. Writes are serialized; gorilla allows one concurrent
// writer only.
type Conn struct {
	mu sync.Mutex
	ws *websocket.Conn
}

func NewConn(wsc *websocket.Conn) *Conn {
	return &Conn{ws: wsc}
}

func (c *Conn) WriteFrame(f station.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteJSON(f)
}

func (c *Conn) ReadFrame() (station.Frame, error) {
	var f station.Frame
	err := c.ws.ReadJSON(&f)
	return f, err
}

func (c *Conn) Close() error {
	return c.ws.Close()
}
