package notify

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"fleet-monitor/fueltheft/internal/log"
)

const writeWait = 10 * time.Second

// Client is one websocket connection subscribed to the hub.
type Client struct {
	conn *websocket.Conn
	log  log.Logger
	once sync.Once
}

func NewClient(conn *websocket.Conn, logger log.Logger) *Client {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Client{conn: conn, log: logger}
}

// Send writes a text frame. A failed write closes the connection.
func (c *Client) Send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "remote", c.conn.RemoteAddr().String(), "error", err)
		c.Close()
		return err
	}
	return nil
}

// ReadUntilClosed discards inbound frames until the peer goes away.
func (c *Client) ReadUntilClosed() {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Client) Close() {
	c.once.Do(func() { _ = c.conn.Close() })
}
