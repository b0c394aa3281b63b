package tunnel

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second
	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second
	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
	// Maximum message size accepted from an observer (admin clients only
	// ever send pongs, so this is generous headroom, not a real budget).
	maxMessageSize = 512
)

// NewAdminClient creates an admin feed client wrapping an upgraded
// connection and registers it with the hub.
func NewAdminClient(hub *Hub, conn *websocket.Conn, id string) *adminConn {
	c := &adminConn{
		hub:  hub,
		conn: conn,
		send: make(chan []byte, 256),
	}
	hub.register <- &AdminClient{ID: id, Send: c.send, IsAuth: true}
	c.id = id
	return c
}

// adminConn pairs a live websocket connection with the channel the hub
// writes broadcasts onto for this observer.
type adminConn struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// ReadPump pumps control frames from the websocket connection. Admin feed
// observers are read-only: any payload they send is ignored beyond keeping
// the read deadline alive.
func (c *adminConn) ReadPump() {
	defer func() {
		c.hub.unregister <- &AdminClient{ID: c.id, Send: c.send}
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			break
		}
	}
}

// WritePump pumps broadcast messages from the hub to the websocket
// connection, pinging on an idle interval to keep the connection alive.
func (c *adminConn) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
