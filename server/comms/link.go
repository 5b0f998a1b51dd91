// This code is available on the terms of the project LICENSE.md file,
// also available online at https://blueoakcouncil.org/license/1.0.0.

package comms

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"escrowmarket.org/escrowd/escrow/msgjson"
	"github.com/gorilla/websocket"
)

const (
	// outBufferSize is the size of a feed link's buffered channel for
	// outgoing messages.
	outBufferSize = 128
	writeWait     = 5 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = (pongWait * 9) / 10
)

// upgrader is the preferred method of upgrading a request to a websocket
// connection.
var upgrader = websocket.Upgrader{}

// feedLink is the per-connection representation of an event feed subscriber.
// The feed is broadcast-only: inbound messages other than pongs are ignored.
type feedLink struct {
	id       uint64
	addr     string
	conn     *websocket.Conn
	out      chan []byte
	quit     chan struct{}
	closeMtx sync.Mutex
	closed   bool
}

func newFeedLink(id uint64, addr string, conn *websocket.Conn) *feedLink {
	return &feedLink{
		id:   id,
		addr: addr,
		conn: conn,
		out:  make(chan []byte, outBufferSize),
		quit: make(chan struct{}),
	}
}

// Send queues the message for delivery. A full outgoing buffer counts as a
// send failure; the subscriber is too slow and will be disconnected by the
// caller.
func (c *feedLink) Send(msg *msgjson.Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	select {
	case c.out <- b:
		return nil
	case <-c.quit:
		return errClientDisconnected
	default:
		return errOutputBufferFull
	}
}

// Disconnect closes the connection and stops the send loop. Disconnect is
// idempotent.
func (c *feedLink) Disconnect() {
	c.closeMtx.Lock()
	defer c.closeMtx.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.quit)
	c.conn.Close()
}

// sendLoop drains the outgoing queue to the connection and keeps the peer
// alive with pings. It returns when the link is disconnected or a write
// fails.
func (c *feedLink) sendLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case b := <-c.out:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, b); err != nil {
				log.Debugf("write error for feed client %s: %v", c.addr, err)
				c.Disconnect()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Disconnect()
				return
			}
		case <-c.quit:
			return
		}
	}
}

// readLoop discards inbound frames, serving only to process control frames
// and detect peer disconnection.
func (c *feedLink) readLoop() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			c.Disconnect()
			return
		}
	}
}

// upgrade upgrades the HTTP request to a websocket connection.
func upgrade(w http.ResponseWriter, r *http.Request) (*websocket.Conn, error) {
	return upgrader.Upgrade(w, r, nil)
}
