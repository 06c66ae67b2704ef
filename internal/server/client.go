package server

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"emberchat/internal/middleware"
	"emberchat/internal/protocol"
)

// Client is one websocket connection. UserID and Username are set once the
// Authenticate command succeeds.
type Client struct {
	Hub     *Hub
	Conn    *websocket.Conn
	Send    chan []byte
	Limiter *middleware.RateLimiter

	UserID   string
	Username string

	lastWarning time.Time
	once        sync.Once
}

func (c *Client) WritePump() {
	ticker := time.NewTicker(10 * time.Second)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if !ok {
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) ReadPump(handler *CommandHandler) {
	defer func() {
		handler.Disconnected(c)
		c.Hub.Unregister <- c
	}()

	c.Conn.SetReadLimit(16384)
	c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[CLIENT] Unexpected close: %v", err)
			}
			break
		}

		if !c.Limiter.Allow() {
			if time.Since(c.lastWarning) > 3*time.Second {
				c.Hub.SendTo(c, protocol.ErrorEvent{Message: "rate limit exceeded"})
				c.lastWarning = time.Now()
			}
			continue
		}

		cmd, err := protocol.DecodeCommand(message)
		if err != nil {
			c.Hub.SendTo(c, protocol.ErrorEvent{Message: "invalid message format: " + err.Error()})
			continue
		}

		handler.Handle(c, cmd)
	}
}
