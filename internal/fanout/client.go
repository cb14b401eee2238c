package fanout

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 1024
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Client is a websocket connection of one authenticated user
type Client struct {
	id     string
	userID int64
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.SugaredLogger

	// topic is owned by the hub Run goroutine
	topic string
}

// ServeWS upgrades the request to websocket and registers connection in hub.
// checkOrigin may be nil to accept same host origins only.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID int64, checkOrigin func(*http.Request) bool) {
	u := upgrader
	u.CheckOrigin = checkOrigin

	conn, err := u.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.logger.Debugf("websocket upgrade: %v", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	client := &Client{
		id:     uuid.NewString(),
		userID: userID,
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: h.logger,
	}

	select {
	case h.register <- client:
	case <-h.ctx.Done():
		conn.Close()
	}
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.ctx.Done():
		}
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.logger.Debugf("Closing connection of %s in readPump: %v", c.id, err)
		}
	}()

	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		var f frame
		if err = json.Unmarshal(raw, &f); err != nil {
			c.logger.Debugf("Invalid frame from %s: %v", c.id, err)
			continue
		}

		sub := subscription{client: c}
		switch f.Action {
		case actionSubscribe:
			if _, ok := ChannelFromTopic(f.Topic); !ok {
				c.logger.Debugf("Client %s asked for unknown topic %q", c.id, f.Topic)
				continue
			}
			sub.topic = f.Topic
		case actionUnsubscribe:
		default:
			c.logger.Debugf("Unknown action %q from %s", f.Action, c.id)
			continue
		}

		select {
		case c.hub.subscribe <- sub:
		case <-c.hub.ctx.Done():
			return
		}
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.logger.Infof("Frame from %s exceeded maximum size of %d bytes", c.id, maxFrameSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.logger.Debugf("Client %s disconnected: %v", c.id, err)
	default:
		c.logger.Infof("Websocket read error from %s: %v", c.id, err)
	}
}

func (c *Client) writePump() {
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
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				if !isExpectedCloseError(err) {
					c.logger.Debugf("Writing to %s: %v", c.id, err)
				}
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

// isExpectedCloseError checks if an error is expected during connection closure
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
