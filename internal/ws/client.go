package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/model"
	"github.com/chatsync/internal/realtime"
	"github.com/gorilla/websocket"
)

// Limits are the per-connection settings of the hub.
type Limits struct {
	MaxConns       int
	SendBuffer     int
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	MaxMessageSize int64
}

func (l Limits) withDefaults() Limits {
	if l.MaxConns <= 0 {
		l.MaxConns = 10000
	}
	if l.SendBuffer <= 0 {
		l.SendBuffer = 256
	}
	if l.WriteTimeout <= 0 {
		l.WriteTimeout = 10 * time.Second
	}
	if l.PongTimeout <= 0 {
		l.PongTimeout = 60 * time.Second
	}
	if l.MaxMessageSize <= 0 {
		l.MaxMessageSize = 65536
	}
	return l
}

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// Client represents a single WebSocket connection.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [ReadPump, WritePump] -> Close -> Wait.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan realtime.Frame
	userID model.ID

	// done is used as a non-blocking guard in sendToClient.
	done chan struct{}
	// cancel cancels the context passed to Start, triggering pump shutdown.
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(hub *Hub, conn *websocket.Conn, userID model.ID) *Client {
	return &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan realtime.Frame, hub.limits.SendBuffer),
		userID: userID,
		done:   make(chan struct{}),
	}
}

func (c *Client) UserID() model.ID { return c.userID }

// Start launches ReadPump and WritePump goroutines with controlled lifecycle.
// ctx controls pump lifetime; cancel is stored for Close().
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		c.conn.Close()
	})
}

// readPump reads client frames until the connection fails or is closed.
func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	pongWait := c.hub.limits.PongTimeout
	c.conn.SetReadLimit(c.hub.limits.MaxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var f realtime.ClientFrame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("ws unmarshal error user=%s: %v", c.userID, err)
			c.hub.sendToClient(c, errorFrame("", "malformed frame"))
			continue
		}

		c.hub.HandleFrame(c, f)
	}
}

// writePump writes frames and pings until ctx ends or a write fails.
func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	writeWait := c.hub.limits.WriteTimeout
	ticker := time.NewTicker(c.hub.limits.PongTimeout * 9 / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(f); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s: %v", c.userID, err)
				continue
			}
			data := buf.Bytes()
			// json.Encoder appends '\n'; trim it for WebSocket text messages.
			if len(data) > 0 && data[len(data)-1] == '\n' {
				data = data[:len(data)-1]
			}
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
