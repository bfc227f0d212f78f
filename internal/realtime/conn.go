package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20
	sendBufSize    = 256
	frameBufSize   = 256
)

var ErrClosed = errors.New("realtime: connection closed")

// Transport is a joinable pub/sub connection.
type Transport interface {
	Subscribe(channel string) error
	Unsubscribe(channel string) error
	// Whisper sends an unacknowledged client event to the other subscribers.
	Whisper(channel, event string, data any) error
	// Frames is closed when the connection ends.
	Frames() <-chan Frame
	Close() error
}

// Conn is a websocket Transport.
// Lifecycle: Dial -> [readPump, writePump] -> Close -> Wait.
type Conn struct {
	conn   *websocket.Conn
	send   chan ClientFrame
	frames chan Frame

	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

// Dial connects to url. header carries identity (X-User-Id) and signing headers.
func Dial(ctx context.Context, url string, header http.Header) (*Conn, error) {
	d := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	ws, resp, err := d.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("realtime.Dial %s: %w (status %d)", url, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("realtime.Dial %s: %w", url, err)
	}
	return newConn(ws), nil
}

func newConn(ws *websocket.Conn) *Conn {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Conn{
		conn:   ws,
		send:   make(chan ClientFrame, sendBufSize),
		frames: make(chan Frame, frameBufSize),
		done:   make(chan struct{}),
		cancel: cancel,
	}
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
	return c
}

func (c *Conn) Frames() <-chan Frame { return c.frames }

func (c *Conn) Subscribe(channel string) error {
	return c.enqueue(ClientFrame{Action: ActionSubscribe, Channel: channel})
}

func (c *Conn) Unsubscribe(channel string) error {
	return c.enqueue(ClientFrame{Action: ActionUnsubscribe, Channel: channel})
}

func (c *Conn) Whisper(channel, event string, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("realtime.Whisper: %w", err)
	}
	return c.enqueue(ClientFrame{Action: ActionWhisper, Channel: channel, Event: event, Data: raw})
}

func (c *Conn) enqueue(f ClientFrame) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.send <- f:
		return nil
	case <-c.done:
		return ErrClosed
	default:
		return fmt.Errorf("realtime: send buffer full, dropping %s %s", f.Action, f.Channel)
	}
}

// Close stops both pumps. Safe to call multiple times.
func (c *Conn) Close() error {
	c.once.Do(func() {
		c.cancel()
		close(c.done)
	})
	c.wg.Wait()
	return nil
}

// Done is closed once Close has been called.
func (c *Conn) Done() <-chan struct{} { return c.done }

func (c *Conn) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.frames)
	defer c.conn.Close()

	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		logger.Errorf("realtime set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("realtime read error: %v", err)
			}
			c.once.Do(func() {
				c.cancel()
				close(c.done)
			})
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			logger.Errorf("realtime unmarshal error: %v", err)
			continue
		}
		select {
		case c.frames <- f:
		case <-ctx.Done():
			return
		}
	}
}

func (c *Conn) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		// unblocks ReadMessage in readPump
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			if err := c.conn.WriteMessage(websocket.CloseMessage, msg); err != nil && !errors.Is(err, websocket.ErrCloseSent) {
				logger.Debugf("realtime close message: %v", err)
			}
			return
		case f := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				logger.Errorf("realtime set write deadline: %v", err)
				return
			}
			if err := c.conn.WriteJSON(f); err != nil {
				logger.Errorf("realtime write %s %s: %v", f.Action, f.Channel, err)
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
