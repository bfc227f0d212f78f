package ws

import (
	"context"
	"sync"
	"time"

	"github.com/chatsync/internal/logger"
	"github.com/chatsync/internal/metrics"
	"github.com/chatsync/internal/realtime"
)

// Hub routes frames between connections by channel name.
type Hub struct {
	limits Limits

	mu       sync.RWMutex
	clients  map[*Client]map[string]struct{}
	channels map[string]map[*Client]struct{}
	stopped  bool

	unregister chan *Client
	done       chan struct{}
}

func NewHub(limits Limits) *Hub {
	return &Hub{
		limits:     limits.withDefaults(),
		clients:    make(map[*Client]map[string]struct{}),
		channels:   make(map[string]map[*Client]struct{}),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	all := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		all = append(all, c)
	}
	h.clients = make(map[*Client]map[string]struct{})
	h.channels = make(map[string]map[*Client]struct{})
	h.stopped = true
	h.mu.Unlock()
	metrics.DevserverWSConnections.Set(0)

	for _, c := range all {
		c.Close()
	}
	for _, c := range all {
		c.Wait()
	}
}

// Register adds c before its pumps start, so its first frames find it
// registered. It reports false when the hub is full or stopped.
func (h *Hub) Register(c *Client) bool {
	h.mu.Lock()
	if h.stopped {
		h.mu.Unlock()
		return false
	}
	if len(h.clients) >= h.limits.MaxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.limits.MaxConns, c.userID)
		return false
	}
	h.clients[c] = make(map[string]struct{})
	n := len(h.clients)
	h.mu.Unlock()
	metrics.DevserverWSConnections.Set(float64(n))
	return true
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	subs, ok := h.clients[c]
	if !ok {
		h.mu.Unlock()
		return
	}
	for ch := range subs {
		h.leaveLocked(c, ch)
	}
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()
	metrics.DevserverWSConnections.Set(float64(n))

	// Network I/O outside the lock.
	c.Close()
}

func (h *Hub) leaveLocked(c *Client, ch string) {
	delete(h.clients[c], ch)
	if members, ok := h.channels[ch]; ok {
		delete(members, c)
		if len(members) == 0 {
			delete(h.channels, ch)
		}
	}
}

// Connections returns the number of registered clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Subscribers returns the number of clients on channel.
func (h *Hub) Subscribers(channel string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.channels[channel])
}

// HandleFrame dispatches a client frame.
func (h *Hub) HandleFrame(c *Client, f realtime.ClientFrame) {
	switch f.Action {
	case realtime.ActionSubscribe:
		h.subscribe(c, f.Channel)
	case realtime.ActionUnsubscribe:
		h.unsubscribe(c, f.Channel)
	case realtime.ActionWhisper:
		h.whisper(c, f)
	default:
		h.sendToClient(c, errorFrame(f.Channel, "unknown action"))
	}
}

func (h *Hub) subscribe(c *Client, ch string) {
	info, ok := realtime.ParseChannel(ch)
	if !ok {
		h.sendToClient(c, errorFrame(ch, "unknown channel"))
		return
	}
	if !info.Allows(c.userID) {
		logger.Infof("ws subscribe denied user=%s channel=%s", c.userID, ch)
		h.sendToClient(c, errorFrame(ch, "forbidden"))
		return
	}

	h.mu.Lock()
	subs, registered := h.clients[c]
	if registered {
		subs[ch] = struct{}{}
		if _, ok := h.channels[ch]; !ok {
			h.channels[ch] = make(map[*Client]struct{})
		}
		h.channels[ch][c] = struct{}{}
	}
	h.mu.Unlock()
	if !registered {
		h.sendToClient(c, errorFrame(ch, "not connected"))
		return
	}
	h.sendToClient(c, subscribedFrame(ch))
}

func (h *Hub) unsubscribe(c *Client, ch string) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		h.leaveLocked(c, ch)
	}
	h.mu.Unlock()
}

// whisper relays a client event to the other subscribers of a channel the
// sender is subscribed to. Only typing events may be whispered.
func (h *Hub) whisper(c *Client, f realtime.ClientFrame) {
	if f.Event != realtime.EventTyping {
		h.sendToClient(c, errorFrame(f.Channel, "event cannot be whispered"))
		return
	}
	h.mu.RLock()
	_, joined := h.clients[c][f.Channel]
	targets := make([]*Client, 0, len(h.channels[f.Channel]))
	if joined {
		for t := range h.channels[f.Channel] {
			if t != c {
				targets = append(targets, t)
			}
		}
	}
	h.mu.RUnlock()
	if !joined {
		h.sendToClient(c, errorFrame(f.Channel, "not subscribed"))
		return
	}

	out := realtime.Frame{Event: f.Event, Channel: f.Channel, Data: f.Data}
	for _, t := range targets {
		h.sendToClient(t, out)
	}
}

// Publish sends f to every subscriber of its channel and returns how many
// clients it was queued for.
func (h *Hub) Publish(f realtime.Frame) int {
	defer logger.DeferLogDuration("ws.Publish", time.Now())()
	h.mu.RLock()
	members := h.channels[f.Channel]
	targets := make([]*Client, 0, len(members))
	for c := range members {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		h.sendToClient(c, f)
	}
	return len(targets)
}

func (h *Hub) sendToClient(c *Client, f realtime.Frame) {
	select {
	case c.send <- f:
	case <-c.done:
	default:
		// Backpressure: send buffer full, close slow client.
		logger.Errorf("ws send buffer full, closing slow client user=%s", c.userID)
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
