// Package realtime streams raffle events to WebSocket clients.
//
// Clients connect to /ws and receive every event by default. Sending a JSON
// Subscription narrows the stream:
//
//	{"eventTypes":["raffle.winner_picked"],"players":["0xabc..."],"minAmountWei":"10000000000000000"}
package realtime

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"

	"github.com/mbd888/raffle/internal/metrics"
	"github.com/mbd888/raffle/internal/raffle"
)

const (
	// MaxClients caps concurrent connections.
	MaxClients = 10000

	sendBuffer   = 256
	readLimit    = 64 * 1024
	pongWait     = 60 * time.Second
	pingInterval = 30 * time.Second
	writeWait    = 10 * time.Second
)

// EventSnapshot is sent once to each client on connect when a greeting is
// configured.
const EventSnapshot raffle.EventType = "raffle.snapshot"

var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// Message is the envelope written to clients.
type Message struct {
	Type      raffle.EventType `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Data      any              `json:"data"`
}

// Subscription is the filter a client sends to narrow its stream.
type Subscription struct {
	AllEvents    bool               `json:"allEvents"`
	EventTypes   []raffle.EventType `json:"eventTypes"`
	Players      []string           `json:"players"`
	MinAmountWei string             `json:"minAmountWei"`
}

// filter is the parsed form of a Subscription.
type filter struct {
	all       bool
	types     map[raffle.EventType]bool
	players   map[common.Address]bool
	minAmount *big.Int
}

func (s Subscription) compile() filter {
	f := filter{all: s.AllEvents}
	if len(s.EventTypes) > 0 {
		f.types = make(map[raffle.EventType]bool, len(s.EventTypes))
		for _, t := range s.EventTypes {
			f.types[t] = true
		}
	}
	if len(s.Players) > 0 {
		f.players = make(map[common.Address]bool, len(s.Players))
		for _, p := range s.Players {
			p = strings.TrimSpace(p)
			if common.IsHexAddress(p) {
				f.players[common.HexToAddress(p)] = true
			}
		}
	}
	if v, ok := new(big.Int).SetString(s.MinAmountWei, 10); ok && v.Sign() > 0 {
		f.minAmount = v
	}
	return f
}

// matches applies the filter. Player and amount filters only constrain
// events that carry those fields.
func (f filter) matches(ev raffle.Event) bool {
	if f.all {
		return true
	}
	if f.types != nil && !f.types[ev.Type] {
		return false
	}
	if f.players != nil && ev.Player != nil && !f.players[*ev.Player] {
		return false
	}
	if f.minAmount != nil && ev.Amount != nil && ev.Amount.Cmp(f.minAmount) < 0 {
		return false
	}
	return true
}

// Client is one WebSocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	mu   sync.RWMutex
	f    filter
}

func (c *Client) setSubscription(sub Subscription) {
	f := sub.compile()
	c.mu.Lock()
	c.f = f
	c.mu.Unlock()
}

func (c *Client) wants(ev raffle.Event) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.f.matches(ev)
}

// Option configures a Hub.
type Option func(*Hub)

// WithGreeting sends the value returned by fn as a raffle.snapshot message
// to every new client.
func WithGreeting(fn func() any) Option {
	return func(h *Hub) { h.greeting = fn }
}

// WithMaxClients overrides MaxClients.
func WithMaxClients(n int) Option {
	return func(h *Hub) { h.maxClients = n }
}

// Hub fans raffle events out to connected clients. It implements
// raffle.EventSink.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan raffle.Event
	register   chan *Client
	unregister chan *Client
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{}
	maxClients int
	greeting   func() any

	totalEvents  atomic.Int64
	totalClients atomic.Int64
	peakClients  atomic.Int64
	dropped      atomic.Int64
}

func NewHub(logger *slog.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan raffle.Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run owns the client set until ctx ends, then closes every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client connected", "clients", n)

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("stream client disconnected", "clients", n)

		case ev := <-h.broadcast:
			h.deliver(ev)
		}
	}
}

func (h *Hub) deliver(ev raffle.Event) {
	h.totalEvents.Add(1)
	metrics.EventsBroadcastTotal.WithLabelValues(string(ev.Type)).Inc()

	payload, err := json.Marshal(Message{Type: ev.Type, Timestamp: ev.At, Data: ev})
	if err != nil {
		h.logger.Error("encode stream event", "type", ev.Type, "error", err)
		return
	}

	var slow []*Client
	h.mu.RLock()
	for c := range h.clients {
		if !c.wants(ev) {
			continue
		}
		select {
		case c.send <- payload:
		default:
			slow = append(slow, c)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, c := range slow {
		if h.clients[c] {
			close(c.send)
			delete(h.clients, c)
		}
	}
	h.mu.Unlock()
	h.logger.Warn("dropped slow stream clients", "count", len(slow))
}

// Publish queues ev for broadcast without blocking; events are dropped when
// the queue is full.
func (h *Hub) Publish(_ context.Context, ev raffle.Event) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	select {
	case h.broadcast <- ev:
	default:
		h.dropped.Add(1)
		h.logger.Warn("stream queue full, dropping event", "type", ev.Type, "round", ev.Round)
	}
}

// Stats reports connection and throughput counters.
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	return map[string]any{
		"connectedClients": n,
		"totalEvents":      h.totalEvents.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
		"droppedEvents":    h.dropped.Load(),
	}
}

// HandleWebSocket upgrades the request and attaches the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	c := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBuffer),
		f:    filter{all: true},
	}
	if h.greeting != nil {
		if payload, err := json.Marshal(Message{Type: EventSnapshot, Timestamp: time.Now().UTC(), Data: h.greeting()}); err == nil {
			c.send <- payload
		}
	}

	select {
	case h.register <- c:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(readLimit)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, msg, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}
		var sub Subscription
		if err := json.Unmarshal(msg, &sub); err != nil {
			continue
		}
		c.setSubscription(sub)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
