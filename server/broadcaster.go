package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"sdstudio/logging"
)

// BroadcasterConfig tunes the WebSocket hub.
type BroadcasterConfig struct {
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteWait            time.Duration
	MaxMessageSize       int64
	BroadcastBufferSize  int
	ClientSendBufferSize int
}

func DefaultBroadcasterConfig() BroadcasterConfig {
	return BroadcasterConfig{
		PingInterval:         30 * time.Second,
		PongWait:             60 * time.Second,
		WriteWait:            10 * time.Second,
		MaxMessageSize:       512,
		BroadcastBufferSize:  256,
		ClientSendBufferSize: 256,
	}
}

type client struct {
	job        string // empty receives every job
	remoteAddr string
	send       chan []byte
}

// Broadcaster fans progress messages out to WebSocket clients. A client that
// connects with ?job=<id> only receives messages for that job.
//
// Run must be running for clients to be registered and messages delivered.
type Broadcaster struct {
	cfg      BroadcasterConfig
	log      *logging.Logger
	upgrader websocket.Upgrader

	mu      sync.RWMutex
	clients map[*websocket.Conn]*client

	broadcast  chan WSMessage
	register   chan registration
	unregister chan *websocket.Conn
	done       chan struct{}
}

type registration struct {
	conn *websocket.Conn
	c    *client
}

func NewBroadcaster(cfg BroadcasterConfig, log *logging.Logger) *Broadcaster {
	if log == nil {
		log = logging.NewNop()
	}
	return &Broadcaster{
		cfg:        cfg,
		log:        log,
		clients:    make(map[*websocket.Conn]*client),
		broadcast:  make(chan WSMessage, cfg.BroadcastBufferSize),
		register:   make(chan registration),
		unregister: make(chan *websocket.Conn),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Run processes registrations and messages until ctx is done.
func (b *Broadcaster) Run(ctx context.Context) {
	ping := time.NewTicker(b.cfg.PingInterval)
	defer ping.Stop()
	defer close(b.done)

	for {
		select {
		case <-ctx.Done():
			b.closeAll()
			return
		case r := <-b.register:
			b.add(r.conn, r.c)
		case conn := <-b.unregister:
			b.remove(conn)
		case msg := <-b.broadcast:
			b.deliver(msg)
		case <-ping.C:
			b.pingAll()
		}
	}
}

// ServeHTTP upgrades the request and registers the client.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.log.Warn("websocket upgrade failed", zap.String("remote", r.RemoteAddr), zap.Error(err))
		return
	}
	conn.SetReadLimit(b.cfg.MaxMessageSize)
	conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(b.cfg.PongWait))
	})

	c := &client{
		job:        r.URL.Query().Get("job"),
		remoteAddr: r.RemoteAddr,
		send:       make(chan []byte, b.cfg.ClientSendBufferSize),
	}
	select {
	case b.register <- registration{conn: conn, c: c}:
	case <-b.done:
		conn.Close()
		return
	}
	go b.readPump(conn)
}

// Publish queues msg without blocking. Messages are dropped when the queue
// is full.
func (b *Broadcaster) Publish(msg WSMessage) {
	select {
	case b.broadcast <- msg:
	default:
		b.log.Warn("broadcast queue full, dropping message", zap.String("type", msg.Type), zap.String("job", msg.JobID))
	}
}

func (b *Broadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Broadcaster) add(conn *websocket.Conn, c *client) {
	b.mu.Lock()
	b.clients[conn] = c
	n := len(b.clients)
	b.mu.Unlock()

	go b.writePump(conn, c.send)
	b.log.Debug("websocket client connected", zap.String("remote", c.remoteAddr), zap.String("job", c.job), zap.Int("clients", n))
}

func (b *Broadcaster) remove(conn *websocket.Conn) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients[conn]; ok {
		close(c.send)
		delete(b.clients, conn)
		conn.Close()
		b.log.Debug("websocket client disconnected", zap.String("remote", c.remoteAddr), zap.Int("clients", len(b.clients)))
	}
}

func (b *Broadcaster) deliver(msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.log.Error("marshal websocket message", zap.Error(err))
		return
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	for conn, c := range b.clients {
		if c.job != "" && c.job != msg.JobID {
			continue
		}
		select {
		case c.send <- data:
		default:
			b.log.Warn("websocket client too slow, closing", zap.String("remote", c.remoteAddr))
			go b.drop(conn)
		}
	}
}

func (b *Broadcaster) drop(conn *websocket.Conn) {
	select {
	case b.unregister <- conn:
	case <-b.done:
	}
}

func (b *Broadcaster) pingAll() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for conn, c := range b.clients {
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(b.cfg.WriteWait)); err != nil {
			b.log.Debug("websocket ping failed", zap.String("remote", c.remoteAddr), zap.Error(err))
			go b.drop(conn)
		}
	}
}

func (b *Broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for conn, c := range b.clients {
		close(c.send)
		conn.Close()
		delete(b.clients, conn)
	}
}

func (b *Broadcaster) readPump(conn *websocket.Conn) {
	defer b.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				b.log.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
	}
}

func (b *Broadcaster) writePump(conn *websocket.Conn, send <-chan []byte) {
	defer conn.Close()
	for msg := range send {
		conn.SetWriteDeadline(time.Now().Add(b.cfg.WriteWait))
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}
