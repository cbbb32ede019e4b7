/*
Subscription hub: a WebSocket event feed external clients connect to for
connection-state, recording-state, storage-state, connection-error, and
recording-error events.

Grounded on internal/websocket/server.go's connection-management
pattern (upgrader, client registry guarded by a RWMutex, atomic connection
counter, per-client goroutine with panic recovery) trimmed down from a full
JSON-RPC 2.0 control API to a one-way event feed, since this engine's
external contract is "subscribe and receive", not "issue commands".
*/

package subscription

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/camerarecorder/mediamtx-camera-service-go/internal/logging"
)

// Hub fans events out to every connected WebSocket client via a bounded
// dispatch pool, so one slow client never delays delivery to the rest.
type Hub struct {
	logger   *logging.Logger
	upgrader websocket.Upgrader
	pool     *WorkerPool

	mu            sync.RWMutex
	clients       map[string]*client
	clientCounter int64
}

type client struct {
	id   string
	conn *websocket.Conn
}

// NewHub constructs a hub with a dispatch pool of maxWorkers goroutines,
// each write bounded by writeTimeout.
func NewHub(maxWorkers int, writeTimeout time.Duration, logger *logging.Logger) *Hub {
	if logger == nil {
		logger = logging.NewLogger("subscription")
	}
	return &Hub{
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		pool:    NewWorkerPool(maxWorkers, writeTimeout, logger),
		clients: make(map[string]*client),
	}
}

// ServeHTTP upgrades the connection and registers the client. Subscribers
// never send meaningful frames back; incoming reads are drained only to
// detect disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Error("failed to upgrade subscription connection")
		return
	}

	id := "sub_" + strconv.FormatInt(atomic.AddInt64(&h.clientCounter, 1), 10)
	c := &client{id: id, conn: conn}

	h.mu.Lock()
	h.clients[id] = c
	h.mu.Unlock()
	h.logger.WithField("client_id", id).Info("subscriber connected")

	go h.drain(c)
}

// drain blocks on reads solely to notice when the peer closes the
// connection, then deregisters the client.
func (h *Hub) drain(c *client) {
	defer func() {
		h.mu.Lock()
		delete(h.clients, c.id)
		h.mu.Unlock()
		_ = c.conn.Close()
		h.logger.WithField("client_id", c.id).Info("subscriber disconnected")
	}()
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Publish delivers ev to every connected subscriber via the dispatch pool.
// A marshal failure is logged once and the event is dropped; a per-client
// write failure only affects that one client.
func (h *Hub) Publish(ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		h.logger.WithError(err).Error("failed to marshal subscription event")
		return
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for _, c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		c := c
		_ = h.pool.Submit(context.Background(), func(ctx context.Context) {
			deadline, ok := ctx.Deadline()
			if ok {
				_ = c.conn.SetWriteDeadline(deadline)
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				h.logger.WithField("client_id", c.id).WithError(err).Warn("subscription write failed")
			}
		})
	}
}

// Close stops accepting new dispatch work and closes every client connection.
func (h *Hub) Close() {
	h.pool.Stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, c := range h.clients {
		_ = c.conn.Close()
	}
	h.clients = make(map[string]*client)
}
