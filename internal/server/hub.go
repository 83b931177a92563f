// Package server coordinates client registration, snapshot broadcast, and
// connection cleanup for the SyncChat WebSocket system via the Hub type.
package server

import (
	"context"
	"sync"
	"time"

	"github.com/Tyrowin/syncchat/internal/logger"
	"github.com/Tyrowin/syncchat/internal/protocol"
	"github.com/Tyrowin/syncchat/internal/room"
)

// Hub is the registry of accepted connections. Admission, removal, and
// broadcast may be called from any goroutine.
type Hub struct {
	clients map[*Client]struct{}
	mutex   sync.RWMutex
	wg      sync.WaitGroup

	config  Config
	queue   *eventQueue
	metrics *metrics
}

func newHub(cfg Config, queue *eventQueue, m *metrics) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		config:  cfg,
		queue:   queue,
		metrics: m,
	}
}

// Admit registers the client and starts its pumps, unless the registry is
// already at capacity. The capacity check and the insert happen under one
// lock, so concurrent admissions can never overshoot the limit.
func (h *Hub) Admit(client *Client) bool {
	h.mutex.Lock()
	if len(h.clients) >= h.config.MaxConnections {
		h.mutex.Unlock()
		h.metrics.connectionsRejected.Inc()
		return false
	}
	h.clients[client] = struct{}{}
	clientCount := len(h.clients)
	h.mutex.Unlock()

	h.metrics.connections.Set(float64(clientCount))
	logger.Info("client registered", "client", client.id, "addr", client.addr, "total", clientCount)

	h.wg.Add(2)
	go func() {
		defer h.wg.Done()
		client.writePump()
	}()
	go func() {
		defer h.wg.Done()
		client.readPump()
	}()
	return true
}

// Remove drops the client from the registry. Removing an unknown client is a no-op.
func (h *Hub) Remove(client *Client) {
	h.mutex.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	clientCount := len(h.clients)
	h.mutex.Unlock()

	if ok {
		h.metrics.connections.Set(float64(clientCount))
		logger.Info("client unregistered", "client", client.id, "addr", client.addr, "total", clientCount)
	}
}

// Len returns the number of registered connections, logged in or not.
func (h *Hub) Len() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.clients)
}

// Contains reports whether the client is registered.
func (h *Hub) Contains(client *Client) bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	_, ok := h.clients[client]
	return ok
}

// Broadcast sends s to every registered, logged-in connection and returns how
// many sends were queued. The snapshot is encoded once for all recipients.
func (h *Hub) Broadcast(s room.Snapshot) int {
	payload, err := protocol.EncodeSnapshot(s)
	if err != nil {
		logger.Error("failed to encode broadcast snapshot", "error", err)
		return 0
	}

	h.mutex.RLock()
	defer h.mutex.RUnlock()

	delivered := 0
	for client := range h.clients {
		if !client.LoggedIn() {
			continue
		}
		if client.sendRaw(payload) {
			delivered++
		}
	}
	logger.Debug("broadcast snapshot", "recipients", delivered, "messages", len(s.Messages))
	return delivered
}

// shutdownClients closes every registered connection. Read pumps notice the
// closed socket and exit; write pumps exit when their channels close.
func (h *Hub) shutdownClients() {
	logger.Info("shutting down all client connections")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.clients = make(map[*Client]struct{})
	h.mutex.Unlock()
	h.metrics.connections.Set(0)

	for _, client := range clients {
		client.Close()
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					logger.Warn("error closing client connection", "client", client.id, "addr", client.addr, "error", err)
				}
			}
		}
	}

	logger.Info("closed client connections", "count", len(clients))
}

// Shutdown closes all connections and waits for their pumps to finish,
// or until the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.shutdownClients()

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		logger.Warn("hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
