// Package server coordinates session registration, message routing, and
// connection cleanup for the chat relay via the Hub type.
package server

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/relaycore/chat-server/internal/store"
)

// Hub owns the live-session set and drives registration, teardown, and
// delivery fan-out. The session set and the username registry are shared
// mutable state touched from every connection handler, so both sit behind
// explicit locks.
type Hub struct {
	clients    map[*Client]bool
	registry   *Registry
	store      *store.Store
	register   chan *Client
	unregister chan *Client
	mutex      sync.RWMutex
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	done       chan struct{}
}

// NewHub creates a Hub backed by the given persistent store. The returned Hub
// is ready to manage WebSocket sessions once Run is started.
func NewHub(st *store.Store) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[*Client]bool),
		registry:   NewRegistry(),
		store:      st,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

// safeSend enqueues a payload for one session without ever blocking the
// caller. It reports false when the session is gone or its outbound queue is
// full; a full queue drops the payload rather than stalling other deliveries.
func (h *Hub) safeSend(client *Client, payload []byte) bool {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in safeSend: %v", r)
		}
	}()

	// Hold the lock during the entire send operation so teardown cannot close
	// the channel mid-send.
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	_, exists := h.clients[client]
	if !exists || client.closed {
		return false
	}

	select {
	case client.send <- payload:
		return true
	default:
		return false
	}
}

// Run starts the hub's main event loop, handling session registration and
// teardown. This method should be called in a separate goroutine as it runs
// until Shutdown cancels it.
func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case client := <-h.register:
			if client == nil {
				log.Printf("Received nil session registration; skipping")
				continue
			}

			h.mutex.Lock()
			client.closed = false
			h.clients[client] = true
			clientCount := len(h.clients)
			h.mutex.Unlock()
			log.Printf("Session %s connected from %s. Total sessions: %d", client.id, client.addr, clientCount)

			h.wg.Add(2)
			go func() {
				defer h.wg.Done()
				client.writePump()
			}()
			go func() {
				defer h.wg.Done()
				client.readPump()
			}()

		case client := <-h.unregister:
			h.teardown(client)
		}
	}
}

// teardown removes the session from the routing registry and the live set.
// The registry entries go first so no dispatch can route to a session whose
// send channel is about to close.
func (h *Hub) teardown(client *Client) {
	h.registry.UnregisterAll(client)

	h.mutex.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		client.closed = true
		clientCount := len(h.clients)
		h.mutex.Unlock()
		// Close the channel after releasing the lock
		close(client.send)
		log.Printf("Session %s from %s disconnected. Total sessions: %d", client.id, client.addr, clientCount)
	} else {
		h.mutex.Unlock()
	}
}

// broadcast delivers the payload to every live session, including the sender.
// Sessions whose outbound queue is full are disconnected so one slow reader
// cannot wedge the relay.
func (h *Hub) broadcast(payload []byte) {
	clients := h.getClientSnapshot()

	var clientsToRemove []*Client
	for _, client := range clients {
		if !h.safeSend(client, payload) {
			clientsToRemove = append(clientsToRemove, client)
		}
	}

	h.removeFailedClients(clientsToRemove)
}

// sendDirect delivers the payload to the single session registered under
// username. It reports false when no such session exists; the caller decides
// whether that is worth logging.
func (h *Hub) sendDirect(username string, payload []byte) bool {
	client := h.registry.Lookup(username)
	if client == nil {
		return false
	}
	if !h.safeSend(client, payload) {
		h.removeFailedClients([]*Client{client})
		return false
	}
	return true
}

// getClientSnapshot returns a thread-safe snapshot of all current sessions
func (h *Hub) getClientSnapshot() []*Client {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	return clients
}

// removeFailedClients removes sessions that failed to accept a delivery and
// closes their channels
func (h *Hub) removeFailedClients(clientsToRemove []*Client) {
	if len(clientsToRemove) == 0 {
		return
	}

	for _, client := range clientsToRemove {
		h.registry.UnregisterAll(client)
	}

	h.mutex.Lock()
	var channelsToClose []chan []byte
	for _, client := range clientsToRemove {
		if _, exists := h.clients[client]; exists {
			delete(h.clients, client)
			client.closed = true
			channelsToClose = append(channelsToClose, client.send)
			log.Printf("Session %s from %s removed due to full send buffer", client.id, client.addr)
		}
	}
	h.mutex.Unlock()

	// Close channels after releasing the lock
	for _, ch := range channelsToClose {
		close(ch)
	}
}

// shutdownClients gracefully closes all active session connections
func (h *Hub) shutdownClients() {
	log.Println("Shutting down all sessions...")

	h.mutex.Lock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mutex.Unlock()

	for _, client := range clients {
		if client.conn != nil {
			if err := client.conn.Close(); err != nil {
				if !isExpectedCloseError(err) {
					log.Printf("Error closing session %s from %s: %v", client.id, client.addr, err)
				}
			}
		}
	}

	log.Printf("Closed %d sessions", len(clients))
}

// Shutdown initiates graceful shutdown of the hub and waits for all goroutines
// to complete. It returns after all sessions are closed and goroutines have
// finished, or when the timeout is reached.
func (h *Hub) Shutdown(timeout time.Duration) error {
	log.Println("Initiating hub shutdown...")

	h.cancel()

	// Wait for Run() to complete
	<-h.done

	done := make(chan struct{})
	go func() {
		h.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		log.Println("Hub shutdown completed successfully")
		return nil
	case <-time.After(timeout):
		log.Println("Hub shutdown timeout reached, some goroutines may still be running")
		return context.DeadlineExceeded
	}
}
