// Package server maintains the process-wide username to session mapping used
// to route direct messages to the connection currently owning a name.
package server

import (
	"log"
	"sync"
)

// Registry maps usernames to their active client session. It is mutated from
// many connection handlers running in parallel, so every read-modify-write is
// guarded by the mutex. Entries are back-references only: they never keep a
// client alive and are removed during disconnect teardown.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Client
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Client),
	}
}

// Register associates username with client, silently replacing any prior
// mapping for that name. The replaced session is not notified or closed;
// last writer wins per username.
func (r *Registry) Register(username string, client *Client) {
	r.mu.Lock()
	previous := r.sessions[username]
	r.sessions[username] = client
	r.mu.Unlock()

	if previous != nil && previous != client {
		log.Printf("User %q re-registered from %s; previous session %s unmapped", username, client.addr, previous.id)
	}
}

// Lookup returns the client currently registered under username, or nil when
// no session owns that name.
func (r *Registry) Lookup(username string) *Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sessions[username]
}

// UnregisterAll removes every mapping whose value is client. A session
// normally owns at most one name, but every entry is checked.
func (r *Registry) UnregisterAll(client *Client) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for username, session := range r.sessions {
		if session == client {
			delete(r.sessions, username)
		}
	}
}

// Usernames returns a snapshot of every registered name, primarily for
// logging and tests.
func (r *Registry) Usernames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.sessions))
	for username := range r.sessions {
		names = append(names, username)
	}
	return names
}
