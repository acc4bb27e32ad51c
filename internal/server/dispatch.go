// Package server translates parsed client requests into registry and store
// calls, and routes resulting deliveries to session outbound queues.
package server

import (
	"encoding/json"
	"log"
)

// dispatch parses one raw payload from a session and executes the request it
// carries. Unparseable or unrecognized payloads are logged and dropped; the
// connection stays open either way.
func (h *Hub) dispatch(c *Client, raw []byte) {
	var req request
	if err := json.Unmarshal(raw, &req); err != nil {
		log.Printf("Invalid payload from session %s (%s): %v", c.id, c.addr, err)
		return
	}

	switch req.Type {
	case typeLogin:
		h.handleLogin(c, &req)
	case typeSignup:
		h.handleSignup(c, &req)
	case typeJoin:
		h.handleJoin(c, &req)
	case typeMessage:
		h.handleMessage(c, &req, raw)
	default:
		log.Printf("Unrecognized request type %q from session %s", req.Type, c.id)
	}
}

// reply marshals a status response and enqueues it on the requesting session.
func (h *Hub) reply(c *Client, respType, status, message string) {
	payload, err := json.Marshal(response{Type: respType, Status: status, Message: message})
	if err != nil {
		log.Printf("Error marshaling %s for session %s: %v", respType, c.id, err)
		return
	}
	if !h.safeSend(c, payload) {
		log.Printf("Could not deliver %s to session %s", respType, c.id)
	}
}

// handleLogin checks credentials against the store and, on success, claims
// the username for this session. The connection is never closed on failure.
func (h *Hub) handleLogin(c *Client, req *request) {
	if req.Username == "" || req.Password == "" {
		log.Printf("Login from session %s missing credentials", c.id)
		h.reply(c, typeLoginResponse, statusError, "username and password are required")
		return
	}

	ok, err := h.store.Authenticate(req.Username, req.Password)
	if err != nil {
		log.Printf("Authentication error for %q on session %s: %v", req.Username, c.id, err)
		h.reply(c, typeLoginResponse, statusError, "login failed")
		return
	}
	if !ok {
		h.reply(c, typeLoginResponse, statusError, "invalid username or password")
		return
	}

	c.username = req.Username
	h.registry.Register(req.Username, c)
	h.reply(c, typeLoginResponse, statusSuccess, "logged in")
}

// handleSignup creates a new user account. Duplicate usernames fail without
// disturbing the existing account.
func (h *Hub) handleSignup(c *Client, req *request) {
	if req.Username == "" || req.Password == "" {
		log.Printf("Signup from session %s missing credentials", c.id)
		h.reply(c, typeSignupResponse, statusError, "username and password are required")
		return
	}

	if err := h.store.RegisterUser(req.Username, req.Password); err != nil {
		log.Printf("Signup failed for %q on session %s: %v", req.Username, c.id, err)
		h.reply(c, typeSignupResponse, statusError, "could not register user")
		return
	}
	h.reply(c, typeSignupResponse, statusSuccess, "user registered")
}

// handleJoin claims the username for this session without a password check
// (a deliberately lighter entry point than login), then replays the room's
// full history oldest first, one record per send.
func (h *Hub) handleJoin(c *Client, req *request) {
	if req.Username == "" || req.Room == "" {
		log.Printf("Join from session %s missing username or room", c.id)
		h.reply(c, typeJoinResponse, statusError, "username and room are required")
		return
	}

	c.username = req.Username
	h.registry.Register(req.Username, c)
	h.reply(c, typeJoinResponse, statusSuccess, "joined "+req.Room)

	history, err := h.store.History(req.Room)
	if err != nil {
		log.Printf("Could not load history for room %q: %v", req.Room, err)
		return
	}
	for _, msg := range history {
		payload, err := json.Marshal(chatMessage{
			Type:      typeMessage,
			Room:      msg.Room,
			From:      msg.Sender,
			Content:   msg.Content,
			Timestamp: msg.Timestamp,
		})
		if err != nil {
			log.Printf("Error marshaling history record %d: %v", msg.ID, err)
			continue
		}
		if !h.safeSend(c, payload) {
			log.Printf("History replay to session %s interrupted at record %d", c.id, msg.ID)
			return
		}
	}
}

// handleMessage persists the message, then routes the original raw payload:
// the broadcast room fans out to every live session including the sender;
// any other room name addresses the session currently registered under it.
func (h *Hub) handleMessage(c *Client, req *request, raw []byte) {
	content := req.body()
	if req.From == "" || req.Room == "" || content == "" {
		log.Printf("Malformed message from session %s: missing from, room, or content", c.id)
		return
	}

	if err := h.store.SaveMessage(req.Room, req.From, content, req.Timestamp); err != nil {
		// Soft failure: the relay still delivers, the row is lost.
		log.Printf("Could not persist message from %q in room %q: %v", req.From, req.Room, err)
	}

	if req.Room == currentConfig().BroadcastRoom {
		h.broadcast(raw)
		return
	}

	if !h.sendDirect(req.Room, raw) {
		log.Printf("Undeliverable message from %q: no session registered as %q", req.From, req.Room)
	}
}
