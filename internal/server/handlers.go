// Package server exposes HTTP handlers, including WebSocket upgrades, health
// checks, and the built-in test page.
package server

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     checkOrigin,
}

// WebSocketHandler upgrades the HTTP connection to WebSocket, allocates a
// session, and hands it to the hub, which launches the read/write pumps.
func WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed. WebSocket endpoint only accepts GET requests.", http.StatusMethodNotAllowed)
		return
	}

	h := GetHub()
	if h == nil {
		http.Error(w, "Server is not ready to accept connections.", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	client := NewClient(conn, h, r.RemoteAddr)

	// Register the session with the hub; the hub will launch the pump
	// goroutines. A hub that is already shutting down no longer receives, so
	// the fresh connection is closed instead.
	select {
	case h.register <- client:
	case <-h.ctx.Done():
		_ = conn.Close()
	}
}

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Chat relay server is running!")
}

// TestPageHandler serves an HTML test page for exercising the chat protocol.
// It provides a minimal interface to sign up, log in, join a room, and
// exchange messages with the relay.
func TestPageHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html")
	html := `<!DOCTYPE html>
<html>
<head>
    <title>Chat Relay Test</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        #messages {
            border: 1px solid #ccc;
            height: 300px;
            padding: 10px;
            overflow-y: scroll;
            margin: 10px 0;
            background-color: #f9f9f9;
        }
        input[type="text"], input[type="password"] {
            padding: 5px;
            margin-right: 6px;
        }
        button {
            padding: 5px 15px;
            background-color: #007cba;
            color: white;
            border: none;
            cursor: pointer;
        }
        button:hover { background-color: #005a87; }
    </style>
</head>
<body>
    <h1>Chat Relay Test</h1>

    <div>
        <input type="text" id="username" placeholder="Username">
        <input type="password" id="password" placeholder="Password">
        <button onclick="send({type:'signup', username:username.value, password:password.value})">Sign up</button>
        <button onclick="send({type:'login', username:username.value, password:password.value})">Log in</button>
    </div>
    <div>
        <input type="text" id="room" placeholder="Room or recipient" value="test">
        <button onclick="send({type:'join', username:username.value, room:room.value})">Join</button>
    </div>
    <div>
        <input type="text" id="content" placeholder="Message">
        <button onclick="sendMessage()">Send</button>
    </div>

    <div id="messages"></div>

    <script>
        const messagesDiv = document.getElementById('messages');
        const ws = new WebSocket('ws://' + location.host + '/ws');

        function addLine(text) {
            const el = document.createElement('div');
            el.textContent = text;
            messagesDiv.appendChild(el);
            messagesDiv.scrollTop = messagesDiv.scrollHeight;
        }

        ws.onopen = () => addLine('[connected]');
        ws.onclose = () => addLine('[disconnected]');
        ws.onmessage = (event) => {
            const data = JSON.parse(event.data);
            if (data.type === 'message') {
                addLine('[' + data.room + '] ' + data.from + ': ' + data.content);
            } else {
                addLine(data.type + ': ' + data.status + ' (' + data.message + ')');
            }
        };

        function send(obj) {
            ws.send(JSON.stringify(obj));
        }

        function sendMessage() {
            send({
                type: 'message',
                from: document.getElementById('username').value,
                room: document.getElementById('room').value,
                content: document.getElementById('content').value,
                timestamp: new Date().toISOString()
            });
            document.getElementById('content').value = '';
        }
    </script>
</body>
</html>`
	if _, err := fmt.Fprint(w, html); err != nil {
		log.Printf("Error writing HTML response: %v", err)
	}
}
