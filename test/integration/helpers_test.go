package integration

import (
	"net"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycore/chat-server/internal/server"
	"github.com/relaycore/chat-server/internal/store"
	"github.com/relaycore/chat-server/test/testhelpers"
)

// relayEnv bundles everything a test needs to talk to a running relay.
type relayEnv struct {
	WSURL  string
	Server *httptest.Server
	Store  *store.Store
	Hub    *server.Hub
}

// startRelay boots a full relay (store, hub, HTTP server) for one test and
// tears it down afterwards.
func startRelay(t *testing.T, customize func(cfg *server.Config)) *relayEnv {
	t.Helper()

	st := testhelpers.OpenTestStore(t)
	hub := server.StartHub(st)
	t.Cleanup(func() {
		_ = hub.Shutdown(2 * time.Second)
	})

	mux := server.SetupRoutes()
	testServer := testhelpers.CreateTestServer(mux)
	t.Cleanup(testServer.Close)

	configureServerForTest(t, testServer.URL, customize)

	return &relayEnv{
		WSURL:  buildWebSocketURL(t, testServer.URL),
		Server: testServer,
		Store:  st,
		Hub:    hub,
	}
}

// configureServerForTest applies a test configuration that allows the test
// server's own origin, restoring defaults on cleanup.
func configureServerForTest(t *testing.T, baseURL string, customize func(cfg *server.Config)) {
	t.Helper()

	cfg := server.NewConfig()
	cfg.AllowedOrigins = append([]string{baseURL}, cfg.AllowedOrigins...)
	if customize != nil {
		customize(cfg)
	}
	server.SetConfig(cfg)
	t.Cleanup(func() {
		server.SetConfig(nil)
	})
}

func buildWebSocketURL(t *testing.T, baseURL string) string {
	t.Helper()

	u, err := url.Parse(baseURL)
	if err != nil {
		t.Fatalf("Failed to parse test server URL: %v", err)
	}
	u.Scheme = "ws"
	u.Path = "/ws"
	return u.String()
}

// connect dials the relay with the test server's origin and registers cleanup.
func connect(t *testing.T, env *relayEnv) *websocket.Conn {
	t.Helper()

	conn, err := testhelpers.ConnectWebSocket(env.WSURL, env.Server.URL)
	if err != nil {
		t.Fatalf("Failed to connect WebSocket client: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

// joinAs performs a join for username/room and consumes the success reply.
func joinAs(t *testing.T, conn *websocket.Conn, username, room string) {
	t.Helper()

	testhelpers.SendJSON(t, conn, map[string]string{
		"type":     "join",
		"username": username,
		"room":     room,
	})
	resp := testhelpers.ReadJSON(t, conn, time.Second)
	testhelpers.AssertResponse(t, resp, "join_response", "success")
}

// expectNoMessage asserts that nothing arrives on the connection within the
// timeout; close frames also count as "nothing".
func expectNoMessage(t *testing.T, conn *websocket.Conn, timeout time.Duration) {
	t.Helper()

	payload, err := testhelpers.NextMessage(conn, timeout)
	if err == nil {
		t.Fatalf("Expected no message, but received: %s", payload)
	}
	if netErr, ok := err.(net.Error); ok && netErr.Timeout() {
		return
	}
	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		return
	}
	t.Fatalf("Unexpected error while waiting for absence of message: %v", err)
}
