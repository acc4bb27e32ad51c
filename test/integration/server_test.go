package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/relaycore/chat-server/internal/server"
	"github.com/relaycore/chat-server/test/testhelpers"
)

func TestHealthEndpoint(t *testing.T) {
	env := startRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/plain")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	if !strings.Contains(string(body), "running") {
		t.Errorf("Health response does not report the server as running: %q", body)
	}
}

func TestTestPageEndpoint(t *testing.T) {
	env := startRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/test")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusOK)
	testhelpers.AssertContentType(t, resp, "text/html")

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("Failed to read response body: %v", err)
	}
	for _, fragment := range []string{"WebSocket", "signup", "login", "join"} {
		if !strings.Contains(string(body), fragment) {
			t.Errorf("Test page is missing %q", fragment)
		}
	}
}

func TestWebSocketEndpointRejectsNonGet(t *testing.T) {
	env := startRelay(t, nil)

	resp := testhelpers.MakeRequest(t, http.MethodPost, env.Server.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusMethodNotAllowed)
}

func TestWebSocketEndpointRejectsPlainGet(t *testing.T) {
	env := startRelay(t, nil)

	// A GET without the upgrade handshake headers fails the upgrade.
	resp := testhelpers.MakeRequest(t, http.MethodGet, env.Server.URL+"/ws")
	defer func() { _ = resp.Body.Close() }()

	testhelpers.AssertStatusCode(t, resp, http.StatusBadRequest)
}

func TestServerTimeoutConfiguration(t *testing.T) {
	cfg := server.NewConfig()
	mux := server.SetupRoutes()
	srv := server.CreateServer(cfg.Port, mux)

	if srv.ReadTimeout != 15*time.Second {
		t.Errorf("Expected ReadTimeout 15s, got %v", srv.ReadTimeout)
	}
	if srv.WriteTimeout != 15*time.Second {
		t.Errorf("Expected WriteTimeout 15s, got %v", srv.WriteTimeout)
	}
	if srv.IdleTimeout != 60*time.Second {
		t.Errorf("Expected IdleTimeout 60s, got %v", srv.IdleTimeout)
	}
}
