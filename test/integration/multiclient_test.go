// Multi-client scenarios: several sessions connected at once, joining,
// leaving, and exchanging messages through the relay.
package integration

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycore/chat-server/internal/server"
	"github.com/relaycore/chat-server/test/testhelpers"
)

func TestBroadcastFanOutToFiveClients(t *testing.T) {
	env := startRelay(t, nil)

	const numClients = 5
	connections := make([]*websocket.Conn, numClients)
	for i := range connections {
		connections[i] = connect(t, env)
		joinAs(t, connections[i], fmt.Sprintf("user%d", i), "test")
		drainMessages(connections[i], 100*time.Millisecond)
	}

	testhelpers.SendJSON(t, connections[0], map[string]string{
		"type":    "message",
		"room":    "test",
		"from":    "user0",
		"content": "hello room",
	})

	// Every live session hears a broadcast, the sender included.
	for i, conn := range connections {
		got := testhelpers.ReadJSON(t, conn, 2*time.Second)
		if got["content"] != "hello room" {
			t.Errorf("Client %d received unexpected payload: %v", i, got)
		}
	}
}

func TestClientsJoiningAndLeavingDynamically(t *testing.T) {
	env := startRelay(t, nil)

	first := connect(t, env)
	second := connect(t, env)
	joinAs(t, first, "first", "test")
	joinAs(t, second, "second", "test")
	drainMessages(second, 100*time.Millisecond)

	testhelpers.SendJSON(t, first, map[string]string{
		"type":    "message",
		"room":    "test",
		"from":    "first",
		"content": "both online",
	})
	drainMessages(first, 200*time.Millisecond)
	got := testhelpers.ReadJSON(t, second, time.Second)
	if got["content"] != "both online" {
		t.Fatalf("Second client received unexpected payload: %v", got)
	}

	if err := second.Close(); err != nil {
		t.Logf("Close error for second client: %v", err)
	}
	time.Sleep(150 * time.Millisecond)

	// A session joining after the first exchange replays it from history.
	late := connect(t, env)
	joinAs(t, late, "late", "test")
	got = testhelpers.ReadJSON(t, late, time.Second)
	if got["content"] != "both online" {
		t.Fatalf("Late joiner expected replayed history, got: %v", got)
	}

	testhelpers.SendJSON(t, first, map[string]string{
		"type":    "message",
		"room":    "test",
		"from":    "first",
		"content": "after churn",
	})
	got = testhelpers.ReadJSON(t, late, time.Second)
	if got["content"] != "after churn" {
		t.Fatalf("Late joiner received unexpected payload: %v", got)
	}
}

func TestConcurrentConnectAndDisconnect(t *testing.T) {
	env := startRelay(t, nil)

	const numClients = 10
	var wg sync.WaitGroup
	errs := make(chan error, numClients)

	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()

			conn, err := testhelpers.ConnectWebSocket(env.WSURL, env.Server.URL)
			if err != nil {
				errs <- fmt.Errorf("client %d: connection failed: %w", id, err)
				return
			}
			defer func() { _ = conn.Close() }()

			payload := fmt.Sprintf(`{"type":"join","username":"user%d","room":"test"}`, id)
			if err := conn.WriteMessage(websocket.TextMessage, []byte(payload)); err != nil {
				errs <- fmt.Errorf("client %d: join failed: %w", id, err)
				return
			}
			drainMessages(conn, 300*time.Millisecond)
		}(i)
	}

	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestConcurrentSendersArePersisted(t *testing.T) {
	env := startRelay(t, func(cfg *server.Config) {
		cfg.RateLimit.Burst = 100
	})

	const numClients = 4
	const messagesPerClient = 5

	connections := make([]*websocket.Conn, numClients)
	for i := range connections {
		connections[i] = connect(t, env)
		joinAs(t, connections[i], fmt.Sprintf("writer%d", i), "test")
	}

	var wg sync.WaitGroup
	wg.Add(numClients)
	for i := 0; i < numClients; i++ {
		go func(id int) {
			defer wg.Done()
			for n := 0; n < messagesPerClient; n++ {
				testhelpers.SendJSON(t, connections[id], map[string]string{
					"type":    "message",
					"room":    "test",
					"from":    fmt.Sprintf("writer%d", id),
					"content": fmt.Sprintf("writer %d message %d", id, n),
				})
				time.Sleep(10 * time.Millisecond)
			}
		}(i)
	}
	wg.Wait()

	// Let the hub finish fan-out and persistence before checking the rows.
	time.Sleep(500 * time.Millisecond)
	history, err := env.Store.History("test")
	if err != nil {
		t.Fatalf("Failed to read history: %v", err)
	}
	if len(history) != numClients*messagesPerClient {
		t.Fatalf("Expected %d persisted messages, got %d", numClients*messagesPerClient, len(history))
	}

	for _, conn := range connections {
		drainMessages(conn, 500*time.Millisecond)
	}
}

func TestSecondSessionTakesOverUsername(t *testing.T) {
	env := startRelay(t, nil)

	old := connect(t, env)
	joinAs(t, old, "bob", "standby")

	replacement := connect(t, env)
	joinAs(t, replacement, "bob", "standby")

	sender := connect(t, env)
	joinAs(t, sender, "alice", "standby")

	testhelpers.SendJSON(t, sender, map[string]string{
		"type":    "message",
		"room":    "bob",
		"from":    "alice",
		"content": "which bob",
	})

	got := testhelpers.ReadJSON(t, replacement, time.Second)
	if got["content"] != "which bob" {
		t.Fatalf("Replacement session received unexpected payload: %v", got)
	}
	expectNoMessage(t, old, 200*time.Millisecond)
}

// drainMessages reads and discards whatever arrives on the connection until
// the timeout passes.
func drainMessages(conn *websocket.Conn, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if _, err := testhelpers.NextMessage(conn, 50*time.Millisecond); err != nil {
			break
		}
	}
}
