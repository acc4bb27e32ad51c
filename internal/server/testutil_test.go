package server

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/relaycore/chat-server/internal/store"
)

// timeout bounds every wait on a session's outbound queue in tests.
const timeout = time.Second

// newTestHub builds a hub over a throwaway database without starting its Run
// loop, so tests drive dispatch and delivery synchronously.
func newTestHub(t *testing.T) *Hub {
	t.Helper()

	SetConfig(nil)
	t.Cleanup(func() { SetConfig(nil) })

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	return NewHub(st)
}

// newTestClient allocates a session with no underlying connection and places
// it directly in the hub's live set.
func newTestClient(t *testing.T, h *Hub, addr string) *Client {
	t.Helper()

	c := NewClient(nil, h, addr)
	h.mutex.Lock()
	h.clients[c] = true
	h.mutex.Unlock()
	return c
}

// nextPayload pops the next queued delivery for the session, failing the test
// when nothing arrives in time.
func nextPayload(t *testing.T, c *Client, timeout time.Duration) []byte {
	t.Helper()

	select {
	case payload := <-c.send:
		return payload
	case <-time.After(timeout):
		t.Fatalf("expected a delivery for session %s, got none", c.id)
		return nil
	}
}

// nextResponse decodes the next queued delivery as a status response.
func nextResponse(t *testing.T, c *Client) response {
	t.Helper()

	var resp response
	require.NoError(t, json.Unmarshal(nextPayload(t, c, time.Second), &resp))
	return resp
}

// nextChatMessage decodes the next queued delivery as a relayed message record.
func nextChatMessage(t *testing.T, c *Client) chatMessage {
	t.Helper()

	var msg chatMessage
	require.NoError(t, json.Unmarshal(nextPayload(t, c, time.Second), &msg))
	return msg
}

// assertNoDelivery verifies the session's outbound queue stays empty.
func assertNoDelivery(t *testing.T, c *Client) {
	t.Helper()

	select {
	case payload := <-c.send:
		t.Fatalf("unexpected delivery for session %s: %s", c.id, payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func mustMarshal(t *testing.T, v interface{}) []byte {
	t.Helper()

	payload, err := json.Marshal(v)
	require.NoError(t, err)
	return payload
}
