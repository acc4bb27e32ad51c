// Package testhelpers provides common utilities and helper functions for
// testing the chat relay server.
//
// This package contains reusable test utilities that are shared across
// integration tests: store fixtures, HTTP helpers, and WebSocket client
// plumbing for speaking the relay's JSON protocol.
package testhelpers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/relaycore/chat-server/internal/store"
)

// OpenTestStore opens a store over a throwaway database that is removed when
// the test finishes.
func OpenTestStore(t *testing.T) *store.Store {
	t.Helper()

	st, err := store.Open(filepath.Join(t.TempDir(), "chat.db"))
	if err != nil {
		t.Fatalf("Failed to open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := st.Close(); err != nil {
			t.Logf("Error closing test store: %v", err)
		}
	})
	return st
}

// CreateTestServer creates a test HTTP server with the given handler.
// It returns a running httptest.Server that should be closed after use.
func CreateTestServer(handler http.Handler) *httptest.Server {
	return httptest.NewServer(handler)
}

// MakeRequest creates and executes an HTTP request, returning the response.
// It includes a 5-second timeout and fails the test if the request cannot be
// created or executed successfully.
func MakeRequest(t *testing.T, method, url string) *http.Response {
	t.Helper()

	client := &http.Client{
		Timeout: 5 * time.Second,
	}

	req, err := http.NewRequest(method, url, http.NoBody)
	if err != nil {
		t.Fatalf("Failed to create request: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		t.Fatalf("Failed to make request: %v", err)
	}

	return resp
}

// AssertStatusCode checks if the HTTP response has the expected status code.
// It fails the test with a descriptive error message if the status codes don't match.
func AssertStatusCode(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("Expected status code %d, got %d", expected, resp.StatusCode)
	}
}

// AssertContentType checks if the HTTP response has the expected Content-Type header.
// It fails the test with a descriptive error message if the content types don't match.
func AssertContentType(t *testing.T, resp *http.Response, expected string) {
	t.Helper()
	contentType := resp.Header.Get("Content-Type")
	if contentType != expected {
		t.Errorf("Expected content type %s, got %s", expected, contentType)
	}
}

// ConnectWebSocket creates a WebSocket connection to the specified URL with
// the given Origin header. It returns the connection or an error if the
// handshake fails.
func ConnectWebSocket(url, origin string) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	headers := http.Header{}
	headers.Set("Origin", origin)

	conn, resp, err := dialer.Dial(url, headers)
	if resp != nil {
		_ = resp.Body.Close()
	}
	return conn, err
}

// SendJSON marshals v and sends it as one text message.
func SendJSON(t *testing.T, conn *websocket.Conn, v interface{}) {
	t.Helper()
	if err := conn.WriteJSON(v); err != nil {
		t.Fatalf("Failed to send JSON payload: %v", err)
	}
}

// connReader owns all reads on one connection. gorilla/websocket stores any
// read error — including a deadline timeout — and fails every subsequent read
// with it, so waiting with a timeout directly on the Conn would permanently
// poison it. Instead a single goroutine reads without deadlines and callers
// wait on the channel with their own timers.
type connReader struct {
	messages chan []byte
	done     chan struct{}
	err      error // set before done is closed
}

var (
	connReadersMu sync.Mutex
	connReaders   = map[*websocket.Conn]*connReader{}
)

func readerFor(conn *websocket.Conn) *connReader {
	connReadersMu.Lock()
	defer connReadersMu.Unlock()
	r, ok := connReaders[conn]
	if !ok {
		r = &connReader{
			messages: make(chan []byte, 64),
			done:     make(chan struct{}),
		}
		connReaders[conn] = r
		go func() {
			for {
				_, data, err := conn.ReadMessage()
				if err != nil {
					r.err = err
					close(r.done)
					return
				}
				r.messages <- data
			}
		}()
	}
	return r
}

// timeoutError satisfies net.Error so callers can distinguish "nothing
// arrived in time" from a connection failure.
type timeoutError struct{}

func (timeoutError) Error() string   { return "websocket read timed out" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

// NextMessage returns the next message received on the connection, waiting up
// to timeout. When nothing arrives in time it returns a net.Error whose
// Timeout() reports true; the connection remains usable for further reads.
// All reads on a connection must go through NextMessage (or the helpers built
// on it) once it has been used, since it owns the connection's read loop.
func NextMessage(conn *websocket.Conn, timeout time.Duration) ([]byte, error) {
	r := readerFor(conn)

	select {
	case data := <-r.messages:
		return data, nil
	default:
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case data := <-r.messages:
		return data, nil
	case <-r.done:
		// Deliver anything that was buffered before the connection failed.
		select {
		case data := <-r.messages:
			return data, nil
		default:
		}
		return nil, r.err
	case <-timer.C:
		return nil, timeoutError{}
	}
}

// ReadJSON reads the next message into a generic map, failing the test when
// nothing arrives before the timeout.
func ReadJSON(t *testing.T, conn *websocket.Conn, timeout time.Duration) map[string]interface{} {
	t.Helper()

	data, err := NextMessage(conn, timeout)
	if err != nil {
		t.Fatalf("Failed to read JSON payload: %v", err)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(data, &payload); err != nil {
		t.Fatalf("Failed to read JSON payload: %v", err)
	}
	return payload
}

// AssertResponse checks a status reply against the expected type and status.
func AssertResponse(t *testing.T, payload map[string]interface{}, wantType, wantStatus string) {
	t.Helper()

	if got, _ := payload["type"].(string); got != wantType {
		t.Errorf("Expected response type %q, got %q", wantType, got)
	}
	if got, _ := payload["status"].(string); got != wantStatus {
		t.Errorf("Expected status %q, got %q", wantStatus, got)
	}
}

// CloseWebSocket gracefully closes a WebSocket connection.
func CloseWebSocket(conn *websocket.Conn) error {
	err := conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	if err != nil {
		return err
	}
	return conn.Close()
}
