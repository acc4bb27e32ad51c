// Package server defines the JSON wire shapes exchanged with clients and
// utility helpers reused across client and hub logic.
package server

import "strings"

// Request tags recognized by the dispatcher. Anything else is logged and
// dropped without closing the connection.
const (
	typeLogin   = "login"
	typeSignup  = "signup"
	typeJoin    = "join"
	typeMessage = "message"

	typeLoginResponse  = "login_response"
	typeSignupResponse = "signup_response"
	typeJoinResponse   = "join_response"

	statusSuccess = "success"
	statusError   = "error"
)

// request is the superset of fields a client may send; Type selects which of
// the remaining fields are required.
type request struct {
	Type      string `json:"type"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`
	Room      string `json:"room,omitempty"`
	From      string `json:"from,omitempty"`
	Content   string `json:"content,omitempty"`
	Text      string `json:"text,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
}

// body returns the message text, accepting either the content or the legacy
// text field.
func (r *request) body() string {
	if r.Content != "" {
		return r.Content
	}
	return r.Text
}

// response is the flat status reply sent for login, signup, and join.
type response struct {
	Type    string `json:"type"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

// chatMessage is the outbound record relayed to recipients and replayed from
// history. Replayed records use the same shape with no extra envelope.
type chatMessage struct {
	Type      string `json:"type"`
	Room      string `json:"room"`
	From      string `json:"from"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
}

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
