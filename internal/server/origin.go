// Package server normalizes and validates HTTP origins for WebSocket requests
// to enforce configured access control.
package server

import (
	"log"
	"net/http"
	"net/url"
	"strings"
)

// normalizeOrigins lowercases and deduplicates the configured origin list.
// A bare "*" entry switches the relay to allow-all mode.
func normalizeOrigins(origins []string) ([]string, bool) {
	if len(origins) == 0 {
		return nil, false
	}

	normalized := make([]string, 0, len(origins))
	allowAll := false

	for _, origin := range origins {
		trimmed := strings.TrimSpace(origin)
		switch {
		case trimmed == "":
			continue
		case trimmed == "*":
			allowAll = true
			continue
		}

		canonical, ok := normalizeOrigin(trimmed)
		if !ok {
			log.Printf("Ignoring invalid origin in configuration: %q", origin)
			continue
		}
		normalized = append(normalized, canonical)
	}

	return normalized, allowAll
}

// normalizeOrigin reduces an origin to lowercase scheme://host. The path and
// any other components are dropped before comparison.
func normalizeOrigin(origin string) (string, bool) {
	parsed, err := url.Parse(origin)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme) + "://" + strings.ToLower(parsed.Host), true
}

// checkOrigin is the upgrader's origin gate. Requests without an Origin
// header, or with one outside the configured allow list, are rejected before
// the WebSocket handshake completes.
func checkOrigin(r *http.Request) bool {
	originHeader := r.Header.Get("Origin")
	if originHeader == "" {
		log.Printf("Blocked WebSocket connection without an Origin header from %s", r.RemoteAddr)
		return false
	}

	canonical, ok := normalizeOrigin(originHeader)
	if !ok {
		log.Printf("Blocked WebSocket connection with malformed origin: %q", originHeader)
		return false
	}

	configMu.RLock()
	defer configMu.RUnlock()

	if allowAllOrigins {
		return true
	}
	if _, exists := allowedOrigins[canonical]; exists {
		return true
	}

	log.Printf("Blocked WebSocket connection from disallowed origin: %q", originHeader)
	return false
}
