// Package server implements the core HTTP and WebSocket functionality of the
// chat relay.
//
// The implementation is organized into specialized files for configuration,
// hub and registry management, sessions, request dispatch, routing, and HTTP
// handlers to keep the codebase maintainable and testable as the project
// grows.
package server
