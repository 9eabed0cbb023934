// Package auth guards producer ingress with a shared API key.
//
// A Checker built from the server's auth config yields a gRPC
// UnaryServerInterceptor for the EventBus service and an HTTP middleware for
// the REST endpoints that publish events. When the mode is not "apikey" or no
// key is configured, every call passes (local development). The WebSocket
// gateway is not guarded.
package auth
