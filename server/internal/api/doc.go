// Package api implements the HTTP REST API of branchbus-server.
//
// New(bus, stock) returns an http.Handler that serves:
//
//	GET  /api/v1/health                  status, uptime, connection counts
//	GET  /api/v1/branches/{id}/presence  presence snapshot of one branch
//	GET  /api/v1/connections?branch=     registered connections, optionally per branch
//	GET  /api/v1/stats                   router counters and per-branch presence
//	GET  /api/v1/alerts                  firing and recently resolved inventory alerts
//	POST /api/v1/events                  publish one event envelope
//	POST /api/v1/inventory/stock         report a stock level
//
// All endpoints respond with Content-Type: application/json and return 405
// for other methods. The POST routes are wrapped with the API key middleware
// by the server binary. JSON types are defined in types.go. No external HTTP
// framework is used.
package api
