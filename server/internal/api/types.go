package api

import (
	"github.com/tillu/branchbus/server/internal/alerts"
	"github.com/tillu/branchbus/server/internal/registry"
)

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	Status        string  `json:"status"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
	Connections   int     `json:"connections"`
	Attached      int     `json:"attached"`
	Branches      int     `json:"branches"`
}

// ConnectionsResponse is the payload for GET /api/v1/connections.
type ConnectionsResponse struct {
	BranchID    string                `json:"branchId,omitempty"`
	Count       int                   `json:"count"`
	Connections []registry.Connection `json:"connections"`
}

// PublishResponse is the payload for POST /api/v1/events.
type PublishResponse struct {
	Sequence  uint64 `json:"sequence"`
	Channel   string `json:"channel"`
	Outcome   string `json:"outcome"`
	Targets   int    `json:"targets"`
	Delivered int    `json:"delivered"`
	Failed    int    `json:"failed"`
}

// StockResponse is the payload for POST /api/v1/inventory/stock.
type StockResponse struct {
	Updated    PublishResponse  `json:"updated"`
	Alert      *alerts.Alert    `json:"alert,omitempty"`
	Delivery   *PublishResponse `json:"delivery,omitempty"`
	Suppressed bool             `json:"suppressed"`
	Resolved   bool             `json:"resolved"`
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
