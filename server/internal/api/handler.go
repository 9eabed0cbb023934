package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/tillu/branchbus/pkg/events"
	"github.com/tillu/branchbus/server/internal/alerts"
	"github.com/tillu/branchbus/server/internal/bus"
	"github.com/tillu/branchbus/server/internal/presence"
	"github.com/tillu/branchbus/server/internal/registry"
	"github.com/tillu/branchbus/server/internal/router"
)

const maxBodyBytes = 1 << 20

// Bus is the part of *bus.Bus the API reads and publishes through.
type Bus interface {
	Publish(e events.Event) (router.Result, error)
	Presence(branchID string) presence.Snapshot
	Connections(branchID string) []registry.Connection
	Stats() bus.Stats
}

// Stock evaluates stock reports. *alerts.Engine satisfies it.
type Stock interface {
	Evaluate(l alerts.StockLevel) (alerts.Evaluation, error)
	Active() []alerts.Alert
}

// Handler is the HTTP handler for all /api/v1/* endpoints.
type Handler struct {
	bus     Bus
	stock   Stock
	started time.Time
	mux     *http.ServeMux
}

// New creates a Handler over b and stock and registers all routes.
func New(b Bus, stock Stock) http.Handler {
	h := &Handler{bus: b, stock: stock, started: time.Now(), mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/branches/", h.branchPresence) // subtree, extracts {id}
	h.mux.HandleFunc("/api/v1/connections", h.connections)
	h.mux.HandleFunc("/api/v1/stats", h.stats)
	h.mux.HandleFunc("/api/v1/alerts", h.listAlerts)
	h.mux.HandleFunc("/api/v1/events", h.publish)
	h.mux.HandleFunc("/api/v1/inventory/stock", h.stockLevel)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// --- route handlers ---------------------------------------------------------

// health returns GET /api/v1/health.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	st := h.bus.Stats()
	jsonResp(w, http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: time.Since(h.started).Seconds(),
		Connections:   st.Connections,
		Attached:      st.Attached,
		Branches:      len(st.Presence),
	})
}

// branchPresence returns GET /api/v1/branches/{id}/presence.
func (h *Handler) branchPresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/v1/branches/")
	id, tail, ok := strings.Cut(rest, "/")
	if !ok || id == "" || tail != "presence" {
		jsonErr(w, http.StatusNotFound, "not found")
		return
	}
	jsonResp(w, http.StatusOK, h.bus.Presence(id))
}

// connections returns GET /api/v1/connections?branch=.
func (h *Handler) connections(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	branch := r.URL.Query().Get("branch")
	conns := h.bus.Connections(branch)
	if conns == nil {
		conns = []registry.Connection{}
	}
	jsonResp(w, http.StatusOK, ConnectionsResponse{
		BranchID:    branch,
		Count:       len(conns),
		Connections: conns,
	})
}

// stats returns GET /api/v1/stats.
func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	st := h.bus.Stats()
	if st.Presence == nil {
		st.Presence = []presence.Snapshot{}
	}
	jsonResp(w, http.StatusOK, st)
}

// listAlerts returns GET /api/v1/alerts.
func (h *Handler) listAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	jsonResp(w, http.StatusOK, h.stock.Active())
}

// publish handles POST /api/v1/events. The body is one event envelope; its
// sequence and timestamp are assigned by the bus.
func (h *Handler) publish(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var env events.Envelope
	if err := decodeBody(w, r, &env); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e, err := events.FromEnvelope(env)
	if err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}
	e.Sequence = 0
	e.EmittedAt = time.Time{}
	if offer, ok := e.Payload.(events.FlashOffer); ok && offer.OfferID == "" {
		offer.OfferID = uuid.NewString()
		e.Payload = offer
		e.EntityID = offer.OfferID
	}

	res, err := h.bus.Publish(e)
	if err != nil {
		if errors.Is(err, events.ErrInvalidEvent) || errors.Is(err, events.ErrUnknownKind) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	jsonResp(w, http.StatusAccepted, toPublishResponse(res))
}

// stockLevel handles POST /api/v1/inventory/stock.
func (h *Handler) stockLevel(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var lvl alerts.StockLevel
	if err := decodeBody(w, r, &lvl); err != nil {
		jsonErr(w, http.StatusBadRequest, err.Error())
		return
	}

	ev, err := h.stock.Evaluate(lvl)
	if err != nil {
		if errors.Is(err, alerts.ErrInvalidLevel) {
			jsonErr(w, http.StatusBadRequest, err.Error())
			return
		}
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := StockResponse{
		Updated:    toPublishResponse(ev.Updated),
		Alert:      ev.Alert,
		Suppressed: ev.Suppressed,
		Resolved:   ev.Resolved,
	}
	if ev.Delivery != nil {
		d := toPublishResponse(*ev.Delivery)
		resp.Delivery = &d
	}
	jsonResp(w, http.StatusOK, resp)
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("invalid JSON body: " + err.Error())
	}
	return nil
}

func toPublishResponse(res router.Result) PublishResponse {
	return PublishResponse{
		Sequence:  res.Event.Sequence,
		Channel:   string(res.Channel),
		Outcome:   res.Outcome.String(),
		Targets:   len(res.Targets),
		Delivered: res.Delivered,
		Failed:    res.Failed,
	}
}
