package broadcast

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"nadflip-web-worker/worker"
	"nadflip-web-worker/worker/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// SettlementLookup fetches a journaled settlement by wager id.
type SettlementLookup func(wagerID string) (*store.Settlement, error)

type Handler struct {
	hub    *Hub
	ctx    context.Context
	lookup SettlementLookup
}

// NewHandler serves the hub. Client pumps live on ctx, not on the request
// context, so they outlive the upgrade request.
func NewHandler(ctx context.Context, hub *Hub, lookup SettlementLookup) *Handler {
	return &Handler{
		hub:    hub,
		ctx:    ctx,
		lookup: lookup,
	}
}

func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/ws", h.HandleWebSocket)
	r.Get("/health", h.HandleHealth)
	r.Get("/metrics", h.HandleMetrics)
	r.Get("/settlements/{wagerID}", h.HandleSettlement)
	return r
}

func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnf("websocket upgrade error: %v", err)
		return
	}

	c := NewClient(uuid.New().String(), conn, h.hub)
	h.hub.Register(c)

	go c.WritePump(h.ctx)
	go c.ReadPump(h.ctx)
}

func (h *Handler) HandleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":         "healthy",
		"service":        "nadflip-web-worker",
		"active_clients": h.hub.ClientCount(),
	})
}

func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	worker.WriteMetrics(w)
}

func (h *Handler) HandleSettlement(w http.ResponseWriter, r *http.Request) {
	wagerID := chi.URLParam(r, "wagerID")
	if h.lookup == nil {
		writeJSON(w, http.StatusNotFound, ErrorPayload{Code: "not_found", Message: "no settlement journal"})
		return
	}

	settlement, err := h.lookup(wagerID)
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeJSON(w, http.StatusNotFound, ErrorPayload{Code: "not_found", Message: "unknown wager " + wagerID})
	case err != nil:
		log.Errorf("settlement lookup %s: %v", wagerID, err)
		writeJSON(w, http.StatusInternalServerError, ErrorPayload{Code: "internal", Message: "settlement lookup failed"})
	default:
		writeJSON(w, http.StatusOK, settlement)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warnf("write response: %v", err)
	}
}
