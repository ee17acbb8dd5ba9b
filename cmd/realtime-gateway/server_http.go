package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	config "github.com/farmflow/notify/internal/config/realtime-gateway"
	"github.com/farmflow/notify/internal/domain/event"
	"github.com/farmflow/notify/internal/domain/webhook"
	pg "github.com/farmflow/notify/internal/repository/postgres"
	"github.com/farmflow/notify/internal/realtime"
	"github.com/farmflow/notify/internal/services/trigger"
	"github.com/farmflow/notify/internal/services/webhookworker"
)

type gateway struct {
	log      *zap.Logger
	trig     *trigger.Trigger
	tx       pg.Transactor
	webhooks webhook.Repo
	disp     *webhookworker.Dispatcher
}

func buildHTTPServer(cfg *config.Config, l *zap.Logger, gw *gateway, ws *realtime.WSHandler) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("GET /ws", ws)
	mux.HandleFunc("POST /api/v1/events", gw.handleFireEvent)
	mux.HandleFunc("POST /api/v1/webhooks/{id}/test", gw.handleTestDelivery)

	return &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           mux,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
	}
}

type fireRequest struct {
	Event    string          `json:"event"`
	Payload  json.RawMessage `json:"payload"`
	UserID   string          `json:"user_id,omitempty"`
	Audience event.Audience  `json:"audience"`
}

// handleFireEvent accepts one event and fans it out. 202 means the
// durable rows are enqueued; actual delivery happens in the workers.
func (g *gateway) handleFireEvent(w http.ResponseWriter, r *http.Request) {
	var req fireRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request body", http.StatusBadRequest)
		return
	}
	if req.Event == "" {
		http.Error(w, "event is required", http.StatusBadRequest)
		return
	}

	// all-or-nothing: a 500 means no durable rows were kept
	ev := &event.Event{Name: req.Event, Payload: req.Payload, UserID: req.UserID, Audience: req.Audience}
	err := g.tx.WithTx(r.Context(), func(ctx context.Context) error {
		return g.trig.Fire(ctx, ev)
	})
	if err != nil {
		g.log.Error("fan-out failed", zap.String("event", req.Event), zap.Error(err))
		http.Error(w, "fan-out failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type testDeliveryResponse struct {
	StatusCode int    `json:"status_code"`
	Body       string `json:"body,omitempty"`
	Error      string `json:"error,omitempty"`
	OK         bool   `json:"ok"`
}

// handleTestDelivery fires one synthetic signed event at the
// registration's URL and reports the raw outcome. Nothing is queued or
// persisted.
func (g *gateway) handleTestDelivery(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "bad registration id", http.StatusBadRequest)
		return
	}

	reg, err := g.webhooks.GetByID(r.Context(), id)
	if err != nil {
		if errors.Is(err, pg.ErrNotFound) {
			http.Error(w, "registration not found", http.StatusNotFound)
			return
		}
		g.log.Error("registration lookup", zap.Error(err))
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}

	res := g.disp.TestDelivery(r.Context(), reg)
	resp := testDeliveryResponse{StatusCode: res.StatusCode, Body: res.Body, OK: res.Success()}
	if res.Err != nil {
		resp.Error = res.Err.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}
