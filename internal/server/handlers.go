package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/bytedance/sonic"
	"github.com/gorilla/mux"
	"github.com/jmoiron/sqlx"
	"github.com/wealthkit/autopilot/internal/engine"
	"github.com/wealthkit/autopilot/internal/logger"
	"github.com/wealthkit/autopilot/internal/metrics"
	"github.com/wealthkit/autopilot/internal/portfolio"
	"github.com/wealthkit/autopilot/internal/pricing"
)

const _probeTimeout = 2 * time.Second

// Handler serves the operational endpoints: health, metrics and the
// read-only portfolio summary.
type Handler struct {
	engine  *engine.Engine
	db      *sqlx.DB
	prices  pricing.PriceSource
	metrics *metrics.Registry
	logger  logger.Logger

	// probeSymbol is a known-good ticker used to health-check the price
	// source.
	probeSymbol string
}

func NewHandler(
	eng *engine.Engine,
	db *sqlx.DB,
	prices pricing.PriceSource,
	m *metrics.Registry,
	probeSymbol string,
	logger logger.Logger,
) *Handler {
	return &Handler{
		engine:      eng,
		db:          db,
		prices:      prices,
		metrics:     m,
		probeSymbol: probeSymbol,
		logger:      logger.With("component", "server"),
	}
}

func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/healthz", h.Health).Methods(http.MethodGet)
	r.Handle("/metrics", h.metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/portfolios/{id}/summary", h.Summary).Methods(http.MethodGet)
	return r
}

type healthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components"`
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok", Components: make(map[string]string)}
	code := http.StatusOK

	if h.db == nil {
		resp.Components["postgres"] = "disabled"
	} else {
		ctx, cancel := context.WithTimeout(r.Context(), _probeTimeout)
		if err := h.db.PingContext(ctx); err != nil {
			resp.Components["postgres"] = err.Error()
			resp.Status = "degraded"
			code = http.StatusServiceUnavailable
		} else {
			resp.Components["postgres"] = "ok"
		}
		cancel()
	}

	ctx, cancel := context.WithTimeout(r.Context(), _probeTimeout)
	if _, err := h.prices.CurrentPrice(ctx, h.probeSymbol); err != nil {
		resp.Components["pricing"] = err.Error()
		resp.Status = "degraded"
		code = http.StatusServiceUnavailable
	} else {
		resp.Components["pricing"] = "ok"
	}
	cancel()

	h.writeJSON(w, code, resp)
}

func (h *Handler) Summary(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	summary, err := h.engine.GetPortfolioSummary(id)
	if err != nil {
		if errors.Is(err, portfolio.NotFoundError) {
			h.writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
			return
		}
		h.logger.Errorf("%s: can't build summary for %s", err, id)
		h.writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}

	h.writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) writeJSON(w http.ResponseWriter, code int, v interface{}) {
	body, err := sonic.Marshal(v)
	if err != nil {
		h.logger.Errorf("%s: can't marshal response", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(body); err != nil {
		h.logger.Errorf("%s: can't write response", err)
	}
}
