package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/bher20/energybill/internal/api/swagger"
	"github.com/bher20/energybill/internal/auth"
	"github.com/bher20/energybill/internal/calculation"
	"github.com/bher20/energybill/internal/metrics"
	"github.com/bher20/energybill/internal/storage"
)

type Handler struct {
	svc  *calculation.Service
	st   storage.Storage
	auth *auth.Service
	log  *zap.Logger
}

// NewMux constructs the HTTP mux, wiring in the calculation service, metrics,
// docs and health endpoints. authSvc may be nil or disabled.
func NewMux(svc *calculation.Service, st storage.Storage, authSvc *auth.Service, log *zap.Logger) *http.ServeMux {
	if log == nil {
		log = zap.NewNop()
	}
	h := &Handler{svc: svc, st: st, auth: authSvc, log: log.Named("api")}

	mux := http.NewServeMux()

	// Metrics endpoint.
	mux.Handle("/metrics", promhttp.Handler())

	// Health / readiness / liveness.
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("GET /readyz", h.ready)
	mux.HandleFunc("GET /livez", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("live"))
	})

	// API docs.
	mux.Handle("/docs/", http.StripPrefix("/docs", swagger.Handler()))

	// Calculations API.
	mux.Handle("POST /api/v1/energy-calculations",
		h.protect(auth.ObjCalculations, auth.ActWrite, "/api/v1/energy-calculations", h.CreateCalculation))
	mux.Handle("GET /api/v1/energy-calculations/{id}",
		h.protect(auth.ObjCalculations, auth.ActRead, "/api/v1/energy-calculations/{id}", h.GetCalculation))
	mux.Handle("GET /api/v1/rates",
		h.protect(auth.ObjRates, auth.ActRead, "/api/v1/rates", h.ListRates))

	return mux
}

func (h *Handler) ready(w http.ResponseWriter, r *http.Request) {
	if err := h.st.Ping(r.Context()); err != nil {
		h.log.Warn("readyz: db ping failed", zap.Error(err))
		http.Error(w, "db not ready", http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ready"))
}

// protect applies authentication, authorization and request metrics.
func (h *Handler) protect(obj, act, path string, fn http.HandlerFunc) http.Handler {
	return instrument(path, h.auth.Middleware(h.auth.RequirePermission(obj, act, fn)))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func instrument(path string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		metrics.RequestsTotal.WithLabelValues(path).Inc()
		next.ServeHTTP(rec, r)

		metrics.RequestDurationSeconds.WithLabelValues(path).Observe(time.Since(start).Seconds())
		if rec.status >= 400 {
			metrics.RequestErrorsTotal.WithLabelValues(path, strconv.Itoa(rec.status)).Inc()
		}
	})
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.Error("encode response failed", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, code, msg string) {
	h.writeJSON(w, status, errorResponse{Error: code, Message: msg})
}
