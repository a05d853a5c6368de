package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/dontdude/qdoas/internal/domain"
	"github.com/dontdude/qdoas/internal/wire"
)

// Publisher enqueues request envelopes for the engine workers.
type Publisher interface {
	Publish(ctx context.Context, env domain.RequestEnvelope) error
}

// NewRouter wires the session API, the websocket endpoint and the middleware stack.
func NewRouter(pub Publisher, hub *Hub, limiter *RateLimiter, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(enableCORS)

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	h := &handlers{pub: pub, logger: logger}
	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			r.Use(limiter.Middleware)
			r.Post("/sessions", h.createSession)
			r.Post("/sessions/{id}/requests", h.submitRequest)
		})
		r.Get("/ws", hub.ServeWS)
	})
	return r
}

type handlers struct {
	pub    Publisher
	logger *slog.Logger
}

func (h *handlers) createSession(w http.ResponseWriter, _ *http.Request) {
	id := uuid.New().String()
	h.logger.Info("Session created", "session", id)
	writeJSON(w, http.StatusCreated, map[string]string{"session_id": id})
}

// submitRequest validates the posted envelope by decoding it, then publishes it for the
// session named in the path.
func (h *handlers) submitRequest(w http.ResponseWriter, r *http.Request) {
	session := chi.URLParam(r, "id")
	if err := uuid.Validate(session); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid session id"})
		return
	}

	var env domain.RequestEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if _, err := wire.DecodeRequest(env); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	env.SessionID = session
	env.ID = uuid.New().String()
	h.logger.Info("Received request", "session", session, "request", env.ID, "kind", env.Kind)
	if err := h.pub.Publish(r.Context(), env); err != nil {
		h.logger.Error("Failed to publish request", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"request_id": env.ID, "status": "queued"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// enableCORS allows browser front ends on other origins.
func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
