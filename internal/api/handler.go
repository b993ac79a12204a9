// internal/api/handler.go
package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github-star-sync/internal/auth"
	"github-star-sync/internal/database"
	"github-star-sync/internal/model"
	"github-star-sync/internal/sse"
	"github-star-sync/internal/syncer"
)

// Streamer starts a star sync and returns its events.
type Streamer interface {
	Stream(ctx context.Context, req syncer.Request) <-chan model.Event
}

// Authenticator guards the /v1 routes.
type Authenticator interface {
	Middleware(logger *slog.Logger) func(http.Handler) http.Handler
}

// Handler is the container for API dependencies.
type Handler struct {
	db        database.Querier
	streamer  Streamer
	logger    *slog.Logger
	heartbeat time.Duration
}

// Options carries the optional parts of the router.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics   http.Handler
	Heartbeat time.Duration
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db database.Querier, streamer Streamer, authn Authenticator, logger *slog.Logger, opts Options) http.Handler {
	h := &Handler{
		db:        db,
		streamer:  streamer,
		logger:    logger,
		heartbeat: opts.Heartbeat,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger) // Chi's default logger
	r.Use(middleware.Recoverer)

	r.Get("/health", h.healthCheck)
	if opts.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", opts.Metrics)
	}

	// API Routes
	r.Route("/v1", func(r chi.Router) {
		r.Use(authn.Middleware(logger))
		// Streams stay open for as long as the client listens.
		r.Get("/stars/stream", h.streamStars)
		r.With(middleware.Timeout(60*time.Second)).Get("/stars", h.listStars)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// streamStars syncs the caller's stars and pushes them as server-sent events.
// GET /v1/stars/stream?from_page=N
func (h *Handler) streamStars(w http.ResponseWriter, r *http.Request) {
	access, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	startPage := 0
	if v := r.URL.Query().Get("from_page"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			respondWithError(w, http.StatusBadRequest, "Invalid 'from_page' parameter. Must be a positive integer.")
			return
		}
		startPage = n
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	logger := h.logger.With("user_id", access.UserID, "request_id", middleware.GetReqID(ctx))
	events := h.streamer.Stream(ctx, syncer.Request{
		UserID:      access.UserID,
		AccessToken: access.AccessToken,
		StartPage:   startPage,
	})

	err := sse.Serve(ctx, w, r.Header.Get("Last-Event-ID"), events, h.heartbeat, logger)
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("Stream ended early", "error", err)
	}
}

// listStars returns a page of the caller's stored stars, newest first.
// GET /v1/stars?limit=N&offset=M
func (h *Handler) listStars(w http.ResponseWriter, r *http.Request) {
	access, ok := auth.FromContext(r.Context())
	if !ok {
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	limit, err := intParam(r, "limit", 100)
	if err != nil || limit <= 0 || limit > 500 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 500.")
		return
	}
	offset, err := intParam(r, "offset", 0)
	if err != nil || offset < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'offset' parameter. Must be a non-negative integer.")
		return
	}

	total, err := h.db.GetUserStarsCount(r.Context(), access.UserID)
	if err != nil {
		h.logger.Error("Failed to count stars", "user_id", access.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	stars, err := h.db.GetUserStars(r.Context(), access.UserID, limit, offset)
	if err != nil {
		h.logger.Error("Failed to get stars", "user_id", access.UserID, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	items := make([]starResponse, len(stars))
	for i, s := range stars {
		items[i] = newStarResponse(s)
	}
	respondWithJSON(w, http.StatusOK, listResponse{Total: total, Limit: limit, Offset: offset, Items: items})
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	return strconv.Atoi(v)
}
