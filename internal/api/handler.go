// internal/api/handler.go
package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5"

	custom_errors "kb-syncer/internal/errors"
	"kb-syncer/internal/model"
	"kb-syncer/internal/store"
)

// SyncTrigger starts a sync session for one repository.
type SyncTrigger interface {
	SyncRepo(ctx context.Context, repoID int64, trigger model.Trigger, userID *int64) error
}

// Handler is the container for API dependencies.
type Handler struct {
	db     store.Querier
	syncer SyncTrigger
	logger *slog.Logger
}

// NewRouter creates and configures a new chi router with all API routes.
func NewRouter(db store.Querier, syncer SyncTrigger, logger *slog.Logger) http.Handler {
	h := &Handler{
		db:     db,
		syncer: syncer,
		logger: logger,
	}

	r := chi.NewRouter()

	// Middleware stack
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	// API Routes
	r.Get("/health", h.healthCheck)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/repos", h.createRepository)
		r.Delete("/repos/{id}", h.deactivateRepository)
		r.Post("/repos/{id}/sync", h.triggerSync)
		r.Get("/repos/{id}/queue", h.getQueueCounts)
		r.Get("/repos/{id}/files/history", h.getFileHistory)
		r.Get("/sessions/{id}", h.getSession)
	})

	return r
}

// healthCheck is a simple health endpoint.
func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// createRepository registers a repository for tracking.
// POST /v1/repos
func (h *Handler) createRepository(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ConnectionID  int64  `json:"connection_id"`
		ExternalID    string `json:"external_id"`
		Name          string `json:"name"`
		DefaultBranch string `json:"default_branch"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.ExternalID == "" || req.Name == "" {
		respondWithError(w, http.StatusBadRequest, "external_id and name are required")
		return
	}

	repo, err := h.db.CreateRepository(r.Context(), store.CreateRepositoryParams{
		ConnectionID:  req.ConnectionID,
		ExternalID:    req.ExternalID,
		Name:          req.Name,
		DefaultBranch: req.DefaultBranch,
	})
	if err != nil {
		h.logger.Error("Failed to create repository", "error", err)
		respondWithError(w, http.StatusConflict, "Repository could not be created")
		return
	}

	respondWithJSON(w, http.StatusCreated, repo)
}

// deactivateRepository stops tracking a repository. Its history stays.
// DELETE /v1/repos/{id}
func (h *Handler) deactivateRepository(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	if _, err := h.db.GetRepository(r.Context(), repoID); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	if err := h.db.DeactivateRepository(r.Context(), repoID); err != nil {
		h.logger.Error("Failed to deactivate repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// triggerSync starts a manual sync session for a repository.
// POST /v1/repos/{id}/sync
func (h *Handler) triggerSync(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	repo, err := h.db.GetRepository(r.Context(), repoID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Repository not found")
			return
		}
		h.logger.Error("Failed to get repository", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if repo.SyncStatus == model.RepoSyncSyncing {
		respondWithError(w, http.StatusConflict, "Repository sync already in progress")
		return
	}

	// The session outlives this request.
	go func() {
		err := h.syncer.SyncRepo(context.Background(), repoID, model.TriggerManual, nil)
		if err != nil && !errors.Is(err, custom_errors.ErrRepoBusy) {
			h.logger.Error("Manual sync failed", "repo_id", repoID, "error", err)
		}
	}()

	respondWithJSON(w, http.StatusAccepted, map[string]any{"repository_id": repoID, "status": "started"})
}

// getQueueCounts returns the queue status aggregate for a repository.
// GET /v1/repos/{id}/queue
func (h *Handler) getQueueCounts(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	counts, err := h.db.QueueStatusCounts(r.Context(), &repoID)
	if err != nil {
		h.logger.Error("Failed to get queue counts", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, counts)
}

// getFileHistory returns the change record of one file.
// GET /v1/repos/{id}/files/history?path=...&limit=N
func (h *Handler) getFileHistory(w http.ResponseWriter, r *http.Request) {
	repoID, ok := h.pathID(w, r)
	if !ok {
		return
	}

	path := r.URL.Query().Get("path")
	if path == "" {
		respondWithError(w, http.StatusBadRequest, "Missing 'path' parameter")
		return
	}

	limitStr := r.URL.Query().Get("limit")
	if limitStr == "" {
		limitStr = "20" // Default limit
	}
	limit, err := strconv.Atoi(limitStr)
	if err != nil || limit <= 0 || limit > 100 {
		respondWithError(w, http.StatusBadRequest, "Invalid 'limit' parameter. Must be an integer between 1 and 100.")
		return
	}

	history, err := h.db.FileHistory(r.Context(), repoID, path, limit)
	if err != nil {
		h.logger.Error("Failed to get file history", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, history)
}

// getSession returns one sync session with its counters.
// GET /v1/sessions/{id}
func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid session id")
		return
	}

	session, err := h.db.GetSession(r.Context(), id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			respondWithError(w, http.StatusNotFound, "Session not found")
			return
		}
		h.logger.Error("Failed to get session", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Internal server error")
		return
	}

	respondWithJSON(w, http.StatusOK, session)
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid repository id")
		return 0, false
	}
	return id, true
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}
