// Package handler provides the HTTP handlers for the library server.
package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/stevemurr/library-sync/logging"
	"github.com/stevemurr/library-sync/metrics"
	"github.com/stevemurr/library-sync/model"
	"github.com/stevemurr/library-sync/store"
)

const maxNameLength = 200

// Handler holds the server dependencies and registers routes.
type Handler struct {
	store  store.Store
	logger *zap.Logger
	mux    *http.ServeMux
	now    func() time.Time
}

// New creates a Handler and wires up all routes.
func New(s store.Store, logger *zap.Logger) *Handler {
	h := &Handler{
		store:  s,
		logger: logging.OrNop(logger),
		mux:    http.NewServeMux(),
		now:    func() time.Time { return time.Now().UTC() },
	}
	h.routes()
	return h
}

// ServeHTTP makes Handler an http.Handler. Every request is counted by route
// pattern and status.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	h.mux.ServeHTTP(rec, r)
	route := r.Pattern
	if route == "" {
		route = "unmatched"
	}
	metrics.HTTPRequests.WithLabelValues(r.Method, route, strconv.Itoa(rec.status)).Inc()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (h *Handler) routes() {
	// Health / status
	h.mux.HandleFunc("GET /", h.root)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	// --- Workspace collections ---
	h.mux.HandleFunc("GET /workspaces/{workspace}/collections", h.listCollections)
	h.mux.HandleFunc("POST /workspaces/{workspace}/collections", h.createCollection)

	// --- Single collection ---
	h.mux.HandleFunc("GET /collections/{id}", h.getCollection)
	h.mux.HandleFunc("PUT /collections/{id}", h.updateCollection)
	h.mux.HandleFunc("DELETE /collections/{id}", h.deleteCollection)

	// --- Membership ---
	h.mux.HandleFunc("GET /collections/{id}/members", h.getMembers)
	h.mux.HandleFunc("POST /collections/{id}/members", h.addMembers)
	h.mux.HandleFunc("POST /collections/{id}/members/remove", h.removeMembers)
}

// ---------- helpers ----------

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"detail": msg})
}

func readJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, err error) {
	h.logger.Error("request failed", zap.String("method", r.Method), zap.String("path", r.URL.Path), zap.Error(err))
	writeError(w, http.StatusInternalServerError, err.Error())
}

func validateName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("name is required")
	}
	if len(name) > maxNameLength {
		return "", fmt.Errorf("name is longer than %d characters", maxNameLength)
	}
	return name, nil
}

// ---------- status endpoints ----------

func (h *Handler) root(w http.ResponseWriter, r *http.Request) {
	// Only match exact root path
	if r.URL.Path != "/" {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"service": "Library Sync Server",
	})
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// ---------- collections ----------

func (h *Handler) listCollections(w http.ResponseWriter, r *http.Request) {
	cs, err := h.store.ListCollections(r.PathValue("workspace"))
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

func (h *Handler) createCollection(w http.ResponseWriter, r *http.Request) {
	var draft model.CollectionDraft
	if err := readJSON(r, &draft); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	name, err := validateName(draft.Name)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	now := h.now()
	c, err := h.store.CreateCollection(model.Collection{
		ID:          uuid.NewString(),
		WorkspaceID: r.PathValue("workspace"),
		Name:        name,
		Description: draft.Description,
		Tags:        draft.Tags,
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	h.logger.Info("collection created",
		zap.String("workspace", c.WorkspaceID), zap.String("id", c.ID), zap.Int("order_index", c.OrderIndex))
	writeJSON(w, http.StatusCreated, map[string]any{"id": c.ID, "collection": c})
}

func (h *Handler) getCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	c, err := h.store.GetCollection(id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) updateCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var patch model.CollectionPatch
	if err := readJSON(r, &patch); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if patch.Name != nil {
		name, err := validateName(*patch.Name)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, err.Error())
			return
		}
		patch.Name = &name
	}

	c, err := h.store.UpdateCollection(id, patch, h.now())
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (h *Handler) deleteCollection(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	existed, err := h.store.DeleteCollection(id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	if !existed {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// ---------- membership ----------

type membersRequest struct {
	IDs []string `json:"ids"`
}

// requireCollection writes a 404 and returns false if id does not exist.
func (h *Handler) requireCollection(w http.ResponseWriter, r *http.Request, id string) bool {
	c, err := h.store.GetCollection(id)
	if err != nil {
		h.internalError(w, r, err)
		return false
	}
	if c == nil {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return false
	}
	return true
}

func (h *Handler) getMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !h.requireCollection(w, r, id) {
		return
	}
	ids, err := h.store.Members(id)
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ids)
}

func (h *Handler) addMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req membersRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	n, err := h.store.AddMembers(id, req.IDs)
	if errors.Is(err, store.ErrNoCollection) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"added": n})
}

func (h *Handler) removeMembers(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req membersRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	n, err := h.store.RemoveMembers(id, req.IDs)
	if errors.Is(err, store.ErrNoCollection) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("collection %q not found", id))
		return
	}
	if err != nil {
		h.internalError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"removed": n})
}
