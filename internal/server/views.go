package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	apiv1 "github.com/wesleyemery/k8s-metrics-tables/api/v1"
	"github.com/wesleyemery/k8s-metrics-tables/internal/store"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/metrics"
	"github.com/wesleyemery/k8s-metrics-tables/pkg/table"
)

// handleListViews serves GET /api/v1/views, optionally scoped with ?kind=.
func (s *Server) handleListViews(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	if kind != "" && !apiv1.ValidKind(kind) {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("unknown table kind %q", kind))
		return
	}

	views, err := s.store.ListViews(r.Context(), kind)
	if err != nil {
		s.log.Error(err, "failed to list saved views")
		respondError(w, http.StatusInternalServerError, "failed to list saved views")
		return
	}
	respondJSON(w, http.StatusOK, views)
}

// handleCreateView serves POST /api/v1/views.
func (s *Server) handleCreateView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.decodeView(w, r)
	if !ok {
		return
	}
	view.ID = ""

	if err := s.store.CreateView(r.Context(), &view); err != nil {
		s.log.Error(err, "failed to create saved view")
		respondError(w, http.StatusInternalServerError, "failed to create saved view")
		return
	}
	respondJSON(w, http.StatusCreated, view)
}

// handleGetView serves GET /api/v1/views/{id}.
func (s *Server) handleGetView(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	view, err := s.store.GetView(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("saved view %s not found", id))
		return
	}
	if err != nil {
		s.log.Error(err, "failed to load saved view", "id", id)
		respondError(w, http.StatusInternalServerError, "failed to load saved view")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleUpdateView serves PUT /api/v1/views/{id}.
func (s *Server) handleUpdateView(w http.ResponseWriter, r *http.Request) {
	view, ok := s.decodeView(w, r)
	if !ok {
		return
	}
	view.ID = mux.Vars(r)["id"]

	err := s.store.UpdateView(r.Context(), &view)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("saved view %s not found", view.ID))
		return
	}
	if err != nil {
		s.log.Error(err, "failed to update saved view", "id", view.ID)
		respondError(w, http.StatusInternalServerError, "failed to update saved view")
		return
	}
	respondJSON(w, http.StatusOK, view)
}

// handleDeleteView serves DELETE /api/v1/views/{id}.
func (s *Server) handleDeleteView(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	err := s.store.DeleteView(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) {
		respondError(w, http.StatusNotFound, fmt.Sprintf("saved view %s not found", id))
		return
	}
	if err != nil {
		s.log.Error(err, "failed to delete saved view", "id", id)
		respondError(w, http.StatusInternalServerError, "failed to delete saved view")
		return
	}
	respondJSON(w, http.StatusOK, map[string]string{"message": "saved view deleted"})
}

// decodeView reads and validates a saved view body, answering the request
// itself on failure.
func (s *Server) decodeView(w http.ResponseWriter, r *http.Request) (apiv1.SavedView, bool) {
	var view apiv1.SavedView
	if err := json.NewDecoder(r.Body).Decode(&view); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return apiv1.SavedView{}, false
	}
	if err := view.Validate(); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return apiv1.SavedView{}, false
	}
	if view.SortField != "" {
		if _, err := table.ParseSortField(view.SortField); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return apiv1.SavedView{}, false
		}
	}
	if view.SortDirection != "" {
		if _, err := table.ParseSortDirection(view.SortDirection); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return apiv1.SavedView{}, false
		}
	}
	if err := metrics.ValidateFilter(view.Filter); err != nil {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid filter: %v", err))
		return apiv1.SavedView{}, false
	}
	return view, true
}
