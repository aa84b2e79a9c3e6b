// Package routes wires the local HTTP surface over a ModelCache.
package routes

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"

	"github.com/artifactkit/modelcache/cache"
)

// ServerOptions carries the dependencies the routes need.
type ServerOptions struct {
	Cache *cache.ModelCache
}

// Server owns the router.
type Server struct {
	Router *chi.Mux
	cache  *cache.ModelCache
}

// New builds the router. The surface is local-process-boundary only; the
// cache itself speaks no wire protocol, this is a consumer of it.
func New(opts ServerOptions) *Server {
	s := &Server{Router: chi.NewRouter(), cache: opts.Cache}

	s.Router.Route("/v1", func(r chi.Router) {
		r.Route("/models/{id}", func(r chi.Router) {
			r.Put("/", s.handleStore)
			r.Get("/", s.handleRetrieve)
			r.Head("/", s.handleHas)
			r.Delete("/", s.handleRemove)
		})
		r.Get("/stats", s.handleStats)
		r.Get("/config", s.handleConfig)
		r.Patch("/config", s.handleUpdateConfig)
		r.Post("/clear", s.handleClear)
	})

	return s
}

func (s *Server) handleStore(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body: "+err.Error(), http.StatusBadRequest)
		return
	}

	version := r.Header.Get("X-Model-Version")
	err = s.cache.Store(r.Context(), id, payload, version)
	var capErr *cache.CapacityError
	if errors.As(err, &capErr) {
		http.Error(w, capErr.Error(), http.StatusInsufficientStorage)
		return
	}
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("store failed")
		http.Error(w, "store failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRetrieve(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	payload, found, err := s.cache.Retrieve(r.Context(), id)
	if err != nil {
		hlog.FromRequest(r).Error().Err(err).Str("id", id).Msg("retrieve failed")
		http.Error(w, "retrieve failed", http.StatusInternalServerError)
		return
	}
	if !found {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/octet-stream")
	_, _ = w.Write(payload)
}

func (s *Server) handleHas(w http.ResponseWriter, r *http.Request) {
	found, err := s.cache.Has(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if !found {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleRemove(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Remove(r.Context(), chi.URLParam(r, "id")); err != nil {
		http.Error(w, "remove failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// statsResponse is the read-only snapshot shape served to the UI.
type statsResponse struct {
	TotalSize     int64   `json:"total_size"`
	EntryCount    int64   `json:"entry_count"`
	HitRate       float64 `json:"hit_rate"`
	MissRate      float64 `json:"miss_rate"`
	EvictionCount int64   `json:"eviction_count"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	st := s.cache.Stats()
	writeJSON(w, statsResponse{
		TotalSize:     st.TotalSize,
		EntryCount:    st.EntryCount,
		HitRate:       st.HitRate(),
		MissRate:      st.MissRate(),
		EvictionCount: st.EvictionCount,
	})
}

type configResponse struct {
	MaxSize            int64  `json:"max_size"`
	MaxAge             string `json:"max_age"`
	Storage            string `json:"storage"`
	ActiveStorage      string `json:"active_storage"`
	CompressionEnabled bool   `json:"compression_enabled"`
	VerifyOnRetrieve   bool   `json:"verify_on_retrieve"`
}

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.cache.Config()
	writeJSON(w, configResponse{
		MaxSize:            cfg.MaxSize,
		MaxAge:             cfg.MaxAge.String(),
		Storage:            string(cfg.Storage),
		ActiveStorage:      string(s.cache.ActiveStorage()),
		CompressionEnabled: cfg.CompressionEnabled,
		VerifyOnRetrieve:   cfg.VerifyOnRetrieve,
	})
}

// configPatch mirrors cache.ConfigUpdate for JSON callers; absent fields are
// left untouched.
type configPatch struct {
	MaxSize            *int64  `json:"max_size"`
	MaxAge             *string `json:"max_age"`
	Storage            *string `json:"storage"`
	CompressionEnabled *bool   `json:"compression_enabled"`
	VerifyOnRetrieve   *bool   `json:"verify_on_retrieve"`
}

func (s *Server) handleUpdateConfig(w http.ResponseWriter, r *http.Request) {
	var patch configPatch
	if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
		http.Error(w, "decode body: "+err.Error(), http.StatusBadRequest)
		return
	}

	update := cache.ConfigUpdate{
		MaxSize:            patch.MaxSize,
		CompressionEnabled: patch.CompressionEnabled,
		VerifyOnRetrieve:   patch.VerifyOnRetrieve,
	}
	if patch.MaxAge != nil {
		d, err := time.ParseDuration(*patch.MaxAge)
		if err != nil {
			http.Error(w, "invalid max_age: "+err.Error(), http.StatusBadRequest)
			return
		}
		update.MaxAge = &d
	}
	if patch.Storage != nil {
		kind := cache.StorageKind(*patch.Storage)
		update.Storage = &kind
	}

	if err := s.cache.UpdateConfig(update); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	if err := s.cache.Clear(r.Context()); err != nil {
		hlog.FromRequest(r).Error().Err(err).Msg("clear failed")
		http.Error(w, "clear failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
