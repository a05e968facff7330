// Package api exposes the crawl control and ranking surfaces over HTTP.
package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"content_radar/internal/config"
	"content_radar/internal/crawler"
	"content_radar/internal/model"
	"content_radar/internal/ranking"
	"content_radar/internal/storage"
)

const defaultCrawlLimit = 20

// Server wires the orchestrator and the persistence gateway to HTTP.
type Server struct {
	orchestrator *crawler.Orchestrator
	store        storage.Storage
	defaults     config.CrawlDefaults
	validate     *validator.Validate
	log          *slog.Logger
}

// NewServer creates a Server.
func NewServer(o *crawler.Orchestrator, store storage.Storage,
	defaults config.CrawlDefaults, log *slog.Logger) *Server {
	return &Server{
		orchestrator: o,
		store:        store,
		defaults:     defaults,
		validate:     validator.New(),
		log:          log,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/crawl", s.handleStartCrawl)
		r.Get("/crawl", s.handleListOperations)
		r.Get("/crawl/{id}/status", s.handleCrawlStatus)
		r.Post("/crawl/stop", s.handleStopCrawl)

		r.Get("/recommendations", s.handleRecommendations)
		r.Get("/trending", s.handleTrending)
		r.Get("/similar", s.handleSimilar)

		r.Get("/items", s.handleItems)
		r.Post("/interactions", s.handleRecordInteraction)
		r.Get("/profiles/{userId}", s.handleGetProfile)
		r.Put("/profiles/{userId}", s.handleSaveProfile)
	})

	return r
}

type crawlRequest struct {
	Sources []string            `json:"sources" validate:"required,min=1,dive,required"`
	Query   string              `json:"query" validate:"required"`
	Limit   int                 `json:"limit" validate:"gte=0,lte=200"`
	Config  crawler.CrawlConfig `json:"config"`
}

func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.Limit == 0 {
		req.Limit = defaultCrawlLimit
	}

	cfg := req.Config
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = s.defaults.MaxConcurrency
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = s.defaults.Timeout()
	}
	if cfg.MaxAttempts == 0 {
		cfg.MaxAttempts = s.defaults.MaxAttempts
	}
	if cfg.MinQuality == 0 {
		cfg.MinQuality = s.defaults.MinQuality
	}
	if cfg.DedupThreshold == 0 {
		cfg.DedupThreshold = s.defaults.DedupThreshold
	}

	sources := make([]model.SourceID, len(req.Sources))
	for i, src := range req.Sources {
		sources[i] = model.SourceID(src)
	}

	handles, err := s.orchestrator.StartCrawl(r.Context(), sources, req.Query, req.Limit, cfg)
	if err != nil {
		var verr *crawler.ValidationError
		if errors.As(err, &verr) {
			s.writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		s.log.Error("start crawl", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to start crawl")
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{"operations": handles})
}

func (s *Server) handleCrawlStatus(w http.ResponseWriter, r *http.Request) {
	op, ok := s.orchestrator.GetStatus(chi.URLParam(r, "id"))
	if !ok {
		s.writeError(w, http.StatusNotFound, "unknown operation")
		return
	}
	s.writeJSON(w, http.StatusOK, op)
}

func (s *Server) handleListOperations(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]any{"operations": s.orchestrator.ListOperations()})
}

func (s *Server) handleStopCrawl(w http.ResponseWriter, _ *http.Request) {
	s.orchestrator.StopAll()
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": "stopping"})
}

func (s *Server) handleRecommendations(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	if userID == "" {
		s.writeError(w, http.StatusBadRequest, "userId is required")
		return
	}

	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		s.log.Error("load profile", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		profile = model.DefaultProfile(userID)
	}

	items, interactions, ok := s.loadSnapshots(w, r, time.Time{})
	if !ok {
		return
	}

	opts := ranking.RecommendOptions{
		Limit:         queryInt(r, "limit", 20),
		ExcludeViewed: r.URL.Query().Get("excludeViewed") == "true",
	}
	if raw := r.URL.Query().Get("categories"); raw != "" {
		opts.Categories = strings.Split(raw, ",")
	}

	ranked := ranking.Recommendations(items, profile, interactions, time.Now().UTC(), opts)
	s.writeJSON(w, http.StatusOK, map[string]any{"recommendations": ranked})
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	now := time.Now().UTC()
	items, interactions, ok := s.loadSnapshots(w, r, now.Add(-7*24*time.Hour))
	if !ok {
		return
	}
	ranked := ranking.Trending(items, interactions, now, queryInt(r, "limit", 20))
	s.writeJSON(w, http.StatusOK, map[string]any{"trending": ranked})
}

func (s *Server) handleSimilar(w http.ResponseWriter, r *http.Request) {
	contentID := r.URL.Query().Get("contentId")
	if contentID == "" {
		s.writeError(w, http.StatusBadRequest, "contentId is required")
		return
	}
	ref, err := s.store.GetItem(r.Context(), contentID)
	if err != nil {
		s.log.Error("load item", "content_id", contentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if ref == nil {
		s.writeError(w, http.StatusNotFound, "unknown content id")
		return
	}

	items, err := s.store.ListItems(r.Context())
	if err != nil {
		s.log.Error("list items", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load corpus")
		return
	}

	ranked := ranking.Similar(items, *ref, queryInt(r, "limit", 20))
	s.writeJSON(w, http.StatusOK, map[string]any{"similar": ranked})
}

func (s *Server) handleItems(w http.ResponseWriter, r *http.Request) {
	filter := storage.ItemFilter{
		Category: r.URL.Query().Get("category"),
		Search:   r.URL.Query().Get("search"),
		Featured: r.URL.Query().Get("featured") == "true",
		Limit:    queryInt(r, "limit", 0),
	}
	items, err := s.store.QueryItems(r.Context(), filter)
	if err != nil {
		s.log.Error("query items", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to query items")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

type interactionRequest struct {
	UserID    string `json:"userId" validate:"required"`
	ContentID string `json:"contentId" validate:"required"`
	Type      string `json:"type" validate:"required"`
}

func (s *Server) handleRecordInteraction(w http.ResponseWriter, r *http.Request) {
	var req interactionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	if err := s.validate.Struct(req); err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !model.ValidInteractionType(model.InteractionType(req.Type)) {
		s.writeError(w, http.StatusBadRequest, "unknown interaction type")
		return
	}

	item, err := s.store.GetItem(r.Context(), req.ContentID)
	if err != nil {
		s.log.Error("load item", "content_id", req.ContentID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load item")
		return
	}
	if item == nil {
		s.writeError(w, http.StatusNotFound, "unknown content id")
		return
	}

	in := model.UserInteraction{
		UserID:    req.UserID,
		ContentID: req.ContentID,
		Type:      model.InteractionType(req.Type),
		Timestamp: time.Now().UTC(),
	}
	if err := s.store.RecordInteraction(r.Context(), in); err != nil {
		s.log.Error("record interaction", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to record interaction")
		return
	}
	s.writeJSON(w, http.StatusCreated, in)
}

func (s *Server) handleGetProfile(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userId")
	profile, err := s.store.GetProfile(r.Context(), userID)
	if err != nil {
		s.log.Error("load profile", "user_id", userID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load profile")
		return
	}
	if profile == nil {
		profile = model.DefaultProfile(userID)
	}
	s.writeJSON(w, http.StatusOK, profile)
}

type profileRequest struct {
	Preferences   []string `json:"preferences"`
	Interests     []string `json:"interests"`
	ActivityLevel string   `json:"activityLevel"`
}

func (s *Server) handleSaveProfile(w http.ResponseWriter, r *http.Request) {
	var req profileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "malformed request body")
		return
	}
	profile := &model.UserProfile{
		UserID:        chi.URLParam(r, "userId"),
		Preferences:   req.Preferences,
		Interests:     req.Interests,
		ActivityLevel: req.ActivityLevel,
	}
	if profile.ActivityLevel == "" {
		profile.ActivityLevel = "new"
	}
	if err := s.store.SaveProfile(r.Context(), profile); err != nil {
		s.log.Error("save profile", "user_id", profile.UserID, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to save profile")
		return
	}
	s.writeJSON(w, http.StatusOK, profile)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// loadSnapshots fetches the corpus and interaction snapshots the ranking
// functions consume. Reports false after writing an error response.
func (s *Server) loadSnapshots(w http.ResponseWriter, r *http.Request,
	since time.Time) ([]model.CorpusItem, []model.UserInteraction, bool) {

	items, err := s.store.ListItems(r.Context())
	if err != nil {
		s.log.Error("list items", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load corpus")
		return nil, nil, false
	}
	interactions, err := s.store.ListInteractions(r.Context(), since)
	if err != nil {
		s.log.Error("list interactions", "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to load interactions")
		return nil, nil, false
	}
	return items, interactions, true
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encode response", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func queryInt(r *http.Request, key string, fallback int) int {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
