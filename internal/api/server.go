// Package api exposes the ingestion, run, and approval operations over HTTP.
// The handlers are a thin layer over the store and pipeline; every rule they
// enforce lives below them, so the CLI and the API can never disagree.
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/sells-group/marketing-agent/internal/config"
	"github.com/sells-group/marketing-agent/internal/ingest"
	"github.com/sells-group/marketing-agent/internal/model"
	"github.com/sells-group/marketing-agent/internal/pipeline"
	"github.com/sells-group/marketing-agent/internal/store"
)

// Server holds the wired dependencies behind the HTTP handlers.
type Server struct {
	store  store.Store
	engine *ingest.Engine
	runner *pipeline.Runner
}

func NewServer(st store.Store, engine *ingest.Engine, runner *pipeline.Runner) *Server {
	return &Server{store: st, engine: engine, runner: runner}
}

// Router builds the chi router with CORS configured from server config.
func (s *Server) Router(cfg config.ServerConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/health", s.handleHealth)

	r.Route("/ingest", func(r chi.Router) {
		r.Post("/upsert", s.handleUpsert)
		r.Post("/upsert-batch", s.handleUpsertBatch)
	})

	r.Route("/agent", func(r chi.Router) {
		r.Post("/run", s.handleTriggerRun)
		r.Get("/runs", s.handleListRuns)
		r.Get("/runs/{id}", s.handleGetRun)
	})

	r.Route("/actions/{id}", func(r chi.Router) {
		r.Post("/approve", s.handleActionTransition(model.ActionApproved))
		r.Post("/reject", s.handleActionTransition(model.ActionRejected))
		r.Post("/execute", s.handleActionTransition(model.ActionExecuted))
	})

	r.Route("/creatives/{id}", func(r chi.Router) {
		r.Post("/approve", s.handleCreativeTransition(model.CreativeApproved))
		r.Post("/reject", s.handleCreativeTransition(model.CreativeRejected))
		r.Post("/publish", s.handleCreativeTransition(model.CreativePublished))
	})

	r.Get("/campaigns", s.handleListCampaigns)

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type upsertRequest struct {
	Source string           `json:"source"`
	Record ingest.RawRecord `json:"record"`
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	var req upsertRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	source := model.Source(req.Source)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported source: "+req.Source)
		return
	}

	result, err := s.engine.IngestRecord(r.Context(), req.Record, source)
	if err != nil {
		var verr *ingest.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusUnprocessableEntity, verr.Error())
			return
		}
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type upsertBatchRequest struct {
	Source  string             `json:"source"`
	Records []ingest.RawRecord `json:"records"`
}

func (s *Server) handleUpsertBatch(w http.ResponseWriter, r *http.Request) {
	var req upsertBatchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	source := model.Source(req.Source)
	if !source.Valid() {
		writeError(w, http.StatusBadRequest, "unsupported source: "+req.Source)
		return
	}

	result, err := s.engine.IngestBatch(r.Context(), req.Records, source)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

type triggerRunRequest struct {
	RunType        string `json:"run_type"`
	WindowDays     int    `json:"window_days"`
	ComparisonDays int    `json:"comparison_days"`
	Wait           bool   `json:"wait"`
}

func (s *Server) handleTriggerRun(w http.ResponseWriter, r *http.Request) {
	var req triggerRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	runType := model.RunType(req.RunType)
	if runType == "" {
		runType = model.RunTypeAdhoc
	}
	if runType != model.RunTypeWeekly && runType != model.RunTypeAdhoc {
		writeError(w, http.StatusBadRequest, "unsupported run_type: "+req.RunType)
		return
	}
	params := model.RunParams{WindowDays: req.WindowDays, ComparisonDays: req.ComparisonDays}

	if req.Wait {
		run, err := s.runner.Run(r.Context(), runType, params)
		if err != nil && run == nil {
			s.serverError(w, r, err)
			return
		}
		// A failed run is a valid outcome; the record tells the story.
		writeJSON(w, http.StatusOK, run)
		return
	}

	run, err := s.runner.Trigger(r.Context(), runType, params)
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, run)
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	runs, err := s.store.ListRuns(r.Context(), store.RunFilter{
		Status:  model.RunStatus(q.Get("status")),
		RunType: model.RunType(q.Get("type")),
		Limit:   limit,
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs, "count": len(runs)})
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.storeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

type transitionRequest struct {
	By string `json:"approved_by"`
}

func (s *Server) handleActionTransition(to model.ActionStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.By == "" {
			writeError(w, http.StatusBadRequest, "approved_by is required")
			return
		}

		act, err := s.store.TransitionAction(r.Context(), chi.URLParam(r, "id"), to, req.By)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, act)
	}
}

func (s *Server) handleCreativeTransition(to model.CreativeStatus) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req transitionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if req.By == "" {
			writeError(w, http.StatusBadRequest, "approved_by is required")
			return
		}

		cr, err := s.store.TransitionCreative(r.Context(), chi.URLParam(r, "id"), to, req.By)
		if err != nil {
			s.storeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, cr)
	}
}

func (s *Server) handleListCampaigns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))

	campaigns, err := s.store.ListCampaigns(r.Context(), store.CampaignFilter{
		Source: model.Source(q.Get("source")),
		Status: model.CampaignStatus(q.Get("status")),
		Limit:  limit,
	})
	if err != nil {
		s.serverError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"campaigns": campaigns, "count": len(campaigns)})
}

// storeError maps lookup and transition failures onto HTTP statuses.
func (s *Server) storeError(w http.ResponseWriter, r *http.Request, err error) {
	var invalid *model.InvalidTransitionError
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, "not found")
	case errors.As(err, &invalid):
		writeError(w, http.StatusConflict, invalid.Error())
	default:
		s.serverError(w, r, err)
	}
}

func (s *Server) serverError(w http.ResponseWriter, r *http.Request, err error) {
	zap.L().Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
