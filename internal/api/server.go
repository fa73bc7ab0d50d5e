// Package api exposes the HTTP interface for the crawler service: the
// admin surface for managing crawl jobs and the graph read endpoints.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mthorsley/wikigraph-crawler/internal/crawler"
	"github.com/mthorsley/wikigraph-crawler/internal/metrics"
)

// BlastEstimator predicts crawl size for a candidate root title.
type BlastEstimator interface {
	Estimate(ctx context.Context, title string) (crawler.BlastRadius, error)
}

// Server wires HTTP handlers to the ledger, graph store, and gateway.
type Server struct {
	router    chi.Router
	ledger    crawler.JobLedger
	graph     crawler.GraphStore
	gateway   crawler.Gateway
	estimator BlastEstimator
	// stopCrawler cancels the worker pool's crawl context.
	stopCrawler func()
	logger      *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	ledger crawler.JobLedger,
	graph crawler.GraphStore,
	gateway crawler.Gateway,
	estimator BlastEstimator,
	stopCrawler func(),
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		ledger:      ledger,
		graph:       graph,
		gateway:     gateway,
		estimator:   estimator,
		stopCrawler: stopCrawler,
		logger:      logger,
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Route("/admin", func(r chi.Router) {
			r.Post("/enqueue", s.enqueue)
			r.Get("/blast-radius", s.blastRadius)
			r.Route("/jobs", func(r chi.Router) {
				r.Get("/", s.listJobs)
				r.Post("/kill-all", s.killAll)
				r.Post("/{page_id}/cancel", s.cancelJob)
			})
			r.Post("/crawler/stop", s.stopWorkers)
			r.Delete("/data", s.resetData)
		})
		r.Route("/graph", func(r chi.Router) {
			r.Get("/ego", s.egoGraph)
			r.Get("/all", s.allGraph)
		})
	})

	s.router = r
	return s
}

// Handler returns the router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	if _, err := s.ledger.List(r.Context(), 1, 0); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type enqueueRequest struct {
	Title         string `json:"title"`
	LinkDirection string `json:"link_direction"`
	AutoCrawl     bool   `json:"auto_crawl"`
	Priority      int    `json:"priority"`
	RequestedBy   string `json:"requested_by"`
}

// enqueue resolves a title to its canonical page and queues a root
// crawl job for it.
func (s *Server) enqueue(w http.ResponseWriter, r *http.Request) {
	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Title == "" {
		writeError(w, http.StatusBadRequest, "missing title")
		return
	}
	direction := crawler.LinkDirection(req.LinkDirection)
	switch direction {
	case "":
		direction = crawler.DirectionBoth
	case crawler.DirectionOutbound, crawler.DirectionInbound, crawler.DirectionBoth:
	default:
		writeError(w, http.StatusBadRequest, "invalid link_direction")
		return
	}

	info, err := s.gateway.ResolveTitle(r.Context(), req.Title)
	if err != nil {
		if errors.Is(err, crawler.ErrTitleNotFound) {
			writeError(w, http.StatusNotFound, "title not found")
			return
		}
		s.logger.Error("resolve title failed", zap.String("title", req.Title), zap.Error(err))
		writeError(w, http.StatusBadGateway, "title resolution failed")
		return
	}

	page := crawler.Page{
		PageID:     info.PageID,
		Title:      info.Title,
		Namespace:  info.Namespace,
		IsRedirect: info.IsRedirect,
	}
	if err := s.graph.UpsertPage(r.Context(), page); err != nil {
		s.logger.Error("upsert page failed", zap.Int64("page_id", info.PageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to record page")
		return
	}

	requestedBy := req.RequestedBy
	if requestedBy == "" {
		requestedBy = "api"
	}
	err = s.ledger.Enqueue(r.Context(), crawler.EnqueueRequest{
		PageID:      info.PageID,
		RequestedBy: requestedBy,
		Priority:    req.Priority,
		Cursor:      crawler.RootCursor(info.PageID, direction, req.AutoCrawl),
	})
	if err != nil {
		s.logger.Error("enqueue failed", zap.Int64("page_id", info.PageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to enqueue job")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"page_id": info.PageID,
		"title":   info.Title,
		"status":  string(crawler.JobStatusQueued),
	})
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 100)
	offset := intQuery(r, "offset", 0)
	listing, err := s.ledger.List(r.Context(), limit, offset)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	writeJSON(w, http.StatusOK, listing)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	pageID, err := strconv.ParseInt(chi.URLParam(r, "page_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_id")
		return
	}
	switch err := s.ledger.Cancel(r.Context(), pageID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]any{
			"page_id": pageID,
			"status":  string(crawler.JobStatusPaused),
		})
	case errors.Is(err, crawler.ErrJobNotFound):
		writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrNotCancellable):
		writeError(w, http.StatusConflict, "job is not cancellable")
	default:
		s.logger.Error("cancel failed", zap.Int64("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
	}
}

func (s *Server) killAll(w http.ResponseWriter, r *http.Request) {
	n, err := s.ledger.KillAllRunning(r.Context())
	if err != nil {
		s.logger.Error("kill all failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to kill running jobs")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"killed": n})
}

func (s *Server) stopWorkers(w http.ResponseWriter, _ *http.Request) {
	if s.stopCrawler != nil {
		s.stopCrawler()
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopping"})
}

func (s *Server) resetData(w http.ResponseWriter, r *http.Request) {
	if err := s.graph.ResetAll(r.Context()); err != nil {
		s.logger.Error("reset failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to reset data")
		return
	}
	s.logger.Warn("all crawl data deleted")
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset"})
}

func (s *Server) blastRadius(w http.ResponseWriter, r *http.Request) {
	title := r.URL.Query().Get("title")
	if title == "" {
		writeError(w, http.StatusBadRequest, "missing title")
		return
	}
	br, err := s.estimator.Estimate(r.Context(), title)
	if err != nil {
		if errors.Is(err, crawler.ErrTitleNotFound) {
			writeError(w, http.StatusNotFound, "title not found")
			return
		}
		s.logger.Error("blast radius failed", zap.String("title", title), zap.Error(err))
		writeError(w, http.StatusBadGateway, "estimation failed")
		return
	}
	writeJSON(w, http.StatusOK, br)
}

func (s *Server) egoGraph(w http.ResponseWriter, r *http.Request) {
	pageID, err := strconv.ParseInt(r.URL.Query().Get("page_id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid page_id")
		return
	}
	limit := intQuery(r, "limit_neighbors", 200)
	view, err := s.graph.Ego(r.Context(), pageID, limit)
	if err != nil {
		s.logger.Error("ego graph failed", zap.Int64("page_id", pageID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build graph")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (s *Server) allGraph(w http.ResponseWriter, r *http.Request) {
	limit := intQuery(r, "limit", 500)
	view, err := s.graph.AllNodes(r.Context(), limit)
	if err != nil {
		s.logger.Error("all graph failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to build graph")
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func intQuery(r *http.Request, name string, def int) int {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return def
	}
	return n
}
