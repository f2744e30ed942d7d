package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/menu-harvester/internal/config"
	"github.com/JakeFAU/menu-harvester/internal/crawler"
	"github.com/JakeFAU/menu-harvester/internal/dispatcher"
	"github.com/JakeFAU/menu-harvester/internal/metrics"
)

const defaultRequestTimeout = 60 * time.Second

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router     chi.Router
	jobStore   crawler.JobStore
	dispatcher *dispatcher.Dispatcher
	idGen      crawler.IDGenerator
	clock      crawler.Clock
	cfg        config.Config
	logger     *zap.Logger
}

// NewServer constructs a Server with middleware and routes.
func NewServer(
	jobStore crawler.JobStore,
	dispatcher *dispatcher.Dispatcher,
	idGen crawler.IDGenerator,
	clock crawler.Clock,
	cfg config.Config,
	logger *zap.Logger,
) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:   jobStore,
		dispatcher: dispatcher,
		idGen:      idGen,
		clock:      clock,
		cfg:        cfg,
		logger:     logger.Named("api"),
	}
	timeout := cfg.RequestTimeout()
	if timeout <= 0 {
		timeout = defaultRequestTimeout
	}

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoverMiddleware)
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(timeout))
	if cfg.Auth.Enabled {
		r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
	}

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1/harvests", func(r chi.Router) {
		r.Post("/", s.submitHarvest)
		r.Route("/{job_id}", func(r chi.Router) {
			r.Get("/status", s.getJobStatus)
			r.Get("/result", s.getJobResult)
			r.Post("/cancel", s.cancelJob)
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.jobStore == nil || s.dispatcher == nil {
		s.writeError(w, http.StatusServiceUnavailable, "not ready")
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

type harvestRequest struct {
	URL          string   `json:"url"`
	DocumentURLs []string `json:"document_urls"`
	MaxDepth     *int     `json:"max_depth"`
	MaxWorkers   *int     `json:"max_workers"`
	ChunkSize    *int     `json:"chunk_size"`
	Overlap      *int     `json:"overlap"`
}

func (s *Server) submitHarvest(w http.ResponseWriter, r *http.Request) {
	var req harvestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		s.logger.Error("submit harvest failed", zap.String("url", params.URL), zap.Error(err))
		if errors.Is(err, context.DeadlineExceeded) {
			s.writeError(w, http.StatusServiceUnavailable, "job queue is full, retry later")
			return
		}
		s.writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	if !job.Status.Terminal() {
		s.writeJSON(w, http.StatusConflict, map[string]any{
			"error":    "job not finished",
			"status":   job.Status,
			"progress": job.Progress,
		})
		return
	}
	result, err := s.jobStore.GetResult(r.Context(), jobID)
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"job": job, "result": result})
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	err := s.jobStore.UpdateJobStatus(r.Context(), jobID, crawler.StatusUpdate{
		Status:  crawler.JobStatusCanceled,
		Message: "canceled via API",
	})
	if err != nil {
		s.writeStoreError(w, err)
		return
	}
	interrupted := s.dispatcher.Cancel(jobID)
	s.logger.Info("job canceled", zap.String("job_id", jobID), zap.Bool("interrupted", interrupted))
	s.writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      jobID,
		"status":      crawler.JobStatusCanceled,
		"interrupted": interrupted,
	})
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		s.markEnqueueFailed(ctx, jobID, err)
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

// markEnqueueFailed stops a job that was stored but never queued from
// reporting queued forever.
func (s *Server) markEnqueueFailed(ctx context.Context, jobID string, cause error) {
	err := s.jobStore.UpdateJobStatus(context.WithoutCancel(ctx), jobID, crawler.StatusUpdate{
		Status:    crawler.JobStatusFailed,
		Message:   "failed",
		ErrorText: cause.Error(),
	})
	if err != nil {
		s.logger.Error("mark unqueued job failed", zap.String("job_id", jobID), zap.Error(err))
	}
}

func (s *Server) toJobParameters(req harvestRequest) (crawler.JobParameters, error) {
	if err := validateStartURL(req.URL); err != nil {
		return crawler.JobParameters{}, err
	}
	for _, raw := range req.DocumentURLs {
		if err := validateStartURL(raw); err != nil {
			return crawler.JobParameters{}, fmt.Errorf("document_urls: %w", err)
		}
	}
	params := crawler.JobParameters{
		URL:          req.URL,
		DocumentURLs: req.DocumentURLs,
		MaxDepth:     valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		MaxWorkers:   valueOrDefault(req.MaxWorkers, s.cfg.Crawler.MaxWorkersDefault),
		ChunkSize:    valueOrDefault(req.ChunkSize, s.cfg.Chunking.Size),
		Overlap:      valueOrDefault(req.Overlap, s.cfg.Chunking.Overlap),
	}
	switch {
	case params.MaxDepth < 0:
		return crawler.JobParameters{}, errors.New("max_depth must be >= 0")
	case params.MaxWorkers < 0:
		return crawler.JobParameters{}, errors.New("max_workers must be >= 0")
	case params.ChunkSize < 0:
		return crawler.JobParameters{}, errors.New("chunk_size must be >= 0")
	case params.Overlap < 0:
		return crawler.JobParameters{}, errors.New("overlap must be >= 0")
	case params.ChunkSize > 0 && params.Overlap >= params.ChunkSize:
		return crawler.JobParameters{}, errors.New("overlap must be smaller than chunk_size")
	}
	return params, nil
}

func validateStartURL(raw string) error {
	if raw == "" {
		return errors.New("url required")
	}
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid url %q", raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("url %q must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("url %q has no host", raw)
	}
	return nil
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, crawler.ErrJobNotFound):
		s.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, crawler.ErrResultNotFound):
		s.writeError(w, http.StatusConflict, "job finished without a result")
	case errors.Is(err, crawler.ErrJobFinished):
		s.writeError(w, http.StatusConflict, "job already finished")
	default:
		s.logger.Error("job store request failed", zap.Error(err))
		s.writeError(w, http.StatusInternalServerError, "internal server error")
	}
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequestID returns the ID assigned to the request carried by ctx.
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(ww, r)
		s.logger.Info("request completed",
			zap.String("request_id", RequestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.status),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func (s *Server) recoverMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("panic recovered",
					zap.String("request_id", RequestID(r.Context())),
					zap.Any("panic", rec),
				)
				s.writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				_ = writeJSONTo(w, http.StatusForbidden, map[string]string{"error": "unauthorized"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	if err := writeJSONTo(w, status, payload); err != nil {
		s.logger.Error("write JSON failed", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSONTo(w http.ResponseWriter, status int, payload any) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		return fmt.Errorf("encode JSON: %w", err)
	}
	return nil
}
