package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"gatewayd/internal/gateway"
	"gatewayd/pkg/types"
)

// Service defines the methods required by the HTTP API layer.
type Service interface {
	Route(ctx context.Context, req types.CompletionRequest) (types.CompletionResult, error)
	Status() types.StatusResponse
	Register(spec types.InstanceSpec) error
	Deregister(id string) error
	Ready() bool
}

// NewMux builds the router with all gateway endpoints.
func NewMux(svc Service) http.Handler {
	r := chi.NewRouter()
	// Basic middlewares: request id, real ip, recoverer
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Compress(5))
	r.Use(MetricsMiddleware)
	// Security headers
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			next.ServeHTTP(w, r)
		})
	})
	if corsEnabled {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: corsAllowedOrigins,
			AllowedMethods: corsAllowedMethods,
			AllowedHeaders: corsAllowedHeaders,
		}))
	}

	r.Post("/v1/completions", func(w http.ResponseWriter, r *http.Request) { handleCompletions(svc, w, r) })

	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Status()); err != nil {
			writeJSONError(w, http.StatusInternalServerError, "failed to encode response")
		}
	})

	r.Post("/instances", func(w http.ResponseWriter, r *http.Request) { handleRegister(svc, w, r) })
	r.Delete("/instances/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if err := svc.Deregister(id); err != nil {
			if gateway.IsUnknownInstance(err) {
				writeJSONError(w, http.StatusNotFound, err.Error())
				return
			}
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if svc.Ready() {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("ready"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte("no healthy instances"))
	})

	// Prometheus metrics endpoint
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	MountSwagger(r)

	return r
}

// handleCompletions godoc
// @Summary      Route a completion request
// @Description  Selects a backend instance, queues when none is free, and returns the completion or a terminal error.
// @Accept       json
// @Produce      json
// @Param        request body types.CompletionRequest true "completion request"
// @Success      200 {object} types.CompletionResult
// @Failure      400 {object} types.ErrorResponse
// @Failure      404 {object} types.ErrorResponse
// @Failure      429 {object} types.ErrorResponse
// @Failure      502 {object} types.ErrorResponse
// @Failure      504 {object} types.ErrorResponse
// @Router       /v1/completions [post]
func handleCompletions(svc Service, w http.ResponseWriter, r *http.Request) {
	ct := r.Header.Get("Content-Type")
	if ct == "" || !strings.HasPrefix(strings.ToLower(ct), "application/json") {
		writeJSONError(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req types.CompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(req.Model) == "" {
		writeJSONError(w, http.StatusBadRequest, "model is required")
		return
	}
	if strings.TrimSpace(req.Prompt) == "" {
		writeJSONError(w, http.StatusBadRequest, "prompt is required")
		return
	}

	start := time.Now()
	lvl := requestLogLevel(r)
	rid := middleware.GetReqID(r.Context())
	if lvl >= LevelInfo && zlog != nil {
		z := zlog.Info().Str("path", r.URL.Path).Str("model", req.Model)
		if rid != "" {
			z = z.Str("request_id", rid)
		}
		z.Msg("route start")
	}

	// Join server base context with request context so shutdown cancels work too.
	joinedCtx, cancel := joinContexts(serverBaseCtx, r.Context())
	defer cancel()

	result, err := svc.Route(joinedCtx, req)
	if err != nil {
		// Client disconnect or shutdown: nothing useful to write.
		if r.Context().Err() != nil || serverBaseCtx.Err() != nil {
			return
		}
		status := statusForError(err)
		writeRouteError(w, status, err)
		if status == http.StatusTooManyRequests {
			IncrementBackpressure("queue_full")
		}
		logRouteEnd(lvl, rid, status, start, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if encErr := json.NewEncoder(w).Encode(result); encErr != nil {
		logRouteEnd(lvl, rid, http.StatusInternalServerError, start, encErr)
		return
	}
	logRouteEnd(lvl, rid, http.StatusOK, start, nil)
}

// handleRegister godoc
// @Summary      Register a backend instance
// @Accept       json
// @Produce      json
// @Param        instance body types.InstanceSpec true "instance spec"
// @Success      201
// @Failure      400 {object} types.ErrorResponse
// @Failure      409 {object} types.ErrorResponse
// @Router       /instances [post]
func handleRegister(svc Service, w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var spec types.InstanceSpec
	if err := json.NewDecoder(r.Body).Decode(&spec); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if strings.TrimSpace(spec.ID) == "" || strings.TrimSpace(spec.Model) == "" || strings.TrimSpace(spec.Endpoint) == "" {
		writeJSONError(w, http.StatusBadRequest, "id, model and endpoint are required")
		return
	}
	if err := svc.Register(spec); err != nil {
		if gateway.IsDuplicateInstance(err) {
			writeJSONError(w, http.StatusConflict, err.Error())
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusCreated)
}

// statusForError maps gateway error types to HTTP status codes.
func statusForError(err error) int {
	switch {
	case gateway.IsQueueFull(err):
		return http.StatusTooManyRequests
	case gateway.IsTimeout(err):
		return http.StatusGatewayTimeout
	case gateway.IsAllAttemptsFailed(err):
		return http.StatusBadGateway
	case gateway.IsUnknownModel(err), gateway.IsUnknownInstance(err):
		return http.StatusNotFound
	case gateway.IsDuplicateInstance(err):
		return http.StatusConflict
	default:
		if he, ok := err.(HTTPError); ok {
			return he.StatusCode()
		}
		return http.StatusInternalServerError
	}
}

func logRouteEnd(lvl LogLevel, rid string, status int, start time.Time, err error) {
	if lvl < LevelInfo || zlog == nil {
		return
	}
	z := zlog.Info().Int("status", status).Dur("dur", time.Since(start))
	if rid != "" {
		z = z.Str("request_id", rid)
	}
	if err != nil {
		z = z.Err(err)
	}
	z.Msg("route end")
}
