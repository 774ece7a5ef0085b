// Package server implements the firmcheck REST API.
package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/rsclarke/firmcheck/internal/api"
	"github.com/rsclarke/firmcheck/internal/auth"
	"github.com/rsclarke/firmcheck/internal/cache"
	"github.com/rsclarke/firmcheck/internal/db"
	"github.com/rsclarke/firmcheck/internal/domaincheck"
	"github.com/rsclarke/firmcheck/internal/existence"
	"github.com/rsclarke/firmcheck/internal/logging"
)

const (
	maxBodyBytes        = 1 << 16 // 64KB
	maxDomainsPerQuery  = 20
	domainValidateLimit = 4
)

// Checker runs and forgets existence checks.
type Checker interface {
	Check(ctx context.Context, company string, domains ...string) (*existence.Report, error)
	Forget(ctx context.Context, company string, domains ...string) (bool, error)
}

// APIServer handles the REST API. Requests to /v1 are authenticated against
// the API keys in DB; a nil DB leaves the API open.
type APIServer struct {
	Checker   Checker
	Validator existence.DomainValidator
	Cache     *cache.Cache
	DB        *sql.DB
	Metrics   http.Handler
	Logger    *zap.Logger
}

// Handler returns the HTTP handler for the API server.
func (s *APIServer) Handler() http.Handler {
	if s.Logger == nil {
		s.Logger = zap.NewNop()
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(s.logRequests)

	r.Get("/healthz", s.handleHealth)
	if s.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.Metrics)
	}

	r.Route("/v1", func(r chi.Router) {
		if s.DB != nil {
			r.Use(s.AuthMiddleware)
		}
		r.Post("/existence", s.handleCheck)
		r.Post("/domains/validate", s.handleValidateDomains)
		r.Delete("/cache", s.handleClearCache)
		r.Delete("/cache/{namespace}", s.handleClearCache)
	})

	return r
}

// AuthMiddleware requires a valid, unrevoked bearer API key.
func (s *APIServer) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		prefix, _, err := auth.Parse(key)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		stored, err := db.GetAPIKeyByPrefix(r.Context(), s.DB, prefix)
		if err != nil {
			s.Logger.Error("api key lookup failed", zap.Error(err))
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		if stored == nil || stored.RevokedAt != nil || !auth.Verify(key, stored.Hash) {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *APIServer) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.Logger.Debug("request",
			logging.Method(r.Method),
			logging.Path(r.URL.Path),
			logging.Status(ww.Status()),
			logging.RequestID(middleware.GetReqID(r.Context())),
			logging.Duration(time.Since(start)),
		)
	})
}

func (s *APIServer) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, api.HealthResponse{Status: "ok"})
}

func (s *APIServer) handleCheck(w http.ResponseWriter, r *http.Request) {
	var req api.CheckRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.CompanyName) == "" {
		writeError(w, http.StatusBadRequest, "company_name is required")
		return
	}
	if len(req.Domains) > maxDomainsPerQuery {
		writeError(w, http.StatusBadRequest, "too many domains")
		return
	}

	ctx := r.Context()
	if req.Refresh {
		if _, err := s.Checker.Forget(ctx, req.CompanyName, req.Domains...); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	report, err := s.Checker.Check(ctx, req.CompanyName, req.Domains...)
	if errors.Is(err, existence.ErrEmptyCompanyName) {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err != nil {
		s.Logger.Error("existence check failed", logging.Company(req.CompanyName), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "existence check failed")
		return
	}

	writeJSON(w, http.StatusOK, report)
}

func (s *APIServer) handleValidateDomains(w http.ResponseWriter, r *http.Request) {
	var req api.ValidateDomainsRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Domains) == 0 {
		writeError(w, http.StatusBadRequest, "domains is required")
		return
	}
	if len(req.Domains) > maxDomainsPerQuery {
		writeError(w, http.StatusBadRequest, "too many domains")
		return
	}

	results := make([]domaincheck.Validation, len(req.Domains))
	g, ctx := errgroup.WithContext(r.Context())
	g.SetLimit(domainValidateLimit)
	for i, d := range req.Domains {
		g.Go(func() error {
			results[i] = s.Validator.Validate(ctx, d)
			return nil
		})
	}
	_ = g.Wait()

	writeJSON(w, http.StatusOK, api.ValidateDomainsResponse{Results: results})
}

func (s *APIServer) handleClearCache(w http.ResponseWriter, r *http.Request) {
	if s.Cache == nil {
		writeError(w, http.StatusNotFound, "cache disabled")
		return
	}

	namespace := chi.URLParam(r, "namespace")
	var n int
	if namespace == "" {
		n = s.Cache.ClearAll(r.Context())
	} else {
		if _, _, err := cache.Key(namespace, nil); err != nil {
			writeError(w, http.StatusBadRequest, "invalid namespace")
			return
		}
		n = s.Cache.Clear(r.Context(), namespace)
	}

	writeJSON(w, http.StatusOK, api.ClearCacheResponse{Namespace: namespace, Cleared: n})
}

// decodeBody reads a single JSON object of at most 64KB with no unknown
// fields. On failure it writes the error response and returns false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxBytesErr):
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
		case errors.Is(err, io.EOF):
			writeError(w, http.StatusBadRequest, "request body required")
		default:
			writeError(w, http.StatusBadRequest, "invalid JSON")
		}
		return false
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		writeError(w, http.StatusBadRequest, "unexpected trailing data")
		return false
	}
	return true
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, api.ErrorResponse{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(data); err != nil {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
