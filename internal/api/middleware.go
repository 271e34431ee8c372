package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/FairForge/vaultaire-recovery/internal/metrics"
	"github.com/FairForge/vaultaire-recovery/internal/tenant"
)

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(sw, r)

		elapsed := time.Since(start)
		route := routeTemplate(r)
		tenantID := r.Header.Get(TenantHeader)
		s.recorder.ObserveRequest(tenantID, r.Method, route, sw.status, elapsed)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.String("tenant_id", tenantID),
			zap.Int("status", sw.status),
			zap.Duration("latency", elapsed),
		)
	})
}

// tenantMiddleware requires the tenant header and stores it on the context
func (s *Server) tenantMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tenantID := r.Header.Get(TenantHeader)
		if tenantID == "" {
			writeMessage(w, http.StatusBadRequest, "missing "+TenantHeader+" header")
			return
		}
		ctx := tenant.WithTenant(r.Context(), tenant.New(tenantID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func tenantFrom(r *http.Request) string {
	t, err := tenant.FromContext(r.Context())
	if err != nil {
		return ""
	}
	return t.ID
}

// RateLimitMiddleware rejects requests once a tenant's bucket is empty
func RateLimitMiddleware(limiter *RateLimiter, recorder *metrics.Recorder) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			tenantID := r.Header.Get(TenantHeader)
			if tenantID == "" {
				tenantID = "default"
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limiter.Burst()))
			w.Header().Set("X-RateLimit-Reset", fmt.Sprintf("%d", time.Now().Add(time.Second).Unix()))

			if !limiter.Allow(tenantID) {
				if recorder != nil {
					recorder.IncrementRateLimitHit(tenantID)
				}
				writeMessage(w, http.StatusTooManyRequests, "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
