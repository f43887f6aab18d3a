package api

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/punchamoorthee/walletledger/internal/logging"
	"github.com/punchamoorthee/walletledger/internal/metrics"
	"github.com/sirupsen/logrus"
)

// UserIDHeader carries the caller identity established by the gateway.
const UserIDHeader = "X-User-ID"

type ctxKey struct{}

func withUser(ctx context.Context, id uuid.UUID) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

func userFrom(ctx context.Context) uuid.UUID {
	id, _ := ctx.Value(ctxKey{}).(uuid.UUID)
	return id
}

// requireUser rejects requests without a valid caller identity.
func requireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(r.Header.Get(UserIDHeader))
		if err != nil || id == uuid.Nil {
			respondError(w, http.StatusUnauthorized, "UNAUTHENTICATED", "missing or invalid "+UserIDHeader)
			return
		}
		next.ServeHTTP(w, r.WithContext(withUser(r.Context(), id)))
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (s *statusWriter) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrument records request count and latency by route template.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		metrics.ObserveHTTP(r.Method, endpoint, sw.status, time.Since(start))
	})
}

// NewRouter wires every route. A nil limiter leaves writes unthrottled.
func NewRouter(h *Handler, limiter *RateLimiter, log logrus.FieldLogger) *mux.Router {
	r := mux.NewRouter()
	r.Use(logging.Middleware(log))
	r.Use(instrument)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.Use(requireUser)
	v1.Handle("/donations", throttle(limiter, h.CreateDonation)).Methods(http.MethodPost)
	v1.HandleFunc("/donations", h.ListDonations).Methods(http.MethodGet)
	v1.HandleFunc("/donations/count", h.CountDonations).Methods(http.MethodGet)
	v1.HandleFunc("/donations/{id}", h.GetDonation).Methods(http.MethodGet)
	v1.HandleFunc("/donations/{id}/transaction", h.GetDonationTransaction).Methods(http.MethodGet)
	v1.Handle("/wallets/fund", throttle(limiter, h.FundWallet)).Methods(http.MethodPost)
	v1.HandleFunc("/wallets/me", h.GetWallet).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/me/entries", h.ListEntries).Methods(http.MethodGet)
	v1.HandleFunc("/wallets/me/audit", h.AuditWallet).Methods(http.MethodGet)

	return r
}

func throttle(limiter *RateLimiter, fn http.HandlerFunc) http.Handler {
	if limiter == nil {
		return fn
	}
	return limiter.Middleware(fn)
}
