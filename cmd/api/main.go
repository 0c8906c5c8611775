package main

import (
	"bufio"
	"errors"
	"log"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"geoplan/internal/api"
	"geoplan/internal/metrics"
)

func main() {
	srv, err := api.NewServer()
	if err != nil {
		log.Fatalf("failed to init server: %v", err)
	}
	metrics.RegisterDefault()

	mux := http.NewServeMux()

	// Planning
	mux.HandleFunc("/plan/cities", srv.CitiesHandler)
	mux.HandleFunc("/plan/darkstores", srv.DarkstoresHandler)
	mux.HandleFunc("/plan/insights", srv.InsightsHandler)
	mux.HandleFunc("/plan/render", srv.RenderHandler)
	mux.HandleFunc("/plan/ws", srv.PlanWSHandler)

	// State
	mux.HandleFunc("/state", srv.StateHandler)
	mux.HandleFunc("/state/reset", srv.StateResetHandler)

	// Geocoding proxy
	mux.HandleFunc("/geocode/search", srv.GeocodeHandler)

	// Webhook subscriptions
	mux.HandleFunc("/subscriptions", srv.SubscriptionsHandler)
	mux.HandleFunc("/subscriptions/", srv.SubscriptionByIDHandler)

	// Health
	mux.HandleFunc("/healthz", srv.HealthHandler)
	mux.HandleFunc("/readyz", srv.ReadyHandler)

	// Metrics
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	// Map page + assets
	mux.HandleFunc("/", srv.StaticHandler)

	addr := ":" + srv.Cfg.Port

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           logMiddleware(mux),
		ReadHeaderTimeout: 5 * time.Second,
	}

	log.Printf("plan API listening on %s", addr)
	worker := srv.NewWebhookWorker()
	worker.Start()
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack delegates to the wrapped writer so the websocket upgrade on
// /plan/ws still works behind the middleware.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func logMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		dur := time.Since(start)
		status := strconv.Itoa(rec.status)
		metrics.HTTPRequests.WithLabelValues(r.Method, r.URL.Path, status).Inc()
		metrics.HTTPDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(dur.Seconds())
		log.Printf("%s %s %s %d %v", r.RemoteAddr, r.Method, r.URL.Path, rec.status, dur)
	})
}
